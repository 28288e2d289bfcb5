/*
Curlew Mail Client - Console mail client core.
Copyright © 2021-2024 The Curlew Mail Client contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// curlew-dump is a debugging utility: it parses a message file with the
// core engine and prints its MIME structure or decoded envelope.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

func main() {
	app := &cli.App{
		Name:  "curlew-dump",
		Usage: "inspect the MIME structure of a message file",
		Commands: []*cli.Command{
			{
				Name:      "structure",
				Usage:     "print the MIME tree of a message",
				ArgsUsage: "FILE",
				Action:    dumpStructure,
			},
			{
				Name:      "envelope",
				Usage:     "print the decoded envelope of a message",
				ArgsUsage: "FILE",
				Action:    dumpEnvelope,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFile(ctx *cli.Context) (*rfc822.Email, error) {
	if ctx.NArg() != 1 {
		return nil, cli.Exit("exactly one message file is required", 2)
	}
	f, err := os.Open(ctx.Args().First())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rfc822.ReadMessage(f)
}

func dumpStructure(ctx *cli.Context) error {
	email, err := parseFile(ctx)
	if err != nil {
		return err
	}
	printBody(email.Content, 0)
	return nil
}

func printBody(b *rfc822.Body, depth int) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%s, %s", indent, b.ContentType(), b.Encoding)
	if cs := b.Charset(); cs != "" {
		line += ", charset=" + cs
	}
	if b.Filename != "" {
		line += fmt.Sprintf(", filename=%q", b.Filename)
	}
	if b.Description != "" {
		line += fmt.Sprintf(", %q", b.Description)
	}
	fmt.Printf("%s [%d..%d]\n", line, b.Offset, b.Offset+b.Length)
	for _, child := range b.Parts {
		printBody(child, depth+1)
	}
}

func dumpEnvelope(ctx *cli.Context) error {
	email, err := parseFile(ctx)
	if err != nil {
		return err
	}
	env := email.Envelope

	put := func(name, value string) {
		if value != "" {
			fmt.Printf("%-16s %s\n", name+":", value)
		}
	}
	put("Date", env.Date)
	put("From", env.From.String())
	put("To", env.To.String())
	put("Cc", env.Cc.String())
	put("Reply-To", env.ReplyTo.String())
	put("Subject", env.Subject)
	put("Real subject", env.RealSubject)
	put("Message-ID", env.MessageID)
	put("In-Reply-To", strings.Join(env.InReplyTo, " "))
	put("References", strings.Join(env.References, " "))
	put("Newsgroups", env.Newsgroups)
	put("Followup-To", env.FollowupTo)
	put("Organization", env.Organization)
	put("X-Label", env.XLabel)
	return nil
}
