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

// Package transport hands finished messages to the outside world.
package transport

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/curlew-mail/curlew/framework/log"
)

// Sendmail pipes the message into a local MTA binary, sendmail
// convention: recipients as argv, message on stdin.
type Sendmail struct {
	// Path of the binary, e.g. /usr/sbin/sendmail.
	Path string
	// Extra arguments placed before the recipients ("-oem -oi" style).
	Args []string

	Log log.Logger
}

func (t *Sendmail) Send(from string, recipients []string, message []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("transport: no recipients")
	}
	args := append([]string{}, t.Args...)
	if from != "" {
		args = append(args, "-f", from)
	}
	args = append(args, "--")
	args = append(args, recipients...)

	cmd := exec.Command(t.Path, args...)
	cmd.Stdin = bytes.NewReader(message)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.Log.DebugMsg("invoking sendmail", "path", t.Path, "rcpts", len(recipients))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("transport: %s failed: %w (%s)", t.Path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
