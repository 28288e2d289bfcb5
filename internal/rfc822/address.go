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

package rfc822

import (
	"mime"
	"net/mail"
	"strings"
)

// Address is a single RFC 5322 mailbox.
//
// Group-start sentinels carry the group display name in Mailbox and have
// Group set; the matching end sentinel has an empty Mailbox and Group set.
type Address struct {
	// addr-spec ("user@example.org") or the group name for a group-start
	// sentinel.
	Mailbox string
	// Display phrase, already RFC 2047 decoded.
	Personal string
	Group    bool
}

func (a Address) IsGroupStart() bool {
	return a.Group && a.Mailbox != ""
}

func (a Address) IsGroupEnd() bool {
	return a.Group && a.Mailbox == ""
}

// String formats the address for transmission. The personal phrase is
// RFC 2047 encoded when it contains non-ASCII characters and quoted when it
// contains specials.
func (a Address) String() string {
	if a.Group {
		if a.Mailbox == "" {
			return ";"
		}
		return formatPhrase(a.Mailbox) + ":"
	}
	if a.Personal == "" {
		return "<" + a.Mailbox + ">"
	}
	return formatPhrase(a.Personal) + " <" + a.Mailbox + ">"
}

func formatPhrase(s string) string {
	if !isASCII(s) {
		return mime.QEncoding.Encode("utf-8", s)
	}
	if strings.ContainsAny(s, `()<>[]:;@\,."`) {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// AddressList is an ordered sequence of addresses. Order is significant and
// preserved on serialization. Duplicates may exist; Dedupe removes them
// explicitly.
type AddressList []Address

// ParseAddressList parses a structured address header value.
//
// Group syntax is handled by emitting start/end sentinels around the group
// members. RFC 2047 encoded-words in display phrases are decoded after
// splitting, so addresses are never split inside a Q-encoded comma.
func ParseAddressList(raw string) (AddressList, error) {
	var out AddressList

	toks, err := splitAddressList(raw)
	if err != nil {
		return nil, err
	}

	for _, tok := range toks {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		if name, rest, ok := splitGroup(tok); ok {
			out = append(out, Address{Mailbox: decodeWords(name), Group: true})
			if rest != "" {
				members, err := ParseAddressList(rest)
				if err != nil {
					return nil, err
				}
				out = append(out, members...)
			}
			out = append(out, Address{Group: true})
			continue
		}

		addr, err := parseSingle(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}

	return out, nil
}

// splitAddressList splits a header value on top-level commas, ignoring
// commas inside quoted strings, comments and angle brackets. Group bodies
// (":" up to ";") stay attached to their display name.
func splitAddressList(raw string) ([]string, error) {
	var (
		toks    []string
		start   int
		quoted  bool
		comment int
		angle   bool
		group   bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\' && (quoted || comment > 0):
			i++
		case quoted:
			if c == '"' {
				quoted = false
			}
		case comment > 0:
			switch c {
			case '(':
				comment++
			case ')':
				comment--
			}
		case c == '"':
			quoted = true
		case c == '(':
			comment++
		case c == '<':
			angle = true
		case c == '>':
			angle = false
		case c == ':' && !angle:
			group = true
		case c == ';' && !angle:
			group = false
		case c == ',' && !angle && !group:
			toks = append(toks, raw[start:i])
			start = i + 1
		}
	}
	if quoted || comment > 0 {
		return nil, &Error{Kind: ErrHeader, Desc: "unterminated quote or comment in address list"}
	}
	toks = append(toks, raw[start:])
	return toks, nil
}

// splitGroup detects RFC 5322 group syntax "phrase : mailbox-list ;" and
// returns the phrase and the member list.
func splitGroup(tok string) (name, members string, ok bool) {
	var quoted bool
	var angle bool
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c == '\\' && quoted:
			i++
		case quoted:
			if c == '"' {
				quoted = false
			}
		case c == '"':
			quoted = true
		case c == '<':
			angle = true
		case c == '>':
			angle = false
		case c == ':' && !angle:
			rest := strings.TrimSpace(tok[i+1:])
			rest = strings.TrimSuffix(rest, ";")
			return strings.TrimSpace(tok[:i]), rest, true
		}
	}
	return "", "", false
}

func parseSingle(tok string) (Address, error) {
	parsed, err := mail.ParseAddress(tok)
	if err == nil {
		return Address{Mailbox: parsed.Address, Personal: decodeWords(parsed.Name)}, nil
	}

	// Tolerate bare specs net/mail chokes on (missing domain, trailing
	// comments with 8-bit text). The display phrase is whatever precedes
	// the angle bracket.
	if lt := strings.IndexByte(tok, '<'); lt >= 0 {
		gt := strings.IndexByte(tok[lt:], '>')
		if gt < 0 {
			return Address{}, &Error{Kind: ErrHeader, Desc: "unterminated angle bracket", Cause: err}
		}
		spec := tok[lt+1 : lt+gt]
		phrase := strings.Trim(strings.TrimSpace(tok[:lt]), `"`)
		return Address{Mailbox: spec, Personal: decodeWords(phrase)}, nil
	}
	spec := tok
	if i := strings.IndexByte(spec, '('); i >= 0 {
		spec = strings.TrimSpace(spec[:i])
	}
	if spec == "" {
		return Address{}, &Error{Kind: ErrHeader, Desc: "empty address", Cause: err}
	}
	return Address{Mailbox: spec}, nil
}

// String serializes the list for transmission, preserving order and group
// structure.
func (al AddressList) String() string {
	var b strings.Builder
	needComma := false
	for _, a := range al {
		if a.IsGroupEnd() {
			b.WriteString(";")
			needComma = true
			continue
		}
		if needComma {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
		needComma = !a.IsGroupStart()
	}
	return b.String()
}

// Dedupe removes addresses whose mailbox already appeared earlier in the
// list (case-insensitive). Group sentinels are never removed.
func (al AddressList) Dedupe() AddressList {
	seen := make(map[string]struct{}, len(al))
	out := make(AddressList, 0, len(al))
	for _, a := range al {
		if !a.Group {
			key := strings.ToLower(a.Mailbox)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, a)
	}
	return out
}

// Mailboxes returns the addr-specs of all real members, skipping group
// sentinels.
func (al AddressList) Mailboxes() []string {
	var out []string
	for _, a := range al {
		if a.Group {
			continue
		}
		out = append(out, a.Mailbox)
	}
	return out
}

// Empty reports whether the list has no real member addresses.
func (al AddressList) Empty() bool {
	for _, a := range al {
		if !a.Group {
			return false
		}
	}
	return true
}
