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
	"bufio"
	"bytes"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// MaxPartDepth bounds multipart nesting on parse.
const MaxPartDepth = 20

// MaxBoundaryLen is the RFC 2046 limit on boundary length.
const MaxBoundaryLen = 70

// ReadMessage parses the message starting at the current position of r and
// extending to EOF into an Email with a fully populated MIME tree.
func ReadMessage(r io.ReadSeeker) (*Email, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, ioErr(err)
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, ioErr(err)
	}

	env, body, err := parseEntity(r, start, end, 0, "")
	if err != nil {
		return nil, err
	}

	email := NewEmail()
	email.Envelope = env
	email.Content = body
	email.Size = end - start
	return email, nil
}

// ParseParts fills in the children of an already-parsed container Body
// whose Offset/Length delimit the bytes of interest. Used by backends that
// parse headers and bodies in separate passes.
func ParseParts(r io.ReadSeeker, b *Body) error {
	if !b.IsContainer() {
		return nil
	}
	return parseStructure(r, b, nil, 0)
}

// lineReader reads LF-terminated lines while tracking byte offsets. A
// trailing CR is stripped; bare CR bytes inside a line are kept.
type lineReader struct {
	br  *bufio.Reader
	off int64
	end int64
}

func newLineReader(r io.ReadSeeker, start, end int64) (*lineReader, error) {
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}
	return &lineReader{br: bufio.NewReader(io.LimitReader(r, end-start)), off: start, end: end}, nil
}

// next returns the line content (terminators stripped), its starting
// offset, and the offset just past its terminator. io.EOF is returned with
// an empty final line.
func (lr *lineReader) next() (line []byte, start, after int64, err error) {
	start = lr.off
	raw, err := lr.br.ReadBytes('\n')
	lr.off += int64(len(raw))
	after = lr.off
	if len(raw) == 0 {
		return nil, start, after, io.EOF
	}
	line = raw
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	// A final chunk without a newline is still a line.
	if err == io.EOF && len(raw) > 0 {
		err = nil
	}
	return line, start, after, err
}

// parseEntity parses one header block plus body in [start, end).
// defSubtype overrides the default content type for multipart/digest
// children.
func parseEntity(r io.ReadSeeker, start, end int64, depth int, defSubtype string) (*Envelope, *Body, error) {
	if depth > MaxPartDepth {
		return nil, nil, &Error{Kind: ErrDepth, Desc: "multipart nesting too deep"}
	}

	hdr, bodyOff, err := readHeaderBlock(r, start, end)
	if err != nil {
		return nil, nil, err
	}

	env := parseEnvelope(hdr)
	b := bodyFromHeader(hdr, defSubtype)
	b.HeaderOffset = start
	b.Offset = bodyOff
	b.Length = end - bodyOff

	if err := parseStructure(r, b, env, depth); err != nil {
		return nil, nil, err
	}
	return env, b, nil
}

func parseStructure(r io.ReadSeeker, b *Body, env *Envelope, depth int) error {
	switch {
	case b.Type == TypeMultipart:
		if err := parseMultipart(r, b, depth); err != nil {
			return err
		}
	case b.IsMessage():
		if b.Length <= 0 {
			break
		}
		subEnv, subBody, err := parseEntity(r, b.Offset, b.Offset+b.Length, depth+1, "")
		if err != nil {
			return err
		}
		b.Envelope = subEnv
		b.Parts = []*Body{subBody}
	}
	return nil
}

// readHeaderBlock consumes folded header lines until the blank separator
// line and decodes them into a textproto.Header. The returned offset is
// the first byte of the body.
func readHeaderBlock(r io.ReadSeeker, start, end int64) (textproto.Header, int64, error) {
	lr, err := newLineReader(r, start, end)
	if err != nil {
		return textproto.Header{}, 0, err
	}

	var block bytes.Buffer
	bodyOff := end
	sawFrom := false
	first := true
	for {
		line, _, after, err := lr.next()
		if err == io.EOF {
			bodyOff = after
			break
		}
		if err != nil {
			return textproto.Header{}, 0, ioErr(err)
		}
		if len(line) == 0 {
			bodyOff = after
			break
		}
		// An mbox separator before the headers is skipped, not stored.
		if first && !sawFrom && bytes.HasPrefix(line, []byte("From ")) {
			sawFrom = true
			continue
		}
		first = false
		block.Write(line)
		block.WriteString("\r\n")
	}

	hdr, err := textproto.ReadHeader(bufio.NewReader(&block))
	if err != nil {
		return textproto.Header{}, 0, &Error{Kind: ErrHeader, Desc: "corrupt header block", Cause: err}
	}
	return hdr, bodyOff, nil
}

func parseEnvelope(hdr textproto.Header) *Envelope {
	env := NewEnvelope()

	addr := func(name string, dst *AddressList) {
		raw := hdr.Get(name)
		if raw == "" {
			return
		}
		list, err := ParseAddressList(raw)
		if err != nil {
			// A single bad address header does not fail the message.
			return
		}
		*dst = append(*dst, list...)
	}
	addr("From", &env.From)
	addr("Sender", &env.Sender)
	addr("To", &env.To)
	addr("Cc", &env.Cc)
	addr("Bcc", &env.Bcc)
	addr("Reply-To", &env.ReplyTo)
	addr("Mail-Followup-To", &env.MailFollowupTo)
	addr("X-Original-To", &env.XOriginalTo)

	env.SetSubject(DecodeHeader(hdr.Get("Subject")))

	if ids := ParseMsgIDList(hdr.Get("Message-Id")); len(ids) > 0 {
		env.MessageID = ids[0]
	}
	env.References = ParseMsgIDList(hdr.Get("References"))
	env.InReplyTo = ParseMsgIDList(hdr.Get("In-Reply-To"))

	env.Date = strings.TrimSpace(hdr.Get("Date"))
	if env.Date != "" {
		if t, err := mail.ParseDate(env.Date); err == nil {
			env.DateParsed = t
		}
	}

	env.Newsgroups = strings.TrimSpace(hdr.Get("Newsgroups"))
	env.FollowupTo = strings.TrimSpace(hdr.Get("Followup-To"))
	env.XCommentTo = DecodeHeader(strings.TrimSpace(hdr.Get("X-Comment-To")))
	env.XLabel = DecodeHeader(strings.TrimSpace(hdr.Get("X-Label")))
	env.Organization = DecodeHeader(strings.TrimSpace(hdr.Get("Organization")))

	return env
}

func bodyFromHeader(hdr textproto.Header, defSubtype string) *Body {
	b := NewBody()
	// Parsed parts without an explicit disposition have none; DispAttach
	// is a compose-side default only.
	b.Disposition = DispNone
	if defSubtype != "" {
		b.Type = TypeMessage
		b.Subtype = defSubtype
	}

	if ct := hdr.Get("Content-Type"); ct != "" {
		token, params := parseHeaderWithParams(ct)
		primary, sub, _ := strings.Cut(token, "/")
		b.Type = ParseBodyType(primary)
		if b.Type == TypeOther {
			b.XType = primary
		}
		b.Subtype = strings.ToLower(strings.TrimSpace(sub))
		if b.Subtype == "" {
			// Historical default for a bare "text" token.
			b.Subtype = "plain"
		}
		b.Params = params
		if name, ok := params.Get("name"); ok && b.Filename == "" {
			b.Filename = decodeWords(name)
		}
	}

	if cd := hdr.Get("Content-Disposition"); cd != "" {
		token, params := parseHeaderWithParams(cd)
		b.Disposition = ParseDisposition(token)
		if fn, ok := params.Get("filename"); ok {
			b.Filename = decodeWords(fn)
		}
	}

	b.Encoding = ParseEncoding(hdr.Get("Content-Transfer-Encoding"))
	b.Description = DecodeHeader(strings.TrimSpace(hdr.Get("Content-Description")))
	b.Language = strings.TrimSpace(hdr.Get("Content-Language"))

	return b
}

func parseMultipart(r io.ReadSeeker, b *Body, depth int) error {
	boundary, ok := b.Params.Get("boundary")
	if !ok || boundary == "" {
		return brokenMultipart(b)
	}
	if len(boundary) > MaxBoundaryLen {
		return &Error{Kind: ErrBoundary, Desc: "boundary exceeds 70 octets"}
	}

	delim := []byte("--" + boundary)
	end := b.Offset + b.Length

	lr, err := newLineReader(r, b.Offset, end)
	if err != nil {
		return err
	}

	defSubtype := ""
	if b.Subtype == "digest" {
		defSubtype = "rfc822"
	}

	type region struct{ start, end int64 }
	var regions []region
	partStart := int64(-1)
	closed := false
	for {
		line, lineStart, after, err := lr.next()
		if err == io.EOF {
			if partStart >= 0 && !closed {
				regions = append(regions, region{partStart, end})
			}
			break
		}
		if err != nil {
			return ioErr(err)
		}
		kind := boundaryKind(line, delim)
		if kind == 0 {
			continue
		}
		if partStart >= 0 {
			regions = append(regions, region{partStart, lineStart})
		}
		if kind == 2 {
			// Trailing text after the closing boundary is discarded.
			closed = true
			partStart = -1
			break
		}
		partStart = after
	}

	if len(regions) == 0 {
		return brokenMultipart(b)
	}

	for _, reg := range regions {
		_, child, err := parseEntity(r, reg.start, reg.end, depth+1, defSubtype)
		if err != nil {
			return err
		}
		b.Parts = append(b.Parts, child)
	}
	return nil
}

// boundaryKind classifies a line: 0 not a boundary, 1 separator, 2 final.
// The match is octet-exact on the delimiter; trailing whitespace is
// allowed per RFC 2046.
func boundaryKind(line, delim []byte) int {
	if !bytes.HasPrefix(line, delim) {
		return 0
	}
	rest := line[len(delim):]
	kind := 1
	if bytes.HasPrefix(rest, []byte("--")) {
		kind = 2
		rest = rest[2:]
	}
	if len(bytes.TrimRight(rest, " \t")) != 0 {
		return 0
	}
	return kind
}

// brokenMultipart applies the salvage policy: a multipart without a
// usable boundary gets a single pseudo-child spanning the whole body.
func brokenMultipart(b *Body) error {
	child := NewBody()
	child.Offset = b.Offset
	child.Length = b.Length
	child.Description = "broken multipart"
	b.Parts = []*Body{child}
	return nil
}

// CountLines reports the number of lines in the region of the stream
// covered by b.
func CountLines(r io.ReadSeeker, b *Body) (int, error) {
	lr, err := newLineReader(r, b.Offset, b.Offset+b.Length)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, _, _, err := lr.next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, ioErr(err)
		}
		n++
	}
}
