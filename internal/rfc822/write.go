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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Header lines are folded at SoftLineLimit where possible and split
// unconditionally at HardLineLimit.
const (
	SoftLineLimit = 78
	HardLineLimit = 998
)

// WriteOptions control serialization.
type WriteOptions struct {
	// Include the Bcc header (Fcc copies and postponed drafts want it,
	// transmitted copies do not).
	IncludeBcc bool
	// Emit a blank Subject header even when empty.
	KeepEmptySubject bool
}

// WriteMessage serializes the Email to w.
//
// Leaves carrying a LocalFile are read from disk and transfer-encoded
// according to their Encoding; leaves without one are copied verbatim
// (already encoded) from src, delimited by their Offset/Length. Container
// boundaries must have been chosen beforehand (see PrepareSend), except
// that a container without a boundary parameter gets one here.
func WriteMessage(w io.Writer, e *Email, src io.ReadSeeker, opts WriteOptions) error {
	bw := bufio.NewWriter(w)

	if err := writeEnvelope(bw, e.Envelope, opts); err != nil {
		return err
	}
	if err := ensureBoundaries(e.Content, src); err != nil {
		return err
	}
	if _, err := bw.WriteString("MIME-Version: 1.0\n"); err != nil {
		return ioErr(err)
	}
	if err := writeMIMEHeader(bw, e.Content); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return ioErr(err)
	}
	if err := writeContent(&nlWriter{w: bw}, e.Content, src); err != nil {
		return err
	}
	return ioErr2(bw.Flush())
}

// nlWriter tracks the last byte written so boundary lines always start on
// a fresh line without doubling newlines the content already has.
type nlWriter struct {
	w    *bufio.Writer
	last byte
}

func (nw *nlWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		nw.last = p[len(p)-1]
	}
	return nw.w.Write(p)
}

func (nw *nlWriter) writeString(s string) error {
	_, err := nw.Write([]byte(s))
	return err
}

func (nw *nlWriter) freshLine() error {
	if nw.last != '\n' && nw.last != 0 {
		return nw.writeString("\n")
	}
	return nil
}

func writeEnvelope(bw *bufio.Writer, env *Envelope, opts WriteOptions) error {
	if env == nil {
		return nil
	}
	put := func(name, value string) error {
		if value == "" {
			return nil
		}
		return foldHeader(bw, name, value)
	}
	addr := func(name string, al AddressList) error {
		if len(al) == 0 {
			return nil
		}
		return foldHeader(bw, name, al.String())
	}

	if err := put("Date", env.Date); err != nil {
		return err
	}
	if err := addr("From", env.From); err != nil {
		return err
	}
	if err := addr("Sender", env.Sender); err != nil {
		return err
	}
	if err := addr("To", env.To); err != nil {
		return err
	}
	if err := addr("Cc", env.Cc); err != nil {
		return err
	}
	if opts.IncludeBcc {
		if err := addr("Bcc", env.Bcc); err != nil {
			return err
		}
	}
	if err := addr("Reply-To", env.ReplyTo); err != nil {
		return err
	}
	if err := addr("Mail-Followup-To", env.MailFollowupTo); err != nil {
		return err
	}
	if err := put("Newsgroups", env.Newsgroups); err != nil {
		return err
	}
	if err := put("Followup-To", env.FollowupTo); err != nil {
		return err
	}
	if err := put("X-Comment-To", EncodeHeader(env.XCommentTo)); err != nil {
		return err
	}
	if env.Subject != "" || opts.KeepEmptySubject {
		if err := foldHeader(bw, "Subject", EncodeHeader(env.Subject)); err != nil {
			return err
		}
	}
	if err := put("Message-ID", env.MessageID); err != nil {
		return err
	}
	if err := put("In-Reply-To", strings.Join(env.InReplyTo, " ")); err != nil {
		return err
	}
	// References are emitted oldest first, the order they are stored in.
	if err := put("References", strings.Join(env.References, " ")); err != nil {
		return err
	}
	if err := put("Organization", EncodeHeader(env.Organization)); err != nil {
		return err
	}
	if err := put("X-Label", EncodeHeader(env.XLabel)); err != nil {
		return err
	}
	for _, uh := range env.UserHeaders {
		name, value, ok := strings.Cut(uh, ":")
		if !ok {
			continue
		}
		if err := foldHeader(bw, strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

func writeMIMEHeader(bw *bufio.Writer, b *Body) error {
	var ct strings.Builder
	ct.WriteString(b.ContentType())
	for _, p := range b.Params {
		ct.WriteString(";")
		ct.WriteString(formatParam(p.Attribute, p.Value))
	}
	if err := foldHeader(bw, "Content-Type", ct.String()); err != nil {
		return err
	}

	if b.Description != "" {
		if err := foldHeader(bw, "Content-Description", EncodeHeader(b.Description)); err != nil {
			return err
		}
	}
	if b.Language != "" {
		if err := foldHeader(bw, "Content-Language", b.Language); err != nil {
			return err
		}
	}

	if b.Disposition != DispNone {
		var cd strings.Builder
		cd.WriteString(b.Disposition.String())
		if b.Filename != "" {
			cd.WriteString(";")
			cd.WriteString(formatParam("filename", b.Filename))
		}
		if err := foldHeader(bw, "Content-Disposition", cd.String()); err != nil {
			return err
		}
	}

	if b.Encoding != Enc7Bit {
		if err := foldHeader(bw, "Content-Transfer-Encoding", b.Encoding.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeContent(nw *nlWriter, b *Body, src io.ReadSeeker) error {
	if b.Type == TypeMultipart {
		boundary, _ := b.Params.Get("boundary")
		var hdr bytes.Buffer
		for _, child := range b.Parts {
			if err := nw.writeString(fmt.Sprintf("--%s\n", boundary)); err != nil {
				return ioErr(err)
			}
			hdr.Reset()
			hdrW := bufio.NewWriter(&hdr)
			if err := writeMIMEHeader(hdrW, child); err != nil {
				return err
			}
			if err := hdrW.Flush(); err != nil {
				return ioErr(err)
			}
			if _, err := nw.Write(hdr.Bytes()); err != nil {
				return ioErr(err)
			}
			if err := nw.writeString("\n"); err != nil {
				return ioErr(err)
			}
			if err := writeContent(nw, child, src); err != nil {
				return err
			}
			if err := nw.freshLine(); err != nil {
				return ioErr(err)
			}
		}
		if err := nw.writeString(fmt.Sprintf("--%s--\n", boundary)); err != nil {
			return ioErr(err)
		}
		return nil
	}

	if b.LocalFile != "" {
		f, err := os.Open(b.LocalFile)
		if err != nil {
			return ioErr(err)
		}
		defer f.Close()
		return EncodeBody(nw, f, b.Encoding, b.Type == TypeText)
	}

	if src == nil || b.Length <= 0 {
		return nil
	}
	if _, err := src.Seek(b.Offset, io.SeekStart); err != nil {
		return ioErr(err)
	}
	if _, err := io.Copy(nw, io.LimitReader(src, b.Length)); err != nil {
		return ioErr(err)
	}
	return nil
}

// ensureBoundaries gives every multipart container a boundary that does
// not collide with its descendants' bytes.
func ensureBoundaries(b *Body, src io.ReadSeeker) error {
	if b == nil {
		return nil
	}
	if b.Type == TypeMultipart {
		if bound, ok := b.Params.Get("boundary"); !ok || bound == "" {
			bound, err := chooseBoundary(b, src)
			if err != nil {
				return err
			}
			b.Params.Set("boundary", bound)
		}
	}
	for _, child := range b.Parts {
		if err := ensureBoundaries(child, src); err != nil {
			return err
		}
	}
	return nil
}

func chooseBoundary(b *Body, src io.ReadSeeker) (string, error) {
	for {
		candidate := uuid.New().String()
		collides, err := boundaryCollides(b, src, candidate)
		if err != nil {
			return "", err
		}
		if !collides {
			return candidate, nil
		}
	}
}

// boundaryCollides reports whether "--candidate" occurs at the start of a
// line in any descendant's bytes.
func boundaryCollides(b *Body, src io.ReadSeeker, candidate string) (bool, error) {
	needle := []byte("--" + candidate)
	for _, child := range b.Parts {
		var content []byte
		switch {
		case child.LocalFile != "":
			data, err := os.ReadFile(child.LocalFile)
			if err != nil {
				return false, ioErr(err)
			}
			content = data
		case src != nil && child.Length > 0:
			if _, err := src.Seek(child.Offset, io.SeekStart); err != nil {
				return false, ioErr(err)
			}
			data := make([]byte, child.Length)
			if _, err := io.ReadFull(src, data); err != nil && err != io.ErrUnexpectedEOF {
				return false, ioErr(err)
			}
			content = data
		}
		if lineHasPrefix(content, needle) {
			return true, nil
		}
		sub, err := boundaryCollides(child, src, candidate)
		if err != nil || sub {
			return sub, err
		}
	}
	return false, nil
}

func lineHasPrefix(content, needle []byte) bool {
	if len(content) == 0 {
		return false
	}
	if bytes.HasPrefix(content, needle) {
		return true
	}
	return bytes.Contains(content, append([]byte{'\n'}, needle...))
}

// foldHeader emits "Name: value" folded to SoftLineLimit columns at
// whitespace, splitting unconditionally at HardLineLimit octets.
func foldHeader(bw *bufio.Writer, name, value string) error {
	col := len(name) + 2
	if _, err := bw.WriteString(name); err != nil {
		return ioErr(err)
	}
	if _, err := bw.WriteString(": "); err != nil {
		return ioErr(err)
	}

	words := strings.Fields(value)
	for i, word := range words {
		need := len(word)
		if i > 0 {
			need++
		}
		if i > 0 && col+need > SoftLineLimit {
			if _, err := bw.WriteString("\n\t"); err != nil {
				return ioErr(err)
			}
			col = 1
		} else if i > 0 {
			if err := bw.WriteByte(' '); err != nil {
				return ioErr(err)
			}
			col++
		}
		// A single word longer than the hard cap is split mid-token.
		for col+len(word) > HardLineLimit {
			take := HardLineLimit - col
			if _, err := bw.WriteString(word[:take]); err != nil {
				return ioErr(err)
			}
			word = word[take:]
			if _, err := bw.WriteString("\n\t"); err != nil {
				return ioErr(err)
			}
			col = 1
		}
		if _, err := bw.WriteString(word); err != nil {
			return ioErr(err)
		}
		col += len(word)
	}
	return ioErr2(bw.WriteByte('\n'))
}

// formatParam renders one MIME parameter, switching to RFC 2231 extended
// syntax when the value carries non-ASCII bytes or exceeds what fits on a
// folded line.
func formatParam(attribute, value string) string {
	if isASCII(value) && len(value) <= 76 {
		if paramNeedsQuoting(value) {
			return fmt.Sprintf(" %s=%q", attribute, value)
		}
		return fmt.Sprintf(" %s=%s", attribute, value)
	}

	// RFC 2231: charset''percent-encoded, split into numbered chunks.
	var encoded strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c <= 32 || c >= 127 || strings.IndexByte("*'%()<>@,;:\\\"/[]?=", c) >= 0 {
			fmt.Fprintf(&encoded, "%%%02X", c)
		} else {
			encoded.WriteByte(c)
		}
	}
	full := encoded.String()

	const chunkLen = 64
	if len(full) <= chunkLen {
		return fmt.Sprintf(" %s*=utf-8''%s", attribute, full)
	}
	var out strings.Builder
	n := 0
	for start := 0; start < len(full); {
		end := start + chunkLen
		if end > len(full) {
			end = len(full)
		}
		// Never split inside a percent-escape.
		for end < len(full) && (full[end-1] == '%' || (end >= 2 && full[end-2] == '%')) {
			end--
		}
		if n > 0 {
			out.WriteString(";")
		}
		if n == 0 {
			fmt.Fprintf(&out, " %s*%d*=utf-8''%s", attribute, n, full[start:end])
		} else {
			fmt.Fprintf(&out, " %s*%d*=%s", attribute, n, full[start:end])
		}
		n++
		start = end
	}
	return out.String()
}

func paramNeedsQuoting(value string) bool {
	if value == "" {
		return true
	}
	return strings.ContainsAny(value, " \t()<>@,;:\\\"/[]?=")
}
