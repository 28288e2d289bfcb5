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
	"encoding/base64"
	"fmt"
	"io"

	"github.com/emersion/go-textwrapper"
)

// EncodeQuotedPrintable writes r to w in quoted-printable form.
//
// Beyond RFC 2045 this escapes the first byte of lines that begin with
// "From "/"from " and of lines consisting of a single dot, so the output
// survives mbox storage and dot-terminated protocols unmodified.
//
// Trailing whitespace on a line is escaped and therefore survives the
// round trip; unescaped trailing whitespace in the *input* of the decoder
// is lossy by design (RFC 2045 requires decoders to strip it).
func EncodeQuotedPrintable(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	br := bufio.NewReader(r)

	var line []byte
	for {
		raw, err := br.ReadBytes('\n')
		hadNL := len(raw) > 0 && raw[len(raw)-1] == '\n'
		line = raw
		if hadNL {
			line = line[:len(line)-1]
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(raw) > 0 {
			if encErr := qpEncodeLine(bw, line, hadNL); encErr != nil {
				return ioErr(encErr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ioErr(err)
		}
	}
	if err := bw.Flush(); err != nil {
		return ioErr(err)
	}
	return nil
}

func qpEncodeLine(bw *bufio.Writer, line []byte, terminate bool) error {
	col := 0
	for i := 0; i < len(line); i++ {
		c := line[i]

		escape := c == '=' || c > 126 || (c < 33 && c != ' ' && c != '\t')
		if (c == ' ' || c == '\t') && i == len(line)-1 {
			escape = true
		}
		if i == 0 {
			if len(line) == 1 && c == '.' {
				escape = true
			}
			if len(line) >= 5 && (string(line[:5]) == "From " || string(line[:5]) == "from ") {
				escape = true
			}
		}

		width := 1
		if escape {
			width = 3
		}
		// Keep every physical line at 76 columns or less, reserving one
		// column for a soft-break '='.
		if col+width > 75 {
			if _, err := bw.WriteString("=\n"); err != nil {
				return err
			}
			col = 0
		}
		if escape {
			if _, err := fmt.Fprintf(bw, "=%02X", c); err != nil {
				return err
			}
			col += 3
		} else {
			if err := bw.WriteByte(c); err != nil {
				return err
			}
			col++
		}
	}
	if terminate {
		return bw.WriteByte('\n')
	}
	return nil
}

// DecodeQuotedPrintable reverses EncodeQuotedPrintable. It is tolerant:
// malformed escapes are passed through verbatim.
func DecodeQuotedPrintable(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	br := bufio.NewReader(r)

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ioErr(err)
		}
		if c != '=' {
			if err := bw.WriteByte(c); err != nil {
				return ioErr(err)
			}
			continue
		}

		peek, _ := br.Peek(2)
		// Soft break: "=\n" or "=\r\n".
		if len(peek) >= 1 && peek[0] == '\n' {
			br.Discard(1)
			continue
		}
		if len(peek) >= 2 && peek[0] == '\r' && peek[1] == '\n' {
			br.Discard(2)
			continue
		}
		if len(peek) == 2 {
			hi, ok1 := unhex(peek[0])
			lo, ok2 := unhex(peek[1])
			if ok1 && ok2 {
				br.Discard(2)
				if err := bw.WriteByte(hi<<4 | lo); err != nil {
					return ioErr(err)
				}
				continue
			}
		}
		if err := bw.WriteByte('='); err != nil {
			return ioErr(err)
		}
	}
	return ioErr2(bw.Flush())
}

// EncodeBase64 writes r to w in base64, 76 columns per line. In text mode
// CRLF line endings are synthesized before encoding, per RFC 2045 canon.
func EncodeBase64(w io.Writer, r io.Reader, textMode bool) error {
	if textMode {
		r = newCRLFReader(r)
	}
	wrapped := textwrapper.New(w, "\n", 76)
	enc := base64.NewEncoder(base64.StdEncoding, wrapped)
	if _, err := io.Copy(enc, r); err != nil {
		return ioErr(err)
	}
	return ioErr2(enc.Close())
}

// DecodeBase64 reverses EncodeBase64. Line breaks in the input are
// ignored; text-mode CRLF is not undone here (the charset layer handles
// line-ending canonicalization).
func DecodeBase64(w io.Writer, r io.Reader) error {
	dec := base64.NewDecoder(base64.StdEncoding, r)
	if _, err := io.Copy(w, dec); err != nil {
		return ioErr(err)
	}
	return nil
}

// DecodeUuencoded decodes a uuencoded body: everything between the
// "begin MODE NAME" line and the "end" line.
func DecodeUuencoded(w io.Writer, r io.Reader) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	inBody := false
	for {
		raw, err := br.ReadBytes('\n')
		line := bytes.TrimRight(raw, "\r\n")
		switch {
		case !inBody && bytes.HasPrefix(line, []byte("begin ")):
			inBody = true
		case inBody && string(line) == "end":
			inBody = false
		case inBody && len(line) > 0:
			if decErr := uuDecodeLine(bw, line); decErr != nil {
				return decErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ioErr(err)
		}
	}
	return ioErr2(bw.Flush())
}

func uuDecodeLine(bw *bufio.Writer, line []byte) error {
	n := int(line[0]-32) & 63
	if n == 0 {
		return nil
	}
	uuByte := func(i int) byte {
		if i >= len(line) {
			return 0
		}
		return (line[i] - 32) & 63
	}
	out := 0
	for i := 1; out < n; i += 4 {
		c1, c2, c3, c4 := uuByte(i), uuByte(i+1), uuByte(i+2), uuByte(i+3)
		triple := [3]byte{c1<<2 | c2>>4, c2<<4 | c3>>2, c3<<6 | c4}
		for j := 0; j < 3 && out < n; j++ {
			if err := bw.WriteByte(triple[j]); err != nil {
				return ioErr(err)
			}
			out++
		}
	}
	return nil
}

// DecodeBody wraps the part copy for the given transfer encoding,
// writing the decoded bytes of r to w. 7bit, 8bit and binary pass
// through unchanged.
func DecodeBody(w io.Writer, r io.Reader, enc Encoding) error {
	switch enc {
	case EncQuotedPrintable:
		return DecodeQuotedPrintable(w, r)
	case EncBase64:
		return DecodeBase64(w, r)
	case EncUuencoded:
		return DecodeUuencoded(w, r)
	default:
		if _, err := io.Copy(w, r); err != nil {
			return ioErr(err)
		}
		return nil
	}
}

// EncodeBody writes the raw bytes of r to w in the given transfer
// encoding.
func EncodeBody(w io.Writer, r io.Reader, enc Encoding, textMode bool) error {
	switch enc {
	case EncQuotedPrintable:
		return EncodeQuotedPrintable(w, r)
	case EncBase64:
		return EncodeBase64(w, r, textMode)
	default:
		if _, err := io.Copy(w, r); err != nil {
			return ioErr(err)
		}
		return nil
	}
}

// crlfReader rewrites lone LF to CRLF. Already-CRLF input passes through.
type crlfReader struct {
	r       *bufio.Reader
	pending byte
	lastCR  bool
}

func newCRLFReader(r io.Reader) io.Reader {
	return &crlfReader{r: bufio.NewReader(r)}
}

func (cr *crlfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if cr.pending != 0 {
			p[n] = cr.pending
			cr.pending = 0
			n++
			continue
		}
		c, err := cr.r.ReadByte()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if c == '\n' && !cr.lastCR {
			p[n] = '\r'
			cr.pending = '\n'
			cr.lastCR = false
			n++
			continue
		}
		cr.lastCR = c == '\r'
		p[n] = c
		n++
	}
	return n, nil
}

func ioErr2(err error) error {
	if err == nil {
		return nil
	}
	return ioErr(err)
}
