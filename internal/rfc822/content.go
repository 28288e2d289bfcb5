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
	"io"
	"os"
	"strings"
)

// Content is the byte-class profile of a part body, used to pick its
// transfer encoding before writing.
type Content struct {
	// Control bytes other than TAB and line terminators.
	Lobin int
	// Bytes with the high bit set.
	Hibin int
	// Printable ASCII bytes, TAB and space included.
	Ascii int
	// CRLF sequences seen.
	Crlf int
	// NUL bytes seen.
	Nulbin int
	// Length of the longest line, terminators excluded.
	Linemax int
	// Some line begins with "From ".
	From bool
	// Some line consists of a single dot.
	Dot bool
	// Some line ends in space or tab.
	Space bool
	// A bare CR was seen.
	Cr bool
	// The body cannot travel as line-oriented text.
	Binary bool
}

// ScanContent profiles every byte of r.
func ScanContent(r io.Reader) (*Content, error) {
	info := &Content{}
	br := bufio.NewReader(r)

	var line []byte
	sawCR := false

	flushLine := func() {
		if len(line) > info.Linemax {
			info.Linemax = len(line)
		}
		if len(line) == 1 && line[0] == '.' {
			info.Dot = true
		}
		if len(line) >= 5 && string(line[:5]) == "From " {
			info.From = true
		}
		if n := len(line); n > 0 && (line[n-1] == ' ' || line[n-1] == '\t') {
			info.Space = true
		}
		line = line[:0]
	}
	classify := func(c byte) {
		switch {
		case c == 0:
			info.Nulbin++
			info.Lobin++
		case c == '\t':
			info.Ascii++
		case c < 32 || c == 127:
			info.Lobin++
		case c >= 128:
			info.Hibin++
		default:
			info.Ascii++
		}
	}

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			if sawCR {
				info.Cr = true
				info.Lobin++
			}
			if len(line) > 0 {
				flushLine()
			}
			break
		}
		if err != nil {
			return nil, ioErr(err)
		}

		if c == '\n' {
			if sawCR {
				info.Crlf++
				sawCR = false
			}
			flushLine()
			continue
		}
		if sawCR {
			// Bare CR: counts as a control byte inside the line.
			info.Cr = true
			info.Lobin++
			line = append(line, '\r')
			sawCR = false
		}
		if c == '\r' {
			sawCR = true
			continue
		}
		classify(c)
		line = append(line, c)
	}

	if info.Linemax > 990 || info.Nulbin > 0 {
		info.Binary = true
	}
	return info, nil
}

// ChooseEncoding applies the transfer-encoding selection rules to a part
// with the given profile.
//
// encodeFrom forces quoted-printable for text bodies containing
// "From "-lines; allow8bit permits the 8bit encoding where the profile
// qualifies. For message and multipart containers an Enc7Bit result on a
// profile that is not 7bit-clean means the child parts must be
// re-encoded (To7Bit), since containers themselves cannot carry a
// content-transforming encoding.
func ChooseEncoding(b *Body, info *Content, charsetName string, encodeFrom, allow8bit bool) Encoding {
	switch {
	case b.Type == TypeText:
		iso2022 := strings.HasPrefix(strings.ToLower(charsetName), "iso-2022")
		if (info.Lobin > 0 && !iso2022) || info.Linemax > 990 || (info.From && encodeFrom) {
			return EncQuotedPrintable
		}
		if info.Hibin > 0 {
			if allow8bit {
				return Enc8Bit
			}
			return EncQuotedPrintable
		}
		return Enc7Bit

	case b.Type == TypeMessage || b.Type == TypeMultipart:
		if info.Lobin > 0 || info.Hibin > 0 {
			if allow8bit && info.Lobin == 0 {
				return Enc8Bit
			}
			return Enc7Bit
		}
		return Enc7Bit

	case b.Type == TypeApplication && b.Subtype == "pgp-keys":
		// Never re-encoded.
		return Enc7Bit
	}

	// Binary data: pick the denser of base64 and quoted-printable.
	if 1.33*float64(info.Lobin+info.Hibin+info.Ascii) <
		3.0*float64(info.Lobin+info.Hibin)+float64(info.Ascii) {
		return EncBase64
	}
	return EncQuotedPrintable
}

// To7Bit makes a subtree 7bit-transportable: every local-file leaf whose
// bytes are not 7bit-clean is switched to quoted-printable (text) or
// base64 (anything else). Containers keep Enc7Bit.
func To7Bit(b *Body) error {
	for _, child := range b.Parts {
		if err := To7Bit(child); err != nil {
			return err
		}
	}
	if b.IsContainer() {
		b.Encoding = Enc7Bit
		return nil
	}
	if b.LocalFile == "" {
		return nil
	}
	f, err := os.Open(b.LocalFile)
	if err != nil {
		return ioErr(err)
	}
	defer f.Close()
	info, err := ScanContent(f)
	if err != nil {
		return err
	}
	if info.Hibin > 0 || info.Lobin > 0 || info.Linemax > 990 {
		if b.Type == TypeText {
			b.Encoding = EncQuotedPrintable
		} else {
			b.Encoding = EncBase64
		}
	}
	return nil
}
