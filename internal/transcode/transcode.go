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

// Package transcode converts part bodies between character sets.
package transcode

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Transcoder converts byte streams between two character sets. Convert may
// be called repeatedly; Close releases nothing today but keeps the
// contract explicit for future stateful encodings.
type Transcoder interface {
	Convert(in []byte) (out []byte, errCount int)
	Close()
}

type pair struct {
	dec *encoding.Decoder
	enc *encoding.Encoder
}

// Open returns a Transcoder converting from one charset to another.
// Unknown charsets fail here, not in Convert.
func Open(from, to string) (Transcoder, error) {
	fromEnc, err := lookup(from)
	if err != nil {
		return nil, err
	}
	toEnc, err := lookup(to)
	if err != nil {
		return nil, err
	}
	return &pair{dec: fromEnc.NewDecoder(), enc: toEnc.NewEncoder()}, nil
}

func lookup(name string) (encoding.Encoding, error) {
	name = Canonical(name)
	if name == "utf-8" || name == "us-ascii" {
		return encoding.Nop, nil
	}
	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.New("transcode: unknown charset " + name)
	}
	return enc, nil
}

// Convert decodes in from the source charset and re-encodes it in the
// target one. Bytes that do not convert are replaced with '?' and counted.
func (p *pair) Convert(in []byte) ([]byte, int) {
	utf, errs1 := convertWith(p.dec, in)
	// Replace undecodable runes before the encode pass so the error is
	// counted once per byte sequence.
	utf = bytes.ReplaceAll(utf, []byte{0xEF, 0xBF, 0xBD}, []byte{'?'})
	out, errs2 := convertWith(p.enc, utf)
	return out, errs1 + errs2
}

func (p *pair) Close() {}

func convertWith(t transform.Transformer, in []byte) ([]byte, int) {
	t.Reset()
	var out bytes.Buffer
	errCount := 0
	for len(in) > 0 {
		converted, err := doTransform(t, in)
		out.Write(converted.dst)
		in = in[converted.n:]
		if err == nil {
			break
		}
		// Skip the offending byte and continue.
		if len(in) > 0 {
			out.WriteByte('?')
			in = in[1:]
		}
		errCount++
	}
	return out.Bytes(), errCount
}

type transformed struct {
	dst []byte
	n   int
}

func doTransform(t transform.Transformer, in []byte) (transformed, error) {
	dst := make([]byte, len(in)*4+16)
	nDst, nSrc, err := t.Transform(dst, in, true)
	for errors.Is(err, transform.ErrShortDst) {
		dst = append(dst, make([]byte, len(dst))...)
		var n2, s2 int
		n2, s2, err = t.Transform(dst[nDst:], in[nSrc:], true)
		nDst += n2
		nSrc += s2
	}
	return transformed{dst: dst[:nDst], n: nSrc}, err
}

// Canonical normalizes a charset label: lowercased, the common mail
// aliases folded onto their MIME names.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "ascii", "x-ascii", "646", "us":
		return "us-ascii"
	case "utf8":
		return "utf-8"
	case "latin1":
		return "iso-8859-1"
	}
	return name
}

// BestCharset decodes body against every candidate charset and returns
// the one producing the fewest conversion errors, with its error count.
// Ties go to the earliest candidate. The heuristic is stateless.
func BestCharset(body []byte, candidates []string) (string, int) {
	best := ""
	bestErrs := -1
	for _, cand := range candidates {
		var errs int
		if Canonical(cand) == "us-ascii" {
			// Nop cannot count errors, check the high bit directly.
			for _, c := range body {
				if c >= 0x80 {
					errs++
				}
			}
		} else {
			tr, err := Open(cand, "utf-8")
			if err != nil {
				continue
			}
			var out []byte
			out, errs = tr.Convert(body)
			tr.Close()
			if !utf8.Valid(out) {
				errs += len(out)
			}
		}
		if bestErrs < 0 || errs < bestErrs {
			best = cand
			bestErrs = errs
		}
		if errs == 0 {
			break
		}
	}
	return best, bestErrs
}
