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
	"bytes"
	"strings"
	"testing"
)

func qp(t *testing.T, in string) string {
	t.Helper()
	var out bytes.Buffer
	if err := EncodeQuotedPrintable(&out, strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func unqp(t *testing.T, in string) string {
	t.Helper()
	var out bytes.Buffer
	if err := DecodeQuotedPrintable(&out, strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestQuotedPrintableFromEscape(t *testing.T) {
	if got := qp(t, "From now on"); got != "=46rom now on" {
		t.Errorf("got %q, want %q", got, "=46rom now on")
	}
	if got := qp(t, "from now on\n"); got != "=66rom now on\n" {
		t.Errorf("lowercase from: got %q", got)
	}
	// Only at line start.
	if got := qp(t, "a From b\n"); got != "a From b\n" {
		t.Errorf("mid-line From escaped: %q", got)
	}
}

func TestQuotedPrintableDotEscape(t *testing.T) {
	if got := qp(t, ".\n"); got != "=2E\n" {
		t.Errorf("lone dot: got %q", got)
	}
	if got := qp(t, ".hidden\n"); got != ".hidden\n" {
		t.Errorf("dot-prefixed word escaped: %q", got)
	}
}

func TestQuotedPrintableTrailingSpace(t *testing.T) {
	got := qp(t, "tail \nok\n")
	if !strings.HasPrefix(got, "tail=20\n") {
		t.Errorf("trailing space not escaped: %q", got)
	}
	if unqp(t, got) != "tail \nok\n" {
		t.Errorf("escaped trailing space must survive the round trip")
	}
}

func TestQuotedPrintableRoundTrip(t *testing.T) {
	inputs := []string{
		"plain ascii\n",
		"equals = signs == everywhere=\n",
		"höheres Leben\n",
		strings.Repeat("long line without any break opportunity ", 10) + "\n",
		"\x01\x02 control bytes\n",
		"no final newline",
	}
	for _, in := range inputs {
		enc := qp(t, in)
		for _, line := range strings.Split(enc, "\n") {
			if len(line) > 76 {
				t.Errorf("QP line over 76 cols (%d): %q", len(line), line)
			}
		}
		if got := unqp(t, enc); got != in {
			t.Errorf("round trip %q -> %q -> %q", in, enc, got)
		}
	}
}

func TestBase64RoundTrip(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	var enc bytes.Buffer
	if err := EncodeBase64(&enc, bytes.NewReader(payload), false); err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(strings.TrimRight(enc.String(), "\n"), "\n") {
		if len(line) > 76 {
			t.Errorf("base64 line over 76 cols: %d", len(line))
		}
	}

	var dec bytes.Buffer
	if err := DecodeBase64(&dec, &enc); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec.Bytes(), payload) {
		t.Error("base64 round trip corrupted payload")
	}
}

func TestBase64TextModeCRLF(t *testing.T) {
	var enc bytes.Buffer
	if err := EncodeBase64(&enc, strings.NewReader("a\nb\n"), true); err != nil {
		t.Fatal(err)
	}
	var dec bytes.Buffer
	if err := DecodeBase64(&dec, &enc); err != nil {
		t.Fatal(err)
	}
	if dec.String() != "a\r\nb\r\n" {
		t.Errorf("text mode must canonicalize to CRLF, got %q", dec.String())
	}
}

func TestUudecode(t *testing.T) {
	// "Cat" uuencoded.
	raw := "begin 644 cat.txt\n#0V%T\n`\nend\n"
	var out bytes.Buffer
	if err := DecodeUuencoded(&out, strings.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	if out.String() != "Cat" {
		t.Errorf("got %q, want Cat", out.String())
	}
}

func TestDecodeBodyPassThrough(t *testing.T) {
	for _, enc := range []Encoding{Enc7Bit, Enc8Bit, EncBinary} {
		var out bytes.Buffer
		if err := DecodeBody(&out, strings.NewReader("as-is\n"), enc); err != nil {
			t.Fatal(err)
		}
		if out.String() != "as-is\n" {
			t.Errorf("%v mangled pass-through: %q", enc, out.String())
		}
	}
}
