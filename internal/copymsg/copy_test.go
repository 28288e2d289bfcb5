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

package copymsg

import (
	"bytes"
	"strings"
	"testing"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

const sampleHeader = "From: ann@x.org\n" +
	"To: bob@x.org\n" +
	"Status: RO\n" +
	"X-Status: F\n" +
	"Content-Length: 5\n" +
	"Lines: 1\n" +
	"Subject: =?utf-8?B?SGVsbG8=?= there\n" +
	"X-Mailer: something\n" +
	"\n" +
	"body\n"

func copyHdr(t *testing.T, raw string, flags Flags, opts Options) string {
	t.Helper()
	var out bytes.Buffer
	err := CopyHeaderRange(strings.NewReader(raw), &out, 0, int64(len(raw)), flags, opts)
	if err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestCopyFastPassThrough(t *testing.T) {
	got := copyHdr(t, sampleHeader, 0, Options{})
	if !strings.Contains(got, "From: ann@x.org\n") ||
		!strings.Contains(got, "Status: RO\n") ||
		strings.Contains(got, "body") {
		t.Errorf("fast path output:\n%s", got)
	}
}

func TestCopyStatusSuppression(t *testing.T) {
	for _, flags := range []Flags{NoStatus, Xmit, Update} {
		got := copyHdr(t, sampleHeader, flags, Options{})
		if strings.Contains(got, "Status:") || strings.Contains(got, "X-Status:") {
			t.Errorf("flags %v left Status lines:\n%s", flags, got)
		}
	}
}

func TestCopyLengthSuppression(t *testing.T) {
	got := copyHdr(t, sampleHeader, NoLen, Options{})
	if strings.Contains(got, "Content-Length:") || strings.Contains(got, "Lines:") {
		t.Errorf("NoLen left length headers:\n%s", got)
	}
}

func TestCopyWeed(t *testing.T) {
	opts := Options{Ignore: []string{"X-Mailer", "Status"}, Unignore: []string{"X-Status"}}
	got := copyHdr(t, sampleHeader, Weed, opts)
	if strings.Contains(got, "X-Mailer") {
		t.Error("ignored header survived weeding")
	}
	if !strings.Contains(got, "From: ann@x.org") {
		t.Error("unlisted header was weeded")
	}
}

func TestCopyDecode(t *testing.T) {
	got := copyHdr(t, sampleHeader, Decode, Options{})
	if !strings.Contains(got, "Subject: Hello there") {
		t.Errorf("2047 decode missing:\n%s", got)
	}
}

func TestCopyReorder(t *testing.T) {
	got := copyHdr(t, sampleHeader, Reorder, Options{HeaderOrder: []string{"To", "From"}})
	toIdx := strings.Index(got, "To:")
	fromIdx := strings.Index(got, "From:")
	subjIdx := strings.Index(got, "Subject:")
	if toIdx < 0 || fromIdx < 0 || subjIdx < 0 {
		t.Fatalf("headers missing:\n%s", got)
	}
	// Unlisted headers come first, then the ordered buckets.
	if !(subjIdx < toIdx && toIdx < fromIdx) {
		t.Errorf("order wrong (subj %d, to %d, from %d):\n%s", subjIdx, toIdx, fromIdx, got)
	}
}

func TestCopyPrefix(t *testing.T) {
	got := copyHdr(t, "Subject: hi\n\n", Prefix, Options{Prefix: "> "})
	if !strings.HasPrefix(got, "> Subject: hi") {
		t.Errorf("prefix missing: %q", got)
	}
}

func TestCopyMboxFromRetention(t *testing.T) {
	raw := "From ann@x.org Thu Jan  1 00:00:00 1970\nSubject: s\n\n"
	if got := copyHdr(t, raw, 0, Options{}); strings.Contains(got, "From ann@x.org Thu") {
		t.Errorf("From line kept without the From flag: %q", got)
	}
	if got := copyHdr(t, raw, From, Options{}); !strings.Contains(got, "From ann@x.org Thu") {
		t.Errorf("From line dropped despite the From flag: %q", got)
	}
}

func TestCopyAutocryptSideChannel(t *testing.T) {
	raw := "From: ann@x.org\n" +
		"Autocrypt: addr=ann@x.org; keydata=AAAA\n" +
		"X-Mailer: hidden\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\n" +
		"\n"
	var side bytes.Buffer
	// Weed everything: the side channel still sees the gossip headers
	// verbatim.
	copyHdrWithSide(t, raw, Weed, Options{Ignore: []string{"*"}, Autocrypt: &side})
	got := side.String()
	if !strings.Contains(got, "Autocrypt: addr=ann@x.org; keydata=AAAA") ||
		!strings.Contains(got, "From: ann@x.org") ||
		!strings.Contains(got, "Date: Mon, 2 Jan 2006") {
		t.Errorf("side channel content:\n%q", got)
	}
	if strings.Contains(got, "X-Mailer") {
		t.Error("non-gossip header leaked into the side channel")
	}
}

func copyHdrWithSide(t *testing.T, raw string, flags Flags, opts Options) string {
	t.Helper()
	var out bytes.Buffer
	err := CopyHeaderRange(strings.NewReader(raw), &out, 0, int64(len(raw)), flags, opts)
	if err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestCopyHeaderUpdate(t *testing.T) {
	raw := "Subject: s\nStatus: O\n\nbody\n"
	email, err := rfc822.ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	email.Flags.Read = true
	email.Flags.Flagged = true
	email.Lines = 1

	var out bytes.Buffer
	err = CopyHeader(strings.NewReader(raw), email, &out, Update|UpdateLen, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Status: RO\n") {
		t.Errorf("fresh Status missing:\n%s", got)
	}
	if !strings.Contains(got, "X-Status: F\n") {
		t.Errorf("fresh X-Status missing:\n%s", got)
	}
	if !strings.Contains(got, "Content-Length: 5\n") {
		t.Errorf("fresh Content-Length missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Error("header terminator missing")
	}
}

func TestCopyMessageSkipsDeleted(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=B\n" +
		"\n" +
		"--B\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"keep me\n" +
		"--B\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"drop me\n" +
		"--B--\n"
	email, err := rfc822.ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	email.Content.Parts[1].Deleted = true
	email.Flags.AttachDel = true

	var out bytes.Buffer
	err = CopyMessage(strings.NewReader(raw), email, &out, 0, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "keep me") {
		t.Errorf("kept part missing:\n%s", got)
	}
	if strings.Contains(got, "drop me") {
		t.Errorf("deleted part still present:\n%s", got)
	}
}
