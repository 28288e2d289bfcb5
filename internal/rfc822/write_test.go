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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteMultipartRoundTrip(t *testing.T) {
	email, err := ReadMessage(strings.NewReader(altMessage))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := WriteMessage(&out, email, strings.NewReader(altMessage), WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if out.String() != altMessage {
		t.Errorf("serialization not byte-equivalent:\n--- got ---\n%s\n--- want ---\n%s", out.String(), altMessage)
	}

	// And the round trip must parse to the same tree.
	again, err := ReadMessage(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if again.Content.Subtype != "alternative" || len(again.Content.Parts) != 2 {
		t.Errorf("re-parse produced %s with %d parts", again.Content.ContentType(), len(again.Content.Parts))
	}
}

func TestWriteEnvelopeRoundTrip(t *testing.T) {
	raw := "Date: Mon, 2 Jan 2006 15:04:05 -0700\n" +
		"From: Ann Example <ann@example.org>\n" +
		"To: <bob@example.org>, <carol@example.org>\n" +
		"Subject: a subject\n" +
		"Message-ID: <id-1@example.org>\n" +
		"References: <old@x> <new@x>\n" +
		"\n" +
		"body\n"
	email, err := ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := WriteMessage(&out, email, strings.NewReader(raw), WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	again, err := ReadMessage(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}

	if again.Envelope.Subject != email.Envelope.Subject {
		t.Errorf("subject %q != %q", again.Envelope.Subject, email.Envelope.Subject)
	}
	if again.Envelope.MessageID != email.Envelope.MessageID {
		t.Errorf("message-id %q != %q", again.Envelope.MessageID, email.Envelope.MessageID)
	}
	// References order is preserved oldest-first (I4).
	if len(again.Envelope.References) != 2 || again.Envelope.References[0] != "<old@x>" {
		t.Errorf("references = %v", again.Envelope.References)
	}
	if again.Envelope.To.String() != email.Envelope.To.String() {
		t.Errorf("to %q != %q", again.Envelope.To.String(), email.Envelope.To.String())
	}
}

func TestWriteBccOnlyWhenAsked(t *testing.T) {
	email := NewEmail()
	email.Envelope.From, _ = ParseAddressList("a@x")
	email.Envelope.Bcc, _ = ParseAddressList("secret@x")
	email.Content.Params.Set("charset", "us-ascii")

	var withOut, without bytes.Buffer
	if err := WriteMessage(&without, email, nil, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := WriteMessage(&withOut, email, nil, WriteOptions{IncludeBcc: true}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(without.String(), "secret@x") {
		t.Error("Bcc leaked into transmitted copy")
	}
	if !strings.Contains(withOut.String(), "secret@x") {
		t.Error("Bcc missing from Fcc copy")
	}
}

func TestBoundaryCollisionRechoice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "part.txt")

	email := NewEmail()
	email.Content = &Body{Type: TypeMultipart, Subtype: "mixed", Disposition: DispNone}
	child := NewBody()
	child.LocalFile = path
	child.Disposition = DispNone
	email.Content.Parts = []*Body{child}

	// Serialize an innocent part first to learn which boundary
	// ensureBoundaries generates.
	if err := os.WriteFile(path, []byte("innocent\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := WriteMessage(&out, email, nil, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	boundary, _ := email.Content.Params.Get("boundary")
	if boundary == "" {
		t.Fatal("no boundary generated")
	}

	// Now craft a child containing that exact delimiter and require a
	// fresh boundary on the next serialization.
	if err := os.WriteFile(path, []byte("--"+boundary+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	email.Content.Params.Del("boundary")
	out.Reset()
	if err := WriteMessage(&out, email, nil, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	newBoundary, _ := email.Content.Params.Get("boundary")
	if newBoundary == "" || newBoundary == boundary {
		t.Fatalf("boundary %q collides with part content", newBoundary)
	}

	// I5: the chosen boundary never appears as a delimiter line in any
	// descendant's bytes.
	if lineHasPrefix([]byte("--"+boundary+"\n"), []byte("--"+newBoundary)) {
		t.Errorf("boundary %q occurs as a delimiter in the part", newBoundary)
	}
	parsed, err := ReadMessage(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Content.Parts) != 1 {
		t.Fatalf("collision broke the tree: %d parts", len(parsed.Content.Parts))
	}
	// The old delimiter is payload now; it must be inside the part,
	// framed by the new boundary.
	if got := extract(t, out.String(), parsed.Content.Parts[0]); got != "--"+boundary+"\n" {
		t.Errorf("part content = %q, want the old delimiter line", got)
	}
}

func TestFoldLongHeader(t *testing.T) {
	email := NewEmail()
	email.Envelope.SetSubject(strings.Repeat("word ", 40))
	email.Content.Params.Set("charset", "us-ascii")

	var out bytes.Buffer
	if err := WriteMessage(&out, email, nil, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if len(line) > HardLineLimit {
			t.Errorf("line exceeds hard cap: %d octets", len(line))
		}
		if strings.HasPrefix(line, "Subject:") && len(line) > SoftLineLimit+10 {
			t.Errorf("subject line not folded: %d cols", len(line))
		}
	}
}

func TestHardSplitOversizedToken(t *testing.T) {
	email := NewEmail()
	email.Envelope.SetSubject(strings.Repeat("x", 2*HardLineLimit))
	email.Content.Params.Set("charset", "us-ascii")

	var out bytes.Buffer
	if err := WriteMessage(&out, email, nil, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if len(line) > HardLineLimit {
			t.Fatalf("unsplittable token left a %d-octet line", len(line))
		}
	}
}

func TestFormatParamRFC2231(t *testing.T) {
	got := formatParam("filename", "éléphant.bin")
	if !strings.Contains(got, "filename*=utf-8''") && !strings.Contains(got, "filename*0*=utf-8''") {
		t.Errorf("non-ASCII filename not 2231-encoded: %q", got)
	}

	long := strings.Repeat("a", 200)
	got = formatParam("filename", long)
	if !strings.Contains(got, "filename*0*=") || !strings.Contains(got, "filename*1*=") {
		t.Errorf("long filename not split into continuations: %q", got)
	}

	if got := formatParam("charset", "us-ascii"); got != " charset=us-ascii" {
		t.Errorf("plain param mangled: %q", got)
	}
	if got := formatParam("name", "two words"); got != ` name="two words"` {
		t.Errorf("quoting broke: %q", got)
	}
}
