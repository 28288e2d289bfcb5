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

package compose

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/internal/rfc822"
	"github.com/curlew-mail/curlew/internal/testutils"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(config.EmptyView(), testutils.Logger(t, "compose"))
	t.Cleanup(s.Release)
	return s
}

func attachFile(t *testing.T, s *Session, name, content string) *rfc822.Body {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := s.AddAttachment(path, "")
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAddAttachmentDetectsType(t *testing.T) {
	s := newTestSession(t)
	b := attachFile(t, s, "notes.txt", "hello\n")
	if b.Type != rfc822.TypeText || b.Subtype != "plain" {
		t.Errorf("type = %s", b.ContentType())
	}
	if b.Filename != "notes.txt" {
		t.Errorf("filename = %q", b.Filename)
	}
	if b.Stamp.IsZero() {
		t.Error("attachment stamp not recorded")
	}

	bin := attachFile(t, s, "blob.bin", "\x00\x01\x02")
	if bin.ContentType() != "application/octet-stream" {
		t.Errorf("binary type = %s", bin.ContentType())
	}
}

func TestDeleteOnlyAttachmentRejected(t *testing.T) {
	s := newTestSession(t)
	attachFile(t, s, "only.txt", "x\n")
	if err := s.DeleteAttachment(0); err == nil {
		t.Fatal("deleting the only attachment must fail")
	}

	attachFile(t, s, "second.txt", "y\n")
	if err := s.DeleteAttachment(0); err != nil {
		t.Fatal(err)
	}
	if len(s.Attachments()) != 1 {
		t.Errorf("%d attachments left", len(s.Attachments()))
	}
}

func TestGroupUngroupInverse(t *testing.T) {
	s := newTestSession(t)
	a := attachFile(t, s, "a.txt", "a\n")
	b := attachFile(t, s, "b.txt", "b\n")
	c := attachFile(t, s, "c.txt", "c\n")

	a.Tagged = true
	c.Tagged = true
	if err := s.GroupTagged("related"); err != nil {
		t.Fatal(err)
	}
	parts := s.Attachments()
	if len(parts) != 2 {
		t.Fatalf("after group: %d parts", len(parts))
	}
	group := parts[0]
	if group.Type != rfc822.TypeMultipart || group.Subtype != "related" {
		t.Fatalf("group is %s", group.ContentType())
	}
	if len(group.Parts) != 2 || group.Parts[0] != a || group.Parts[1] != c {
		t.Fatalf("group members wrong")
	}
	if parts[1] != b {
		t.Error("untagged attachment moved")
	}

	if err := s.UngroupAt(0); err != nil {
		t.Fatal(err)
	}
	parts = s.Attachments()
	if len(parts) != 3 || parts[0] != a || parts[1] != c || parts[2] != b {
		t.Fatalf("ungroup did not invert grouping: %d parts", len(parts))
	}
}

func TestGroupNeedsTwoTagged(t *testing.T) {
	s := newTestSession(t)
	a := attachFile(t, s, "a.txt", "a\n")
	a.Tagged = true
	if err := s.GroupTagged("mixed"); err == nil {
		t.Fatal("grouping one attachment must fail")
	}
}

func TestNotifications(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	s.Observe(func(ev Event) { events = append(events, ev) })

	attachFile(t, s, "a.txt", "a\n")
	if err := s.SetHeaderField("subject", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0] != EventAttachAdd || events[1] != EventHeaders {
		t.Errorf("events = %v", events)
	}
}

func TestPrepareSendFlattensSinglePart(t *testing.T) {
	s := newTestSession(t)
	attachFile(t, s, "only.txt", "body\n")
	if err := s.PrepareSend(); err != nil {
		t.Fatal(err)
	}
	if s.Email.Content.Type != rfc822.TypeText {
		t.Errorf("single attachment still wrapped: %s", s.Email.Content.ContentType())
	}
	if s.Email.Envelope.MessageID == "" || s.Email.Envelope.Date == "" {
		t.Error("message-id/date not stamped")
	}
}

func TestPrepareSendEmptyRejected(t *testing.T) {
	s := newTestSession(t)
	if err := s.PrepareSend(); err == nil {
		t.Fatal("a message with zero attachments cannot be composed")
	}
}

func TestReleaseUnlinksTempfiles(t *testing.T) {
	s := newTestSession(t)
	path := filepath.Join(t.TempDir(), "scratch")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	s.RegisterTemp(path)
	s.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("registered tempfile survived Release")
	}
}

func TestWriteFccEmptyTokens(t *testing.T) {
	dir := t.TempDir()
	box := filepath.Join(dir, "sent")

	email := rfc822.NewEmail()
	email.Envelope.From, _ = rfc822.ParseAddressList("a@x")

	// Empty tokens are skipped entirely; an all-empty list writes
	// nothing.
	if err := WriteFcc(",,", []byte("Subject: s\n\nb\n"), email); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Error("all-empty Fcc list still wrote something")
	}

	if err := WriteFcc(","+box+",", []byte("Subject: s\n\nFrom here\n"), email); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(box)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "From a@x ") {
		t.Errorf("mbox separator missing: %q", content)
	}
	if !strings.Contains(content, ">From here") {
		t.Errorf("mbox From-quoting missing: %q", content)
	}
}
