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

package mailbox

import (
	"testing"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

func TestRecount(t *testing.T) {
	m := &Mailbox{}
	mk := func(read, old, flagged, deleted, active bool, size int64) *rfc822.Email {
		e := rfc822.NewEmail()
		e.Flags.Read = read
		e.Flags.Old = old
		e.Flags.Flagged = flagged
		e.Flags.Deleted = deleted
		e.Active = active
		e.Size = size
		return e
	}
	m.Emails = []*rfc822.Email{
		mk(false, false, false, false, true, 10), // new, unread
		mk(false, true, true, false, true, 20),   // old, unread, flagged
		mk(true, false, false, true, true, 30),   // read, deleted
		mk(false, false, false, false, false, 40), // expunged
	}
	m.Recount()

	if m.MsgCount != 3 {
		t.Errorf("count = %d", m.MsgCount)
	}
	if m.MsgUnread != 2 || m.MsgNew != 1 {
		t.Errorf("unread = %d new = %d", m.MsgUnread, m.MsgNew)
	}
	if m.MsgFlagged != 1 || m.MsgDeleted != 1 {
		t.Errorf("flagged = %d deleted = %d", m.MsgFlagged, m.MsgDeleted)
	}
	if m.SizeTotal != 60 {
		t.Errorf("size = %d", m.SizeTotal)
	}
}

func TestAccountAddRemove(t *testing.T) {
	a := &Account{Kind: KindImap}
	m1 := &Mailbox{Path: "imap://h/INBOX"}
	m2 := &Mailbox{Path: "imap://h/Sent"}
	a.Add(m1)
	a.Add(m2)
	if m1.Account != a || len(a.Mailboxes) != 2 {
		t.Fatal("add failed")
	}
	if empty := a.Remove(m1); empty {
		t.Error("account reported empty too early")
	}
	if m1.Account != nil {
		t.Error("removed mailbox keeps its account link")
	}
	if empty := a.Remove(m2); !empty {
		t.Error("account not reported empty")
	}
}

func TestPathKind(t *testing.T) {
	for _, tc := range []struct {
		path string
		want Kind
	}{
		{"imap://h/INBOX", KindImap},
		{"imaps://h/INBOX", KindImap},
		{"news://h/misc.test", KindNntp},
		{"nntps://h/misc.test", KindNntp},
		{"pop://h", KindPop},
		{"/var/mail/user", KindUnknown},
	} {
		if got := PathKind(tc.path); got != tc.want {
			t.Errorf("PathKind(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

type stubOps struct {
	MxOps
	kind Kind
}

func (s stubOps) Kind() Kind               { return s.kind }
func (s stubOps) ProbePath(path string) bool { return false }

func TestResolveDispatch(t *testing.T) {
	Register(stubOps{kind: KindImap})

	ops, err := Resolve("imap://mail.example.org/INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if ops.Kind() != KindImap {
		t.Errorf("resolved %v", ops.Kind())
	}

	if _, err := Resolve("/no/such/backend/path"); err == nil {
		t.Error("unknown path resolved")
	}
}
