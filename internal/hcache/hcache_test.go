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

package hcache

import (
	"testing"

	"github.com/curlew-mail/curlew/internal/rfc822"
	"github.com/curlew-mail/curlew/internal/testutils"
)

func openTest(t *testing.T, uidvalidity uint32) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), "mail.example.org:143", "INBOX", uidvalidity, testutils.Logger(t, "hcache"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleEmail() *rfc822.Email {
	e := rfc822.NewEmail()
	e.Envelope.SetSubject("Re: cached subject")
	e.Envelope.MessageID = "<cached@x>"
	e.Flags.Read = true
	e.Size = 1234
	e.Lines = 10
	return e
}

func TestStoreFetchRoundTrip(t *testing.T) {
	c := openTest(t, 99)
	if err := c.Store("42", sampleEmail()); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Fetch("42")
	if !ok {
		t.Fatal("entry missing")
	}
	if got.Envelope.Subject != "Re: cached subject" {
		t.Errorf("subject = %q", got.Envelope.Subject)
	}
	if got.Envelope.RealSubject != "cached subject" {
		t.Errorf("real subject = %q", got.Envelope.RealSubject)
	}
	if !got.Flags.Read || got.Size != 1234 || got.Lines != 10 {
		t.Errorf("meta lost: %+v", got)
	}
}

func TestFetchMissingIsMiss(t *testing.T) {
	c := openTest(t, 99)
	if _, ok := c.Fetch("7"); ok {
		t.Error("phantom entry")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c := openTest(t, 99)
	if err := c.Store("42", sampleEmail()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.db.Exec(`UPDATE headers SET entry = ? WHERE uid = ?`, []byte("{broken"), "42"); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Fetch("42"); ok {
		t.Fatal("corrupt entry served")
	}
	// And it is gone, so the next sync re-stores it.
	keys, err := c.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("corrupt entry not dropped: %v", keys)
	}
}

func TestUIDValidityChangeClears(t *testing.T) {
	dir := t.TempDir()
	logger := testutils.Logger(t, "hcache")

	c, err := Open(dir, "mail.example.org:143", "INBOX", 1, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store("1", sampleEmail()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = Open(dir, "mail.example.org:143", "INBOX", 2, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, ok := c.Fetch("1"); ok {
		t.Error("entry survived a UIDVALIDITY change")
	}
}

func TestClear(t *testing.T) {
	c := openTest(t, 99)
	for _, uid := range []string{"1", "2", "3"} {
		if err := c.Store(uid, sampleEmail()); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	keys, err := c.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("clear left %v", keys)
	}
}
