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

package imapclient

import (
	"testing"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

func mdataWith(uids ...uint32) *MailboxData {
	md := newMailboxData("INBOX", "INBOX")
	for i, uid := range uids {
		e := rfc822.NewEmail()
		e.Edata = &EmailData{UID: uid, MSN: i + 1}
		md.registerEmail(e)
	}
	md.Messages = len(uids)
	return md
}

func TestDoubleExpungeShiftsMSN(t *testing.T) {
	md := mdataWith(101, 102, 103, 104, 105)

	// "* 3 EXPUNGE" twice: MSN 3 goes, then what was MSN 4 (now MSN 3)
	// goes too.
	first := md.expungeMSN(3)
	second := md.expungeMSN(3)

	if first == nil || edataOf(first) == nil {
		t.Fatal("first expunge returned nothing")
	}
	if second == nil {
		t.Fatal("second expunge returned nothing")
	}
	if first.Active || second.Active {
		t.Error("expunged messages still active")
	}
	if first.Index != rfc822.IndexVanished || second.Index != rfc822.IndexVanished {
		t.Error("expunged messages not marked for removal")
	}

	// Survivors: 101, 102, 105 at MSNs 1..3.
	if len(md.MsnIndex) != 3 {
		t.Fatalf("msn index has %d entries", len(md.MsnIndex))
	}
	wantUIDs := []uint32{101, 102, 105}
	for i, want := range wantUIDs {
		e := md.MsnIndex[i]
		ed := edataOf(e)
		if e == nil || ed == nil {
			t.Fatalf("dangling MSN slot %d", i+1)
		}
		if ed.UID != want || ed.MSN != i+1 {
			t.Errorf("MSN %d: uid %d msn %d, want uid %d", i+1, ed.UID, ed.MSN, want)
		}
	}

	// The UID hash must not keep dangling references either.
	for _, gone := range []uint32{103, 104} {
		if _, ok := md.UIDHash[gone]; ok {
			t.Errorf("uid %d still hashed", gone)
		}
	}
	if len(md.UIDHash) != 3 {
		t.Errorf("uid hash has %d entries", len(md.UIDHash))
	}
	if md.Messages != 3 {
		t.Errorf("messages = %d", md.Messages)
	}
}

func TestVanishUID(t *testing.T) {
	md := mdataWith(7, 8, 9)
	if e := md.vanishUID(8); e == nil || e.Active {
		t.Fatal("vanish by uid failed")
	}
	if _, ok := md.UIDHash[8]; ok {
		t.Error("vanished uid still hashed")
	}
	if ed := edataOf(md.MsnIndex[1]); ed == nil || ed.UID != 9 || ed.MSN != 2 {
		t.Error("MSN compaction after vanish broken")
	}
	// Unknown UIDs are ignored.
	if e := md.vanishUID(9999); e != nil {
		t.Error("vanish invented a message")
	}
}

func TestKnownUIDRange(t *testing.T) {
	md := mdataWith(5, 9, 7)
	lo, hi := md.knownUIDRange()
	if lo != 5 || hi != 9 {
		t.Errorf("range = %d..%d", lo, hi)
	}
}
