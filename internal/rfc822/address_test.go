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
	"strings"
	"testing"
)

func TestParseAddressList(t *testing.T) {
	al, err := ParseAddressList(`Ann <ann@x.org>, bob@x.org, "C, Dee" <cd@x.org>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(al) != 3 {
		t.Fatalf("got %d addresses: %+v", len(al), al)
	}
	if al[0].Personal != "Ann" || al[0].Mailbox != "ann@x.org" {
		t.Errorf("al[0] = %+v", al[0])
	}
	if al[1].Mailbox != "bob@x.org" || al[1].Personal != "" {
		t.Errorf("al[1] = %+v", al[1])
	}
	// The quoted comma must not split the third mailbox.
	if al[2].Personal != "C, Dee" || al[2].Mailbox != "cd@x.org" {
		t.Errorf("al[2] = %+v", al[2])
	}
}

func TestParseAddressListEncodedComma(t *testing.T) {
	// RFC 2047 word containing an encoded comma; decoding happens after
	// the list split so the mailbox is not cut in half.
	al, err := ParseAddressList(`=?utf-8?Q?Doe=2C_John?= <jd@x.org>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(al) != 1 {
		t.Fatalf("split inside encoded word: %+v", al)
	}
	if al[0].Personal != "Doe, John" {
		t.Errorf("personal = %q", al[0].Personal)
	}
}

func TestParseAddressGroup(t *testing.T) {
	al, err := ParseAddressList(`friends: ann@x.org, bob@x.org;, solo@x.org`)
	if err != nil {
		t.Fatal(err)
	}
	// group-start, 2 members, group-end, 1 regular.
	if len(al) != 5 {
		t.Fatalf("got %d entries: %+v", len(al), al)
	}
	if !al[0].IsGroupStart() || al[0].Mailbox != "friends" {
		t.Errorf("al[0] = %+v", al[0])
	}
	if !al[3].IsGroupEnd() {
		t.Errorf("al[3] = %+v", al[3])
	}
	if al[4].Mailbox != "solo@x.org" {
		t.Errorf("al[4] = %+v", al[4])
	}

	s := al.String()
	if !strings.Contains(s, "friends:") || !strings.Contains(s, ";") {
		t.Errorf("group structure lost on serialize: %q", s)
	}
}

func TestAddressListOrderPreserved(t *testing.T) {
	in := `c@x, a@x, b@x`
	al, err := ParseAddressList(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c@x", "a@x", "b@x"}
	for i, mb := range al.Mailboxes() {
		if mb != want[i] {
			t.Fatalf("order changed: %v", al.Mailboxes())
		}
	}
}

func TestAddressListDedupe(t *testing.T) {
	al, err := ParseAddressList(`a@x, A@X, b@x, a@x`)
	if err != nil {
		t.Fatal(err)
	}
	deduped := al.Dedupe()
	if len(deduped) != 2 {
		t.Fatalf("dedupe left %d entries: %+v", len(deduped), deduped)
	}
	if deduped[0].Mailbox != "a@x" || deduped[1].Mailbox != "b@x" {
		t.Errorf("dedupe reordered: %+v", deduped)
	}
	// The original list still has its duplicates.
	if len(al) != 4 {
		t.Error("Dedupe must not mutate the receiver")
	}
}

func TestAddressString(t *testing.T) {
	for _, tc := range []struct {
		addr Address
		want string
	}{
		{Address{Mailbox: "a@x"}, "<a@x>"},
		{Address{Mailbox: "a@x", Personal: "Ann"}, "Ann <a@x>"},
		{Address{Mailbox: "a@x", Personal: "Ann, B"}, `"Ann, B" <a@x>`},
		{Address{Mailbox: "a@x", Personal: "Änn"}, "=?utf-8?q?=C3=84nn?= <a@x>"},
	} {
		if got := tc.addr.String(); got != tc.want {
			t.Errorf("String(%+v) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func TestParseAddressTolerance(t *testing.T) {
	// Missing domain must not fail the whole header.
	al, err := ParseAddressList(`postmaster`)
	if err != nil {
		t.Fatal(err)
	}
	if len(al) != 1 || al[0].Mailbox != "postmaster" {
		t.Errorf("al = %+v", al)
	}

	if _, err := ParseAddressList(`"unterminated`); err == nil {
		t.Error("unterminated quote must fail")
	}
}
