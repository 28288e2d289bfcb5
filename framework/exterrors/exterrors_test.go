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

package exterrors

import (
	"errors"
	"testing"
)

func TestFieldsWalksChain(t *testing.T) {
	inner := &ProtocolError{
		Kind: KindProtocolNo, Protocol: "imap", Command: "STORE",
		ServerText: "denied",
	}
	err := WithFields(inner, map[string]interface{}{
		"mailbox": "INBOX",
		"kind":    "outer-wins",
	})

	fields := Fields(err)
	if fields["mailbox"] != "INBOX" {
		t.Errorf("wrap fields lost: %v", fields)
	}
	if fields["proto"] != "imap" || fields["command"] != "STORE" || fields["server_text"] != "denied" {
		t.Errorf("ProtocolError fields not collected: %v", fields)
	}
	// The outermost value of a duplicated key wins.
	if fields["kind"] != "outer-wins" {
		t.Errorf("inner value shadowed the outer one: %v", fields["kind"])
	}
}

func TestFieldsPlainError(t *testing.T) {
	if got := Fields(errors.New("plain")); len(got) != 0 {
		t.Errorf("fields = %v", got)
	}
}

func TestIsTemporaryByKind(t *testing.T) {
	for kind, want := range map[Kind]bool{
		KindIo:          true,
		KindProtocolNo:  true,
		KindCancelled:   true,
		KindProtocolBad: false,
		KindParse:       false,
		KindAuth:        false,
		KindTls:         false,
		KindAborted:     false,
	} {
		err := &ProtocolError{Kind: kind}
		if IsTemporary(err) != want {
			t.Errorf("IsTemporary(%v) != %v", kind, want)
		}
		// The classification survives wrapping.
		if IsTemporary(WithFields(err, map[string]interface{}{"x": 1})) != want {
			t.Errorf("IsTemporary(wrapped %v) != %v", kind, want)
		}
	}
}

func TestIsTemporaryDefaults(t *testing.T) {
	plain := errors.New("no classification")
	if IsTemporary(plain) {
		t.Error("unclassified errors must be permanent by default")
	}
	if !IsTemporaryOrUnspec(plain) {
		t.Error("IsTemporaryOrUnspec must default to temporary")
	}
	if !IsTemporary(WithTemporary(plain, true)) {
		t.Error("WithTemporary(true) ignored")
	}
	if IsTemporaryOrUnspec(WithTemporary(plain, false)) {
		t.Error("WithTemporary(false) ignored")
	}
}

func TestProtocolErrorIs(t *testing.T) {
	err := &ProtocolError{Kind: KindAuth, Protocol: "imap"}
	if !errors.Is(err, ErrAuth) || errors.Is(err, ErrIo) {
		t.Error("sentinel mapping broken")
	}
	if KindOf(err) != KindAuth {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("bare")) != KindIo {
		t.Error("unclassified errors must default to KindIo")
	}
}
