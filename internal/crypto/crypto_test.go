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

package crypto

import (
	"io"
	"strings"
	"testing"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

type fakeBackend struct {
	name      string
	decrypted []byte
	decrypts  int
	verdict   Verdict
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) DecryptMIME(src io.Reader) ([]byte, error) {
	f.decrypts++
	io.Copy(io.Discard, src)
	return f.decrypted, nil
}

func (f *fakeBackend) VerifySignedMIME(signed, sig io.Reader) (Verdict, error) {
	io.Copy(io.Discard, signed)
	io.Copy(io.Discard, sig)
	return f.verdict, nil
}

func (f *fakeBackend) SignMessage(entity []byte) ([]byte, error) {
	return append([]byte("SIGNED\n"), entity...), nil
}

func (f *fakeBackend) EncryptMessage(entity []byte, recipients []string) ([]byte, error) {
	return append([]byte("ENCRYPTED\n"), entity...), nil
}

func encryptedPart() *rfc822.Body {
	b := &rfc822.Body{Type: rfc822.TypeMultipart, Subtype: "encrypted"}
	b.Params.Set("protocol", "application/pgp-encrypted")
	return b
}

func TestClassify(t *testing.T) {
	if sec := Classify(encryptedPart()); sec&rfc822.SecEncrypt == 0 || sec&rfc822.SecApplicationPgp == 0 {
		t.Errorf("pgp encrypted: %b", sec)
	}

	signed := &rfc822.Body{Type: rfc822.TypeMultipart, Subtype: "signed"}
	signed.Params.Set("protocol", "application/pkcs7-signature")
	if sec := Classify(signed); sec&rfc822.SecSign == 0 || sec&rfc822.SecApplicationSmime == 0 {
		t.Errorf("smime signed: %b", sec)
	}

	plain := rfc822.NewBody()
	if sec := Classify(plain); sec != 0 {
		t.Errorf("plain part classified as %b", sec)
	}
}

func TestDecryptCachesSubtree(t *testing.T) {
	backend := &fakeBackend{name: "pgp", decrypted: []byte("Subject: secret\n\nplain\n")}
	d := NewDispatcher(backend, nil)

	part := encryptedPart()
	first, err := d.Decrypt(part, strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Email.Envelope.Subject != "secret" {
		t.Errorf("subject = %q", first.Email.Envelope.Subject)
	}

	second, err := d.Decrypt(part, strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Error("cache missed on the same part")
	}
	if backend.decrypts != 1 {
		t.Errorf("backend ran %d times", backend.decrypts)
	}

	d.Forget(part)
	if _, err := d.Decrypt(part, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	if backend.decrypts != 2 {
		t.Error("Forget did not drop the cache")
	}
}

func TestVerifyStampsFlags(t *testing.T) {
	for verdict, check := range map[Verdict]func(*rfc822.Body) bool{
		VerdictGood: func(b *rfc822.Body) bool { return b.GoodSig && !b.BadSig && !b.WarnSig },
		VerdictBad:  func(b *rfc822.Body) bool { return b.BadSig && !b.GoodSig },
		VerdictWarn: func(b *rfc822.Body) bool { return b.WarnSig && !b.GoodSig },
	} {
		backend := &fakeBackend{name: "pgp", verdict: verdict}
		d := NewDispatcher(backend, nil)
		part := &rfc822.Body{Type: rfc822.TypeMultipart, Subtype: "signed"}
		part.Params.Set("protocol", "application/pgp-signature")

		got, err := d.Verify(part, strings.NewReader("payload"), strings.NewReader("payload"))
		if err != nil {
			t.Fatal(err)
		}
		if got != verdict || !check(part) {
			t.Errorf("verdict %v: flags %+v", verdict, part)
		}
	}
}

func TestApplySecurityEdit(t *testing.T) {
	// Opportunistic encryption yields to any explicit choice, whichever
	// order the bits arrive in.
	cur := rfc822.SecOppEncrypt
	cur = ApplySecurityEdit(cur, rfc822.SecSign)
	if cur&rfc822.SecOppEncrypt != 0 {
		t.Error("explicit sign did not clear opportunistic encryption")
	}
	if cur&rfc822.SecSign == 0 {
		t.Error("edit lost")
	}

	cur = rfc822.SecOppEncrypt
	cur = ApplySecurityEdit(cur, rfc822.SecApplicationSmime)
	if cur&rfc822.SecOppEncrypt != 0 {
		t.Error("smime selection did not clear opportunistic encryption")
	}

	// Unrelated edits leave it alone.
	cur = rfc822.SecOppEncrypt
	cur = ApplySecurityEdit(cur, rfc822.SecAutocrypt)
	if cur&rfc822.SecOppEncrypt == 0 {
		t.Error("unrelated edit cleared opportunistic encryption")
	}
}
