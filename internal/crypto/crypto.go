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

// Package crypto routes encrypted and signed message parts to a pluggable
// backend. Cryptographic primitives never live here.
package crypto

import (
	"bytes"
	"io"
	"strings"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Verdict is the signature-verification outcome for one part.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictGood
	VerdictBad
	VerdictWarn
)

// Backend performs the actual cryptographic operations. PGP and S/MIME
// front-ends implement it by driving the respective external tooling.
type Backend interface {
	Name() string

	// DecryptMIME decrypts the encrypted part read from src and returns
	// the plaintext MIME entity bytes.
	DecryptMIME(src io.Reader) ([]byte, error)
	// VerifySignedMIME checks the detached signature sig over the signed
	// material.
	VerifySignedMIME(signed, sig io.Reader) (Verdict, error)
	// SignMessage wraps the serialized entity in a signed structure.
	SignMessage(entity []byte) ([]byte, error)
	// EncryptMessage encrypts the serialized entity to the recipients.
	EncryptMessage(entity []byte, recipients []string) ([]byte, error)
}

// Dispatcher routes crypto-bearing MIME structures to the selected
// backend and caches decrypted subtrees so re-viewing a message does not
// re-run the backend.
type Dispatcher struct {
	Pgp   Backend
	Smime Backend
	Log   log.Logger

	decrypted map[*rfc822.Body]*Decrypted
}

// Decrypted is a cached decryption result: the plaintext entity bytes and
// the tree parsed out of them.
type Decrypted struct {
	Raw   []byte
	Email *rfc822.Email
}

func NewDispatcher(pgp, smime Backend) *Dispatcher {
	return &Dispatcher{
		Pgp:       pgp,
		Smime:     smime,
		decrypted: make(map[*rfc822.Body]*Decrypted),
	}
}

// Classify inspects a part and reports the security bits implied by its
// MIME structure.
func Classify(b *rfc822.Body) rfc822.SecurityFlags {
	if b.Type == rfc822.TypeMultipart {
		proto, _ := b.Params.Get("protocol")
		switch b.Subtype {
		case "encrypted":
			if strings.EqualFold(proto, "application/pgp-encrypted") {
				return rfc822.SecEncrypt | rfc822.SecApplicationPgp
			}
			return rfc822.SecEncrypt
		case "signed":
			switch {
			case strings.EqualFold(proto, "application/pgp-signature"):
				return rfc822.SecSign | rfc822.SecApplicationPgp
			case strings.EqualFold(proto, "application/pkcs7-signature"),
				strings.EqualFold(proto, "application/x-pkcs7-signature"):
				return rfc822.SecSign | rfc822.SecApplicationSmime
			}
			return rfc822.SecSign
		}
	}
	if b.Type == rfc822.TypeApplication {
		switch b.Subtype {
		case "pkcs7-mime", "x-pkcs7-mime":
			return rfc822.SecEncrypt | rfc822.SecApplicationSmime
		case "pgp", "pgp-encrypted":
			return rfc822.SecEncrypt | rfc822.SecApplicationPgp | rfc822.SecInline
		}
	}
	return 0
}

func (d *Dispatcher) backendFor(sec rfc822.SecurityFlags) Backend {
	if sec&rfc822.SecApplicationSmime != 0 {
		return d.Smime
	}
	return d.Pgp
}

// Decrypt resolves a multipart/encrypted (or S/MIME enveloped) part to
// its plaintext tree, consulting the subtree cache first. src must
// deliver the raw bytes of the encrypted payload part.
func (d *Dispatcher) Decrypt(b *rfc822.Body, src io.Reader) (*Decrypted, error) {
	if cached, ok := d.decrypted[b]; ok {
		return cached, nil
	}

	backend := d.backendFor(Classify(b))
	if backend == nil {
		return nil, &exterrors.ProtocolError{
			Kind:    exterrors.KindAborted,
			Message: "no crypto backend configured",
		}
	}

	raw, err := backend.DecryptMIME(src)
	if err != nil {
		return nil, err
	}
	email, err := rfc822.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	result := &Decrypted{Raw: raw, Email: email}
	d.decrypted[b] = result
	d.Log.DebugMsg("decrypted part", "backend", backend.Name(), "bytes", len(raw))
	return result, nil
}

// Verify checks a multipart/signed container: parts[0] is the signed
// material, parts[1] the detached signature. The verdict flags are
// stamped onto the container.
func (d *Dispatcher) Verify(b *rfc822.Body, signed, sig io.Reader) (Verdict, error) {
	backend := d.backendFor(Classify(b))
	if backend == nil {
		return VerdictNone, &exterrors.ProtocolError{
			Kind:    exterrors.KindAborted,
			Message: "no crypto backend configured",
		}
	}
	verdict, err := backend.VerifySignedMIME(signed, sig)
	if err != nil {
		return VerdictNone, err
	}
	b.GoodSig = verdict == VerdictGood
	b.BadSig = verdict == VerdictBad
	b.WarnSig = verdict == VerdictWarn
	return verdict, nil
}

// Forget drops cached plaintext for the part (or everything when b is
// nil). Called when the owning message is released.
func (d *Dispatcher) Forget(b *rfc822.Body) {
	if b == nil {
		d.decrypted = make(map[*rfc822.Body]*Decrypted)
		return
	}
	delete(d.decrypted, b)
}

// ApplySecurityEdit merges an explicit user edit into the security
// bitmask.
//
// Opportunistic encryption never overrides the user: the moment the user
// explicitly requests signing, encryption or S/MIME, SecOppEncrypt is
// cleared, before the new bits are merged, so the explicit choice wins
// regardless of the order the bits arrive in.
func ApplySecurityEdit(current, edit rfc822.SecurityFlags) rfc822.SecurityFlags {
	if edit&(rfc822.SecEncrypt|rfc822.SecSign|rfc822.SecApplicationSmime) != 0 {
		current &^= rfc822.SecOppEncrypt
	}
	return current | edit
}

