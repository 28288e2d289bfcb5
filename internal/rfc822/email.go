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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SecurityFlags is the cryptographic state bitmask of a message.
type SecurityFlags uint32

const (
	SecSign SecurityFlags = 1 << iota
	SecEncrypt
	SecPartSign
	SecGoodSign
	SecBadSign
	SecApplicationPgp
	SecApplicationSmime
	SecInline
	SecOppEncrypt
	SecAutocrypt
	SecAutocryptOverride
)

// Flags holds the user-visible message flags.
type Flags struct {
	Deleted   bool
	Purge     bool
	Tagged    bool
	Read      bool
	Old       bool
	Flagged   bool
	Replied   bool
	AttachDel bool
	NoConv    bool
}

// Email is one message: an envelope, a MIME tree, and the client-side
// bookkeeping around them.
type Email struct {
	Envelope *Envelope
	Content  *Body

	Security SecurityFlags
	Flags    Flags

	// Changed is true iff any user-visible flag differs from the cached
	// server state (remote) or the on-disk state (local).
	Changed bool
	// Active marks messages still present on the server. An expunged
	// message stays in the array, inactive, until the next reopen.
	Active bool

	// Custom IMAP keywords set on the message.
	Keywords []string

	Lines int
	// Position in the mailbox display order. Expunged messages are moved
	// to the end by setting Index to IndexVanished.
	Index int
	Msgno int

	Size     int64
	Received time.Time

	// Backend-specific per-message data (e.g. imapclient.EmailData).
	Edata interface{}
}

// IndexVanished is the Index value of messages expunged on the server but
// not yet removed from the in-memory array.
const IndexVanished = int(^uint(0) >> 1)

func NewEmail() *Email {
	return &Email{
		Envelope: NewEnvelope(),
		Content:  NewBody(),
		Active:   true,
	}
}

// Free drops the backend data and the content tree. The Go runtime
// reclaims the rest; explicit Free exists so backends can release
// non-memory resources tied to Edata.
func (e *Email) Free() {
	if r, ok := e.Edata.(interface{ Release() }); ok {
		r.Release()
	}
	e.Edata = nil
	e.Content = nil
	e.Envelope = nil
}

// GenerateMessageID produces a new globally unique Message-ID for the
// given sending domain.
func GenerateMessageID(domain string) string {
	if domain == "" {
		domain = "localhost.localdomain"
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
