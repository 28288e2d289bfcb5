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

// Package mailbox defines the mailbox/account model and the capability
// interface every storage backend implements.
package mailbox

import (
	"strings"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Kind tags a mailbox backend.
type Kind int

const (
	KindUnknown Kind = iota
	KindMbox
	KindMaildir
	KindMH
	KindImap
	KindPop
	KindNntp
	KindNotmuch
	KindCompressed
)

func (k Kind) String() string {
	switch k {
	case KindMbox:
		return "mbox"
	case KindMaildir:
		return "maildir"
	case KindMH:
		return "mh"
	case KindImap:
		return "imap"
	case KindPop:
		return "pop"
	case KindNntp:
		return "nntp"
	case KindNotmuch:
		return "notmuch"
	case KindCompressed:
		return "compressed"
	}
	return "unknown"
}

// ACL rights a backend may grant on a mailbox.
type Rights uint16

const (
	RightLookup Rights = 1 << iota
	RightRead
	RightSeen
	RightWrite
	RightInsert
	RightPost
	RightCreate
	RightDelete
	RightDeleteMsg
	RightExpunge
	RightAdmin
)

// AllRights is the fallback when the server cannot report ACLs: a
// backend without the ACL extension grants everything.
const AllRights = RightLookup | RightRead | RightSeen | RightWrite |
	RightInsert | RightPost | RightCreate | RightDelete |
	RightDeleteMsg | RightExpunge | RightAdmin

// Can reports whether every given right is held.
func (r Rights) Can(want Rights) bool {
	return r&want == want
}

// Mailbox is one open (or openable) folder.
type Mailbox struct {
	Kind     Kind
	Path     string
	Realpath string

	// Message array indexed by message number. Entries of expunged
	// messages stay until the next reopen boundary.
	Emails []*rfc822.Email

	MsgCount   int
	MsgUnread  int
	MsgFlagged int
	MsgNew     int
	MsgDeleted int
	SizeTotal  int64

	Rights   Rights
	ReadOnly bool

	// Backend-specific mailbox data.
	Mdata interface{}

	Account *Account
}

// Recount recomputes the counters from the message array.
func (m *Mailbox) Recount() {
	m.MsgCount = 0
	m.MsgUnread = 0
	m.MsgFlagged = 0
	m.MsgNew = 0
	m.MsgDeleted = 0
	m.SizeTotal = 0
	for _, e := range m.Emails {
		if e == nil || !e.Active {
			continue
		}
		m.MsgCount++
		m.SizeTotal += e.Size
		if !e.Flags.Read {
			m.MsgUnread++
			if !e.Flags.Old {
				m.MsgNew++
			}
		}
		if e.Flags.Flagged {
			m.MsgFlagged++
		}
		if e.Flags.Deleted {
			m.MsgDeleted++
		}
	}
}

// SetFlag mutates one user-visible flag and maintains the Changed
// invariant: Changed is true iff some flag differs from the mirrored
// backend state.
func SetFlag(e *rfc822.Email, set func(*rfc822.Flags), mirror func(rfc822.Flags) bool) {
	set(&e.Flags)
	e.Changed = !mirror(e.Flags)
}

// Account groups mailboxes sharing one server connection.
type Account struct {
	Kind Kind
	// Backend-specific account data, notably the protocol connection.
	Adata     interface{}
	Mailboxes []*Mailbox
}

// Add links a mailbox into the account.
func (a *Account) Add(m *Mailbox) {
	m.Account = a
	a.Mailboxes = append(a.Mailboxes, m)
}

// Remove unlinks a mailbox; it reports whether the account became empty.
func (a *Account) Remove(m *Mailbox) bool {
	for i, have := range a.Mailboxes {
		if have == m {
			a.Mailboxes = append(a.Mailboxes[:i], a.Mailboxes[i+1:]...)
			m.Account = nil
			break
		}
	}
	return len(a.Mailboxes) == 0
}

// Connection describes one server connection. The live transport lives in
// the protocol client owning the Account's Adata.
type Connection struct {
	Endpoint config.Endpoint
	User     string
	Password string
	// Security strength factor: 0 for plaintext, >0 once TLS (or an
	// equally strong SASL layer) is active.
	SSF int
}

// PathKind guesses the backend responsible for a mailbox path.
func PathKind(path string) Kind {
	switch {
	case strings.HasPrefix(path, "imap://"), strings.HasPrefix(path, "imaps://"):
		return KindImap
	case strings.HasPrefix(path, "pop://"), strings.HasPrefix(path, "pops://"):
		return KindPop
	case strings.HasPrefix(path, "news://"), strings.HasPrefix(path, "nntp://"),
		strings.HasPrefix(path, "snews://"), strings.HasPrefix(path, "nntps://"):
		return KindNntp
	case strings.HasPrefix(path, "notmuch://"):
		return KindNotmuch
	}
	return KindUnknown
}
