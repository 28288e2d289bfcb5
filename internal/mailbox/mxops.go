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
	"io"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// CheckResult reports what changed during a mailbox poll.
type CheckResult int

const (
	CheckNoChange CheckResult = iota
	// New mail arrived.
	CheckNewMail
	// Flags or counts changed.
	CheckFlags
	// The mailbox must be fully reopened (reordering, UIDVALIDITY
	// change, renumbered articles).
	CheckReopen
)

// Message is an open message body handle.
type Message interface {
	io.ReadSeeker
	io.Closer
	// Path of the file backing the open message, when one exists.
	Path() string
}

// MxOps is the capability table a storage backend implements. Dispatch is
// by the Kind tag returned by Kind.
type MxOps interface {
	Name() string
	Kind() Kind

	// IsLocalFile reports whether mailboxes of this backend live on the
	// local filesystem.
	IsLocalFile() bool

	// ProbePath reports whether the path belongs to this backend.
	ProbePath(path string) bool
	// PathCanon returns the canonical form of the path.
	PathCanon(path string) (string, error)

	// MailboxOpen fills m.Emails and the counters.
	MailboxOpen(m *Mailbox) error
	// MailboxCheck polls for changes.
	MailboxCheck(m *Mailbox) (CheckResult, error)
	// MailboxSync writes pending flag changes and expunges when asked.
	MailboxSync(m *Mailbox, expunge bool) error
	// MailboxClose releases the mailbox.
	MailboxClose(m *Mailbox) error

	// MsgOpen returns a stream over the raw message bytes.
	MsgOpen(m *Mailbox, e *rfc822.Email) (Message, error)
	// MsgCommit stores a new message into the mailbox.
	MsgCommit(m *Mailbox, r io.Reader) error
	// MsgClose releases an open message.
	MsgClose(m *Mailbox, msg Message) error

	// TagsEdit applies a tag/keyword edit. Backends without tag support
	// return ErrUnsupported.
	TagsEdit(m *Mailbox, e *rfc822.Email, tags []string) error
}

// ErrUnsupported marks operations a backend cannot perform.
var ErrUnsupported = &exterrors.ProtocolError{
	Kind:    exterrors.KindProtocolNo,
	Message: "operation not supported by this mailbox type",
}

var registry []MxOps

// Register adds a backend to the resolution table. Backends register
// from their package init.
func Register(ops MxOps) {
	registry = append(registry, ops)
}

// Resolve finds the backend responsible for a path, trying URL schemes
// first, then backend-specific probing.
func Resolve(path string) (MxOps, error) {
	if kind := PathKind(path); kind != KindUnknown {
		for _, ops := range registry {
			if ops.Kind() == kind {
				return ops, nil
			}
		}
	}
	for _, ops := range registry {
		if ops.ProbePath(path) {
			return ops, nil
		}
	}
	return nil, &exterrors.ProtocolError{
		Kind:    exterrors.KindProtocolNo,
		Message: "no mailbox backend claims path",
		Misc:    map[string]interface{}{"path": path},
	}
}
