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
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// MailboxData is the imap-specific mailbox state (Mailbox.Mdata).
type MailboxData struct {
	// Mailbox name in UTF-8 and in its modified-UTF-7 wire form.
	Name        string
	EncodedName string

	UIDValidity uint32
	UIDNext     uint32
	ModSeq      uint64

	// Last EXISTS count reported by the server.
	Messages int
	Recent   int

	Flags          []string
	PermanentFlags []string
	ReadOnly       bool

	// MsnIndex[n] is the Email whose MSN is n+1, or nil when that MSN is
	// not loaded. Expunged messages are removed from the index.
	MsnIndex []*rfc822.Email
	// UIDHash maps a UID onto its Email.
	UIDHash map[uint32]*rfc822.Email
}

// EmailData is the imap-specific per-message state (Email.Edata).
//
// ServerFlags/ServerKeywords mirror what the server last reported; the
// difference between them and the Email's flags is what a sync pushes.
type EmailData struct {
	UID uint32
	MSN int

	ServerFlags    rfc822.Flags
	ServerKeywords []string
}

func edataOf(e *rfc822.Email) *EmailData {
	if e == nil {
		return nil
	}
	ed, _ := e.Edata.(*EmailData)
	return ed
}

func newMailboxData(name, encoded string) *MailboxData {
	return &MailboxData{
		Name:        name,
		EncodedName: encoded,
		UIDHash:     map[uint32]*rfc822.Email{},
	}
}

// registerEmail places an email at its MSN position, growing the index as
// EXISTS grows.
func (md *MailboxData) registerEmail(e *rfc822.Email) {
	ed := edataOf(e)
	if ed == nil || ed.UID == 0 || ed.MSN < 1 {
		return
	}
	for len(md.MsnIndex) < ed.MSN {
		md.MsnIndex = append(md.MsnIndex, nil)
	}
	md.MsnIndex[ed.MSN-1] = e
	md.UIDHash[ed.UID] = e
}

// expungeMSN applies "* n EXPUNGE": the email at MSN n is marked
// vanished, the MSN index is compacted and the messages after it are
// renumbered. Neither the MSN table nor the UID hash keeps a dangling
// reference.
func (md *MailboxData) expungeMSN(msn int) *rfc822.Email {
	if msn < 1 || msn > len(md.MsnIndex) {
		return nil
	}
	e := md.MsnIndex[msn-1]
	if e != nil {
		e.Active = false
		e.Index = rfc822.IndexVanished
		if ed := edataOf(e); ed != nil {
			delete(md.UIDHash, ed.UID)
			ed.MSN = 0
		}
	}
	md.MsnIndex = append(md.MsnIndex[:msn-1], md.MsnIndex[msn:]...)
	for i := msn - 1; i < len(md.MsnIndex); i++ {
		if ed := edataOf(md.MsnIndex[i]); ed != nil {
			ed.MSN = i + 1
		}
	}
	if md.Messages > 0 {
		md.Messages--
	}
	return e
}

// vanishUID applies one element of a VANISHED set.
func (md *MailboxData) vanishUID(uid uint32) *rfc822.Email {
	e, ok := md.UIDHash[uid]
	if !ok {
		return nil
	}
	if ed := edataOf(e); ed != nil && ed.MSN >= 1 {
		return md.expungeMSN(ed.MSN)
	}
	e.Active = false
	e.Index = rfc822.IndexVanished
	delete(md.UIDHash, uid)
	return e
}

// knownUIDRange reports the lowest and highest UID currently loaded.
func (md *MailboxData) knownUIDRange() (lo, hi uint32) {
	for uid := range md.UIDHash {
		if lo == 0 || uid < lo {
			lo = uid
		}
		if uid > hi {
			hi = uid
		}
	}
	return lo, hi
}
