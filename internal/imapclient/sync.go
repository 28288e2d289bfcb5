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
	"fmt"
	"strconv"
	"strings"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/msgset"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// flagSpec binds one user-visible flag to its wire atom, the ACL right
// storing it requires, and its accessors.
type flagSpec struct {
	atom   string
	right  mailbox.Rights
	local  func(*rfc822.Email) bool
	server func(*EmailData) bool
	mirror func(*EmailData, bool)
}

var flagSpecs = []flagSpec{
	{`\Deleted`, mailbox.RightDeleteMsg,
		func(e *rfc822.Email) bool { return e.Flags.Deleted },
		func(ed *EmailData) bool { return ed.ServerFlags.Deleted },
		func(ed *EmailData, v bool) { ed.ServerFlags.Deleted = v }},
	{`\Flagged`, mailbox.RightWrite,
		func(e *rfc822.Email) bool { return e.Flags.Flagged },
		func(ed *EmailData) bool { return ed.ServerFlags.Flagged },
		func(ed *EmailData, v bool) { ed.ServerFlags.Flagged = v }},
	{`Old`, mailbox.RightWrite,
		func(e *rfc822.Email) bool { return e.Flags.Old },
		func(ed *EmailData) bool { return ed.ServerFlags.Old },
		func(ed *EmailData, v bool) { ed.ServerFlags.Old = v }},
	{`\Seen`, mailbox.RightSeen,
		func(e *rfc822.Email) bool { return e.Flags.Read },
		func(ed *EmailData) bool { return ed.ServerFlags.Read },
		func(ed *EmailData, v bool) { ed.ServerFlags.Read = v }},
	{`\Answered`, mailbox.RightWrite,
		func(e *rfc822.Email) bool { return e.Flags.Replied },
		func(ed *EmailData) bool { return ed.ServerFlags.Replied },
		func(ed *EmailData, v bool) { ed.ServerFlags.Replied = v }},
}

// SyncFlags pushes every pending flag change to the server as batched
// "UID STORE <set> ±FLAGS.SILENT (<flag>)" commands, then reconciles the
// hcache and the in-memory server mirror.
//
// A batch the server refuses with NO aborts only itself; the remaining
// batches still run and the first refusal is reported at the end. Any
// other error ends the sync at once. An empty flag delta is
// never sent: a message with nothing to add simply does not appear in any
// add-set.
func (c *Client) SyncFlags(m *mailbox.Mailbox, hc *hcache.Cache) error {
	md, _ := m.Mdata.(*MailboxData)
	if md == nil {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "mailbox not selected"}
	}

	entries := make([]msgset.Entry, 0, len(m.Emails))
	for i, e := range m.Emails {
		if ed := edataOf(e); ed != nil && e.Active {
			entries = append(entries, msgset.Entry{UID: ed.UID, Pos: i})
		}
	}

	var firstErr error
	for _, spec := range flagSpecs {
		// A flag the ACL does not let us store stays local-only.
		if !m.Rights.Can(spec.right) {
			continue
		}
		for _, add := range []bool{true, false} {
			spec := spec
			add := add
			pred := func(ent msgset.Entry) bool {
				e := m.Emails[ent.Pos]
				ed := edataOf(e)
				if ed == nil || !e.Changed {
					return false
				}
				return spec.local(e) == add && spec.server(ed) != spec.local(e)
			}

			sign := "+"
			if !add {
				sign = "-"
			}
			prefix := fmt.Sprintf("UID STORE  %sFLAGS.SILENT (%s)", sign, spec.atom)
			sets := msgset.Build(entries, len(prefix), pred)
			for _, set := range sets {
				text := fmt.Sprintf("UID STORE %s %sFLAGS.SILENT (%s)", set, sign, spec.atom)
				if _, err := c.Exec(text, ModeNone); err != nil {
					if exterrors.KindOf(err) != exterrors.KindProtocolNo {
						return err
					}
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				c.commitFlagBatch(m, hc, set, spec, add)
			}
		}
	}

	if err := c.syncKeywords(m, hc); err != nil && firstErr == nil {
		firstErr = err
	}

	// Messages whose every storable dirty flag now matches the mirror
	// are clean. Flags the ACL withholds do not keep a message dirty
	// forever.
	for _, e := range m.Emails {
		ed := edataOf(e)
		if ed == nil || !e.Changed {
			continue
		}
		clean := true
		for _, spec := range flagSpecs {
			if m.Rights.Can(spec.right) && spec.local(e) != spec.server(ed) {
				clean = false
				break
			}
		}
		if clean && keywordsEqual(e.Keywords, ed.ServerKeywords) {
			e.Changed = false
		}
	}
	m.Recount()
	return firstErr
}

// commitFlagBatch records a successful STORE: the header cache is written
// first, then the in-memory mirror, so a crash between the two leaves the
// cache no newer than the server.
func (c *Client) commitFlagBatch(m *mailbox.Mailbox, hc *hcache.Cache, set string, spec flagSpec, add bool) {
	uids, err := msgset.Parse(set)
	if err != nil {
		return
	}
	md, _ := m.Mdata.(*MailboxData)
	for _, uid := range uids {
		e := md.UIDHash[uid]
		ed := edataOf(e)
		if e == nil || ed == nil {
			continue
		}
		if hc != nil {
			if err := hc.Store(strconv.FormatUint(uint64(uid), 10), e); err != nil {
				c.Log.Error("hcache store failed", err, "uid", uid)
			}
		}
		spec.mirror(ed, add)
	}
}

// syncKeywords pushes custom IMAP keyword changes as a per-message diff.
func (c *Client) syncKeywords(m *mailbox.Mailbox, hc *hcache.Cache) error {
	md, _ := m.Mdata.(*MailboxData)
	if !c.keywordsAllowed(m, md) {
		return nil
	}

	var firstErr error
	for _, e := range m.Emails {
		ed := edataOf(e)
		if ed == nil || !e.Changed || keywordsEqual(e.Keywords, ed.ServerKeywords) {
			continue
		}
		added, removed := keywordDiff(ed.ServerKeywords, e.Keywords)
		ok := true
		if len(added) > 0 {
			text := fmt.Sprintf("UID STORE %d +FLAGS.SILENT (%s)", ed.UID, strings.Join(added, " "))
			if _, err := c.Exec(text, ModeNone); err != nil {
				if exterrors.KindOf(err) != exterrors.KindProtocolNo {
					return err
				}
				if firstErr == nil {
					firstErr = err
				}
				ok = false
			}
		}
		if ok && len(removed) > 0 {
			text := fmt.Sprintf("UID STORE %d -FLAGS.SILENT (%s)", ed.UID, strings.Join(removed, " "))
			if _, err := c.Exec(text, ModeNone); err != nil {
				if exterrors.KindOf(err) != exterrors.KindProtocolNo {
					return err
				}
				if firstErr == nil {
					firstErr = err
				}
				ok = false
			}
		}
		if ok {
			if hc != nil {
				if err := hc.Store(strconv.FormatUint(uint64(ed.UID), 10), e); err != nil {
					c.Log.Error("hcache store failed", err, "uid", ed.UID)
				}
			}
			ed.ServerKeywords = append([]string(nil), e.Keywords...)
		}
	}
	return firstErr
}

// keywordsAllowed reports whether the server accepts arbitrary atoms
// (PERMANENTFLAGS containing \*).
func (c *Client) keywordsAllowed(m *mailbox.Mailbox, md *MailboxData) bool {
	if md == nil || !m.Rights.Can(mailbox.RightWrite) {
		return false
	}
	for _, f := range md.PermanentFlags {
		if f == `\*` {
			return true
		}
	}
	return false
}

func keywordDiff(old, new []string) (added, removed []string) {
	oldSet := map[string]bool{}
	for _, k := range old {
		oldSet[k] = true
	}
	newSet := map[string]bool{}
	for _, k := range new {
		newSet[k] = true
		if !oldSet[k] && k != "Old" {
			added = append(added, k)
		}
	}
	for _, k := range old {
		if !newSet[k] && k != "Old" {
			removed = append(removed, k)
		}
	}
	return added, removed
}

func keywordsEqual(a, b []string) bool {
	add, rem := keywordDiff(a, b)
	return len(add) == 0 && len(rem) == 0
}

// Expunge asks the server to remove \Deleted messages. The resulting
// untagged EXPUNGE responses compact the MSN index; the email array is
// rebuilt afterwards.
func (c *Client) Expunge(m *mailbox.Mailbox) error {
	md, _ := m.Mdata.(*MailboxData)
	if md == nil {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "mailbox not selected"}
	}
	if !m.Rights.Can(mailbox.RightExpunge) {
		return &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "imap", Command: "EXPUNGE",
			Message: "expunge not permitted by mailbox ACL",
		}
	}
	if _, err := c.Exec("EXPUNGE", ModeNone); err != nil {
		return err
	}
	c.rebuildEmailArray(m, md)
	m.Recount()
	return nil
}

// CopyMessages copies the given messages to another mailbox with UID
// COPY. On [TRYCREATE] the target is created and the copy retried once.
func (c *Client) CopyMessages(m *mailbox.Mailbox, dest string, uids []uint32) error {
	entries := make([]msgset.Entry, len(uids))
	for i, uid := range uids {
		entries[i] = msgset.Entry{UID: uid, Pos: i}
	}
	destName := quoteString(c.EncodeMailboxName(dest))
	prefix := "UID COPY  " + destName
	sets := msgset.Build(entries, len(prefix), func(msgset.Entry) bool { return true })

	for _, set := range sets {
		text := fmt.Sprintf("UID COPY %s %s", set, destName)
		cmd, err := c.Exec(text, ModeNone)
		if err == nil {
			continue
		}
		if exterrors.KindOf(err) != exterrors.KindProtocolNo || cmd == nil ||
			!strings.Contains(strings.ToUpper(cmd.trailer), "[TRYCREATE]") {
			return err
		}
		if err := c.CreateMailbox(dest); err != nil {
			return err
		}
		if _, err := c.Exec(text, ModeNone); err != nil {
			return err
		}
	}
	return nil
}

// Append stores a full message into the named mailbox using a
// synchronizing literal.
func (c *Client) Append(dest string, flags []string, body []byte) error {
	flagStr := ""
	if len(flags) > 0 {
		flagStr = " (" + strings.Join(flags, " ") + ")"
	}
	text := fmt.Sprintf("APPEND %s%s {%d}",
		quoteString(c.EncodeMailboxName(dest)), flagStr, len(body))

	cmd, err := c.start(text, ModeNone)
	if err != nil {
		return err
	}
	// Wait for the continuation request before shipping the literal.
	for !cmd.done {
		cont, err := c.step(cmd)
		if err != nil {
			return err
		}
		if cont {
			if err := c.writeRaw(string(body) + "\r\n"); err != nil {
				return err
			}
		}
	}
	return c.statusErr(cmd)
}

// FlagsForAppend renders the message flags as an APPEND flag list.
func FlagsForAppend(e *rfc822.Email) []string {
	var out []string
	if e.Flags.Read {
		out = append(out, `\Seen`)
	}
	if e.Flags.Replied {
		out = append(out, `\Answered`)
	}
	if e.Flags.Flagged {
		out = append(out, `\Flagged`)
	}
	if e.Flags.Deleted {
		out = append(out, `\Deleted`)
	}
	return out
}
