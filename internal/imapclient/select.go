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
	"strings"

	"github.com/emersion/go-imap/utf7"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/mailbox"
)

// EncodeMailboxName converts a UTF-8 mailbox name to the modified-UTF-7
// wire form (unless the server accepted UTF8=ACCEPT).
func (c *Client) EncodeMailboxName(name string) string {
	if c.caps["ENABLED:UTF8=ACCEPT"] {
		return name
	}
	encoded, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return name
	}
	return encoded
}

// DecodeMailboxName reverses EncodeMailboxName for LIST results.
func (c *Client) DecodeMailboxName(name string) string {
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}

// Select makes m the session's selected mailbox, issuing EXAMINE for a
// read-only open and SELECT otherwise.
func (c *Client) Select(m *mailbox.Mailbox, readOnly bool) error {
	md, _ := m.Mdata.(*MailboxData)
	if md == nil {
		name := strings.TrimPrefix(m.Path, "imap://")
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		md = newMailboxData(name, c.EncodeMailboxName(name))
		m.Mdata = md
	}

	verb := "SELECT"
	if readOnly {
		verb = "EXAMINE"
	}
	text := fmt.Sprintf("%s %s", verb, quoteString(md.EncodedName))
	if c.Capable("CONDSTORE") && c.View.Bool("imap_condstore", false) {
		text += " (CONDSTORE)"
	}

	prev := c.selected
	c.selected = m

	var rightsCmd *command
	if c.Capable("ACL") {
		// Pipelined ahead of the select; the untagged MYRIGHTS reply
		// fills m.Rights before the SELECT completion is reported.
		cmd, err := c.Exec("MYRIGHTS "+quoteString(md.EncodedName), ModeQueue)
		if err != nil {
			c.selected = prev
			return err
		}
		rightsCmd = cmd
	} else {
		// No way to ask: assume we have all rights.
		m.Rights = mailbox.AllRights
	}

	if _, err := c.Exec(text, ModeNone); err != nil {
		c.selected = prev
		if exterrors.KindOf(err) == exterrors.KindProtocolNo {
			c.state = stateAuthenticated
		}
		return err
	}
	if rightsCmd != nil && rightsCmd.status != statusOK {
		// A server advertising ACL but refusing MYRIGHTS; treat like a
		// server without the extension rather than denying everything.
		c.Log.Msg("MYRIGHTS refused, assuming full rights", "mailbox", md.Name)
		m.Rights = mailbox.AllRights
	}
	c.state = stateSelected
	m.ReadOnly = readOnly || md.ReadOnly
	c.reopen = reopenState{}
	return nil
}

// Unselect leaves the selected state, preferring UNSELECT over CLOSE so
// no implicit expunge happens.
func (c *Client) Unselect() error {
	if c.state != stateSelected {
		return nil
	}
	verb := "CLOSE"
	if c.Capable("UNSELECT") {
		verb = "UNSELECT"
	}
	_, err := c.Exec(verb, ModeNone)
	c.selected = nil
	if c.state == stateSelected {
		c.state = stateAuthenticated
	}
	return err
}

// List runs LIST (or LSUB) and returns the collected entries with names
// decoded back to UTF-8.
func (c *Client) List(ref, pattern string, subscribedOnly bool) ([]ListEntry, error) {
	verb := "LIST"
	if subscribedOnly {
		verb = "LSUB"
	}
	c.lastList = nil
	_, err := c.Exec(fmt.Sprintf("%s %s %s", verb, quoteString(ref), quoteString(pattern)), ModeNone)
	if err != nil {
		return nil, err
	}
	out := make([]ListEntry, 0, len(c.lastList))
	for _, ent := range c.lastList {
		ent.Name = c.DecodeMailboxName(ent.Name)
		out = append(out, ent)
	}
	c.lastList = nil
	return out, nil
}

// Status queries folder counters without selecting it.
func (c *Client) Status(name string) (StatusResult, error) {
	c.lastStatus = nil
	text := fmt.Sprintf("STATUS %s (MESSAGES RECENT UNSEEN UIDNEXT UIDVALIDITY)",
		quoteString(c.EncodeMailboxName(name)))
	if _, err := c.Exec(text, ModeNone); err != nil {
		return StatusResult{}, err
	}
	if len(c.lastStatus) == 0 {
		return StatusResult{}, &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "imap",
			Message: "STATUS returned no data",
		}
	}
	st := c.lastStatus[len(c.lastStatus)-1]
	c.lastStatus = nil
	return st, nil
}

// CreateMailbox issues CREATE.
func (c *Client) CreateMailbox(name string) error {
	_, err := c.Exec("CREATE "+quoteString(c.EncodeMailboxName(name)), ModeNone)
	return err
}

// DeleteMailbox issues DELETE.
func (c *Client) DeleteMailbox(name string) error {
	_, err := c.Exec("DELETE "+quoteString(c.EncodeMailboxName(name)), ModeNone)
	return err
}

// RenameMailbox issues RENAME.
func (c *Client) RenameMailbox(oldName, newName string) error {
	_, err := c.Exec(fmt.Sprintf("RENAME %s %s",
		quoteString(c.EncodeMailboxName(oldName)),
		quoteString(c.EncodeMailboxName(newName))), ModeNone)
	return err
}

// Subscribe or unsubscribe a folder.
func (c *Client) Subscribe(name string, subscribe bool) error {
	verb := "SUBSCRIBE"
	if !subscribe {
		verb = "UNSUBSCRIBE"
	}
	_, err := c.Exec(verb+" "+quoteString(c.EncodeMailboxName(name)), ModeNone)
	return err
}
