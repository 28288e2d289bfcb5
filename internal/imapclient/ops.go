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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/bcache"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Backend is the MxOps implementation for imap:// and imaps:// paths.
type Backend struct {
	Log  log.Logger
	View *config.View

	// Accounts keyed by host:port, each owning one Client connection.
	accounts map[string]*mailbox.Account
}

func NewBackend(view *config.View, logger log.Logger) *Backend {
	return &Backend{
		Log:      logger,
		View:     view,
		accounts: map[string]*mailbox.Account{},
	}
}

func (b *Backend) Name() string       { return "imap" }
func (b *Backend) Kind() mailbox.Kind { return mailbox.KindImap }
func (b *Backend) IsLocalFile() bool  { return false }

func (b *Backend) ProbePath(path string) bool {
	return mailbox.PathKind(path) == mailbox.KindImap
}

func (b *Backend) PathCanon(path string) (string, error) {
	return strings.TrimRight(path, "/"), nil
}

// splitPath separates an imap URL into the server endpoint and the
// mailbox name.
func splitPath(path string) (config.Endpoint, string, error) {
	endp, err := config.ParseEndpoint(path)
	if err != nil {
		return config.Endpoint{}, "", err
	}
	rest := path
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	name := "INBOX"
	if i := strings.IndexByte(rest, '/'); i >= 0 && i+1 < len(rest) {
		name = rest[i+1:]
	}
	return endp, name, nil
}

// client returns (connecting if needed) the Client of the account owning
// the path.
func (b *Backend) client(path string) (*Client, config.Endpoint, string, error) {
	endp, name, err := splitPath(path)
	if err != nil {
		return nil, endp, name, err
	}
	key := endp.Host + ":" + endp.Port

	acct, ok := b.accounts[key]
	if !ok {
		conn := mailbox.Connection{Endpoint: endp}
		c := New(conn, b.View, log.Logger{Out: b.Log.Out, Name: "imap/" + endp.Host, Debug: b.Log.Debug})
		acct = &mailbox.Account{Kind: mailbox.KindImap, Adata: c}
		b.accounts[key] = acct
	}
	c := acct.Adata.(*Client)
	if err := c.Connect(context.Background()); err != nil {
		// Only transient failures are worth a reconnect; auth or
		// protocol errors would just repeat.
		if !exterrors.IsTemporary(err) || (c.state != stateFatal && c.state != stateBye) {
			return nil, endp, name, err
		}
		if rerr := c.Reconnect(context.Background()); rerr != nil {
			return nil, endp, name, rerr
		}
	}
	return c, endp, name, nil
}

func (b *Backend) accountOf(c *Client) *mailbox.Account {
	for _, acct := range b.accounts {
		if acct.Adata == c {
			return acct
		}
	}
	return nil
}

// SetCredentials primes the connection credentials for an endpoint
// before the first open.
func (b *Backend) SetCredentials(endp config.Endpoint, user, password string) {
	key := endp.Host + ":" + endp.Port
	acct, ok := b.accounts[key]
	if !ok {
		conn := mailbox.Connection{Endpoint: endp, User: user, Password: password}
		c := New(conn, b.View, log.Logger{Out: b.Log.Out, Name: "imap/" + endp.Host, Debug: b.Log.Debug})
		b.accounts[key] = &mailbox.Account{Kind: mailbox.KindImap, Adata: c}
		return
	}
	c := acct.Adata.(*Client)
	c.Conn.User = user
	c.Conn.Password = password
}

func (b *Backend) MailboxOpen(m *mailbox.Mailbox) error {
	c, endp, name, err := b.client(m.Path)
	if err != nil {
		return err
	}
	if m.Account == nil {
		b.accountOf(c).Add(m)
	}
	m.Kind = mailbox.KindImap
	m.Realpath = fmt.Sprintf("imap://%s/%s", endp.Address(), name)

	if md, _ := m.Mdata.(*MailboxData); md == nil {
		m.Mdata = newMailboxData(name, c.EncodeMailboxName(name))
	}
	if err := c.Select(m, m.ReadOnly); err != nil {
		return err
	}
	md := m.Mdata.(*MailboxData)

	hc, err := b.openHcache(endp, md)
	if err != nil {
		b.Log.Error("header cache unavailable", err, "mailbox", md.Name)
		hc = nil
	}
	if hc != nil {
		defer hc.Close()
	}

	if md.Messages == 0 {
		m.Emails = nil
		m.Recount()
		return nil
	}
	if md.UIDNext > 0 {
		return c.FetchHeaders(m, hc, 1, md.UIDNext-1)
	}
	return b.fetchByMSN(c, m, md, hc)
}

// fetchByMSN is the fallback import when the server failed to announce
// UIDNEXT.
func (b *Backend) fetchByMSN(c *Client, m *mailbox.Mailbox, md *MailboxData, hc *hcache.Cache) error {
	var fetchErr error
	c.onFetch = func(item *fetchItem) {
		if err := c.importFetchItem(m, md, hc, item); err != nil && fetchErr == nil {
			fetchErr = err
		}
	}
	defer func() { c.onFetch = nil }()

	text := fmt.Sprintf("FETCH 1:%d (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER.FIELDS (%s)])",
		md.Messages, fetchHeaderFields)
	if _, err := c.Exec(text, ModeNone); err != nil {
		return err
	}
	if fetchErr != nil {
		return fetchErr
	}
	c.rebuildEmailArray(m, md)
	m.Recount()
	return nil
}

func (b *Backend) openHcache(endp config.Endpoint, md *MailboxData) (*hcache.Cache, error) {
	root := b.View.Str("header_cache", "")
	if root == "" {
		return nil, nil
	}
	return hcache.Open(root, endp.Host+":"+endp.Port, md.Name, md.UIDValidity, b.Log)
}

func (b *Backend) openBcache(endp config.Endpoint, md *MailboxData) (*bcache.Cache, error) {
	root := b.View.Str("message_cache_dir", "")
	if root == "" {
		return nil, nil
	}
	return bcache.Open(root, endp.Host+":"+endp.Port, md.Name)
}

func (b *Backend) MailboxCheck(m *mailbox.Mailbox) (mailbox.CheckResult, error) {
	c, _, _, err := b.client(m.Path)
	if err != nil {
		return mailbox.CheckNoChange, err
	}
	if c.Selected() != m {
		if err := c.Select(m, m.ReadOnly); err != nil {
			return mailbox.CheckNoChange, err
		}
	}

	if c.KeepaliveDue() {
		if err := c.Idle(c.View.Duration("imap_keepalive", 30*time.Second)); err != nil {
			return mailbox.CheckNoChange, err
		}
	} else if err := c.poll(); err != nil {
		return mailbox.CheckNoChange, err
	}

	result := c.PendingReopen()
	if result == mailbox.CheckNewMail {
		// Import the newly arrived range right away.
		md := m.Mdata.(*MailboxData)
		_, hi := md.knownUIDRange()
		endp, _, _ := splitPath(m.Path)
		hc, err := b.openHcache(endp, md)
		if err != nil {
			hc = nil
		}
		if hc != nil {
			defer hc.Close()
		}
		last := md.UIDNext
		if last > 0 {
			last--
		}
		if last > hi {
			if err := c.FetchHeaders(m, hc, hi+1, last); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (b *Backend) MailboxSync(m *mailbox.Mailbox, expunge bool) error {
	c, endp, _, err := b.client(m.Path)
	if err != nil {
		return err
	}
	if c.Selected() != m {
		if err := c.Select(m, m.ReadOnly); err != nil {
			return err
		}
	}
	md := m.Mdata.(*MailboxData)

	hc, err := b.openHcache(endp, md)
	if err != nil {
		hc = nil
	}
	if hc != nil {
		defer hc.Close()
	}

	if err := c.SyncFlags(m, hc); err != nil {
		return err
	}
	if expunge && !m.ReadOnly {
		if !m.Rights.Can(mailbox.RightExpunge) {
			c.Log.DebugMsg("skipping expunge, ACL forbids it", "mailbox", md.Name)
			return nil
		}
		return c.Expunge(m)
	}
	return nil
}

func (b *Backend) MailboxClose(m *mailbox.Mailbox) error {
	c, _, _, err := b.client(m.Path)
	if err != nil {
		return err
	}
	if c.Selected() == m {
		if err := c.Unselect(); err != nil {
			return err
		}
	}
	if acct := m.Account; acct != nil && acct.Remove(m) {
		return c.Logout()
	}
	return nil
}

// openMessage is the Message implementation over a body-cache file or a
// private tempfile.
type openMessage struct {
	*os.File
	path   string
	unlink bool
}

func (om *openMessage) Path() string { return om.path }

func (om *openMessage) Close() error {
	err := om.File.Close()
	if om.unlink {
		os.Remove(om.path)
	}
	return err
}

func (b *Backend) MsgOpen(m *mailbox.Mailbox, e *rfc822.Email) (mailbox.Message, error) {
	c, endp, _, err := b.client(m.Path)
	if err != nil {
		return nil, err
	}
	ed := edataOf(e)
	if ed == nil || ed.UID == 0 {
		return nil, &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "message without UID"}
	}
	md := m.Mdata.(*MailboxData)
	key := strconv.FormatUint(uint64(ed.UID), 10)

	bc, _ := b.openBcache(endp, md)
	if bc != nil {
		if f, err := bc.Get(key); err == nil {
			return &openMessage{File: f, path: f.Name()}, nil
		}
	}

	if c.Selected() != m {
		if err := c.Select(m, m.ReadOnly); err != nil {
			return nil, err
		}
	}
	body, err := c.FetchBody(ed.UID)
	if err != nil {
		return nil, err
	}

	if bc != nil {
		if err := bc.Copy(key, bytes.NewReader(body)); err == nil {
			if f, err := bc.Get(key); err == nil {
				return &openMessage{File: f, path: f.Name()}, nil
			}
		}
	}

	// No cache: fall back to a private tempfile.
	tmp, err := os.CreateTemp("", "curlew-msg-*")
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &openMessage{File: tmp, path: tmp.Name(), unlink: true}, nil
}

func (b *Backend) MsgCommit(m *mailbox.Mailbox, r io.Reader) error {
	c, _, name, err := b.client(m.Path)
	if err != nil {
		return err
	}
	// Rights are known once the mailbox was opened; zero means it never
	// was, and the server will police the append itself.
	if m.Rights != 0 && !m.Rights.Can(mailbox.RightInsert) {
		return &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "imap", Command: "APPEND",
			Message: "append not permitted by mailbox ACL",
		}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return c.Append(name, nil, body)
}

func (b *Backend) MsgClose(m *mailbox.Mailbox, msg mailbox.Message) error {
	return msg.Close()
}

// TagsEdit rewrites the custom keywords of a message; the change reaches
// the server at the next sync.
func (b *Backend) TagsEdit(m *mailbox.Mailbox, e *rfc822.Email, tags []string) error {
	e.Keywords = append([]string(nil), tags...)
	e.Changed = true
	return nil
}

func init() {
	// The backend registered at init has no configuration; the UI layer
	// replaces it with a configured one at startup.
	mailbox.Register(NewBackend(config.EmptyView(), log.Logger{}))
}
