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

package nntpclient

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/bcache"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Backend is the MxOps implementation for news:// and nntp:// paths.
type Backend struct {
	Log  log.Logger
	View *config.View

	accounts map[string]*account
}

type account struct {
	acct   *mailbox.Account
	client *Client
	newsrc *Newsrc
	ring   *bcache.Ring
}

func NewBackend(view *config.View, logger log.Logger) *Backend {
	return &Backend{
		Log:      logger,
		View:     view,
		accounts: map[string]*account{},
	}
}

func (b *Backend) Name() string       { return "nntp" }
func (b *Backend) Kind() mailbox.Kind { return mailbox.KindNntp }
func (b *Backend) IsLocalFile() bool  { return false }

func (b *Backend) ProbePath(path string) bool {
	return mailbox.PathKind(path) == mailbox.KindNntp
}

func (b *Backend) PathCanon(path string) (string, error) {
	return strings.TrimRight(path, "/"), nil
}

func (b *Backend) account(path string) (*account, error) {
	endp, err := config.ParseEndpoint(path)
	if err != nil {
		return nil, err
	}
	key := endp.Host + ":" + endp.Port
	a, ok := b.accounts[key]
	if !ok {
		conn := mailbox.Connection{Endpoint: endp}
		c := New(conn, b.View, log.Logger{Out: b.Log.Out, Name: "nntp/" + endp.Host, Debug: b.Log.Debug})
		a = &account{
			acct:   &mailbox.Account{Kind: mailbox.KindNntp, Adata: c},
			client: c,
			ring:   bcache.NewRing(bcache.DefaultRingSize),
		}
		b.accounts[key] = a
	}
	if err := a.client.Connect(context.Background()); err != nil {
		return nil, err
	}
	if a.newsrc == nil {
		path := b.View.Str("newsrc", "")
		if path == "" {
			path = filepath.Join(os.TempDir(), "curlew-newsrc-"+endp.Host)
		} else {
			path = strings.ReplaceAll(path, "%s", endp.Host)
		}
		nrc, err := LoadNewsrc(path)
		if err != nil {
			return nil, err
		}
		a.newsrc = nrc
	}
	return a, nil
}

func (b *Backend) openHcache(a *account, gd *GroupData) (*hcache.Cache, error) {
	root := b.View.Str("header_cache", "")
	if root == "" {
		return nil, nil
	}
	endp := a.client.Conn.Endpoint
	return hcache.Open(root, endp.Host+":"+endp.Port, gd.Group, 0, b.Log)
}

func (b *Backend) openBcache(a *account, gd *GroupData) (*bcache.Cache, error) {
	root := b.View.Str("message_cache_dir", "")
	if root == "" {
		return nil, nil
	}
	endp := a.client.Conn.Endpoint
	return bcache.Open(root, endp.Host+":"+endp.Port, gd.Group)
}

func (b *Backend) MailboxOpen(m *mailbox.Mailbox) error {
	a, err := b.account(m.Path)
	if err != nil {
		return err
	}
	if m.Account == nil {
		a.acct.Add(m)
	}
	m.Kind = mailbox.KindNntp

	gd, _ := m.Mdata.(*GroupData)
	var hc *hcache.Cache
	if gd != nil {
		hc, _ = b.openHcache(a, gd)
	}
	gd, err = a.client.SelectGroup(m, hc)
	if hc != nil {
		hc.Close()
	}
	if err != nil {
		return err
	}
	gd.Subscribed = true

	hc, err = b.openHcache(a, gd)
	if err != nil {
		b.Log.Error("header cache unavailable", err, "group", gd.Group)
		hc = nil
	}
	if hc != nil {
		defer hc.Close()
	}
	return a.client.FetchHeaders(m, hc, a.newsrc, gd.First, gd.Last)
}

func (b *Backend) MailboxCheck(m *mailbox.Mailbox) (mailbox.CheckResult, error) {
	a, err := b.account(m.Path)
	if err != nil {
		return mailbox.CheckNoChange, err
	}
	gd, _ := m.Mdata.(*GroupData)
	if gd == nil {
		return mailbox.CheckNoChange, &exterrors.ProtocolError{
			Kind: exterrors.KindAborted, Protocol: "nntp", Message: "mailbox not open",
		}
	}
	prevFirst, prevLast := gd.First, gd.Last

	hc, _ := b.openHcache(a, gd)
	if hc != nil {
		defer hc.Close()
	}
	if _, err := a.client.SelectGroup(m, hc); err != nil {
		return mailbox.CheckNoChange, err
	}

	switch {
	case gd.Last < prevLast:
		return mailbox.CheckReopen, nil
	case gd.Last > prevLast:
		if err := a.client.FetchHeaders(m, hc, a.newsrc, prevLast+1, gd.Last); err != nil {
			return mailbox.CheckNewMail, err
		}
		return mailbox.CheckNewMail, nil
	case gd.First != prevFirst:
		return mailbox.CheckFlags, nil
	}
	return mailbox.CheckNoChange, nil
}

// MailboxSync folds the read flags into the newsrc ranges and writes the
// file back.
func (b *Backend) MailboxSync(m *mailbox.Mailbox, expunge bool) error {
	a, err := b.account(m.Path)
	if err != nil {
		return err
	}
	gd, _ := m.Mdata.(*GroupData)
	if gd == nil {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "nntp", Message: "mailbox not open"}
	}

	for _, e := range m.Emails {
		ad := adataOf(e)
		if ad == nil || !e.Changed {
			continue
		}
		if e.Flags.Read || e.Flags.Deleted {
			// Deleting a news article just means never seeing it again.
			a.newsrc.MarkRead(gd.Group, ad.Num)
		} else {
			a.newsrc.MarkUnread(gd.Group, ad.Num)
		}
		e.Changed = false
	}
	if err := a.newsrc.Save(); err != nil {
		return err
	}
	m.Recount()
	return nil
}

func (b *Backend) MailboxClose(m *mailbox.Mailbox) error {
	a, err := b.account(m.Path)
	if err != nil {
		return err
	}
	if acct := m.Account; acct != nil && acct.Remove(m) {
		a.ring.Drop()
		return a.client.Quit()
	}
	return nil
}

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
	a, err := b.account(m.Path)
	if err != nil {
		return nil, err
	}
	gd, _ := m.Mdata.(*GroupData)
	ad := adataOf(e)
	if gd == nil || ad == nil || ad.Num == 0 {
		return nil, &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "nntp", Message: "article without number"}
	}
	key := strconv.FormatUint(uint64(ad.Num), 10)

	bc, _ := b.openBcache(a, gd)
	if bc != nil {
		if f, err := bc.Get(key); err == nil {
			return &openMessage{File: f, path: f.Name()}, nil
		}
	}

	if a.client.group != gd {
		hc, _ := b.openHcache(a, gd)
		_, err := a.client.SelectGroup(m, hc)
		if hc != nil {
			hc.Close()
		}
		if err != nil {
			return nil, err
		}
	}
	body, err := a.client.FetchArticle(ad.Num)
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

	// Neither GET nor PUT worked: use a process-private tempfile held in
	// the account's ring, which every open group of the server shares and
	// which is dropped when the last of them closes; eviction unlinks it.
	tmp, err := os.CreateTemp("", "curlew-art-*")
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
	a.ring.Add(tmp.Name())
	return &openMessage{File: tmp, path: tmp.Name()}, nil
}

// MsgCommit posts an article to the server.
func (b *Backend) MsgCommit(m *mailbox.Mailbox, r io.Reader) error {
	a, err := b.account(m.Path)
	if err != nil {
		return err
	}
	return a.client.Post(r)
}

func (b *Backend) MsgClose(m *mailbox.Mailbox, msg mailbox.Message) error {
	return msg.Close()
}

func (b *Backend) TagsEdit(m *mailbox.Mailbox, e *rfc822.Email, tags []string) error {
	return mailbox.ErrUnsupported
}

func init() {
	mailbox.Register(NewBackend(config.EmptyView(), log.Logger{}))
}
