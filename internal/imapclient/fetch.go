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
	"sort"
	"strconv"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/rfc822"
	"github.com/curlew-mail/curlew/internal/signal"
)

// fetchHeaderFields is the header subset requested on import; it covers
// everything the Envelope and the index display consume.
const fetchHeaderFields = "DATE FROM SENDER SUBJECT TO CC BCC MESSAGE-ID REFERENCES IN-REPLY-TO REPLY-TO LINES LIST-POST X-LABEL X-ORIGINAL-TO CONTENT-TYPE CONTENT-DESCRIPTION ORGANIZATION X-COMMENT-TO NEWSGROUPS FOLLOWUP-TO"

// FetchHeaders imports the headers of every message with a UID in
// [first, last] into m, consulting hc before going to the wire. Cached
// entries are refreshed with a cheap FLAGS-only fetch; unknown UIDs get a
// full header fetch. New Emails are committed to hc before they are
// linked into the mailbox.
func (c *Client) FetchHeaders(m *mailbox.Mailbox, hc *hcache.Cache, first, last uint32) error {
	md, _ := m.Mdata.(*MailboxData)
	if md == nil {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "mailbox not selected"}
	}
	if first == 0 {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "UID of 0 in fetch range"}
	}

	cached, uncached := partitionByCache(hc, md, first, last)

	var fetchErr error
	c.onFetch = func(item *fetchItem) {
		if err := c.importFetchItem(m, md, hc, item); err != nil && fetchErr == nil {
			fetchErr = err
		}
	}
	defer func() { c.onFetch = nil }()

	for _, set := range uncached {
		text := fmt.Sprintf("UID FETCH %s (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER.FIELDS (%s)])",
			set, fetchHeaderFields)
		if _, err := c.Exec(text, ModeNone); err != nil {
			return err
		}
		if err := signal.PollCancellation(); err != nil {
			return err
		}
	}
	for _, set := range cached {
		if _, err := c.Exec(fmt.Sprintf("UID FETCH %s (UID FLAGS)", set), ModeNone); err != nil {
			return err
		}
		if err := signal.PollCancellation(); err != nil {
			return err
		}
	}
	if fetchErr != nil {
		return fetchErr
	}

	c.rebuildEmailArray(m, md)
	m.Recount()
	return nil
}

// partitionByCache splits [first, last] into UID sets of header-cached
// and unknown messages, skipping UIDs already loaded into the MSN index.
func partitionByCache(hc *hcache.Cache, md *MailboxData, first, last uint32) (cached, uncached []string) {
	var cachedEntries, uncachedEntries []struct{ uid uint32 }

	known := map[uint32]bool{}
	if hc != nil {
		if keys, err := hc.Keys(); err == nil {
			for _, k := range keys {
				if uid, err := strconv.ParseUint(k, 10, 32); err == nil {
					known[uint32(uid)] = true
				}
			}
		}
	}

	for uid := first; uid <= last && uid != 0; uid++ {
		if _, loaded := md.UIDHash[uid]; loaded {
			continue
		}
		if known[uid] {
			cachedEntries = append(cachedEntries, struct{ uid uint32 }{uid})
		} else {
			uncachedEntries = append(uncachedEntries, struct{ uid uint32 }{uid})
		}
	}

	return coalesce(cachedEntries), coalesce(uncachedEntries)
}

func coalesce(entries []struct{ uid uint32 }) []string {
	var out []string
	var start, end uint32
	flush := func() {
		if start == 0 {
			return
		}
		if start == end {
			out = append(out, fmt.Sprintf("%d", start))
		} else {
			out = append(out, fmt.Sprintf("%d:%d", start, end))
		}
	}
	for _, e := range entries {
		switch {
		case start == 0:
			start, end = e.uid, e.uid
		case e.uid == end+1:
			end = e.uid
		default:
			flush()
			start, end = e.uid, e.uid
		}
	}
	flush()
	return out
}

// importFetchItem merges one FETCH reply into the mailbox: hcache entry
// (when present) plus server flags, server flags winning over cached
// flags while locally recorded changes survive.
func (c *Client) importFetchItem(m *mailbox.Mailbox, md *MailboxData, hc *hcache.Cache, item *fetchItem) error {
	if item.uid == 0 {
		return nil
	}
	uidStr := strconv.FormatUint(uint64(item.uid), 10)

	if e, loaded := md.UIDHash[item.uid]; loaded {
		if ed := edataOf(e); ed != nil && item.flagsSeen {
			applyServerFlags(e, ed, item.flags)
		}
		return nil
	}

	var e *rfc822.Email
	fromCache := false
	if hc != nil {
		if cached, ok := hc.Fetch(uidStr); ok {
			e = cached
			fromCache = true
		}
	}
	if e == nil {
		if item.headerText == "" {
			// FLAGS-only reply for a message we expected to have cached.
			// Treat as uncached and let the next import round refetch.
			return nil
		}
		parsed, err := parseHeaderBlock(item.headerText)
		if err != nil {
			// One bad header block does not fail the whole import.
			c.Log.Error("header parse failed", err, "uid", item.uid)
			parseSkips.WithLabelValues("imap").Inc()
			return nil
		}
		e = parsed
	}

	ed := &EmailData{UID: item.uid, MSN: item.msn}
	e.Edata = ed
	e.Active = true
	if item.size > 0 {
		e.Size = item.size
	}
	e.Received = receivedTime(item, e)

	if item.flagsSeen {
		serverFlags, keywords := flagsFromList(item.flags)
		ed.ServerFlags = serverFlags
		ed.ServerKeywords = keywords
		if fromCache {
			// Server flags overwrite cached flags; locally recorded
			// attributes (deletion pending sync) are preserved.
			localDeleted := e.Flags.Deleted && e.Changed
			e.Flags.Read = serverFlags.Read
			e.Flags.Flagged = serverFlags.Flagged
			e.Flags.Replied = serverFlags.Replied
			if !localDeleted {
				e.Flags.Deleted = serverFlags.Deleted
			}
			e.Keywords = append([]string(nil), keywords...)
		} else {
			e.Flags = serverFlags
			e.Keywords = keywords
		}
		for _, kw := range ed.ServerKeywords {
			if kw == "Old" {
				e.Flags.Old = true
				ed.ServerFlags.Old = true
			}
		}
	}

	// Cache commit happens before the message becomes visible in the
	// mailbox, so a crash cannot leave the cache behind the state.
	if hc != nil && !fromCache {
		if err := hc.Store(uidStr, e); err != nil {
			c.Log.Error("hcache store failed", err, "uid", item.uid)
		}
	}
	if hc != nil {
		if fromCache {
			cacheHits.WithLabelValues("imap").Inc()
		} else {
			cacheMisses.WithLabelValues("imap").Inc()
		}
	}

	md.registerEmail(e)
	return nil
}

// rebuildEmailArray regenerates m.Emails from the MSN index, dropping
// vanished entries at this reopen boundary.
func (c *Client) rebuildEmailArray(m *mailbox.Mailbox, md *MailboxData) {
	emails := make([]*rfc822.Email, 0, len(md.MsnIndex))
	for _, e := range md.MsnIndex {
		if e == nil || !e.Active {
			continue
		}
		emails = append(emails, e)
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return edataOf(emails[i]).UID < edataOf(emails[j]).UID
	})
	for i, e := range emails {
		e.Index = i
		e.Msgno = i + 1
	}
	m.Emails = emails
}

// FetchBody retrieves the raw RFC 822 bytes of one message.
func (c *Client) FetchBody(uid uint32) ([]byte, error) {
	if uid == 0 {
		return nil, &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "imap", Message: "UID of 0"}
	}
	var body string
	c.onFetch = func(item *fetchItem) {
		if item.uid == uid || item.uid == 0 {
			body = item.headerText
		}
	}
	defer func() { c.onFetch = nil }()

	if _, err := c.Exec(fmt.Sprintf("UID FETCH %d BODY.PEEK[]", uid), ModeNone); err != nil {
		return nil, err
	}
	if body == "" {
		return nil, &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "imap",
			Message: "message vanished before fetch", Misc: map[string]interface{}{"uid": uid},
		}
	}
	return []byte(body), nil
}

// SearchKeyword runs UID SEARCH KEYWORD and reports matching UIDs.
func (c *Client) SearchKeyword(keyword string) ([]uint32, error) {
	c.lastSearch = nil
	if _, err := c.Exec("UID SEARCH KEYWORD "+keyword, ModeNone); err != nil {
		return nil, err
	}
	out := append([]uint32(nil), c.lastSearch...)
	c.lastSearch = nil
	return out, nil
}
