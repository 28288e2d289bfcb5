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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/rfc822"
	"github.com/curlew-mail/curlew/internal/signal"
)

// GroupData is the nntp-specific mailbox state (Mailbox.Mdata).
type GroupData struct {
	Group string

	// First/last article numbers from the last GROUP response.
	First uint32
	Last  uint32
	// Estimated article count from GROUP.
	EstCount int

	Subscribed  bool
	Description string

	// Article number → Email for loaded articles.
	Articles map[uint32]*rfc822.Email

	// Last article number seen by a previous session (from GROUP
	// re-polls); a shrinking Last invalidates everything.
	prevLast uint32
}

// ArticleData is the nntp-specific per-message state (Email.Edata).
type ArticleData struct {
	Num uint32
}

func adataOf(e *rfc822.Email) *ArticleData {
	if e == nil {
		return nil
	}
	ad, _ := e.Edata.(*ArticleData)
	return ad
}

// SelectGroup issues GROUP and applies the renumber-detection policy: a
// shrinking last article number means the group was renumbered, which
// invalidates the header cache entirely and drops every loaded Email.
func (c *Client) SelectGroup(m *mailbox.Mailbox, hc *hcache.Cache) (*GroupData, error) {
	gd, _ := m.Mdata.(*GroupData)
	if gd == nil {
		gd = &GroupData{Group: groupFromPath(m.Path), Articles: map[uint32]*rfc822.Email{}}
		m.Mdata = gd
	}

	code, line, err := c.cmd("GROUP %s", gd.Group)
	if err != nil {
		return nil, err
	}
	if code != 211 {
		return nil, c.statusErr("GROUP", code, line)
	}

	// "211 estimate first last group"
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Message: "malformed GROUP response", ServerText: line,
		})
	}
	est, _ := strconv.Atoi(fields[1])
	first64, _ := strconv.ParseUint(fields[2], 10, 32)
	last64, _ := strconv.ParseUint(fields[3], 10, 32)

	prevLast := gd.Last
	gd.EstCount = est
	gd.First = uint32(first64)
	gd.Last = uint32(last64)
	gd.prevLast = prevLast
	c.group = gd

	if prevLast != 0 && gd.Last < prevLast {
		c.Log.Msg("group renumbered, dropping local state", "group", gd.Group, "last", gd.Last)
		if hc != nil {
			if err := hc.Clear(); err != nil {
				return nil, err
			}
		}
		for _, e := range gd.Articles {
			e.Free()
		}
		gd.Articles = map[uint32]*rfc822.Email{}
		m.Emails = nil
	}
	return gd, nil
}

// existingArticles asks LISTGROUP which numbers in [first, last] actually
// exist. Without LISTGROUP support every number in the range is assumed.
func (c *Client) existingArticles(gd *GroupData, first, last uint32) ([]uint32, error) {
	if !c.canListgroup || !c.View.Bool("nntp_listgroup", true) {
		out := make([]uint32, 0, int(last-first)+1)
		for num := first; num <= last && num != 0; num++ {
			out = append(out, num)
		}
		return out, nil
	}

	code, line, err := c.cmd("LISTGROUP %s %d-%d", gd.Group, first, last)
	if err != nil {
		return nil, err
	}
	if code != 211 {
		return nil, c.statusErr("LISTGROUP", code, line)
	}
	var out []uint32
	if err := c.readMultiline(func(line string) error {
		n, err := strconv.ParseUint(strings.TrimSpace(line), 10, 32)
		if err == nil && n != 0 {
			out = append(out, uint32(n))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHeaders imports article headers for [first, last]: header cache
// first, then a ranged OVER/XOVER, then per-article HEAD for whatever is
// left.
func (c *Client) FetchHeaders(m *mailbox.Mailbox, hc *hcache.Cache, nrc *Newsrc, first, last uint32) error {
	gd, _ := m.Mdata.(*GroupData)
	if gd == nil || c.group != gd {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Protocol: "nntp", Message: "no group selected"}
	}
	if first == 0 || last < first {
		return nil
	}

	nums, err := c.existingArticles(gd, first, last)
	if err != nil {
		return err
	}

	want := map[uint32]bool{}
	for _, num := range nums {
		if _, loaded := gd.Articles[num]; loaded {
			continue
		}
		key := strconv.FormatUint(uint64(num), 10)
		if hc != nil {
			if e, ok := hc.Fetch(key); ok {
				cacheHits.Inc()
				c.adoptArticle(m, gd, nrc, num, e, false, hc)
				continue
			}
		}
		cacheMisses.Inc()
		want[num] = true
	}

	if len(want) > 0 {
		if err := c.fetchOverviewRange(m, gd, nrc, hc, want, first, last); err != nil {
			return err
		}
	}
	// HEAD fallback for any gap the overview did not cover.
	for _, num := range nums {
		if !want[num] {
			continue
		}
		if err := signal.PollCancellation(); err != nil {
			return err
		}
		if err := c.fetchHead(m, gd, nrc, hc, num); err != nil {
			if exterrors.KindOf(err) == exterrors.KindProtocolNo {
				// Article vanished between LISTGROUP and HEAD.
				continue
			}
			return err
		}
		delete(want, num)
	}

	c.rebuildEmailArray(m, gd)
	m.Recount()
	return nil
}

func (c *Client) fetchOverviewRange(m *mailbox.Mailbox, gd *GroupData, nrc *Newsrc, hc *hcache.Cache, want map[uint32]bool, first, last uint32) error {
	if !c.canOver && !c.canXover {
		return nil
	}
	if err := c.loadOverviewFmt(); err != nil {
		return err
	}

	verb := "OVER"
	if !c.canOver {
		verb = "XOVER"
	}
	code, line, err := c.cmd("%s %d-%d", verb, first, last)
	if err != nil {
		return err
	}
	if code != 224 {
		if code >= 500 {
			return c.statusErr(verb, code, line)
		}
		// 4xx: no overview for the range; the HEAD fallback covers it.
		return nil
	}

	return c.readMultiline(func(line string) error {
		if err := signal.PollCancellation(); err != nil {
			return err
		}
		num, e, err := c.parseOverviewLine(line)
		if err != nil {
			parseSkips.Inc()
			return nil
		}
		if !want[num] {
			return nil
		}
		delete(want, num)
		c.adoptArticle(m, gd, nrc, num, e, true, hc)
		return nil
	})
}

func (c *Client) fetchHead(m *mailbox.Mailbox, gd *GroupData, nrc *Newsrc, hc *hcache.Cache, num uint32) error {
	code, line, err := c.cmd("HEAD %d", num)
	if err != nil {
		return err
	}
	if code != 221 {
		return c.statusErr("HEAD", code, line)
	}
	var raw bytes.Buffer
	if err := c.readMultiline(func(line string) error {
		raw.WriteString(line)
		raw.WriteByte('\n')
		return nil
	}); err != nil {
		return err
	}
	raw.WriteByte('\n')

	e, err := rfc822.ReadMessage(bytes.NewReader(raw.Bytes()))
	if err != nil {
		parseSkips.Inc()
		return nil
	}
	c.adoptArticle(m, gd, nrc, num, e, true, hc)
	return nil
}

// adoptArticle links a parsed article into the group, derives the read
// flag from the newsrc ranges, and commits fresh entries to the header
// cache before they become visible.
func (c *Client) adoptArticle(m *mailbox.Mailbox, gd *GroupData, nrc *Newsrc, num uint32, e *rfc822.Email, fresh bool, hc *hcache.Cache) {
	e.Edata = &ArticleData{Num: num}
	e.Active = true
	if nrc != nil {
		e.Flags.Read = nrc.IsRead(gd.Group, num)
	}
	if fresh && hc != nil {
		if err := hc.Store(strconv.FormatUint(uint64(num), 10), e); err != nil {
			c.Log.Error("hcache store failed", err, "article", num)
		}
	}
	gd.Articles[num] = e
}

func (c *Client) rebuildEmailArray(m *mailbox.Mailbox, gd *GroupData) {
	nums := make([]uint32, 0, len(gd.Articles))
	for num := range gd.Articles {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	emails := make([]*rfc822.Email, 0, len(nums))
	for i, num := range nums {
		e := gd.Articles[num]
		e.Index = i
		e.Msgno = i + 1
		emails = append(emails, e)
	}
	m.Emails = emails
}

// FetchArticle retrieves the full article text (dot-unstuffed).
func (c *Client) FetchArticle(num uint32) ([]byte, error) {
	code, line, err := c.cmd("ARTICLE %d", num)
	if err != nil {
		return nil, err
	}
	if code != 220 {
		return nil, c.statusErr("ARTICLE", code, line)
	}
	var raw bytes.Buffer
	if err := c.readMultiline(func(line string) error {
		raw.WriteString(line)
		raw.WriteByte('\n')
		return nil
	}); err != nil {
		return nil, err
	}
	return raw.Bytes(), nil
}

// XPatSearch matches a header against patterns server-side, returning
// matching article numbers.
func (c *Client) XPatSearch(header, wildmat string, first, last uint32) ([]uint32, error) {
	if !c.canXpat {
		return nil, &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "nntp",
			Message: "server does not support XPAT",
		}
	}
	code, line, err := c.cmd("XPAT %s %d-%d %s", header, first, last, wildmat)
	if err != nil {
		return nil, err
	}
	if code != 221 {
		return nil, c.statusErr("XPAT", code, line)
	}
	var out []uint32
	if err := c.readMultiline(func(line string) error {
		numStr, _, _ := strings.Cut(strings.TrimSpace(line), " ")
		if n, err := strconv.ParseUint(numStr, 10, 32); err == nil && n != 0 {
			out = append(out, uint32(n))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func groupFromPath(path string) string {
	rest := path
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// Date asks the server clock; used for NEWGROUPS refreshes of the group
// list cache.
func (c *Client) Date() (string, error) {
	if !c.canDate {
		return "", &exterrors.ProtocolError{Kind: exterrors.KindProtocolNo, Protocol: "nntp", Message: "server does not support DATE"}
	}
	code, line, err := c.cmd("DATE")
	if err != nil {
		return "", err
	}
	if code != 111 {
		return "", c.statusErr("DATE", code, line)
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", fmt.Errorf("nntp: malformed DATE response %q", line)
	}
	return fields[1], nil
}
