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
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/msgset"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// ListEntry is one LIST/LSUB result.
type ListEntry struct {
	Name       string
	Delimiter  string
	Attributes []string
	// True when produced by LSUB.
	Subscribed bool
}

// StatusResult carries an untagged STATUS reply.
type StatusResult struct {
	Name        string
	Messages    int
	Recent      int
	Unseen      int
	UIDNext     uint32
	UIDValidity uint32
}

// fetchItem is the parsed attribute set of one FETCH response.
type fetchItem struct {
	msn          int
	uid          uint32
	flags        []string
	flagsSeen    bool
	internalDate time.Time
	size         int64
	modseq       uint64
	// Raw bytes of a BODY[...] or RFC822.HEADER literal.
	headerText string
}

// handleUntagged dispatches one untagged response (the "* " prefix
// already stripped).
func (c *Client) handleUntagged(rest string) error {
	word, tail, _ := strings.Cut(rest, " ")

	if n, err := strconv.Atoi(word); err == nil {
		// "<n> EXISTS|RECENT|EXPUNGE|FETCH ..."
		kind, args, _ := strings.Cut(tail, " ")
		switch strings.ToUpper(kind) {
		case "EXISTS":
			return c.handleExists(n)
		case "RECENT":
			if md := c.mdata(); md != nil {
				md.Recent = n
			}
			return nil
		case "EXPUNGE":
			return c.handleExpunge(n)
		case "FETCH":
			return c.handleFetch(n, args)
		}
		return nil
	}

	switch strings.ToUpper(word) {
	case "CAPABILITY":
		c.caps = map[string]bool{}
		c.setCaps(strings.Fields(tail))
	case "ENABLED":
		for _, tok := range strings.Fields(tail) {
			c.caps["ENABLED:"+strings.ToUpper(tok)] = true
		}
	case "FLAGS":
		if md := c.mdata(); md != nil {
			md.Flags = parseFlagList(tail)
		}
	case "LIST", "LSUB":
		c.handleList(word == "LSUB", tail)
	case "STATUS":
		c.handleStatus(tail)
	case "SEARCH":
		c.lastSearch = c.lastSearch[:0]
		for _, tok := range strings.Fields(tail) {
			if n, err := strconv.ParseUint(tok, 10, 32); err == nil {
				c.lastSearch = append(c.lastSearch, uint32(n))
			}
		}
	case "MYRIGHTS":
		c.handleMyRights(tail)
	case "VANISHED":
		return c.handleVanished(tail)
	case "OK", "NO", "BAD":
		c.handleCondState(tail)
	case "BYE":
		if c.state == stateBye {
			// Expected during LOGOUT.
			return nil
		}
		c.state = stateBye
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindIo, Protocol: "imap",
			Message: "server closed the session", ServerText: tail,
		})
	}
	return nil
}

func (c *Client) mdata() *MailboxData {
	if c.selected == nil {
		return nil
	}
	md, _ := c.selected.Mdata.(*MailboxData)
	return md
}

func (c *Client) handleExists(n int) error {
	md := c.mdata()
	if md == nil {
		return nil
	}
	if n > md.Messages {
		c.reopen.pending = true
		c.reopen.newMail = true
	}
	md.Messages = n
	return nil
}

func (c *Client) handleExpunge(msn int) error {
	md := c.mdata()
	if md == nil {
		return nil
	}
	md.expungeMSN(msn)
	c.reopen.pending = true
	c.reopen.expunged = true
	return nil
}

func (c *Client) handleVanished(tail string) error {
	md := c.mdata()
	if md == nil {
		return nil
	}
	// "(EARLIER) uidset" or "uidset".
	tail = strings.TrimSpace(tail)
	if strings.HasPrefix(tail, "(") {
		if end := strings.IndexByte(tail, ')'); end >= 0 {
			tail = strings.TrimSpace(tail[end+1:])
		}
	}
	uids, err := msgset.Parse(tail)
	if err != nil {
		return nil
	}
	for _, uid := range uids {
		md.vanishUID(uid)
	}
	c.reopen.pending = true
	c.reopen.expunged = true
	return nil
}

func (c *Client) handleFetch(msn int, args string) error {
	item, err := parseFetchItem(msn, args)
	if err != nil {
		return nil
	}
	if c.onFetch != nil {
		c.onFetch(item)
		return nil
	}

	// Unsolicited FETCH: a flag change pushed by the server.
	md := c.mdata()
	if md == nil || msn < 1 || msn > len(md.MsnIndex) {
		return nil
	}
	e := md.MsnIndex[msn-1]
	if e == nil || !item.flagsSeen {
		return nil
	}
	ed := edataOf(e)
	if ed == nil {
		return nil
	}
	if item.uid != 0 && item.uid != ed.UID {
		return nil
	}
	applyServerFlags(e, ed, item.flags)
	return nil
}

// applyServerFlags overwrites the server mirror and, when the message has
// no local changes pending, the local flags too.
func applyServerFlags(e *rfc822.Email, ed *EmailData, flags []string) {
	ed.ServerFlags, ed.ServerKeywords = flagsFromList(flags)
	if !e.Changed {
		e.Flags.Read = ed.ServerFlags.Read
		e.Flags.Old = ed.ServerFlags.Old
		e.Flags.Flagged = ed.ServerFlags.Flagged
		e.Flags.Replied = ed.ServerFlags.Replied
		e.Flags.Deleted = ed.ServerFlags.Deleted
		e.Keywords = append([]string(nil), ed.ServerKeywords...)
	}
}

func (c *Client) handleList(lsub bool, tail string) {
	// (attributes) "delim" name
	attrs, rest := parseParenList(tail)
	rest = strings.TrimSpace(rest)

	delim := ""
	if strings.HasPrefix(rest, `"`) {
		if end := strings.Index(rest[1:], `"`); end >= 0 {
			delim = rest[1 : 1+end]
			rest = strings.TrimSpace(rest[end+2:])
		}
	} else if strings.HasPrefix(strings.ToUpper(rest), "NIL") {
		rest = strings.TrimSpace(rest[3:])
	}

	name := strings.Trim(rest, `"`)
	c.lastList = append(c.lastList, ListEntry{
		Name:       name,
		Delimiter:  delim,
		Attributes: attrs,
		Subscribed: lsub,
	})
}

func (c *Client) handleStatus(tail string) {
	name, rest, _ := strings.Cut(tail, " ")
	items, _ := parseParenList(rest)
	st := StatusResult{Name: strings.Trim(name, `"`)}
	for i := 0; i+1 < len(items); i += 2 {
		n, err := strconv.ParseUint(items[i+1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToUpper(items[i]) {
		case "MESSAGES":
			st.Messages = int(n)
		case "RECENT":
			st.Recent = int(n)
		case "UNSEEN":
			st.Unseen = int(n)
		case "UIDNEXT":
			st.UIDNext = uint32(n)
		case "UIDVALIDITY":
			st.UIDValidity = uint32(n)
		}
	}
	c.lastStatus = append(c.lastStatus, st)
}

func (c *Client) handleMyRights(tail string) {
	if c.selected == nil {
		return
	}
	fields := strings.Fields(tail)
	if len(fields) < 2 {
		return
	}
	var rights mailbox.Rights
	for _, ch := range fields[len(fields)-1] {
		switch ch {
		case 'l':
			rights |= mailbox.RightLookup
		case 'r':
			rights |= mailbox.RightRead
		case 's':
			rights |= mailbox.RightSeen
		case 'w':
			rights |= mailbox.RightWrite
		case 'i':
			rights |= mailbox.RightInsert
		case 'p':
			rights |= mailbox.RightPost
		case 'k', 'c':
			rights |= mailbox.RightCreate
		case 'x':
			rights |= mailbox.RightDelete
		case 't', 'd':
			rights |= mailbox.RightDeleteMsg
		case 'e':
			rights |= mailbox.RightExpunge
		case 'a':
			rights |= mailbox.RightAdmin
		}
	}
	c.selected.Rights = rights
}

// handleCondState picks response codes out of untagged OK/NO/BAD.
func (c *Client) handleCondState(tail string) {
	code, ok := responseCode(tail)
	if !ok {
		return
	}
	word, arg, _ := strings.Cut(code, " ")
	md := c.mdata()
	switch strings.ToUpper(word) {
	case "UIDVALIDITY":
		if md != nil {
			if v, err := strconv.ParseUint(arg, 10, 32); err == nil {
				if md.UIDValidity != 0 && md.UIDValidity != uint32(v) {
					c.reopen.pending = true
					c.reopen.uidvalidity = true
				}
				md.UIDValidity = uint32(v)
			}
		}
	case "UIDNEXT":
		if md != nil {
			if v, err := strconv.ParseUint(arg, 10, 32); err == nil {
				md.UIDNext = uint32(v)
			}
		}
	case "HIGHESTMODSEQ":
		if md != nil {
			if v, err := strconv.ParseUint(arg, 10, 64); err == nil {
				md.ModSeq = v
			}
		}
	case "PERMANENTFLAGS":
		if md != nil {
			md.PermanentFlags = parseFlagList(arg)
		}
	case "READ-ONLY":
		if md != nil {
			md.ReadOnly = true
		}
	case "READ-WRITE":
		if md != nil {
			md.ReadOnly = false
		}
	case "ALERT":
		c.Log.Printf("server alert: %s", strings.TrimSpace(arg))
	}
}

// parseFetchItem parses the parenthesized attribute list of a FETCH
// response. Literal bytes are already folded into args by readLine.
func parseFetchItem(msn int, args string) (*fetchItem, error) {
	item := &fetchItem{msn: msn}
	toks := tokenizeFetch(args)
	for i := 0; i < len(toks); i++ {
		switch strings.ToUpper(toks[i].key) {
		case "UID":
			if v, err := strconv.ParseUint(toks[i].value, 10, 32); err == nil {
				item.uid = uint32(v)
			}
		case "FLAGS":
			item.flags = parseFlagList(toks[i].value)
			item.flagsSeen = true
		case "INTERNALDATE":
			if t, err := time.Parse("_2-Jan-2006 15:04:05 -0700", strings.Trim(toks[i].value, `"`)); err == nil {
				item.internalDate = t
			}
		case "RFC822.SIZE":
			if v, err := strconv.ParseInt(toks[i].value, 10, 64); err == nil {
				item.size = v
			}
		case "MODSEQ":
			if v, err := strconv.ParseUint(strings.Trim(toks[i].value, "()"), 10, 64); err == nil {
				item.modseq = v
			}
		default:
			if strings.HasPrefix(strings.ToUpper(toks[i].key), "BODY[") ||
				strings.EqualFold(toks[i].key, "RFC822.HEADER") {
				item.headerText = toks[i].value
			}
		}
	}
	return item, nil
}

type fetchTok struct {
	key   string
	value string
}

// tokenizeFetch splits "(KEY value KEY value ...)" where a value is an
// atom, a quoted string, a parenthesized list, or a {N}-prefixed literal
// (already inlined).
func tokenizeFetch(args string) []fetchTok {
	args = strings.TrimSpace(args)
	args = strings.TrimPrefix(args, "(")
	args = strings.TrimSuffix(args, ")")

	var out []fetchTok
	i := 0
	readAtom := func() string {
		start := i
		for i < len(args) && args[i] != ' ' {
			i++
		}
		return args[start:i]
	}
	skipSpace := func() {
		for i < len(args) && args[i] == ' ' {
			i++
		}
	}

	for i < len(args) {
		skipSpace()
		if i >= len(args) {
			break
		}
		keyStart := i
		key := readAtom()
		// BODY[HEADER.FIELDS (...)] section specs contain spaces; extend
		// the key to the closing bracket.
		if strings.HasPrefix(strings.ToUpper(key), "BODY[") && !strings.Contains(key, "]") {
			for i < len(args) && args[i-1] != ']' {
				i++
			}
			key = args[keyStart:i]
		}
		skipSpace()
		if i >= len(args) {
			out = append(out, fetchTok{key: key})
			break
		}

		var value string
		switch args[i] {
		case '(':
			depth := 0
			start := i
			for ; i < len(args); i++ {
				if args[i] == '(' {
					depth++
				}
				if args[i] == ')' {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
			}
			value = strings.TrimSuffix(strings.TrimPrefix(args[start:i], "("), ")")
		case '"':
			end := strings.IndexByte(args[i+1:], '"')
			if end < 0 {
				value = args[i:]
				i = len(args)
			} else {
				value = args[i : i+end+2]
				i += end + 2
			}
		case '{':
			// The literal marker and its bytes were inlined by readLine:
			// "{N}<bytes>". Take N bytes after the closing brace.
			close_ := strings.IndexByte(args[i:], '}')
			if close_ < 0 {
				value = args[i:]
				i = len(args)
				break
			}
			n, err := strconv.Atoi(args[i+1 : i+close_])
			if err != nil || i+close_+1+n > len(args) {
				value = args[i:]
				i = len(args)
				break
			}
			value = args[i+close_+1 : i+close_+1+n]
			i += close_ + 1 + n
		default:
			value = readAtom()
		}
		out = append(out, fetchTok{key: key, value: value})
	}
	return out
}

func parseFlagList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	return strings.Fields(s)
}

func parseParenList(s string) ([]string, string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") {
		return nil, s
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return strings.Fields(s[1:]), ""
	}
	return strings.Fields(s[1:end]), s[end+1:]
}

// flagsFromList converts wire flags into the flag struct plus custom
// keywords.
func flagsFromList(list []string) (rfc822.Flags, []string) {
	var f rfc822.Flags
	var keywords []string
	for _, flag := range list {
		switch strings.ToLower(flag) {
		case `\seen`:
			f.Read = true
		case `\answered`:
			f.Replied = true
		case `\flagged`:
			f.Flagged = true
		case `\deleted`:
			f.Deleted = true
		case `\draft`, `\recent`:
			// Not tracked as user flags.
		default:
			if !strings.HasPrefix(flag, `\`) {
				keywords = append(keywords, flag)
			}
		}
	}
	// Old is not set here: it travels as the "Old" keyword, which is
	// returned among the keywords; the importer sets the flag from it.
	return f, keywords
}

// parseHeaderBlock turns the literal of a BODY.PEEK[HEADER...] fetch into
// an Email via the message parser.
func parseHeaderBlock(headerText string) (*rfc822.Email, error) {
	if !strings.HasSuffix(headerText, "\r\n\r\n") && !strings.HasSuffix(headerText, "\n\n") {
		headerText += "\r\n\r\n"
	}
	return rfc822.ReadMessage(strings.NewReader(headerText))
}

// receivedTime returns the INTERNALDATE of the response, falling back to
// the Date header when INTERNALDATE was not in the response.
func receivedTime(item *fetchItem, e *rfc822.Email) time.Time {
	if !item.internalDate.IsZero() {
		return item.internalDate
	}
	if e.Envelope != nil && e.Envelope.Date != "" {
		if t, err := mail.ParseDate(e.Envelope.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
