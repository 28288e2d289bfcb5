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
	"net/mail"
	"strconv"
	"strings"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

// overviewField is one column of the server's overview format. Full
// fields carry "Name: value" in the overview line, bare fields just the
// value.
type overviewField struct {
	name string
	full bool
}

// defaultOverviewFmt is the RFC 2980 ordering used when the server does
// not answer LIST OVERVIEW.FMT.
var defaultOverviewFmt = []overviewField{
	{"Subject", false},
	{"From", false},
	{"Date", false},
	{"Message-ID", false},
	{"References", false},
	{"Bytes", false},
	{"Lines", false},
}

// loadOverviewFmt fetches and caches LIST OVERVIEW.FMT for the account.
func (c *Client) loadOverviewFmt() error {
	if c.overviewFmt != nil {
		return nil
	}
	code, line, err := c.cmd("LIST OVERVIEW.FMT")
	if err != nil {
		return err
	}
	if code != 215 {
		c.Log.DebugMsg("no overview format", "status", line)
		c.overviewFmt = defaultOverviewFmt
		return nil
	}

	var fields []overviewField
	if err := c.readMultiline(func(line string) error {
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}
		full := false
		if i := strings.IndexByte(line, ':'); i >= 0 {
			rest := line[i+1:]
			full = strings.EqualFold(rest, "full")
			line = line[:i]
		}
		fields = append(fields, overviewField{name: line, full: full})
		return nil
	}); err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = defaultOverviewFmt
	}
	c.overviewFmt = fields
	return nil
}

// parseOverviewLine turns one OVER/XOVER line into an Email. The first
// tab-separated column is the article number; the rest follow the cached
// overview format.
func (c *Client) parseOverviewLine(line string) (uint32, *rfc822.Email, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 2 {
		return 0, nil, &rfc822.Error{Kind: rfc822.ErrHeader, Desc: "short overview line"}
	}
	num64, err := strconv.ParseUint(strings.TrimSpace(cols[0]), 10, 32)
	if err != nil || num64 == 0 {
		return 0, nil, &rfc822.Error{Kind: rfc822.ErrHeader, Desc: "bad article number in overview"}
	}
	num := uint32(num64)

	e := rfc822.NewEmail()
	fmtFields := c.overviewFmt
	if fmtFields == nil {
		fmtFields = defaultOverviewFmt
	}

	for i, field := range fmtFields {
		if i+1 >= len(cols) {
			break
		}
		value := cols[i+1]
		if field.full {
			// "Name: value" form; tolerate a missing prefix.
			if cut := strings.IndexByte(value, ':'); cut >= 0 &&
				strings.EqualFold(strings.TrimSpace(value[:cut]), field.name) {
				value = strings.TrimSpace(value[cut+1:])
			}
		}
		applyOverviewField(e, field.name, value)
	}
	return num, e, nil
}

func applyOverviewField(e *rfc822.Email, name, value string) {
	switch strings.ToLower(name) {
	case "subject":
		e.Envelope.SetSubject(rfc822.DecodeHeader(value))
	case "from":
		if al, err := rfc822.ParseAddressList(value); err == nil {
			e.Envelope.From = al
		}
	case "date":
		e.Envelope.Date = value
		if t, err := mail.ParseDate(value); err == nil {
			e.Envelope.DateParsed = t
			e.Received = t
		}
	case "message-id":
		if ids := rfc822.ParseMsgIDList(value); len(ids) > 0 {
			e.Envelope.MessageID = ids[0]
		}
	case "references":
		e.Envelope.References = rfc822.ParseMsgIDList(value)
	case "bytes":
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			e.Size = n
		}
	case "lines":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			e.Lines = n
		}
	case "to", "cc":
		// Optional columns some servers append; folded into the
		// envelope so followup handling can see them.
		if al, err := rfc822.ParseAddressList(value); err == nil {
			if strings.EqualFold(name, "to") {
				e.Envelope.To = al
			} else {
				e.Envelope.Cc = al
			}
		}
	}
}
