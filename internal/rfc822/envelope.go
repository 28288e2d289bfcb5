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

package rfc822

import (
	"regexp"
	"strings"
	"time"
)

// Envelope holds the RFC 5322 header fields relevant to message semantics.
// It is owned 1-to-1 by its containing message.
type Envelope struct {
	From           AddressList
	Sender         AddressList
	To             AddressList
	Cc             AddressList
	Bcc            AddressList
	ReplyTo        AddressList
	MailFollowupTo AddressList
	XOriginalTo    AddressList

	Subject string
	// Subject with the reply/forward prefixes stripped.
	RealSubject string

	MessageID string
	// Oldest first after normalization.
	References []string
	InReplyTo  []string

	Date       string
	DateParsed time.Time

	Newsgroups string
	FollowupTo string
	XCommentTo string
	XLabel     string

	Organization string

	// Verbatim "Name: value" strings of headers the user asked to carry.
	UserHeaders []string

	IrtChanged    bool
	RefsChanged   bool
	XLabelChanged bool
}

func NewEnvelope() *Envelope {
	return &Envelope{}
}

func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.From = append(AddressList(nil), e.From...)
	out.Sender = append(AddressList(nil), e.Sender...)
	out.To = append(AddressList(nil), e.To...)
	out.Cc = append(AddressList(nil), e.Cc...)
	out.Bcc = append(AddressList(nil), e.Bcc...)
	out.ReplyTo = append(AddressList(nil), e.ReplyTo...)
	out.MailFollowupTo = append(AddressList(nil), e.MailFollowupTo...)
	out.XOriginalTo = append(AddressList(nil), e.XOriginalTo...)
	out.References = append([]string(nil), e.References...)
	out.InReplyTo = append([]string(nil), e.InReplyTo...)
	out.UserHeaders = append([]string(nil), e.UserHeaders...)
	return &out
}

// subjectPrefix matches reply and forward markers, including numbered
// forms like "Re[4]:" and chained "Re: Fwd:".
var subjectPrefix = regexp.MustCompile(`^(?i:(re|aw|fwd?|fw)(\[\d+\])?:\s*)+`)

// SetSubject stores the subject and derives RealSubject by stripping the
// reply/forward prefixes.
func (e *Envelope) SetSubject(subject string) {
	e.Subject = subject
	e.RealSubject = StripSubjectPrefix(subject)
}

func StripSubjectPrefix(subject string) string {
	return strings.TrimSpace(subjectPrefix.ReplaceAllString(subject, ""))
}

// ParseMsgIDList extracts every <msg-id> token from a References or
// In-Reply-To value, in the order they appear.
func ParseMsgIDList(raw string) []string {
	var out []string
	for {
		lt := strings.IndexByte(raw, '<')
		if lt < 0 {
			break
		}
		gt := strings.IndexByte(raw[lt:], '>')
		if gt < 0 {
			break
		}
		out = append(out, raw[lt:lt+gt+1])
		raw = raw[lt+gt+1:]
	}
	return out
}

// AppendReference appends id and keeps the list normalized: oldest first,
// no duplicates, the most recent occurrence wins its position.
func (e *Envelope) AppendReference(id string) {
	for i, ref := range e.References {
		if ref == id {
			e.References = append(e.References[:i], e.References[i+1:]...)
			break
		}
	}
	e.References = append(e.References, id)
	e.RefsChanged = true
}
