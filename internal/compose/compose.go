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

// Package compose owns an Email under construction: its attachment list,
// MIME tree edits, and the send pipeline.
package compose

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Event identifies a compose-state change delivered to observers so the
// UI can recompute the envelope display.
type Event int

const (
	EventHeaders Event = iota
	EventAttachAdd
	EventAttachDelete
	EventAttachMove
	EventAttachGroup
	EventAttachEdit
)

// Session is one message being composed.
type Session struct {
	Email *rfc822.Email

	Log  log.Logger
	View *config.View

	// Registered tempfiles, unlinked when the session is released, on
	// every path.
	tempFiles []string

	observers []func(Event)
}

func NewSession(view *config.View, logger log.Logger) *Session {
	s := &Session{
		Email: rfc822.NewEmail(),
		Log:   logger,
		View:  view,
	}
	s.Email.Content = &rfc822.Body{
		Type:        rfc822.TypeMultipart,
		Subtype:     "mixed",
		Disposition: rfc822.DispNone,
	}
	return s
}

// Observe registers a change listener.
func (s *Session) Observe(fn func(Event)) {
	s.observers = append(s.observers, fn)
}

func (s *Session) notify(ev Event) {
	for _, fn := range s.observers {
		fn(ev)
	}
}

// RegisterTemp records a tempfile for cleanup at release time.
func (s *Session) RegisterTemp(path string) {
	s.tempFiles = append(s.tempFiles, path)
}

// Release unlinks every registered tempfile. Safe to call more than
// once; called on success and error paths alike.
func (s *Session) Release() {
	for _, path := range s.tempFiles {
		os.Remove(path)
	}
	s.tempFiles = nil
}

// Attachments returns the flat attachment list (the children of the root
// container).
func (s *Session) Attachments() []*rfc822.Body {
	return s.Email.Content.Parts
}

// SetHeaderField applies free-text input to one envelope field.
func (s *Session) SetHeaderField(name, value string) error {
	env := s.Email.Envelope
	switch strings.ToLower(name) {
	case "to", "cc", "bcc", "from", "reply-to", "followup-to-addr":
		al, err := rfc822.ParseAddressList(value)
		if err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "to":
			env.To = al
		case "cc":
			env.Cc = al
		case "bcc":
			env.Bcc = al
		case "from":
			env.From = al
		case "reply-to":
			env.ReplyTo = al
		case "followup-to-addr":
			env.MailFollowupTo = al
		}
	case "subject":
		env.SetSubject(value)
	case "newsgroups":
		env.Newsgroups = strings.TrimSpace(value)
	case "followup-to":
		env.FollowupTo = strings.TrimSpace(value)
	case "x-comment-to":
		env.XCommentTo = strings.TrimSpace(value)
	default:
		return fmt.Errorf("compose: unknown header field %q", name)
	}
	s.notify(EventHeaders)
	return nil
}

// AddAttachment attaches a local file. The content type is derived from
// the extension with a content sniff fallback; the file's mtime is
// recorded as the attachment stamp.
func (s *Session) AddAttachment(path, description string) (*rfc822.Body, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	b := rfc822.NewBody()
	b.LocalFile = path
	b.Filename = filepath.Base(path)
	b.Description = description
	b.Stamp = fi.ModTime()
	b.Length = fi.Size()

	primary, subtype := detectContentType(path)
	b.Type = rfc822.ParseBodyType(primary)
	if b.Type == rfc822.TypeOther {
		b.XType = primary
	}
	b.Subtype = subtype
	if b.Type == rfc822.TypeText {
		b.Params.Set("charset", s.View.Str("send_charset", "utf-8"))
	}

	s.Email.Content.Parts = append(s.Email.Content.Parts, b)
	s.notify(EventAttachAdd)
	return b, nil
}

func detectContentType(path string) (string, string) {
	byExt := mime.TypeByExtension(filepath.Ext(path))
	if byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			primary, sub, _ := strings.Cut(mt, "/")
			return primary, sub
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "application", "octet-stream"
	}
	defer f.Close()
	info, err := rfc822.ScanContent(f)
	if err != nil || info.Binary || info.Lobin > 0 {
		return "application", "octet-stream"
	}
	return "text", "plain"
}

// DeleteAttachment removes the attachment at the given index.
//
// Deleting the last remaining part is rejected: a message with zero
// attachments cannot be composed.
func (s *Session) DeleteAttachment(idx int) error {
	parts := s.Email.Content.Parts
	if idx < 0 || idx >= len(parts) {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Message: "attachment index out of range"}
	}
	if len(parts) == 1 {
		return fmt.Errorf("compose: cannot delete the only attachment")
	}
	b := parts[idx]
	if b.Unlink && b.LocalFile != "" {
		os.Remove(b.LocalFile)
	}
	s.Email.Content.Parts = append(parts[:idx], parts[idx+1:]...)
	s.notify(EventAttachDelete)
	return nil
}

// MoveAttachment shifts an attachment to a new position, preserving the
// order of everything else.
func (s *Session) MoveAttachment(from, to int) error {
	parts := s.Email.Content.Parts
	if from < 0 || from >= len(parts) || to < 0 || to >= len(parts) {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Message: "attachment index out of range"}
	}
	if from == to {
		return nil
	}
	b := parts[from]
	parts = append(parts[:from], parts[from+1:]...)
	parts = append(parts[:to], append([]*rfc822.Body{b}, parts[to:]...)...)
	s.Email.Content.Parts = parts
	s.notify(EventAttachMove)
	return nil
}

// GroupTagged replaces the tagged top-level attachments with a
// synthesized multipart/<subtype> container holding them. At least two
// tagged parts are required.
func (s *Session) GroupTagged(subtype string) error {
	parts := s.Email.Content.Parts
	var tagged, rest []*rfc822.Body
	insertAt := -1
	for _, b := range parts {
		if b.Tagged {
			if insertAt < 0 {
				insertAt = len(rest)
			}
			b.Tagged = false
			tagged = append(tagged, b)
		} else {
			rest = append(rest, b)
		}
	}
	if len(tagged) < 2 {
		return fmt.Errorf("compose: grouping needs at least two tagged attachments")
	}

	group := &rfc822.Body{
		Type:        rfc822.TypeMultipart,
		Subtype:     subtype,
		Disposition: rfc822.DispNone,
		Parts:       tagged,
	}
	out := make([]*rfc822.Body, 0, len(rest)+1)
	out = append(out, rest[:insertAt]...)
	out = append(out, group)
	out = append(out, rest[insertAt:]...)
	s.Email.Content.Parts = out
	s.notify(EventAttachGroup)
	return nil
}

// UngroupAt dissolves a grouped container back into its children,
// keeping their order. The inverse of GroupTagged.
func (s *Session) UngroupAt(idx int) error {
	parts := s.Email.Content.Parts
	if idx < 0 || idx >= len(parts) {
		return &exterrors.ProtocolError{Kind: exterrors.KindAborted, Message: "attachment index out of range"}
	}
	g := parts[idx]
	if g.Type != rfc822.TypeMultipart || len(g.Parts) == 0 {
		return fmt.Errorf("compose: attachment %d is not a group", idx)
	}
	out := make([]*rfc822.Body, 0, len(parts)-1+len(g.Parts))
	out = append(out, parts[:idx]...)
	out = append(out, g.Parts...)
	out = append(out, parts[idx+1:]...)
	s.Email.Content.Parts = out
	s.notify(EventAttachGroup)
	return nil
}

// ToggleDisposition flips an attachment between inline and attachment.
func (s *Session) ToggleDisposition(b *rfc822.Body) {
	if b.Disposition == rfc822.DispInline {
		b.Disposition = rfc822.DispAttach
	} else {
		b.Disposition = rfc822.DispInline
	}
	s.notify(EventAttachEdit)
}

// ToggleRecode flips charset recoding for a text attachment.
func (s *Session) ToggleRecode(b *rfc822.Body) {
	b.NoConv = !b.NoConv
	s.notify(EventAttachEdit)
}

// ToggleUnlink flips unlink-on-send for an attachment.
func (s *Session) ToggleUnlink(b *rfc822.Body) {
	b.Unlink = !b.Unlink
	s.notify(EventAttachEdit)
}

// SetType changes an attachment's content type from free-text input.
func (s *Session) SetType(b *rfc822.Body, typeSpec string) error {
	primary, sub, ok := strings.Cut(typeSpec, "/")
	if !ok || sub == "" {
		return fmt.Errorf("compose: content type must be type/subtype")
	}
	b.Type = rfc822.ParseBodyType(primary)
	if b.Type == rfc822.TypeOther {
		b.XType = primary
	} else {
		b.XType = ""
	}
	b.Subtype = strings.ToLower(strings.TrimSpace(sub))
	s.notify(EventAttachEdit)
	return nil
}

// UpdateEncoding rescans an attachment and re-picks its transfer
// encoding.
func (s *Session) UpdateEncoding(b *rfc822.Body) error {
	if b.LocalFile == "" {
		return nil
	}
	f, err := os.Open(b.LocalFile)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := rfc822.ScanContent(f)
	if err != nil {
		return err
	}
	b.Encoding = rfc822.ChooseEncoding(b, info, b.Charset(),
		s.View.Bool("encode_from", false), s.View.Bool("allow_8bit", false))
	if b.IsContainer() && b.Encoding == rfc822.Enc7Bit && (info.Hibin > 0 || info.Lobin > 0) {
		// The container itself cannot be re-encoded; its children must
		// become 7bit-clean instead.
		if err := rfc822.To7Bit(b); err != nil {
			return err
		}
	}
	s.notify(EventAttachEdit)
	return nil
}

// PrepareSend finalizes the tree for serialization: boundaries for the
// multipart containers, encodings for every local-file leaf, and a flattened root
// when only one attachment exists.
func (s *Session) PrepareSend() error {
	if len(s.Email.Content.Parts) == 0 {
		return fmt.Errorf("compose: a message with zero attachments cannot be composed")
	}

	var prep func(b *rfc822.Body) error
	prep = func(b *rfc822.Body) error {
		for _, child := range b.Parts {
			if err := prep(child); err != nil {
				return err
			}
		}
		if b.LocalFile != "" {
			if err := s.UpdateEncoding(b); err != nil {
				return err
			}
		}
		if b.Type == rfc822.TypeMultipart {
			if _, ok := b.Params.Get("boundary"); !ok {
				b.Params.Set("boundary", uuid.New().String())
			}
		}
		return nil
	}
	if err := prep(s.Email.Content); err != nil {
		return err
	}

	// A single part needs no multipart wrapper.
	if root := s.Email.Content; root.Type == rfc822.TypeMultipart &&
		root.Subtype == "mixed" && len(root.Parts) == 1 {
		s.Email.Content = root.Parts[0]
	}

	if s.Email.Envelope.Date == "" {
		now := time.Now()
		s.Email.Envelope.Date = now.Format("Mon, 2 Jan 2006 15:04:05 -0700")
		s.Email.Envelope.DateParsed = now
	}
	if s.Email.Envelope.MessageID == "" {
		domain := "localhost.localdomain"
		if hn, err := os.Hostname(); err == nil && hn != "" {
			domain = hn
		}
		s.Email.Envelope.MessageID = rfc822.GenerateMessageID(domain)
	}
	return nil
}
