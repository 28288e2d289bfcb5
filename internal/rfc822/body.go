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
	"strings"
	"time"
)

// BodyType is the primary MIME content type.
type BodyType int

const (
	TypeOther BodyType = iota
	TypeAudio
	TypeApplication
	TypeImage
	TypeMessage
	TypeModel
	TypeMultipart
	TypeText
	TypeVideo
)

var typeNames = map[BodyType]string{
	TypeAudio:       "audio",
	TypeApplication: "application",
	TypeImage:       "image",
	TypeMessage:     "message",
	TypeModel:       "model",
	TypeMultipart:   "multipart",
	TypeText:        "text",
	TypeVideo:       "video",
}

func (t BodyType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "x-unknown"
}

// ParseBodyType maps a primary type token onto the enum; unrecognized
// tokens map to TypeOther and the caller stores the verbatim value in
// Body.XType.
func ParseBodyType(s string) BodyType {
	s = strings.ToLower(s)
	for t, name := range typeNames {
		if name == s {
			return t
		}
	}
	return TypeOther
}

// Encoding is the content transfer encoding of a part.
type Encoding int

const (
	EncOther Encoding = iota
	Enc7Bit
	Enc8Bit
	EncBinary
	EncQuotedPrintable
	EncBase64
	EncUuencoded
)

var encodingNames = map[Encoding]string{
	Enc7Bit:            "7bit",
	Enc8Bit:            "8bit",
	EncBinary:          "binary",
	EncQuotedPrintable: "quoted-printable",
	EncBase64:          "base64",
	EncUuencoded:       "x-uuencode",
}

func (e Encoding) String() string {
	if s, ok := encodingNames[e]; ok {
		return s
	}
	return "x-unknown"
}

func ParseEncoding(s string) Encoding {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "7bit", "7-bit", "":
		return Enc7Bit
	case "8bit", "8-bit":
		return Enc8Bit
	case "binary":
		return EncBinary
	case "quoted-printable":
		return EncQuotedPrintable
	case "base64":
		return EncBase64
	case "x-uuencode", "x-uuencoded", "uuencode", "uue":
		return EncUuencoded
	}
	return EncOther
}

// Disposition of a part.
type Disposition int

const (
	DispInline Disposition = iota
	DispAttach
	DispFormData
	DispNone
)

func (d Disposition) String() string {
	switch d {
	case DispInline:
		return "inline"
	case DispAttach:
		return "attachment"
	case DispFormData:
		return "form-data"
	}
	return ""
}

func ParseDisposition(s string) Disposition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inline":
		return DispInline
	case "attachment":
		return DispAttach
	case "form-data":
		return DispFormData
	}
	return DispNone
}

// Body is one node of the MIME tree.
//
// A Body is either a leaf (empty Parts) or a container (non-empty Parts).
// Children are owned by their parent; references between attachments use
// indexes into the owning context, never pointers (see compose.Session).
type Body struct {
	Type    BodyType
	Subtype string
	// Verbatim primary type when Type is TypeOther.
	XType string

	Params      ParameterList
	Encoding    Encoding
	Disposition Disposition

	Filename string
	// Name to show instead of Filename, if any.
	DisplayFilename string
	Description     string
	Language        string

	// Position of the part content within the backing stream.
	Offset int64
	Length int64
	// Position of the part's header block, when one was parsed.
	HeaderOffset int64

	// Path of a local file holding the part's raw (not yet
	// transfer-encoded) content. Set for composed attachments; parsed
	// parts use Offset/Length into the backing stream instead.
	LocalFile string

	// Children for multipart containers and message/rfc822.
	Parts []*Body
	// Envelope of the nested message for message/rfc822.
	Envelope *Envelope

	Deleted      bool
	Tagged       bool
	Unlink       bool
	NoConv       bool
	ForceCharset bool
	GoodSig      bool
	BadSig       bool
	WarnSig      bool

	// mtime of the attached file at the time of attachment.
	Stamp time.Time
}

// NewBody returns a text/plain leaf.
func NewBody() *Body {
	return &Body{
		Type:        TypeText,
		Subtype:     "plain",
		Encoding:    Enc7Bit,
		Disposition: DispAttach,
	}
}

// ContentType formats the full type/subtype token.
func (b *Body) ContentType() string {
	if b.Type == TypeOther && b.XType != "" {
		return b.XType + "/" + b.Subtype
	}
	return b.Type.String() + "/" + b.Subtype
}

// IsContainer reports whether the part may carry children.
func (b *Body) IsContainer() bool {
	return b.Type == TypeMultipart || b.IsMessage()
}

func (b *Body) IsMessage() bool {
	return b.Type == TypeMessage && (b.Subtype == "rfc822" || b.Subtype == "news" || b.Subtype == "global")
}

// Charset returns the charset parameter, defaulting to us-ascii for text
// parts per RFC 2046.
func (b *Body) Charset() string {
	if cs, ok := b.Params.Get("charset"); ok {
		return cs
	}
	if b.Type == TypeText {
		return "us-ascii"
	}
	return ""
}

// EffectiveFilename prefers the display name over the transmitted one.
func (b *Body) EffectiveFilename() string {
	if b.DisplayFilename != "" {
		return b.DisplayFilename
	}
	return b.Filename
}

// Walk visits the node and every descendant in depth-first order. The
// visitor returning false stops the walk.
func (b *Body) Walk(fn func(*Body) bool) bool {
	if !fn(b) {
		return false
	}
	for _, child := range b.Parts {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Clone deep-copies the subtree.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	out := *b
	out.Params = b.Params.Clone()
	if b.Envelope != nil {
		out.Envelope = b.Envelope.Clone()
	}
	out.Parts = make([]*Body, 0, len(b.Parts))
	for _, child := range b.Parts {
		out.Parts = append(out.Parts, child.Clone())
	}
	if len(out.Parts) == 0 {
		out.Parts = nil
	}
	return &out
}
