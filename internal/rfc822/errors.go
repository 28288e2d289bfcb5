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

import "github.com/curlew-mail/curlew/framework/exterrors"

type ErrorKind int

const (
	// ErrHeader: corrupt header folding or malformed structured field.
	ErrHeader ErrorKind = iota
	// ErrIo: the backing stream failed.
	ErrIo
	// ErrDepth: the multipart nesting bound was exceeded.
	ErrDepth
	// ErrBoundary: a boundary parameter violates RFC 2046 (e.g. longer
	// than 70 octets).
	ErrBoundary
)

func (k ErrorKind) String() string {
	switch k {
	case ErrHeader:
		return "header"
	case ErrIo:
		return "io"
	case ErrDepth:
		return "depth"
	case ErrBoundary:
		return "boundary"
	}
	return "unknown"
}

// Error is the parse/serialize failure type of this package.
type Error struct {
	Kind  ErrorKind
	Desc  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "rfc822: " + e.Desc + ": " + e.Cause.Error()
	}
	return "rfc822: " + e.Desc
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is maps the package kinds onto the core taxonomy so that
// errors.Is(err, exterrors.ErrParse) works without unpacking.
func (e *Error) Is(target error) bool {
	if e.Kind == ErrIo {
		return target == exterrors.ErrIo
	}
	return target == exterrors.ErrParse
}

func (e *Error) Fields() map[string]interface{} {
	return map[string]interface{}{
		"parse_error": e.Kind.String(),
		"reason":      e.Desc,
	}
}

func ioErr(err error) *Error {
	return &Error{Kind: ErrIo, Desc: "stream error", Cause: err}
}
