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

// Package exterrors carries the structured error context of the core: the
// ProtocolError taxonomy (protocol.go) plus the field and retryability
// plumbing the logger and the session-recovery paths consume.
package exterrors

import (
	"errors"
)

type fielder interface {
	Fields() map[string]interface{}
}

// Fields flattens the structured context attached anywhere on err's
// unwrap chain into one map. ProtocolError contributes its taxonomy
// fields (kind, proto, command, server_text) through the same interface.
// When a key occurs more than once on the chain, the outermost value
// wins.
func Fields(err error) map[string]interface{} {
	out := make(map[string]interface{}, 5)
	for ; err != nil; err = errors.Unwrap(err) {
		f, ok := err.(fielder)
		if !ok {
			continue
		}
		for k, v := range f.Fields() {
			if _, dup := out[k]; dup {
				continue
			}
			out[k] = v
		}
	}
	return out
}

type withFields struct {
	error
	fields map[string]interface{}
}

func (w withFields) Unwrap() error { return w.error }

func (w withFields) Fields() map[string]interface{} { return w.fields }

// WithFields attaches logger context to an error that is not (or not
// only) a ProtocolError. Errors born inside the core carry their context
// on the ProtocolError itself; this is for decorating external errors on
// their way up.
func WithFields(err error, fields map[string]interface{}) error {
	return withFields{err, fields}
}

// IsTemporary reports whether retrying the failed operation can help.
//
// For a ProtocolError the Kind decides: Io, ProtocolNo and Cancelled are
// worth retrying, everything else (BAD, parse, auth, TLS, internal) is
// not. Other errors are consulted through a Temporary() method and are
// permanent by default.
func IsTemporary(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// IsTemporaryOrUnspec is IsTemporary with the opposite default: an error
// carrying no classification at all counts as temporary.
func IsTemporaryOrUnspec(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

type retryable struct {
	error
	temp bool
}

func (r retryable) Unwrap() error { return r.error }

func (r retryable) Temporary() bool { return r.temp }

// WithTemporary overrides the retryability of err. The original error
// stays reachable through errors.Unwrap.
func WithTemporary(err error, temporary bool) error {
	return retryable{err, temporary}
}
