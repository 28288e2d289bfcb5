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

package compose

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/curlew-mail/curlew/internal/crypto"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Transport hands a finished message to the outside world (sendmail
// exec, SMTP submission, NNTP post).
type Transport interface {
	Send(from string, recipients []string, message []byte) error
}

// SendResult reports what happened to a message that could not be fully
// sent.
type SendResult int

const (
	SendOK SendResult = iota
	// SendPostponed: the Fcc failed, the message was left postponed and
	// never reached the transport.
	SendPostponed
)

// Send runs the outgoing pipeline: serialization, crypto on the
// serialized bytes, Fcc, then the transport. The Fcc is written before
// the transport runs, so the user always keeps a local copy; an Fcc failure postpones the message
// instead of sending it.
func (s *Session) Send(dispatcher *crypto.Dispatcher, transport Transport, fccPaths string, postpone func([]byte) error) (SendResult, error) {
	if err := s.PrepareSend(); err != nil {
		return SendOK, err
	}

	var buf bytes.Buffer
	if err := rfc822.WriteMessage(&buf, s.Email, nil, rfc822.WriteOptions{}); err != nil {
		return SendOK, err
	}
	message := buf.Bytes()

	if dispatcher != nil && s.Email.Security&(rfc822.SecSign|rfc822.SecEncrypt) != 0 {
		var err error
		message, err = applyCrypto(dispatcher, s.Email, message)
		if err != nil {
			return SendOK, err
		}
	}

	if fccPaths != "" && s.View.Bool("fcc_before_send", true) {
		if err := WriteFcc(fccPaths, message, s.Email); err != nil {
			if postpone != nil {
				if perr := postpone(withBcc(s, message)); perr != nil {
					return SendPostponed, perr
				}
			}
			return SendPostponed, err
		}
	}

	from := ""
	if !s.Email.Envelope.From.Empty() {
		from = s.Email.Envelope.From.Mailboxes()[0]
	}
	recipients := recipientList(s.Email.Envelope)
	if err := transport.Send(from, recipients, message); err != nil {
		return SendOK, err
	}
	return SendOK, nil
}

func withBcc(s *Session, fallback []byte) []byte {
	var buf bytes.Buffer
	if err := rfc822.WriteMessage(&buf, s.Email, nil, rfc822.WriteOptions{IncludeBcc: true}); err != nil {
		return fallback
	}
	return buf.Bytes()
}

func applyCrypto(d *crypto.Dispatcher, e *rfc822.Email, message []byte) ([]byte, error) {
	backend := d.Pgp
	if e.Security&rfc822.SecApplicationSmime != 0 {
		backend = d.Smime
	}
	if backend == nil {
		return nil, fmt.Errorf("compose: no crypto backend for the requested operation")
	}

	out := message
	var err error
	if e.Security&rfc822.SecSign != 0 {
		out, err = backend.SignMessage(out)
		if err != nil {
			return nil, err
		}
	}
	if e.Security&rfc822.SecEncrypt != 0 {
		out, err = backend.EncryptMessage(out, recipientList(e.Envelope))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func recipientList(env *rfc822.Envelope) []string {
	var out []string
	out = append(out, env.To.Mailboxes()...)
	out = append(out, env.Cc.Mailboxes()...)
	out = append(out, env.Bcc.Mailboxes()...)
	return out
}

// WriteFcc saves a copy of the outgoing message to every path in the
// comma-separated list.
//
// Empty tokens (consecutive commas, a leading or trailing comma) are
// skipped entirely and never reach the writer; a list consisting only of
// empty tokens behaves as if no Fcc was configured.
func WriteFcc(fccPaths string, message []byte, e *rfc822.Email) error {
	for _, path := range strings.Split(fccPaths, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := appendToMbox(path, message, e); err != nil {
			return err
		}
	}
	return nil
}

// appendToMbox appends in mbox format, creating the file if needed.
func appendToMbox(path string, message []byte, e *rfc822.Email) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	from := "MAILER-DAEMON"
	if e != nil && !e.Envelope.From.Empty() {
		from = e.Envelope.From.Mailboxes()[0]
	}
	stamp := "Thu Jan  1 00:00:00 1970"
	if e != nil && !e.Envelope.DateParsed.IsZero() {
		stamp = e.Envelope.DateParsed.UTC().Format("Mon Jan  2 15:04:05 2006")
	}
	if _, err := fmt.Fprintf(f, "From %s %s\n", from, stamp); err != nil {
		return err
	}

	// mbox From-quoting on the stored copy.
	for _, line := range bytes.SplitAfter(message, []byte{'\n'}) {
		if bytes.HasPrefix(line, []byte("From ")) {
			if _, err := f.Write([]byte{'>'}); err != nil {
				return err
			}
		}
		if _, err := f.Write(line); err != nil {
			return err
		}
	}
	_, err = f.Write([]byte{'\n'})
	return err
}
