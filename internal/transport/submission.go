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

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
)

// Submission delivers through an SMTP submission server. One connection
// per Send call; the session is not reused.
type Submission struct {
	// Dialer to use to establish new network connections.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Timeout for most session commands (EHLO, MAIL, RCPT, DATA).
	CommandTimeout time.Duration
	// Timeout for the initial TCP connection establishment.
	ConnectTimeout time.Duration
	// Timeout for the final dot.
	SubmissionTimeout time.Duration

	// Hostname sent in the EHLO command.
	Hostname string

	Endpoint  config.Endpoint
	TLSConfig *tls.Config
	// Require a TLS layer before authenticating.
	RequireTLS bool

	// SASL credentials; empty user skips authentication.
	User     string
	Password string

	Log log.Logger
}

// NewSubmission fills in the usual defaults.
func NewSubmission(endp config.Endpoint) *Submission {
	return &Submission{
		Dialer:            (&net.Dialer{}).DialContext,
		ConnectTimeout:    5 * time.Minute,
		CommandTimeout:    5 * time.Minute,
		SubmissionTimeout: 12 * time.Minute,
		Hostname:          "localhost.localdomain",
		Endpoint:          endp,
		TLSConfig:         &tls.Config{},
		RequireTLS:        true,
	}
}

func (t *Submission) Send(from string, recipients []string, message []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("transport: no recipients")
	}

	cl, err := t.connect(context.Background())
	if err != nil {
		return err
	}
	defer func() {
		if err := cl.Quit(); err != nil {
			t.Log.Error("QUIT error", err)
			cl.Close()
		}
	}()

	if err := cl.Mail(from, &smtp.MailOptions{}); err != nil {
		return t.wrapClientErr("MAIL", err)
	}
	for _, rcpt := range recipients {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return t.wrapClientErr("RCPT", err)
		}
	}
	wc, err := cl.Data()
	if err != nil {
		return t.wrapClientErr("DATA", err)
	}
	if _, err := io.Copy(wc, bytes.NewReader(message)); err != nil {
		return t.wrapClientErr("DATA", err)
	}
	if err := wc.Close(); err != nil {
		return t.wrapClientErr("DATA", err)
	}
	return nil
}

func (t *Submission) connect(ctx context.Context) (*smtp.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.ConnectTimeout)
	conn, err := t.Dialer(dialCtx, t.Endpoint.Network(), t.Endpoint.Address())
	cancel()
	if err != nil {
		return nil, t.wrapClientErr("connect", err)
	}

	if t.Endpoint.IsTLS() {
		cfg := t.TLSConfig.Clone()
		cfg.ServerName = t.Endpoint.Host
		conn = tls.Client(conn, cfg)
	}

	cl := smtp.NewClient(conn)
	cl.CommandTimeout = t.CommandTimeout
	cl.SubmissionTimeout = t.SubmissionTimeout

	if err := cl.Hello(t.Hostname); err != nil {
		cl.Close()
		return nil, t.wrapClientErr("EHLO", err)
	}

	didTLS := t.Endpoint.IsTLS()
	if !didTLS {
		if ok, _ := cl.Extension("STARTTLS"); ok {
			cfg := t.TLSConfig.Clone()
			cfg.ServerName = t.Endpoint.Host
			if err := cl.StartTLS(cfg); err != nil {
				// After a handshake failure the connection may be in a
				// bad state; attempt a clean QUIT regardless.
				if err := cl.Quit(); err != nil {
					cl.Close()
				}
				return nil, &exterrors.ProtocolError{
					Kind: exterrors.KindTls, Protocol: "smtp",
					Message: "STARTTLS failed", Err: err,
				}
			}
			didTLS = true
		}
	}
	if t.RequireTLS && !didTLS {
		cl.Close()
		return nil, &exterrors.ProtocolError{
			Kind: exterrors.KindTls, Protocol: "smtp",
			Message: "server does not offer STARTTLS",
		}
	}

	if t.User != "" {
		if err := cl.Auth(sasl.NewPlainClient("", t.User, t.Password)); err != nil {
			cl.Close()
			return nil, &exterrors.ProtocolError{
				Kind: exterrors.KindAuth, Protocol: "smtp",
				Message: "authentication failed", Err: err,
			}
		}
	}
	return cl, nil
}

func (t *Submission) wrapClientErr(cmd string, err error) error {
	if err == nil {
		return nil
	}
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		kind := exterrors.KindProtocolNo
		if smtpErr.Code >= 500 {
			kind = exterrors.KindProtocolBad
		}
		return &exterrors.ProtocolError{
			Kind: kind, Protocol: "smtp", Command: cmd,
			ServerText: smtpErr.Message,
			Misc:       map[string]interface{}{"remote_server": t.Endpoint.Host},
			Err:        err,
		}
	}
	return &exterrors.ProtocolError{
		Kind: exterrors.KindIo, Protocol: "smtp", Command: cmd,
		Message: "network I/O error",
		Misc:    map[string]interface{}{"remote_server": t.Endpoint.Host},
		Err:     err,
	}
}
