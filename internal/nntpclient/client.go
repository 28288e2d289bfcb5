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

// Package nntpclient implements the NNTP reader session used by the nntp
// mailbox backend: capability probing, group selection, overview-based
// header import, article retrieval, posting, and newsrc read-state.
package nntpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/mailbox"
)

type state int

const (
	stateNone state = iota
	stateConnected
	stateOk
	stateBye
	stateFatal
)

// Client is one NNTP reader connection, shared by every group mailbox of
// the owning account.
type Client struct {
	Dialer         func(ctx context.Context, network, addr string) (net.Conn, error)
	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	TLSConfig  *tls.Config
	ForceTLS   bool
	DisableTLS bool

	Log  log.Logger
	View *config.View

	Conn mailbox.Connection

	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	tr      *textproto.Reader
	state   state

	// Capabilities, from CAPABILITIES or probing.
	hasCapabilities bool
	canDate         bool
	canListgroup    bool
	canOver         bool
	canXover        bool
	canListNewsgrp  bool
	canXgtitle      bool
	canXpat         bool
	canStartTLS     bool
	canAuthSASL     []string
	canCompress     bool

	// Cached LIST OVERVIEW.FMT result.
	overviewFmt []overviewField

	// Selected group state.
	group *GroupData
}

func New(conn mailbox.Connection, view *config.View, logger log.Logger) *Client {
	return &Client{
		Dialer:         (&net.Dialer{}).DialContext,
		ConnectTimeout: 1 * time.Minute,
		CommandTimeout: 5 * time.Minute,
		TLSConfig:      &tls.Config{},
		ForceTLS:       view.Bool("ssl_force_tls", false),
		DisableTLS:     !view.Bool("ssl_starttls", true),
		Log:            logger,
		View:           view,
		Conn:           conn,
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.netConn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	c.tr = textproto.NewReader(c.br)
}

// Connect dials, negotiates MODE READER, STARTTLS and authentication,
// and probes server capabilities.
func (c *Client) Connect(ctx context.Context) error {
	if c.state == stateOk {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	conn, err := c.Dialer(dialCtx, c.Conn.Endpoint.Network(), c.Conn.Endpoint.Address())
	cancel()
	if err != nil {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindIo, Protocol: "nntp",
			Message: "connection failed", Err: err,
		})
	}
	if c.Conn.Endpoint.IsTLS() {
		cfg := c.TLSConfig.Clone()
		cfg.ServerName = c.Conn.Endpoint.Host
		conn = tls.Client(conn, cfg)
		c.Conn.SSF = 1
	}
	c.setConn(conn)
	c.state = stateConnected
	sessionsOpened.Inc()

	code, line, err := c.readStatus()
	if err != nil {
		return err
	}
	if code != 200 && code != 201 {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Message: "unexpected greeting", ServerText: line,
		})
	}

	if err := c.detectCapabilities(); err != nil {
		return err
	}

	if !c.Conn.Endpoint.IsTLS() && !c.DisableTLS {
		switch {
		case c.canStartTLS:
			if err := c.startTLS(); err != nil {
				return err
			}
		case c.ForceTLS:
			return c.fatal(&exterrors.ProtocolError{
				Kind: exterrors.KindTls, Protocol: "nntp",
				Message: "server does not offer STARTTLS",
			})
		}
	}

	// MODE READER may switch us to a different backend with different
	// capabilities.
	if code, _, err := c.cmd("MODE READER"); err != nil {
		return err
	} else if code == 200 || code == 201 {
		if err := c.detectCapabilities(); err != nil {
			return err
		}
	}

	if c.Conn.User != "" {
		if err := c.authenticate(); err != nil {
			return err
		}
		// Post-auth capabilities may differ again.
		if err := c.detectCapabilities(); err != nil {
			return err
		}
	}

	c.state = stateOk
	return nil
}

func (c *Client) startTLS() error {
	code, line, err := c.cmd("STARTTLS")
	if err != nil {
		return err
	}
	if code != 382 {
		if c.ForceTLS {
			return c.fatal(&exterrors.ProtocolError{
				Kind: exterrors.KindTls, Protocol: "nntp",
				Message: "STARTTLS refused", ServerText: line,
			})
		}
		return nil
	}
	cfg := c.TLSConfig.Clone()
	cfg.ServerName = c.Conn.Endpoint.Host
	tlsConn := tls.Client(c.netConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindTls, Protocol: "nntp",
			Message: "TLS handshake failed", Err: err,
		})
	}
	c.setConn(tlsConn)
	c.Conn.SSF = 1
	return c.detectCapabilities()
}

// detectCapabilities issues CAPABILITIES and falls back to conservative
// probing on servers predating RFC 3977.
func (c *Client) detectCapabilities() error {
	code, _, err := c.cmd("CAPABILITIES")
	if err != nil {
		return err
	}
	if code == 101 {
		c.hasCapabilities = true
		c.canDate = false
		c.canListgroup = false
		c.canOver = false
		c.canListNewsgrp = false
		c.canStartTLS = false
		c.canAuthSASL = nil
		if err := c.readMultiline(func(line string) error {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				return nil
			}
			switch strings.ToUpper(fields[0]) {
			case "READER":
				c.canDate = true
				c.canListgroup = true
			case "OVER":
				c.canOver = true
			case "XOVER":
				c.canXover = true
			case "LIST":
				for _, arg := range fields[1:] {
					if strings.EqualFold(arg, "NEWSGROUPS") {
						c.canListNewsgrp = true
					}
				}
			case "STARTTLS":
				c.canStartTLS = true
			case "SASL":
				c.canAuthSASL = fields[1:]
			case "XPAT":
				c.canXpat = true
			case "COMPRESS":
				c.canCompress = true
			}
			return nil
		}); err != nil {
			return err
		}
		return nil
	}

	// Legacy server: probe the extensions one by one.
	c.hasCapabilities = false
	drain := func(string) error { return nil }

	if code, _, err := c.cmd("DATE"); err != nil {
		return err
	} else if code == 111 {
		c.canDate = true
	}

	if code, _, err := c.cmd("LISTGROUP"); err != nil {
		return err
	} else if code == 211 || code == 412 {
		c.canListgroup = true
		if code == 211 {
			if err := c.readMultiline(drain); err != nil {
				return err
			}
		}
	}

	for _, p := range []struct {
		text string
		flag *bool
		body int
	}{
		{"OVER", &c.canOver, 224},
		{"XOVER", &c.canXover, 224},
		{"XPAT", &c.canXpat, 221},
	} {
		code, _, err := c.cmd(p.text)
		if err != nil {
			return err
		}
		if code != 500 && code != 501 && code != 502 {
			*p.flag = true
			if code == p.body {
				if err := c.readMultiline(drain); err != nil {
					return err
				}
			}
		}
	}

	if code, _, err := c.cmd("LIST NEWSGROUPS curlew.probe.nonexistent"); err != nil {
		return err
	} else if code == 215 {
		c.canListNewsgrp = true
		if err := c.readMultiline(drain); err != nil {
			return err
		}
	}

	if code, _, err := c.cmd("XGTITLE curlew.probe.nonexistent"); err != nil {
		return err
	} else if code != 500 && code != 501 && code != 502 {
		c.canXgtitle = true
		if code == 282 {
			if err := c.readMultiline(drain); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) authenticate() error {
	for _, mech := range c.canAuthSASL {
		if mech != "PLAIN" {
			continue
		}
		if err := c.authSASLPlain(); err != nil {
			if exterrors.KindOf(err) == exterrors.KindAuth {
				break
			}
			return err
		}
		return nil
	}

	// AUTHINFO USER/PASS fallback.
	code, line, err := c.cmdPass("AUTHINFO USER %s", c.Conn.User)
	if err != nil {
		return err
	}
	if code == 381 {
		code, line, err = c.cmdPass("AUTHINFO PASS %s", c.Conn.Password)
		if err != nil {
			return err
		}
	}
	if code != 281 {
		c.Conn.Password = ""
		return &exterrors.ProtocolError{
			Kind: exterrors.KindAuth, Protocol: "nntp",
			Message: "authentication failed", ServerText: line,
		}
	}
	return nil
}

func (c *Client) authSASLPlain() error {
	client := sasl.NewPlainClient("", c.Conn.User, c.Conn.Password)
	_, ir, err := client.Start()
	if err != nil {
		return err
	}
	code, line, err := c.cmdPass("AUTHINFO SASL PLAIN %s", base64.StdEncoding.EncodeToString(ir))
	if err != nil {
		return err
	}
	if code != 281 {
		return &exterrors.ProtocolError{
			Kind: exterrors.KindAuth, Protocol: "nntp",
			Message: "SASL authentication failed", ServerText: line,
		}
	}
	return nil
}

// Quit ends the session.
func (c *Client) Quit() error {
	if c.state == stateNone {
		return nil
	}
	c.state = stateBye
	_, _, err := c.cmd("QUIT")
	c.close()
	return err
}

func (c *Client) close() {
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	c.state = stateNone
	c.group = nil
}

func (c *Client) fatal(err error) error {
	if c.state != stateFatal {
		c.Log.Error("session failure", err, "server", c.Conn.Endpoint.String())
		c.state = stateFatal
		if c.netConn != nil {
			c.netConn.Close()
			c.netConn = nil
		}
		sessionFailures.Inc()
	}
	return err
}

// cmd sends one command line and reads the status line.
func (c *Client) cmd(format string, args ...interface{}) (int, string, error) {
	return c.cmdInternal(fmt.Sprintf(format, args...), false)
}

// cmdPass is cmd with the arguments masked in the debug log.
func (c *Client) cmdPass(format string, args ...interface{}) (int, string, error) {
	return c.cmdInternal(fmt.Sprintf(format, args...), true)
}

func (c *Client) cmdInternal(text string, mask bool) (int, string, error) {
	if c.netConn == nil {
		return 0, "", &exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "not connected"}
	}
	if mask {
		verb, _, _ := strings.Cut(text, " ")
		c.Log.Debugf("> %s *", verb)
	} else {
		c.Log.Debugf("> %s", text)
	}
	if c.CommandTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.CommandTimeout))
	}
	if _, err := c.bw.WriteString(text + "\r\n"); err != nil {
		return 0, "", c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "write failed", Err: err})
	}
	if err := c.bw.Flush(); err != nil {
		return 0, "", c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "write failed", Err: err})
	}
	return c.readStatus()
}

// readStatus reads a three-digit status line. A 5xx is fatal to the
// session, a 4xx is recoverable; classification happens at the caller
// which knows which codes are expected.
func (c *Client) readStatus() (int, string, error) {
	if c.CommandTimeout > 0 && c.netConn != nil {
		c.netConn.SetReadDeadline(time.Now().Add(c.CommandTimeout))
	}
	line, err := c.tr.ReadLine()
	if err != nil {
		return 0, "", c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "read failed", Err: err})
	}
	c.Log.Debugf("< %s", line)
	if len(line) < 3 {
		return 0, line, c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Message: "malformed status line", ServerText: line,
		})
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, line, c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Message: "malformed status line", ServerText: line,
		})
	}
	return code, line, nil
}

// readMultiline consumes a dot-terminated response body, undoing
// dot-stuffing, and feeds each line to fn.
func (c *Client) readMultiline(fn func(line string) error) error {
	dr := c.tr.DotReader()
	sc := bufio.NewScanner(dr)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Text()); err != nil {
			// The remainder of the response still has to leave the
			// socket before the next command.
			io.Copy(io.Discard, dr)
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "read failed", Err: err})
	}
	return nil
}

// statusErr converts an unexpected status code into the error taxonomy.
func (c *Client) statusErr(verb string, code int, line string) error {
	switch {
	case code >= 500:
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Command: verb, ServerText: line,
		})
	case code >= 400:
		commandFailures.WithLabelValues(verb).Inc()
		return &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "nntp",
			Command: verb, ServerText: line,
		}
	default:
		return &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "nntp",
			Command: verb, ServerText: line,
		}
	}
}
