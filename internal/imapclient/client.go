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

// Package imapclient implements the IMAP4rev1 session used by the imap
// mailbox backend: a tagged-command pipeline with untagged-response
// dispatch, STARTTLS and SASL negotiation, UID-based synchronization and
// IDLE polling.
package imapclient

import (
	"bufio"
	"compress/flate"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
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
	stateDisconnected state = iota
	stateConnected
	stateAuthenticated
	stateSelected
	stateIdle
	stateBye
	stateFatal
)

// TLSMode controls STARTTLS negotiation.
type TLSMode int

const (
	// TLSAvailable upgrades when the server offers STARTTLS.
	TLSAvailable TLSMode = iota
	// TLSRequired fails the connection without a TLS layer.
	TLSRequired
	// TLSOff never upgrades.
	TLSOff
)

// Client is one IMAP connection, shared by every mailbox of the owning
// account. Only one mailbox is selected at a time.
type Client struct {
	// Dialer used to establish new network connections. Set to
	// net.Dialer DialContext by New.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Timeout for most commands.
	CommandTimeout time.Duration
	// Timeout for the initial TCP connection establishment.
	ConnectTimeout time.Duration

	TLSConfig *tls.Config
	TLSMode   TLSMode

	Log  log.Logger
	View *config.View

	// Server coordinates and credentials.
	Conn mailbox.Connection

	// Authenticator builds the SASL client for a mechanism the server
	// advertised. The default covers PLAIN, LOGIN and EXTERNAL.
	Authenticator func(mech string) sasl.Client

	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	state   state

	caps       map[string]bool
	capsListed bool

	pipeline pipeline
	// Outbound buffer of queued (not yet flushed) commands.
	queued []byte

	// The currently selected mailbox, if any.
	selected *mailbox.Mailbox

	// Set by untagged responses while a command is in flight; consulted
	// at the next reopen boundary.
	reopen reopenState

	// Hook receiving FETCH responses during a header import; unsolicited
	// FETCH updates go to the selected mailbox instead.
	onFetch func(*fetchItem)

	// Accumulators filled by untagged responses of the active command.
	lastList   []ListEntry
	lastStatus []StatusResult
	lastSearch []uint32

	lastKeepalive time.Time
}

type reopenState struct {
	pending     bool
	uidvalidity bool
	expunged    bool
	newMail     bool
}

// New returns a Client with the usual defaults filled in.
func New(conn mailbox.Connection, view *config.View, logger log.Logger) *Client {
	c := &Client{
		Dialer:         (&net.Dialer{}).DialContext,
		ConnectTimeout: 1 * time.Minute,
		CommandTimeout: 5 * time.Minute,
		TLSConfig:      &tls.Config{},
		Log:            logger,
		View:           view,
		Conn:           conn,
		caps:           map[string]bool{},
	}
	c.pipeline.init(view.Int("imap_pipeline_depth", defaultCmdSlots))
	if view.Bool("ssl_force_tls", false) {
		c.TLSMode = TLSRequired
	} else if !view.Bool("ssl_starttls", true) {
		c.TLSMode = TLSOff
	}
	c.Authenticator = func(mech string) sasl.Client {
		switch mech {
		case "PLAIN":
			return sasl.NewPlainClient("", conn.User, conn.Password)
		case "LOGIN":
			return sasl.NewLoginClient(conn.User, conn.Password)
		case "EXTERNAL":
			return sasl.NewExternalClient("")
		}
		return nil
	}
	return c
}

func (c *Client) Capable(cap string) bool {
	return c.caps[strings.ToUpper(cap)]
}

func (c *Client) Selected() *mailbox.Mailbox {
	return c.selected
}

// Connect dials the server, negotiates capabilities and TLS, and
// authenticates. It is a no-op on an already-authenticated session.
func (c *Client) Connect(ctx context.Context) error {
	if c.state >= stateAuthenticated && c.state < stateBye {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	conn, err := c.Dialer(dialCtx, c.Conn.Endpoint.Network(), c.Conn.Endpoint.Address())
	cancel()
	if err != nil {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindIo, Protocol: "imap",
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
	sessionsOpened.WithLabelValues("imap").Inc()

	if err := c.readGreeting(); err != nil {
		return err
	}
	if !c.capsListed {
		if _, err := c.Exec("CAPABILITY", ModeNone); err != nil {
			return err
		}
	}

	if !c.Conn.Endpoint.IsTLS() && c.TLSMode != TLSOff {
		switch {
		case c.Capable("STARTTLS"):
			if err := c.startTLS(); err != nil {
				return err
			}
		case c.TLSMode == TLSRequired:
			return c.fatal(&exterrors.ProtocolError{
				Kind: exterrors.KindTls, Protocol: "imap",
				Message: "server does not offer STARTTLS",
			})
		}
	}

	if err := c.authenticate(); err != nil {
		return err
	}
	c.state = stateAuthenticated

	// The pre-auth capability list may be stale.
	if _, err := c.Exec("CAPABILITY", ModeNone); err != nil {
		return err
	}

	if c.Capable("ENABLE") {
		enable := []string{}
		if c.Capable("QRESYNC") && c.View.Bool("imap_qresync", true) {
			enable = append(enable, "QRESYNC")
		}
		if c.Capable("UTF8=ACCEPT") {
			enable = append(enable, "UTF8=ACCEPT")
		}
		if len(enable) > 0 {
			if _, err := c.Exec("ENABLE "+strings.Join(enable, " "), ModeNone); err != nil {
				return err
			}
		}
	}

	if c.Capable("COMPRESS=DEFLATE") && c.View.Bool("imap_deflate", true) {
		if err := c.startCompress(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) setConn(conn net.Conn) {
	c.netConn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
}

func (c *Client) readGreeting() error {
	line, err := c.readLine()
	if err != nil {
		return c.fatal(err)
	}
	switch {
	case strings.HasPrefix(line, "* OK"):
		// Some servers put the capability list into the banner.
		if code, ok := responseCode(line); ok && strings.HasPrefix(code, "CAPABILITY ") {
			c.setCaps(strings.Fields(code)[1:])
		}
		return nil
	case strings.HasPrefix(line, "* PREAUTH"):
		c.state = stateAuthenticated
		return nil
	default:
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "imap",
			Message: "unexpected greeting", ServerText: line,
		})
	}
}

func (c *Client) startTLS() error {
	// STARTTLS must not share the pipeline with other commands.
	if _, err := c.Exec("STARTTLS", ModeSingle); err != nil {
		return err
	}
	cfg := c.TLSConfig.Clone()
	cfg.ServerName = c.Conn.Endpoint.Host
	tlsConn := tls.Client(c.netConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindTls, Protocol: "imap",
			Message: "TLS handshake failed", Err: err,
		})
	}
	c.setConn(tlsConn)
	c.Conn.SSF = 1

	// Capabilities may differ on the secured channel.
	c.caps = map[string]bool{}
	_, err := c.Exec("CAPABILITY", ModeNone)
	return err
}

func (c *Client) startCompress() error {
	if _, err := c.Exec("COMPRESS DEFLATE", ModeSingle); err != nil {
		// A NO here just means no compression.
		if exterrors.KindOf(err) == exterrors.KindProtocolNo {
			return nil
		}
		return err
	}
	fr := flate.NewReader(c.br)
	fw, err := flate.NewWriter(c.bw, flate.DefaultCompression)
	if err != nil {
		return err
	}
	c.br = bufio.NewReader(fr)
	c.bw = bufio.NewWriter(&flushWriter{w: fw, under: c.bw})
	c.Log.DebugMsg("deflate enabled")
	return nil
}

// flushWriter flushes the flate stream and the socket buffer together so
// command lines actually leave the process.
type flushWriter struct {
	w     *flate.Writer
	under *bufio.Writer
}

func (fw *flushWriter) Write(b []byte) (int, error) {
	n, err := fw.w.Write(b)
	if err != nil {
		return n, err
	}
	if err := fw.w.Flush(); err != nil {
		return n, err
	}
	return n, fw.under.Flush()
}

func (c *Client) authenticate() error {
	if c.state == stateAuthenticated {
		return nil
	}

	var mechs []string
	for cap := range c.caps {
		if strings.HasPrefix(cap, "AUTH=") {
			mechs = append(mechs, strings.TrimPrefix(cap, "AUTH="))
		}
	}
	// Mechanism preference: EXTERNAL only helps under client certs, so
	// PLAIN first, then LOGIN.
	for _, want := range []string{"PLAIN", "LOGIN"} {
		for _, have := range mechs {
			if have != want {
				continue
			}
			err := c.authSASL(want)
			if err == nil {
				return nil
			}
			if exterrors.KindOf(err) != exterrors.KindAuth {
				return err
			}
			// Auth failure: fall through to the next mechanism.
			c.Log.Error("authentication failed", err, "mech", want)
		}
	}

	if c.Capable("LOGINDISABLED") {
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindAuth, Protocol: "imap",
			Message: "no usable authentication mechanism",
		})
	}
	return c.login()
}

func (c *Client) authSASL(mech string) error {
	client := c.Authenticator(mech)
	if client == nil {
		return &exterrors.ProtocolError{
			Kind: exterrors.KindAuth, Protocol: "imap",
			Message: "mechanism not supported", Misc: map[string]interface{}{"mech": mech},
		}
	}
	_, ir, err := client.Start()
	if err != nil {
		return err
	}

	cmdText := "AUTHENTICATE " + mech
	if len(ir) > 0 && c.Capable("SASL-IR") {
		cmdText += " " + base64.StdEncoding.EncodeToString(ir)
		ir = nil
	}

	cmd, err := c.start(cmdText, ModePass)
	if err != nil {
		return err
	}
	for !cmd.done {
		cont, err := c.step(cmd)
		if err != nil {
			return err
		}
		if !cont {
			continue
		}
		// Continuation request: answer with the next SASL round.
		var resp []byte
		if ir != nil {
			resp = ir
			ir = nil
		} else {
			challenge, err := base64.StdEncoding.DecodeString(cmd.contText)
			if err != nil {
				return c.fatal(&exterrors.ProtocolError{
					Kind: exterrors.KindProtocolBad, Protocol: "imap",
					Message: "bad SASL challenge", Err: err,
				})
			}
			resp, err = client.Next(challenge)
			if err != nil {
				// Abort the exchange per RFC 3501.
				c.writeRaw("*\r\n")
				return &exterrors.ProtocolError{
					Kind: exterrors.KindAuth, Protocol: "imap",
					Message: "SASL exchange failed", Err: err,
				}
			}
		}
		c.writeRaw(base64.StdEncoding.EncodeToString(resp) + "\r\n")
	}
	return c.commandStatus(cmd, exterrors.KindAuth)
}

// login falls back to the legacy LOGIN command with quoted arguments.
func (c *Client) login() error {
	text := fmt.Sprintf("LOGIN %s %s", quoteString(c.Conn.User), quoteString(c.Conn.Password))
	cmd, err := c.start(text, ModePass)
	if err != nil {
		return err
	}
	if err := c.wait(cmd); err != nil {
		return err
	}
	return c.commandStatus(cmd, exterrors.KindAuth)
}

// Logout ends the session cleanly.
func (c *Client) Logout() error {
	if c.state == stateDisconnected {
		return nil
	}
	c.state = stateBye
	_, err := c.Exec("LOGOUT", ModeNone)
	c.close()
	return err
}

func (c *Client) close() {
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	c.state = stateDisconnected
	c.selected = nil
	c.pipeline.reset()
}

// fatal tears the session down and reports err. The next operation will
// attempt to reconnect and re-select the previous mailbox.
func (c *Client) fatal(err error) error {
	if c.state != stateFatal {
		c.Log.Error("session failure", err, "server", c.Conn.Endpoint.String())
		c.state = stateFatal
		if c.netConn != nil {
			c.netConn.Close()
			c.netConn = nil
		}
		c.pipeline.reset()
		sessionFailures.WithLabelValues("imap").Inc()
	}
	return err
}

// Reconnect re-dials after a fatal error and re-selects the previously
// selected mailbox.
func (c *Client) Reconnect(ctx context.Context) error {
	prev := c.selected
	c.close()
	c.caps = map[string]bool{}
	c.capsListed = false
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if prev != nil {
		return c.Select(prev, prev.ReadOnly)
	}
	return nil
}

func (c *Client) writeRaw(s string) error {
	if c.netConn == nil {
		return &exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "imap", Message: "not connected"}
	}
	if c.CommandTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.CommandTimeout))
	}
	if _, err := c.bw.WriteString(s); err != nil {
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "imap", Message: "write failed", Err: err})
	}
	if err := c.bw.Flush(); err != nil {
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "imap", Message: "write failed", Err: err})
	}
	return nil
}

// readLine reads one response line. Literals ({N}CRLF followed by N
// octets) are folded into the returned string so callers see one logical
// line.
func (c *Client) readLine() (string, error) {
	var out strings.Builder
	for {
		if c.CommandTimeout > 0 && c.netConn != nil {
			c.netConn.SetReadDeadline(time.Now().Add(c.CommandTimeout))
		}
		raw, err := c.br.ReadString('\n')
		if err != nil {
			return "", &exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "imap", Message: "read failed", Err: err}
		}
		line := strings.TrimRight(raw, "\r\n")
		out.WriteString(line)

		n, ok := trailingLiteral(line)
		if !ok {
			return out.String(), nil
		}
		lit := make([]byte, n)
		if _, err := io.ReadFull(c.br, lit); err != nil {
			return "", &exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "imap", Message: "literal read failed", Err: err}
		}
		out.Write(lit)
	}
}

// trailingLiteral detects a "{N}" literal marker ending a line.
func trailingLiteral(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	n := 0
	digits := line[open+1 : len(line)-1]
	if digits == "" {
		return 0, false
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}

func (c *Client) setCaps(tokens []string) {
	for _, tok := range tokens {
		c.caps[strings.ToUpper(tok)] = true
	}
	c.capsListed = true
}

func quoteString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func responseCode(line string) (string, bool) {
	open := strings.IndexByte(line, '[')
	if open < 0 {
		return "", false
	}
	close_ := strings.IndexByte(line[open:], ']')
	if close_ < 0 {
		return "", false
	}
	return line[open+1 : open+close_], true
}
