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

package imapclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/curlew-mail/curlew/framework/exterrors"
)

// Mode alters how a command is issued.
type Mode int

const (
	// ModeNone issues the command now and blocks for completion.
	ModeNone Mode = 0
	// ModeQueue appends the command to the outbound buffer; it is
	// flushed implicitly before the next non-queued command.
	ModeQueue Mode = 1 << iota
	// ModePass logs the command arguments as "*" (passwords).
	ModePass
	// ModePoll marks a polling command (the IDLE fallback NOOP). Exec
	// does not poll the socket for it: it blocks on the reply exactly as
	// with ModeNone.
	ModePoll
	// ModeSingle drains the pipeline before issuing (STARTTLS).
	ModeSingle
)

type cmdStatus int

const (
	statusInProgress cmdStatus = iota
	statusOK
	statusNo
	statusBad
)

type command struct {
	tag  string
	verb string
	done bool

	status  cmdStatus
	trailer string

	// Text following the last "+ " continuation request.
	contText string
}

const defaultCmdSlots = 6

// pipeline is the fixed ring of outstanding command slots.
type pipeline struct {
	slots []*command
	head  int
	count int
	seq   int
}

func (p *pipeline) init(slots int) {
	if slots < 2 {
		slots = defaultCmdSlots
	}
	p.slots = make([]*command, slots)
}

func (p *pipeline) reset() {
	for i := range p.slots {
		p.slots[i] = nil
	}
	p.head = 0
	p.count = 0
}

func (p *pipeline) full() bool  { return p.count == len(p.slots) }
func (p *pipeline) empty() bool { return p.count == 0 }

func (p *pipeline) push(cmd *command) {
	p.slots[(p.head+p.count)%len(p.slots)] = cmd
	p.count++
}

func (p *pipeline) oldest() *command {
	if p.count == 0 {
		return nil
	}
	return p.slots[p.head]
}

func (p *pipeline) findTag(tag string) *command {
	for i := 0; i < p.count; i++ {
		cmd := p.slots[(p.head+i)%len(p.slots)]
		if cmd != nil && cmd.tag == tag {
			return cmd
		}
	}
	return nil
}

// pop drops completed commands off the front of the ring.
func (p *pipeline) pop() {
	for p.count > 0 {
		cmd := p.slots[p.head]
		if cmd == nil || !cmd.done {
			return
		}
		p.slots[p.head] = nil
		p.head = (p.head + 1) % len(p.slots)
		p.count--
	}
}

// start sequences a command into the pipeline and, unless queued, flushes
// the outbound buffer.
func (c *Client) start(text string, mode Mode) (*command, error) {
	if c.state == stateDisconnected || c.state == stateFatal {
		return nil, &exterrors.ProtocolError{
			Kind: exterrors.KindIo, Protocol: "imap", Message: "not connected",
		}
	}

	if mode&ModeSingle != 0 {
		if err := c.drain(); err != nil {
			return nil, err
		}
	}
	for c.pipeline.full() {
		if err := c.stepOldest(); err != nil {
			return nil, err
		}
	}

	c.pipeline.seq++
	cmd := &command{
		tag:  fmt.Sprintf("a%04d", c.pipeline.seq),
		verb: commandVerb(text),
	}
	cmd.status = statusInProgress
	c.pipeline.push(cmd)

	if mode&ModePass != 0 {
		c.Log.Debugf("%s> %s *", cmd.tag, cmd.verb)
	} else {
		c.Log.Debugf("%s> %s", cmd.tag, text)
	}

	c.queued = append(c.queued, cmd.tag...)
	c.queued = append(c.queued, ' ')
	c.queued = append(c.queued, text...)
	c.queued = append(c.queued, '\r', '\n')

	if mode&ModeQueue != 0 {
		return cmd, nil
	}
	return cmd, c.flushQueued()
}

func (c *Client) flushQueued() error {
	if len(c.queued) == 0 {
		return nil
	}
	out := string(c.queued)
	c.queued = c.queued[:0]
	return c.writeRaw(out)
}

// step reads one line and applies it: untagged responses update mailbox
// state, tagged ones complete commands. It reports whether the line was a
// continuation request addressed to the active command.
func (c *Client) step(active *command) (continuation bool, err error) {
	line, err := c.readLine()
	if err != nil {
		return false, c.fatal(err)
	}
	c.Log.Debugf("< %s", truncateForLog(line))

	switch {
	case strings.HasPrefix(line, "+"):
		if active != nil {
			active.contText = strings.TrimSpace(strings.TrimPrefix(line, "+"))
		}
		return true, nil

	case strings.HasPrefix(line, "* "):
		if err := c.handleUntagged(line[2:]); err != nil {
			return false, err
		}
		return false, nil

	default:
		tag, rest, _ := strings.Cut(line, " ")
		cmd := c.pipeline.findTag(tag)
		if cmd == nil {
			// A reply to a command we no longer track (post-reconnect
			// garbage); discard.
			c.Log.Debugf("response for unknown tag %q", tag)
			return false, nil
		}
		word, trailer, _ := strings.Cut(rest, " ")
		switch strings.ToUpper(word) {
		case "OK":
			cmd.status = statusOK
		case "NO":
			cmd.status = statusNo
			commandFailures.WithLabelValues("imap", cmd.verb).Inc()
		case "BAD":
			cmd.status = statusBad
			commandFailures.WithLabelValues("imap", cmd.verb).Inc()
		default:
			return false, c.fatal(&exterrors.ProtocolError{
				Kind: exterrors.KindProtocolBad, Protocol: "imap",
				Message: "malformed tagged response", ServerText: line,
			})
		}
		cmd.trailer = trailer
		cmd.done = true
		c.pipeline.pop()
		return false, nil
	}
}

func (c *Client) stepOldest() error {
	oldest := c.pipeline.oldest()
	if oldest == nil {
		return nil
	}
	for !oldest.done {
		if _, err := c.step(oldest); err != nil {
			return err
		}
	}
	return nil
}

// drain completes every outstanding command.
func (c *Client) drain() error {
	if err := c.flushQueued(); err != nil {
		return err
	}
	for !c.pipeline.empty() {
		if err := c.stepOldest(); err != nil {
			return err
		}
	}
	return nil
}

// wait blocks until cmd completes, applying untagged responses along the
// way. Untagged state is therefore always applied before the caller sees
// the completion.
func (c *Client) wait(cmd *command) error {
	for !cmd.done {
		if _, err := c.step(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs a command to completion. A tagged NO is returned as a
// recoverable ProtocolNo error; a tagged BAD is fatal to the session.
func (c *Client) Exec(text string, mode Mode) (*command, error) {
	cmd, err := c.start(text, mode)
	if err != nil {
		return nil, err
	}
	if mode&ModeQueue != 0 {
		return cmd, nil
	}
	if err := c.wait(cmd); err != nil {
		return cmd, err
	}
	return cmd, c.statusErr(cmd)
}

func (c *Client) statusErr(cmd *command) error {
	switch cmd.status {
	case statusOK:
		return nil
	case statusNo:
		return &exterrors.ProtocolError{
			Kind: exterrors.KindProtocolNo, Protocol: "imap",
			Command: cmd.verb, ServerText: cmd.trailer,
		}
	default:
		return c.fatal(&exterrors.ProtocolError{
			Kind: exterrors.KindProtocolBad, Protocol: "imap",
			Command: cmd.verb, ServerText: cmd.trailer,
		})
	}
}

// commandStatus maps a failed command onto a caller-chosen error kind
// (e.g. KindAuth for the authentication exchange).
func (c *Client) commandStatus(cmd *command, kind exterrors.Kind) error {
	if cmd.status == statusOK {
		return nil
	}
	if cmd.status == statusBad && kind != exterrors.KindAuth {
		return c.statusErr(cmd)
	}
	return &exterrors.ProtocolError{
		Kind: kind, Protocol: "imap",
		Command: cmd.verb, ServerText: cmd.trailer,
	}
}

// dataAvailable polls the socket for readable bytes without blocking
// longer than the grace period.
func (c *Client) dataAvailable(grace time.Duration) bool {
	if c.br.Buffered() > 0 {
		return true
	}
	if c.netConn == nil {
		return false
	}
	c.netConn.SetReadDeadline(time.Now().Add(grace))
	_, err := c.br.Peek(1)
	c.netConn.SetReadDeadline(time.Time{})
	return err == nil
}

func commandVerb(text string) string {
	verb, rest, _ := strings.Cut(text, " ")
	if strings.EqualFold(verb, "UID") {
		second, _, _ := strings.Cut(rest, " ")
		return verb + " " + second
	}
	return verb
}

func truncateForLog(line string) string {
	const max = 200
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
