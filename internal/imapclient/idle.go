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
	"time"

	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/signal"
)

// Idle enters IDLE when the server supports it and processes untagged
// responses until maxWait elapses, data stops arriving, or the user
// interrupts. Untagged responses received while idling update the reopen
// flags; the caller re-syncs before issuing the next real command.
func (c *Client) Idle(maxWait time.Duration) error {
	if !c.Capable("IDLE") || c.state != stateSelected {
		return c.poll()
	}

	cmd, err := c.start("IDLE", ModeNone)
	if err != nil {
		return err
	}
	c.state = stateIdle

	deadline := time.Now().Add(maxWait)
	sawContinuation := false
	sawActivity := false
	for !cmd.done {
		if signal.SigInt.IsSet() {
			break
		}
		if sawContinuation {
			if time.Now().After(deadline) {
				break
			}
			if !c.dataAvailable(time.Second) {
				if sawActivity {
					break
				}
				continue
			}
		}
		cont, err := c.step(cmd)
		if err != nil {
			c.state = stateSelected
			return err
		}
		if cont {
			sawContinuation = true
		} else if sawContinuation {
			sawActivity = true
		}
	}

	if !cmd.done {
		if err := c.writeRaw("DONE\r\n"); err != nil {
			return err
		}
		if err := c.wait(cmd); err != nil {
			return err
		}
	}
	c.state = stateSelected
	c.lastKeepalive = time.Now()
	return c.statusErr(cmd)
}

// poll is the IDLE fallback: a NOOP gives the server a window to ship
// pending untagged responses.
func (c *Client) poll() error {
	_, err := c.Exec("NOOP", ModeNone|ModePoll)
	c.lastKeepalive = time.Now()
	return err
}

// KeepaliveDue reports whether the configured keepalive interval has
// elapsed since the last server round trip.
func (c *Client) KeepaliveDue() bool {
	interval := c.View.Duration("imap_keepalive", 300*time.Second)
	return time.Since(c.lastKeepalive) >= interval
}

// PendingReopen reports and clears the reopen hints collected from
// untagged responses, translating them into a mailbox check result.
func (c *Client) PendingReopen() mailbox.CheckResult {
	r := c.reopen
	c.reopen = reopenState{}
	switch {
	case r.uidvalidity:
		return mailbox.CheckReopen
	case r.expunged:
		return mailbox.CheckReopen
	case r.newMail:
		return mailbox.CheckNewMail
	case r.pending:
		return mailbox.CheckFlags
	}
	return mailbox.CheckNoChange
}
