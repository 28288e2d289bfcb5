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

// Package signal holds the cooperative cancellation flags set by signal
// handlers and sampled by long-running loops.
package signal

import (
	"os"
	gosignal "os/signal"
	"sync/atomic"
	"syscall"

	"github.com/curlew-mail/curlew/framework/exterrors"
)

// Flag is an atomic boolean settable from a signal handler context.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Set()        { f.v.Store(true) }
func (f *Flag) Clear()      { f.v.Store(false) }
func (f *Flag) IsSet() bool { return f.v.Load() }

// ConsumeSet atomically reads and clears the flag.
func (f *Flag) ConsumeSet() bool { return f.v.Swap(false) }

var (
	SigInt   Flag
	SigWinch Flag
	SigAlrm  Flag
)

// Install wires the process signals to the flags. The returned stop
// function detaches the handlers.
func Install() (stop func()) {
	ch := make(chan os.Signal, 8)
	gosignal.Notify(ch, os.Interrupt, syscall.SIGWINCH, syscall.SIGALRM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				switch sig {
				case os.Interrupt:
					SigInt.Set()
				case syscall.SIGWINCH:
					SigWinch.Set()
				case syscall.SIGALRM:
					SigAlrm.Set()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		gosignal.Stop(ch)
		close(done)
	}
}

// PollCancellation is consulted by long loops (overview parsing, copy
// loops, decoding). When the interrupt flag is set it is consumed and a
// Cancelled error is returned; the loop unwinds normally.
func PollCancellation() error {
	if SigInt.ConsumeSet() {
		return &exterrors.ProtocolError{
			Kind:    exterrors.KindCancelled,
			Message: "interrupted",
		}
	}
	return nil
}
