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

// Package testutils holds small helpers shared by package tests.
package testutils

import (
	"flag"
	"testing"
	"time"

	"github.com/curlew-mail/curlew/framework/log"
)

var debugLog = flag.Bool("test.debuglog", false, "(curlew) enable debug log in tests")

// Logger returns a logger writing through t.Log, with debug output
// enabled by the -test.debuglog flag.
func Logger(t *testing.T, name string) log.Logger {
	return log.Logger{
		Out: log.FuncOutput(func(_ time.Time, debug bool, msg string) {
			t.Helper()
			if debug {
				msg = "[debug] " + msg
			}
			t.Log(msg)
		}, func() error {
			return nil
		}),
		Name:  name,
		Debug: *debugLog,
	}
}
