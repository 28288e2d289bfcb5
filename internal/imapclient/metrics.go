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

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "session",
			Name:      "opened",
			Help:      "Amount of protocol sessions established",
		},
		[]string{"proto"},
	)
	sessionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "session",
			Name:      "failures",
			Help:      "Amount of sessions torn down by a fatal error",
		},
		[]string{"proto"},
	)
	commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "session",
			Name:      "command_failures",
			Help:      "Commands refused or rejected by the server",
		},
		[]string{"proto", "command"},
	)
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "hcache",
			Name:      "hits",
			Help:      "Header imports satisfied from the header cache",
		},
		[]string{"proto"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "hcache",
			Name:      "misses",
			Help:      "Header imports that had to hit the wire",
		},
		[]string{"proto"},
	)
	parseSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "session",
			Name:      "parse_skips",
			Help:      "Messages skipped because their headers failed to parse",
		},
		[]string{"proto"},
	)
)

func init() {
	prometheus.MustRegister(sessionsOpened)
	prometheus.MustRegister(sessionFailures)
	prometheus.MustRegister(commandFailures)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(parseSkips)
}
