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

package nntpclient

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "sessions_opened",
			Help:      "Amount of NNTP sessions established",
		},
	)
	sessionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "session_failures",
			Help:      "Amount of NNTP sessions torn down by a fatal error",
		},
	)
	commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "command_failures",
			Help:      "Commands refused or rejected by the server",
		},
		[]string{"command"},
	)
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "hcache_hits",
			Help:      "Header imports satisfied from the header cache",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "hcache_misses",
			Help:      "Header imports that had to hit the wire",
		},
	)
	parseSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "curlew",
			Subsystem: "nntp",
			Name:      "parse_skips",
			Help:      "Articles skipped because their headers failed to parse",
		},
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
