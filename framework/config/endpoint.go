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

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Endpoint represents a server address. It contains the original input
// value and the component parts of an address. The component parts may be
// updated to the correct values as setup proceeds, but the original value
// should never be changed.
type Endpoint struct {
	Original, Scheme, Host, Port string
}

// String returns a human-friendly print of the address.
func (e Endpoint) String() string {
	if e.Original != "" {
		return e.Original
	}

	if e.Host == "" && e.Port == "" {
		return ""
	}
	s := e.Scheme
	if s != "" {
		s += "://"
	}

	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	s += host

	if e.Port != "" {
		s += ":" + e.Port
	}
	return s
}

func (e Endpoint) Network() string {
	return "tcp"
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// IsTLS reports whether the endpoint uses Implicit TLS.
func (e Endpoint) IsTLS() bool {
	return e.Scheme == "tls" || e.Scheme == "imaps" || e.Scheme == "nntps" || e.Scheme == "snews" || e.Scheme == "smtps"
}

// ParseEndpoint parses an endpoint string into a structured format with
// separate scheme, host and port portions, as well as the original input
// string. Schemes carry the default port: imap(s), nntp/news(s), smtp(s),
// tcp and tls (the latter two require an explicit port).
func ParseEndpoint(str string) (Endpoint, error) {
	input := str

	if !strings.Contains(str, "://") {
		str = "tcp://" + str
	}
	u, err := url.Parse(str)
	if err != nil {
		return Endpoint{}, err
	}

	defaultPort := ""
	switch u.Scheme {
	case "tcp", "tls":
	case "imap":
		defaultPort = "143"
	case "imaps":
		defaultPort = "993"
	case "nntp", "news":
		defaultPort = "119"
	case "nntps", "snews":
		defaultPort = "563"
	case "smtp":
		defaultPort = "587"
	case "smtps":
		defaultPort = "465"
	default:
		return Endpoint{}, fmt.Errorf("unsupported scheme: %s", input)
	}

	// scheme:OPAQUE URL syntax
	if u.Host == "" && u.Opaque != "" {
		u.Host = u.Opaque
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
		port = defaultPort
	}
	if port == "" {
		port = defaultPort
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("port is required: %s", input)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("host is required: %s", input)
	}

	return Endpoint{Original: input, Scheme: u.Scheme, Host: host, Port: port}, nil
}
