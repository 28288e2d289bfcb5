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

package rfc822

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-message/charset"
)

// parseHeaderWithParams splits a structured header value like
// "text/plain; charset=us-ascii" into its leading token and an ordered
// parameter list. Unlike mime.ParseMediaType, insertion order of
// parameters is preserved so a serialize round-trip is stable.
//
// RFC 2231 extended parameters (attr*=charset''escaped, attr*N= and
// attr*N*= continuations) are merged and decoded. RFC 2047 encoded-words
// in parameter values are decoded too; some agents emit them despite the
// RFCs.
func parseHeaderWithParams(value string) (token string, params ParameterList) {
	segs := splitParams(value)
	if len(segs) == 0 {
		return "", nil
	}
	token = strings.TrimSpace(segs[0])

	type contPart struct {
		index   int
		value   string
		encoded bool
	}
	conts := map[string][]contPart{}
	contOrder := []string{}

	for _, seg := range segs[1:] {
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		attr := strings.TrimSpace(seg[:eq])
		val := strings.TrimSpace(seg[eq+1:])
		val = unquote(val)
		if attr == "" {
			continue
		}

		star := strings.IndexByte(attr, '*')
		if star < 0 {
			params = append(params, Parameter{Attribute: attr, Value: decodeWords(val)})
			continue
		}

		base := attr[:star]
		rest := attr[star+1:]
		encoded := false
		index := 0
		switch {
		case rest == "":
			// attr*=ext-value
			encoded = true
		default:
			if strings.HasSuffix(rest, "*") {
				encoded = true
				rest = rest[:len(rest)-1]
			}
			n, err := strconv.Atoi(rest)
			if err != nil {
				continue
			}
			index = n
		}
		if _, ok := conts[base]; !ok {
			contOrder = append(contOrder, base)
			// Reserve the slot in the output list so ordering matches
			// first appearance.
			params = append(params, Parameter{Attribute: base})
		}
		conts[base] = append(conts[base], contPart{index: index, value: val, encoded: encoded})
	}

	for _, base := range contOrder {
		parts := conts[base]
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].index < parts[j].index })

		// The charset prefix appears on the first encoded segment only.
		cs := ""
		var joined strings.Builder
		for i, p := range parts {
			v := p.value
			if p.encoded {
				if i == 0 {
					if q1 := strings.IndexByte(v, '\''); q1 >= 0 {
						if q2 := strings.IndexByte(v[q1+1:], '\''); q2 >= 0 {
							cs = v[:q1]
							v = v[q1+q2+2:]
						}
					}
				}
				v = percentDecode(v)
			}
			joined.WriteString(v)
		}
		decoded := convertString(cs, joined.String())
		params.Set(base, decoded)
	}

	return token, params
}

func splitParams(value string) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i := 0; i < len(value); i++ {
		switch {
		case value[i] == '\\' && quoted:
			i++
		case value[i] == '"':
			quoted = !quoted
		case value[i] == ';' && !quoted:
			out = append(out, value[start:i])
			start = i + 1
		}
	}
	out = append(out, value[start:])
	return out
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		inner := v[1 : len(v)-1]
		if !strings.Contains(inner, `\`) {
			return inner
		}
		var b strings.Builder
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}
	return v
}

func percentDecode(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '%' && i+2 < len(v) {
			hi, ok1 := unhex(v[i+1])
			lo, ok2 := unhex(v[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func convertString(cs, v string) string {
	if cs == "" || strings.EqualFold(cs, "utf-8") || strings.EqualFold(cs, "us-ascii") {
		return v
	}
	r, err := charset.Reader(cs, strings.NewReader(v))
	if err != nil {
		return v
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return v
	}
	return string(out)
}
