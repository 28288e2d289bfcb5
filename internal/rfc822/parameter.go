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

import "strings"

// Parameter is a single attribute=value pair of a structured MIME header.
// The attribute is matched case-insensitively; the original spelling is
// preserved for serialization.
type Parameter struct {
	Attribute string
	Value     string
}

// ParameterList is an ordered parameter sequence. Insertion order is
// preserved on serialization.
type ParameterList []Parameter

// Get returns the value of the named parameter and whether it was present.
func (pl ParameterList) Get(attribute string) (string, bool) {
	for _, p := range pl {
		if strings.EqualFold(p.Attribute, attribute) {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the first parameter with the given attribute or appends a
// new one.
func (pl *ParameterList) Set(attribute, value string) {
	for i, p := range *pl {
		if strings.EqualFold(p.Attribute, attribute) {
			(*pl)[i].Value = value
			return
		}
	}
	*pl = append(*pl, Parameter{Attribute: attribute, Value: value})
}

// Del removes every parameter with the given attribute.
func (pl *ParameterList) Del(attribute string) {
	out := (*pl)[:0]
	for _, p := range *pl {
		if strings.EqualFold(p.Attribute, attribute) {
			continue
		}
		out = append(out, p)
	}
	*pl = out
}

func (pl ParameterList) Clone() ParameterList {
	if pl == nil {
		return nil
	}
	out := make(ParameterList, len(pl))
	copy(out, pl)
	return out
}
