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
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

// wordDecoder resolves charsets through the go-message registry, which
// covers the x/text encodings plus the common mail aliases.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		return charset.Reader(cs, input)
	},
}

// DecodeHeader decodes every RFC 2047 encoded-word in the value.
// Undecodable words are kept verbatim rather than failing the header.
func DecodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func decodeWords(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	return DecodeHeader(value)
}

// EncodeHeader encodes the value for transmission in an unstructured
// header. ASCII-only values pass through unchanged.
func EncodeHeader(value string) string {
	return mime.QEncoding.Encode("utf-8", value)
}
