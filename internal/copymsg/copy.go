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

// Package copymsg copies message headers and bodies between streams,
// transforming them according to a flag set.
package copymsg

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

// Flags select the transformations applied by CopyHeader.
type Flags uint32

const (
	// Decode RFC 2047 encoded words.
	Decode Flags = 1 << iota
	// From retains the mbox "From " separator line.
	From
	// ForceFrom gives From precedence over weeding.
	ForceFrom
	// Mime drops Content-Type, Content-Transfer-Encoding and
	// MIME-Version (the caller rewrites them).
	Mime
	// NoLen drops Content-Length and Lines.
	NoLen
	// NoNewline suppresses the blank header terminator line.
	NoNewline
	// NoStatus drops Status and X-Status.
	NoStatus
	// Prefix quotes every emitted line with Options.Prefix.
	Prefix
	// Reorder emits headers in Options.HeaderOrder bucket order.
	Reorder
	// TxtPlain appends text/plain MIME headers (decoded copies).
	TxtPlain
	// Update writes fresh Status/X-Status lines from the message flags.
	Update
	// UpdateLen writes fresh Content-Length/Lines values.
	UpdateLen
	// Xmit prepares the header block for transmission.
	Xmit
	// Weed drops headers matching the ignore list.
	Weed
	// NoQFrom drops ">From " lines instead of keeping them.
	NoQFrom
	// UpdateIrt replaces In-Reply-To from the envelope.
	UpdateIrt
	// UpdateRefs replaces References from the envelope.
	UpdateRefs
	// UpdateLabel replaces X-Label from the envelope.
	UpdateLabel
	// Virtual emits backend-virtual headers (notmuch-style folder).
	Virtual
	// Display marks a copy made for on-screen viewing.
	Display
)

// Options carry the non-flag inputs of the engine.
type Options struct {
	Prefix   string
	WrapCols int
	// Bucket prefixes for Reorder.
	HeaderOrder []string
	// Weeding lists: a header is dropped when it prefix-matches Ignore
	// and does not prefix-match Unignore. "*" matches everything.
	Ignore   []string
	Unignore []string
	// Charset emitted by TxtPlain.
	Charset string
	// Virtual folder name emitted under Virtual.
	Folder string
	// Side channel receiving Autocrypt, From, Date, To and Cc headers
	// verbatim, so an Autocrypt gossip processor sees them unmodified.
	Autocrypt io.Writer
}

func (o Options) wrapCols() int {
	if o.WrapCols <= 0 {
		return 78
	}
	return o.WrapCols
}

// CopyHeaderRange copies the header block between two stream offsets,
// applying the flag set. The terminating blank line of the source block is
// consumed but not copied; the destination terminator is controlled by
// NoNewline.
func CopyHeaderRange(src io.ReadSeeker, dst io.Writer, start, end int64, flags Flags, opts Options) error {
	if start < 0 {
		return fmt.Errorf("copymsg: negative start offset")
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReader(io.LimitReader(src, end-start))
	bw := bufio.NewWriter(dst)

	var err error
	if flags&(Reorder|Weed|Mime|Decode|Prefix) == 0 {
		err = copyFast(br, bw, flags)
	} else {
		err = copySlow(br, bw, flags, opts)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func copyFast(br *bufio.Reader, bw *bufio.Writer, flags Flags) error {
	from := false
	ignore := false
	for {
		line, err := readLine(br)
		if line == nil {
			break
		}

		if isHeaderStart(line) {
			body := false
			ignore, from, body = classifyFast(line, flags, from)
			if body {
				break
			}
		}
		if !ignore {
			if _, werr := bw.Write(line); werr != nil {
				return werr
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}

// classifyFast decides whether the header starting at line is dropped.
// Returns (ignore, from, endOfHeaders).
func classifyFast(line []byte, flags Flags, from bool) (bool, bool, bool) {
	s := string(line)

	if !from && strings.HasPrefix(s, "From ") {
		if flags&From == 0 {
			return true, from, false
		}
		return false, true, false
	}
	if flags&NoQFrom != 0 && hasPrefixFold(s, ">From ") {
		return true, from, false
	}
	if isBlank(line) {
		return true, from, true
	}
	if flags&(Update|Xmit|NoStatus) != 0 &&
		(hasPrefixFold(s, "Status:") || hasPrefixFold(s, "X-Status:")) {
		return true, from, false
	}
	if flags&(UpdateLen|Xmit|NoLen) != 0 &&
		(hasPrefixFold(s, "Content-Length:") || hasPrefixFold(s, "Lines:")) {
		return true, from, false
	}
	if flags&UpdateRefs != 0 && hasPrefixFold(s, "References:") {
		return true, from, false
	}
	if flags&UpdateIrt != 0 && hasPrefixFold(s, "In-Reply-To:") {
		return true, from, false
	}
	if flags&UpdateLabel != 0 && hasPrefixFold(s, "X-Label:") {
		return true, from, false
	}
	return false, from, false
}

func copySlow(br *bufio.Reader, bw *bufio.Writer, flags Flags, opts Options) error {
	// Bucket 0 collects headers not matched by HeaderOrder (and
	// everything when Reorder is off); bucket i+1 belongs to
	// HeaderOrder[i].
	buckets := make([][]string, len(opts.HeaderOrder)+1)

	var pending strings.Builder
	bucket := 0
	ignore := true
	autocrypt := false
	from := false

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		text := pending.String()
		if flags&Decode != 0 {
			text = decodeLogical(text)
		}
		buckets[bucket] = append(buckets[bucket], text)
		pending.Reset()
	}

	for {
		line, rdErr := readLine(br)
		if line == nil {
			break
		}
		s := string(line)

		if isHeaderStart(line) {
			flush()
			if autocrypt {
				io.WriteString(opts.Autocrypt, "\n")
			}
			autocrypt = false
			ignore = true
			thisIsFrom := false

			if !from && strings.HasPrefix(s, "From ") {
				if flags&From == 0 {
					continue
				}
				thisIsFrom = true
				from = true
			} else if isBlank(line) {
				break
			}

			if opts.Autocrypt != nil &&
				(hasPrefixFold(s, "Autocrypt:") || hasPrefixFold(s, "From:") ||
					hasPrefixFold(s, "Date:") || hasPrefixFold(s, "To:") ||
					hasPrefixFold(s, "Cc:")) {
				autocrypt = true
			}

			// From retention takes precedence over weeding.
			forcedFrom := flags&From != 0 && flags&ForceFrom != 0 && thisIsFrom
			if !forcedFrom && flags&Weed != 0 && matchesIgnore(s, opts.Ignore, opts.Unignore) {
				if autocrypt {
					writeAutocryptLine(opts.Autocrypt, s)
				}
				continue
			}
			if dropForUpdate(s, flags) {
				continue
			}

			bucket = 0
			if flags&Reorder != 0 {
				for i, ord := range opts.HeaderOrder {
					if hasPrefixFold(s, ord) {
						bucket = i + 1
						break
					}
				}
			}
			ignore = false
		}

		if autocrypt {
			writeAutocryptLine(opts.Autocrypt, s)
		}
		if !ignore {
			pending.WriteString(s)
		}
		if rdErr != nil {
			break
		}
	}
	flush()
	if autocrypt {
		io.WriteString(opts.Autocrypt, "\n")
	}

	for _, b := range buckets {
		for _, text := range b {
			if flags&(Decode|Prefix) != 0 {
				if err := writeRewrapped(bw, text, flags, opts); err != nil {
					return err
				}
			} else {
				if _, err := bw.WriteString(text); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func dropForUpdate(s string, flags Flags) bool {
	if flags&(Update|Xmit|NoStatus) != 0 &&
		(hasPrefixFold(s, "Status:") || hasPrefixFold(s, "X-Status:")) {
		return true
	}
	if flags&(UpdateLen|Xmit|NoLen) != 0 &&
		(hasPrefixFold(s, "Content-Length:") || hasPrefixFold(s, "Lines:")) {
		return true
	}
	if flags&Mime != 0 &&
		(hasPrefixFold(s, "Content-Transfer-Encoding:") ||
			hasPrefixFold(s, "Content-Type:") || hasPrefixFold(s, "MIME-Version:")) {
		return true
	}
	if flags&UpdateRefs != 0 && hasPrefixFold(s, "References:") {
		return true
	}
	if flags&UpdateIrt != 0 && hasPrefixFold(s, "In-Reply-To:") {
		return true
	}
	if flags&UpdateLabel != 0 && hasPrefixFold(s, "X-Label:") {
		return true
	}
	return false
}

// decodeLogical RFC 2047 decodes one gathered logical header. Address
// headers are parsed first so commas inside encoded words cannot split a
// mailbox, then reformatted per-field.
func decodeLogical(text string) string {
	name, value, ok := strings.Cut(text, ":")
	if !ok {
		return rfc822.DecodeHeader(text)
	}
	value = strings.TrimRight(value, "\n")
	value = strings.TrimLeft(value, " \t")

	if isAddressHeader(name) {
		al, err := rfc822.ParseAddressList(value)
		if err == nil {
			return name + ": " + al.String() + "\n"
		}
	}
	return name + ": " + rfc822.DecodeHeader(unfold(value)) + "\n"
}

func isAddressHeader(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "from", "sender", "to", "cc", "bcc", "reply-to",
		"mail-followup-to", "return-path", "resent-from", "resent-to":
		return true
	}
	return false
}

func unfold(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\n' {
			// CRLF WSP joins by keeping the whitespace character.
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// writeRewrapped emits one logical header folded to WrapCols, with the
// quote prefix if requested.
func writeRewrapped(bw *bufio.Writer, text string, flags Flags, opts Options) error {
	prefix := ""
	if flags&Prefix != 0 {
		prefix = opts.Prefix
	}
	name, value, ok := strings.Cut(text, ":")
	if !ok {
		_, err := bw.WriteString(prefix + strings.TrimRight(text, "\n") + "\n")
		return err
	}
	value = strings.TrimRight(unfold(strings.TrimLeft(value, " \t")), "\n")

	cols := opts.wrapCols()
	col := 0
	write := func(s string) error {
		_, err := bw.WriteString(s)
		col += len(s)
		return err
	}
	if err := write(prefix + name + ": "); err != nil {
		return err
	}
	for i, word := range strings.Fields(value) {
		sep := ""
		if i > 0 {
			sep = " "
		}
		if i > 0 && col+len(sep)+len(word) > cols {
			if err := write("\n" + prefix + "\t"); err != nil {
				return err
			}
			col = len(prefix) + 1
			sep = ""
		}
		if err := write(sep + word); err != nil {
			return err
		}
	}
	return write("\n")
}

func writeAutocryptLine(w io.Writer, s string) {
	if w == nil {
		return
	}
	io.WriteString(w, strings.TrimRight(s, "\r\n"))
}

// matchesIgnore implements the ignore/unignore weeding decision.
func matchesIgnore(header string, ignore, unignore []string) bool {
	for _, u := range unignore {
		if u == "*" || hasPrefixFold(header, u) {
			return false
		}
	}
	for _, pat := range ignore {
		if pat == "*" || hasPrefixFold(header, pat) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isHeaderStart(line []byte) bool {
	return len(line) > 0 && line[0] != ' ' && line[0] != '\t'
}

func isBlank(line []byte) bool {
	for _, c := range line {
		if c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}

// readLine returns the next line including its terminator, or nil at EOF.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if len(line) == 0 {
		return nil, err
	}
	return line, err
}
