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

package copymsg

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/curlew-mail/curlew/internal/rfc822"
)

// CopyHeader copies the header block of e, then appends the synthetic
// headers requested by the flag set (fresh Status, updated
// References/In-Reply-To/X-Label, text/plain MIME headers, new
// Content-Length).
//
// The envelope dirty bits force UpdateIrt/UpdateRefs the same way the
// caller could.
func CopyHeader(src io.ReadSeeker, e *rfc822.Email, dst io.Writer, flags Flags, opts Options) error {
	if e.Envelope != nil {
		if e.Envelope.IrtChanged {
			flags |= UpdateIrt
		}
		if e.Envelope.RefsChanged {
			flags |= UpdateRefs
		}
	}

	start := e.Content.HeaderOffset
	end := e.Content.Offset
	if err := CopyHeaderRange(src, dst, start, end, flags, opts); err != nil {
		return err
	}

	if flags&TxtPlain != 0 {
		cs := opts.Charset
		if cs == "" {
			cs = "us-ascii"
		}
		if _, err := fmt.Fprintf(dst, "MIME-Version: 1.0\nContent-Transfer-Encoding: 8bit\nContent-Type: text/plain; charset=%s\n", cs); err != nil {
			return err
		}
	}

	if flags&UpdateIrt != 0 && e.Envelope != nil && len(e.Envelope.InReplyTo) > 0 {
		if _, err := fmt.Fprintf(dst, "In-Reply-To: %s\n", strings.Join(e.Envelope.InReplyTo, " ")); err != nil {
			return err
		}
	}
	if flags&UpdateRefs != 0 && e.Envelope != nil && len(e.Envelope.References) > 0 {
		if _, err := fmt.Fprintf(dst, "References: %s\n", strings.Join(e.Envelope.References, " ")); err != nil {
			return err
		}
	}

	if flags&Update != 0 && flags&NoStatus == 0 {
		if e.Flags.Old || e.Flags.Read {
			status := "O"
			if e.Flags.Read {
				status = "RO"
			}
			if _, err := fmt.Fprintf(dst, "Status: %s\n", status); err != nil {
				return err
			}
		}
		if e.Flags.Flagged || e.Flags.Replied {
			var xs strings.Builder
			if e.Flags.Replied {
				xs.WriteByte('A')
			}
			if e.Flags.Flagged {
				xs.WriteByte('F')
			}
			if _, err := fmt.Fprintf(dst, "X-Status: %s\n", xs.String()); err != nil {
				return err
			}
		}
	}

	if flags&UpdateLen != 0 && flags&NoLen == 0 {
		length := e.Content.Length
		if e.Flags.AttachDel {
			length -= deletedBytes(e.Content)
		}
		if _, err := fmt.Fprintf(dst, "Content-Length: %d\n", length); err != nil {
			return err
		}
		if e.Lines != 0 || length == 0 {
			if _, err := fmt.Fprintf(dst, "Lines: %d\n", e.Lines); err != nil {
				return err
			}
		}
	}

	if flags&Virtual != 0 && opts.Folder != "" {
		if _, err := fmt.Fprintf(dst, "Folder: %s\n", opts.Folder); err != nil {
			return err
		}
	}

	if flags&UpdateLabel != 0 && e.Envelope != nil {
		e.Envelope.XLabelChanged = false
		if e.Envelope.XLabel != "" {
			if _, err := fmt.Fprintf(dst, "X-Label: %s\n", e.Envelope.XLabel); err != nil {
				return err
			}
		}
	}

	if flags&NoNewline == 0 {
		if flags&Prefix != 0 {
			if _, err := io.WriteString(dst, opts.Prefix); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(dst, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// CopyMessage copies the whole message: transformed header block plus the
// body bytes. When the message carries deleted attachments and AttachDel
// is set, the deleted parts' bytes (header block included) are omitted
// from the copy, keeping the MIME tree valid.
func CopyMessage(src io.ReadSeeker, e *rfc822.Email, dst io.Writer, flags Flags, opts Options) error {
	if err := CopyHeader(src, e, dst, flags, opts); err != nil {
		return err
	}

	start := e.Content.Offset
	end := e.Content.Offset + e.Content.Length

	if e.Flags.AttachDel {
		return copySkippingDeleted(src, e.Content, dst, start, end)
	}
	return copyRange(src, dst, start, end)
}

// deletedRanges collects the byte ranges of deleted parts, outermost
// first; nested ranges inside an already-deleted part are merged into it.
func deletedRanges(b *rfc822.Body) [][2]int64 {
	var out [][2]int64
	for _, child := range b.Parts {
		if child.Deleted {
			start := child.HeaderOffset
			if start == 0 {
				start = child.Offset
			}
			out = append(out, [2]int64{start, child.Offset + child.Length})
			continue
		}
		out = append(out, deletedRanges(child)...)
	}
	return out
}

func deletedBytes(b *rfc822.Body) int64 {
	var total int64
	for _, r := range deletedRanges(b) {
		total += r[1] - r[0]
	}
	return total
}

func copySkippingDeleted(src io.ReadSeeker, root *rfc822.Body, dst io.Writer, start, end int64) error {
	ranges := deletedRanges(root)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })

	pos := start
	for _, r := range ranges {
		if r[0] > pos {
			if err := copyRange(src, dst, pos, r[0]); err != nil {
				return err
			}
		}
		if r[1] > pos {
			pos = r[1]
		}
	}
	if pos < end {
		return copyRange(src, dst, pos, end)
	}
	return nil
}

func copyRange(src io.ReadSeeker, dst io.Writer, start, end int64) error {
	if end <= start {
		return nil
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return err
	}
	_, err := io.Copy(dst, io.LimitReader(src, end-start))
	return err
}
