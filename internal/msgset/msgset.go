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

// Package msgset batches messages matching a predicate into UID-set
// strings short enough for a single IMAP command.
package msgset

import (
	"fmt"
	"sort"
	"strings"
)

// MaxCmdLen bounds the length of one emitted command line, prefix
// included.
const MaxCmdLen = 1024

// Entry is one message as seen by the batcher.
type Entry struct {
	UID uint32
	// Opaque caller position, returned untouched.
	Pos int
}

// sortedView sorts the caller's entries by UID in place, keeping a copy of
// the original order, and restores that order when released. Release runs
// on every exit path so an early return cannot leak a reordered slice to
// the caller.
type sortedView struct {
	entries []Entry
	saved   []Entry
	sorted  bool
}

func newSortedView(entries []Entry) *sortedView {
	v := &sortedView{entries: entries}
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].UID < entries[j].UID }) {
		v.saved = make([]Entry, len(entries))
		copy(v.saved, entries)
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].UID < entries[j].UID })
		v.sorted = true
	}
	return v
}

func (v *sortedView) release() {
	if v.sorted {
		copy(v.entries, v.saved)
		v.sorted = false
	}
}

// Build batches every entry matching pred into UID-set strings. Each
// returned string, prefixed by prefixLen command octets, stays within
// MaxCmdLen. The union of the returned sets enumerates exactly the
// matching UIDs, each exactly once.
//
// Entries may arrive in any order; a sorted view is taken internally and
// the caller's order is restored before returning.
func Build(entries []Entry, prefixLen int, pred func(Entry) bool) []string {
	view := newSortedView(entries)
	defer view.release()

	budget := MaxCmdLen - prefixLen
	var (
		out []string
		cur strings.Builder
	)

	flushRun := func(r run) {
		tok := r.token()
		// +1 for the joining comma.
		if cur.Len() > 0 && cur.Len()+1+len(tok) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(',')
		}
		cur.WriteString(tok)
	}

	var active *run
	for _, e := range entries {
		if !pred(e) {
			continue
		}
		if active != nil && e.UID == active.end {
			// Duplicate UID, already covered.
			continue
		}
		if active != nil && e.UID == active.end+1 {
			active.end = e.UID
			continue
		}
		if active != nil {
			flushRun(*active)
		}
		active = &run{start: e.UID, end: e.UID}
	}
	if active != nil {
		flushRun(*active)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

type run struct {
	start, end uint32
}

func (r run) token() string {
	if r.start == r.end {
		return fmt.Sprintf("%d", r.start)
	}
	return fmt.Sprintf("%d:%d", r.start, r.end)
}

// Parse expands a UID-set string into the UIDs it enumerates. Open-ended
// ranges ("20:*") are not supported here; the batcher never emits them.
func Parse(set string) ([]uint32, error) {
	var out []uint32
	for _, tok := range strings.Split(set, ",") {
		if tok == "" {
			continue
		}
		var start, end uint32
		if strings.Contains(tok, ":") {
			if _, err := fmt.Sscanf(tok, "%d:%d", &start, &end); err != nil {
				return nil, fmt.Errorf("msgset: bad range %q", tok)
			}
		} else {
			if _, err := fmt.Sscanf(tok, "%d", &start); err != nil {
				return nil, fmt.Errorf("msgset: bad element %q", tok)
			}
			end = start
		}
		if end < start {
			return nil, fmt.Errorf("msgset: inverted range %q", tok)
		}
		for uid := start; uid <= end; uid++ {
			out = append(out, uid)
		}
	}
	return out, nil
}
