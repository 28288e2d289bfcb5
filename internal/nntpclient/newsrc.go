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

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ArtRange is an inclusive range of read article numbers.
type ArtRange struct {
	First uint32
	Last  uint32
}

// NewsrcGroup is the read-state of one group.
type NewsrcGroup struct {
	Name       string
	Subscribed bool
	Ranges     []ArtRange
}

// Newsrc is the per-server read-state file: one line per group, "name:"
// for subscribed and "name!" for unsubscribed, followed by the read
// ranges ("N" or "N-M", comma separated).
type Newsrc struct {
	path  string
	mtime time.Time

	groups map[string]*NewsrcGroup
	order  []string
}

// LoadNewsrc reads the file; a missing file is an empty state.
func LoadNewsrc(path string) (*Newsrc, error) {
	n := &Newsrc{path: path, groups: map[string]*NewsrcGroup{}}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return n, nil
		}
		return nil, err
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		n.mtime = fi.ModTime()
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		g := parseNewsrcLine(sc.Text())
		if g == nil {
			continue
		}
		if _, dup := n.groups[g.Name]; !dup {
			n.order = append(n.order, g.Name)
		}
		n.groups[g.Name] = g
	}
	return n, sc.Err()
}

func parseNewsrcLine(line string) *NewsrcGroup {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	sep := strings.IndexAny(line, ":!")
	if sep <= 0 {
		return nil
	}
	g := &NewsrcGroup{
		Name:       line[:sep],
		Subscribed: line[sep] == ':',
	}
	for _, tok := range strings.Split(line[sep+1:], ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		var first, last uint64
		var err error
		if dash := strings.IndexByte(tok, '-'); dash >= 0 {
			first, err = strconv.ParseUint(tok[:dash], 10, 32)
			if err != nil {
				continue
			}
			last, err = strconv.ParseUint(tok[dash+1:], 10, 32)
			if err != nil {
				continue
			}
		} else {
			first, err = strconv.ParseUint(tok, 10, 32)
			if err != nil {
				continue
			}
			last = first
		}
		if last < first {
			continue
		}
		g.Ranges = append(g.Ranges, ArtRange{First: uint32(first), Last: uint32(last)})
	}
	g.normalize()
	return g
}

// normalize sorts and merges overlapping or adjacent ranges.
func (g *NewsrcGroup) normalize() {
	if len(g.Ranges) < 2 {
		return
	}
	sort.Slice(g.Ranges, func(i, j int) bool { return g.Ranges[i].First < g.Ranges[j].First })
	out := g.Ranges[:1]
	for _, r := range g.Ranges[1:] {
		lastR := &out[len(out)-1]
		if r.First <= lastR.Last+1 {
			if r.Last > lastR.Last {
				lastR.Last = r.Last
			}
			continue
		}
		out = append(out, r)
	}
	g.Ranges = out
}

func (n *Newsrc) lookup(group string) *NewsrcGroup {
	return n.groups[group]
}

func (n *Newsrc) ensure(group string) *NewsrcGroup {
	g := n.groups[group]
	if g == nil {
		g = &NewsrcGroup{Name: group, Subscribed: true}
		n.groups[group] = g
		n.order = append(n.order, group)
	}
	return g
}

// IsRead reports whether the article number falls in any read range.
func (n *Newsrc) IsRead(group string, num uint32) bool {
	g := n.lookup(group)
	if g == nil {
		return false
	}
	i := sort.Search(len(g.Ranges), func(i int) bool { return g.Ranges[i].Last >= num })
	return i < len(g.Ranges) && g.Ranges[i].First <= num
}

// MarkRead adds one article to the read-state.
func (n *Newsrc) MarkRead(group string, num uint32) {
	g := n.ensure(group)
	g.Ranges = append(g.Ranges, ArtRange{First: num, Last: num})
	g.normalize()
}

// MarkUnread punches a hole into the read ranges.
func (n *Newsrc) MarkUnread(group string, num uint32) {
	g := n.lookup(group)
	if g == nil {
		return
	}
	var out []ArtRange
	for _, r := range g.Ranges {
		switch {
		case num < r.First || num > r.Last:
			out = append(out, r)
		case r.First == r.Last:
			// Dropped entirely.
		default:
			if num > r.First {
				out = append(out, ArtRange{First: r.First, Last: num - 1})
			}
			if num < r.Last {
				out = append(out, ArtRange{First: num + 1, Last: r.Last})
			}
		}
	}
	g.Ranges = out
}

// SetSubscribed flips the subscription marker.
func (n *Newsrc) SetSubscribed(group string, subscribed bool) {
	n.ensure(group).Subscribed = subscribed
}

// Subscribed lists the subscribed groups in file order.
func (n *Newsrc) Subscribed() []string {
	var out []string
	for _, name := range n.order {
		if g := n.groups[name]; g != nil && g.Subscribed {
			out = append(out, name)
		}
	}
	return out
}

// Save writes the state back. The on-disk file is re-read and merged
// first when its mtime moved (another reader updated it), so external
// changes survive; a lock file serializes concurrent writers.
func (n *Newsrc) Save() error {
	lock := n.path + ".lock"
	lockFile, err := acquireLock(lock)
	if err != nil {
		return err
	}
	defer func() {
		lockFile.Close()
		os.Remove(lock)
	}()

	if fi, err := os.Stat(n.path); err == nil && !n.mtime.IsZero() && fi.ModTime().After(n.mtime) {
		onDisk, err := LoadNewsrc(n.path)
		if err != nil {
			return err
		}
		n.mergeFrom(onDisk)
	}

	tmp, err := os.CreateTemp(dirOf(n.path), ".newsrc-*")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	for _, name := range n.order {
		g := n.groups[name]
		if g == nil {
			continue
		}
		mark := ":"
		if !g.Subscribed {
			mark = "!"
		}
		fmt.Fprintf(w, "%s%s", g.Name, mark)
		for i, r := range g.Ranges {
			if i > 0 {
				w.WriteByte(',')
			} else {
				w.WriteByte(' ')
			}
			if r.First == r.Last {
				fmt.Fprintf(w, "%d", r.First)
			} else {
				fmt.Fprintf(w, "%d-%d", r.First, r.Last)
			}
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if fi, err := os.Stat(n.path); err == nil {
		n.mtime = fi.ModTime()
	}
	return nil
}

// mergeFrom folds external read-state into ours: union of read ranges,
// external-only groups appended.
func (n *Newsrc) mergeFrom(other *Newsrc) {
	for _, name := range other.order {
		og := other.groups[name]
		g := n.groups[name]
		if g == nil {
			n.groups[name] = og
			n.order = append(n.order, name)
			continue
		}
		g.Ranges = append(g.Ranges, og.Ranges...)
		g.normalize()
	}
}

func acquireLock(path string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) || attempt >= 10 {
			return nil, err
		}
		// A stale lock from a dead process is broken after a grace
		// period.
		if fi, serr := os.Stat(path); serr == nil && time.Since(fi.ModTime()) > 60*time.Second {
			os.Remove(path)
			continue
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "."
}
