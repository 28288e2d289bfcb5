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
	"io"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curlew-mail/curlew/framework/exterrors"
)

// Post submits an article. The body is shipped dot-stuffed and
// dot-terminated; the server answers 340 to start and 240 on acceptance.
func (c *Client) Post(article io.Reader) error {
	code, line, err := c.cmd("POST")
	if err != nil {
		return err
	}
	if code != 340 {
		return c.statusErr("POST", code, line)
	}

	tw := textproto.NewWriter(c.bw)
	dw := tw.DotWriter()
	if _, err := io.Copy(dw, article); err != nil {
		dw.Close()
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "write failed", Err: err})
	}
	if err := dw.Close(); err != nil {
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "write failed", Err: err})
	}
	if err := c.bw.Flush(); err != nil {
		return c.fatal(&exterrors.ProtocolError{Kind: exterrors.KindIo, Protocol: "nntp", Message: "write failed", Err: err})
	}

	code, line, err = c.readStatus()
	if err != nil {
		return err
	}
	if code != 240 {
		return c.statusErr("POST", code, line)
	}
	return nil
}

// GroupInfo is one entry of the group list (active) cache.
type GroupInfo struct {
	Name        string
	First       uint32
	Last        uint32
	Flag        string
	Description string
}

// ListGroups downloads the complete group list (LIST, optionally
// decorated by LIST NEWSGROUPS descriptions when the configuration asks
// for them).
func (c *Client) ListGroups() ([]GroupInfo, error) {
	code, line, err := c.cmd("LIST")
	if err != nil {
		return nil, err
	}
	if code != 215 {
		return nil, c.statusErr("LIST", code, line)
	}

	var out []GroupInfo
	index := map[string]int{}
	if err := c.readMultiline(func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil
		}
		last64, _ := strconv.ParseUint(fields[1], 10, 32)
		first64, _ := strconv.ParseUint(fields[2], 10, 32)
		info := GroupInfo{Name: fields[0], Last: uint32(last64), First: uint32(first64)}
		if len(fields) > 3 {
			info.Flag = fields[3]
		}
		index[info.Name] = len(out)
		out = append(out, info)
		return nil
	}); err != nil {
		return nil, err
	}

	if c.canListNewsgrp && c.View.Bool("nntp_load_description", true) {
		code, _, err := c.cmd("LIST NEWSGROUPS")
		if err != nil {
			return nil, err
		}
		if code == 215 {
			if err := c.readMultiline(func(line string) error {
				name, desc, ok := strings.Cut(line, "\t")
				if !ok {
					name, desc, ok = strings.Cut(line, " ")
				}
				if !ok {
					return nil
				}
				if i, found := index[strings.TrimSpace(name)]; found {
					out[i].Description = strings.TrimSpace(desc)
				}
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// NewGroups asks for groups created since the given moment and returns
// them in active-file format.
func (c *Client) NewGroups(since time.Time) ([]GroupInfo, error) {
	code, line, err := c.cmd("NEWGROUPS %s GMT", since.UTC().Format("20060102 150405"))
	if err != nil {
		return nil, err
	}
	if code != 231 {
		return nil, c.statusErr("NEWGROUPS", code, line)
	}
	var out []GroupInfo
	if err := c.readMultiline(func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil
		}
		last64, _ := strconv.ParseUint(fields[1], 10, 32)
		first64, _ := strconv.ParseUint(fields[2], 10, 32)
		out = append(out, GroupInfo{Name: fields[0], Last: uint32(last64), First: uint32(first64)})
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveCache persists the group list between sessions, with the refresh
// timestamp on the first line.
type ActiveCache struct {
	Stamp  time.Time
	Groups []GroupInfo
}

// LoadActiveCache reads a cached group list written by SaveActiveCache.
func LoadActiveCache(path string) (*ActiveCache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ac := &ActiveCache{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if stamp, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64); err == nil {
				ac.Stamp = time.Unix(stamp, 0)
				continue
			}
		}
		fields := strings.SplitN(line, " ", 4)
		if len(fields) < 3 {
			continue
		}
		last64, _ := strconv.ParseUint(fields[1], 10, 32)
		first64, _ := strconv.ParseUint(fields[2], 10, 32)
		info := GroupInfo{Name: fields[0], Last: uint32(last64), First: uint32(first64)}
		if len(fields) > 3 {
			info.Description = fields[3]
		}
		ac.Groups = append(ac.Groups, info)
	}
	return ac, sc.Err()
}

// SaveActiveCache writes the group list cache atomically.
func SaveActiveCache(path string, ac *ActiveCache) error {
	tmp, err := os.CreateTemp(dirOf(path), ".active-*")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	w.WriteString(strconv.FormatInt(ac.Stamp.Unix(), 10))
	w.WriteByte('\n')
	for _, g := range ac.Groups {
		w.WriteString(g.Name)
		w.WriteByte(' ')
		w.WriteString(strconv.FormatUint(uint64(g.Last), 10))
		w.WriteByte(' ')
		w.WriteString(strconv.FormatUint(uint64(g.First), 10))
		if g.Description != "" {
			w.WriteByte(' ')
			w.WriteString(g.Description)
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
	return os.Rename(tmp.Name(), path)
}
