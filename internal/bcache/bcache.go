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

// Package bcache is the on-disk body cache: one directory per mailbox,
// one file per message keyed by UID or article number, containing the raw
// RFC 822 bytes.
package bcache

import (
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Cache is one mailbox's body cache directory.
type Cache struct {
	dir string
}

// Open ensures the cache directory root/<account>/<mailbox> exists.
func Open(root, account, mbox string) (*Cache, error) {
	dir := filepath.Join(root, sanitize(account), sanitize(mbox))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, sanitize(key))
}

// Get returns an open stream over the cached body, or os.ErrNotExist.
func (c *Cache) Get(key string) (*os.File, error) {
	return os.Open(c.path(key))
}

func (c *Cache) Exists(key string) bool {
	fi, err := os.Stat(c.path(key))
	return err == nil && fi.Mode().IsRegular()
}

// Commit is a pending cache write. The data lands under the final key
// only when Commit is called; Close alone discards it.
type Commit struct {
	f     *os.File
	final string
	done  bool
}

func (p *Commit) Write(b []byte) (int, error) { return p.f.Write(b) }

// Commit atomically publishes the written bytes under the cache key.
func (p *Commit) Commit() error {
	if err := p.f.Sync(); err != nil {
		p.Close()
		return err
	}
	name := p.f.Name()
	if err := p.f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	p.done = true
	return os.Rename(name, p.final)
}

// Close without Commit discards the pending write.
func (p *Commit) Close() error {
	if p.done {
		return nil
	}
	p.done = true
	name := p.f.Name()
	err := p.f.Close()
	os.Remove(name)
	return err
}

// Put starts a cache write for key.
func (c *Cache) Put(key string) (*Commit, error) {
	f, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return nil, err
	}
	return &Commit{f: f, final: c.path(key)}, nil
}

func (c *Cache) Del(key string) error {
	return os.Remove(c.path(key))
}

// List returns the cached keys in sorted order.
func (c *Cache) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// MoveTo re-keys a cached body (used when an article is assigned its
// final UID).
func (c *Cache) MoveTo(oldKey, newKey string) error {
	return os.Rename(c.path(oldKey), c.path(newKey))
}

// Copy stores the full content of r under key.
func (c *Cache) Copy(key string, r io.Reader) error {
	p, err := c.Put(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(p, r); err != nil {
		p.Close()
		return err
	}
	return p.Commit()
}

func sanitize(name string) string {
	out := []byte(name)
	for i, ch := range out {
		if ch == '/' || ch == 0 {
			out[i] = '_'
		}
	}
	return string(out)
}

// Ring is a fixed-size ring of process-private tempfiles used when a
// body can be neither fetched from nor stored into the cache directory.
// Evicting a slot unlinks the tempfile.
type Ring struct {
	slots []string
	next  int
}

// DefaultRingSize matches the article-cache depth used by the NNTP
// backend.
const DefaultRingSize = 10

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{slots: make([]string, size)}
}

// Add registers a tempfile path, unlinking whatever previously occupied
// the slot. It returns the evicted path, if any.
func (r *Ring) Add(path string) (evicted string) {
	evicted = r.slots[r.next]
	if evicted != "" {
		os.Remove(evicted)
	}
	r.slots[r.next] = path
	r.next = (r.next + 1) % len(r.slots)
	return evicted
}

// Drop releases every tempfile in the ring.
func (r *Ring) Drop() {
	for i, path := range r.slots {
		if path != "" {
			os.Remove(path)
			r.slots[i] = ""
		}
	}
}
