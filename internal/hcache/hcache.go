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

// Package hcache is the on-disk header cache: per-mailbox storage mapping
// a UID (or article number) to the serialized message headers.
package hcache

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/curlew-mail/curlew/framework/log"
	"github.com/curlew-mail/curlew/internal/rfc822"
)

// entryVersion invalidates every cached entry when the serialization
// format changes.
const entryVersion = 3

// Cache is one open per-mailbox header cache. Opening acquires an
// exclusive lock on the backing database; Close releases it. Callers
// bracket fetch/store loops with Open/Close so flag-sync ordering
// guarantees hold.
type Cache struct {
	db  *sql.DB
	Log log.Logger

	uidvalidity uint32
}

// Open opens (creating if needed) the header cache for one mailbox. The
// on-disk layout is root/<account>/<mailbox> where account is the
// host:port pair. A uidvalidity mismatch clears the cache.
func Open(root, account, mbox string, uidvalidity uint32, logger log.Logger) (*Cache, error) {
	dir := filepath.Join(root, sanitize(account))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, sanitize(mbox))

	db, err := sql.Open("sqlite", path+"?_pragma=locking_mode(exclusive)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS headers (
		uid TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		uidvalidity INTEGER NOT NULL,
		entry BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	c := &Cache{db: db, Log: logger, uidvalidity: uidvalidity}
	if uidvalidity != 0 {
		var mismatched int
		err := db.QueryRow(`SELECT COUNT(*) FROM headers WHERE uidvalidity != ?`, uidvalidity).Scan(&mismatched)
		if err == nil && mismatched > 0 {
			c.Log.Msg("uidvalidity changed, clearing header cache", "mailbox", mbox)
			if err := c.Clear(); err != nil {
				db.Close()
				return nil, err
			}
		}
	}
	return c, nil
}

// entry is the serialized form of an Email's headers and metadata.
type entry struct {
	Version  int
	Envelope *rfc822.Envelope
	Content  *rfc822.Body
	Flags    rfc822.Flags
	Keywords []string
	Size     int64
	Lines    int
	Received time.Time
}

// Fetch restores the cached Email for uid. A missing or corrupt entry is
// a miss, never an error: the caller refetches from the server.
func (c *Cache) Fetch(uid string) (*rfc822.Email, bool) {
	var blob []byte
	var version int
	err := c.db.QueryRow(`SELECT entry, version FROM headers WHERE uid = ?`, uid).Scan(&blob, &version)
	if err != nil {
		return nil, false
	}
	if version != entryVersion {
		return nil, false
	}

	var ent entry
	if err := json.Unmarshal(blob, &ent); err != nil {
		// Corrupt entries are dropped so the next sync re-stores them.
		c.Log.DebugMsg("corrupt hcache entry", "uid", uid)
		_ = c.Delete(uid)
		return nil, false
	}

	e := rfc822.NewEmail()
	e.Envelope = ent.Envelope
	if ent.Content != nil {
		e.Content = ent.Content
	}
	e.Flags = ent.Flags
	e.Keywords = ent.Keywords
	e.Size = ent.Size
	e.Lines = ent.Lines
	e.Received = ent.Received
	return e, true
}

// Store commits the Email's headers under uid. Committed state must hit
// the disk before the caller mutates its in-memory mirror, which is why
// Store is synchronous.
func (c *Cache) Store(uid string, e *rfc822.Email) error {
	blob, err := json.Marshal(entry{
		Version:  entryVersion,
		Envelope: e.Envelope,
		Content:  e.Content,
		Flags:    e.Flags,
		Keywords: e.Keywords,
		Size:     e.Size,
		Lines:    e.Lines,
		Received: e.Received,
	})
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`INSERT INTO headers (uid, version, uidvalidity, entry) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET version=excluded.version,
		uidvalidity=excluded.uidvalidity, entry=excluded.entry`,
		uid, entryVersion, c.uidvalidity, blob)
	return err
}

func (c *Cache) Delete(uid string) error {
	_, err := c.db.Exec(`DELETE FROM headers WHERE uid = ?`, uid)
	return err
}

// Clear drops every entry. Used when UIDVALIDITY changes or an NNTP group
// is renumbered.
func (c *Cache) Clear() error {
	_, err := c.db.Exec(`DELETE FROM headers`)
	return err
}

// Keys lists every cached uid.
func (c *Cache) Keys() ([]string, error) {
	rows, err := c.db.Query(`SELECT uid FROM headers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func sanitize(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '/' || c == 0 {
			out[i] = '_'
		}
	}
	return string(out)
}
