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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewsrcParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrc")
	content := "misc.test: 1-5,8,10-12\n" +
		"alt.unsubscribed! 1-100\n" +
		"empty.group:\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		num  uint32
		want bool
	}{
		{1, true}, {5, true}, {6, false}, {8, true}, {9, false}, {11, true}, {13, false},
	} {
		if got := n.IsRead("misc.test", tc.num); got != tc.want {
			t.Errorf("IsRead(misc.test, %d) = %v", tc.num, got)
		}
	}

	subs := n.Subscribed()
	if len(subs) != 2 || subs[0] != "misc.test" || subs[1] != "empty.group" {
		t.Errorf("subscribed = %v", subs)
	}
	if n.IsRead("alt.unsubscribed", 50) != true {
		t.Error("unsubscribed group lost its ranges")
	}
}

func TestNewsrcMarkAndNormalize(t *testing.T) {
	n := &Newsrc{groups: map[string]*NewsrcGroup{}}

	n.MarkRead("g", 5)
	n.MarkRead("g", 7)
	n.MarkRead("g", 6)
	g := n.lookup("g")
	if len(g.Ranges) != 1 || g.Ranges[0] != (ArtRange{5, 7}) {
		t.Fatalf("ranges = %v", g.Ranges)
	}

	n.MarkUnread("g", 6)
	if len(g.Ranges) != 2 || g.Ranges[0] != (ArtRange{5, 5}) || g.Ranges[1] != (ArtRange{7, 7}) {
		t.Fatalf("after unread: %v", g.Ranges)
	}
	if n.IsRead("g", 6) {
		t.Error("unread article still read")
	}
}

func TestNewsrcSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrc")
	n, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}
	n.MarkRead("misc.test", 1)
	n.MarkRead("misc.test", 2)
	n.MarkRead("misc.test", 9)
	n.SetSubscribed("alt.off", false)
	if err := n.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "misc.test: 1-2,9\n") {
		t.Errorf("ranges serialization:\n%s", content)
	}
	if !strings.Contains(content, "alt.off!") {
		t.Errorf("unsubscribe marker missing:\n%s", content)
	}

	again, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}
	if !again.IsRead("misc.test", 9) || again.IsRead("misc.test", 3) {
		t.Error("reload mismatch")
	}
}

func TestNewsrcExternalMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrc")
	if err := os.WriteFile(path, []byte("g: 1-3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}
	n.MarkRead("g", 10)

	// Another reader updates the file behind our back; mtime moves
	// forward past our snapshot.
	if err := os.WriteFile(path, []byte("g: 1-5\nother: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if err := n.Save(); err != nil {
		t.Fatal(err)
	}
	merged, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}
	// Union of both states.
	for _, num := range []uint32{1, 4, 5, 10} {
		if !merged.IsRead("g", num) {
			t.Errorf("article %d lost in merge", num)
		}
	}
	if !merged.IsRead("other", 7) {
		t.Error("externally added group lost")
	}
}

func TestNewsrcStaleLockBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrc")
	lock := path + ".lock"
	if err := os.WriteFile(lock, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-5 * time.Minute)
	if err := os.Chtimes(lock, old, old); err != nil {
		t.Fatal(err)
	}

	n, err := LoadNewsrc(path)
	if err != nil {
		t.Fatal(err)
	}
	n.MarkRead("g", 1)
	if err := n.Save(); err != nil {
		t.Fatalf("stale lock not broken: %v", err)
	}
}
