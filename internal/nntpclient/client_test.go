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
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/internal/hcache"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/rfc822"
	"github.com/curlew-mail/curlew/internal/testutils"
)

// step is one expected command and its scripted reply. Multiline bodies
// are dot-terminated by the server helper; consumeDot makes the server
// read a dot-terminated client body first (POST).
type step struct {
	expect     string
	status     string
	body       []string
	consumeDot bool
	// Written after the client's dot-terminated body was consumed.
	after string
}

func runFakeServer(t *testing.T, conn net.Conn, steps []step) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer conn.Close()
		br := bufio.NewReader(conn)

		if _, err := conn.Write([]byte("200 fake.example.org ready\r\n")); err != nil {
			done <- err
			return
		}
		for _, st := range steps {
			line, err := br.ReadString('\n')
			if err != nil {
				done <- fmt.Errorf("reading command (want %q): %w", st.expect, err)
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if !strings.Contains(line, st.expect) {
				done <- fmt.Errorf("got command %q, want substring %q", line, st.expect)
				return
			}
			if st.consumeDot {
				if _, err := conn.Write([]byte(st.status + "\r\n")); err != nil {
					done <- err
					return
				}
				for {
					body, err := br.ReadString('\n')
					if err != nil {
						done <- err
						return
					}
					if strings.TrimRight(body, "\r\n") == "." {
						break
					}
				}
				if st.after != "" {
					if _, err := conn.Write([]byte(st.after + "\r\n")); err != nil {
						done <- err
						return
					}
				}
				continue
			}
			out := st.status + "\r\n"
			if st.body != nil {
				out += strings.Join(st.body, "\r\n")
				if len(st.body) > 0 {
					out += "\r\n"
				}
				out += ".\r\n"
			}
			if _, err := conn.Write([]byte(out)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

var capsBody = []string{"VERSION 2", "READER", "OVER", "LIST ACTIVE NEWSGROUPS OVERVIEW.FMT", "POST"}

func connectSteps() []step {
	return []step{
		{expect: "CAPABILITIES", status: "101 capability list", body: capsBody},
		{expect: "MODE READER", status: "200 posting allowed"},
		{expect: "CAPABILITIES", status: "101 capability list", body: capsBody},
	}
}

func testClient(t *testing.T, conn net.Conn) *Client {
	t.Helper()
	endp, err := config.ParseEndpoint("news://news.example.org")
	if err != nil {
		t.Fatal(err)
	}
	c := New(mailbox.Connection{Endpoint: endp}, config.EmptyView(), testutils.Logger(t, "nntp"))
	c.Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return conn, nil
	}
	c.CommandTimeout = 5 * time.Second
	c.ConnectTimeout = 5 * time.Second
	return c
}

func TestGroupImportAndReadState(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	overview := []string{
		"1\tfirst subject\tann@x.org\tMon, 2 Jan 2006 15:04:05 -0700\t<1@x>\t\t120\t4",
		"2\tsecond subject\tbob@x.org\tMon, 2 Jan 2006 16:04:05 -0700\t<2@x>\t<1@x>\t140\t6",
	}
	steps := append(connectSteps(),
		step{expect: "GROUP misc.test", status: "211 2 1 2 misc.test"},
		step{expect: "LISTGROUP misc.test 1-2", status: "211 article numbers follow", body: []string{"1", "2"}},
		step{expect: "LIST OVERVIEW.FMT", status: "215 order of fields", body: []string{
			"Subject:", "From:", "Date:", "Message-ID:", "References:", "Bytes:", "Lines:",
		}},
		step{expect: "OVER 1-2", status: "224 overview follows", body: overview},
	)
	serverDone := runFakeServer(t, serverSide, steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.canOver || !c.canListgroup || !c.canListNewsgrp {
		t.Fatalf("capabilities not detected: %+v", c)
	}

	nrc := &Newsrc{groups: map[string]*NewsrcGroup{}}
	nrc.MarkRead("misc.test", 1)

	m := &mailbox.Mailbox{Path: "news://news.example.org/misc.test"}
	gd, err := c.SelectGroup(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gd.First != 1 || gd.Last != 2 || gd.EstCount != 2 {
		t.Fatalf("group data = %+v", gd)
	}

	if err := c.FetchHeaders(m, nil, nrc, gd.First, gd.Last); err != nil {
		t.Fatal(err)
	}
	if len(m.Emails) != 2 {
		t.Fatalf("imported %d articles", len(m.Emails))
	}
	first, second := m.Emails[0], m.Emails[1]
	if first.Envelope.Subject != "first subject" || second.Envelope.Subject != "second subject" {
		t.Errorf("subjects: %q, %q", first.Envelope.Subject, second.Envelope.Subject)
	}
	if len(second.Envelope.References) != 1 || second.Envelope.References[0] != "<1@x>" {
		t.Errorf("references = %v", second.Envelope.References)
	}
	if second.Size != 140 || second.Lines != 6 {
		t.Errorf("overview meta lost: %+v", second)
	}
	// Read state comes from the newsrc ranges.
	if !first.Flags.Read || second.Flags.Read {
		t.Error("newsrc read-state not applied")
	}

	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
	clientSide.Close()
}

func TestGroupShrinkInvalidatesCache(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := append(connectSteps(),
		step{expect: "GROUP news.test", status: "211 91 410 500 news.test"},
		step{expect: "GROUP news.test", status: "211 50 10 60 news.test"},
	)
	serverDone := runFakeServer(t, serverSide, steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	hc, err := hcache.Open(t.TempDir(), "news.example.org:119", "news.test", 0, testutils.Logger(t, "hcache"))
	if err != nil {
		t.Fatal(err)
	}
	defer hc.Close()

	m := &mailbox.Mailbox{Path: "news://news.example.org/news.test"}
	gd, err := c.SelectGroup(m, hc)
	if err != nil {
		t.Fatal(err)
	}
	if gd.Last != 500 {
		t.Fatalf("last = %d", gd.Last)
	}

	// Simulate a populated session: cached headers and loaded articles
	// for 410..500.
	for num := uint32(410); num <= 500; num += 10 {
		e := rfc822.NewEmail()
		e.Edata = &ArticleData{Num: num}
		gd.Articles[num] = e
		if err := hc.Store(fmt.Sprint(num), e); err != nil {
			t.Fatal(err)
		}
		m.Emails = append(m.Emails, e)
	}

	// The server renumbered the group: last shrank from 500 to 60.
	if _, err := c.SelectGroup(m, hc); err != nil {
		t.Fatal(err)
	}
	if len(gd.Articles) != 0 {
		t.Errorf("%d articles survived the renumbering", len(gd.Articles))
	}
	if len(m.Emails) != 0 {
		t.Errorf("email array not dropped")
	}
	keys, err := hc.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("header cache not cleared: %v", keys)
	}

	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
	clientSide.Close()
}

func TestPost(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := append(connectSteps(),
		step{expect: "POST", status: "340 send article", consumeDot: true, after: "240 article received"},
	)
	serverDone := runFakeServer(t, serverSide, steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	article := "Newsgroups: misc.test\r\nSubject: hi\r\n\r\nbody\r\n.leading dot line\r\n"
	if err := c.Post(strings.NewReader(article)); err != nil {
		t.Fatal(err)
	}

	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
	clientSide.Close()
}
