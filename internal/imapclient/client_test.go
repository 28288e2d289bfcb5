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

package imapclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/curlew-mail/curlew/framework/config"
	"github.com/curlew-mail/curlew/framework/exterrors"
	"github.com/curlew-mail/curlew/internal/mailbox"
	"github.com/curlew-mail/curlew/internal/testutils"
)

// script is one expected command and the responses it triggers. "%t" in a
// response is replaced by the command's tag.
type script struct {
	expect  string
	replies []string
}

func runFakeServer(t *testing.T, conn net.Conn, greeting string, steps []script) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer conn.Close()
		br := bufio.NewReader(conn)

		if _, err := conn.Write([]byte(greeting + "\r\n")); err != nil {
			done <- err
			return
		}
		for _, step := range steps {
			line, err := br.ReadString('\n')
			if err != nil {
				done <- fmt.Errorf("reading command (want %q): %w", step.expect, err)
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if !strings.Contains(line, step.expect) {
				done <- fmt.Errorf("got command %q, want substring %q", line, step.expect)
				return
			}
			tag, _, _ := strings.Cut(line, " ")
			for _, reply := range step.replies {
				reply = strings.ReplaceAll(reply, "%t", tag)
				if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()
	return done
}

func testClient(t *testing.T, conn net.Conn) *Client {
	t.Helper()
	endp, err := config.ParseEndpoint("imap://mail.example.org:143")
	if err != nil {
		t.Fatal(err)
	}
	c := New(mailbox.Connection{
		Endpoint: endp,
		User:     "user",
		Password: "secret",
	}, config.EmptyView(), testutils.Logger(t, "imap"))
	c.Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return conn, nil
	}
	c.CommandTimeout = 5 * time.Second
	c.ConnectTimeout = 5 * time.Second
	return c
}

const testHeader1 = "Date: Mon, 2 Jan 2006 15:04:05 -0700\r\n" +
	"From: ann@x.org\r\n" +
	"Subject: first\r\n\r\n"

const testHeader2 = "Date: Mon, 2 Jan 2006 16:04:05 -0700\r\n" +
	"From: bob@x.org\r\n" +
	"Subject: second\r\n\r\n"

// fetchReply renders one FETCH response whose header block travels as a
// literal: the "{N}" marker line, CRLF, N octets, then the closing paren.
func fetchReply(msn, uid int, flags, header string) []string {
	return []string{
		fmt.Sprintf("* %d FETCH (UID %d FLAGS (%s) RFC822.SIZE 64 BODY[HEADER.FIELDS (DATE FROM SUBJECT)] {%d}\r\n%s)",
			msn, uid, flags, len(header), header),
	}
}

func TestSessionConnectSelectFetchSync(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := []script{
		{"AUTHENTICATE PLAIN", []string{"%t OK authenticated"}},
		{"CAPABILITY", []string{"* CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR UNSELECT", "%t OK done"}},
		{"SELECT \"INBOX\"", []string{
			"* 2 EXISTS",
			"* 0 RECENT",
			`* FLAGS (\Answered \Flagged \Deleted \Seen)`,
			`* OK [PERMANENTFLAGS (\Answered \Flagged \Deleted \Seen \*)] limited`,
			"* OK [UIDVALIDITY 9] UIDs valid",
			"* OK [UIDNEXT 3] predicted",
			"%t OK [READ-WRITE] SELECT completed",
		}},
		{"UID FETCH 1:2 (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER.FIELDS", append(
			append(fetchReply(1, 1, `\Seen`, testHeader1), fetchReply(2, 2, ``, testHeader2)...),
			"%t OK FETCH completed")},
		{`UID STORE 2 +FLAGS.SILENT (\Deleted)`, []string{"%t OK STORE completed"}},
		{"LOGOUT", []string{"* BYE see you", "%t OK bye"}},
	}
	serverDone := runFakeServer(t, serverSide, "* OK [CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR] ready", steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.Capable("UNSELECT") {
		t.Error("post-auth capabilities not applied")
	}

	m := &mailbox.Mailbox{Path: "imap://mail.example.org/INBOX"}
	m.Mdata = newMailboxData("INBOX", "INBOX")
	if err := c.Select(m, false); err != nil {
		t.Fatal(err)
	}
	md := m.Mdata.(*MailboxData)
	if md.UIDValidity != 9 || md.UIDNext != 3 || md.Messages != 2 {
		t.Fatalf("mdata = %+v", md)
	}
	if m.ReadOnly {
		t.Error("mailbox marked read-only")
	}

	if err := c.FetchHeaders(m, nil, 1, 2); err != nil {
		t.Fatal(err)
	}
	if len(m.Emails) != 2 {
		t.Fatalf("imported %d messages", len(m.Emails))
	}
	if m.Emails[0].Envelope.Subject != "first" || m.Emails[1].Envelope.Subject != "second" {
		t.Errorf("subjects: %q, %q", m.Emails[0].Envelope.Subject, m.Emails[1].Envelope.Subject)
	}
	if !m.Emails[0].Flags.Read || m.Emails[1].Flags.Read {
		t.Error("flags not applied from FETCH")
	}
	if m.MsgUnread != 1 {
		t.Errorf("unread = %d", m.MsgUnread)
	}

	// Mark the second message deleted locally and sync: one batched UID
	// STORE, and the changed bit clears once the mirror matches.
	e := m.Emails[1]
	e.Flags.Deleted = true
	e.Changed = true
	if err := c.SyncFlags(m, nil); err != nil {
		t.Fatal(err)
	}
	if e.Changed {
		t.Error("changed bit survived a successful sync")
	}
	if ed := edataOf(e); !ed.ServerFlags.Deleted {
		t.Error("server mirror not updated")
	}

	if err := c.Logout(); err != nil {
		t.Fatal(err)
	}
	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
}

func TestSessionMyRights(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := []script{
		{"AUTHENTICATE PLAIN", []string{"%t OK authenticated"}},
		{"CAPABILITY", []string{"* CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR ACL", "%t OK done"}},
		// MYRIGHTS travels pipelined ahead of the SELECT.
		{`MYRIGHTS "INBOX"`, []string{"* MYRIGHTS INBOX lrs", "%t OK rights sent"}},
		{`SELECT "INBOX"`, []string{
			"* 1 EXISTS",
			`* FLAGS (\Answered \Flagged \Deleted \Seen)`,
			`* OK [PERMANENTFLAGS (\Answered \Flagged \Deleted \Seen \*)] limited`,
			"* OK [UIDVALIDITY 9] UIDs valid",
			"* OK [UIDNEXT 2] predicted",
			"%t OK [READ-WRITE] SELECT completed",
		}},
		{"UID FETCH 1 (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER.FIELDS", append(
			fetchReply(1, 1, ``, testHeader1),
			"%t OK FETCH completed")},
		{"LOGOUT", []string{"* BYE see you", "%t OK bye"}},
	}
	serverDone := runFakeServer(t, serverSide, "* OK [CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR ACL] ready", steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	m := &mailbox.Mailbox{Path: "imap://mail.example.org/INBOX"}
	m.Mdata = newMailboxData("INBOX", "INBOX")
	if err := c.Select(m, false); err != nil {
		t.Fatal(err)
	}
	want := mailbox.RightLookup | mailbox.RightRead | mailbox.RightSeen
	if m.Rights != want {
		t.Fatalf("rights = %b, want %b", m.Rights, want)
	}

	if err := c.FetchHeaders(m, nil, 1, 1); err != nil {
		t.Fatal(err)
	}

	// Deleting needs the 't' right we were not granted: the sync must
	// not emit a UID STORE for it (the scripted server would fail on an
	// unexpected command).
	e := m.Emails[0]
	e.Flags.Deleted = true
	e.Changed = true
	if err := c.SyncFlags(m, nil); err != nil {
		t.Fatal(err)
	}
	if edataOf(e).ServerFlags.Deleted {
		t.Error("deletion reached the mirror despite the ACL")
	}

	// Expunge is denied locally, without touching the wire.
	if err := c.Expunge(m); !errors.Is(err, exterrors.ErrProtocolNo) {
		t.Fatalf("expunge without the e right: %v", err)
	}

	if err := c.Logout(); err != nil {
		t.Fatal(err)
	}
	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
}

func TestSessionLoginFallback(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := []script{
		{"CAPABILITY", []string{"* CAPABILITY IMAP4rev1", "%t OK done"}},
		{`LOGIN "user" "secret"`, []string{"%t OK welcome"}},
		{"CAPABILITY", []string{"* CAPABILITY IMAP4rev1", "%t OK done"}},
	}
	serverDone := runFakeServer(t, serverSide, "* OK plain old server", steps)

	c := testClient(t, clientSide)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
	clientSide.Close()
}

func TestSessionAuthFailure(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	steps := []script{
		{"AUTHENTICATE PLAIN", []string{"%t NO [AUTHENTICATIONFAILED] bad credentials"}},
		{`LOGIN "user" "secret"`, []string{"%t NO nope"}},
	}
	serverDone := runFakeServer(t, serverSide, "* OK [CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR] ready", steps)

	c := testClient(t, clientSide)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("authentication must fail")
	}
	<-serverDone
	clientSide.Close()
}
