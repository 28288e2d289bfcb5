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
	"strconv"
	"testing"
)

func TestParseFetchItemBasics(t *testing.T) {
	item, err := parseFetchItem(3, `(UID 17 FLAGS (\Seen \Flagged custom) RFC822.SIZE 2048 INTERNALDATE "02-Jan-2006 15:04:05 -0700")`)
	if err != nil {
		t.Fatal(err)
	}
	if item.msn != 3 || item.uid != 17 || item.size != 2048 {
		t.Errorf("item = %+v", item)
	}
	if !item.flagsSeen || len(item.flags) != 3 {
		t.Errorf("flags = %v", item.flags)
	}
	if item.internalDate.IsZero() {
		t.Error("internaldate not parsed")
	}

	flags, keywords := flagsFromList(item.flags)
	if !flags.Read || !flags.Flagged || flags.Deleted {
		t.Errorf("flags = %+v", flags)
	}
	if len(keywords) != 1 || keywords[0] != "custom" {
		t.Errorf("keywords = %v", keywords)
	}
}

func TestParseFetchItemHeaderLiteral(t *testing.T) {
	header := "Subject: inline literal\r\n\r\n"
	args := `(UID 5 BODY[HEADER.FIELDS (SUBJECT FROM)] {` +
		strconv.Itoa(len(header)) + `}` + header + `)`
	item, err := parseFetchItem(1, args)
	if err != nil {
		t.Fatal(err)
	}
	if item.uid != 5 {
		t.Errorf("uid = %d", item.uid)
	}
	if item.headerText != header {
		t.Errorf("headerText = %q", item.headerText)
	}

	email, err := parseHeaderBlock(item.headerText)
	if err != nil {
		t.Fatal(err)
	}
	if email.Envelope.Subject != "inline literal" {
		t.Errorf("subject = %q", email.Envelope.Subject)
	}
}

func TestTrailingLiteral(t *testing.T) {
	if n, ok := trailingLiteral(`* 1 FETCH (BODY[] {420}`); !ok || n != 420 {
		t.Errorf("got %d %v", n, ok)
	}
	for _, line := range []string{`* 1 FETCH (FLAGS ())`, `plain`, `{x}`, `{}`} {
		if _, ok := trailingLiteral(line); ok {
			t.Errorf("%q misdetected as literal", line)
		}
	}
}

func TestResponseCode(t *testing.T) {
	code, ok := responseCode(`[UIDVALIDITY 1234] UIDs valid`)
	if !ok || code != "UIDVALIDITY 1234" {
		t.Errorf("code = %q %v", code, ok)
	}
	if _, ok := responseCode("no code here"); ok {
		t.Error("phantom response code")
	}
}

func TestCommandVerb(t *testing.T) {
	if got := commandVerb("UID STORE 1:5 +FLAGS.SILENT (\\Seen)"); got != "UID STORE" {
		t.Errorf("verb = %q", got)
	}
	if got := commandVerb("SELECT \"INBOX\""); got != "SELECT" {
		t.Errorf("verb = %q", got)
	}
}
