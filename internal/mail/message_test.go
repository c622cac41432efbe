package mail

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBuildAndParseMessage(t *testing.T) {
	out := &Outbound{
		To:         "maria@northwind.example",
		ToName:     "Maria Lopez",
		Subject:    "Re: Quick question",
		Body:       "Hi Maria,\n\nFollowing up on my note.\n\nBest,\nAlex",
		InReplyTo:  "<first@acme.example>",
		References: []string{"<first@acme.example>", "second@acme.example"},
	}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	data, err := BuildMessage(out, "alex@acme.example", "Alex", "<abc@acme.example>", now)
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}

	text := string(data)
	for _, want := range []string{
		"Message-Id: <abc@acme.example>",
		"In-Reply-To: <first@acme.example>",
		"References: <first@acme.example> <second@acme.example>",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}

	raw, err := ParseMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if raw.From != "alex@acme.example" || raw.FromName != "Alex" {
		t.Errorf("from = %q %q", raw.From, raw.FromName)
	}
	if raw.Subject != out.Subject {
		t.Errorf("subject = %q", raw.Subject)
	}
	if raw.MessageID != "<abc@acme.example>" || raw.InReplyTo != "<first@acme.example>" {
		t.Errorf("ids = %q / %q", raw.MessageID, raw.InReplyTo)
	}
	if raw.Body != out.Body {
		t.Errorf("body = %q, want %q", raw.Body, out.Body)
	}
	if !raw.ReceivedAt.Equal(now) {
		t.Errorf("date = %v, want %v", raw.ReceivedAt, now)
	}
}

func TestParseMessageAutoReplyHeaders(t *testing.T) {
	msg := "From: Out Of Office <ooo@northwind.example>\r\n" +
		"To: alex@acme.example\r\n" +
		"Subject: Automatic reply: Quick question\r\n" +
		"Message-ID: <ooo1@northwind.example>\r\n" +
		"Auto-Submitted: auto-replied\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>I am away until Monday.</p>\r\n"

	raw, err := ParseMessage(strings.NewReader(msg))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if raw.Headers["Auto-Submitted"] != "auto-replied" {
		t.Errorf("Auto-Submitted header = %q", raw.Headers["Auto-Submitted"])
	}
	if raw.Body != "I am away until Monday." {
		t.Errorf("body = %q", raw.Body)
	}
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("alex@acme.example")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@acme.example>") {
		t.Errorf("NewMessageID() = %q", id)
	}
	if NewMessageID("alex@acme.example") == id {
		t.Error("message ids should be unique")
	}
	if got := NewMessageID("nodomain"); !strings.HasSuffix(got, "@localhost>") {
		t.Errorf("NewMessageID(nodomain) = %q", got)
	}
}
