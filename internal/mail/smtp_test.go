package mail

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"

	"github.com/foxzi/outreach/internal/dkim"
)

// sinkBackend is an in-process SMTP relay recording submissions
type sinkBackend struct {
	mu       sync.Mutex
	messages []string
	rcpts    []string
	rejectTo int
}

func (b *sinkBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &sinkSession{backend: b}, nil
}

type sinkSession struct {
	backend *sinkBackend
}

func (s *sinkSession) Mail(from string, opts *smtp.MailOptions) error { return nil }

func (s *sinkSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.backend.rejectTo != 0 {
		return &smtp.SMTPError{Code: s.backend.rejectTo, Message: "recipient rejected"}
	}
	s.backend.mu.Lock()
	s.backend.rcpts = append(s.backend.rcpts, to)
	s.backend.mu.Unlock()
	return nil
}

func (s *sinkSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, string(data))
	s.backend.mu.Unlock()
	return nil
}

func (s *sinkSession) Reset() {}

func (s *sinkSession) Logout() error { return nil }

func startSink(t *testing.T, b *sinkBackend) (string, int) {
	t.Helper()
	srv := smtp.NewServer(b)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestSMTPSenderDelivers(t *testing.T) {
	backend := &sinkBackend{}
	host, port := startSink(t, backend)

	kp, err := dkim.GenerateKeyPair("acme.example", "outreach", 1024)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	signer := dkim.NewSigner(kp.Key, kp.Domain, kp.Selector)

	s := NewSMTPSender("smtp-1", SMTPConfig{
		Host:     host,
		Port:     port,
		TLS:      TLSNone,
		From:     "alex@acme.example",
		FromName: "Alex",
	}, signer, testLogger())

	id, err := s.Send(context.Background(), &Outbound{
		To:        "maria@northwind.example",
		ToName:    "Maria Lopez",
		Subject:   "Re: Quick question",
		Body:      "Hi Maria",
		InReplyTo: "<first@acme.example>",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.messages) != 1 {
		t.Fatalf("relay received %d messages, want 1", len(backend.messages))
	}
	if len(backend.rcpts) != 1 || backend.rcpts[0] != "maria@northwind.example" {
		t.Errorf("rcpts = %v", backend.rcpts)
	}

	msg := backend.messages[0]
	if !strings.HasPrefix(msg, "DKIM-Signature:") {
		t.Error("message should be DKIM signed")
	}
	raw, err := ParseMessage(bytes.NewReader([]byte(msg)))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if raw.MessageID != id {
		t.Errorf("Message-ID = %s, want %s", raw.MessageID, id)
	}
	if raw.InReplyTo != "<first@acme.example>" {
		t.Errorf("In-Reply-To = %s", raw.InReplyTo)
	}
}

func TestSMTPSenderRejections(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		temporary bool
	}{
		{"mailbox unavailable", 550, false},
		{"greylisted", 451, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := startSink(t, &sinkBackend{rejectTo: tt.code})
			s := NewSMTPSender("smtp-1", SMTPConfig{Host: host, Port: port, TLS: TLSNone, From: "alex@acme.example"}, nil, testLogger())

			_, err := s.Send(context.Background(), &Outbound{To: "maria@northwind.example", Subject: "s", Body: "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTemporary(err) != tt.temporary {
				t.Errorf("IsTemporary() = %v, want %v (%v)", IsTemporary(err), tt.temporary, err)
			}
		})
	}
}

func TestSMTPSenderConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	s := NewSMTPSender("smtp-1", SMTPConfig{Host: "127.0.0.1", Port: port, TLS: TLSNone, From: "a@acme.example"}, nil, testLogger())
	_, err = s.Send(context.Background(), &Outbound{To: "b@northwind.example"})
	if err == nil || !IsTemporary(err) {
		t.Errorf("Send() error = %v, want temporary error", err)
	}
}
