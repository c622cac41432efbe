package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/outreach/internal/dkim"
)

// TLS modes for SMTP submission
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "implicit"
)

// SMTPConfig configures a submission mailbox
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLS       string // none, starttls, implicit
	From      string
	FromName  string
	HelloName string
	Timeout   time.Duration

	// InsecureSkipVerify disables certificate checks for test relays
	InsecureSkipVerify bool
}

// SMTPSender submits mail to an SMTP relay
type SMTPSender struct {
	id     string
	cfg    SMTPConfig
	signer *dkim.Signer
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTPSender creates a submission sender. signer may be nil.
func NewSMTPSender(id string, cfg SMTPConfig, signer *dkim.Signer, logger *slog.Logger) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		id:     id,
		cfg:    cfg,
		signer: signer,
		now:    time.Now,
		logger: logger.With("provider", id),
	}
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, msg *Outbound) (string, error) {
	messageID := NewMessageID(s.cfg.From)
	data, err := BuildMessage(msg, s.cfg.From, s.cfg.FromName, messageID, s.now())
	if err != nil {
		return "", &TransportError{Provider: s.id, Message: "build message", Err: err}
	}

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := s.submit(ctx, msg.To, data); err != nil {
		return "", err
	}
	return messageID, nil
}

func (s *SMTPSender) submit(ctx context.Context, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Provider: s.id, Temporary: true, Message: "connect " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	var c *smtp.Client
	switch s.cfg.TLS {
	case TLSImplicit:
		c = smtp.NewClient(tls.Client(conn, tlsConfig))
	case TLSStartTLS:
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return s.categorize(err, "STARTTLS")
		}
	default:
		c = smtp.NewClient(conn)
	}
	defer c.Close()

	if s.cfg.HelloName != "" {
		if err := c.Hello(s.cfg.HelloName); err != nil {
			return s.categorize(err, "HELO")
		}
	}

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return s.categorize(err, "AUTH")
		}
	}

	if err := c.SendMail(s.cfg.From, []string{to}, bytes.NewReader(data)); err != nil {
		return s.categorize(err, "SEND")
	}

	c.Quit()
	return nil
}

// categorize maps SMTP replies to temporary (4xx, network) or permanent (5xx)
func (s *SMTPSender) categorize(err error, stage string) *TransportError {
	te := &TransportError{Provider: s.id, Temporary: true, Message: stage + " failed", Err: err}
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		te.Temporary = false
	}
	return te
}
