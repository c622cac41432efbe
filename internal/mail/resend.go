package mail

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
)

// ResendSender delivers through the Resend API
type ResendSender struct {
	id     string
	cfg    APIConfig
	client *resend.Client
	logger *slog.Logger
}

// NewResendSender creates a Resend sender
func NewResendSender(id string, cfg APIConfig, logger *slog.Logger) (*ResendSender, error) {
	client := resend.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid resend base url: %w", err)
		}
		client.BaseURL = base
	}
	return &ResendSender{id: id, cfg: cfg, client: client, logger: logger.With("provider", id)}, nil
}

// Send implements Sender
func (s *ResendSender) Send(ctx context.Context, msg *Outbound) (string, error) {
	fromName := s.cfg.FromName
	if msg.FromName != "" {
		fromName = msg.FromName
	}
	messageID := NewMessageID(s.cfg.From)

	headers := threadingHeaders(msg)
	headers["Message-ID"] = messageID

	to := (&netmail.Address{Name: msg.ToName, Address: msg.To}).String()
	from := (&netmail.Address{Name: fromName, Address: s.cfg.From}).String()

	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: msg.Subject,
		Text:    msg.Body,
		Headers: headers,
	})
	if err != nil {
		return "", &TransportError{
			Provider:  s.id,
			Temporary: !isRejection(err),
			Message:   "resend request",
			Err:       err,
		}
	}
	return messageID, nil
}

// isRejection reports API errors that will not succeed on retry
func isRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"validation", "invalid", "not allowed", "forbidden"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
