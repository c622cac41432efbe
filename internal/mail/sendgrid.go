package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendgridHost = "https://api.sendgrid.com"

// APIConfig configures an HTTP API mail provider
type APIConfig struct {
	APIKey   string
	BaseURL  string
	From     string
	FromName string
}

// SendGridSender delivers through the SendGrid v3 mail send API
type SendGridSender struct {
	id     string
	cfg    APIConfig
	logger *slog.Logger
}

// NewSendGridSender creates a SendGrid sender
func NewSendGridSender(id string, cfg APIConfig, logger *slog.Logger) *SendGridSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendgridHost
	}
	return &SendGridSender{id: id, cfg: cfg, logger: logger.With("provider", id)}
}

// Send implements Sender
func (s *SendGridSender) Send(ctx context.Context, msg *Outbound) (string, error) {
	fromName := s.cfg.FromName
	if msg.FromName != "" {
		fromName = msg.FromName
	}
	messageID := NewMessageID(s.cfg.From)

	m := sgmail.NewSingleEmail(
		sgmail.NewEmail(fromName, s.cfg.From),
		msg.Subject,
		sgmail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		"",
	)
	m.SetHeader("Message-ID", messageID)
	for k, v := range threadingHeaders(msg) {
		m.SetHeader(k, v)
	}

	req := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", strings.TrimRight(s.cfg.BaseURL, "/"))
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", &TransportError{Provider: s.id, Temporary: true, Message: "sendgrid request", Err: err}
	}
	if resp.StatusCode >= 300 {
		return "", statusError(s.id, resp.StatusCode, resp.Body)
	}
	return messageID, nil
}

// threadingHeaders returns In-Reply-To and References for API providers
func threadingHeaders(msg *Outbound) map[string]string {
	headers := make(map[string]string)
	if msg.InReplyTo != "" {
		headers["In-Reply-To"] = "<" + stripBrackets(msg.InReplyTo) + ">"
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			refs = append(refs, "<"+stripBrackets(r)+">")
		}
		headers["References"] = strings.Join(refs, " ")
	}
	return headers
}

// statusError maps an API status code: 429 and 5xx are temporary
func statusError(provider string, code int, body string) *TransportError {
	if len(body) > 200 {
		body = body[:200]
	}
	return &TransportError{
		Provider:  provider,
		Temporary: code == http.StatusTooManyRequests || code >= 500,
		Message:   fmt.Sprintf("status %d: %s", code, strings.TrimSpace(body)),
	}
}
