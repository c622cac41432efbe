package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"

	"github.com/foxzi/outreach/internal/models"
)

// IMAPConfig configures an inbound mailbox
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	Timeout  time.Duration
	// MaxMessages bounds one fetch; the rest stays unseen for the next poll
	MaxMessages int
}

// headersOfInterest are copied into RawMessage.Headers for classification
var headersOfInterest = []string{
	"Auto-Submitted",
	"X-Autoreply",
	"X-Autorespond",
	"X-Auto-Response-Suppress",
	"Precedence",
	"List-Id",
	"References",
}

// IMAPFetcher drains unseen messages from an IMAP folder
type IMAPFetcher struct {
	id     string
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAPFetcher creates an IMAP fetcher
func NewIMAPFetcher(id string, cfg IMAPConfig, logger *slog.Logger) *IMAPFetcher {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 100
	}
	return &IMAPFetcher{id: id, cfg: cfg, logger: logger.With("provider", id)}
}

func (f *IMAPFetcher) connect(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, fmt.Sprintf("%d", f.cfg.Port))
	dialer := &net.Dialer{Timeout: f.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Provider: f.id, Temporary: true, Message: "connect " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if f.cfg.TLS {
		conn = tls.Client(conn, &tls.Config{ServerName: f.cfg.Host, MinVersion: tls.VersionTLS12})
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Provider: f.id, Temporary: true, Message: "imap greeting", Err: err}
	}
	c.Timeout = f.cfg.Timeout

	if err := c.Login(f.cfg.Username, f.cfg.Password); err != nil {
		c.Logout()
		return nil, &TransportError{Provider: f.id, Temporary: false, Message: "imap login", Err: err}
	}
	return c, nil
}

// Fetch returns unseen messages and marks them \Seen once parsed
func (f *IMAPFetcher) Fetch(ctx context.Context, folder string) ([]models.RawMessage, error) {
	if folder == "" {
		folder = "INBOX"
	}

	c, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(folder, false); err != nil {
		return nil, &TransportError{Provider: f.id, Temporary: true, Message: "select " + folder, Err: err}
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &TransportError{Provider: f.id, Temporary: true, Message: "search unseen", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > f.cfg.MaxMessages {
		uids = uids[:f.cfg.MaxMessages]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Peek so a failed poll leaves messages unseen
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []models.RawMessage
	seen := new(imap.SeqSet)
	for msg := range messages {
		raw, err := f.convert(msg, section)
		if err != nil {
			f.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		out = append(out, *raw)
		seen.AddNum(msg.Uid)
	}
	if err := <-done; err != nil {
		return nil, &TransportError{Provider: f.id, Temporary: true, Message: "fetch", Err: err}
	}

	if !seen.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := c.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			f.logger.Warn("failed to mark messages seen", "error", err)
		}
	}

	f.logger.Debug("fetched messages", "folder", folder, "count", len(out))
	return out, nil
}

func (f *IMAPFetcher) convert(msg *imap.Message, section *imap.BodySectionName) (*models.RawMessage, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, fmt.Errorf("message without envelope")
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message without body")
	}

	raw, err := ParseMessage(body)
	if err != nil {
		return nil, err
	}

	env := msg.Envelope
	if raw.MessageID == "" {
		raw.MessageID = env.MessageId
	}
	if raw.InReplyTo == "" {
		raw.InReplyTo = env.InReplyTo
	}
	if raw.Subject == "" {
		raw.Subject = env.Subject
	}
	if raw.From == "" && len(env.From) > 0 {
		raw.From = env.From[0].Address()
		raw.FromName = env.From[0].PersonalName
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = msg.InternalDate
	}
	return raw, nil
}

// ParseMessage extracts the fields the engine needs from an RFC 5322 message.
// The body is the first text/plain part, or the text of the first text/html
// part, with quoted history trimmed.
func ParseMessage(r io.Reader) (*models.RawMessage, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	raw := &models.RawMessage{Headers: make(map[string]string)}
	h := mr.Header

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		raw.From = from[0].Address
		raw.FromName = from[0].Name
	}
	if subject, err := h.Subject(); err == nil {
		raw.Subject = subject
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		raw.MessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		raw.InReplyTo = "<" + ids[0] + ">"
	}
	if date, err := h.Date(); err == nil {
		raw.ReceivedAt = date
	}
	for _, key := range headersOfInterest {
		if v := h.Get(key); v != "" {
			raw.Headers[key] = v
		}
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		ih, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			plain = string(data)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(data)
		}
	}

	text := plain
	if strings.TrimSpace(text) == "" && html != "" {
		text = HTMLToText(html)
	}
	raw.Body = TrimQuoted(text)
	return raw, nil
}
