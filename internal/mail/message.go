package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a bracketed Message-ID in the sender's domain
func NewMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", strings.ToLower(ulid.Make().String()), domain)
}

func stripBrackets(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// BuildMessage renders msg as a plain-text RFC 5322 message
func BuildMessage(msg *Outbound, fromAddr, fromName, messageID string, now time.Time) ([]byte, error) {
	if msg.FromName != "" {
		fromName = msg.FromName
	}

	var h gomail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*gomail.Address{{Name: fromName, Address: fromAddr}})
	h.SetAddressList("To", []*gomail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetMessageID(stripBrackets(messageID))
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{stripBrackets(msg.InReplyTo)})
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			refs = append(refs, stripBrackets(r))
		}
		h.SetMsgIDList("References", refs)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
