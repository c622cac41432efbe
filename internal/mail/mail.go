package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxzi/outreach/internal/models"
)

// ErrUnknownProvider is returned for provider ids without a registered transport
var ErrUnknownProvider = errors.New("unknown mail provider")

// Outbound is a single message to deliver through a provider mailbox
type Outbound struct {
	ProviderID string
	To         string
	ToName     string
	FromName   string // overrides the provider display name when set
	Subject    string
	Body       string
	InReplyTo  string   // Message-ID of the message being answered
	References []string // thread lineage, oldest first
}

// Sender delivers outbound messages for one provider
type Sender interface {
	// Send delivers msg and returns the Message-ID it was sent with
	Send(ctx context.Context, msg *Outbound) (string, error)
}

// Fetcher drains new inbound messages from one provider mailbox
type Fetcher interface {
	Fetch(ctx context.Context, folder string) ([]models.RawMessage, error)
}

// Transport is the mail collaborator used by the engine
type Transport interface {
	Send(ctx context.Context, msg *Outbound) (string, error)
	FetchNew(ctx context.Context, providerID, folder string) ([]models.RawMessage, error)
}

// TransportError describes a failed send or fetch
type TransportError struct {
	Provider  string
	Temporary bool
	Message   string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether a transport error may succeed on retry.
// Unknown errors are treated as temporary.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return true
}

// ErrorType returns a short label for metrics
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case IsTemporary(err):
		return "temporary"
	default:
		return "permanent"
	}
}
