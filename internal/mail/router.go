package mail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

type provider struct {
	id      string
	sender  Sender
	fetcher Fetcher
	// mu serializes sessions within one mailbox
	mu sync.Mutex
}

// Router dispatches sends and fetches to per-provider transports.
// Calls for one provider are serialized; different providers run concurrently.
type Router struct {
	mu        sync.RWMutex
	providers map[string]*provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRouter creates a router. Every call is bounded by timeout.
func NewRouter(timeout time.Duration, logger *slog.Logger) *Router {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		providers: make(map[string]*provider),
		timeout:   timeout,
		logger:    logger.With("component", "mail_router"),
	}
}

// Register adds a provider. fetcher may be nil for send-only providers.
func (r *Router) Register(id string, sender Sender, fetcher Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = &provider{id: id, sender: sender, fetcher: fetcher}
}

// Providers returns registered provider ids in sorted order
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InboundProviders returns providers that can fetch mail
func (r *Router) InboundProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, p := range r.providers {
		if p.fetcher != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Router) get(id string) (*provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Send delivers msg through its provider
func (r *Router) Send(ctx context.Context, msg *Outbound) (string, error) {
	p, err := r.get(msg.ProviderID)
	if err != nil {
		return "", err
	}
	if p.sender == nil {
		return "", &TransportError{Provider: p.id, Message: "provider cannot send"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		r.logger.Warn("send failed",
			"provider", p.id,
			"to", msg.To,
			"temporary", IsTemporary(err),
			"error", err,
		)
		return "", err
	}

	r.logger.Debug("message sent",
		"provider", p.id,
		"to", msg.To,
		"message_id", id,
		"duration", time.Since(start),
	)
	return id, nil
}

// FetchNew drains new messages from the provider folder
func (r *Router) FetchNew(ctx context.Context, providerID, folder string) ([]models.RawMessage, error) {
	p, err := r.get(providerID)
	if err != nil {
		return nil, err
	}
	if p.fetcher == nil {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msgs, err := p.fetcher.Fetch(ctx, folder)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].ProviderID = providerID
	}
	return msgs, nil
}
