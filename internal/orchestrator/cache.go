package orchestrator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/foxzi/outreach/internal/models"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 15 * time.Minute
)

// ConversationCache keeps recently used threads keyed by prospect id.
// Entries expire after ttl and the least recently used entry is evicted
// once size is reached.
type ConversationCache struct {
	lru *expirable.LRU[string, *models.Thread]
}

// NewConversationCache creates a bounded cache. Zero values use defaults.
func NewConversationCache(size int, ttl time.Duration) *ConversationCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ConversationCache{
		lru: expirable.NewLRU[string, *models.Thread](size, nil, ttl),
	}
}

// Get returns a copy of the cached thread
func (c *ConversationCache) Get(prospectID string) (*models.Thread, bool) {
	t, ok := c.lru.Get(prospectID)
	if !ok {
		return nil, false
	}
	return cloneThread(t), true
}

// Put stores a copy of t
func (c *ConversationCache) Put(prospectID string, t *models.Thread) {
	c.lru.Add(prospectID, cloneThread(t))
}

// Append adds msg to a cached thread. Uncached prospects are ignored.
func (c *ConversationCache) Append(prospectID string, msg models.Message) {
	t, ok := c.lru.Get(prospectID)
	if !ok {
		return
	}
	updated := cloneThread(t)
	updated.Messages = append(updated.Messages, msg)
	c.lru.Add(prospectID, updated)
}

// Invalidate drops the cached thread of a prospect
func (c *ConversationCache) Invalidate(prospectID string) {
	c.lru.Remove(prospectID)
}

// Len returns the number of cached threads
func (c *ConversationCache) Len() int {
	return c.lru.Len()
}

func cloneThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.Messages = append([]models.Message(nil), t.Messages...)
	return &cp
}
