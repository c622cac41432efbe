package orchestrator

import (
	"testing"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

func TestConversationCache(t *testing.T) {
	c := NewConversationCache(2, time.Minute)

	if _, ok := c.Get("p1"); ok {
		t.Fatal("empty cache should miss")
	}

	thread := &models.Thread{ID: "t1", ProspectID: "p1", Messages: []models.Message{{ID: "m1"}}}
	c.Put("p1", thread)

	// Mutating the caller's copy does not change the cache
	thread.Messages[0].ID = "changed"
	got, ok := c.Get("p1")
	if !ok || got.Messages[0].ID != "m1" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	got.Messages = append(got.Messages, models.Message{ID: "local"})

	c.Append("p1", models.Message{ID: "m2"})
	got, _ = c.Get("p1")
	if len(got.Messages) != 2 || got.Messages[1].ID != "m2" {
		t.Errorf("after Append messages = %+v", got.Messages)
	}

	// Append for an uncached prospect is a no-op
	c.Append("p9", models.Message{ID: "x"})
	if _, ok := c.Get("p9"); ok {
		t.Error("Append should not create entries")
	}

	c.Invalidate("p1")
	if _, ok := c.Get("p1"); ok {
		t.Error("Invalidate should drop the entry")
	}
}

func TestConversationCacheEviction(t *testing.T) {
	c := NewConversationCache(2, time.Minute)
	c.Put("p1", &models.Thread{ID: "t1"})
	c.Put("p2", &models.Thread{ID: "t2"})
	c.Get("p1")
	c.Put("p3", &models.Thread{ID: "t3"})

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("p2"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if _, ok := c.Get("p1"); !ok {
		t.Error("recently used entry should stay")
	}
}

func TestConversationCacheExpiry(t *testing.T) {
	c := NewConversationCache(10, 20*time.Millisecond)
	c.Put("p1", &models.Thread{ID: "t1"})

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("p1"); ok {
		t.Error("entry should expire after ttl")
	}
}
