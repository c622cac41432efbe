package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

var (
	bucketProspects     = []byte("prospects")
	bucketProspectEmail = []byte("prospect_email")
	bucketThreads       = []byte("threads")
	bucketThreadIndex   = []byte("thread_by_prospect")
	bucketMessages      = []byte("messages")
	bucketTouches       = []byte("touches")
	bucketInboundSeen   = []byte("inbound_seen")
	bucketVerifications = []byte("verifications")
	bucketReviews       = []byte("reviews")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	buckets := [][]byte{
		bucketProspects, bucketProspectEmail, bucketThreads, bucketThreadIndex,
		bucketMessages, bucketTouches, bucketInboundSeen, bucketVerifications, bucketReviews,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// DB returns the underlying database for components sharing the file
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateProspect stores a new prospect
func (s *BoltStore) CreateProspect(ctx context.Context, p *models.Prospect) error {
	if err := prepareProspect(p); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return createProspectTx(tx, p)
	})
}

// EnrollProspect stores a new prospect together with the campaign email
// already sent to it, so follow-ups thread onto that message
func (s *BoltStore) EnrollProspect(ctx context.Context, p *models.Prospect, initial *models.Message) error {
	if err := prepareProspect(p); err != nil {
		return err
	}
	if initial == nil {
		return s.db.Update(func(tx *bolt.Tx) error {
			return createProspectTx(tx, p)
		})
	}

	if initial.Timestamp.IsZero() {
		initial.Timestamp = time.Now()
	}
	initial.Direction = models.DirectionSent
	initial.IsFollowUp = false
	if initial.ProviderID == "" {
		initial.ProviderID = p.ProviderID
	}
	if p.LastContact == nil {
		sent := initial.Timestamp
		p.LastContact = &sent
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := createProspectTx(tx, p); err != nil {
			return err
		}
		t, err := ensureThreadTx(tx, p, initial.Subject)
		if err != nil {
			return err
		}
		return appendMessageTx(tx, t.ID, initial)
	})
}

func prepareProspect(p *models.Prospect) error {
	if p.Email == "" {
		return fmt.Errorf("prospect email is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.FollowUpStatus == "" {
		p.FollowUpStatus = models.FollowUpActive
	}
	if p.ResponseType == "" {
		p.ResponseType = models.ResponseNone
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}

func createProspectTx(tx *bolt.Tx, p *models.Prospect) error {
	emailKey := []byte(normalizeEmail(p.Email))
	if existing := tx.Bucket(bucketProspectEmail).Get(emailKey); existing != nil && string(existing) != p.ID {
		return fmt.Errorf("prospect %s: %w", p.Email, ErrExists)
	}
	if err := putJSON(tx.Bucket(bucketProspects), []byte(p.ID), p); err != nil {
		return err
	}
	return tx.Bucket(bucketProspectEmail).Put(emailKey, []byte(p.ID))
}

// GetProspect retrieves a prospect by ID
func (s *BoltStore) GetProspect(ctx context.Context, id string) (*models.Prospect, error) {
	var p *models.Prospect
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = getProspectTx(tx, id)
		return err
	})
	return p, err
}

// FindProspectByEmail looks a prospect up by address
func (s *BoltStore) FindProspectByEmail(ctx context.Context, email string) (*models.Prospect, error) {
	var p *models.Prospect
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketProspectEmail).Get([]byte(normalizeEmail(email)))
		if id == nil {
			return fmt.Errorf("prospect %s: %w", email, ErrNotFound)
		}
		var err error
		p, err = getProspectTx(tx, string(id))
		return err
	})
	return p, err
}

// UpdateProspect runs fn against the stored prospect and persists the result
func (s *BoltStore) UpdateProspect(ctx context.Context, id string, fn func(p *models.Prospect) error) (*models.Prospect, error) {
	var p *models.Prospect
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		p, err = getProspectTx(tx, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		return putJSON(tx.Bucket(bucketProspects), []byte(p.ID), p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProspects returns prospects matching the filter
func (s *BoltStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]*models.Prospect, error) {
	var prospects []*models.Prospect

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketProspects).Cursor()
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p models.Prospect
			if err := json.Unmarshal(v, &p); err != nil {
				continue
			}
			if filter.Status != "" && p.FollowUpStatus != filter.Status {
				continue
			}
			if filter.CampaignID != "" && p.CampaignID != filter.CampaignID {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			prospects = append(prospects, &p)
			if filter.Limit > 0 && len(prospects) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return prospects, err
}

// CreateThread stores a thread, enforcing one thread per prospect and campaign
func (s *BoltStore) CreateThread(ctx context.Context, t *models.Thread) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return createThreadTx(tx, t)
	})
}

// GetThreadByProspect returns the prospect's thread for its campaign with messages
func (s *BoltStore) GetThreadByProspect(ctx context.Context, prospectID string) (*models.Thread, error) {
	var t *models.Thread
	err := s.db.View(func(tx *bolt.Tx) error {
		p, err := getProspectTx(tx, prospectID)
		if err != nil {
			return err
		}
		t, err = threadForTx(tx, p)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("thread for prospect %s: %w", prospectID, ErrNotFound)
		}
		t.Messages, err = messagesTx(tx, t.ID)
		return err
	})
	return t, err
}

// GetOrCreateThread returns the prospect's thread, creating it on first use
func (s *BoltStore) GetOrCreateThread(ctx context.Context, prospectID string) (*models.Thread, error) {
	var t *models.Thread
	err := s.db.Update(func(tx *bolt.Tx) error {
		p, err := getProspectTx(tx, prospectID)
		if err != nil {
			return err
		}
		t, err = ensureThreadTx(tx, p, "")
		if err != nil {
			return err
		}
		t.Messages, err = messagesTx(tx, t.ID)
		return err
	})
	return t, err
}

// AppendMessage appends a message to the thread's ordered history
func (s *BoltStore) AppendMessage(ctx context.Context, threadID string, msg *models.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendMessageTx(tx, threadID, msg)
	})
}

// MarkInboundSeen records an inbound message ID per provider
func (s *BoltStore) MarkInboundSeen(ctx context.Context, providerID, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInboundSeen)
		key := []byte(providerID + "/" + messageID)
		if b.Get(key) != nil {
			return nil
		}
		fresh = true
		return b.Put(key, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return fresh, err
}

// SaveVerification stores a verification record
func (s *BoltStore) SaveVerification(ctx context.Context, v *models.Verification) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketVerifications), []byte(v.ID), v)
	})
}

// GetVerification retrieves a verification record by ID
func (s *BoltStore) GetVerification(ctx context.Context, id string) (*models.Verification, error) {
	var v *models.Verification
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVerifications).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("verification %s: %w", id, ErrNotFound)
		}
		v = &models.Verification{}
		return json.Unmarshal(data, v)
	})
	return v, err
}

func getProspectTx(tx *bolt.Tx, id string) (*models.Prospect, error) {
	data := tx.Bucket(bucketProspects).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("prospect %s: %w", id, ErrNotFound)
	}
	var p models.Prospect
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode prospect %s: %w", id, err)
	}
	return &p, nil
}

func threadIndexKey(prospectID, campaignID string) []byte {
	return []byte(prospectID + "/" + campaignID)
}

func threadForTx(tx *bolt.Tx, p *models.Prospect) (*models.Thread, error) {
	id := tx.Bucket(bucketThreadIndex).Get(threadIndexKey(p.ID, p.CampaignID))
	if id == nil {
		return nil, nil
	}
	data := tx.Bucket(bucketThreads).Get(id)
	if data == nil {
		return nil, nil
	}
	var t models.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", id, err)
	}
	return &t, nil
}

func createThreadTx(tx *bolt.Tx, t *models.Thread) error {
	if t.ProspectID == "" {
		return fmt.Errorf("thread prospect id is required")
	}
	index := tx.Bucket(bucketThreadIndex)
	key := threadIndexKey(t.ProspectID, t.CampaignID)
	if existing := index.Get(key); existing != nil {
		return fmt.Errorf("thread for prospect %s campaign %s already exists", t.ProspectID, t.CampaignID)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := putJSON(tx.Bucket(bucketThreads), []byte(t.ID), t); err != nil {
		return err
	}
	return index.Put(key, []byte(t.ID))
}

func ensureThreadTx(tx *bolt.Tx, p *models.Prospect, subject string) (*models.Thread, error) {
	t, err := threadForTx(tx, p)
	if err != nil || t != nil {
		return t, err
	}
	t = &models.Thread{
		ProspectID: p.ID,
		CampaignID: p.CampaignID,
		Subject:    subject,
	}
	if err := createThreadTx(tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func appendMessageTx(tx *bolt.Tx, threadID string, msg *models.Message) error {
	threads := tx.Bucket(bucketThreads)
	data := threads.Get([]byte(threadID))
	if data == nil {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	var t models.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	// ULID keys keep messages ordered by timestamp within the thread prefix
	id := ulid.MustNew(ulid.Timestamp(msg.Timestamp), ulid.DefaultEntropy())
	if msg.ID == "" {
		msg.ID = id.String()
	}
	msg.ThreadID = threadID

	if err := putJSON(tx.Bucket(bucketMessages), messageKey(threadID, id), msg); err != nil {
		return err
	}

	if t.Subject == "" && msg.Direction == models.DirectionSent {
		t.Subject = msg.Subject
	}
	t.UpdatedAt = time.Now()
	return putJSON(threads, []byte(t.ID), &t)
}

func messageKey(threadID string, id ulid.ULID) []byte {
	return []byte(threadID + "/" + id.String())
}

func messagesTx(tx *bolt.Tx, threadID string) ([]models.Message, error) {
	var messages []models.Message
	prefix := []byte(threadID + "/")
	c := tx.Bucket(bucketMessages).Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
