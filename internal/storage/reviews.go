package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

// SaveReview creates or updates a review item
func (s *BoltStore) SaveReview(ctx context.Context, item *models.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.Status == "" {
		item.Status = models.ReviewPending
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketReviews), []byte(item.ID), item)
	})
}

// GetReview retrieves a review item by ID
func (s *BoltStore) GetReview(ctx context.Context, id string) (*models.ReviewItem, error) {
	var item *models.ReviewItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReviews).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("review %s: %w", id, ErrNotFound)
		}
		item = &models.ReviewItem{}
		return json.Unmarshal(data, item)
	})
	return item, err
}

// ListReviews returns review items, newest first, optionally filtered by status
func (s *BoltStore) ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]*models.ReviewItem, error) {
	var items []*models.ReviewItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReviews).ForEach(func(k, v []byte) error {
			var item models.ReviewItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			if status != "" && item.Status != status {
				return nil
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
