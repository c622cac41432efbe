// Package review holds generated replies that need a human decision.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
)

var (
	// ErrAlreadyResolved is returned when resolving an item twice
	ErrAlreadyResolved = errors.New("review item already resolved")

	// ErrInvalidDecision is returned for decisions other than approve or discard
	ErrInvalidDecision = errors.New("invalid review decision")
)

// Store persists review items
type Store interface {
	SaveReview(ctx context.Context, item *models.ReviewItem) error
	GetReview(ctx context.Context, id string) (*models.ReviewItem, error)
	ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]*models.ReviewItem, error)
}

// Notifier tells reviewers about a new pending item
type Notifier interface {
	Notify(ctx context.Context, item *models.ReviewItem) error
}

// Queue is the manual review queue
type Queue struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates a review queue. notifier may be nil.
func NewQueue(store Store, notifier Notifier, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "review"),
		now:      time.Now,
	}
}

// Enqueue stores a pending item and notifies reviewers. A failed
// notification is logged; the item stays queued.
func (q *Queue) Enqueue(ctx context.Context, item *models.ReviewItem) error {
	item.Status = models.ReviewPending
	item.ResolvedAt = nil
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.now()
	}
	if err := q.store.SaveReview(ctx, item); err != nil {
		return fmt.Errorf("failed to save review item: %w", err)
	}
	metrics.IncReviewsQueued()

	q.logger.Info("reply queued for review",
		"review_id", item.ID,
		"prospect_id", item.ProspectID,
		"score", item.OverallScore,
	)

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, item); err != nil {
			q.logger.Warn("failed to notify reviewers", "review_id", item.ID, "error", err)
		}
	}
	return nil
}

// Get returns one item
func (q *Queue) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	return q.store.GetReview(ctx, id)
}

// List returns items newest first. An empty status lists all.
func (q *Queue) List(ctx context.Context, status models.ReviewStatus, limit int) ([]*models.ReviewItem, error) {
	return q.store.ListReviews(ctx, status, limit)
}

// Pending counts items waiting for a decision
func (q *Queue) Pending(ctx context.Context) (int, error) {
	items, err := q.store.ListReviews(ctx, models.ReviewPending, 0)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Resolve records the reviewer's decision on a pending item
func (q *Queue) Resolve(ctx context.Context, id string, decision models.ReviewStatus) (*models.ReviewItem, error) {
	if decision != models.ReviewApproved && decision != models.ReviewDiscard {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	item, err := q.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewPending {
		return item, ErrAlreadyResolved
	}

	now := q.now()
	item.Status = decision
	item.ResolvedAt = &now
	if err := q.store.SaveReview(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save review item: %w", err)
	}

	q.logger.Info("review resolved", "review_id", id, "decision", decision)
	return item, nil
}
