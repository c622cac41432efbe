package storage

import (
	"context"
	"errors"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

var (
	// ErrNotFound is returned when a prospect, thread or item does not exist
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a prospect whose email is taken
	ErrExists = errors.New("already exists")

	// ErrNotActive is returned when follow-ups are no longer allowed for a prospect
	ErrNotActive = errors.New("prospect follow-ups not active")

	// ErrTouchRecorded is returned when a follow-up sequence was already sent
	ErrTouchRecorded = errors.New("follow-up sequence already sent")

	// ErrTouchInDoubt is returned for a sequence the transport accepted but
	// that was never committed; it must be reconciled, not resent
	ErrTouchInDoubt = errors.New("follow-up sequence delivered but not recorded")

	// ErrTouchClaimed is returned while another scan holds the claim for a sequence
	ErrTouchClaimed = errors.New("follow-up sequence claimed by another scan")
)

// ProspectFilter selects prospects for listing
type ProspectFilter struct {
	Status     models.FollowUpStatus
	CampaignID string
	Limit      int
	Offset     int
}

// Store is the conversation and prospect store used by the engine.
// All operations are read-after-write consistent for a single prospect.
type Store interface {
	CreateProspect(ctx context.Context, p *models.Prospect) error
	// EnrollProspect creates a prospect and records the initial campaign email
	EnrollProspect(ctx context.Context, p *models.Prospect, initial *models.Message) error
	GetProspect(ctx context.Context, id string) (*models.Prospect, error)
	FindProspectByEmail(ctx context.Context, email string) (*models.Prospect, error)
	// UpdateProspect applies fn to the stored prospect inside one write transaction
	UpdateProspect(ctx context.Context, id string, fn func(p *models.Prospect) error) (*models.Prospect, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]*models.Prospect, error)

	CreateThread(ctx context.Context, t *models.Thread) error
	GetThreadByProspect(ctx context.Context, prospectID string) (*models.Thread, error)
	GetOrCreateThread(ctx context.Context, prospectID string) (*models.Thread, error)
	AppendMessage(ctx context.Context, threadID string, msg *models.Message) error

	// ClaimTouch reserves (prospect, sequence) for one send attempt
	ClaimTouch(ctx context.Context, prospectID string, seq int, now time.Time, lease time.Duration) error
	// ReleaseTouch drops an unconsumed claim so the touch stays due
	ReleaseTouch(ctx context.Context, prospectID string, seq int) error
	// MarkTouchDelivered records a transport-accepted touch ahead of CommitTouch
	MarkTouchDelivered(ctx context.Context, prospectID string, seq int, msg *models.Message, now time.Time) error
	// CommitTouch records a successful follow-up send and advances the prospect
	CommitTouch(ctx context.Context, prospectID string, seq, maxFollowUps int, msg *models.Message, now time.Time) (*models.Prospect, error)
	// ReconcileTouch commits a delivered touch that CommitTouch never recorded
	ReconcileTouch(ctx context.Context, prospectID string, seq, maxFollowUps int) (*models.Prospect, *models.Message, error)

	// MarkInboundSeen records an inbound Message-ID, returning false if it was seen before
	MarkInboundSeen(ctx context.Context, providerID, messageID string) (bool, error)

	SaveVerification(ctx context.Context, v *models.Verification) error
	GetVerification(ctx context.Context, id string) (*models.Verification, error)

	SaveReview(ctx context.Context, item *models.ReviewItem) error
	GetReview(ctx context.Context, id string) (*models.ReviewItem, error)
	ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]*models.ReviewItem, error)

	Close() error
}
