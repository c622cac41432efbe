package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

// TouchState is the ledger state of a scheduled touch
type TouchState string

const (
	TouchClaimed TouchState = "claimed"
	// TouchDelivered means the transport accepted the touch but it is not yet
	// on the thread; it is never sent again, only reconciled
	TouchDelivered TouchState = "delivered"
	TouchSent      TouchState = "sent"
)

// Touch is the ledger entry for one (prospect, sequence) pair
type Touch struct {
	ProspectID string     `json:"prospect_id"`
	Sequence   int        `json:"sequence"`
	State      TouchState `json:"state"`
	ClaimedAt  time.Time  `json:"claimed_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	// Pending is the delivered message awaiting reconciliation
	Pending *models.Message `json:"pending,omitempty"`
}

func touchKey(prospectID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%06d", prospectID, seq))
}

func getTouchTx(tx *bolt.Tx, prospectID string, seq int) (*Touch, error) {
	data := tx.Bucket(bucketTouches).Get(touchKey(prospectID, seq))
	if data == nil {
		return nil, nil
	}
	var t Touch
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode touch: %w", err)
	}
	return &t, nil
}

// ClaimTouch reserves a follow-up sequence for a single send attempt.
// A claim older than lease is considered abandoned and may be taken over.
func (s *BoltStore) ClaimTouch(ctx context.Context, prospectID string, seq int, now time.Time, lease time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p, err := getProspectTx(tx, prospectID)
		if err != nil {
			return err
		}
		if p.FollowUpStatus != models.FollowUpActive {
			return ErrNotActive
		}
		if p.FollowUpCount >= seq {
			return ErrTouchRecorded
		}

		existing, err := getTouchTx(tx, prospectID, seq)
		if err != nil {
			return err
		}
		if existing != nil {
			switch existing.State {
			case TouchSent:
				return ErrTouchRecorded
			case TouchDelivered:
				return ErrTouchInDoubt
			}
			if now.Sub(existing.ClaimedAt) < lease {
				return ErrTouchClaimed
			}
		}

		return putJSON(tx.Bucket(bucketTouches), touchKey(prospectID, seq), &Touch{
			ProspectID: prospectID,
			Sequence:   seq,
			State:      TouchClaimed,
			ClaimedAt:  now,
		})
	})
}

// ReleaseTouch removes an unconsumed claim. Delivered and sent touches stay.
func (s *BoltStore) ReleaseTouch(ctx context.Context, prospectID string, seq int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getTouchTx(tx, prospectID, seq)
		if err != nil || existing == nil {
			return err
		}
		if existing.State != TouchClaimed {
			return nil
		}
		return tx.Bucket(bucketTouches).Delete(touchKey(prospectID, seq))
	})
}

// MarkTouchDelivered records that the transport accepted a touch, before it
// is committed to the thread. ClaimTouch refuses a delivered touch.
func (s *BoltStore) MarkTouchDelivered(ctx context.Context, prospectID string, seq int, msg *models.Message, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getTouchTx(tx, prospectID, seq)
		if err != nil {
			return err
		}
		claimedAt := now
		if existing != nil {
			if existing.State == TouchSent {
				return ErrTouchRecorded
			}
			claimedAt = existing.ClaimedAt
		}
		pending := *msg
		sentAt := now
		return putJSON(tx.Bucket(bucketTouches), touchKey(prospectID, seq), &Touch{
			ProspectID: prospectID,
			Sequence:   seq,
			State:      TouchDelivered,
			ClaimedAt:  claimedAt,
			SentAt:     &sentAt,
			Pending:    &pending,
		})
	})
}

// CommitTouch appends the sent follow-up to the prospect's thread, advances
// follow_up_count and marks the sequence as sent, all in one transaction.
// A second commit for the same sequence fails with ErrTouchRecorded.
func (s *BoltStore) CommitTouch(ctx context.Context, prospectID string, seq, maxFollowUps int, msg *models.Message, now time.Time) (*models.Prospect, error) {
	var p *models.Prospect
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		p, err = commitTouchTx(tx, prospectID, seq, maxFollowUps, msg, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ReconcileTouch commits a delivered touch from its pending message.
// It returns ErrNotFound when the sequence is not in the delivered state.
func (s *BoltStore) ReconcileTouch(ctx context.Context, prospectID string, seq, maxFollowUps int) (*models.Prospect, *models.Message, error) {
	var p *models.Prospect
	var msg *models.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getTouchTx(tx, prospectID, seq)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("touch %s/%d: %w", prospectID, seq, ErrNotFound)
		}
		switch {
		case existing.State == TouchSent:
			return ErrTouchRecorded
		case existing.State != TouchDelivered || existing.Pending == nil:
			return fmt.Errorf("touch %s/%d not delivered: %w", prospectID, seq, ErrNotFound)
		}
		msg = existing.Pending
		sentAt := existing.ClaimedAt
		if existing.SentAt != nil {
			sentAt = *existing.SentAt
		}
		p, err = commitTouchTx(tx, prospectID, seq, maxFollowUps, msg, sentAt)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return p, msg, nil
}

func commitTouchTx(tx *bolt.Tx, prospectID string, seq, maxFollowUps int, msg *models.Message, now time.Time) (*models.Prospect, error) {
	p, err := getProspectTx(tx, prospectID)
	if err != nil {
		return nil, err
	}

	existing, err := getTouchTx(tx, prospectID, seq)
	if err != nil {
		return nil, err
	}
	if (existing != nil && existing.State == TouchSent) || p.FollowUpCount >= seq {
		return nil, ErrTouchRecorded
	}

	t, err := ensureThreadTx(tx, p, msg.Subject)
	if err != nil {
		return nil, err
	}
	msg.IsFollowUp = true
	msg.FollowUpSequence = seq
	msg.Direction = models.DirectionSent
	msg.Timestamp = now
	if err := appendMessageTx(tx, t.ID, msg); err != nil {
		return nil, err
	}

	p.FollowUpCount = seq
	sentAt := now
	p.LastFollowUp = &sentAt
	// A reply that stopped follow-ups while the send was in flight keeps priority
	if p.FollowUpStatus == models.FollowUpActive && maxFollowUps > 0 && p.FollowUpCount >= maxFollowUps {
		p.FollowUpStatus = models.FollowUpCompleted
	}
	p.UpdatedAt = now
	if err := putJSON(tx.Bucket(bucketProspects), []byte(p.ID), p); err != nil {
		return nil, err
	}

	err = putJSON(tx.Bucket(bucketTouches), touchKey(prospectID, seq), &Touch{
		ProspectID: prospectID,
		Sequence:   seq,
		State:      TouchSent,
		ClaimedAt:  now,
		SentAt:     &sentAt,
		MessageID:  msg.ID,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetTouch returns the ledger entry for a sequence, or nil
func (s *BoltStore) GetTouch(ctx context.Context, prospectID string, seq int) (*Touch, error) {
	var t *Touch
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = getTouchTx(tx, prospectID, seq)
		return err
	})
	return t, err
}
