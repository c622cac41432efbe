package models

import "time"

// VerificationStatus is the verdict of the response verifier
type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationApproved    VerificationStatus = "approved"
	VerificationNeedsReview VerificationStatus = "needs_review"
	VerificationRejected    VerificationStatus = "rejected"
)

// Verification score weights
const (
	WeightContext         = 0.25
	WeightIntent          = 0.25
	WeightQuality         = 0.20
	WeightPersonalization = 0.15
	WeightTone            = 0.15
)

// Verdict thresholds
const (
	ApproveThreshold = 0.75
	ReviewThreshold  = 0.5
)

// Scores holds the per-axis verification scores, each in [0,1]
type Scores struct {
	ContextAlignment float64 `json:"context_alignment"`
	IntentAccuracy   float64 `json:"intent_accuracy"`
	ContentQuality   float64 `json:"content_quality"`
	Personalization  float64 `json:"personalization"`
	Tone             float64 `json:"tone"`
}

// Overall returns the fixed weighted sum of the axes
func (s Scores) Overall() float64 {
	return WeightContext*s.ContextAlignment +
		WeightIntent*s.IntentAccuracy +
		WeightQuality*s.ContentQuality +
		WeightPersonalization*s.Personalization +
		WeightTone*s.Tone
}

// StatusFor maps an overall score to a verdict
func StatusFor(overall float64) VerificationStatus {
	switch {
	case overall >= ApproveThreshold:
		return VerificationApproved
	case overall >= ReviewThreshold:
		return VerificationNeedsReview
	default:
		return VerificationRejected
	}
}

// Verification is the persisted outcome of verifying a generated reply
type Verification struct {
	ID               string             `json:"id"`
	MessageID        string             `json:"message_id"` // inbound message being answered
	ProspectID       string             `json:"prospect_id"`
	Scores           Scores             `json:"scores"`
	OverallScore     float64            `json:"overall_score"`
	Status           VerificationStatus `json:"status"`
	Notes            []string           `json:"notes,omitempty"`
	SuggestedChanges string             `json:"suggested_changes,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// ReviewStatus is the state of a manual review item
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewDiscard  ReviewStatus = "discarded"
)

// ReviewItem is a generated reply waiting for a human decision
type ReviewItem struct {
	ID             string       `json:"id"`
	ProspectID     string       `json:"prospect_id"`
	ThreadID       string       `json:"thread_id"`
	ProviderID     string       `json:"provider_id"`
	To             string       `json:"to"`
	Subject        string       `json:"subject"`
	Content        string       `json:"content"`
	VerificationID string       `json:"verification_id"`
	OverallScore   float64      `json:"overall_score"`
	Notes          []string     `json:"notes,omitempty"`
	Status         ReviewStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}
