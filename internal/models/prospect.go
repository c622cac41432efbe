package models

import (
	"strings"
	"time"
)

// FollowUpStatus is the follow-up state of a prospect
type FollowUpStatus string

const (
	FollowUpActive    FollowUpStatus = "active"
	FollowUpStopped   FollowUpStatus = "stopped"
	FollowUpCompleted FollowUpStatus = "completed"
)

// ResponseType records how a prospect answered
type ResponseType string

const (
	ResponseNone      ResponseType = "none"
	ResponseAutoReply ResponseType = "auto_reply"
	ResponseManual    ResponseType = "manual"
)

// Prospect represents a contact enrolled in a campaign
type Prospect struct {
	ID         string `json:"id" yaml:"id"`
	CampaignID string `json:"campaign_id" yaml:"campaign_id"`
	Email      string `json:"email" yaml:"email"`
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	Company    string `json:"company,omitempty" yaml:"company,omitempty"`
	Industry   string `json:"industry,omitempty" yaml:"industry,omitempty"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
	ProviderID string `json:"provider_id" yaml:"provider_id"` // mailbox the campaign was sent from

	FollowUpStatus FollowUpStatus `json:"follow_up_status" yaml:"follow_up_status,omitempty"`
	FollowUpCount  int            `json:"follow_up_count" yaml:"follow_up_count,omitempty"`
	LastContact    *time.Time     `json:"last_contact,omitempty" yaml:"last_contact,omitempty"`
	LastFollowUp   *time.Time     `json:"last_follow_up,omitempty" yaml:"last_follow_up,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty" yaml:"responded_at,omitempty"`
	ResponseType   ResponseType   `json:"response_type" yaml:"response_type,omitempty"`
	StopReason     string         `json:"stop_reason,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// FullName returns first and last name joined
func (p *Prospect) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// LastTouch returns the most recent outbound contact time
func (p *Prospect) LastTouch() *time.Time {
	if p.LastFollowUp != nil {
		return p.LastFollowUp
	}
	return p.LastContact
}

// HasGenuineReply reports whether a human reply has been recorded
func (p *Prospect) HasGenuineReply() bool {
	return p.RespondedAt != nil && p.ResponseType == ResponseManual
}

// Variables returns placeholder values used to personalize templates
func (p *Prospect) Variables() map[string]string {
	return map[string]string{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"name":       p.FullName(),
		"email":      p.Email,
		"company":    p.Company,
		"industry":   p.Industry,
		"title":      p.Title,
		"location":   p.Location,
	}
}
