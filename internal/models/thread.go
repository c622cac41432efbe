package models

import "time"

// Direction of a thread message
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is a single email in a thread
type Message struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"thread_id"`
	Direction        Direction `json:"direction"`
	Subject          string    `json:"subject"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	IsFollowUp       bool      `json:"is_follow_up"`
	FollowUpSequence int       `json:"follow_up_sequence,omitempty"`
	ProviderID       string    `json:"provider_id,omitempty"`
	ProviderMsgID    string    `json:"provider_msg_id,omitempty"` // RFC 5322 Message-ID
	AutoResponse     bool      `json:"auto_response,omitempty"`
}

// Thread is the conversation between one prospect and one campaign
type Thread struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id"`
	CampaignID string    `json:"campaign_id"`
	Subject    string    `json:"subject"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Messages is filled on read, ordered oldest first
	Messages []Message `json:"-"`
}

// FirstOutbound returns the original (non follow-up) campaign email
func (t *Thread) FirstOutbound() *Message {
	for i := range t.Messages {
		m := &t.Messages[i]
		if m.Direction == DirectionSent && !m.IsFollowUp {
			return m
		}
	}
	return nil
}

// LastProviderMessageID returns the newest known Message-ID for reply headers
func (t *Thread) LastProviderMessageID() string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].ProviderMsgID != "" {
			return t.Messages[i].ProviderMsgID
		}
	}
	return ""
}

// References returns all known Message-IDs in order
func (t *Thread) References() []string {
	var refs []string
	for _, m := range t.Messages {
		if m.ProviderMsgID != "" {
			refs = append(refs, m.ProviderMsgID)
		}
	}
	return refs
}

// Recent returns the last n messages
func (t *Thread) Recent(n int) []Message {
	if n <= 0 || len(t.Messages) <= n {
		return t.Messages
	}
	return t.Messages[len(t.Messages)-n:]
}

// RawMessage is an inbound email as delivered by the mail transport
type RawMessage struct {
	ProviderID string            `json:"provider_id"`
	MessageID  string            `json:"message_id"`
	InReplyTo  string            `json:"in_reply_to,omitempty"`
	From       string            `json:"from"`
	FromName   string            `json:"from_name,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}
