package review

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/foxzi/outreach/internal/models"
)

// EventPending is the event type published for new review items
const EventPending = "review.pending"

// Event is the AMQP message body announcing a review item
type Event struct {
	Type         string    `json:"type"`
	ReviewID     string    `json:"review_id"`
	ProspectID   string    `json:"prospect_id"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	OverallScore float64   `json:"overall_score"`
	Notes        []string  `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEvent builds the pending event for an item
func NewEvent(item *models.ReviewItem) Event {
	return Event{
		Type:         EventPending,
		ReviewID:     item.ID,
		ProspectID:   item.ProspectID,
		To:           item.To,
		Subject:      item.Subject,
		OverallScore: item.OverallScore,
		Notes:        item.Notes,
		CreatedAt:    item.CreatedAt,
	}
}

type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces review items on a durable AMQP queue
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// DialPublisher connects to the broker and declares the queue
func DialPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &Publisher{conn: conn, ch: ch, queue: q.Name}, nil
}

// Notify publishes a persistent review.pending message
func (p *Publisher) Notify(ctx context.Context, item *models.ReviewItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(NewEvent(item))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.ID,
		Type:         EventPending,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
