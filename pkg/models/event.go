package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is one message on the durable log. Delivery is at-least-once:
// StreamID and DeliveryCount come from the log, everything else from the
// producer.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Tenant    string         `json:"tenant"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// StreamID is the log-assigned position, monotonic within its stream.
	StreamID string `json:"-"`
	// DeliveryCount is how many times the log has handed this message to a
	// consumer, including reclaims.
	DeliveryCount int64 `json:"-"`
}

func NewEvent(eventType, tenant string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Tenant:    tenant,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
