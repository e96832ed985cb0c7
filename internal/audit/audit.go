// Package audit records what happened to an order and when. The log is
// append-only; failures to record are logged by callers but never abort
// the operation that produced the event.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventPaymentLinkCreated EventType = "PAYMENT_LINK_CREATED"
	EventPaymentReceived    EventType = "PAYMENT_RECEIVED"
	EventWebhookReceived    EventType = "WEBHOOK_RECEIVED"
)

type Event struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"type"`
	OrderID   string         `json:"order_id,omitempty"`
	VetID     string         `json:"vet_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewEvent(t EventType, orderID, vetID string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      t,
		OrderID:   orderID,
		VetID:     vetID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

type Log interface {
	Record(ctx context.Context, evt Event) error
}

// Memory keeps events in process, for development and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(ctx context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
