// Package notify delivers reservation confirmations and cancellations.
// The API publishes messages to RabbitMQ; a consumer turns them into
// emails.
package notify

import (
	"context"
	"time"
)

// Queue names.  Routing key equals queue name on the default exchange.
const (
	QueueConfirmed = "reservation.confirmed"
	QueueCancelled = "reservation.cancelled"
)

// Message carries everything a sender needs without reading the store.
type Message struct {
	ReservationID uint64    `json:"reservation_id"`
	Reference     string    `json:"reference"`
	OccurrenceID  uint64    `json:"occurrence_id"`
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"starts_at"`
	MemberID      uint64    `json:"member_id,omitempty"`
	GuestName     string    `json:"guest_name,omitempty"`
	GuestEmail    string    `json:"guest_email,omitempty"`
	GuestPhone    string    `json:"guest_phone,omitempty"`
	Quantity      int       `json:"quantity"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	PaymentStatus string    `json:"payment_status"`
	// CancelToken lets a guest cancel without an account.
	CancelToken string    `json:"cancel_token,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier is told about reservation transitions.  Failures must never
// undo the transition, so callers log and carry on.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, m Message) error
	ReservationCancelled(ctx context.Context, m Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) ReservationConfirmed(context.Context, Message) error { return nil }
func (Nop) ReservationCancelled(context.Context, Message) error { return nil }
