package model

import "time"

// Membership status.
const (
	MembershipActive    = "active"
	MembershipCancelled = "cancelled"
	MembershipExpired   = "expired"
)

// Membership purchase status.
const (
	PurchasePending   = "pending"
	PurchasePaid      = "paid"
	PurchaseCancelled = "cancelled"
)

// MembershipPlan is a sellable bundle of credits.
type MembershipPlan struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	PriceMinor   int64  `json:"price_minor"`
	ClassCredits int    `json:"class_credits"`
	EventCredits int    `json:"event_credits"`
	DurationDays int    `json:"duration_days"`
	Active       bool   `json:"active"`
}

// Membership is a member's credit ledger entry.  Remaining counters are
// a cache of Granted minus the non-reversed usage records.
type Membership struct {
	ID             uint64     // memberships.id
	MemberID       uint64     // memberships.member_id
	PlanID         uint64     // memberships.plan_id
	GrantedClass   int        // memberships.granted_class
	GrantedEvent   int        // memberships.granted_event
	RemainingClass int        // memberships.remaining_class
	RemainingEvent int        // memberships.remaining_event
	Status         string     // memberships.status
	StartsAt       time.Time  // memberships.starts_at
	ExpiresAt      *time.Time // memberships.expires_at (nullable)
	UpdatedAt      time.Time  // memberships.updated_at
}

// Remaining returns the counter for kind.
func (m Membership) Remaining(kind CreditKind) int {
	if kind == CreditEvent {
		return m.RemainingEvent
	}
	return m.RemainingClass
}

// Granted returns the granted amount for kind.
func (m Membership) Granted(kind CreditKind) int {
	if kind == CreditEvent {
		return m.GrantedEvent
	}
	return m.GrantedClass
}

// Adjust adds delta to the counter for kind.
func (m *Membership) Adjust(kind CreditKind, delta int) {
	if kind == CreditEvent {
		m.RemainingEvent += delta
		return
	}
	m.RemainingClass += delta
}

// ActiveAt reports whether the entry is usable at now.
func (m Membership) ActiveAt(now time.Time) bool {
	if m.Status != MembershipActive || m.StartsAt.After(now) {
		return false
	}
	return m.ExpiresAt == nil || !m.ExpiresAt.Before(now)
}

// UsageRecord is one append-only debit against a ledger entry.  A debit
// that has been given back is flagged Reversed and a reversal entry
// (Reversed=true from the start) is appended for the audit trail.
type UsageRecord struct {
	ID            uint64     // membership_usage.id
	MembershipID  uint64     // membership_usage.membership_id
	Kind          CreditKind // membership_usage.kind
	Amount        int        // membership_usage.amount
	ReservationID uint64     // membership_usage.reservation_id
	Reversed      bool       // membership_usage.reversed
	CreatedAt     time.Time  // membership_usage.created_at
}

// MembershipPurchase tracks a paid plan purchase through its intent.
type MembershipPurchase struct {
	ID          uint64    // membership_purchases.id
	MemberID    uint64    // membership_purchases.member_id
	PlanID      uint64    // membership_purchases.plan_id
	AmountMinor int64     // membership_purchases.amount_minor
	Currency    string    // membership_purchases.currency
	Status      string    // membership_purchases.status
	Provider    string    // membership_purchases.provider
	IntentID    *string   // membership_purchases.intent_id
	CreatedAt   time.Time // membership_purchases.created_at
}

// WebhookEvent is a journal row used to drop duplicate deliveries.
type WebhookEvent struct {
	Provider   string
	ExternalID string
	IntentID   string
	Outcome    string
	ReceivedAt time.Time
}
