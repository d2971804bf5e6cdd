package repository

import (
	"context"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// Store is the persistence boundary used by the domain packages.  Reads
// outside WithTx take no locks; everything that informs a write goes
// through a Tx.
type Store interface {
	// WithTx runs fn in a transaction.  The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOccurrence(ctx context.Context, id uint64) (model.Occurrence, error)
	ListOccurrences(ctx context.Context, f model.OccurrenceFilter) ([]model.OccurrenceAvailability, error)
	GetResource(ctx context.Context, id uint64) (model.Resource, error)
	GetRecurrenceSpec(ctx context.Context, id uint64) (model.RecurrenceSpec, error)
	// ListRecurrenceSpecs returns active specs whose date range overlaps [from, to].
	ListRecurrenceSpecs(ctx context.Context, from, to time.Time) ([]model.RecurrenceSpec, error)

	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	FindReservationByIntent(ctx context.Context, provider, intentID string) (model.Reservation, error)
	ListReservationsByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error)
	// ListStalePending returns pending reservations created at or before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error)

	CurrentMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error)
	GetMembership(ctx context.Context, id uint64) (model.Membership, error)
	ListUsage(ctx context.Context, membershipID uint64) ([]model.UsageRecord, error)
	ListPlans(ctx context.Context) ([]model.MembershipPlan, error)
	GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error)
	FindPurchaseByIntent(ctx context.Context, provider, intentID string) (model.MembershipPurchase, error)

	Close() error
}

// TxFunc runs inside another component's transaction, such as the
// webhook journal write that must commit with the transition it guards.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx groups the transactional operations.  Lock order is occurrence,
// then reservation, then membership.
type Tx interface {
	CatalogTx
	ReservationTx
	LedgerTx
	PurchaseTx
	JournalTx
}

// CatalogTx covers resources, recurrence specs and occurrences.
type CatalogTx interface {
	InsertResource(ctx context.Context, r *model.Resource) error
	InsertRecurrenceSpec(ctx context.Context, s *model.RecurrenceSpec) error
	InsertOccurrence(ctx context.Context, o *model.Occurrence) error
	// InsertOccurrenceIfAbsent creates o unless an occurrence with the same
	// (recurrence, date, start time) exists.  created is false on a skip.
	InsertOccurrenceIfAbsent(ctx context.Context, o *model.Occurrence) (created bool, err error)
	OccurrenceExists(ctx context.Context, recurrenceID uint64, date time.Time, start model.TimeOfDay) (bool, error)
	// LockOccurrence reads the occurrence with SELECT ... FOR UPDATE.
	LockOccurrence(ctx context.Context, id uint64) (model.Occurrence, error)
	UpdateOccurrence(ctx context.Context, o *model.Occurrence) error
	// ReservedQuantity sums quantity over reservations holding capacity.
	ReservedQuantity(ctx context.Context, occurrenceID uint64) (int, error)
}

// ReservationTx covers reservation rows.
type ReservationTx interface {
	InsertReservation(ctx context.Context, r *model.Reservation) error
	DeleteReservation(ctx context.Context, id uint64) error
	LockReservation(ctx context.Context, id uint64) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	// ListHoldingReservations locks the reservations of an occurrence that
	// still hold capacity.
	ListHoldingReservations(ctx context.Context, occurrenceID uint64) ([]model.Reservation, error)
	MemberHasActiveReservation(ctx context.Context, memberID, occurrenceID uint64) (bool, error)
}

// LedgerTx covers memberships and their usage log.
type LedgerTx interface {
	// LockActiveMembership returns the most recently started active entry
	// whose window covers now, locked.  ErrNoActiveMembership otherwise.
	LockActiveMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error)
	LockMembership(ctx context.Context, id uint64) (model.Membership, error)
	InsertMembership(ctx context.Context, m *model.Membership) error
	UpdateMembership(ctx context.Context, m *model.Membership) error
	InsertUsage(ctx context.Context, u *model.UsageRecord) error
	// OpenUsage lists non-reversed debits recorded for a reservation.
	OpenUsage(ctx context.Context, reservationID uint64, kind model.CreditKind) ([]model.UsageRecord, error)
	MarkUsageReversed(ctx context.Context, id uint64) error
}

// PurchaseTx covers membership purchases.
type PurchaseTx interface {
	InsertPlan(ctx context.Context, p *model.MembershipPlan) error
	// GetPlan reads a plan on the transaction's own connection.
	GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error)
	InsertPurchase(ctx context.Context, p *model.MembershipPurchase) error
	UpdatePurchase(ctx context.Context, p *model.MembershipPurchase) error
	DeletePurchase(ctx context.Context, id uint64) error
	LockPurchase(ctx context.Context, id uint64) (model.MembershipPurchase, error)
}

// JournalTx records processed webhook events.
type JournalTx interface {
	// RecordWebhookEvent returns ErrEventAlreadyProcessed when the
	// (provider, external id) pair was seen before.
	RecordWebhookEvent(ctx context.Context, ev model.WebhookEvent) error
}
