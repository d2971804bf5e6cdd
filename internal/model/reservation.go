package model

import (
	"errors"
	"strings"
	"time"
)

// Reservation lifecycle status.
const (
	StatusReserved  = "reserved"
	StatusBooked    = "booked"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Payment status.
const (
	PaymentIncluded = "included"
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentVoid     = "void"
)

// Payment provider.
const (
	ProviderIncluded     = "included"
	ProviderCard         = "card"
	ProviderBankTransfer = "bank_transfer"
)

// Attendance marks.
const (
	AttendanceUnknown = "unknown"
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceNoShow  = "no_show"
)

// CreditKind selects which ledger counter a reservation draws from.
type CreditKind string

const (
	CreditClass CreditKind = "class"
	CreditEvent CreditKind = "event"
)

// CreditKindFor maps a resource kind to the counter it consumes.
func CreditKindFor(k ResourceKind) CreditKind {
	if k == KindEvent {
		return CreditEvent
	}
	return CreditClass
}

// Guest is the identity bundle of a reservation holder without an account.
type Guest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

var (
	ErrHolderAmbiguous = errors.New("holder must be either a member or a guest, not both")
	ErrHolderMissing   = errors.New("holder must be a member or a guest")
)

// Holder is either a member id or a guest bundle, never both.  The zero
// value is invalid; build one with NewMemberHolder, NewGuestHolder or
// NewHolder.
type Holder struct {
	memberID uint64
	guest    *Guest
}

// NewMemberHolder returns a holder for an authenticated member.
func NewMemberHolder(memberID uint64) Holder { return Holder{memberID: memberID} }

// NewGuestHolder returns a holder for a guest.  The email is trimmed but
// not required here; the reservation engine enforces it.
func NewGuestHolder(g Guest) Holder {
	g.Email = strings.TrimSpace(g.Email)
	g.Name = strings.TrimSpace(g.Name)
	return Holder{guest: &g}
}

// NewHolder rejects the "both" and "neither" combinations.
func NewHolder(memberID *uint64, guest *Guest) (Holder, error) {
	switch {
	case memberID != nil && *memberID != 0 && guest != nil:
		return Holder{}, ErrHolderAmbiguous
	case memberID != nil && *memberID != 0:
		return NewMemberHolder(*memberID), nil
	case guest != nil:
		return NewGuestHolder(*guest), nil
	}
	return Holder{}, ErrHolderMissing
}

func (h Holder) IsGuest() bool   { return h.guest != nil }
func (h Holder) IsMember() bool  { return h.guest == nil && h.memberID != 0 }
func (h Holder) MemberID() uint64 { return h.memberID }

// Guest returns the guest bundle; ok is false for members.
func (h Holder) Guest() (Guest, bool) {
	if h.guest == nil {
		return Guest{}, false
	}
	return *h.guest, true
}

// Email returns the guest email, empty for members (the identity
// collaborator owns member contact details).
func (h Holder) Email() string {
	if h.guest == nil {
		return ""
	}
	return h.guest.Email
}

// Reservation is a holder's claim on quantity of an occurrence.
//
// Fields:
//   - Reference: opaque public id (uuid) used in payment metadata.
//   - Holder: member or guest.
//   - Quantity: places claimed; 1 for sessions.
//   - Status: reserved, booked, confirmed, cancelled or no_show.
//   - PaymentStatus: included, pending, paid or void.
//   - Provider: included, card or bank_transfer.
//   - IntentID: provider intent id while a payment exists.
//   - CreditKind: ledger counter debited, empty when none.
//   - CreditsUsed: amount debited from the ledger.
//   - AmountMinor: total charged in minor units.
type Reservation struct {
	ID            uint64     // reservations.id
	Reference     string     // reservations.reference
	Holder        Holder     // reservations.member_id / guest_* columns
	OccurrenceID  uint64     // reservations.occurrence_id
	Quantity      int        // reservations.quantity
	Status        string     // reservations.status
	PaymentStatus string     // reservations.payment_status
	Provider      string     // reservations.provider
	IntentID      *string    // reservations.intent_id (nullable)
	CreditKind    CreditKind // reservations.credit_kind
	CreditsUsed   int        // reservations.credits_used
	AmountMinor   int64      // reservations.amount_minor
	Currency      string     // reservations.currency
	Attendance    string     // reservations.attendance
	CreatedAt     time.Time  // reservations.created_at
	UpdatedAt     time.Time  // reservations.updated_at
	CancelledAt   *time.Time // reservations.cancelled_at (nullable)
}

// HoldsCapacity reports whether the reservation counts against capacity.
// Pending payments hold their places until they are paid, fail or expire.
func (r Reservation) HoldsCapacity() bool {
	return r.Status != StatusCancelled && r.Status != StatusNoShow
}

// IsActive is the uniqueness notion: booked or confirmed and funded.
func (r Reservation) IsActive() bool {
	return (r.Status == StatusBooked || r.Status == StatusConfirmed) &&
		(r.PaymentStatus == PaymentIncluded || r.PaymentStatus == PaymentPaid)
}

// IsTerminal reports cancelled or no_show.
func (r Reservation) IsTerminal() bool { return !r.HoldsCapacity() }

// Intent returns the intent id or "".
func (r Reservation) Intent() string {
	if r.IntentID == nil {
		return ""
	}
	return *r.IntentID
}

// ConfirmedStatusFor is the status a funded reservation takes: booked for
// sessions, confirmed for event tickets.
func ConfirmedStatusFor(k ResourceKind) string {
	if k == KindEvent {
		return StatusConfirmed
	}
	return StatusBooked
}

// PendingStatusFor is the status an unpaid reservation takes.
func PendingStatusFor(k ResourceKind) string {
	if k == KindEvent {
		return StatusReserved
	}
	return StatusBooked
}
