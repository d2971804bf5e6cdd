package handler

import (
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// reservationView is the JSON shape of a reservation.  Provider intent
// ids stay internal.
type reservationView struct {
	ID            uint64       `json:"id"`
	Reference     string       `json:"reference"`
	OccurrenceID  uint64       `json:"occurrence_id"`
	MemberID      uint64       `json:"member_id,omitempty"`
	Guest         *model.Guest `json:"guest,omitempty"`
	Quantity      int          `json:"quantity"`
	Status        string       `json:"status"`
	PaymentStatus string       `json:"payment_status"`
	Provider      string       `json:"provider"`
	CreditsUsed   int          `json:"credits_used"`
	AmountMinor   int64        `json:"amount_minor"`
	Currency      string       `json:"currency"`
	Attendance    string       `json:"attendance"`
	CreatedAt     time.Time    `json:"created_at"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
}

func newReservationView(r model.Reservation) reservationView {
	v := reservationView{
		ID:            r.ID,
		Reference:     r.Reference,
		OccurrenceID:  r.OccurrenceID,
		Quantity:      r.Quantity,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		Provider:      r.Provider,
		CreditsUsed:   r.CreditsUsed,
		AmountMinor:   r.AmountMinor,
		Currency:      r.Currency,
		Attendance:    r.Attendance,
		CreatedAt:     r.CreatedAt,
		CancelledAt:   r.CancelledAt,
	}
	if g, ok := r.Holder.Guest(); ok {
		v.Guest = &g
	} else {
		v.MemberID = r.Holder.MemberID()
	}
	return v
}

type outcomeView struct {
	Reservation  reservationView `json:"reservation"`
	ClientSecret string          `json:"client_secret,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	CancelToken  string          `json:"cancel_token,omitempty"`
}

func newOutcomeView(o reservation.Outcome) outcomeView {
	return outcomeView{
		Reservation:  newReservationView(o.Reservation),
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL,
		CancelToken:  o.CancelToken,
	}
}

type occurrenceView struct {
	ID           uint64             `json:"id"`
	ResourceID   uint64             `json:"resource_id"`
	RecurrenceID *uint64            `json:"recurrence_id,omitempty"`
	Title        string             `json:"title"`
	Kind         model.ResourceKind `json:"kind"`
	Category     string             `json:"category,omitempty"`
	Date         string             `json:"date"`
	StartTime    model.TimeOfDay    `json:"start_time"`
	EndTime      model.TimeOfDay    `json:"end_time"`
	Capacity     int                `json:"capacity"`
	PriceMinor   int64              `json:"price_minor"`
	Status       string             `json:"status"`
	Remaining    *int               `json:"remaining,omitempty"`
}

func newOccurrenceView(o model.Occurrence) occurrenceView {
	return occurrenceView{
		ID:           o.ID,
		ResourceID:   o.ResourceID,
		RecurrenceID: o.RecurrenceID,
		Title:        o.Title,
		Kind:         o.Kind,
		Category:     o.Category,
		Date:         o.Date.Format(dateLayout),
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		Capacity:     o.EffectiveCapacity(),
		PriceMinor:   o.EffectivePrice(),
		Status:       o.Status,
	}
}

func newAvailabilityView(a model.OccurrenceAvailability) occurrenceView {
	v := newOccurrenceView(a.Occurrence)
	n := a.Remaining()
	v.Remaining = &n
	return v
}

type membershipView struct {
	ID             uint64     `json:"id"`
	PlanID         uint64     `json:"plan_id"`
	Status         string     `json:"status"`
	RemainingClass int        `json:"remaining_class"`
	RemainingEvent int        `json:"remaining_event"`
	GrantedClass   int        `json:"granted_class"`
	GrantedEvent   int        `json:"granted_event"`
	StartsAt       time.Time  `json:"starts_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func newMembershipView(m model.Membership) membershipView {
	return membershipView{
		ID:             m.ID,
		PlanID:         m.PlanID,
		Status:         m.Status,
		RemainingClass: m.RemainingClass,
		RemainingEvent: m.RemainingEvent,
		GrantedClass:   m.GrantedClass,
		GrantedEvent:   m.GrantedEvent,
		StartsAt:       m.StartsAt,
		ExpiresAt:      m.ExpiresAt,
	}
}
