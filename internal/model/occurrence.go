package model

import "time"

// ResourceKind separates class sessions (one place per booking, class
// credits) from event tickets (any quantity, event credits).
type ResourceKind string

const (
	KindSession ResourceKind = "session"
	KindEvent   ResourceKind = "event"
)

// OccurrenceStatus values.
const (
	OccurrenceScheduled = "scheduled"
	OccurrenceCancelled = "cancelled"
)

// Resource is a bookable offering (a fitness class, an event series).
// Occurrences inherit capacity and price from it unless overridden.
//
// Fields:
//   - Kind: session or event.
//   - Category: free-form filter used by the listing endpoint.
//   - DefaultCapacity: capacity inherited by occurrences.
//   - DefaultPrice: price in minor units inherited by occurrences.
type Resource struct {
	ID              uint64       // resources.id
	Name            string       // resources.name
	Kind            ResourceKind // resources.kind
	Category        string       // resources.category
	DefaultCapacity int          // resources.default_capacity
	DefaultPrice    int64        // resources.default_price_minor
	Active          bool         // resources.active
}

// Occurrence is a concrete, dated, capacity bounded slot.  At most one
// occurrence exists per (RecurrenceID, Date, StartTime); manually created
// occurrences have no RecurrenceID and are exempt.
type Occurrence struct {
	ID               uint64       // occurrences.id
	ResourceID       uint64       // occurrences.resource_id
	RecurrenceID     *uint64      // occurrences.recurrence_id (nullable)
	Date             time.Time    // occurrences.date
	StartTime        TimeOfDay    // occurrences.start_time
	EndTime          TimeOfDay    // occurrences.end_time
	CapacityOverride *int         // occurrences.capacity (nullable)
	PriceOverride    *int64       // occurrences.price_minor (nullable)
	Status           string       // occurrences.status
	CreatedAt        time.Time    // occurrences.created_at
	UpdatedAt        time.Time    // occurrences.updated_at

	// Joined from resources.
	Kind            ResourceKind
	Title           string
	Category        string
	DefaultCapacity int
	DefaultPrice    int64
}

// EffectiveCapacity returns the override when set, else the resource default.
func (o Occurrence) EffectiveCapacity() int {
	if o.CapacityOverride != nil {
		return *o.CapacityOverride
	}
	return o.DefaultCapacity
}

// EffectivePrice returns the price in minor units, override first.
func (o Occurrence) EffectivePrice() int64 {
	if o.PriceOverride != nil {
		return *o.PriceOverride
	}
	return o.DefaultPrice
}

// StartsAt is the UTC instant the occurrence begins.
func (o Occurrence) StartsAt() time.Time { return o.StartTime.On(o.Date) }

// IsScheduled reports whether the occurrence can take reservations.
func (o Occurrence) IsScheduled() bool { return o.Status == OccurrenceScheduled }

// OccurrenceAvailability is the listing projection of an occurrence.
type OccurrenceAvailability struct {
	Occurrence
	Reserved int
}

// Remaining never goes below zero even if capacity was lowered after booking.
func (a OccurrenceAvailability) Remaining() int {
	r := a.EffectiveCapacity() - a.Reserved
	if r < 0 {
		return 0
	}
	return r
}

// OccurrenceFilter narrows occurrence listings.
type OccurrenceFilter struct {
	From     time.Time
	To       time.Time
	Category string
	Kind     ResourceKind
}
