package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

type tx struct {
	st  *state
	now func() time.Time
}

var _ repository.Tx = (*tx)(nil)

// occurrence joins the stored row with its resource.
func (t *tx) occurrence(id uint64) (model.Occurrence, error) {
	o, ok := t.st.occurrences[id]
	if !ok {
		return model.Occurrence{}, repository.ErrNotFound
	}
	if r, ok := t.st.resources[o.ResourceID]; ok {
		o.Kind = r.Kind
		o.Title = r.Name
		o.Category = r.Category
		o.DefaultCapacity = r.DefaultCapacity
		o.DefaultPrice = r.DefaultPrice
	}
	return o, nil
}

func (t *tx) InsertResource(ctx context.Context, r *model.Resource) error {
	r.ID = t.st.id()
	t.st.resources[r.ID] = *r
	return nil
}

func (t *tx) InsertRecurrenceSpec(ctx context.Context, s *model.RecurrenceSpec) error {
	if _, ok := t.st.resources[s.ResourceID]; !ok {
		return fmt.Errorf("resource %d: %w", s.ResourceID, repository.ErrNotFound)
	}
	s.ID = t.st.id()
	s.CreatedAt = t.now()
	t.st.specs[s.ID] = *s
	return nil
}

func (t *tx) InsertOccurrence(ctx context.Context, o *model.Occurrence) error {
	if _, ok := t.st.resources[o.ResourceID]; !ok {
		return fmt.Errorf("resource %d: %w", o.ResourceID, repository.ErrNotFound)
	}
	if o.RecurrenceID != nil {
		if exists, _ := t.OccurrenceExists(ctx, *o.RecurrenceID, o.Date, o.StartTime); exists {
			return repository.ErrConflict
		}
	}
	if o.Status == "" {
		o.Status = model.OccurrenceScheduled
	}
	o.ID = t.st.id()
	o.Date = model.DateOf(o.Date)
	o.CreatedAt = t.now()
	o.UpdatedAt = o.CreatedAt
	t.st.occurrences[o.ID] = *o
	joined, _ := t.occurrence(o.ID)
	*o = joined
	return nil
}

func (t *tx) InsertOccurrenceIfAbsent(ctx context.Context, o *model.Occurrence) (bool, error) {
	err := t.InsertOccurrence(ctx, o)
	if err == repository.ErrConflict {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) OccurrenceExists(ctx context.Context, recurrenceID uint64, date time.Time, start model.TimeOfDay) (bool, error) {
	d := model.DateOf(date)
	for _, o := range t.st.occurrences {
		if o.RecurrenceID != nil && *o.RecurrenceID == recurrenceID && o.Date.Equal(d) && o.StartTime == start {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) LockOccurrence(ctx context.Context, id uint64) (model.Occurrence, error) {
	return t.occurrence(id)
}

func (t *tx) UpdateOccurrence(ctx context.Context, o *model.Occurrence) error {
	cur, ok := t.st.occurrences[o.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Date = model.DateOf(o.Date)
	cur.StartTime = o.StartTime
	cur.EndTime = o.EndTime
	cur.CapacityOverride = o.CapacityOverride
	cur.PriceOverride = o.PriceOverride
	cur.Status = o.Status
	cur.UpdatedAt = t.now()
	t.st.occurrences[o.ID] = cur
	return nil
}

func (t *tx) ReservedQuantity(ctx context.Context, occurrenceID uint64) (int, error) {
	n := 0
	for _, r := range t.st.reservations {
		if r.OccurrenceID == occurrenceID && r.HoldsCapacity() {
			n += r.Quantity
		}
	}
	return n, nil
}

func (t *tx) activeConflict(r model.Reservation) bool {
	if !r.Holder.IsMember() || !r.IsActive() {
		return false
	}
	for _, o := range t.st.reservations {
		if o.ID != r.ID && o.OccurrenceID == r.OccurrenceID && o.IsActive() &&
			o.Holder.IsMember() && o.Holder.MemberID() == r.Holder.MemberID() {
			return true
		}
	}
	return false
}

func (t *tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if _, ok := t.st.occurrences[r.OccurrenceID]; !ok {
		return fmt.Errorf("occurrence %d: %w", r.OccurrenceID, repository.ErrNotFound)
	}
	if t.activeConflict(*r) {
		return repository.ErrConflict
	}
	r.ID = t.st.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	r.UpdatedAt = r.CreatedAt
	if r.Attendance == "" {
		r.Attendance = model.AttendanceUnknown
	}
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) DeleteReservation(ctx context.Context, id uint64) error {
	if _, ok := t.st.reservations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.st.reservations, id)
	return nil
}

func (t *tx) LockReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrNotFound
	}
	return r, nil
}

func (t *tx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; !ok {
		return repository.ErrNotFound
	}
	if t.activeConflict(*r) {
		return repository.ErrConflict
	}
	r.UpdatedAt = t.now()
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) ListHoldingReservations(ctx context.Context, occurrenceID uint64) ([]model.Reservation, error) {
	out := []model.Reservation{}
	for _, r := range t.st.reservations {
		if r.OccurrenceID == occurrenceID && r.HoldsCapacity() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) MemberHasActiveReservation(ctx context.Context, memberID, occurrenceID uint64) (bool, error) {
	for _, r := range t.st.reservations {
		if r.OccurrenceID == occurrenceID && r.HoldsCapacity() &&
			r.Holder.IsMember() && r.Holder.MemberID() == memberID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) LockActiveMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error) {
	var best *model.Membership
	for _, m := range t.st.memberships {
		m := m
		if m.MemberID != memberID || !m.ActiveAt(now) {
			continue
		}
		if best == nil || m.StartsAt.After(best.StartsAt) || (m.StartsAt.Equal(best.StartsAt) && m.ID > best.ID) {
			best = &m
		}
	}
	if best == nil {
		return model.Membership{}, repository.ErrNoActiveMembership
	}
	return *best, nil
}

func (t *tx) LockMembership(ctx context.Context, id uint64) (model.Membership, error) {
	m, ok := t.st.memberships[id]
	if !ok {
		return model.Membership{}, repository.ErrNotFound
	}
	return m, nil
}

func (t *tx) InsertMembership(ctx context.Context, m *model.Membership) error {
	m.ID = t.st.id()
	m.UpdatedAt = t.now()
	t.st.memberships[m.ID] = *m
	return nil
}

func (t *tx) UpdateMembership(ctx context.Context, m *model.Membership) error {
	if _, ok := t.st.memberships[m.ID]; !ok {
		return repository.ErrNotFound
	}
	m.UpdatedAt = t.now()
	t.st.memberships[m.ID] = *m
	return nil
}

func (t *tx) InsertUsage(ctx context.Context, u *model.UsageRecord) error {
	u.ID = t.st.id()
	u.CreatedAt = t.now()
	t.st.usage[u.ID] = *u
	return nil
}

func (t *tx) OpenUsage(ctx context.Context, reservationID uint64, kind model.CreditKind) ([]model.UsageRecord, error) {
	out := []model.UsageRecord{}
	for _, u := range t.st.usage {
		if u.ReservationID == reservationID && u.Kind == kind && !u.Reversed {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) MarkUsageReversed(ctx context.Context, id uint64) error {
	u, ok := t.st.usage[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Reversed = true
	t.st.usage[id] = u
	return nil
}

func (t *tx) InsertPlan(ctx context.Context, p *model.MembershipPlan) error {
	p.ID = t.st.id()
	t.st.plans[p.ID] = *p
	return nil
}

func (t *tx) GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error) {
	p, ok := t.st.plans[id]
	if !ok {
		return model.MembershipPlan{}, repository.ErrNotFound
	}
	return p, nil
}

func (t *tx) InsertPurchase(ctx context.Context, p *model.MembershipPurchase) error {
	p.ID = t.st.id()
	p.CreatedAt = t.now()
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *tx) UpdatePurchase(ctx context.Context, p *model.MembershipPurchase) error {
	if _, ok := t.st.purchases[p.ID]; !ok {
		return repository.ErrNotFound
	}
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *tx) DeletePurchase(ctx context.Context, id uint64) error {
	delete(t.st.purchases, id)
	return nil
}

func (t *tx) LockPurchase(ctx context.Context, id uint64) (model.MembershipPurchase, error) {
	p, ok := t.st.purchases[id]
	if !ok {
		return model.MembershipPurchase{}, repository.ErrNotFound
	}
	return p, nil
}

func (t *tx) RecordWebhookEvent(ctx context.Context, ev model.WebhookEvent) error {
	key := ev.Provider + "|" + ev.ExternalID
	if _, ok := t.st.journal[key]; ok {
		return repository.ErrEventAlreadyProcessed
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = t.now()
	}
	t.st.journal[key] = ev
	return nil
}
