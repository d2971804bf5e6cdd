// Package memory is an in-process implementation of repository.Store.  It
// serialises every transaction behind one mutex, which gives the same
// guarantees as row locks for a single process.  It backs STORE_DRIVER=memory
// for local runs and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

type state struct {
	nextID       uint64
	resources    map[uint64]model.Resource
	specs        map[uint64]model.RecurrenceSpec
	occurrences  map[uint64]model.Occurrence
	reservations map[uint64]model.Reservation
	memberships  map[uint64]model.Membership
	usage        map[uint64]model.UsageRecord
	plans        map[uint64]model.MembershipPlan
	purchases    map[uint64]model.MembershipPurchase
	journal      map[string]model.WebhookEvent
}

func newState() *state {
	return &state{
		resources:    map[uint64]model.Resource{},
		specs:        map[uint64]model.RecurrenceSpec{},
		occurrences:  map[uint64]model.Occurrence{},
		reservations: map[uint64]model.Reservation{},
		memberships:  map[uint64]model.Membership{},
		usage:        map[uint64]model.UsageRecord{},
		plans:        map[uint64]model.MembershipPlan{},
		purchases:    map[uint64]model.MembershipPurchase{},
		journal:      map[string]model.WebhookEvent{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		nextID:       s.nextID,
		resources:    cloneMap(s.resources),
		specs:        cloneMap(s.specs),
		occurrences:  cloneMap(s.occurrences),
		reservations: cloneMap(s.reservations),
		memberships:  cloneMap(s.memberships),
		usage:        cloneMap(s.usage),
		plans:        cloneMap(s.plans),
		purchases:    cloneMap(s.purchases),
		journal:      cloneMap(s.journal),
	}
}

func (s *state) id() uint64 {
	s.nextID++
	return s.nextID
}

// Store is the in-memory repository.Store.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

// WithTx runs fn against a copy of the state and swaps it in on success.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) read() (*tx, func()) {
	s.mu.RLock()
	return &tx{st: s.st, now: s.now}, s.mu.RUnlock
}

func (s *Store) GetOccurrence(ctx context.Context, id uint64) (model.Occurrence, error) {
	t, done := s.read()
	defer done()
	return t.occurrence(id)
}

func (s *Store) ListOccurrences(ctx context.Context, f model.OccurrenceFilter) ([]model.OccurrenceAvailability, error) {
	t, done := s.read()
	defer done()
	out := []model.OccurrenceAvailability{}
	for id := range t.st.occurrences {
		o, _ := t.occurrence(id)
		if !f.From.IsZero() && o.Date.Before(model.DateOf(f.From)) {
			continue
		}
		if !f.To.IsZero() && o.Date.After(model.DateOf(f.To)) {
			continue
		}
		if f.Category != "" && o.Category != f.Category {
			continue
		}
		if f.Kind != "" && o.Kind != f.Kind {
			continue
		}
		if !o.IsScheduled() {
			continue
		}
		n, _ := t.ReservedQuantity(ctx, id)
		out = append(out, model.OccurrenceAvailability{Occurrence: o, Reserved: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartsAt(), out[j].StartsAt()
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})
	return out, nil
}

func (s *Store) GetResource(ctx context.Context, id uint64) (model.Resource, error) {
	t, done := s.read()
	defer done()
	r, ok := t.st.resources[id]
	if !ok {
		return model.Resource{}, repository.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRecurrenceSpec(ctx context.Context, id uint64) (model.RecurrenceSpec, error) {
	t, done := s.read()
	defer done()
	sp, ok := t.st.specs[id]
	if !ok {
		return model.RecurrenceSpec{}, repository.ErrNotFound
	}
	return sp, nil
}

func (s *Store) ListRecurrenceSpecs(ctx context.Context, from, to time.Time) ([]model.RecurrenceSpec, error) {
	t, done := s.read()
	defer done()
	out := []model.RecurrenceSpec{}
	for _, sp := range t.st.specs {
		if !sp.Active || sp.StartDate.After(to) {
			continue
		}
		if sp.EndDate != nil && sp.EndDate.Before(from) {
			continue
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	t, done := s.read()
	defer done()
	return t.LockReservation(ctx, id)
}

func (s *Store) FindReservationByIntent(ctx context.Context, provider, intentID string) (model.Reservation, error) {
	t, done := s.read()
	defer done()
	for _, r := range t.st.reservations {
		if r.Provider == provider && r.Intent() == intentID {
			return r, nil
		}
	}
	return model.Reservation{}, repository.ErrNotFound
}

func (s *Store) ListReservationsByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error) {
	t, done := s.read()
	defer done()
	out := []model.Reservation{}
	for _, r := range t.st.reservations {
		if r.Holder.IsMember() && r.Holder.MemberID() == memberID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error) {
	t, done := s.read()
	defer done()
	out := []model.Reservation{}
	for _, r := range t.st.reservations {
		if r.PaymentStatus == model.PaymentPending && r.HoldsCapacity() && !r.CreatedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CurrentMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error) {
	t, done := s.read()
	defer done()
	return t.LockActiveMembership(ctx, memberID, now)
}

func (s *Store) GetMembership(ctx context.Context, id uint64) (model.Membership, error) {
	t, done := s.read()
	defer done()
	return t.LockMembership(ctx, id)
}

func (s *Store) ListUsage(ctx context.Context, membershipID uint64) ([]model.UsageRecord, error) {
	t, done := s.read()
	defer done()
	out := []model.UsageRecord{}
	for _, u := range t.st.usage {
		if u.MembershipID == membershipID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]model.MembershipPlan, error) {
	t, done := s.read()
	defer done()
	out := []model.MembershipPlan{}
	for _, p := range t.st.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMinor < out[j].PriceMinor })
	return out, nil
}

func (s *Store) GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error) {
	t, done := s.read()
	defer done()
	return t.GetPlan(ctx, id)
}

func (s *Store) FindPurchaseByIntent(ctx context.Context, provider, intentID string) (model.MembershipPurchase, error) {
	t, done := s.read()
	defer done()
	for _, p := range t.st.purchases {
		if p.Provider == provider && p.IntentID != nil && *p.IntentID == intentID {
			return p, nil
		}
	}
	return model.MembershipPurchase{}, repository.ErrNotFound
}
