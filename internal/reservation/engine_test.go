package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/notify/notifytest"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/payment/paymenttest"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/repository/memory"
	"github.com/iliyamo/studio-reservation/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock  *fakeClock
	store  *memory.Store
	card   *paymenttest.Gateway
	tokens *token.Service
	rec    *notifytest.Recorder
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		card:  paymenttest.New(model.ProviderCard),
		rec:   &notifytest.Recorder{},
	}
	f.store = memory.New(memory.WithClock(f.clock.Now))
	var err error
	f.tokens, err = token.NewService("test-secret", token.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.engine, err = New(f.store, payment.NewRegistry(model.ProviderCard, f.card), f.tokens,
		WithClock(f.clock.Now), WithNotifier(f.rec))
	require.NoError(t, err)
	return f
}

// occurrence seeds a resource and one occurrence starting at `at`.
func (f *fixture) occurrence(t *testing.T, kind model.ResourceKind, capacity int, price int64, at time.Time) model.Occurrence {
	t.Helper()
	var occ model.Occurrence
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		r := model.Resource{Name: "Pilates", Kind: kind, DefaultCapacity: capacity, DefaultPrice: price, Active: true}
		if err := tx.InsertResource(ctx, &r); err != nil {
			return err
		}
		occ = model.Occurrence{
			ResourceID: r.ID,
			Date:       model.DateOf(at),
			StartTime:  model.TimeOfDay{Hour: at.Hour(), Minute: at.Minute()},
			EndTime:    model.TimeOfDay{Hour: at.Hour() + 1, Minute: at.Minute()},
		}
		return tx.InsertOccurrence(ctx, &occ)
	}))
	return occ
}

func (f *fixture) membership(t *testing.T, memberID uint64, class, event int) model.Membership {
	t.Helper()
	m := model.Membership{
		MemberID: memberID, PlanID: 1,
		GrantedClass: class, GrantedEvent: event,
		RemainingClass: class, RemainingEvent: event,
		Status: model.MembershipActive, StartsAt: f.clock.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertMembership(ctx, &m)
	}))
	return m
}

func (f *fixture) tomorrow() time.Time { return f.clock.Now().Add(25 * time.Hour) }

func (f *fixture) reserved(t *testing.T, occID uint64) int {
	t.Helper()
	list, err := f.store.ListOccurrences(context.Background(), model.OccurrenceFilter{})
	require.NoError(t, err)
	for _, a := range list {
		if a.ID == occID {
			return a.Reserved
		}
	}
	t.Fatalf("occurrence %d not listed", occID)
	return 0
}

func guest() model.Holder {
	return model.NewGuestHolder(model.Guest{Name: "Ana", Email: "ana@example.com"})
}

func TestGuestsRaceForLastPlace(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 1, 0, f.tomorrow())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Reserve(context.Background(), ReserveRequest{Holder: guest(), OccurrenceID: occ.ID, Quantity: 1})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExceeded):
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, f.reserved(t, occ.ID))
}

func TestMemberWithoutCreditsPaysAndCancelVoids(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1500, f.tomorrow())
	m := f.membership(t, 7, 0, 0)
	ctx := context.Background()

	f.card.On("CreateIntent", mock.Anything, mock.MatchedBy(func(r payment.IntentRequest) bool {
		return r.AmountMinor == 1500 && r.Currency == "gbp" && r.Metadata["reservation_id"] != ""
	})).Return(payment.Intent{ID: "pi_1", ClientSecret: "cs_1"}, nil).Once()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, out.Reservation.PaymentStatus)
	assert.Equal(t, model.StatusBooked, out.Reservation.Status)
	assert.Equal(t, "pi_1", out.Reservation.Intent())
	assert.Equal(t, "cs_1", out.ClientSecret)
	assert.Empty(t, out.CancelToken)

	stored, err := f.store.GetReservation(ctx, out.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", stored.Intent())

	f.card.On("CancelIntent", mock.Anything, "pi_1").Return(nil).Once()
	res, err := f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Equal(t, model.PaymentVoid, res.PaymentStatus)

	usage, err := f.store.ListUsage(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, usage)
	after, err := f.store.GetMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.RemainingClass)
	assert.Equal(t, 0, f.reserved(t, occ.ID))
	f.card.AssertExpectations(t)
}

func TestCreditRoundTrip(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1200, f.tomorrow())
	m := f.membership(t, 7, 5, 0)
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentIncluded, out.Reservation.PaymentStatus)
	assert.Equal(t, model.StatusBooked, out.Reservation.Status)
	assert.Equal(t, model.CreditClass, out.Reservation.CreditKind)
	assert.Equal(t, 1, out.Reservation.CreditsUsed)

	mid, err := f.store.GetMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, mid.RemainingClass)

	_, err = f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, MemberID: 7})
	require.NoError(t, err)

	after, err := f.store.GetMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.RemainingClass)

	svc, err := ledger.NewService(f.store, f.clock.Now)
	require.NoError(t, err)
	rep, err := svc.Audit(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent())

	confirmed, cancelled := f.rec.Counts()
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, cancelled)
	f.card.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
}

func TestEventCreditsAreDebitedPerTicket(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindEvent, 10, 2000, f.tomorrow())
	m := f.membership(t, 7, 0, 3)

	out, err := f.engine.Reserve(context.Background(), ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, out.Reservation.Status)
	assert.Equal(t, model.CreditEvent, out.Reservation.CreditKind)

	after, err := f.store.GetMembership(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.RemainingEvent)
}

func TestReserveRejectsDuplicateMember(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1200, f.tomorrow())
	f.membership(t, 7, 5, 0)
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	require.NoError(t, err)
	_, err = f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
}

func TestReserveRejectsDuplicateWhilePaymentPending(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1200, f.tomorrow())
	ctx := context.Background()

	f.card.On("CreateIntent", mock.Anything, mock.Anything).Return(payment.Intent{ID: "pi_dup", ClientSecret: "cs"}, nil).Once()
	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(8), OccurrenceID: occ.ID})
	require.NoError(t, err)
	require.Equal(t, model.PaymentPending, out.Reservation.PaymentStatus)

	_, err = f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(8), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
	f.card.AssertExpectations(t)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	session := f.occurrence(t, model.KindSession, 10, 0, f.tomorrow())
	event := f.occurrence(t, model.KindEvent, 5, 0, f.tomorrow())
	past := f.occurrence(t, model.KindSession, 10, 0, f.clock.Now().Add(-2*time.Hour))
	ctx := context.Background()

	tests := []struct {
		name string
		req  ReserveRequest
		want error
	}{
		{"negative quantity", ReserveRequest{Holder: guest(), OccurrenceID: session.ID, Quantity: -1}, ErrValidation},
		{"session quantity above one", ReserveRequest{Holder: guest(), OccurrenceID: session.ID, Quantity: 2}, ErrValidation},
		{"guest without email", ReserveRequest{Holder: model.NewGuestHolder(model.Guest{Name: "x"}), OccurrenceID: session.ID}, ErrGuestEmailRequired},
		{"no holder", ReserveRequest{OccurrenceID: session.ID}, ErrValidation},
		{"unknown provider", ReserveRequest{Holder: guest(), OccurrenceID: session.ID, Provider: "cash"}, ErrValidation},
		{"unknown occurrence", ReserveRequest{Holder: guest(), OccurrenceID: 999}, ErrOccurrenceNotFound},
		{"past occurrence", ReserveRequest{Holder: guest(), OccurrenceID: past.ID}, ErrPastOccurrence},
		{"event over capacity", ReserveRequest{Holder: guest(), OccurrenceID: event.ID, Quantity: 6}, ErrCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reserve(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEventQuantityHoldsPlaces(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindEvent, 5, 0, f.tomorrow())
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, out.Reservation.Status)
	assert.NotEmpty(t, out.CancelToken)

	_, err = f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID, Quantity: 3})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 3, f.reserved(t, occ.ID))
}

func TestIntentFailureDeletesReservation(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1500, f.tomorrow())

	f.card.On("CreateIntent", mock.Anything, mock.Anything).
		Return(payment.Intent{}, payment.ErrGatewayUnavailable).Once()

	_, err := f.engine.Reserve(context.Background(), ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.Equal(t, 0, f.reserved(t, occ.ID))
	confirmed, _ := f.rec.Counts()
	assert.Zero(t, confirmed)
}

func TestUnconfiguredRailDeletesReservation(t *testing.T) {
	f := newFixture(t)
	f.card.Unconfigured = true
	occ := f.occurrence(t, model.KindSession, 10, 1500, f.tomorrow())

	_, err := f.engine.Reserve(context.Background(), ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.Equal(t, 0, f.reserved(t, occ.ID))
}

func TestGuestCancelNeedsValidToken(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 0, f.tomorrow())
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	require.NoError(t, err)
	other, err := f.tokens.Issue(token.KindReservation, out.Reservation.ID+1)
	require.NoError(t, err)

	for _, req := range []CancelRequest{
		{ReservationID: out.Reservation.ID},
		{ReservationID: out.Reservation.ID, Token: other},
		{ReservationID: out.Reservation.ID, MemberID: 7},
	} {
		_, err := f.engine.Cancel(ctx, req)
		assert.ErrorIs(t, err, ErrBadToken)
	}

	res, err := f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, Token: out.CancelToken})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)

	_, err = f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, Token: out.CancelToken})
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCancelHidesOtherMembersReservations(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1200, f.tomorrow())
	f.membership(t, 7, 5, 0)
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, MemberID: 8})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Cancel(ctx, CancelRequest{ReservationID: 999, MemberID: 7})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRefusedInsideCutoff(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 0, f.clock.Now().Add(3*time.Hour))
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	_, err = f.engine.Cancel(ctx, CancelRequest{ReservationID: out.Reservation.ID, Token: out.CancelToken})
	assert.ErrorIs(t, err, ErrWindowPassed)
	assert.Equal(t, 1, f.reserved(t, occ.ID))
}

func TestExpireStalePending(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1500, f.tomorrow())
	ctx := context.Background()

	f.card.On("CreateIntent", mock.Anything, mock.Anything).Return(payment.Intent{ID: "pi_9", ClientSecret: "cs"}, nil).Once()
	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	require.NoError(t, err)

	_, err = f.engine.ExpireStalePending(ctx, 0, false)
	assert.ErrorIs(t, err, ErrValidation)

	f.clock.Advance(10 * time.Minute)
	res, err := f.engine.ExpireStalePending(ctx, 30*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)

	f.clock.Advance(25 * time.Minute)
	res, err = f.engine.ExpireStalePending(ctx, 30*time.Minute, true)
	require.NoError(t, err)
	assert.Equal(t, ExpireResult{Matched: 1, IDs: []uint64{out.Reservation.ID}}, res)
	assert.Equal(t, 1, f.reserved(t, occ.ID))

	f.card.On("CancelIntent", mock.Anything, "pi_9").Return(nil).Once()
	res, err = f.engine.ExpireStalePending(ctx, 30*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 0, f.reserved(t, occ.ID))

	stored, err := f.store.GetReservation(ctx, out.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentVoid, stored.PaymentStatus)
	_, cancelled := f.rec.Counts()
	assert.Equal(t, 1, cancelled)
	f.card.AssertExpectations(t)
}

func TestCancelOccurrenceSettlesEveryReservation(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 10, 1500, f.tomorrow())
	m := f.membership(t, 7, 5, 0)
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, ReserveRequest{Holder: model.NewMemberHolder(7), OccurrenceID: occ.ID})
	require.NoError(t, err)

	f.card.On("CreateIntent", mock.Anything, mock.Anything).Return(payment.Intent{ID: "pi_2", ClientSecret: "cs"}, nil).Once()
	paid, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.LockReservation(ctx, paid.Reservation.ID)
		if err != nil {
			return err
		}
		r.PaymentStatus = model.PaymentPaid
		return tx.UpdateReservation(ctx, &r)
	}))

	f.card.On("RefundIntent", mock.Anything, "pi_2", int64(1500)).Return(nil).Once()
	n, err := f.engine.CancelOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after, err := f.store.GetMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.RemainingClass)

	got, err := f.store.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OccurrenceCancelled, got.Status)

	_, err = f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, ErrInactive)
	f.card.AssertExpectations(t)
}

func TestUpdateOccurrenceKeepsCapacityAboveReserved(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindEvent, 10, 0, f.tomorrow())
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID, Quantity: 4})
	require.NoError(t, err)

	three := 3
	_, err = f.engine.UpdateOccurrence(ctx, occ.ID, OccurrencePatch{Capacity: &three})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	four := 4
	got, err := f.engine.UpdateOccurrence(ctx, occ.ID, OccurrencePatch{Capacity: &four})
	require.NoError(t, err)
	assert.Equal(t, 4, got.EffectiveCapacity())

	_, err = f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestNoShowReleasesPlace(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 1, 0, f.tomorrow())
	ctx := context.Background()

	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID})
	require.NoError(t, err)

	_, err = f.engine.MarkAttendance(ctx, out.Reservation.ID, "late")
	assert.ErrorIs(t, err, ErrValidation)

	res, err := f.engine.MarkAttendance(ctx, out.Reservation.ID, model.AttendanceNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, res.Status)
	assert.Equal(t, 0, f.reserved(t, occ.ID))

	_, err = f.engine.MarkAttendance(ctx, out.Reservation.ID, model.AttendancePresent)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestNoShowOnUnpaidCheckoutVoidsIntent(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 4, 1500, f.tomorrow())
	ctx := context.Background()

	f.card.On("CreateIntent", mock.Anything, mock.Anything).Return(payment.Intent{ID: "pi_ns", ClientSecret: "cs"}, nil).Once()
	out, err := f.engine.Reserve(ctx, ReserveRequest{Holder: guest(), OccurrenceID: occ.ID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, model.PaymentPending, out.Reservation.PaymentStatus)
	assert.Equal(t, 2, f.reserved(t, occ.ID))

	f.card.On("CancelIntent", mock.Anything, "pi_ns").Return(nil).Once()
	res, err := f.engine.MarkAttendance(ctx, out.Reservation.ID, model.AttendanceNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, res.Status)
	assert.Equal(t, model.AttendanceNoShow, res.Attendance)
	assert.Equal(t, model.PaymentVoid, res.PaymentStatus)

	stored, err := f.store.GetReservation(ctx, out.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentVoid, stored.PaymentStatus)
	assert.Equal(t, 0, f.reserved(t, occ.ID))
	f.card.AssertExpectations(t)
	f.card.AssertNotCalled(t, "RefundIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmationCarriesGuestPhone(t *testing.T) {
	f := newFixture(t)
	occ := f.occurrence(t, model.KindSession, 4, 0, f.tomorrow())
	holder := model.NewGuestHolder(model.Guest{Name: "Ana", Email: "ana@example.com", Phone: "+447700900123"})

	_, err := f.engine.Reserve(context.Background(), ReserveRequest{Holder: holder, OccurrenceID: occ.ID})
	require.NoError(t, err)
	require.Len(t, f.rec.Confirmed, 1)
	assert.Equal(t, "+447700900123", f.rec.Confirmed[0].GuestPhone)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, payment.NewRegistry(""), nil)
	assert.ErrorIs(t, err, ErrInvalidServiceConfig)
}
