package ledger

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/repository/memory"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seedMembership(t *testing.T, store *memory.Store, m model.Membership) model.Membership {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertMembership(ctx, &m)
	}))
	return m
}

func active(memberID uint64, class, event int, starts time.Time) model.Membership {
	return model.Membership{
		MemberID: memberID, PlanID: 1,
		GrantedClass: class, GrantedEvent: event,
		RemainingClass: class, RemainingEvent: event,
		Status: model.MembershipActive, StartsAt: starts,
	}
}

func TestCanBookWithoutMembership(t *testing.T) {
	svc, err := NewService(memory.New(), clock)
	require.NoError(t, err)

	ok, reason, err := svc.CanBook(context.Background(), 7, model.CreditClass, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonNoMembership, reason)
}

func TestCanBookChecksKindSeparately(t *testing.T) {
	store := memory.New()
	seedMembership(t, store, active(7, 0, 2, now.Add(-time.Hour)))
	svc, _ := NewService(store, clock)
	ctx := context.Background()

	ok, reason, err := svc.CanBook(ctx, 7, model.CreditClass, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonNotEnough, reason)

	ok, _, err = svc.CanBook(ctx, 7, model.CreditEvent, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolutionPicksMostRecentUnexpiredEntry(t *testing.T) {
	store := memory.New()
	expired := active(7, 5, 0, now.Add(-48*time.Hour))
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past
	seedMembership(t, store, expired)
	older := seedMembership(t, store, active(7, 1, 0, now.Add(-24*time.Hour)))
	newer := seedMembership(t, store, active(7, 3, 0, now.Add(-2*time.Hour)))
	future := seedMembership(t, store, active(7, 9, 0, now.Add(time.Hour)))
	svc, _ := NewService(store, clock)

	m, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, m.ID)
	assert.NotEqual(t, older.ID, m.ID)
	assert.NotEqual(t, future.ID, m.ID)
}

func TestConsumeRejectsInsufficient(t *testing.T) {
	store := memory.New()
	seedMembership(t, store, active(7, 1, 0, now.Add(-time.Hour)))
	svc, _ := NewService(store, clock)

	_, err := svc.Consume(context.Background(), 7, model.CreditClass, 2, 100)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = svc.Consume(context.Background(), 8, model.CreditClass, 1, 100)
	assert.ErrorIs(t, err, repository.ErrNoActiveMembership)
}

func TestConsumeRestoreRoundTrip(t *testing.T) {
	store := memory.New()
	m := seedMembership(t, store, active(7, 4, 0, now.Add(-time.Hour)))
	svc, _ := NewService(store, clock)
	ctx := context.Background()

	after, err := svc.Consume(ctx, 7, model.CreditClass, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, after.RemainingClass)

	n, err := svc.Restore(ctx, 100, model.CreditClass)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := svc.Restore(ctx, 100, model.CreditClass)
	require.NoError(t, err)
	assert.Zero(t, again, "restore is idempotent")

	rep, err := svc.Audit(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent())
	assert.Equal(t, 4, rep.RemainingClass)

	usage, err := store.ListUsage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.True(t, usage[0].Reversed)
	assert.True(t, usage[1].Reversed)
}

func TestRestoreTargetsOriginatingEntry(t *testing.T) {
	store := memory.New()
	first := seedMembership(t, store, active(7, 2, 0, now.Add(-3*time.Hour)))
	svc, _ := NewService(store, clock)
	ctx := context.Background()

	_, err := svc.Consume(ctx, 7, model.CreditClass, 1, 100)
	require.NoError(t, err)
	// a newer entry arrives (plan change) before the cancellation
	seedMembership(t, store, active(7, 10, 0, now.Add(-time.Hour)))

	_, err = svc.Restore(ctx, 100, model.CreditClass)
	require.NoError(t, err)

	got, err := store.GetMembership(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RemainingClass)
}

func TestInvariantHoldsForRandomSequences(t *testing.T) {
	store := memory.New()
	m := seedMembership(t, store, active(7, 20, 10, now.Add(-time.Hour)))
	svc, _ := NewService(store, clock)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var open []uint64
	kindOf := map[uint64]model.CreditKind{}
	for i := 0; i < 200; i++ {
		if len(open) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(open))
			ref := open[idx]
			open = append(open[:idx], open[idx+1:]...)
			_, err := svc.Restore(ctx, ref, kindOf[ref])
			require.NoError(t, err)
			continue
		}
		ref := uint64(1000 + i)
		kind := model.CreditClass
		if rng.Intn(2) == 0 {
			kind = model.CreditEvent
		}
		_, err := svc.Consume(ctx, 7, kind, 1+rng.Intn(2), ref)
		if err == nil {
			open = append(open, ref)
			kindOf[ref] = kind
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredits)
		}
		rep, err := svc.Audit(ctx, m.ID)
		require.NoError(t, err)
		require.True(t, rep.Consistent(), "step %d: %+v", i, rep)
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil, clock)
	assert.ErrorIs(t, err, ErrInvalidServiceConfig)
}
