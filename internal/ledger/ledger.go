// Package ledger keeps a member's prepaid class and event credits.  The
// counters on a membership are a cache; the usage log is the audit source.
// Every debit appends a usage record, and giving a debit back flags that
// record as reversed and appends a reversal entry, so
//
//	remaining == granted - sum(amount of non-reversed records)
//
// holds for each kind after any sequence of operations.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrInvalidAmount        = errors.New("credit amount must be positive")
	ErrInvalidServiceConfig = errors.New("invalid ledger service configuration")
)

// Reasons reported by CanBook.
const (
	ReasonNoMembership = "No active membership"
	ReasonNotEnough    = "Not enough credits remaining"
)

// CanBook reports whether the member's active entry has n credits of
// kind.  The entry is read with a row lock so a concurrent debit cannot
// observe the same balance.
func CanBook(ctx context.Context, tx repository.LedgerTx, memberID uint64, kind model.CreditKind, n int, now time.Time) (bool, string, error) {
	if n <= 0 {
		return false, "", ErrInvalidAmount
	}
	m, err := tx.LockActiveMembership(ctx, memberID, now)
	if errors.Is(err, repository.ErrNoActiveMembership) {
		return false, ReasonNoMembership, nil
	}
	if err != nil {
		return false, "", err
	}
	if m.Remaining(kind) < n {
		return false, ReasonNotEnough, nil
	}
	return true, "", nil
}

// Consume debits n credits of kind for reservationID.  The balance is
// re-checked under the lock.
func Consume(ctx context.Context, tx repository.LedgerTx, memberID uint64, kind model.CreditKind, n int, reservationID uint64, now time.Time) (model.Membership, error) {
	if n <= 0 {
		return model.Membership{}, ErrInvalidAmount
	}
	m, err := tx.LockActiveMembership(ctx, memberID, now)
	if err != nil {
		return model.Membership{}, err
	}
	if m.Remaining(kind) < n {
		return model.Membership{}, ErrInsufficientCredits
	}
	m.Adjust(kind, -n)
	if err := tx.UpdateMembership(ctx, &m); err != nil {
		return model.Membership{}, fmt.Errorf("update membership %d: %w", m.ID, err)
	}
	u := model.UsageRecord{MembershipID: m.ID, Kind: kind, Amount: n, ReservationID: reservationID}
	if err := tx.InsertUsage(ctx, &u); err != nil {
		return model.Membership{}, fmt.Errorf("append usage: %w", err)
	}
	return m, nil
}

// Restore gives back every open debit of kind recorded for reservationID
// to the entry it was taken from, and returns the amount restored.  A
// second call finds nothing open and restores 0.
func Restore(ctx context.Context, tx repository.LedgerTx, reservationID uint64, kind model.CreditKind) (int, error) {
	open, err := tx.OpenUsage(ctx, reservationID, kind)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, u := range open {
		m, err := tx.LockMembership(ctx, u.MembershipID)
		if err != nil {
			return restored, fmt.Errorf("lock membership %d: %w", u.MembershipID, err)
		}
		m.Adjust(kind, u.Amount)
		if err := tx.UpdateMembership(ctx, &m); err != nil {
			return restored, err
		}
		if err := tx.MarkUsageReversed(ctx, u.ID); err != nil {
			return restored, err
		}
		rev := model.UsageRecord{MembershipID: m.ID, Kind: kind, Amount: u.Amount, ReservationID: reservationID, Reversed: true}
		if err := tx.InsertUsage(ctx, &rev); err != nil {
			return restored, err
		}
		restored += u.Amount
	}
	return restored, nil
}
