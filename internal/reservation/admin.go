package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

// ExpireResult reports an expiry run.  In dry-run mode Expired is 0 and
// Matched is what would have been expired.
type ExpireResult struct {
	Matched int      `json:"matched"`
	Expired int      `json:"expired"`
	IDs     []uint64 `json:"ids,omitempty"`
}

// ExpireStalePending cancels pending reservations older than olderThan
// and releases their places.  Each reservation is handled in its own
// transaction; one failure does not stop the batch.
func (e *Engine) ExpireStalePending(ctx context.Context, olderThan time.Duration, dryRun bool) (ExpireResult, error) {
	if olderThan <= 0 {
		return ExpireResult{}, fmt.Errorf("%w: age threshold must be positive", ErrValidation)
	}
	now := e.now()
	cutoff := now.Add(-olderThan)
	stale, err := e.store.ListStalePending(ctx, cutoff, 0)
	if err != nil {
		return ExpireResult{}, err
	}
	out := ExpireResult{Matched: len(stale)}
	if dryRun {
		for _, r := range stale {
			out.IDs = append(out.IDs, r.ID)
		}
		return out, nil
	}

	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var (
			occ model.Occurrence
			res model.Reservation
			s   settlement
		)
		err := e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			if occ, err = tx.LockOccurrence(ctx, r.OccurrenceID); err != nil {
				return err
			}
			if res, err = tx.LockReservation(ctx, r.ID); err != nil {
				return err
			}
			// Paid or cancelled since the scan.
			if res.PaymentStatus != model.PaymentPending || res.IsTerminal() || res.CreatedAt.After(cutoff) {
				return errSkip
			}
			s, err = release(ctx, tx, &res, model.StatusCancelled, now)
			return err
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			e.log.Error("expire reservation failed", slog.Uint64("reservation_id", r.ID), slog.Any("error", err))
			continue
		}
		e.settle(ctx, s)
		metrics.ReservationsCancelled.WithLabelValues(ReasonExpired).Inc()
		e.notifyCancelled(ctx, res, occ, ReasonExpired)
		out.Expired++
		out.IDs = append(out.IDs, res.ID)
	}
	e.log.Info("stale pending expiry finished", slog.Int("matched", out.Matched), slog.Int("expired", out.Expired))
	return out, nil
}

var errSkip = errors.New("skip")

// MarkAttendance records an attendance mark.  A no_show mark also moves
// the reservation to no_show, which releases its places; credits are not
// given back.  An unpaid checkout is voided and its intent cancelled.
func (e *Engine) MarkAttendance(ctx context.Context, id uint64, mark string) (model.Reservation, error) {
	switch mark {
	case model.AttendanceUnknown, model.AttendancePresent, model.AttendanceAbsent, model.AttendanceNoShow:
	default:
		return model.Reservation{}, fmt.Errorf("%w: unknown attendance mark %q", ErrValidation, mark)
	}
	cur, err := e.store.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}
	var (
		res model.Reservation
		s   settlement
	)
	now := e.now()
	err = e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		s = settlement{}
		if _, err := tx.LockOccurrence(ctx, cur.OccurrenceID); err != nil {
			return err
		}
		var err error
		if res, err = tx.LockReservation(ctx, id); err != nil {
			return err
		}
		if res.IsTerminal() {
			return ErrNotActive
		}
		res.Attendance = mark
		if mark != model.AttendanceNoShow {
			return tx.UpdateReservation(ctx, &res)
		}
		if res.PaymentStatus == model.PaymentPending {
			s, err = release(ctx, tx, &res, model.StatusNoShow, now)
			return err
		}
		res.Status = model.StatusNoShow
		return tx.UpdateReservation(ctx, &res)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	e.settle(ctx, s)
	return res, nil
}

// CancelOccurrence cancels an occurrence and every reservation still
// holding a place on it, regardless of the cutoff window.  Paid
// reservations are refunded and credits are given back.
func (e *Engine) CancelOccurrence(ctx context.Context, id uint64) (int, error) {
	now := e.now()
	var (
		occ       model.Occurrence
		cancelled []model.Reservation
		settles   []settlement
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cancelled, settles = nil, nil
		var err error
		occ, err = tx.LockOccurrence(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOccurrenceNotFound
		}
		if err != nil {
			return err
		}
		if !occ.IsScheduled() {
			return ErrInactive
		}
		holding, err := tx.ListHoldingReservations(ctx, id)
		if err != nil {
			return err
		}
		for _, r := range holding {
			s, err := release(ctx, tx, &r, model.StatusCancelled, now)
			if err != nil {
				return fmt.Errorf("release reservation %d: %w", r.ID, err)
			}
			cancelled = append(cancelled, r)
			settles = append(settles, s)
		}
		occ.Status = model.OccurrenceCancelled
		return tx.UpdateOccurrence(ctx, &occ)
	})
	if err != nil {
		return 0, err
	}
	for i, r := range cancelled {
		e.settle(ctx, settles[i])
		metrics.ReservationsCancelled.WithLabelValues(ReasonOccurrence).Inc()
		e.notifyCancelled(ctx, r, occ, ReasonOccurrence)
	}
	e.log.Info("occurrence cancelled", slog.Uint64("occurrence_id", id), slog.Int("reservations", len(cancelled)))
	return len(cancelled), nil
}

// OccurrencePatch carries admin overrides.  Nil fields are left alone.
type OccurrencePatch struct {
	Capacity   *int             `json:"capacity"`
	PriceMinor *int64           `json:"price_minor"`
	StartTime  *model.TimeOfDay `json:"start_time"`
	EndTime    *model.TimeOfDay `json:"end_time"`
}

// UpdateOccurrence applies overrides under the occurrence lock.  The
// capacity may not drop below the places already reserved.
func (e *Engine) UpdateOccurrence(ctx context.Context, id uint64, p OccurrencePatch) (model.Occurrence, error) {
	if p.Capacity != nil && *p.Capacity < 0 {
		return model.Occurrence{}, fmt.Errorf("%w: capacity must not be negative", ErrValidation)
	}
	if p.PriceMinor != nil && *p.PriceMinor < 0 {
		return model.Occurrence{}, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	var occ model.Occurrence
	err := e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		occ, err = tx.LockOccurrence(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOccurrenceNotFound
		}
		if err != nil {
			return err
		}
		if p.Capacity != nil {
			reserved, err := tx.ReservedQuantity(ctx, id)
			if err != nil {
				return err
			}
			if *p.Capacity < reserved {
				return fmt.Errorf("%w: %d places already reserved", ErrCapacityExceeded, reserved)
			}
			occ.CapacityOverride = p.Capacity
		}
		if p.PriceMinor != nil {
			occ.PriceOverride = p.PriceMinor
		}
		if p.StartTime != nil {
			occ.StartTime = *p.StartTime
		}
		if p.EndTime != nil {
			occ.EndTime = *p.EndTime
		}
		if !occ.StartTime.Before(occ.EndTime) {
			return fmt.Errorf("%w: end time must be after start time", ErrValidation)
		}
		return tx.UpdateOccurrence(ctx, &occ)
	})
	if err != nil {
		return model.Occurrence{}, err
	}
	return occ, nil
}
