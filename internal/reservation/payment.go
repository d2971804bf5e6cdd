package reservation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/token"
)

// PaymentResult describes what ApplyPayment did.
type PaymentResult struct {
	Reservation model.Reservation
	// Changed is false when the reservation was already in the state the
	// outcome asks for, or past the point where it matters.
	Changed bool
	// Late is set when money arrived for a reservation that had already
	// been cancelled; the payment is refunded.
	Late bool
}

// ApplyPayment moves a pending reservation to paid or to cancelled/void
// from a provider outcome.  before runs first inside the same
// transaction; an error from it aborts the whole transition.
func (e *Engine) ApplyPayment(ctx context.Context, id uint64, paid bool, amountMinor int64, before repository.TxFunc) (PaymentResult, error) {
	cur, err := e.store.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return PaymentResult{}, ErrNotFound
	}
	if err != nil {
		return PaymentResult{}, err
	}

	now := e.now()
	var (
		out PaymentResult
		occ model.Occurrence
	)
	err = e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out = PaymentResult{}
		if before != nil {
			if err := before(ctx, tx); err != nil {
				return err
			}
		}
		var err error
		if occ, err = tx.LockOccurrence(ctx, cur.OccurrenceID); err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		out.Reservation = r

		if paid {
			switch {
			case r.PaymentStatus == model.PaymentPaid || r.PaymentStatus == model.PaymentIncluded:
				return nil
			case r.IsTerminal() || r.PaymentStatus != model.PaymentPending:
				out.Late = r.Intent() != ""
				return nil
			}
			r.PaymentStatus = model.PaymentPaid
			r.Status = model.ConfirmedStatusFor(occ.Kind)
			if err := tx.UpdateReservation(ctx, &r); err != nil {
				return err
			}
			out.Reservation, out.Changed = r, true
			return nil
		}

		if r.IsTerminal() || r.PaymentStatus != model.PaymentPending {
			return nil
		}
		// The provider already closed the intent, so there is nothing to
		// settle afterwards.
		if _, err := release(ctx, tx, &r, model.StatusCancelled, now); err != nil {
			return err
		}
		out.Reservation, out.Changed = r, true
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	res := out.Reservation
	switch {
	case out.Late:
		if amountMinor <= 0 {
			amountMinor = res.AmountMinor
		}
		e.log.Warn("payment arrived for closed reservation, refunding",
			slog.Uint64("reservation_id", res.ID),
			slog.String("intent_id", res.Intent()))
		e.settle(ctx, settlement{provider: res.Provider, intentID: res.Intent(), refund: amountMinor})
	case out.Changed && paid:
		var tok string
		if res.Holder.IsGuest() {
			if tok, err = e.tokens.Issue(token.KindReservation, res.ID); err != nil {
				e.log.Error("issue cancel token failed", slog.Uint64("reservation_id", res.ID), slog.Any("error", err))
			}
		}
		e.log.Info("reservation paid", slog.Uint64("reservation_id", res.ID))
		e.notifyConfirmed(ctx, res, occ, tok)
	case out.Changed:
		metrics.ReservationsCancelled.WithLabelValues(ReasonPayment).Inc()
		e.log.Info("reservation payment failed", slog.Uint64("reservation_id", res.ID))
		e.notifyCancelled(ctx, res, occ, ReasonPayment)
	}
	return out, nil
}
