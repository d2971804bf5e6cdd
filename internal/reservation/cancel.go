package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/token"
)

// Cancellation reasons carried on notifications and metrics.
const (
	ReasonHolder     = "holder"
	ReasonExpired    = "expired"
	ReasonOccurrence = "occurrence_cancelled"
	ReasonPayment    = "payment_failed"
)

// CancelRequest identifies the caller of a cancellation.  Members pass
// their id; guests pass the token they were given at reservation time.
type CancelRequest struct {
	ReservationID uint64
	MemberID      uint64
	Token         string
}

// settlement is the provider follow-up of a cancelled reservation, run
// after the local transaction commits.
type settlement struct {
	provider string
	intentID string
	refund   int64
	void     bool
}

// release applies the cancellation bookkeeping to a locked reservation.
// The caller holds the occurrence lock.
func release(ctx context.Context, tx repository.Tx, r *model.Reservation, status string, now time.Time) (settlement, error) {
	s := settlement{provider: r.Provider, intentID: r.Intent()}
	switch r.PaymentStatus {
	case model.PaymentPending:
		r.PaymentStatus = model.PaymentVoid
		s.void = s.intentID != ""
	case model.PaymentPaid:
		r.PaymentStatus = model.PaymentVoid
		s.refund = r.AmountMinor
	}
	if r.CreditsUsed > 0 && r.CreditKind != "" {
		if _, err := ledger.Restore(ctx, tx, r.ID, r.CreditKind); err != nil {
			return settlement{}, err
		}
	}
	r.Status = status
	r.CancelledAt = &now
	return s, tx.UpdateReservation(ctx, r)
}

// settle talks to the provider once the local state is durable.  Errors
// are logged and swallowed.
func (e *Engine) settle(ctx context.Context, s settlement) {
	if s.intentID == "" || (!s.void && s.refund <= 0) {
		return
	}
	gw, ok := e.gateways.Lookup(s.provider)
	if !ok {
		e.log.Warn("no rail for settlement", slog.String("provider", s.provider), slog.String("intent_id", s.intentID))
		return
	}
	ctx = context.WithoutCancel(ctx)
	if s.refund > 0 {
		payment.RefundBestEffort(ctx, gw, s.intentID, s.refund, e.log)
		return
	}
	payment.CancelBestEffort(ctx, gw, s.intentID, e.log)
}

// authorize checks the caller owns the reservation.  Members asking for
// someone else's reservation get ErrNotFound so existence is not
// revealed.
func (e *Engine) authorize(res model.Reservation, req CancelRequest) error {
	if res.Holder.IsMember() {
		if req.MemberID == 0 || req.MemberID != res.Holder.MemberID() {
			return ErrNotFound
		}
		return nil
	}
	if req.Token == "" || !e.tokens.Verify(req.Token, token.KindReservation, res.ID) {
		return ErrBadToken
	}
	return nil
}

// Cancel cancels a reservation on behalf of its holder.  It refuses once
// the occurrence is within the cutoff window.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (model.Reservation, error) {
	res, err := e.store.GetReservation(ctx, req.ReservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}
	if err := e.authorize(res, req); err != nil {
		return model.Reservation{}, err
	}

	now := e.now()
	var (
		occ model.Occurrence
		s   settlement
	)
	err = e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		occ, err = tx.LockOccurrence(ctx, res.OccurrenceID)
		if err != nil {
			return err
		}
		res, err = tx.LockReservation(ctx, req.ReservationID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if res.IsTerminal() {
			return ErrNotActive
		}
		if now.After(occ.StartsAt().Add(-e.cutoff)) {
			return ErrWindowPassed
		}
		s, err = release(ctx, tx, &res, model.StatusCancelled, now)
		return err
	})
	if err != nil {
		return model.Reservation{}, err
	}

	e.settle(ctx, s)
	metrics.ReservationsCancelled.WithLabelValues(ReasonHolder).Inc()
	e.log.Info("reservation cancelled", slog.Uint64("reservation_id", res.ID), slog.String("payment_status", res.PaymentStatus))
	e.notifyCancelled(ctx, res, occ, ReasonHolder)
	return res, nil
}
