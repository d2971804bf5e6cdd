// Package reconcile applies verified provider callbacks to reservations
// and membership purchases exactly once.  Each event is journaled by
// (provider, event id) in the same transaction as the transition it
// triggers, so a redelivered event is acknowledged without side effects.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// Result says how an event was handled.  Every result is acknowledged
// to the provider.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultNoop      Result = "noop"
	ResultDuplicate Result = "duplicate"
	ResultUnmatched Result = "unmatched"
	ResultIgnored   Result = "ignored"
	ResultRefunded  Result = "refunded"
)

// Reservations applies payment outcomes.  *reservation.Engine satisfies it.
type Reservations interface {
	ApplyPayment(ctx context.Context, id uint64, paid bool, amountMinor int64, before repository.TxFunc) (reservation.PaymentResult, error)
}

// Purchases applies payment outcomes to membership purchases.
// *membership.Service satisfies it.
type Purchases interface {
	ApplyPayment(ctx context.Context, purchaseID uint64, paid bool, before repository.TxFunc) (bool, error)
}

// Handler routes normalized events.
type Handler struct {
	store        repository.Store
	reservations Reservations
	purchases    Purchases
	log          *slog.Logger
}

// NewHandler wires a Handler.  purchases may be nil when memberships are
// not sold.
func NewHandler(store repository.Store, reservations Reservations, purchases Purchases, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, reservations: reservations, purchases: purchases, log: log}
}

// Handle applies ev.  An error means the event could not be stored and
// the provider should retry.
func (h *Handler) Handle(ctx context.Context, ev payment.NormalizedEvent) (Result, error) {
	res, err := h.handle(ctx, ev)
	label := string(res)
	if err != nil {
		label = "error"
	}
	metrics.WebhookEvents.WithLabelValues(ev.Provider, label).Inc()
	return res, err
}

func (h *Handler) handle(ctx context.Context, ev payment.NormalizedEvent) (Result, error) {
	log := h.log.With(
		slog.String("provider", ev.Provider),
		slog.String("event_id", ev.EventID),
		slog.String("intent_id", ev.IntentID),
		slog.String("outcome", string(ev.Outcome)),
	)
	if ev.Outcome == payment.OutcomeIgnored || ev.IntentID == "" {
		log.Debug("webhook event ignored", slog.String("type", ev.Type))
		return ResultIgnored, nil
	}
	paid := ev.Outcome == payment.OutcomeSucceeded
	journal := func(ctx context.Context, tx repository.Tx) error {
		return tx.RecordWebhookEvent(ctx, model.WebhookEvent{
			Provider:   ev.Provider,
			ExternalID: ev.EventID,
			IntentID:   ev.IntentID,
			Outcome:    string(ev.Outcome),
		})
	}

	r, err := h.store.FindReservationByIntent(ctx, ev.Provider, ev.IntentID)
	switch {
	case err == nil:
		out, err := h.reservations.ApplyPayment(ctx, r.ID, paid, ev.AmountMinor, journal)
		if errors.Is(err, repository.ErrEventAlreadyProcessed) {
			log.Info("duplicate webhook event")
			return ResultDuplicate, nil
		}
		if err != nil {
			log.Error("apply reservation payment failed", slog.Uint64("reservation_id", r.ID), slog.Any("error", err))
			return "", err
		}
		switch {
		case out.Late:
			return ResultRefunded, nil
		case out.Changed:
			log.Info("reservation reconciled", slog.Uint64("reservation_id", r.ID))
			return ResultApplied, nil
		}
		return ResultNoop, nil
	case !errors.Is(err, repository.ErrNotFound):
		return "", err
	}

	if h.purchases != nil {
		p, err := h.store.FindPurchaseByIntent(ctx, ev.Provider, ev.IntentID)
		switch {
		case err == nil:
			changed, err := h.purchases.ApplyPayment(ctx, p.ID, paid, journal)
			if errors.Is(err, repository.ErrEventAlreadyProcessed) {
				log.Info("duplicate webhook event")
				return ResultDuplicate, nil
			}
			if err != nil {
				log.Error("apply purchase payment failed", slog.Uint64("purchase_id", p.ID), slog.Any("error", err))
				return "", err
			}
			if changed {
				return ResultApplied, nil
			}
			return ResultNoop, nil
		case !errors.Is(err, repository.ErrNotFound):
			return "", err
		}
	}

	// Not ours: another system may share the endpoint.
	err = h.store.WithTx(ctx, journal)
	if errors.Is(err, repository.ErrEventAlreadyProcessed) {
		return ResultDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	log.Warn("webhook event matches no reservation or purchase")
	return ResultUnmatched, nil
}
