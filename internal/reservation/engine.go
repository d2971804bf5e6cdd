// Package reservation is the capacity-aware booking state machine.  It is
// the only writer of reservation rows.  Every check that informs a write
// runs under the occurrence row lock; provider calls happen after the
// local transaction commits.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/studio-reservation/internal/ledger"
	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/notify"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/token"
)

// DefaultCutoff is how long before the start a holder may still cancel.
const DefaultCutoff = 2 * time.Hour

// Gateways resolves payment rails.  *payment.Registry satisfies it.
type Gateways interface {
	Get(provider string) (payment.Gateway, error)
	Lookup(provider string) (payment.Gateway, bool)
}

// Tokens issues and checks guest cancellation tokens.  *token.Service
// satisfies it.
type Tokens interface {
	Issue(kind string, id uint64) (string, error)
	Verify(tok, kind string, id uint64) bool
}

// Engine runs reservation transitions.
type Engine struct {
	store    repository.Store
	gateways Gateways
	tokens   Tokens
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
	cutoff   time.Duration
	currency string
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithCurrency(c string) Option { return func(e *Engine) { e.currency = strings.ToLower(c) } }
func WithCutoff(d time.Duration) Option { return func(e *Engine) { e.cutoff = d } }

// New wires an Engine.
func New(store repository.Store, gateways Gateways, tokens Tokens, opts ...Option) (*Engine, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	case gateways == nil:
		return nil, fmt.Errorf("%w: gateways dependency is nil", ErrInvalidServiceConfig)
	case tokens == nil:
		return nil, fmt.Errorf("%w: tokens dependency is nil", ErrInvalidServiceConfig)
	}
	e := &Engine{
		store:    store,
		gateways: gateways,
		tokens:   tokens,
		notifier: notify.Nop{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		cutoff:   DefaultCutoff,
		currency: "gbp",
	}
	for _, o := range opts {
		o(e)
	}
	if e.cutoff < 0 {
		return nil, fmt.Errorf("%w: negative cutoff", ErrInvalidServiceConfig)
	}
	return e, nil
}

// Cutoff returns the configured cancellation cutoff.
func (e *Engine) Cutoff() time.Duration { return e.cutoff }

// ReserveRequest asks for quantity places on an occurrence.
type ReserveRequest struct {
	Holder       model.Holder
	OccurrenceID uint64
	Quantity     int
	// Provider picks the rail for paid reservations; empty means card.
	Provider string
}

// Outcome is what a successful Reserve hands back to the caller.
type Outcome struct {
	Reservation  model.Reservation `json:"reservation"`
	ClientSecret string            `json:"client_secret,omitempty"`
	RedirectURL  string            `json:"redirect_url,omitempty"`
	CancelToken  string            `json:"cancel_token,omitempty"`
}

func (req *ReserveRequest) normalize() error {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if req.OccurrenceID == 0 {
		return fmt.Errorf("%w: occurrence id is required", ErrValidation)
	}
	switch req.Provider {
	case "", model.ProviderCard, model.ProviderBankTransfer:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrValidation, req.Provider)
	}
	if req.Provider == "" {
		req.Provider = model.ProviderCard
	}
	switch {
	case req.Holder.IsGuest():
		if req.Holder.Email() == "" {
			return ErrGuestEmailRequired
		}
	case req.Holder.IsMember():
	default:
		return fmt.Errorf("%w: %v", ErrValidation, model.ErrHolderMissing)
	}
	return nil
}

// Reserve claims places on an occurrence.  Members with enough credits
// are booked immediately against their ledger; everyone else gets a
// pending reservation and a provider intent.  A reservation whose intent
// cannot be opened is deleted before Reserve returns.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (Outcome, error) {
	if err := req.normalize(); err != nil {
		e.rejected(err)
		return Outcome{}, err
	}
	now := e.now()

	var (
		res model.Reservation
		occ model.Occurrence
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		occ, err = tx.LockOccurrence(ctx, req.OccurrenceID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOccurrenceNotFound
		}
		if err != nil {
			return err
		}
		if !occ.IsScheduled() {
			return ErrInactive
		}
		if !occ.StartsAt().After(now) {
			return ErrPastOccurrence
		}
		if occ.Kind != model.KindEvent && req.Quantity != 1 {
			return fmt.Errorf("%w: sessions are booked one place at a time", ErrValidation)
		}

		reserved, err := tx.ReservedQuantity(ctx, occ.ID)
		if err != nil {
			return err
		}
		if reserved+req.Quantity > occ.EffectiveCapacity() {
			return ErrCapacityExceeded
		}

		if req.Holder.IsMember() {
			dup, err := tx.MemberHasActiveReservation(ctx, req.Holder.MemberID(), occ.ID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateReservation
			}
		}

		res = model.Reservation{
			Reference:    uuid.NewString(),
			Holder:       req.Holder,
			OccurrenceID: occ.ID,
			Quantity:     req.Quantity,
			AmountMinor:  occ.EffectivePrice() * int64(req.Quantity),
			Currency:     e.currency,
			Attendance:   model.AttendanceUnknown,
		}
		kind := model.CreditKindFor(occ.Kind)

		funded := false
		switch {
		case res.AmountMinor <= 0:
			res.AmountMinor = 0
			funded = true
		case req.Holder.IsMember():
			ok, reason, err := ledger.CanBook(ctx, tx, req.Holder.MemberID(), kind, req.Quantity, now)
			if err != nil {
				return err
			}
			if ok {
				res.CreditKind = kind
				res.CreditsUsed = req.Quantity
				funded = true
			} else {
				e.log.Debug("member falls back to paid flow", slog.Uint64("member_id", req.Holder.MemberID()), slog.String("reason", reason))
			}
		}

		if funded {
			res.Status = model.ConfirmedStatusFor(occ.Kind)
			res.PaymentStatus = model.PaymentIncluded
			res.Provider = model.ProviderIncluded
		} else {
			res.Status = model.PendingStatusFor(occ.Kind)
			res.PaymentStatus = model.PaymentPending
			res.Provider = req.Provider
		}

		if err := tx.InsertReservation(ctx, &res); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrDuplicateReservation
			}
			return err
		}
		if res.CreditsUsed > 0 {
			if _, err := ledger.Consume(ctx, tx, req.Holder.MemberID(), kind, res.CreditsUsed, res.ID, now); err != nil {
				return fmt.Errorf("debit credits: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		e.rejected(err)
		return Outcome{}, err
	}

	out := Outcome{}
	if res.PaymentStatus == model.PaymentPending {
		intent, err := e.openIntent(ctx, res, occ)
		if err != nil {
			e.discard(ctx, res.ID)
			e.rejected(err)
			return Outcome{}, err
		}
		res.IntentID = &intent.ID
		out.ClientSecret = intent.ClientSecret
		out.RedirectURL = intent.RedirectURL
	}

	if res.Holder.IsGuest() {
		tok, err := e.tokens.Issue(token.KindReservation, res.ID)
		if err != nil {
			e.log.Error("issue cancel token failed", slog.Uint64("reservation_id", res.ID), slog.Any("error", err))
		}
		out.CancelToken = tok
	}
	out.Reservation = res

	metrics.ReservationsCreated.WithLabelValues(res.PaymentStatus).Inc()
	e.log.Info("reservation created",
		slog.Uint64("reservation_id", res.ID),
		slog.Uint64("occurrence_id", res.OccurrenceID),
		slog.String("status", res.Status),
		slog.String("payment_status", res.PaymentStatus))

	if res.PaymentStatus != model.PaymentPending {
		e.notifyConfirmed(ctx, res, occ, out.CancelToken)
	}
	return out, nil
}

// openIntent asks the rail for an intent and stores its id on the
// reservation.  Any failure leaves the intent cancelled and returns an
// error so the caller can drop the row.
func (e *Engine) openIntent(ctx context.Context, res model.Reservation, occ model.Occurrence) (payment.Intent, error) {
	gw, err := e.gateways.Get(res.Provider)
	if err != nil {
		return payment.Intent{}, err
	}
	meta := map[string]string{
		"reservation_id": strconv.FormatUint(res.ID, 10),
		"occurrence_id":  strconv.FormatUint(occ.ID, 10),
		"type":           string(occ.Kind),
	}
	if res.Holder.IsMember() {
		meta["member_id"] = strconv.FormatUint(res.Holder.MemberID(), 10)
	}
	intent, err := gw.CreateIntent(ctx, payment.IntentRequest{
		AmountMinor:  res.AmountMinor,
		Currency:     res.Currency,
		Reference:    res.Reference,
		Description:  fmt.Sprintf("%s on %s", occ.Title, occ.Date.Format("2006-01-02")),
		ReceiptEmail: res.Holder.Email(),
		Metadata:     meta,
	})
	if err != nil {
		return payment.Intent{}, err
	}
	err = e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockOccurrence(ctx, occ.ID); err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, res.ID)
		if err != nil {
			return err
		}
		r.IntentID = &intent.ID
		return tx.UpdateReservation(ctx, &r)
	})
	if err != nil {
		payment.CancelBestEffort(context.WithoutCancel(ctx), gw, intent.ID, e.log)
		return payment.Intent{}, fmt.Errorf("store intent: %w", err)
	}
	return intent, nil
}

// discard deletes a reservation whose funding path failed.  It runs even
// when the request context is already cancelled.
func (e *Engine) discard(ctx context.Context, id uint64) {
	err := e.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteReservation(ctx, id)
	})
	if err != nil {
		e.log.Error("discard reservation failed", slog.Uint64("reservation_id", id), slog.Any("error", err))
	}
}

func (e *Engine) rejected(err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		reason = "capacity"
	case errors.Is(err, ErrDuplicateReservation):
		reason = "duplicate"
	case errors.Is(err, ErrPastOccurrence), errors.Is(err, ErrInactive), errors.Is(err, ErrOccurrenceNotFound):
		reason = "occurrence"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrGuestEmailRequired):
		reason = "validation"
	case errors.Is(err, payment.ErrGatewayUnavailable), errors.Is(err, payment.ErrGatewayRejected):
		reason = "gateway"
	}
	metrics.ReservationsRejected.WithLabelValues(reason).Inc()
}

// Message builds the notifier payload for a reservation.
func Message(res model.Reservation, occ model.Occurrence, cancelToken string) notify.Message {
	m := notify.Message{
		ReservationID: res.ID,
		Reference:     res.Reference,
		OccurrenceID:  res.OccurrenceID,
		Title:         occ.Title,
		StartsAt:      occ.StartsAt(),
		Quantity:      res.Quantity,
		AmountMinor:   res.AmountMinor,
		Currency:      res.Currency,
		PaymentStatus: res.PaymentStatus,
		CancelToken:   cancelToken,
	}
	if g, ok := res.Holder.Guest(); ok {
		m.GuestName = g.Name
		m.GuestEmail = g.Email
		m.GuestPhone = g.Phone
	} else {
		m.MemberID = res.Holder.MemberID()
	}
	return m
}

func (e *Engine) notifyConfirmed(ctx context.Context, res model.Reservation, occ model.Occurrence, tok string) {
	m := Message(res, occ, tok)
	m.OccurredAt = e.now()
	if err := e.notifier.ReservationConfirmed(ctx, m); err != nil {
		e.log.Warn("confirmation notify failed", slog.Uint64("reservation_id", res.ID), slog.Any("error", err))
	}
}

func (e *Engine) notifyCancelled(ctx context.Context, res model.Reservation, occ model.Occurrence, reason string) {
	m := Message(res, occ, "")
	m.Reason = reason
	m.OccurredAt = e.now()
	if err := e.notifier.ReservationCancelled(ctx, m); err != nil {
		e.log.Warn("cancellation notify failed", slog.Uint64("reservation_id", res.ID), slog.Any("error", err))
	}
}

// ListForMember returns the member's reservations, newest first.
func (e *Engine) ListForMember(ctx context.Context, memberID uint64) ([]model.Reservation, error) {
	return e.store.ListReservationsByMember(ctx, memberID)
}
