// Package membership sells credit plans and manages a member's ledger
// entry.  A paid plan becomes a ledger entry only when its payment
// succeeds; the prior active entry is cancelled at that point so a
// member holds one active entry at a time.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/payment"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

var (
	ErrPlanNotFound         = errors.New("membership plan not found")
	ErrNoMembership         = errors.New("no active membership")
	ErrNotFound             = errors.New("membership purchase not found")
	ErrInvalidServiceConfig = errors.New("invalid membership service configuration")
)

// Gateways resolves the rail a purchase is paid on.
type Gateways interface {
	Get(provider string) (payment.Gateway, error)
}

// Service implements plan listing, purchase and cancellation.
type Service struct {
	store    repository.Store
	gateways Gateways
	log      *slog.Logger
	now      func() time.Time
	currency string
}

// NewService wires a Service.  now and log may be nil.
func NewService(store repository.Store, gateways Gateways, currency string, now func() time.Time, log *slog.Logger) (*Service, error) {
	if store == nil || gateways == nil {
		return nil, fmt.Errorf("%w: store and gateways are required", ErrInvalidServiceConfig)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = slog.Default()
	}
	if currency == "" {
		currency = "gbp"
	}
	return &Service{store: store, gateways: gateways, log: log, now: now, currency: currency}, nil
}

func (s *Service) Plans(ctx context.Context) ([]model.MembershipPlan, error) {
	return s.store.ListPlans(ctx)
}

// Current returns the member's active ledger entry.
func (s *Service) Current(ctx context.Context, memberID uint64) (model.Membership, error) {
	m, err := s.store.CurrentMembership(ctx, memberID, s.now())
	if errors.Is(err, repository.ErrNoActiveMembership) {
		return model.Membership{}, ErrNoMembership
	}
	return m, err
}

// PurchaseOutcome is returned to the client to finish paying.
type PurchaseOutcome struct {
	Purchase     model.MembershipPurchase `json:"purchase"`
	Membership   *model.Membership        `json:"membership,omitempty"`
	ClientSecret string                   `json:"client_secret,omitempty"`
	RedirectURL  string                   `json:"redirect_url,omitempty"`
}

// Purchase opens a payment for plan.  Free plans are granted at once.
// The pending purchase is deleted when the intent cannot be opened.
func (s *Service) Purchase(ctx context.Context, memberID, planID uint64, provider string) (PurchaseOutcome, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !plan.Active) {
		return PurchaseOutcome{}, ErrPlanNotFound
	}
	if err != nil {
		return PurchaseOutcome{}, err
	}
	if provider == "" {
		provider = model.ProviderCard
	}

	p := model.MembershipPurchase{
		MemberID:    memberID,
		PlanID:      plan.ID,
		AmountMinor: plan.PriceMinor,
		Currency:    s.currency,
		Status:      model.PurchasePending,
		Provider:    provider,
	}
	var granted *model.Membership
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if plan.PriceMinor <= 0 {
			p.Status = model.PurchasePaid
			p.Provider = model.ProviderIncluded
			if err := tx.InsertPurchase(ctx, &p); err != nil {
				return err
			}
			m, err := activate(ctx, tx, memberID, plan, s.now())
			granted = &m
			return err
		}
		return tx.InsertPurchase(ctx, &p)
	})
	if err != nil {
		return PurchaseOutcome{}, err
	}
	if granted != nil {
		return PurchaseOutcome{Purchase: p, Membership: granted}, nil
	}

	intent, err := s.openIntent(ctx, &p, plan)
	if err != nil {
		if derr := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
			return tx.DeletePurchase(ctx, p.ID)
		}); derr != nil {
			s.log.Error("discard purchase failed", slog.Uint64("purchase_id", p.ID), slog.Any("error", derr))
		}
		return PurchaseOutcome{}, err
	}
	return PurchaseOutcome{Purchase: p, ClientSecret: intent.ClientSecret, RedirectURL: intent.RedirectURL}, nil
}

func (s *Service) openIntent(ctx context.Context, p *model.MembershipPurchase, plan model.MembershipPlan) (payment.Intent, error) {
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return payment.Intent{}, err
	}
	intent, err := gw.CreateIntent(ctx, payment.IntentRequest{
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Reference:   "membership-" + strconv.FormatUint(p.ID, 10),
		Description: "Membership: " + plan.Name,
		Metadata: map[string]string{
			"purchase_id": strconv.FormatUint(p.ID, 10),
			"plan_id":     strconv.FormatUint(plan.ID, 10),
			"member_id":   strconv.FormatUint(p.MemberID, 10),
			"type":        "membership",
		},
	})
	if err != nil {
		return payment.Intent{}, err
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.LockPurchase(ctx, p.ID)
		if err != nil {
			return err
		}
		cur.IntentID = &intent.ID
		if err := tx.UpdatePurchase(ctx, &cur); err != nil {
			return err
		}
		*p = cur
		return nil
	})
	if err != nil {
		payment.CancelBestEffort(context.WithoutCancel(ctx), gw, intent.ID, s.log)
		return payment.Intent{}, fmt.Errorf("store intent: %w", err)
	}
	return intent, nil
}

// activate cancels the member's current entry and grants plan.
func activate(ctx context.Context, tx repository.Tx, memberID uint64, plan model.MembershipPlan, now time.Time) (model.Membership, error) {
	prior, err := tx.LockActiveMembership(ctx, memberID, now)
	switch {
	case err == nil:
		prior.Status = model.MembershipCancelled
		if err := tx.UpdateMembership(ctx, &prior); err != nil {
			return model.Membership{}, err
		}
	case !errors.Is(err, repository.ErrNoActiveMembership):
		return model.Membership{}, err
	}
	m := model.Membership{
		MemberID:       memberID,
		PlanID:         plan.ID,
		GrantedClass:   plan.ClassCredits,
		GrantedEvent:   plan.EventCredits,
		RemainingClass: plan.ClassCredits,
		RemainingEvent: plan.EventCredits,
		Status:         model.MembershipActive,
		StartsAt:       now,
	}
	if plan.DurationDays > 0 {
		exp := now.AddDate(0, 0, plan.DurationDays)
		m.ExpiresAt = &exp
	}
	if err := tx.InsertMembership(ctx, &m); err != nil {
		return model.Membership{}, err
	}
	return m, nil
}

// ApplyPayment settles a pending purchase from a provider outcome.
// before runs first in the same transaction.  changed is false when the
// purchase was no longer pending.
func (s *Service) ApplyPayment(ctx context.Context, purchaseID uint64, paid bool, before repository.TxFunc) (changed bool, err error) {
	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		changed = false
		if before != nil {
			if err := before(ctx, tx); err != nil {
				return err
			}
		}
		p, err := tx.LockPurchase(ctx, purchaseID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != model.PurchasePending {
			return nil
		}
		if !paid {
			p.Status = model.PurchaseCancelled
			changed = true
			return tx.UpdatePurchase(ctx, &p)
		}
		plan, err := tx.GetPlan(ctx, p.PlanID)
		if err != nil {
			return fmt.Errorf("load plan %d: %w", p.PlanID, err)
		}
		p.Status = model.PurchasePaid
		if err := tx.UpdatePurchase(ctx, &p); err != nil {
			return err
		}
		if _, err := activate(ctx, tx, p.MemberID, plan, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err == nil && changed {
		s.log.Info("membership purchase settled", slog.Uint64("purchase_id", purchaseID), slog.Bool("paid", paid))
	}
	return changed, err
}

// Cancel ends the member's active entry.  Reservations already funded
// from it stay in place.
func (s *Service) Cancel(ctx context.Context, memberID uint64) (model.Membership, error) {
	var m model.Membership
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		m, err = tx.LockActiveMembership(ctx, memberID, s.now())
		if errors.Is(err, repository.ErrNoActiveMembership) {
			return ErrNoMembership
		}
		if err != nil {
			return err
		}
		m.Status = model.MembershipCancelled
		return tx.UpdateMembership(ctx, &m)
	})
	return m, err
}
