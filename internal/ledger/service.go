package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

// Service runs ledger operations in their own transactions.  The
// reservation engine calls the package functions directly so debits
// commit with the reservation.
type Service struct {
	store repository.Store
	now   func() time.Time
}

// NewService wires a Service.
func NewService(store repository.Store, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, now: now}, nil
}

func (s *Service) CanBook(ctx context.Context, memberID uint64, kind model.CreditKind, n int) (ok bool, reason string, err error) {
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ok, reason, err = CanBook(ctx, tx, memberID, kind, n, s.now())
		return err
	})
	return ok, reason, err
}

func (s *Service) Consume(ctx context.Context, memberID uint64, kind model.CreditKind, n int, reservationID uint64) (m model.Membership, err error) {
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		m, err = Consume(ctx, tx, memberID, kind, n, reservationID, s.now())
		return err
	})
	return m, err
}

func (s *Service) Restore(ctx context.Context, reservationID uint64, kind model.CreditKind) (n int, err error) {
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n, err = Restore(ctx, tx, reservationID, kind)
		return err
	})
	return n, err
}

// Balance returns the member's active entry without locking it.
func (s *Service) Balance(ctx context.Context, memberID uint64) (model.Membership, error) {
	return s.store.CurrentMembership(ctx, memberID, s.now())
}

// AuditReport compares the cached counters with the usage log.
type AuditReport struct {
	MembershipID   uint64 `json:"membership_id"`
	RemainingClass int    `json:"remaining_class"`
	ExpectedClass  int    `json:"expected_class"`
	RemainingEvent int    `json:"remaining_event"`
	ExpectedEvent  int    `json:"expected_event"`
}

// Consistent reports whether counters and log agree.
func (r AuditReport) Consistent() bool {
	return r.RemainingClass == r.ExpectedClass && r.RemainingEvent == r.ExpectedEvent
}

// Audit recomputes an entry's balance from its usage log.
func (s *Service) Audit(ctx context.Context, membershipID uint64) (AuditReport, error) {
	m, err := s.store.GetMembership(ctx, membershipID)
	if err != nil {
		return AuditReport{}, err
	}
	usage, err := s.store.ListUsage(ctx, membershipID)
	if err != nil {
		return AuditReport{}, err
	}
	rep := AuditReport{
		MembershipID:   m.ID,
		RemainingClass: m.RemainingClass,
		RemainingEvent: m.RemainingEvent,
		ExpectedClass:  m.GrantedClass,
		ExpectedEvent:  m.GrantedEvent,
	}
	for _, u := range usage {
		if u.Reversed {
			continue
		}
		if u.Kind == model.CreditEvent {
			rep.ExpectedEvent -= u.Amount
		} else {
			rep.ExpectedClass -= u.Amount
		}
	}
	return rep, nil
}
