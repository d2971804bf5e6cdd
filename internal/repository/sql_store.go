package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can be
// shared between locked and unlocked paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const dateLayout = "2006-01-02"

// SQLStore is the MySQL backed Store.  It composes the per-table
// repositories and binds them to a *sql.Tx inside WithTx.
type SQLStore struct {
	db           *sql.DB
	Occurrences  *OccurrenceRepo
	Reservations *ReservationRepo
	Memberships  *MembershipRepo
	Events       *WebhookEventRepo
}

// NewSQLStore wires the repositories around db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:           db,
		Occurrences:  NewOccurrenceRepo(db),
		Reservations: NewReservationRepo(db),
		Memberships:  NewMembershipRepo(db),
		Events:       NewWebhookEventRepo(db),
	}
}

var _ Store = (*SQLStore)(nil)

// DB exposes the pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// WithTx begins a transaction, hands a bound Tx to fn and commits when fn
// succeeds.  Any error, or a panic, rolls back.
func (s *SQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &sqlTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLStore) GetOccurrence(ctx context.Context, id uint64) (model.Occurrence, error) {
	return s.Occurrences.get(ctx, s.db, id, false)
}

func (s *SQLStore) ListOccurrences(ctx context.Context, f model.OccurrenceFilter) ([]model.OccurrenceAvailability, error) {
	return s.Occurrences.List(ctx, f)
}

func (s *SQLStore) GetResource(ctx context.Context, id uint64) (model.Resource, error) {
	return s.Occurrences.GetResource(ctx, id)
}

func (s *SQLStore) GetRecurrenceSpec(ctx context.Context, id uint64) (model.RecurrenceSpec, error) {
	return s.Occurrences.GetSpec(ctx, id)
}

func (s *SQLStore) ListRecurrenceSpecs(ctx context.Context, from, to time.Time) ([]model.RecurrenceSpec, error) {
	return s.Occurrences.ListActiveSpecs(ctx, from, to)
}

func (s *SQLStore) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return s.Reservations.get(ctx, s.db, id, false)
}

func (s *SQLStore) FindReservationByIntent(ctx context.Context, provider, intentID string) (model.Reservation, error) {
	return s.Reservations.FindByIntent(ctx, provider, intentID)
}

func (s *SQLStore) ListReservationsByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error) {
	return s.Reservations.ListByMember(ctx, memberID)
}

func (s *SQLStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error) {
	return s.Reservations.ListStalePending(ctx, cutoff, limit)
}

func (s *SQLStore) CurrentMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error) {
	return s.Memberships.active(ctx, s.db, memberID, now, false)
}

func (s *SQLStore) GetMembership(ctx context.Context, id uint64) (model.Membership, error) {
	return s.Memberships.get(ctx, s.db, id, false)
}

func (s *SQLStore) ListUsage(ctx context.Context, membershipID uint64) ([]model.UsageRecord, error) {
	return s.Memberships.ListUsage(ctx, membershipID)
}

func (s *SQLStore) ListPlans(ctx context.Context) ([]model.MembershipPlan, error) {
	return s.Memberships.ListPlans(ctx)
}

func (s *SQLStore) GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error) {
	return s.Memberships.GetPlan(ctx, id)
}

func (s *SQLStore) FindPurchaseByIntent(ctx context.Context, provider, intentID string) (model.MembershipPurchase, error) {
	return s.Memberships.FindPurchaseByIntent(ctx, provider, intentID)
}

// sqlTx binds the repositories to one transaction.
type sqlTx struct {
	s  *SQLStore
	tx *sql.Tx
}

var _ Tx = (*sqlTx)(nil)

func (t *sqlTx) InsertResource(ctx context.Context, r *model.Resource) error {
	return t.s.Occurrences.CreateResourceTx(ctx, t.tx, r)
}

func (t *sqlTx) InsertRecurrenceSpec(ctx context.Context, sp *model.RecurrenceSpec) error {
	return t.s.Occurrences.CreateSpecTx(ctx, t.tx, sp)
}

func (t *sqlTx) InsertOccurrence(ctx context.Context, o *model.Occurrence) error {
	return t.s.Occurrences.CreateTx(ctx, t.tx, o)
}

func (t *sqlTx) InsertOccurrenceIfAbsent(ctx context.Context, o *model.Occurrence) (bool, error) {
	err := t.s.Occurrences.CreateTx(ctx, t.tx, o)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (t *sqlTx) OccurrenceExists(ctx context.Context, recurrenceID uint64, date time.Time, start model.TimeOfDay) (bool, error) {
	return t.s.Occurrences.ExistsTx(ctx, t.tx, recurrenceID, date, start)
}

func (t *sqlTx) LockOccurrence(ctx context.Context, id uint64) (model.Occurrence, error) {
	return t.s.Occurrences.get(ctx, t.tx, id, true)
}

func (t *sqlTx) UpdateOccurrence(ctx context.Context, o *model.Occurrence) error {
	return t.s.Occurrences.UpdateTx(ctx, t.tx, o)
}

func (t *sqlTx) ReservedQuantity(ctx context.Context, occurrenceID uint64) (int, error) {
	return t.s.Reservations.ReservedQuantityTx(ctx, t.tx, occurrenceID)
}

func (t *sqlTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	return t.s.Reservations.CreateTx(ctx, t.tx, r)
}

func (t *sqlTx) DeleteReservation(ctx context.Context, id uint64) error {
	return t.s.Reservations.DeleteTx(ctx, t.tx, id)
}

func (t *sqlTx) LockReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return t.s.Reservations.get(ctx, t.tx, id, true)
}

func (t *sqlTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	return t.s.Reservations.UpdateTx(ctx, t.tx, r)
}

func (t *sqlTx) ListHoldingReservations(ctx context.Context, occurrenceID uint64) ([]model.Reservation, error) {
	return t.s.Reservations.ListHoldingTx(ctx, t.tx, occurrenceID)
}

func (t *sqlTx) MemberHasActiveReservation(ctx context.Context, memberID, occurrenceID uint64) (bool, error) {
	return t.s.Reservations.MemberHasActiveTx(ctx, t.tx, memberID, occurrenceID)
}

func (t *sqlTx) LockActiveMembership(ctx context.Context, memberID uint64, now time.Time) (model.Membership, error) {
	return t.s.Memberships.active(ctx, t.tx, memberID, now, true)
}

func (t *sqlTx) LockMembership(ctx context.Context, id uint64) (model.Membership, error) {
	return t.s.Memberships.get(ctx, t.tx, id, true)
}

func (t *sqlTx) InsertMembership(ctx context.Context, m *model.Membership) error {
	return t.s.Memberships.CreateTx(ctx, t.tx, m)
}

func (t *sqlTx) UpdateMembership(ctx context.Context, m *model.Membership) error {
	return t.s.Memberships.UpdateTx(ctx, t.tx, m)
}

func (t *sqlTx) InsertUsage(ctx context.Context, u *model.UsageRecord) error {
	return t.s.Memberships.CreateUsageTx(ctx, t.tx, u)
}

func (t *sqlTx) OpenUsage(ctx context.Context, reservationID uint64, kind model.CreditKind) ([]model.UsageRecord, error) {
	return t.s.Memberships.OpenUsageTx(ctx, t.tx, reservationID, kind)
}

func (t *sqlTx) MarkUsageReversed(ctx context.Context, id uint64) error {
	return t.s.Memberships.MarkUsageReversedTx(ctx, t.tx, id)
}

func (t *sqlTx) InsertPlan(ctx context.Context, p *model.MembershipPlan) error {
	return t.s.Memberships.CreatePlanTx(ctx, t.tx, p)
}

func (t *sqlTx) InsertPurchase(ctx context.Context, p *model.MembershipPurchase) error {
	return t.s.Memberships.CreatePurchaseTx(ctx, t.tx, p)
}

func (t *sqlTx) UpdatePurchase(ctx context.Context, p *model.MembershipPurchase) error {
	return t.s.Memberships.UpdatePurchaseTx(ctx, t.tx, p)
}

func (t *sqlTx) DeletePurchase(ctx context.Context, id uint64) error {
	return t.s.Memberships.DeletePurchaseTx(ctx, t.tx, id)
}

func (t *sqlTx) GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error) {
	return t.s.Memberships.GetPlanTx(ctx, t.tx, id)
}

func (t *sqlTx) LockPurchase(ctx context.Context, id uint64) (model.MembershipPurchase, error) {
	return t.s.Memberships.LockPurchaseTx(ctx, t.tx, id)
}

func (t *sqlTx) RecordWebhookEvent(ctx context.Context, ev model.WebhookEvent) error {
	return t.s.Events.RecordTx(ctx, t.tx, ev)
}
