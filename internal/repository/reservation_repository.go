package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// ReservationRepo provides CRUD operations for reservations.  A reservation
// stores either member_id or the guest_* columns, never both; the table
// enforces that with a CHECK and enforces one active reservation per
// (member, occurrence) through a generated unique key.  All timestamp
// fields are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationSelect = `SELECT id, reference, member_id, guest_name, guest_email, guest_phone, occurrence_id,
       quantity, status, payment_status, provider, intent_id, credit_kind, credits_used,
       amount_minor, currency, attendance, created_at, updated_at, cancelled_at
  FROM reservations`

func scanReservation(row scanner) (model.Reservation, error) {
	var (
		r                       model.Reservation
		memberID                sql.NullInt64
		guestName, guestEmail   sql.NullString
		guestPhone, intent      sql.NullString
		creditKind              string
		cancelledAt             sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Reference, &memberID, &guestName, &guestEmail, &guestPhone, &r.OccurrenceID,
		&r.Quantity, &r.Status, &r.PaymentStatus, &r.Provider, &intent, &creditKind, &r.CreditsUsed,
		&r.AmountMinor, &r.Currency, &r.Attendance, &r.CreatedAt, &r.UpdatedAt, &cancelledAt,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	if memberID.Valid {
		r.Holder = model.NewMemberHolder(uint64(memberID.Int64))
	} else {
		r.Holder = model.NewGuestHolder(model.Guest{
			Name:  guestName.String,
			Email: guestEmail.String,
			Phone: guestPhone.String,
		})
	}
	if intent.Valid {
		s := intent.String
		r.IntentID = &s
	}
	r.CreditKind = model.CreditKind(creditKind)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return r, nil
}

func holderColumns(h model.Holder) (member, name, email, phone any) {
	if g, ok := h.Guest(); ok {
		var p any
		if g.Phone != "" {
			p = g.Phone
		}
		return nil, g.Name, g.Email, p
	}
	return h.MemberID(), nil, nil, nil
}

// get loads a reservation, FOR UPDATE when lock is set.
func (r *ReservationRepo) get(ctx context.Context, q querier, id uint64, lock bool) (model.Reservation, error) {
	query := reservationSelect + ` WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	res, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.Reservation{}, notFound(err)
	}
	return res, nil
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID and timestamps.  A violation
// of the active member key maps to ErrConflict.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	member, name, email, phone := holderColumns(res.Holder)
	if res.Attendance == "" {
		res.Attendance = model.AttendanceUnknown
	}
	const q = `INSERT INTO reservations
    (reference, member_id, guest_name, guest_email, guest_phone, occurrence_id, quantity, status,
     payment_status, provider, intent_id, credit_kind, credits_used, amount_minor, currency, attendance)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.Reference, member, name, email, phone, res.OccurrenceID, res.Quantity, res.Status,
		res.PaymentStatus, res.Provider, nullString(res.IntentID), string(res.CreditKind), res.CreditsUsed,
		res.AmountMinor, res.Currency, res.Attendance,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps and defaults
	full, err := r.get(ctx, tx, uint64(id), false)
	if err != nil {
		return err
	}
	*res = full
	return nil
}

// UpdateTx writes the mutable lifecycle columns.
func (r *ReservationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	var cancelledAt any
	if res.CancelledAt != nil {
		cancelledAt = res.CancelledAt.UTC()
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE reservations
    SET status = ?, payment_status = ?, provider = ?, intent_id = ?, credit_kind = ?, credits_used = ?,
        amount_minor = ?, attendance = ?, cancelled_at = ?
  WHERE id = ?`,
		res.Status, res.PaymentStatus, res.Provider, nullString(res.IntentID), string(res.CreditKind), res.CreditsUsed,
		res.AmountMinor, res.Attendance, cancelledAt, res.ID,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	res.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteTx removes a reservation.  Only used to roll back a reservation
// whose payment intent could not be opened.
func (r *ReservationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReservedQuantityTx sums quantity over reservations that still hold
// capacity.  Callers hold the occurrence row lock.
func (r *ReservationRepo) ReservedQuantityTx(ctx context.Context, tx *sql.Tx, occurrenceID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE occurrence_id = ? AND status NOT IN ('cancelled','no_show')`,
		occurrenceID,
	).Scan(&n)
	return n, err
}

// MemberHasActiveTx reports whether the member already holds a place on
// the occurrence (pending payments included).
func (r *ReservationRepo) MemberHasActiveTx(ctx context.Context, tx *sql.Tx, memberID, occurrenceID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE member_id = ? AND occurrence_id = ? AND status NOT IN ('cancelled','no_show')`,
		memberID, occurrenceID,
	).Scan(&n)
	return n > 0, err
}

// FindByIntent looks up the reservation owning a provider intent.
func (r *ReservationRepo) FindByIntent(ctx context.Context, provider, intentID string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		reservationSelect+` WHERE provider = ? AND intent_id = ? ORDER BY id DESC LIMIT 1`, provider, intentID))
	if err != nil {
		return model.Reservation{}, notFound(err)
	}
	return res, nil
}

// ListByMember returns a member's reservations, newest first.
func (r *ReservationRepo) ListByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error) {
	return r.list(ctx, reservationSelect+` WHERE member_id = ? ORDER BY id DESC`, memberID)
}

// ListStalePending returns pending reservations created at or before cutoff.
func (r *ReservationRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx,
		reservationSelect+` WHERE payment_status = 'pending' AND status NOT IN ('cancelled','no_show') AND created_at <= ? ORDER BY id LIMIT ?`,
		cutoff.UTC(), limit,
	)
}

// ListHoldingTx locks every reservation of the occurrence that still holds
// capacity.  Callers hold the occurrence row lock.
func (r *ReservationRepo) ListHoldingTx(ctx context.Context, tx *sql.Tx, occurrenceID uint64) ([]model.Reservation, error) {
	return r.listOn(ctx, tx,
		reservationSelect+` WHERE occurrence_id = ? AND status NOT IN ('cancelled','no_show') ORDER BY id FOR UPDATE`,
		occurrenceID,
	)
}

func (r *ReservationRepo) list(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	return r.listOn(ctx, r.db, query, args...)
}

func (r *ReservationRepo) listOn(ctx context.Context, q querier, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
