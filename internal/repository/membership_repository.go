package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// MembershipRepo provides access to membership_plans, memberships,
// membership_usage and membership_purchases.
type MembershipRepo struct {
	db *sql.DB
}

// NewMembershipRepo returns a new MembershipRepo bound to the given database.
func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{db: db} }

const membershipSelect = `SELECT id, member_id, plan_id, granted_class, granted_event, remaining_class, remaining_event,
       status, starts_at, expires_at, updated_at
  FROM memberships`

func scanMembership(row scanner) (model.Membership, error) {
	var (
		m       model.Membership
		expires sql.NullTime
	)
	err := row.Scan(&m.ID, &m.MemberID, &m.PlanID, &m.GrantedClass, &m.GrantedEvent,
		&m.RemainingClass, &m.RemainingEvent, &m.Status, &m.StartsAt, &expires, &m.UpdatedAt)
	if err != nil {
		return model.Membership{}, err
	}
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	return m, nil
}

func (r *MembershipRepo) get(ctx context.Context, q querier, id uint64, lock bool) (model.Membership, error) {
	query := membershipSelect + ` WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	m, err := scanMembership(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.Membership{}, notFound(err)
	}
	return m, nil
}

// active resolves the most recently started active entry whose window
// covers now.
func (r *MembershipRepo) active(ctx context.Context, q querier, memberID uint64, now time.Time, lock bool) (model.Membership, error) {
	query := membershipSelect + `
 WHERE member_id = ? AND status = 'active' AND starts_at <= ? AND (expires_at IS NULL OR expires_at >= ?)
 ORDER BY starts_at DESC, id DESC
 LIMIT 1`
	if lock {
		query += ` FOR UPDATE`
	}
	now = now.UTC()
	m, err := scanMembership(q.QueryRowContext(ctx, query, memberID, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Membership{}, ErrNoActiveMembership
	}
	return m, err
}

// CreateTx inserts a membership.
func (r *MembershipRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.Membership) error {
	var expires any
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO memberships (member_id, plan_id, granted_class, granted_event, remaining_class, remaining_event, status, starts_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MemberID, m.PlanID, m.GrantedClass, m.GrantedEvent, m.RemainingClass, m.RemainingEvent, m.Status, m.StartsAt.UTC(), expires,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateTx writes counters and status.
func (r *MembershipRepo) UpdateTx(ctx context.Context, tx *sql.Tx, m *model.Membership) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE memberships SET remaining_class = ?, remaining_event = ?, status = ? WHERE id = ?`,
		m.RemainingClass, m.RemainingEvent, m.Status, m.ID,
	)
	return err
}

// CreateUsageTx appends a usage record.
func (r *MembershipRepo) CreateUsageTx(ctx context.Context, tx *sql.Tx, u *model.UsageRecord) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO membership_usage (membership_id, kind, amount, reservation_id, reversed) VALUES (?, ?, ?, ?, ?)`,
		u.MembershipID, string(u.Kind), u.Amount, u.ReservationID, u.Reversed,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.CreatedAt = time.Now().UTC()
	return nil
}

const usageSelect = `SELECT id, membership_id, kind, amount, reservation_id, reversed, created_at FROM membership_usage`

func scanUsage(row scanner) (model.UsageRecord, error) {
	var (
		u    model.UsageRecord
		kind string
	)
	if err := row.Scan(&u.ID, &u.MembershipID, &kind, &u.Amount, &u.ReservationID, &u.Reversed, &u.CreatedAt); err != nil {
		return model.UsageRecord{}, err
	}
	u.Kind = model.CreditKind(kind)
	return u, nil
}

func (r *MembershipRepo) usage(ctx context.Context, q querier, query string, args ...any) ([]model.UsageRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.UsageRecord{}
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// OpenUsageTx lists non-reversed debits for a reservation, locked.
func (r *MembershipRepo) OpenUsageTx(ctx context.Context, tx *sql.Tx, reservationID uint64, kind model.CreditKind) ([]model.UsageRecord, error) {
	return r.usage(ctx, tx, usageSelect+` WHERE reservation_id = ? AND kind = ? AND reversed = 0 ORDER BY id FOR UPDATE`,
		reservationID, string(kind))
}

// MarkUsageReversedTx flags a debit as given back.
func (r *MembershipRepo) MarkUsageReversedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE membership_usage SET reversed = 1 WHERE id = ?`, id)
	return err
}

// ListUsage returns the audit log of one ledger entry.
func (r *MembershipRepo) ListUsage(ctx context.Context, membershipID uint64) ([]model.UsageRecord, error) {
	return r.usage(ctx, r.db, usageSelect+` WHERE membership_id = ? ORDER BY id`, membershipID)
}

const planSelect = `SELECT id, name, price_minor, class_credits, event_credits, duration_days, active FROM membership_plans`

func scanPlan(row scanner) (model.MembershipPlan, error) {
	var p model.MembershipPlan
	err := row.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.ClassCredits, &p.EventCredits, &p.DurationDays, &p.Active)
	return p, err
}

// ListPlans returns active plans ordered by price.
func (r *MembershipRepo) ListPlans(ctx context.Context) ([]model.MembershipPlan, error) {
	rows, err := r.db.QueryContext(ctx, planSelect+` WHERE active = 1 ORDER BY price_minor, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.MembershipPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPlan loads a plan by id.
func (r *MembershipRepo) GetPlan(ctx context.Context, id uint64) (model.MembershipPlan, error) {
	p, err := scanPlan(r.db.QueryRowContext(ctx, planSelect+` WHERE id = ?`, id))
	if err != nil {
		return model.MembershipPlan{}, notFound(err)
	}
	return p, nil
}

// GetPlanTx loads a plan inside tx.
func (r *MembershipRepo) GetPlanTx(ctx context.Context, tx *sql.Tx, id uint64) (model.MembershipPlan, error) {
	p, err := scanPlan(tx.QueryRowContext(ctx, planSelect+` WHERE id = ?`, id))
	if err != nil {
		return model.MembershipPlan{}, notFound(err)
	}
	return p, nil
}

// CreatePlanTx inserts a plan.
func (r *MembershipRepo) CreatePlanTx(ctx context.Context, tx *sql.Tx, p *model.MembershipPlan) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO membership_plans (name, price_minor, class_credits, event_credits, duration_days, active) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.PriceMinor, p.ClassCredits, p.EventCredits, p.DurationDays, p.Active,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

const purchaseSelect = `SELECT id, member_id, plan_id, amount_minor, currency, status, provider, intent_id, created_at FROM membership_purchases`

func scanPurchase(row scanner) (model.MembershipPurchase, error) {
	var (
		p      model.MembershipPurchase
		intent sql.NullString
	)
	if err := row.Scan(&p.ID, &p.MemberID, &p.PlanID, &p.AmountMinor, &p.Currency, &p.Status, &p.Provider, &intent, &p.CreatedAt); err != nil {
		return model.MembershipPurchase{}, err
	}
	if intent.Valid {
		s := intent.String
		p.IntentID = &s
	}
	return p, nil
}

// CreatePurchaseTx inserts a pending purchase.
func (r *MembershipRepo) CreatePurchaseTx(ctx context.Context, tx *sql.Tx, p *model.MembershipPurchase) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO membership_purchases (member_id, plan_id, amount_minor, currency, status, provider, intent_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.MemberID, p.PlanID, p.AmountMinor, p.Currency, p.Status, p.Provider, nullString(p.IntentID),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.CreatedAt = time.Now().UTC()
	return nil
}

// UpdatePurchaseTx writes status and intent id.
func (r *MembershipRepo) UpdatePurchaseTx(ctx context.Context, tx *sql.Tx, p *model.MembershipPurchase) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE membership_purchases SET status = ?, intent_id = ? WHERE id = ?`,
		p.Status, nullString(p.IntentID), p.ID,
	)
	return err
}

// DeletePurchaseTx removes a purchase whose intent could not be opened.
func (r *MembershipRepo) DeletePurchaseTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM membership_purchases WHERE id = ?`, id)
	return err
}

// LockPurchaseTx reads a purchase FOR UPDATE.
func (r *MembershipRepo) LockPurchaseTx(ctx context.Context, tx *sql.Tx, id uint64) (model.MembershipPurchase, error) {
	p, err := scanPurchase(tx.QueryRowContext(ctx, purchaseSelect+` WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return model.MembershipPurchase{}, notFound(err)
	}
	return p, nil
}

// FindPurchaseByIntent looks up the purchase owning a provider intent.
func (r *MembershipRepo) FindPurchaseByIntent(ctx context.Context, provider, intentID string) (model.MembershipPurchase, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx,
		purchaseSelect+` WHERE provider = ? AND intent_id = ? ORDER BY id DESC LIMIT 1`, provider, intentID))
	if err != nil {
		return model.MembershipPurchase{}, notFound(err)
	}
	return p, nil
}
