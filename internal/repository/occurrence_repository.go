package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// OccurrenceRepo provides access to resources, recurrence_specs and
// occurrences.  Occurrence reads always join the owning resource so the
// inherited capacity and price are available to callers.
type OccurrenceRepo struct {
	db *sql.DB
}

// NewOccurrenceRepo returns a new OccurrenceRepo bound to the given database.
func NewOccurrenceRepo(db *sql.DB) *OccurrenceRepo { return &OccurrenceRepo{db: db} }

const occurrenceSelect = `SELECT o.id, o.resource_id, o.recurrence_id, o.date, o.start_time, o.end_time,
       o.capacity, o.price_minor, o.status, o.created_at, o.updated_at,
       r.kind, r.name, r.category, r.default_capacity, r.default_price_minor
  FROM occurrences o
  JOIN resources r ON r.id = o.resource_id`

func scanOccurrence(row scanner, extra ...any) (model.Occurrence, error) {
	var (
		o          model.Occurrence
		recurrence sql.NullInt64
		capacity   sql.NullInt64
		price      sql.NullInt64
		start, end string
		kind       string
	)
	dest := []any{
		&o.ID, &o.ResourceID, &recurrence, &o.Date, &start, &end,
		&capacity, &price, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		&kind, &o.Title, &o.Category, &o.DefaultCapacity, &o.DefaultPrice,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Occurrence{}, err
	}
	var err error
	if o.StartTime, err = model.ParseTimeOfDay(start); err != nil {
		return model.Occurrence{}, err
	}
	if o.EndTime, err = model.ParseTimeOfDay(end); err != nil {
		return model.Occurrence{}, err
	}
	o.Kind = model.ResourceKind(kind)
	if recurrence.Valid {
		id := uint64(recurrence.Int64)
		o.RecurrenceID = &id
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		o.CapacityOverride = &c
	}
	if price.Valid {
		p := price.Int64
		o.PriceOverride = &p
	}
	return o, nil
}

// get loads one occurrence.  With lock set the occurrence row (not the
// resource) is read FOR UPDATE, which serialises capacity checks.
func (r *OccurrenceRepo) get(ctx context.Context, q querier, id uint64, lock bool) (model.Occurrence, error) {
	query := occurrenceSelect + ` WHERE o.id = ?`
	if lock {
		query += ` FOR UPDATE OF o`
	}
	o, err := scanOccurrence(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.Occurrence{}, notFound(err)
	}
	return o, nil
}

// List returns scheduled occurrences in the window with the reserved
// quantity computed server side.
func (r *OccurrenceRepo) List(ctx context.Context, f model.OccurrenceFilter) ([]model.OccurrenceAvailability, error) {
	var (
		where = []string{"o.status = 'scheduled'"}
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "o.date >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "o.date <= ?")
		args = append(args, f.To.Format(dateLayout))
	}
	if f.Category != "" {
		where = append(where, "r.category = ?")
		args = append(args, f.Category)
	}
	if f.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, string(f.Kind))
	}
	query := `SELECT o.id, o.resource_id, o.recurrence_id, o.date, o.start_time, o.end_time,
       o.capacity, o.price_minor, o.status, o.created_at, o.updated_at,
       r.kind, r.name, r.category, r.default_capacity, r.default_price_minor,
       COALESCE(q.reserved, 0)
  FROM occurrences o
  JOIN resources r ON r.id = o.resource_id
  LEFT JOIN (
        SELECT occurrence_id, SUM(quantity) AS reserved
          FROM reservations
         WHERE status NOT IN ('cancelled','no_show')
         GROUP BY occurrence_id
  ) q ON q.occurrence_id = o.id
 WHERE ` + strings.Join(where, " AND ") + `
 ORDER BY o.date, o.start_time, o.id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.OccurrenceAvailability{}
	for rows.Next() {
		var reserved int
		o, err := scanOccurrence(rows, &reserved)
		if err != nil {
			return nil, err
		}
		out = append(out, model.OccurrenceAvailability{Occurrence: o, Reserved: reserved})
	}
	return out, rows.Err()
}

// CreateTx inserts an occurrence.  A duplicate (recurrence, date,
// start_time) key maps to ErrConflict.
func (r *OccurrenceRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Occurrence) error {
	if o.Status == "" {
		o.Status = model.OccurrenceScheduled
	}
	const q = `INSERT INTO occurrences (resource_id, recurrence_id, date, start_time, end_time, capacity, price_minor, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		o.ResourceID, nullUint(o.RecurrenceID), o.Date.Format(dateLayout), o.StartTime.String(), o.EndTime.String(),
		nullInt(o.CapacityOverride), nullInt64(o.PriceOverride), o.Status,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate the joined resource fields
	full, err := r.get(ctx, tx, uint64(id), false)
	if err != nil {
		return err
	}
	*o = full
	return nil
}

// ExistsTx reports whether the generator already materialised the slot.
func (r *OccurrenceRepo) ExistsTx(ctx context.Context, tx *sql.Tx, recurrenceID uint64, date time.Time, start model.TimeOfDay) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM occurrences WHERE recurrence_id = ? AND date = ? AND start_time = ?`,
		recurrenceID, date.Format(dateLayout), start.String(),
	).Scan(&n)
	return n > 0, err
}

// UpdateTx writes the overridable fields and the status.
func (r *OccurrenceRepo) UpdateTx(ctx context.Context, tx *sql.Tx, o *model.Occurrence) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE occurrences SET date = ?, start_time = ?, end_time = ?, capacity = ?, price_minor = ?, status = ? WHERE id = ?`,
		o.Date.Format(dateLayout), o.StartTime.String(), o.EndTime.String(),
		nullInt(o.CapacityOverride), nullInt64(o.PriceOverride), o.Status, o.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 for unchanged rows; confirm the row exists.
		if _, err := r.get(ctx, tx, o.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// GetResource loads a resource by id.
func (r *OccurrenceRepo) GetResource(ctx context.Context, id uint64) (model.Resource, error) {
	var (
		res  model.Resource
		kind string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, kind, category, default_capacity, default_price_minor, active FROM resources WHERE id = ?`, id,
	).Scan(&res.ID, &res.Name, &kind, &res.Category, &res.DefaultCapacity, &res.DefaultPrice, &res.Active)
	if err != nil {
		return model.Resource{}, notFound(err)
	}
	res.Kind = model.ResourceKind(kind)
	return res, nil
}

// CreateResourceTx inserts a resource.
func (r *OccurrenceRepo) CreateResourceTx(ctx context.Context, tx *sql.Tx, res *model.Resource) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO resources (name, kind, category, default_capacity, default_price_minor, active) VALUES (?, ?, ?, ?, ?, ?)`,
		res.Name, string(res.Kind), res.Category, res.DefaultCapacity, res.DefaultPrice, res.Active,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

const specSelect = `SELECT id, resource_id, pattern, days, start_time, end_time, start_date, end_date, active, created_at FROM recurrence_specs`

func scanSpec(row scanner) (model.RecurrenceSpec, error) {
	var (
		s                 model.RecurrenceSpec
		pattern, days     string
		start, end        string
		endDate           sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ResourceID, &pattern, &days, &start, &end, &s.StartDate, &endDate, &s.Active, &s.CreatedAt); err != nil {
		return model.RecurrenceSpec{}, err
	}
	s.Pattern = model.Pattern(pattern)
	var err error
	if s.Days, err = model.ParseWeekdays(days); err != nil {
		return model.RecurrenceSpec{}, err
	}
	if s.StartTime, err = model.ParseTimeOfDay(start); err != nil {
		return model.RecurrenceSpec{}, err
	}
	if s.EndTime, err = model.ParseTimeOfDay(end); err != nil {
		return model.RecurrenceSpec{}, err
	}
	if endDate.Valid {
		d := endDate.Time
		s.EndDate = &d
	}
	return s, nil
}

// GetSpec loads a recurrence spec by id.
func (r *OccurrenceRepo) GetSpec(ctx context.Context, id uint64) (model.RecurrenceSpec, error) {
	s, err := scanSpec(r.db.QueryRowContext(ctx, specSelect+` WHERE id = ?`, id))
	if err != nil {
		return model.RecurrenceSpec{}, notFound(err)
	}
	return s, nil
}

// ListActiveSpecs returns active specs overlapping [from, to].
func (r *OccurrenceRepo) ListActiveSpecs(ctx context.Context, from, to time.Time) ([]model.RecurrenceSpec, error) {
	rows, err := r.db.QueryContext(ctx,
		specSelect+` WHERE active = 1 AND start_date <= ? AND (end_date IS NULL OR end_date >= ?) ORDER BY id`,
		to.Format(dateLayout), from.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RecurrenceSpec
	for rows.Next() {
		s, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSpecTx inserts a recurrence spec.
func (r *OccurrenceRepo) CreateSpecTx(ctx context.Context, tx *sql.Tx, s *model.RecurrenceSpec) error {
	var endDate any
	if s.EndDate != nil {
		endDate = s.EndDate.Format(dateLayout)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO recurrence_specs (resource_id, pattern, days, start_time, end_time, start_date, end_date, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ResourceID, string(s.Pattern), model.JoinWeekdays(s.Days), s.StartTime.String(), s.EndTime.String(),
		s.StartDate.Format(dateLayout), endDate, s.Active,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.CreatedAt = time.Now().UTC()
	return nil
}

func nullUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
