package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservation/internal/model"
)

var (
	reservationColumns = []string{
		"id", "reference", "member_id", "guest_name", "guest_email", "guest_phone", "occurrence_id",
		"quantity", "status", "payment_status", "provider", "intent_id", "credit_kind", "credits_used",
		"amount_minor", "currency", "attendance", "created_at", "updated_at", "cancelled_at",
	}
	occurrenceColumns = []string{
		"id", "resource_id", "recurrence_id", "date", "start_time", "end_time",
		"capacity", "price_minor", "status", "created_at", "updated_at",
		"kind", "name", "category", "default_capacity", "default_price_minor",
	}
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

// duplicateKey mimics the driver error for a second active reservation;
// the generated active_member_key column carries the unique index.
func duplicateKey(key string) error {
	return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '5-7' for key 'reservations." + key + "'"}
}

func occurrenceRow(id int64) *sqlmock.Rows {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(occurrenceColumns).AddRow(
		id, int64(3), int64(2), time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), "09:00:00", "10:00:00",
		nil, int64(1500), model.OccurrenceScheduled, now, now,
		"class", "Morning flow", "yoga", int64(12), int64(2000),
	)
}

func TestLockOccurrenceSelectsForUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`JOIN resources r ON r\.id = o\.resource_id WHERE o\.id = \? FOR UPDATE OF o$`).
		WithArgs(7).
		WillReturnRows(occurrenceRow(7))
	mock.ExpectCommit()

	var got model.Occurrence
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		got, err = tx.LockOccurrence(ctx, 7)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.ID)
	require.NotNil(t, got.RecurrenceID)
	assert.Equal(t, uint64(2), *got.RecurrenceID)
	assert.Nil(t, got.CapacityOverride)
	assert.Equal(t, 12, got.EffectiveCapacity())
	require.NotNil(t, got.PriceOverride)
	assert.Equal(t, int64(1500), *got.PriceOverride)
	assert.Equal(t, model.MustTimeOfDay("09:00"), got.StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockReservationRebuildsHolder(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		row    []driver.Value
		member uint64
		guest  *model.Guest
	}{
		{
			name: "member",
			row: []driver.Value{
				int64(1), "R-1", int64(5), nil, nil, nil, int64(7),
				int64(1), model.StatusBooked, model.PaymentIncluded, model.ProviderIncluded, nil, "class", int64(1),
				int64(0), "gbp", model.AttendanceUnknown, now, now, nil,
			},
			member: 5,
		},
		{
			name: "guest",
			row: []driver.Value{
				int64(2), "R-2", nil, "Ada", "ada@example.com", "+447700900123", int64(7),
				int64(2), model.StatusReserved, model.PaymentPending, model.ProviderCard, "pi_1", "class", int64(0),
				int64(3000), "gbp", model.AttendanceUnknown, now, now, nil,
			},
			guest: &model.Guest{Name: "Ada", Email: "ada@example.com", Phone: "+447700900123"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE$`).
				WillReturnRows(sqlmock.NewRows(reservationColumns).AddRow(tc.row...))
			mock.ExpectCommit()

			var got model.Reservation
			err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
				var err error
				got, err = tx.LockReservation(ctx, uint64(tc.row[0].(int64)))
				return err
			})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
			if tc.guest == nil {
				assert.True(t, got.Holder.IsMember())
				assert.Equal(t, tc.member, got.Holder.MemberID())
				assert.Nil(t, got.IntentID)
				return
			}
			g, ok := got.Holder.Guest()
			require.True(t, ok)
			assert.Equal(t, *tc.guest, g)
			require.NotNil(t, got.IntentID)
			assert.Equal(t, "pi_1", *got.IntentID)
			assert.Equal(t, int64(3000), got.AmountMinor)
		})
	}
}

func TestLockReservationMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE$`).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(reservationColumns))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockReservation(ctx, 99)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockActiveMembershipSelectsLatestForUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE member_id = \? AND status = 'active' .* ORDER BY starts_at DESC, id DESC LIMIT 1 FOR UPDATE$`).
		WithArgs(5, now, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "member_id", "plan_id", "granted_class", "granted_event", "remaining_class", "remaining_event",
			"status", "starts_at", "expires_at", "updated_at",
		}))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockActiveMembership(ctx, 5, now)
		return err
	})
	assert.ErrorIs(t, err, ErrNoActiveMembership)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReservationDuplicateActiveMember(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(duplicateKey("uq_reservation_active_member"))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertReservation(ctx, &model.Reservation{
			Reference:     "R-3",
			Holder:        model.NewMemberHolder(5),
			OccurrenceID:  7,
			Quantity:      1,
			Status:        model.StatusBooked,
			PaymentStatus: model.PaymentIncluded,
			Provider:      model.ProviderIncluded,
			CreditKind:    model.CreditClass,
			Currency:      "gbp",
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReservationOtherErrorsPassThrough(t *testing.T) {
	store, mock := newMockStore(t)
	fk := &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).WillReturnError(fk)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertReservation(ctx, &model.Reservation{Holder: model.NewMemberHolder(5), OccurrenceID: 404})
	})
	assert.False(t, errors.Is(err, ErrConflict))
	assert.ErrorIs(t, err, fk)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOccurrenceIfAbsent(t *testing.T) {
	rec := uint64(2)
	slot := func() *model.Occurrence {
		return &model.Occurrence{
			ResourceID:   3,
			RecurrenceID: &rec,
			Date:         time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
			StartTime:    model.MustTimeOfDay("09:00"),
			EndTime:      model.MustTimeOfDay("10:00"),
		}
	}

	t.Run("inserts new slot", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO occurrences`).
			WithArgs(3, 2, "2026-05-04", "09:00:00", "10:00:00", nil, nil, model.OccurrenceScheduled).
			WillReturnResult(sqlmock.NewResult(11, 1))
		mock.ExpectQuery(`WHERE o\.id = \?$`).WithArgs(11).WillReturnRows(occurrenceRow(11))
		mock.ExpectCommit()

		o := slot()
		var inserted bool
		err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
			var err error
			inserted, err = tx.InsertOccurrenceIfAbsent(ctx, o)
			return err
		})
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, uint64(11), o.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips existing slot", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO occurrences`).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'occurrences.uq_occurrence_recurrence'"})
		mock.ExpectCommit()

		var inserted bool
		err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
			var err error
			inserted, err = tx.InsertOccurrenceIfAbsent(ctx, slot())
			return err
		})
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordWebhookEventDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO webhook_events`).
		WithArgs("card", "evt_1", "pi_1", "succeeded").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'card-evt_1' for key 'webhook_events.uq_webhook_event'"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.RecordWebhookEvent(ctx, model.WebhookEvent{
			Provider: "card", ExternalID: "evt_1", IntentID: "pi_1", Outcome: "succeeded",
		})
	})
	assert.ErrorIs(t, err, ErrEventAlreadyProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIntentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE provider = \? AND intent_id = \? ORDER BY id DESC LIMIT 1$`).
		WithArgs("bank_transfer", "pay_9").
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindReservationByIntent(context.Background(), "bank_transfer", "pay_9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
