package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
	"github.com/iliyamo/studio-reservation/internal/repository/memory"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func spec(p model.Pattern, days ...model.Weekday) model.RecurrenceSpec {
	return model.RecurrenceSpec{
		ID:        1,
		Pattern:   p,
		Days:      days,
		StartTime: model.MustTimeOfDay("09:00"),
		EndTime:   model.MustTimeOfDay("10:00"),
		StartDate: day("2024-01-01"),
		Active:    true,
	}
}

func TestMatches(t *testing.T) {
	monday := day("2024-01-01")
	tuesday := day("2024-01-02")

	tests := []struct {
		name string
		spec model.RecurrenceSpec
		date time.Time
		want bool
	}{
		{"one_off on start date", spec(model.PatternOneOff), monday, true},
		{"one_off after start date", spec(model.PatternOneOff), tuesday, false},
		{"daily", spec(model.PatternDaily), tuesday, true},
		{"weekly listed day", spec(model.PatternWeekly, model.Mon), monday, true},
		{"weekly unlisted day", spec(model.PatternWeekly, model.Mon), tuesday, false},
		{"multi_weekly", spec(model.PatternMultiWeekly, model.Mon, model.Tue), tuesday, true},
		{"weekly with empty days never matches", spec(model.PatternWeekly), monday, false},
		{"unknown pattern", spec(model.Pattern("hourly")), monday, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.date, tt.spec))
		})
	}
}

func TestWindowClampsToSpecRange(t *testing.T) {
	s := spec(model.PatternDaily)
	end := day("2024-01-10")
	s.EndDate = &end

	start, stop, ok := Window(s, day("2023-12-01"), day("2024-02-01"))
	require.True(t, ok)
	assert.Equal(t, day("2024-01-01"), start)
	assert.Equal(t, day("2024-01-10"), stop)

	_, _, ok = Window(s, day("2024-02-01"), day("2024-03-01"))
	assert.False(t, ok)
}

func TestDatesWeeklyMonWed(t *testing.T) {
	s := spec(model.PatternWeekly, model.Mon, model.Wed)
	got := Dates(s, day("2024-01-01"), day("2024-01-14"))
	assert.Equal(t, []time.Time{day("2024-01-01"), day("2024-01-03"), day("2024-01-08"), day("2024-01-10")}, got)
}

func seedSpec(t *testing.T, store *memory.Store, s model.RecurrenceSpec) model.RecurrenceSpec {
	t.Helper()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		res := model.Resource{Name: "Yoga", Kind: model.KindSession, DefaultCapacity: 10, DefaultPrice: 1200, Active: true}
		if err := tx.InsertResource(ctx, &res); err != nil {
			return err
		}
		s.ResourceID = res.ID
		return tx.InsertRecurrenceSpec(ctx, &s)
	})
	require.NoError(t, err)
	return s
}

func TestExpandWeeklyCreatesFourAndIsIdempotent(t *testing.T) {
	store := memory.New()
	s := seedSpec(t, store, spec(model.PatternWeekly, model.Mon, model.Wed))
	g := NewGenerator(store, nil)
	ctx := context.Background()

	first, err := g.Expand(ctx, s, day("2024-01-01"), day("2024-01-14"), false)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 4, Skipped: 0}, first)

	second, err := g.Expand(ctx, s, day("2024-01-01"), day("2024-01-14"), false)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 0, Skipped: 4}, second)

	list, err := store.ListOccurrences(ctx, model.OccurrenceFilter{})
	require.NoError(t, err)
	require.Len(t, list, 4)
	for _, o := range list {
		assert.Nil(t, o.CapacityOverride)
		assert.Nil(t, o.PriceOverride)
		assert.Equal(t, 10, o.EffectiveCapacity())
	}
}

func TestExpandOverlappingWindows(t *testing.T) {
	store := memory.New()
	s := seedSpec(t, store, spec(model.PatternDaily))
	g := NewGenerator(store, nil)
	ctx := context.Background()

	_, err := g.Expand(ctx, s, day("2024-01-01"), day("2024-01-05"), false)
	require.NoError(t, err)
	res, err := g.Expand(ctx, s, day("2024-01-04"), day("2024-01-08"), false)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 3, Skipped: 2}, res)
}

func TestExpandPreviewDoesNotWrite(t *testing.T) {
	store := memory.New()
	s := seedSpec(t, store, spec(model.PatternDaily))
	g := NewGenerator(store, nil)
	ctx := context.Background()

	res, err := g.Expand(ctx, s, day("2024-01-01"), day("2024-01-03"), true)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 3}, res)

	list, err := store.ListOccurrences(ctx, model.OccurrenceFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExpandRejectsInvertedWindow(t *testing.T) {
	g := NewGenerator(memory.New(), nil)
	_, err := g.Expand(context.Background(), spec(model.PatternDaily), day("2024-01-05"), day("2024-01-01"), false)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestExpandAllSkipsInactiveAndOutOfRange(t *testing.T) {
	store := memory.New()
	seedSpec(t, store, spec(model.PatternDaily))
	inactive := spec(model.PatternDaily)
	inactive.Active = false
	seedSpec(t, store, inactive)
	g := NewGenerator(store, nil)

	out, err := g.ExpandAll(context.Background(), day("2024-01-01"), day("2024-01-02"), false)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Specs)
	assert.Equal(t, 2, out.Result.Created)
	assert.Empty(t, out.Errors)
}
