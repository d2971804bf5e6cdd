package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

// ErrInvalidWindow is returned when to is before from.
var ErrInvalidWindow = errors.New("invalid window: to date is before from date")

// Result counts what an expansion did, or would do in preview mode.
type Result struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// SpecError records the failure of one spec in a batch run.
type SpecError struct {
	SpecID uint64
	Err    error
}

func (e SpecError) Error() string { return fmt.Sprintf("spec %d: %v", e.SpecID, e.Err) }

// BatchResult aggregates ExpandAll.
type BatchResult struct {
	Specs  int
	Result Result
	Errors []SpecError
}

// Generator materialises occurrences for recurrence specs.
type Generator struct {
	store repository.Store
	log   *slog.Logger
}

// NewGenerator returns a Generator writing through store.
func NewGenerator(store repository.Store, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{store: store, log: log}
}

// Expand creates the occurrences of spec inside [from, to].  Existing
// (spec, date, start_time) slots are skipped, so overlapping runs never
// duplicate.  With preview set nothing is written and the counts describe
// what would happen.  One spec is expanded in one transaction.
func (g *Generator) Expand(ctx context.Context, spec model.RecurrenceSpec, from, to time.Time, preview bool) (Result, error) {
	if model.DateOf(to).Before(model.DateOf(from)) {
		return Result{}, ErrInvalidWindow
	}
	dates := Dates(spec, from, to)
	if len(dates) == 0 || !spec.Active {
		return Result{}, nil
	}
	var res Result
	err := g.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res = Result{}
		for _, d := range dates {
			if preview {
				exists, err := tx.OccurrenceExists(ctx, spec.ID, d, spec.StartTime)
				if err != nil {
					return fmt.Errorf("check %s: %w", d.Format("2006-01-02"), err)
				}
				if exists {
					res.Skipped++
				} else {
					res.Created++
				}
				continue
			}
			specID := spec.ID
			o := model.Occurrence{
				ResourceID:   spec.ResourceID,
				RecurrenceID: &specID,
				Date:         d,
				StartTime:    spec.StartTime,
				EndTime:      spec.EndTime,
				Status:       model.OccurrenceScheduled,
			}
			created, err := tx.InsertOccurrenceIfAbsent(ctx, &o)
			if err != nil {
				return fmt.Errorf("create %s: %w", d.Format("2006-01-02"), err)
			}
			if created {
				res.Created++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !preview {
		metrics.OccurrencesGenerated.Add(float64(res.Created))
	}
	return res, nil
}

// ExpandAll expands every active spec overlapping [from, to].  A failing
// spec is recorded and does not stop its siblings.
func (g *Generator) ExpandAll(ctx context.Context, from, to time.Time, preview bool) (BatchResult, error) {
	if model.DateOf(to).Before(model.DateOf(from)) {
		return BatchResult{}, ErrInvalidWindow
	}
	specs, err := g.store.ListRecurrenceSpecs(ctx, model.DateOf(from), model.DateOf(to))
	if err != nil {
		return BatchResult{}, err
	}
	out := BatchResult{Specs: len(specs)}
	for _, spec := range specs {
		res, err := g.Expand(ctx, spec, from, to, preview)
		if err != nil {
			g.log.Error("recurrence expansion failed", slog.Uint64("spec_id", spec.ID), slog.Any("error", err))
			out.Errors = append(out.Errors, SpecError{SpecID: spec.ID, Err: err})
			continue
		}
		out.Result.Created += res.Created
		out.Result.Skipped += res.Skipped
	}
	g.log.Info("recurrence expansion finished",
		slog.Int("specs", out.Specs),
		slog.Int("created", out.Result.Created),
		slog.Int("skipped", out.Result.Skipped),
		slog.Bool("preview", preview),
	)
	return out, nil
}
