// Package scheduler runs the periodic maintenance jobs: expiring
// abandoned checkouts and keeping a rolling window of occurrences
// generated ahead of time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/studio-reservation/internal/recurrence"
	"github.com/iliyamo/studio-reservation/internal/reservation"
)

// Expirer is satisfied by *reservation.Engine.
type Expirer interface {
	ExpireStalePending(ctx context.Context, olderThan time.Duration, dryRun bool) (reservation.ExpireResult, error)
}

// Expander is satisfied by *recurrence.Generator.
type Expander interface {
	ExpandAll(ctx context.Context, from, to time.Time, preview bool) (recurrence.BatchResult, error)
}

// Config holds the cron specs and job parameters.  An empty spec
// disables its job.
type Config struct {
	ExpireSchedule   string
	PendingExpiry    time.Duration
	GenerateSchedule string
	GenerateDays     int
	JobTimeout       time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	expirer  Expirer
	expander Expander
	log      *slog.Logger
	now      func() time.Time
}

// New registers the jobs.  A job still running when its next tick fires
// is skipped.
func New(cfg Config, expirer Expirer, expander Expander, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	s := &Scheduler{
		cfg:      cfg,
		expirer:  expirer,
		expander: expander,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)
	if cfg.ExpireSchedule != "" && expirer != nil {
		if cfg.PendingExpiry <= 0 {
			return nil, fmt.Errorf("pending expiry must be positive, got %s", cfg.PendingExpiry)
		}
		if _, err := s.cron.AddFunc(cfg.ExpireSchedule, s.expire); err != nil {
			return nil, fmt.Errorf("expire schedule %q: %w", cfg.ExpireSchedule, err)
		}
	}
	if cfg.GenerateSchedule != "" && expander != nil {
		if cfg.GenerateDays <= 0 {
			return nil, fmt.Errorf("generate days must be positive, got %d", cfg.GenerateDays)
		}
		if _, err := s.cron.AddFunc(cfg.GenerateSchedule, s.generate); err != nil {
			return nil, fmt.Errorf("generate schedule %q: %w", cfg.GenerateSchedule, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops new runs and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	res, err := s.expirer.ExpireStalePending(ctx, s.cfg.PendingExpiry, false)
	if err != nil {
		s.log.Error("expire job failed", slog.Any("error", err))
		return
	}
	if res.Expired > 0 {
		s.log.Info("expire job", slog.Int("expired", res.Expired))
	}
}

func (s *Scheduler) generate() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	from := s.now()
	to := from.AddDate(0, 0, s.cfg.GenerateDays)
	if _, err := s.expander.ExpandAll(ctx, from, to, false); err != nil {
		s.log.Error("generate job failed", slog.Any("error", err))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, kv...)...)
}
