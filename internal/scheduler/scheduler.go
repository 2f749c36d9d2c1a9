// Package scheduler runs the periodic auto-scan sweep. For every tenant with
// an auto-scan preference it re-announces recently captured jobs that still
// have no analysis, which also retries analyses that failed earlier.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/types"
)

const (
	DefaultSchedule  = "@every 30m"
	DefaultLookback  = 24 * time.Hour
	DefaultBatchSize = 100
)

// Store is the persistence the sweep needs
type Store interface {
	ListAutoScanTenants(ctx context.Context) ([]uuid.UUID, error)
	ListUnanalyzedJobs(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]types.Job, error)
}

// Options configures the scheduler
type Options struct {
	Schedule  string        // cron spec, e.g. "@every 30m"
	Lookback  time.Duration // how far back captured jobs are considered
	BatchSize int           // max jobs re-announced per tenant per sweep
}

// Scheduler wraps robfig/cron and manages the sweep
type Scheduler struct {
	cron  *cron.Cron
	store Store
	bus   *events.Bus
	opts  Options
	log   *zap.SugaredLogger
	now   func() time.Time
}

// New creates a Scheduler. Overlapping sweeps are skipped.
func New(store Store, bus *events.Bus, opts Options, log *zap.SugaredLogger) *Scheduler {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:  cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		store: store,
		bus:   bus,
		opts:  opts,
		log:   log,
		now:   time.Now,
	}
}

// Start registers the sweep and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.opts.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Errorw("Auto-scan sweep failed", "error", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid scan schedule %q", s.opts.Schedule)
	}

	s.cron.Start()
	s.log.Infow("Scheduler started", "schedule", s.opts.Schedule, "lookback", s.opts.Lookback)
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Infow("Scheduler stopped")
}

// Sweep re-announces unanalysed jobs for every auto-scan tenant and returns
// how many were published. A failing tenant does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	tenants, err := s.store.ListAutoScanTenants(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list auto-scan tenants")
	}
	if len(tenants) == 0 {
		s.log.Debugw("No auto-scan tenants, nothing to sweep")
		return 0, nil
	}

	since := s.now().Add(-s.opts.Lookback)
	published := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		jobs, err := s.store.ListUnanalyzedJobs(ctx, tenantID, since, s.opts.BatchSize)
		if err != nil {
			s.log.Warnw("Failed to list unanalysed jobs", "tenant_id", tenantID, "error", err)
			continue
		}

		for _, job := range jobs {
			s.bus.Publish(ctx, events.Event{
				Kind:     events.JobCaptured,
				TenantID: tenantID,
				Payload:  events.JobCapturedPayload{JobID: job.ID},
			})
		}
		if len(jobs) > 0 {
			s.log.Infow("Re-announced unanalysed jobs", "tenant_id", tenantID, "count", len(jobs))
		}
		published += len(jobs)
	}
	return published, nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
