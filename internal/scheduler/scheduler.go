// Package scheduler wraps robfig/cron behind a small injectable interface
// so the engine's job handlers stay testable by direct invocation, without
// waiting on wall-clock time.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler registers named jobs against cron expressions and runs them in
// the business timezone. Implementations must be safe to Start once and
// Stop once.
type Scheduler interface {
	// Register schedules fn under the given standard 5-field cron spec.
	Register(spec, name string, fn func(ctx context.Context)) error
	// Start begins evaluating schedules. Non-blocking.
	Start()
	// Stop halts scheduling and waits for running jobs to finish.
	Stop()
}

// CronScheduler is the production Scheduler backed by robfig/cron.
type CronScheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewCron constructs a CronScheduler evaluating expressions in loc.
func NewCron(loc *time.Location, log zerolog.Logger) *CronScheduler {
	return &CronScheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register schedules fn under spec. Each run gets a background context;
// jobs are expected to bound their own work.
func (s *CronScheduler) Register(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.log.Info().Str("job", name).Msg("job started")
		fn(context.Background())
		s.log.Info().
			Str("job", name).
			Dur("elapsed", time.Since(start)).
			Msg("job finished")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// Start begins evaluating schedules in a background goroutine.
func (s *CronScheduler) Start() { s.cron.Start() }

// Stop halts scheduling and blocks until in-flight jobs complete.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
