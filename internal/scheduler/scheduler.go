package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// WorkflowFunc is one schedulable workflow invocation.
type WorkflowFunc func(ctx context.Context) error

// Options tune the wall-clock schedules.
type Options struct {
	CheckCron  string
	DigestTime string
	Timezone   string
}

// Scheduler binds the two workflows to fixed wall-clock schedules. There is
// no overlap detection: if a tick fires while the previous invocation is
// still running, both run concurrently.
type Scheduler struct {
	opts   Options
	cron   *gocron.Scheduler
	logger zerolog.Logger
}

// New constructs scheduler bindings in the configured timezone.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone: %w", err)
	}

	return &Scheduler{
		opts:   opts,
		cron:   gocron.NewScheduler(loc),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start registers both workflows and begins the scheduling loop. Workflow
// failures are logged and swallowed; they never terminate the scheduler.
func (s *Scheduler) Start(ctx context.Context, checkPrice, sendDigest WorkflowFunc) error {
	if _, err := s.cron.Cron(s.opts.CheckCron).Do(s.wrap(ctx, "price_check", checkPrice)); err != nil {
		return fmt.Errorf("register price check job: %w", err)
	}

	if _, err := s.cron.Every(1).Day().At(s.opts.DigestTime).Do(s.wrap(ctx, "daily_digest", sendDigest)); err != nil {
		return fmt.Errorf("register daily digest job: %w", err)
	}

	s.cron.StartAsync()
	s.logger.Info().
		Str("check_cron", s.opts.CheckCron).
		Str("digest_time", s.opts.DigestTime).
		Str("timezone", s.opts.Timezone).
		Msg("scheduler started")
	return nil
}

// Stop halts the scheduling loop. Running invocations are not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) wrap(ctx context.Context, name string, fn WorkflowFunc) func() {
	return func() {
		started := time.Now()
		s.logger.Info().Str("workflow", name).Msg("scheduled workflow triggered")

		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).
				Str("workflow", name).
				Dur("elapsed", time.Since(started)).
				Msg("scheduled workflow failed")
			return
		}

		s.logger.Info().
			Str("workflow", name).
			Dur("elapsed", time.Since(started)).
			Msg("scheduled workflow completed")
	}
}
