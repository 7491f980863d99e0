package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-review-engine/internal/observability"
)

// Job is a periodic background task. Jobs talk to shared storage only, so
// several processes may run the same job concurrently.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs independent ticker-driven jobs until its context is cancelled.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

// New constructs a scheduler. Jobs without a positive interval are skipped.
func New(logger zerolog.Logger, jobs ...Job) *Scheduler {
	enabled := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.Warn().Str("job", job.Name).Msg("job disabled")
			continue
		}
		enabled = append(enabled, job)
	}

	return &Scheduler{
		jobs:   enabled,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start blocks until ctx is done. Each job runs once immediately and then on
// every tick; a failing run is logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		group.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	err := group.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single run of job, recording its outcome. Runs are bounded
// by the job interval so a stuck run cannot overlap the next tick forever.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) bool {
	runCtx, cancel := context.WithTimeout(ctx, job.Interval)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	observability.SchedulerDuration().WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		observability.SchedulerRuns().WithLabelValues(job.Name, "error").Inc()
		s.logger.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
		return false
	}

	observability.SchedulerRuns().WithLabelValues(job.Name, "ok").Inc()
	return true
}
