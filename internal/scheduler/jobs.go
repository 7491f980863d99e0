package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/service"
)

const aiBatchSize = 25

// StatusSweepJob recomputes assignment phases.
func StatusSweepJob(statuses service.AssignmentStatusService, interval time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name:     "status_sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			result, err := statuses.Sweep(ctx)
			if err != nil {
				return err
			}
			if result.Updated > 0 || result.Skipped > 0 {
				logger.Info().
					Int("evaluated", result.Evaluated).
					Int("updated", result.Updated).
					Int("skipped", result.Skipped).
					Msg("status sweep finished")
			}
			return nil
		},
	}
}

// DeadlineJob flags overdue review assignments and emits reminders for
// deadlines within lead. Both halves run even when one fails.
func DeadlineJob(tracker service.ReviewTracker, reminders service.DeadlineReminder, lead time.Duration, interval time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name:     "deadlines",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, overdueErr := tracker.MarkOverdue(ctx)

			result, reminderErr := reminders.SendReminders(ctx, lead)
			if reminderErr == nil && result.Sent > 0 {
				logger.Info().
					Int("assignments", result.Assignments).
					Int("sent", result.Sent).
					Int("deduped", result.Deduped).
					Msg("deadline reminders sent")
			}

			return errors.Join(overdueErr, reminderErr)
		},
	}
}

// AIScoringJob drains pending automated review assignments.
func AIScoringJob(reviewer service.AIReviewService, interval time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name:     "ai_scoring",
		Interval: interval,
		Run: func(ctx context.Context) error {
			result, err := reviewer.ScorePending(ctx, aiBatchSize)
			if err != nil {
				return err
			}
			if result.Scored > 0 || result.Failed > 0 {
				logger.Info().Int("scored", result.Scored).Int("failed", result.Failed).Msg("automated reviews processed")
			}
			return nil
		},
	}
}
