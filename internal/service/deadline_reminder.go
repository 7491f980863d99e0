package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// ReminderResult counts what a reminder pass dispatched.
type ReminderResult struct {
	Assignments int
	Sent        int
	Deduped     int
}

// DeadlineReminder emits reminder notifications for deadlines that fall within a lead time.
type DeadlineReminder interface {
	SendReminders(ctx context.Context, lead time.Duration) (ReminderResult, error)
}

type deadlineReminder struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reviews     repository.ReviewAssignmentRepository
	directory   EnrollmentDirectory
	settings    SettingsProvider
	notifier    Notifier
	redis       *redis.Client
	keyPrefix   string
	logger      zerolog.Logger
	now         func() time.Time

	// claims dedups reminders when no redis client is configured.
	mu     sync.Mutex
	claims map[string]time.Time
}

// NewDeadlineReminder constructs the reminder emitter. Each (assignment, kind,
// deadline) reminder is claimed before it is sent: with SETNX when redisClient is
// set so only one instance sends it, otherwise in process memory.
func NewDeadlineReminder(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	reviews repository.ReviewAssignmentRepository,
	directory EnrollmentDirectory,
	settings SettingsProvider,
	notifier Notifier,
	redisClient *redis.Client,
	channelBase string,
	logger zerolog.Logger,
) DeadlineReminder {
	return &deadlineReminder{
		assignments: assignments,
		submissions: submissions,
		reviews:     reviews,
		directory:   directory,
		settings:    settings,
		notifier:    notifier,
		redis:       redisClient,
		keyPrefix:   channelBase + ":reminder",
		logger:      logger.With().Str("component", "deadline_reminder").Logger(),
		now:         time.Now,
		claims:      make(map[string]time.Time),
	}
}

func (r *deadlineReminder) SendReminders(ctx context.Context, lead time.Duration) (ReminderResult, error) {
	const op = "reminders.send"

	snapshot, err := r.settings.Snapshot(ctx)
	if err != nil {
		return ReminderResult{}, err
	}

	now := r.now().UTC()
	horizon := now.Add(lead)
	assignments, err := r.assignments.ListWithDeadlineBetween(ctx, now, horizon, snapshot.DefaultReviewWindow)
	if err != nil {
		return ReminderResult{}, storageError(op, err)
	}

	result := ReminderResult{Assignments: len(assignments)}
	for _, assignment := range assignments {
		if inWindow(assignment.SubmissionDeadline, now, horizon) {
			sent, err := r.remindSubmission(ctx, assignment, lead, &result)
			if err != nil {
				r.logger.Error().Err(err).Uint("assignment_id", assignment.ID).Msg("submission reminder failed")
			}
			result.Sent += sent
		}
		if reviewDeadline := assignment.EffectiveReviewDeadline(snapshot.DefaultReviewWindow); inWindow(reviewDeadline, now, horizon) {
			sent, err := r.remindReviewers(ctx, assignment, reviewDeadline, lead, &result)
			if err != nil {
				r.logger.Error().Err(err).Uint("assignment_id", assignment.ID).Msg("review reminder failed")
			}
			result.Sent += sent
		}
	}

	return result, nil
}

func inWindow(deadline, from, to time.Time) bool {
	return deadline.After(from) && !deadline.After(to)
}

// remindSubmission notifies active students of the section who have not submitted.
func (r *deadlineReminder) remindSubmission(ctx context.Context, assignment models.Assignment, lead time.Duration, result *ReminderResult) (int, error) {
	key := r.claimKey(assignment.ID, "submission", assignment.SubmissionDeadline)
	claimed, err := r.claim(ctx, key, lead)
	if err != nil || !claimed {
		if !claimed && err == nil {
			result.Deduped++
		}
		return 0, err
	}

	students, err := r.directory.ActiveStudentIDs(ctx, assignment.CourseSectionID)
	if err != nil {
		r.release(ctx, key)
		return 0, err
	}
	submissions, err := r.submissions.ListByAssignments(ctx, []uint{assignment.ID})
	if err != nil {
		r.release(ctx, key)
		return 0, err
	}
	submitted := make(map[uint]bool, len(submissions))
	for _, submission := range submissions {
		submitted[submission.StudentID] = true
	}

	message := fmt.Sprintf("%q is due %s.", assignment.Title, assignment.SubmissionDeadline.Format(time.RFC1123))
	sent := 0
	for _, studentID := range students {
		if submitted[studentID] {
			continue
		}
		if r.send(ctx, studentID, "Submission due soon", message) {
			sent++
		}
	}
	return sent, nil
}

// remindReviewers notifies reviewers whose obligations are still open.
func (r *deadlineReminder) remindReviewers(ctx context.Context, assignment models.Assignment, deadline time.Time, lead time.Duration, result *ReminderResult) (int, error) {
	key := r.claimKey(assignment.ID, "review", deadline)
	claimed, err := r.claim(ctx, key, lead)
	if err != nil || !claimed {
		if !claimed && err == nil {
			result.Deduped++
		}
		return 0, err
	}

	pairings, err := r.reviews.ListByAssignment(ctx, assignment.ID)
	if err != nil {
		r.release(ctx, key)
		return 0, err
	}

	message := fmt.Sprintf("Peer reviews for %q are due %s.", assignment.Title, deadline.Format(time.RFC1123))
	notified := make(map[uint]bool)
	sent := 0
	for _, pairing := range pairings {
		if pairing.IsAIReview || pairing.Status != models.ReviewAssignmentStatusPending || notified[pairing.ReviewerID] {
			continue
		}
		notified[pairing.ReviewerID] = true
		if r.send(ctx, pairing.ReviewerID, "Peer review due soon", message) {
			sent++
		}
	}
	return sent, nil
}

func (r *deadlineReminder) claimKey(assignmentID uint, kind string, deadline time.Time) string {
	return fmt.Sprintf("%s:%d:%s:%d", r.keyPrefix, assignmentID, kind, deadline.Unix())
}

// claim returns false when this reminder was already sent.
func (r *deadlineReminder) claim(ctx context.Context, key string, lead time.Duration) (bool, error) {
	ttl := lead + time.Hour
	if r.redis != nil {
		return r.redis.SetNX(ctx, key, r.now().UTC().Format(time.RFC3339), ttl).Result()
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for claimed, expires := range r.claims {
		if !now.Before(expires) {
			delete(r.claims, claimed)
		}
	}
	if _, ok := r.claims[key]; ok {
		return false, nil
	}
	r.claims[key] = now.Add(ttl)
	return true, nil
}

// release drops a claim whose reminder could not be prepared, so the next run retries it.
func (r *deadlineReminder) release(ctx context.Context, key string) {
	if r.redis != nil {
		if err := r.redis.Del(ctx, key).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("failed to release reminder claim")
		}
		return
	}
	r.mu.Lock()
	delete(r.claims, key)
	r.mu.Unlock()
}

func (r *deadlineReminder) send(ctx context.Context, userID uint, title, message string) bool {
	if r.notifier == nil {
		return false
	}
	if err := r.notifier.Notify(ctx, userID, title, message, models.NotificationTypeDeadline); err != nil {
		r.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to send deadline reminder")
		return false
	}
	return true
}
