package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

func newTestReminder(t *testing.T, engine *testEngine, client *redis.Client) DeadlineReminder {
	t.Helper()
	reminder := NewDeadlineReminder(engine.assignments, engine.submissions, engine.reviews, engine.enrollments, engine.settings, engine.notifier, client, "gema:review", testLogger())
	reminder.(*deadlineReminder).now = func() time.Time { return engine.now }
	return reminder
}

func TestDeadlineReminderNotifiesMissingSubmissionsOnce(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	engine := newTestEngine(t)
	assignment := engine.seedAssignment(t, func(a *models.Assignment) {
		a.Status = models.AssignmentStatusActive
		a.SubmissionDeadline = engine.now.Add(12 * time.Hour)
		reviewDeadline := engine.now.Add(96 * time.Hour)
		a.ReviewDeadline = &reviewDeadline
	})
	engine.enroll(t, 1, 1, 2, 3)
	engine.submit(t, assignment.ID, 1)

	reminder := newTestReminder(t, engine, client)
	ctx := context.Background()

	first, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReminderResult{Assignments: 1, Sent: 2}, first)
	require.Equal(t, 2, engine.notifier.count(models.NotificationTypeDeadline))

	second, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReminderResult{Assignments: 1, Deduped: 1}, second)
	require.Equal(t, 2, engine.notifier.count(models.NotificationTypeDeadline))
}

func TestDeadlineReminderNotifiesPendingReviewers(t *testing.T) {
	engine := newTestEngine(t)
	assignment := engine.seedAssignment(t, func(a *models.Assignment) {
		reviewDeadline := engine.now.Add(6 * time.Hour)
		a.ReviewDeadline = &reviewDeadline
	})
	engine.enroll(t, 1, 1, 2, 3)
	first := engine.submit(t, assignment.ID, 1)
	second := engine.submit(t, assignment.ID, 2)
	engine.pair(t, assignment, first, 3)
	engine.pair(t, assignment, second, 3)
	done := engine.pair(t, assignment, second, 1)
	require.NoError(t, engine.db.Model(&models.ReviewAssignment{}).
		Where("id = ?", done.ID).
		Update("status", models.ReviewAssignmentStatusCompleted).Error)

	reminder := newTestReminder(t, engine, nil)

	result, err := reminder.SendReminders(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 1, engine.notifier.count(models.NotificationTypeDeadline))
	require.Equal(t, uint(3), engine.notifier.sent[0].UserID)
}

func TestDeadlineReminderIgnoresDeadlinesOutsideLead(t *testing.T) {
	engine := newTestEngine(t)
	engine.seedAssignment(t, nil)
	engine.enroll(t, 1, 1, 2)

	result, err := newTestReminder(t, engine, nil).SendReminders(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Zero(t, result.Assignments)
	require.Zero(t, engine.notifier.count(models.NotificationTypeDeadline))
}

func TestDeadlineReminderUsesDefaultReviewWindow(t *testing.T) {
	engine := newTestEngine(t)
	assignment := engine.seedAssignment(t, func(a *models.Assignment) {
		a.SubmissionDeadline = engine.now.Add(-60 * time.Hour)
		a.ReviewDeadline = nil
	})
	engine.enroll(t, 1, 1, 2)
	submission := engine.submit(t, assignment.ID, 1)
	engine.pair(t, assignment, submission, 2)

	reminder := newTestReminder(t, engine, nil)
	ctx := context.Background()

	first, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReminderResult{Assignments: 1, Sent: 1}, first)
	require.Equal(t, uint(2), engine.notifier.sent[0].UserID)
	require.Equal(t, "Peer review due soon", engine.notifier.sent[0].Title)

	// Without redis the claim is kept in memory, so the next run does not resend.
	second, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReminderResult{Assignments: 1, Deduped: 1}, second)
	require.Equal(t, 1, engine.notifier.count(models.NotificationTypeDeadline))
}

type unavailableDirectory struct{}

func (unavailableDirectory) ActiveStudentIDs(ctx context.Context, courseSectionID uint) ([]uint, error) {
	return nil, errors.New("directory unavailable")
}

func TestDeadlineReminderReleasesClaimWhenLookupFails(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	engine := newTestEngine(t)
	assignment := engine.seedAssignment(t, func(a *models.Assignment) {
		a.Status = models.AssignmentStatusActive
		a.SubmissionDeadline = engine.now.Add(12 * time.Hour)
		reviewDeadline := engine.now.Add(96 * time.Hour)
		a.ReviewDeadline = &reviewDeadline
	})
	engine.enroll(t, 1, 1, 2)

	reminder := newTestReminder(t, engine, client)
	reminder.(*deadlineReminder).directory = unavailableDirectory{}
	ctx := context.Background()

	failed, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, failed.Sent)
	key := fmt.Sprintf("gema:review:reminder:%d:submission:%d", assignment.ID, assignment.SubmissionDeadline.Unix())
	require.False(t, server.Exists(key))

	reminder.(*deadlineReminder).directory = engine.enrollments
	retried, err := reminder.SendReminders(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, retried.Sent)
	require.True(t, server.Exists(key))
}
