package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/database"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

type staticSettings struct {
	settings Settings
}

func (s staticSettings) Snapshot(ctx context.Context) (Settings, error) {
	return s.settings, nil
}

func defaultTestSettings() Settings {
	return Settings{
		ScorePrecision:       0.5,
		DefaultPassThreshold: 6,
		MaxScore:             10,
		RegradeSLADays:       7,
		DefaultReviewWindow:  72 * time.Hour,
	}
}

type sentNotification struct {
	UserID uint
	Title  string
	Kind   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uint, title, message, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Title: title, Kind: kind})
	return nil
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, item := range n.sent {
		if item.Kind == kind {
			total++
		}
	}
	return total
}

// testEngine wires every engine service against one SQLite database with a fixed clock.
type testEngine struct {
	db          *gorm.DB
	now         time.Time
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reviews     repository.ReviewAssignmentRepository
	regrades    repository.RegradeRepository
	enrollments repository.EnrollmentRepository
	notifier    *recordingNotifier
	settings    staticSettings
	audit       AuditService

	aggregator GradeAggregator
	matcher    ReviewMatcher
	tracker    ReviewTracker
	regrade    RegradeService
	statuses   AssignmentStatusService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	db := newServiceTestDB(t)
	validate := validator.New(validator.WithRequiredStructEnabled())
	engine := &testEngine{
		db:          db,
		now:         time.Now().UTC().Truncate(time.Second),
		assignments: repository.NewAssignmentRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		reviews:     repository.NewReviewAssignmentRepository(db),
		regrades:    repository.NewRegradeRepository(db),
		enrollments: repository.NewEnrollmentRepository(db),
		notifier:    &recordingNotifier{},
		settings:    staticSettings{settings: defaultTestSettings()},
	}
	engine.audit = NewAuditService(repository.NewAuditRepository(db), validate, testLogger())
	clock := func() time.Time { return engine.now }

	aggregator := NewGradeAggregator(engine.assignments, engine.submissions, engine.reviews, engine.regrades, engine.settings, engine.notifier, engine.audit, validate, testLogger())
	aggregator.(*gradeAggregator).now = clock
	engine.aggregator = aggregator

	matcher := NewReviewMatcher(engine.assignments, engine.submissions, engine.reviews, engine.enrollments, engine.settings, engine.notifier, testLogger())
	matcher.(*reviewMatcher).now = clock
	engine.matcher = matcher

	tracker := NewReviewTracker(engine.assignments, engine.submissions, engine.reviews, aggregator, engine.settings, validate, testLogger())
	tracker.(*reviewTracker).now = clock
	engine.tracker = tracker

	regrade := NewRegradeService(engine.regrades, engine.submissions, engine.settings, engine.notifier, engine.audit, validate, testLogger())
	regrade.(*regradeService).now = clock
	engine.regrade = regrade

	statuses := NewAssignmentStatusService(engine.assignments, engine.submissions, engine.settings, engine.audit, testLogger())
	statuses.(*assignmentStatusService).now = clock
	engine.statuses = statuses

	return engine
}

// seedAssignment stores an in-review essay in section 1 scored out of 10.
func (e *testEngine) seedAssignment(t *testing.T, mutate func(*models.Assignment)) models.Assignment {
	t.Helper()

	reviewDeadline := e.now.Add(48 * time.Hour)
	assignment := models.Assignment{
		CourseSectionID:        1,
		Title:                  "Essay",
		StartDate:              e.now.Add(-72 * time.Hour),
		SubmissionDeadline:     e.now.Add(-24 * time.Hour),
		ReviewDeadline:         &reviewDeadline,
		NumPeerReviewsRequired: 2,
		InstructorWeight:       60,
		PeerWeight:             40,
		MaxScore:               10,
		Status:                 models.AssignmentStatusInReview,
	}
	if mutate != nil {
		mutate(&assignment)
	}
	require.NoError(t, e.assignments.Create(context.Background(), &assignment))
	return assignment
}

func (e *testEngine) enroll(t *testing.T, sectionID uint, studentIDs ...uint) {
	t.Helper()
	for _, id := range studentIDs {
		require.NoError(t, e.enrollments.Create(context.Background(), &models.Enrollment{CourseSectionID: sectionID, StudentID: id, Active: true}))
	}
}

func (e *testEngine) deactivate(t *testing.T, sectionID, studentID uint) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Enrollment{}).
		Where("course_section_id = ? AND student_id = ?", sectionID, studentID).
		Update("active", false).Error)
}

func (e *testEngine) submit(t *testing.T, assignmentID, studentID uint) models.Submission {
	t.Helper()
	submission := models.Submission{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		FileURL:      "https://files.example/submission.pdf",
		SubmittedAt:  e.now.Add(-30 * time.Hour),
		Status:       models.SubmissionStatusSubmitted,
	}
	require.NoError(t, e.submissions.Create(context.Background(), &submission))
	return submission
}

func (e *testEngine) pair(t *testing.T, assignment models.Assignment, submission models.Submission, reviewerID uint) models.ReviewAssignment {
	t.Helper()
	pairs := []models.ReviewAssignment{{
		AssignmentID: assignment.ID,
		SubmissionID: submission.ID,
		ReviewerID:   reviewerID,
		Status:       models.ReviewAssignmentStatusPending,
		AssignedAt:   e.now,
		Deadline:     e.now.Add(24 * time.Hour),
	}}
	_, err := e.reviews.CreateForSubmission(context.Background(), pairs)
	require.NoError(t, err)
	return pairs[0]
}

func (e *testEngine) setAssignmentStatus(t *testing.T, assignmentID uint, status models.AssignmentStatus) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Assignment{}).Where("id = ?", assignmentID).Update("status", status).Error)
}

func floatPtr(v float64) *float64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}
