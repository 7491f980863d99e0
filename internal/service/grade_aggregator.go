package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/observability"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// maxRecomputeAttempts bounds the optimistic read-modify-write loop of a recompute.
const maxRecomputeAttempts = 3

// publishQuorum is the share of active enrolled students that must hold a graded
// submission before grades can be published without force.
const publishQuorum = 0.5

// GradeAggregator derives submission grades and controls their publication.
type GradeAggregator interface {
	RecomputeSubmissionScore(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error)
	GradeSubmission(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest, actor Actor) (dto.SubmissionResponse, error)
	PublishGrades(ctx context.Context, assignmentID uint, force bool, actor Actor) (dto.PublishGradesResponse, error)
	ArchiveAssignment(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error)
	GetSubmission(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error)
	ListSubmissions(ctx context.Context, assignmentID uint) ([]dto.SubmissionResponse, error)
}

type gradeAggregator struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reviews     repository.ReviewAssignmentRepository
	regrades    repository.RegradeRepository
	settings    SettingsProvider
	notifier    Notifier
	audit       AuditRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradeAggregator wires the grade aggregator. notifier and audit may be nil.
func NewGradeAggregator(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	reviews repository.ReviewAssignmentRepository,
	regrades repository.RegradeRepository,
	settings SettingsProvider,
	notifier Notifier,
	audit AuditRecorder,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradeAggregator {
	return &gradeAggregator{
		assignments: assignments,
		submissions: submissions,
		reviews:     reviews,
		regrades:    regrades,
		settings:    settings,
		notifier:    notifier,
		audit:       audit,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "grade_aggregator").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-review-engine/internal/service/grade_aggregator"),
		now:         time.Now,
	}
}

// gradeMutation is applied to a freshly loaded submission before its score is recomputed.
type gradeMutation func(submission *models.Submission, assignment models.Assignment, snapshot Settings) error

func (s *gradeAggregator) RecomputeSubmissionScore(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grades.recompute", trace.WithAttributes(
		attribute.Int64("grades.submission_id", int64(submissionID)),
	))
	defer span.End()

	submission, err := s.recompute(ctx, "grades.recompute", submissionID, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute_failed")
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission), nil
}

// GradeSubmission records the instructor score and feedback, then recomputes the
// final grade in the same optimistic write.
func (s *gradeAggregator) GradeSubmission(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest, actor Actor) (dto.SubmissionResponse, error) {
	const op = "grades.grade"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("grades.submission_id", int64(submissionID)),
		attribute.Int64("grades.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, validationError(op, "%s", err.Error())
	}

	feedback := strings.TrimSpace(s.sanitizer.Sanitize(payload.Feedback))
	submission, err := s.recompute(ctx, op, submissionID, func(submission *models.Submission, assignment models.Assignment, snapshot Settings) error {
		scale := assignment.ScoreScale(snapshot.MaxScore)
		if payload.Score > scale+roundingEpsilon {
			return validationError(op, "score %v exceeds max score %v", payload.Score, scale)
		}

		score := payload.Score
		gradedBy := actor.ID
		submission.InstructorScore = &score
		submission.Feedback = feedback
		submission.GradedBy = &gradedBy
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(attribute.Float64("grades.instructor_score", payload.Score))
	recordAudit(ctx, s.audit, actor, AuditSubmissionGraded, "submission", submission.ID, map[string]interface{}{
		"instructor_score": payload.Score,
		"final_score":      submission.FinalScore,
	})
	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradeAggregator) recompute(ctx context.Context, op string, submissionID uint, mutate gradeMutation) (models.Submission, error) {
	var lastConflict error
	for attempt := 1; attempt <= maxRecomputeAttempts; attempt++ {
		submission, err := s.recomputeOnce(ctx, op, submissionID, mutate)
		if err == nil {
			observability.ScoreRecomputes().WithLabelValues("updated").Inc()
			return submission, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			observability.ScoreRecomputes().WithLabelValues("failed").Inc()
			return models.Submission{}, err
		}

		lastConflict = err
		observability.ScoreRecomputes().WithLabelValues("conflict").Inc()
		s.logger.Debug().Uint("submission_id", submissionID).Int("attempt", attempt).Msg("submission version changed, retrying recompute")
	}

	return models.Submission{}, concurrencyError(op, lastConflict)
}

func (s *gradeAggregator) recomputeOnce(ctx context.Context, op string, submissionID uint, mutate gradeMutation) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return models.Submission{}, lookupError(op, "submission", submissionID, err)
	}

	assignment, err := s.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		return models.Submission{}, lookupError(op, "assignment", submission.AssignmentID, err)
	}

	if assignment.Status == models.AssignmentStatusArchived {
		accepted, err := s.regrades.HasStatus(ctx, submission.ID, models.RegradeStatusAccepted)
		if err != nil {
			return models.Submission{}, storageError(op, err)
		}
		if !accepted {
			return models.Submission{}, stateError(op, "assignment %d is archived, grades change only through an accepted regrade", assignment.ID)
		}
	}

	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return models.Submission{}, err
	}

	if mutate != nil {
		if err := mutate(&submission, assignment, snapshot); err != nil {
			return models.Submission{}, err
		}
	}

	pairings, err := s.reviews.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return models.Submission{}, storageError(op, err)
	}

	inputs := scoreInputsFor(assignment, submission, pairings, snapshot, s.now().UTC())
	outcome, err := ComputeScore(inputs)
	if err != nil {
		return models.Submission{}, err
	}

	applyOutcome(&submission, assignment, outcome, snapshot, s.now().UTC())

	if err := s.submissions.UpdateGrading(ctx, &submission); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return models.Submission{}, err
		}
		return models.Submission{}, storageError(op, err)
	}

	event := s.logger.Debug().Uint("submission_id", submission.ID).Int("missing_reviews", outcome.MissingReviews)
	if submission.FinalScore != nil {
		event = event.Float64("final_score", *submission.FinalScore)
	}
	event.Msg("submission score recomputed")

	return submission, nil
}

// scoreInputsFor collects the completed reviews of a submission. Instructor-typed
// reviews do not count as peer samples, so a pairing completed by staff still
// counts as missing; the instructor component comes from the submission's
// instructor score.
func scoreInputsFor(assignment models.Assignment, submission models.Submission, pairings []models.ReviewAssignment, snapshot Settings, now time.Time) ScoreInputs {
	inputs := ScoreInputs{
		InstructorScore:      submission.InstructorScore,
		IncludeAIScore:       assignment.IncludeAIScore,
		RequiredPeerReviews:  assignment.NumPeerReviewsRequired,
		MissingReviewPenalty: assignment.MissingReviewPenalty,
		ReviewWindowClosed:   now.After(assignment.EffectiveReviewDeadline(snapshot.DefaultReviewWindow)),
		InstructorWeight:     assignment.InstructorWeight,
		PeerWeight:           assignment.PeerWeight,
		Precision:            snapshot.ScorePrecision,
		MaxScore:             assignment.ScoreScale(snapshot.MaxScore),
	}

	for _, pairing := range pairings {
		if pairing.Status != models.ReviewAssignmentStatusCompleted || pairing.Review == nil || pairing.Review.OverallScore == nil {
			continue
		}

		score := *pairing.Review.OverallScore
		switch {
		case pairing.IsAIReview || pairing.Review.ReviewType == models.ReviewTypeAI:
			if inputs.AIScore == nil {
				inputs.AIScore = &score
			}
		case pairing.Review.ReviewType == models.ReviewTypeInstructor:
			continue
		case pairing.Review.ReviewType == models.ReviewTypePeer:
			inputs.PeerScores = append(inputs.PeerScores, score)
		}
	}

	return inputs
}

func applyOutcome(submission *models.Submission, assignment models.Assignment, outcome ScoreOutcome, snapshot Settings, now time.Time) {
	submission.PeerAverageScore = outcome.PeerAverage

	if scoreChanged(submission.FinalScore, outcome.Final) && submission.FinalScore != nil {
		previous := *submission.FinalScore
		submission.OldScore = &previous
	}
	submission.FinalScore = outcome.Final

	if outcome.Final == nil {
		submission.IsPassed = nil
	} else {
		threshold := snapshot.DefaultPassThreshold
		if assignment.PassThreshold != nil {
			threshold = *assignment.PassThreshold
		}
		passed := IsPassing(*outcome.Final, threshold)
		submission.IsPassed = &passed
	}

	if submission.Status == models.SubmissionStatusGradesPublished {
		return
	}

	graded := submission.InstructorScore != nil || (assignment.InstructorWeight == 0 && outcome.Final != nil)
	if graded {
		submission.Status = models.SubmissionStatusGraded
		if submission.GradedAt == nil {
			gradedAt := now
			submission.GradedAt = &gradedAt
		}
	}
}

func scoreChanged(previous, next *float64) bool {
	switch {
	case previous == nil && next == nil:
		return false
	case previous == nil || next == nil:
		return true
	default:
		return math.Abs(*previous-*next) > roundingEpsilon
	}
}

// PublishGrades releases graded submissions once the publication gate holds.
func (s *gradeAggregator) PublishGrades(ctx context.Context, assignmentID uint, force bool, actor Actor) (dto.PublishGradesResponse, error) {
	const op = "grades.publish"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("grades.assignment_id", int64(assignmentID)),
		attribute.Bool("grades.force", force),
	))
	defer span.End()

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		return dto.PublishGradesResponse{}, lookupError(op, "assignment", assignmentID, err)
	}

	switch assignment.Status {
	case models.AssignmentStatusDraft, models.AssignmentStatusArchived:
		return dto.PublishGradesResponse{}, stateError(op, "grades of a %s assignment cannot be published", assignment.Status)
	}

	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return dto.PublishGradesResponse{}, err
	}

	now := s.now().UTC()
	reviewDeadline := assignment.EffectiveReviewDeadline(snapshot.DefaultReviewWindow)
	if now.After(reviewDeadline) {
		s.settleScores(ctx, op, assignmentID)
	}
	gate := func(graded, enrolled int64) error {
		if force {
			return nil
		}
		if !now.After(reviewDeadline) {
			return stateError(op, "review deadline %s has not passed", reviewDeadline.Format(time.RFC3339))
		}
		if enrolled == 0 {
			return stateError(op, "course section has no active students")
		}
		if float64(graded) < publishQuorum*float64(enrolled) {
			return stateError(op, "only %d of %d active students are graded", graded, enrolled)
		}
		return nil
	}

	published, err := s.submissions.PublishGraded(ctx, assignment, gate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish_failed")

		var engineErr *Error
		switch {
		case errors.As(err, &engineErr):
			return dto.PublishGradesResponse{}, engineErr
		case errors.Is(err, repository.ErrVersionConflict):
			return dto.PublishGradesResponse{}, concurrencyError(op, err)
		default:
			return dto.PublishGradesResponse{}, storageError(op, err)
		}
	}

	observability.GradesPublished().Add(float64(len(published)))
	observability.StatusTransitions().WithLabelValues(string(assignment.Status), string(models.AssignmentStatusGradesPublished)).Inc()
	span.SetAttributes(attribute.Int("grades.published", len(published)))

	s.logger.Info().
		Uint("assignment_id", assignmentID).
		Uint("actor_id", actor.ID).
		Bool("force", force).
		Int("published", len(published)).
		Msg("grades published")

	recordAudit(ctx, s.audit, actor, AuditGradesPublished, "assignment", assignmentID, map[string]interface{}{
		"published": len(published),
		"force":     force,
	})
	s.notifyPublished(ctx, assignment, published)

	return dto.PublishGradesResponse{AssignmentID: assignmentID, PublishedCount: len(published)}, nil
}

// settleScores recomputes unpublished submissions once the review window has
// closed, so missing-review penalties land before the gate counts graded work.
func (s *gradeAggregator) settleScores(ctx context.Context, op string, assignmentID uint) {
	submissions, err := s.submissions.ListByAssignments(ctx, []uint{assignmentID})
	if err != nil {
		s.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("failed to load submissions for settlement")
		return
	}
	for _, submission := range submissions {
		if submission.Status == models.SubmissionStatusGradesPublished {
			continue
		}
		if _, err := s.recompute(ctx, op, submission.ID, nil); err != nil {
			s.logger.Warn().Err(Cause(err)).Uint("submission_id", submission.ID).Msg("score settlement failed")
		}
	}
}

func (s *gradeAggregator) notifyPublished(ctx context.Context, assignment models.Assignment, published []models.Submission) {
	if s.notifier == nil {
		return
	}

	for _, submission := range published {
		message := fmt.Sprintf("Your grade for %q is now available.", assignment.Title)
		if err := s.notifier.Notify(ctx, submission.StudentID, "Grades published", message, models.NotificationTypeGradesPublished); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to notify student about published grade")
		}
	}
}

// ArchiveAssignment freezes a published assignment.
func (s *gradeAggregator) ArchiveAssignment(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error) {
	const op = "grades.archive"

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentStatusResponse{}, lookupError(op, "assignment", assignmentID, err)
	}
	if assignment.Status != models.AssignmentStatusGradesPublished {
		return dto.AssignmentStatusResponse{}, stateError(op, "only assignments with published grades can be archived, assignment %d is %s", assignmentID, assignment.Status)
	}

	if err := s.assignments.CompareAndSetStatus(ctx, assignmentID, assignment.Status, models.AssignmentStatusArchived, false); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return dto.AssignmentStatusResponse{}, concurrencyError(op, err)
		}
		return dto.AssignmentStatusResponse{}, storageError(op, err)
	}

	observability.StatusTransitions().WithLabelValues(string(assignment.Status), string(models.AssignmentStatusArchived)).Inc()
	s.logger.Info().Uint("assignment_id", assignmentID).Uint("actor_id", actor.ID).Msg("assignment archived")
	recordAudit(ctx, s.audit, actor, AuditAssignmentArchived, "assignment", assignmentID, nil)

	assignment.Status = models.AssignmentStatusArchived
	assignment.Version++
	return dto.NewAssignmentStatusResponse(assignment, true), nil
}

func (s *gradeAggregator) GetSubmission(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, lookupError("grades.get_submission", "submission", submissionID, err)
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradeAggregator) ListSubmissions(ctx context.Context, assignmentID uint) ([]dto.SubmissionResponse, error) {
	const op = "grades.list_submissions"

	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		return nil, lookupError(op, "assignment", assignmentID, err)
	}

	submissions, err := s.submissions.ListByAssignments(ctx, []uint{assignmentID})
	if err != nil {
		return nil, storageError(op, err)
	}

	responses := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, dto.NewSubmissionResponse(submission))
	}
	return responses, nil
}
