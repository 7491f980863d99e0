package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// AutomatedReview is a score produced by the automated reviewer.
type AutomatedReview struct {
	Score    float64
	Feedback string
	Source   string
	Criteria map[string]float64
}

// ReviewTracker records reviews and tracks the state of reviewer obligations.
type ReviewTracker interface {
	SubmitReview(ctx context.Context, reviewAssignmentID uint, payload dto.SubmitReviewRequest, actor Actor) (dto.ReviewAssignmentResponse, error)
	RecordAutomatedReview(ctx context.Context, reviewAssignmentID uint, review AutomatedReview) (dto.ReviewAssignmentResponse, error)
	MarkOverdue(ctx context.Context) (int64, error)
	ListForReviewer(ctx context.Context, reviewerID uint) ([]dto.ReviewAssignmentResponse, error)
	ListForAssignment(ctx context.Context, assignmentID uint) ([]dto.ReviewAssignmentResponse, error)
}

type reviewTracker struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reviews     repository.ReviewAssignmentRepository
	aggregator  GradeAggregator
	settings    SettingsProvider
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewReviewTracker constructs the review lifecycle tracker.
func NewReviewTracker(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	reviews repository.ReviewAssignmentRepository,
	aggregator GradeAggregator,
	settings SettingsProvider,
	validate *validator.Validate,
	logger zerolog.Logger,
) ReviewTracker {
	return &reviewTracker{
		assignments: assignments,
		submissions: submissions,
		reviews:     reviews,
		aggregator:  aggregator,
		settings:    settings,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "review_tracker").Logger(),
		now:         time.Now,
	}
}

// SubmitReview stores the reviewer's feedback, overwriting an earlier review of
// the same obligation, and recomputes the submission score.
func (t *reviewTracker) SubmitReview(ctx context.Context, reviewAssignmentID uint, payload dto.SubmitReviewRequest, actor Actor) (dto.ReviewAssignmentResponse, error) {
	const op = "reviews.submit"

	if err := t.validator.Struct(payload); err != nil {
		return dto.ReviewAssignmentResponse{}, validationError(op, "%s", err.Error())
	}

	pairing, err := t.reviews.GetByID(ctx, reviewAssignmentID)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, lookupError(op, "review assignment", reviewAssignmentID, err)
	}
	if pairing.IsAIReview {
		return dto.ReviewAssignmentResponse{}, stateError(op, "review assignment %d is reserved for the automated reviewer", reviewAssignmentID)
	}
	if pairing.ReviewerID != actor.ID && !actor.IsStaff() {
		return dto.ReviewAssignmentResponse{}, notFoundError(op, "review assignment", reviewAssignmentID)
	}

	submission, assignment, err := t.loadContext(ctx, op, pairing)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, err
	}
	if submission.StudentID == actor.ID || submission.StudentID == pairing.ReviewerID {
		return dto.ReviewAssignmentResponse{}, conflictError(op, "authors cannot review their own submission")
	}

	reviewType, source := models.ReviewTypePeer, "student"
	if actor.ID != pairing.ReviewerID {
		reviewType, source = models.ReviewTypeInstructor, "instructor"
	}

	criteria, err := encodeCriteria(payload.Criteria)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, validationError(op, "criteria: %s", err.Error())
	}

	review := models.Review{
		OverallScore:   payload.OverallScore,
		Feedback:       strings.TrimSpace(t.sanitizer.Sanitize(payload.Feedback)),
		ReviewType:     reviewType,
		FeedbackSource: source,
		Criteria:       criteria,
	}

	return t.complete(ctx, op, pairing, submission, assignment, review)
}

// RecordAutomatedReview completes a synthetic AI pairing.
func (t *reviewTracker) RecordAutomatedReview(ctx context.Context, reviewAssignmentID uint, automated AutomatedReview) (dto.ReviewAssignmentResponse, error) {
	const op = "reviews.record_automated"

	pairing, err := t.reviews.GetByID(ctx, reviewAssignmentID)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, lookupError(op, "review assignment", reviewAssignmentID, err)
	}
	if !pairing.IsAIReview {
		return dto.ReviewAssignmentResponse{}, stateError(op, "review assignment %d belongs to a human reviewer", reviewAssignmentID)
	}

	submission, assignment, err := t.loadContext(ctx, op, pairing)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, err
	}

	criteria, err := encodeCriteria(automated.Criteria)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, validationError(op, "criteria: %s", err.Error())
	}

	score := automated.Score
	review := models.Review{
		OverallScore:   &score,
		Feedback:       strings.TrimSpace(t.sanitizer.Sanitize(automated.Feedback)),
		ReviewType:     models.ReviewTypeAI,
		FeedbackSource: automated.Source,
		Criteria:       criteria,
	}

	return t.complete(ctx, op, pairing, submission, assignment, review)
}

func (t *reviewTracker) loadContext(ctx context.Context, op string, pairing models.ReviewAssignment) (models.Submission, models.Assignment, error) {
	submission, err := t.submissions.GetByID(ctx, pairing.SubmissionID)
	if err != nil {
		return models.Submission{}, models.Assignment{}, lookupError(op, "submission", pairing.SubmissionID, err)
	}
	assignment, err := t.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		return models.Submission{}, models.Assignment{}, lookupError(op, "assignment", submission.AssignmentID, err)
	}

	if assignment.Status.IsTerminal() || submission.Status == models.SubmissionStatusGradesPublished {
		return models.Submission{}, models.Assignment{}, stateError(op, "grades for submission %d are already published", submission.ID)
	}

	return submission, assignment, nil
}

func (t *reviewTracker) complete(ctx context.Context, op string, pairing models.ReviewAssignment, submission models.Submission, assignment models.Assignment, review models.Review) (dto.ReviewAssignmentResponse, error) {
	snapshot, err := t.settings.Snapshot(ctx)
	if err != nil {
		return dto.ReviewAssignmentResponse{}, err
	}
	if scale := assignment.ScoreScale(snapshot.MaxScore); review.OverallScore != nil && *review.OverallScore > scale+roundingEpsilon {
		return dto.ReviewAssignmentResponse{}, validationError(op, "score %v exceeds max score %v", *review.OverallScore, scale)
	}

	review.ReviewedAt = t.now().UTC()
	if err := t.reviews.CompleteWithReview(ctx, &pairing, &review); err != nil {
		return dto.ReviewAssignmentResponse{}, storageError(op, err)
	}

	if _, err := t.aggregator.RecomputeSubmissionScore(ctx, submission.ID); err != nil {
		t.logger.Warn().Err(Cause(err)).Uint("submission_id", submission.ID).Msg("score recompute after review failed")
	}

	t.logger.Info().
		Uint("review_assignment_id", pairing.ID).
		Uint("submission_id", submission.ID).
		Str("review_type", string(review.ReviewType)).
		Msg("review recorded")

	return reviewAssignmentResponse(pairing, submission, assignment, false), nil
}

// MarkOverdue flags pending obligations whose deadline has passed. Overdue
// pairings stay in place and still count as missing reviews.
func (t *reviewTracker) MarkOverdue(ctx context.Context) (int64, error) {
	flagged, err := t.reviews.MarkOverdue(ctx, t.now().UTC())
	if err != nil {
		return 0, storageError("reviews.mark_overdue", err)
	}
	if flagged > 0 {
		t.logger.Info().Int64("flagged", flagged).Msg("review assignments marked overdue")
	}
	return flagged, nil
}

func (t *reviewTracker) ListForReviewer(ctx context.Context, reviewerID uint) ([]dto.ReviewAssignmentResponse, error) {
	const op = "reviews.list_for_reviewer"

	pairings, err := t.reviews.ListByReviewer(ctx, reviewerID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return t.decorate(ctx, op, pairings, false)
}

func (t *reviewTracker) ListForAssignment(ctx context.Context, assignmentID uint) ([]dto.ReviewAssignmentResponse, error) {
	const op = "reviews.list_for_assignment"

	if _, err := t.assignments.GetByID(ctx, assignmentID); err != nil {
		return nil, lookupError(op, "assignment", assignmentID, err)
	}

	pairings, err := t.reviews.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return t.decorate(ctx, op, pairings, true)
}

// decorate attaches author ids, hiding them from reviewers of blind assignments
// unless revealAuthors is set.
func (t *reviewTracker) decorate(ctx context.Context, op string, pairings []models.ReviewAssignment, revealAuthors bool) ([]dto.ReviewAssignmentResponse, error) {
	assignmentByID := make(map[uint]models.Assignment)
	for _, pairing := range pairings {
		if _, ok := assignmentByID[pairing.AssignmentID]; ok {
			continue
		}
		assignment, err := t.assignments.GetByID(ctx, pairing.AssignmentID)
		if err != nil {
			return nil, lookupError(op, "assignment", pairing.AssignmentID, err)
		}
		assignmentByID[pairing.AssignmentID] = assignment
	}

	assignmentIDs := make([]uint, 0, len(assignmentByID))
	for id := range assignmentByID {
		assignmentIDs = append(assignmentIDs, id)
	}
	submissions, err := t.submissions.ListByAssignments(ctx, assignmentIDs)
	if err != nil {
		return nil, storageError(op, err)
	}
	submissionByID := make(map[uint]models.Submission, len(submissions))
	for _, submission := range submissions {
		submissionByID[submission.ID] = submission
	}

	responses := make([]dto.ReviewAssignmentResponse, 0, len(pairings))
	for _, pairing := range pairings {
		responses = append(responses, reviewAssignmentResponse(pairing, submissionByID[pairing.SubmissionID], assignmentByID[pairing.AssignmentID], revealAuthors))
	}
	return responses, nil
}

func reviewAssignmentResponse(pairing models.ReviewAssignment, submission models.Submission, assignment models.Assignment, revealAuthor bool) dto.ReviewAssignmentResponse {
	response := dto.NewReviewAssignmentResponse(pairing)
	if submission.ID != 0 && (revealAuthor || !assignment.IsBlindReview) {
		author := submission.StudentID
		response.AuthorID = &author
	}
	return response
}

func encodeCriteria(criteria map[string]float64) (datatypes.JSON, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(criteria)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
