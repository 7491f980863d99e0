package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
	"github.com/noah-isme/gema-review-engine/pkg/ai"
)

// AIScoringResult summarises one automated reviewer pass.
type AIScoringResult struct {
	Scored int
	Failed int
}

// AIReviewService fills synthetic AI review assignments through an evaluator.
type AIReviewService interface {
	ScorePending(ctx context.Context, limit int) (AIScoringResult, error)
}

type aiReviewService struct {
	reviews     repository.ReviewAssignmentRepository
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	tracker     ReviewTracker
	settings    SettingsProvider
	evaluator   ai.Evaluator
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewAIReviewService constructs the automated reviewer. A nil evaluator disables it.
func NewAIReviewService(
	reviews repository.ReviewAssignmentRepository,
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	tracker ReviewTracker,
	settings SettingsProvider,
	evaluator ai.Evaluator,
	logger zerolog.Logger,
) AIReviewService {
	return &aiReviewService{
		reviews:     reviews,
		submissions: submissions,
		assignments: assignments,
		tracker:     tracker,
		settings:    settings,
		evaluator:   evaluator,
		logger:      logger.With().Str("component", "ai_review_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-review-engine/internal/service/ai_review"),
	}
}

// ScorePending evaluates up to limit pending AI pairings. A failed evaluation
// leaves the pairing pending for the next pass.
func (s *aiReviewService) ScorePending(ctx context.Context, limit int) (AIScoringResult, error) {
	if s.evaluator == nil {
		return AIScoringResult{}, nil
	}

	ctx, span := s.tracer.Start(ctx, "ai_reviews.score_pending")
	defer span.End()

	pairings, err := s.reviews.ListPendingAI(ctx, limit)
	if err != nil {
		span.RecordError(err)
		return AIScoringResult{}, storageError("ai_reviews.score_pending", err)
	}

	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return AIScoringResult{}, err
	}

	result := AIScoringResult{}
	for _, pairing := range pairings {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.scoreOne(ctx, pairing, snapshot); err != nil {
			result.Failed++
			s.logger.Warn().Err(Cause(err)).Uint("review_assignment_id", pairing.ID).Msg("automated review failed")
			continue
		}
		result.Scored++
	}

	span.SetAttributes(
		attribute.Int("ai_reviews.scored", result.Scored),
		attribute.Int("ai_reviews.failed", result.Failed),
	)
	return result, nil
}

func (s *aiReviewService) scoreOne(ctx context.Context, pairing models.ReviewAssignment, snapshot Settings) error {
	submission, err := s.submissions.GetByID(ctx, pairing.SubmissionID)
	if err != nil {
		return lookupError("ai_reviews.score", "submission", pairing.SubmissionID, err)
	}
	assignment, err := s.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		return lookupError("ai_reviews.score", "assignment", submission.AssignmentID, err)
	}

	scale := assignment.ScoreScale(snapshot.MaxScore)
	evaluation, err := s.evaluator.Evaluate(ctx, ai.EvaluationInput{
		AssignmentTitle:       assignment.Title,
		AssignmentDescription: assignment.Description,
		SubmissionURL:         submission.FileURL,
		SubmittedAt:           submission.SubmittedAt.Format(time.RFC3339),
		MaxScore:              scale,
	})
	if err != nil {
		return err
	}

	criteria := make(map[string]float64, len(evaluation.Criteria))
	for name, value := range evaluation.Criteria {
		criteria[name] = RoundHalfUp(value*scale, snapshot.ScorePrecision)
	}

	source := "ai"
	if evaluation.Model != "" {
		source = "ai:" + evaluation.Model
	}

	_, err = s.tracker.RecordAutomatedReview(ctx, pairing.ID, AutomatedReview{
		Score:    RoundHalfUp(evaluation.Score*scale, snapshot.ScorePrecision),
		Feedback: evaluation.Feedback,
		Source:   source,
		Criteria: criteria,
	})
	return err
}
