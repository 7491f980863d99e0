package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/pkg/ai"
)

type fakeEvaluator struct {
	result ai.EvaluationResult
	err    error
	inputs []ai.EvaluationInput
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, input ai.EvaluationInput) (ai.EvaluationResult, error) {
	f.inputs = append(f.inputs, input)
	return f.result, f.err
}

func seedAIPairing(t *testing.T, engine *testEngine) (models.Assignment, models.ReviewAssignment) {
	t.Helper()
	assignment := engine.seedAssignment(t, func(a *models.Assignment) {
		a.IncludeAIScore = true
	})
	engine.enroll(t, 1, 1)
	submission := engine.submit(t, assignment.ID, 1)

	pairs := []models.ReviewAssignment{{
		AssignmentID: assignment.ID,
		SubmissionID: submission.ID,
		Status:       models.ReviewAssignmentStatusPending,
		IsAIReview:   true,
		AssignedAt:   engine.now,
		Deadline:     engine.now.Add(24 * time.Hour),
	}}
	_, err := engine.reviews.CreateForSubmission(context.Background(), pairs)
	require.NoError(t, err)
	return assignment, pairs[0]
}

func TestAIReviewServiceScalesEvaluatorScore(t *testing.T) {
	engine := newTestEngine(t)
	_, pairing := seedAIPairing(t, engine)

	evaluator := &fakeEvaluator{result: ai.EvaluationResult{
		Score:    0.78,
		Feedback: "Clear structure",
		Criteria: map[string]float64{"clarity": 0.9},
		Model:    "gpt-test",
	}}
	svc := NewAIReviewService(engine.reviews, engine.submissions, engine.assignments, engine.tracker, engine.settings, evaluator, testLogger())

	result, err := svc.ScorePending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, AIScoringResult{Scored: 1}, result)
	require.Len(t, evaluator.inputs, 1)
	require.Equal(t, 10.0, evaluator.inputs[0].MaxScore)

	stored, err := engine.reviews.GetByID(context.Background(), pairing.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewAssignmentStatusCompleted, stored.Status)
	require.NotNil(t, stored.Review)
	require.InDelta(t, 8.0, *stored.Review.OverallScore, 1e-9)
	require.Equal(t, "ai:gpt-test", stored.Review.FeedbackSource)
	require.Equal(t, models.ReviewTypeAI, stored.Review.ReviewType)
}

func TestAIReviewServiceLeavesFailedPairingPending(t *testing.T) {
	engine := newTestEngine(t)
	_, pairing := seedAIPairing(t, engine)

	svc := NewAIReviewService(engine.reviews, engine.submissions, engine.assignments, engine.tracker, engine.settings, &fakeEvaluator{err: errors.New("model unavailable")}, testLogger())

	result, err := svc.ScorePending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, AIScoringResult{Failed: 1}, result)

	stored, err := engine.reviews.GetByID(context.Background(), pairing.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewAssignmentStatusPending, stored.Status)
}

func TestAIReviewServiceWithoutEvaluatorIsNoop(t *testing.T) {
	engine := newTestEngine(t)
	seedAIPairing(t, engine)

	svc := NewAIReviewService(engine.reviews, engine.submissions, engine.assignments, engine.tracker, engine.settings, nil, testLogger())
	result, err := svc.ScorePending(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, result)
}
