package ai

import "context"

// EvaluationInput carries what the automated reviewer sees of a submission.
type EvaluationInput struct {
	AssignmentTitle       string
	AssignmentDescription string
	SubmissionURL         string
	SubmittedAt           string
	MaxScore              float64
}

// EvaluationResult is the structured review returned by the evaluator. Score is
// normalised to [0, 1]; callers scale it to the assignment's score range.
type EvaluationResult struct {
	Score    float64            `json:"score"`
	Feedback string             `json:"feedback"`
	Verdict  string             `json:"verdict"`
	Criteria map[string]float64 `json:"criteria,omitempty"`
	Model    string             `json:"model,omitempty"`
}

// Evaluator describes an AI model capable of reviewing submissions.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
}
