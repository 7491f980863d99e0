package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// AssignReviewsRequest triggers the reviewer matcher for an assignment.
// ReviewsPerSubmission falls back to the assignment's required count when omitted.
type AssignReviewsRequest struct {
	ReviewsPerSubmission *int `json:"reviews_per_submission" validate:"omitempty"`
	Force                bool `json:"force"`
}

// ReviewShortfall describes a submission that could not receive every requested reviewer.
type ReviewShortfall struct {
	SubmissionID uint `json:"submission_id"`
	Required     int  `json:"required"`
	Assigned     int  `json:"assigned"`
}

// AssignReviewsResponse summarises a matcher run.
type AssignReviewsResponse struct {
	AssignmentID uint              `json:"assignment_id"`
	Created      int               `json:"created"`
	AICreated    int               `json:"ai_created"`
	Skipped      int               `json:"skipped"`
	Shortfalls   []ReviewShortfall `json:"shortfalls"`
	Errors       []string          `json:"errors"`
}

// SubmitReviewRequest carries a reviewer's scored feedback.
type SubmitReviewRequest struct {
	OverallScore *float64           `json:"overall_score" validate:"required,gte=0"`
	Feedback     string             `json:"feedback" validate:"max=5000"`
	Criteria     map[string]float64 `json:"criteria" validate:"omitempty,dive,gte=0"`
}

// ReviewResponse serialises a recorded review.
type ReviewResponse struct {
	ID             uint               `json:"id"`
	OverallScore   *float64           `json:"overall_score"`
	Feedback       string             `json:"feedback"`
	ReviewType     string             `json:"review_type"`
	FeedbackSource string             `json:"feedback_source"`
	Criteria       map[string]float64 `json:"criteria,omitempty"`
	ReviewedAt     time.Time          `json:"reviewed_at"`
}

// ReviewAssignmentResponse describes a reviewer obligation. AuthorID is omitted
// for blind-review assignments.
type ReviewAssignmentResponse struct {
	ID           uint            `json:"id"`
	AssignmentID uint            `json:"assignment_id"`
	SubmissionID uint            `json:"submission_id"`
	ReviewerID   uint            `json:"reviewer_id"`
	AuthorID     *uint           `json:"author_id,omitempty"`
	Status       string          `json:"status"`
	AssignedAt   time.Time       `json:"assigned_at"`
	Deadline     time.Time       `json:"deadline"`
	CompletedAt  *time.Time      `json:"completed_at"`
	IsAIReview   bool            `json:"is_ai_review"`
	Review       *ReviewResponse `json:"review,omitempty"`
}

// NewReviewResponse converts a review model.
func NewReviewResponse(model models.Review) ReviewResponse {
	response := ReviewResponse{
		ID:             model.ID,
		OverallScore:   model.OverallScore,
		Feedback:       model.Feedback,
		ReviewType:     string(model.ReviewType),
		FeedbackSource: model.FeedbackSource,
		ReviewedAt:     model.ReviewedAt,
	}
	if len(model.Criteria) > 0 {
		var criteria map[string]float64
		if err := json.Unmarshal(model.Criteria, &criteria); err == nil {
			response.Criteria = criteria
		}
	}
	return response
}

// NewReviewAssignmentResponse converts a review assignment model.
func NewReviewAssignmentResponse(model models.ReviewAssignment) ReviewAssignmentResponse {
	response := ReviewAssignmentResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		SubmissionID: model.SubmissionID,
		ReviewerID:   model.ReviewerID,
		Status:       string(model.Status),
		AssignedAt:   model.AssignedAt,
		Deadline:     model.Deadline,
		CompletedAt:  model.CompletedAt,
		IsAIReview:   model.IsAIReview,
	}
	if model.Review != nil {
		review := NewReviewResponse(*model.Review)
		response.Review = &review
	}
	return response
}
