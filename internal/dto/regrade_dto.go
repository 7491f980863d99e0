package dto

import (
	"time"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// RegradeCreateRequest opens a dispute against a graded submission.
type RegradeCreateRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required,gt=0"`
	Reason       string `json:"reason" validate:"required,min=3,max=2000"`
}

// RegradeDecisionRequest records an instructor's accept/reject decision.
type RegradeDecisionRequest struct {
	Decision        string `json:"decision" validate:"required,oneof=accept reject"`
	ResolutionNotes string `json:"resolution_notes" validate:"max=2000"`
}

// RegradeCompleteRequest confirms an accepted regrade was applied.
type RegradeCompleteRequest struct {
	ResolutionNotes string `json:"resolution_notes" validate:"max=2000"`
}

// RegradeResponse serialises a regrade request.
type RegradeResponse struct {
	ID              uint       `json:"id"`
	SubmissionID    uint       `json:"submission_id"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	RequestedBy     uint       `json:"requested_by"`
	ResolvedBy      *uint      `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Overdue         bool       `json:"overdue"`
}

// NewRegradeResponse converts a regrade request model.
func NewRegradeResponse(model models.RegradeRequest) RegradeResponse {
	return RegradeResponse{
		ID:              model.ID,
		SubmissionID:    model.SubmissionID,
		Reason:          model.Reason,
		Status:          string(model.Status),
		RequestedAt:     model.RequestedAt,
		RequestedBy:     model.RequestedBy,
		ResolvedBy:      model.ResolvedBy,
		ResolutionNotes: model.ResolutionNotes,
		ResolvedAt:      model.ResolvedAt,
		CompletedAt:     model.CompletedAt,
	}
}
