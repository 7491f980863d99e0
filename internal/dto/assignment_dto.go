package dto

import (
	"time"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// AssignmentStatusResponse describes an assignment's lifecycle phase.
type AssignmentStatusResponse struct {
	ID                 uint       `json:"id"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	StatusLocked       bool       `json:"status_locked"`
	StartDate          time.Time  `json:"start_date"`
	SubmissionDeadline time.Time  `json:"submission_deadline"`
	ReviewDeadline     *time.Time `json:"review_deadline,omitempty"`
	Changed            bool       `json:"changed"`
}

// NewAssignmentStatusResponse converts an assignment model.
func NewAssignmentStatusResponse(model models.Assignment, changed bool) AssignmentStatusResponse {
	return AssignmentStatusResponse{
		ID:                 model.ID,
		Title:              model.Title,
		Status:             string(model.Status),
		StatusLocked:       model.StatusLocked,
		StartDate:          model.StartDate,
		SubmissionDeadline: model.SubmissionDeadline,
		ReviewDeadline:     model.ReviewDeadline,
		Changed:            changed,
	}
}

// SweepResponse reports the outcome of a status sweep.
type SweepResponse struct {
	Evaluated int `json:"evaluated"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}
