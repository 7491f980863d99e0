package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReviewAssignmentStatus tracks a reviewer obligation.
type ReviewAssignmentStatus string

const (
	ReviewAssignmentStatusPending   ReviewAssignmentStatus = "pending"
	ReviewAssignmentStatusCompleted ReviewAssignmentStatus = "completed"
	ReviewAssignmentStatusOverdue   ReviewAssignmentStatus = "overdue"
)

// AIReviewerID is the reviewer id used by synthetic automated pairings.
const AIReviewerID uint = 0

// ReviewAssignment is the obligation for a reviewer to review a submission by a deadline.
type ReviewAssignment struct {
	ID           uint                   `gorm:"primaryKey" json:"id"`
	AssignmentID uint                   `gorm:"not null;index" json:"assignment_id"`
	SubmissionID uint                   `gorm:"not null;uniqueIndex:idx_review_pair" json:"submission_id"`
	ReviewerID   uint                   `gorm:"not null;uniqueIndex:idx_review_pair;index" json:"reviewer_id"`
	Status       ReviewAssignmentStatus `gorm:"size:32;not null;index" json:"status"`
	AssignedAt   time.Time              `gorm:"not null" json:"assigned_at"`
	Deadline     time.Time              `gorm:"not null;index" json:"deadline"`
	CompletedAt  *time.Time             `json:"completed_at"`
	IsAIReview   bool                   `gorm:"not null;default:false" json:"is_ai_review"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Review       *Review                `gorm:"foreignKey:ReviewAssignmentID" json:"review,omitempty"`
}

// IsActive reports whether the obligation is still outstanding.
func (r ReviewAssignment) IsActive() bool {
	return r.Status == ReviewAssignmentStatusPending || r.Status == ReviewAssignmentStatusOverdue
}

// ReviewType tags who produced a review.
type ReviewType string

const (
	ReviewTypePeer       ReviewType = "peer"
	ReviewTypeInstructor ReviewType = "instructor"
	ReviewTypeAI         ReviewType = "ai"
)

// Review is the scored feedback recorded against a review assignment.
type Review struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	ReviewAssignmentID uint           `gorm:"not null;uniqueIndex" json:"review_assignment_id"`
	OverallScore       *float64       `json:"overall_score"`
	Feedback           string         `gorm:"type:text" json:"feedback"`
	ReviewedAt         time.Time      `gorm:"not null" json:"reviewed_at"`
	ReviewType         ReviewType     `gorm:"size:16;not null" json:"review_type"`
	FeedbackSource     string         `gorm:"size:64" json:"feedback_source"`
	Criteria           datatypes.JSON `json:"criteria,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
