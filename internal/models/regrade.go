package models

import "time"

// RegradeStatus enumerates regrade request states.
type RegradeStatus string

const (
	RegradeStatusPending   RegradeStatus = "pending"
	RegradeStatusAccepted  RegradeStatus = "accepted"
	RegradeStatusRejected  RegradeStatus = "rejected"
	RegradeStatusCompleted RegradeStatus = "completed"
)

// RegradeRequest is a dispute opened against a graded submission. The partial
// unique index keeps at most one pending request per submission.
type RegradeRequest struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	SubmissionID    uint          `gorm:"not null;index;uniqueIndex:idx_regrade_pending,where:status = 'pending'" json:"submission_id"`
	Reason          string        `gorm:"type:text;not null" json:"reason"`
	Status          RegradeStatus `gorm:"size:16;not null;index" json:"status"`
	RequestedAt     time.Time     `gorm:"not null" json:"requested_at"`
	RequestedBy     uint          `gorm:"not null" json:"requested_by"`
	ResolvedBy      *uint         `json:"resolved_by,omitempty"`
	ResolutionNotes string        `gorm:"type:text" json:"resolution_notes"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
