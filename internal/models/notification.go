package models

import "time"

// Notification types emitted by the engine.
const (
	NotificationTypeReviewAssigned  = "review.assigned"
	NotificationTypeDeadline        = "deadline.reminder"
	NotificationTypeGradesPublished = "grades.published"
	NotificationTypeRegrade         = "regrade.updated"
)

// Notification represents a message targeted to a specific user.
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	Type      string     `gorm:"size:64" json:"type"`
	Title     string     `gorm:"size:255" json:"title"`
	Message   string     `gorm:"type:text" json:"message"`
	Read      bool       `gorm:"not null;default:false;index" json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
