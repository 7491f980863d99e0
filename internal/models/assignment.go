package models

import "time"

// AssignmentStatus enumerates the lifecycle phases of an assignment.
type AssignmentStatus string

const (
	AssignmentStatusDraft           AssignmentStatus = "draft"
	AssignmentStatusUpcoming        AssignmentStatus = "upcoming"
	AssignmentStatusActive          AssignmentStatus = "active"
	AssignmentStatusInReview        AssignmentStatus = "in_review"
	AssignmentStatusClosed          AssignmentStatus = "closed"
	AssignmentStatusCancelled       AssignmentStatus = "cancelled"
	AssignmentStatusGradesPublished AssignmentStatus = "grades_published"
	AssignmentStatusArchived        AssignmentStatus = "archived"
)

// Assignment is a gradable unit of work scoped to a course section.
type Assignment struct {
	ID                     uint             `gorm:"primaryKey" json:"id"`
	CourseSectionID        uint             `gorm:"not null;index" json:"course_section_id"`
	RubricID               *uint            `json:"rubric_id,omitempty"`
	Title                  string           `gorm:"size:255;not null" json:"title"`
	Description            string           `gorm:"type:text" json:"description"`
	StartDate              time.Time        `gorm:"not null" json:"start_date"`
	SubmissionDeadline     time.Time        `gorm:"not null" json:"submission_deadline"`
	ReviewDeadline         *time.Time       `json:"review_deadline,omitempty"`
	FinalDeadline          *time.Time       `json:"final_deadline,omitempty"`
	NumPeerReviewsRequired int              `gorm:"not null;default:0" json:"num_peer_reviews_required"`
	InstructorWeight       float64          `gorm:"not null;default:0" json:"instructor_weight"`
	PeerWeight             float64          `gorm:"not null;default:0" json:"peer_weight"`
	IncludeAIScore         bool             `gorm:"not null;default:false" json:"include_ai_score"`
	PassThreshold          *float64         `json:"pass_threshold,omitempty"`
	MissingReviewPenalty   float64          `gorm:"not null;default:0" json:"missing_review_penalty"`
	MaxScore               float64          `gorm:"not null;default:0" json:"max_score"`
	AllowCrossClass        bool             `gorm:"not null;default:false" json:"allow_cross_class"`
	CrossClassTag          string           `gorm:"size:128;index" json:"cross_class_tag,omitempty"`
	IsBlindReview          bool             `gorm:"not null;default:false" json:"is_blind_review"`
	Status                 AssignmentStatus `gorm:"size:32;not null;index" json:"status"`
	StatusLocked           bool             `gorm:"not null;default:false" json:"status_locked"`
	ClonedFromID           *uint            `json:"cloned_from_id,omitempty"`
	CreatedBy              uint             `json:"created_by"`
	Version                uint             `gorm:"not null;default:0" json:"version"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// EffectiveReviewDeadline resolves the review deadline, falling back to the
// submission deadline plus the supplied window when none was configured.
func (a Assignment) EffectiveReviewDeadline(defaultWindow time.Duration) time.Time {
	if a.ReviewDeadline != nil {
		return *a.ReviewDeadline
	}
	return a.SubmissionDeadline.Add(defaultWindow)
}

// CrossClassPoolTag returns the tag used for cross-class pooling, or an empty
// string when the assignment does not pool across sections.
func (a Assignment) CrossClassPoolTag() string {
	if !a.AllowCrossClass {
		return ""
	}
	return a.CrossClassTag
}

// ScoreScale returns the assignment score ceiling, using fallback when unset.
func (a Assignment) ScoreScale(fallback float64) float64 {
	if a.MaxScore > 0 {
		return a.MaxScore
	}
	return fallback
}

// IsTerminal reports whether the status can only change through grade publication.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentStatusGradesPublished || s == AssignmentStatusArchived
}
