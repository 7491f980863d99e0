package models

import "time"

// SubmissionStatus enumerates the grading states of a submission.
type SubmissionStatus string

const (
	// SubmissionStatusSubmitted indicates the submission was uploaded on time but not graded.
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	// SubmissionStatusLate indicates the submission arrived after the deadline.
	SubmissionStatusLate SubmissionStatus = "late"
	// SubmissionStatusGraded indicates the submission has a final grade awaiting publication.
	SubmissionStatusGraded SubmissionStatus = "graded"
	// SubmissionStatusGradesPublished indicates the grade is visible to the author.
	SubmissionStatusGradesPublished SubmissionStatus = "grades_published"
)

// Submission represents one student's artifact for an assignment.
type Submission struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	AssignmentID     uint             `gorm:"not null;index" json:"assignment_id"`
	StudentID        uint             `gorm:"not null;index" json:"student_id"`
	FileURL          string           `gorm:"size:512" json:"file_url"`
	SubmittedAt      time.Time        `gorm:"not null" json:"submitted_at"`
	Status           SubmissionStatus `gorm:"size:32;not null;index" json:"status"`
	InstructorScore  *float64         `json:"instructor_score"`
	PeerAverageScore *float64         `json:"peer_average_score"`
	OldScore         *float64         `json:"old_score"`
	FinalScore       *float64         `json:"final_score"`
	IsPassed         *bool            `json:"is_passed"`
	Feedback         string           `gorm:"type:text" json:"feedback"`
	GradedAt         *time.Time       `json:"graded_at"`
	GradedBy         *uint            `json:"graded_by"`
	Version          uint             `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsGraded reports whether the submission has a grade, published or not.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded || s.Status == SubmissionStatusGradesPublished
}
