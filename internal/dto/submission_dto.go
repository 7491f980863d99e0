package dto

import (
	"time"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// GradeSubmissionRequest records the instructor score and feedback for a submission.
type GradeSubmissionRequest struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback" validate:"max=5000"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID               uint       `json:"id"`
	AssignmentID     uint       `json:"assignment_id"`
	StudentID        uint       `json:"student_id"`
	FileURL          string     `json:"file_url"`
	Status           string     `json:"status"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	InstructorScore  *float64   `json:"instructor_score"`
	PeerAverageScore *float64   `json:"peer_average_score"`
	OldScore         *float64   `json:"old_score"`
	FinalScore       *float64   `json:"final_score"`
	IsPassed         *bool      `json:"is_passed"`
	Feedback         string     `json:"feedback"`
	GradedBy         *uint      `json:"graded_by"`
	GradedAt         *time.Time `json:"graded_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewSubmissionResponse maps a submission model into a response payload.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		StudentID:        model.StudentID,
		FileURL:          model.FileURL,
		Status:           string(model.Status),
		SubmittedAt:      model.SubmittedAt,
		InstructorScore:  model.InstructorScore,
		PeerAverageScore: model.PeerAverageScore,
		OldScore:         model.OldScore,
		FinalScore:       model.FinalScore,
		IsPassed:         model.IsPassed,
		Feedback:         model.Feedback,
		GradedBy:         model.GradedBy,
		GradedAt:         model.GradedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

// PublishGradesRequest controls grade publication.
type PublishGradesRequest struct {
	Force bool `json:"force"`
}

// PublishGradesResponse reports how many submissions were released.
type PublishGradesResponse struct {
	AssignmentID   uint `json:"assignment_id"`
	PublishedCount int  `json:"published_count"`
}
