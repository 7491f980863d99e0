package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// PublishGate decides, inside the publishing transaction, whether grades may be released.
// graded counts active enrolled students holding a graded submission; enrolled counts
// all active students of the section.
type PublishGate func(graded, enrolled int64) error

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	ListByAssignments(ctx context.Context, assignmentIDs []uint) ([]models.Submission, error)
	CountByAssignments(ctx context.Context, assignmentIDs []uint) (map[uint]int64, error)
	UpdateGrading(ctx context.Context, submission *models.Submission) error
	PublishGraded(ctx context.Context, assignment models.Assignment, gate PublishGate) ([]models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) ListByAssignments(ctx context.Context, assignmentIDs []uint) ([]models.Submission, error) {
	if len(assignmentIDs) == 0 {
		return []models.Submission{}, nil
	}

	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Where("assignment_id IN ?", assignmentIDs).
		Order("id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) CountByAssignments(ctx context.Context, assignmentIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(assignmentIDs))
	if len(assignmentIDs) == 0 {
		return counts, nil
	}

	type row struct {
		AssignmentID uint
		Total        int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("assignment_id, COUNT(*) AS total").
		Where("assignment_id IN ?", assignmentIDs).
		Group("assignment_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, item := range rows {
		counts[item.AssignmentID] = item.Total
	}

	return counts, nil
}

// UpdateGrading writes the grading columns when the stored version still matches
// submission.Version, then advances the in-memory version.
func (r *submissionRepository) UpdateGrading(ctx context.Context, submission *models.Submission) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND version = ?", submission.ID, submission.Version).
		Updates(map[string]interface{}{
			"status":             submission.Status,
			"instructor_score":   submission.InstructorScore,
			"peer_average_score": submission.PeerAverageScore,
			"old_score":          submission.OldScore,
			"final_score":        submission.FinalScore,
			"is_passed":          submission.IsPassed,
			"feedback":           submission.Feedback,
			"graded_at":          submission.GradedAt,
			"graded_by":          submission.GradedBy,
			"version":            submission.Version + 1,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	submission.Version++
	submission.UpdatedAt = now
	return nil
}

// PublishGraded atomically evaluates the gate and flips graded submissions to published.
// The assignment row is compare-and-set on its version so concurrent publishers serialize.
func (r *submissionRepository) PublishGraded(ctx context.Context, assignment models.Assignment, gate PublishGate) ([]models.Submission, error) {
	var published []models.Submission

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activeStudents := tx.Model(&models.Enrollment{}).
			Select("student_id").
			Where("course_section_id = ? AND active = ?", assignment.CourseSectionID, true)

		var enrolled int64
		if err := tx.Model(&models.Enrollment{}).
			Where("course_section_id = ? AND active = ?", assignment.CourseSectionID, true).
			Count(&enrolled).Error; err != nil {
			return err
		}

		var graded int64
		if err := tx.Model(&models.Submission{}).
			Distinct("student_id").
			Where("assignment_id = ?", assignment.ID).
			Where("status IN ?", []models.SubmissionStatus{models.SubmissionStatusGraded, models.SubmissionStatusGradesPublished}).
			Where("student_id IN (?)", activeStudents).
			Count(&graded).Error; err != nil {
			return err
		}

		if err := gate(graded, enrolled); err != nil {
			return err
		}

		if err := tx.Where("assignment_id = ? AND status = ?", assignment.ID, models.SubmissionStatusGraded).
			Order("id ASC").
			Find(&published).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if len(published) > 0 {
			ids := make([]uint, 0, len(published))
			for _, submission := range published {
				ids = append(ids, submission.ID)
			}
			if err := tx.Model(&models.Submission{}).
				Where("id IN ? AND status = ?", ids, models.SubmissionStatusGraded).
				Updates(map[string]interface{}{
					"status":     models.SubmissionStatusGradesPublished,
					"version":    gorm.Expr("version + 1"),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			for i := range published {
				published[i].Status = models.SubmissionStatusGradesPublished
				published[i].Version++
			}
		}

		result := tx.Model(&models.Assignment{}).
			Where("id = ? AND version = ?", assignment.ID, assignment.Version).
			Updates(map[string]interface{}{
				"status":        models.AssignmentStatusGradesPublished,
				"status_locked": false,
				"version":       gorm.Expr("version + 1"),
				"updated_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return published, nil
}
