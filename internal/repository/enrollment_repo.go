package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// EnrollmentRepository answers course-section membership questions.
type EnrollmentRepository interface {
	ActiveStudentIDs(ctx context.Context, courseSectionID uint) ([]uint, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository constructs the enrollment repository.
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) ActiveStudentIDs(ctx context.Context, courseSectionID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("course_section_id = ? AND active = ?", courseSectionID, true).
		Order("student_id ASC").
		Pluck("student_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *enrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}
