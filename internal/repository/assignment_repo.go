package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// AssignmentRepository defines persistence operations for assignments.
type AssignmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	ListByCrossClassTag(ctx context.Context, tag string) ([]models.Assignment, error)
	ListForSweep(ctx context.Context) ([]models.Assignment, error)
	ListWithDeadlineBetween(ctx context.Context, from, to time.Time, defaultReviewWindow time.Duration) ([]models.Assignment, error)
	CompareAndSetStatus(ctx context.Context, id uint, from, to models.AssignmentStatus, locked bool) error
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates a GORM-backed repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepository) ListByCrossClassTag(ctx context.Context, tag string) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).
		Where("allow_cross_class = ? AND cross_class_tag = ?", true, tag).
		Order("id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

// ListForSweep returns every assignment whose status the timer sweep may recompute.
func (r *assignmentRepository) ListForSweep(ctx context.Context) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []models.AssignmentStatus{
			models.AssignmentStatusDraft,
			models.AssignmentStatusGradesPublished,
			models.AssignmentStatusArchived,
		}).
		Where("status_locked = ?", false).
		Order("id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

// ListWithDeadlineBetween returns live assignments whose submission or effective
// review deadline falls in (from, to]. Without a review deadline the effective one
// is the submission deadline plus defaultReviewWindow.
func (r *assignmentRepository) ListWithDeadlineBetween(ctx context.Context, from, to time.Time, defaultReviewWindow time.Duration) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []models.AssignmentStatus{
			models.AssignmentStatusActive,
			models.AssignmentStatusInReview,
		}).
		Where("(submission_deadline > ? AND submission_deadline <= ?) OR (review_deadline > ? AND review_deadline <= ?) OR (review_deadline IS NULL AND submission_deadline > ? AND submission_deadline <= ?)",
			from, to, from, to, from.Add(-defaultReviewWindow), to.Add(-defaultReviewWindow)).
		Order("id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

func (r *assignmentRepository) CompareAndSetStatus(ctx context.Context, id uint, from, to models.AssignmentStatus, locked bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":        to,
			"status_locked": locked,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}

	return nil
}
