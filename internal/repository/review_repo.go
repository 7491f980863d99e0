package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// ReviewAssignmentRepository persists reviewer obligations and their reviews.
type ReviewAssignmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.ReviewAssignment, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.ReviewAssignment, error)
	ListBySubmissions(ctx context.Context, submissionIDs []uint) ([]models.ReviewAssignment, error)
	ListByReviewer(ctx context.Context, reviewerID uint) ([]models.ReviewAssignment, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.ReviewAssignment, error)
	ListPendingAI(ctx context.Context, limit int) ([]models.ReviewAssignment, error)
	CreateForSubmission(ctx context.Context, pairs []models.ReviewAssignment) (int64, error)
	CompleteWithReview(ctx context.Context, assignment *models.ReviewAssignment, review *models.Review) error
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

type reviewAssignmentRepository struct {
	db *gorm.DB
}

// NewReviewAssignmentRepository builds a GORM-backed review assignment repository.
func NewReviewAssignmentRepository(db *gorm.DB) ReviewAssignmentRepository {
	return &reviewAssignmentRepository{db: db}
}

func (r *reviewAssignmentRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.ReviewAssignment{}).Preload("Review")
}

func (r *reviewAssignmentRepository) GetByID(ctx context.Context, id uint) (models.ReviewAssignment, error) {
	var assignment models.ReviewAssignment
	if err := r.baseQuery(ctx).First(&assignment, id).Error; err != nil {
		return models.ReviewAssignment{}, err
	}

	return assignment, nil
}

func (r *reviewAssignmentRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.ReviewAssignment, error) {
	return r.ListBySubmissions(ctx, []uint{submissionID})
}

func (r *reviewAssignmentRepository) ListBySubmissions(ctx context.Context, submissionIDs []uint) ([]models.ReviewAssignment, error) {
	if len(submissionIDs) == 0 {
		return []models.ReviewAssignment{}, nil
	}

	var assignments []models.ReviewAssignment
	if err := r.baseQuery(ctx).
		Where("submission_id IN ?", submissionIDs).
		Order("id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

func (r *reviewAssignmentRepository) ListByReviewer(ctx context.Context, reviewerID uint) ([]models.ReviewAssignment, error) {
	var assignments []models.ReviewAssignment
	if err := r.baseQuery(ctx).
		Where("reviewer_id = ? AND is_ai_review = ?", reviewerID, false).
		Order("deadline ASC, id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

func (r *reviewAssignmentRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.ReviewAssignment, error) {
	var assignments []models.ReviewAssignment
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("submission_id ASC, id ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

func (r *reviewAssignmentRepository) ListPendingAI(ctx context.Context, limit int) ([]models.ReviewAssignment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var assignments []models.ReviewAssignment
	if err := r.db.WithContext(ctx).
		Where("is_ai_review = ? AND status = ?", true, models.ReviewAssignmentStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

// CreateForSubmission inserts the pairings of one submission in a single transaction.
// Pairs that already exist are skipped, so concurrent matcher runs cannot duplicate them.
func (r *reviewAssignmentRepository) CreateForSubmission(ctx context.Context, pairs []models.ReviewAssignment) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	var created int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range pairs {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "submission_id"}, {Name: "reviewer_id"}},
				DoNothing: true,
			}).Create(&pairs[i])
			if result.Error != nil {
				return result.Error
			}
			created += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return created, nil
}

// CompleteWithReview upserts the single review of an assignment and marks it completed.
func (r *reviewAssignmentRepository) CompleteWithReview(ctx context.Context, assignment *models.ReviewAssignment, review *models.Review) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		review.ReviewAssignmentID = assignment.ID
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "review_assignment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"overall_score", "feedback", "reviewed_at", "review_type", "feedback_source", "criteria", "updated_at",
			}),
		}).Create(review).Error; err != nil {
			return err
		}

		completedAt := review.ReviewedAt
		if err := tx.Model(&models.ReviewAssignment{}).
			Where("id = ?", assignment.ID).
			Updates(map[string]interface{}{
				"status":       models.ReviewAssignmentStatusCompleted,
				"completed_at": completedAt,
				"updated_at":   time.Now().UTC(),
			}).Error; err != nil {
			return err
		}

		assignment.Status = models.ReviewAssignmentStatusCompleted
		assignment.CompletedAt = &completedAt
		assignment.Review = review
		return nil
	})
}

// MarkOverdue flags pending human obligations whose deadline elapsed.
func (r *reviewAssignmentRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ReviewAssignment{}).
		Where("status = ? AND is_ai_review = ? AND deadline < ?", models.ReviewAssignmentStatusPending, false, now).
		Updates(map[string]interface{}{
			"status":     models.ReviewAssignmentStatusOverdue,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
