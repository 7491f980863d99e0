package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// RegradeRepository persists regrade requests.
type RegradeRepository interface {
	CreatePending(ctx context.Context, request *models.RegradeRequest) error
	GetByID(ctx context.Context, id uint) (models.RegradeRequest, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.RegradeRequest, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.RegradeRequest, error)
	HasStatus(ctx context.Context, submissionID uint, status models.RegradeStatus) (bool, error)
	Transition(ctx context.Context, request *models.RegradeRequest, from models.RegradeStatus) error
}

type regradeRepository struct {
	db *gorm.DB
}

// NewRegradeRepository constructs a repository backed by GORM.
func NewRegradeRepository(db *gorm.DB) RegradeRepository {
	return &regradeRepository{db: db}
}

// CreatePending inserts the request unless another pending one exists for the
// submission. The check is the idx_regrade_pending partial unique index, so two
// concurrent callers cannot both succeed.
func (r *regradeRepository) CreatePending(ctx context.Context, request *models.RegradeRequest) error {
	request.Status = models.RegradeStatusPending
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "submission_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'pending'"}}},
		DoNothing:   true,
	}).Create(request)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPendingRegradeExists
	}
	return nil
}

func (r *regradeRepository) GetByID(ctx context.Context, id uint) (models.RegradeRequest, error) {
	var request models.RegradeRequest
	if err := r.db.WithContext(ctx).First(&request, id).Error; err != nil {
		return models.RegradeRequest{}, err
	}
	return request, nil
}

func (r *regradeRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.RegradeRequest, error) {
	var requests []models.RegradeRequest
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("requested_at DESC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *regradeRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.RegradeRequest, error) {
	var requests []models.RegradeRequest
	if err := r.db.WithContext(ctx).
		Where("status = ? AND requested_at < ?", models.RegradeStatusPending, cutoff).
		Order("requested_at ASC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *regradeRepository) HasStatus(ctx context.Context, submissionID uint, status models.RegradeStatus) (bool, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.RegradeRequest{}).
		Where("submission_id = ? AND status = ?", submissionID, status).
		Count(&total).Error; err != nil {
		return false, err
	}
	return total > 0, nil
}

// Transition persists the request's new state only if it is still in the from state.
func (r *regradeRepository) Transition(ctx context.Context, request *models.RegradeRequest, from models.RegradeStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.RegradeRequest{}).
		Where("id = ? AND status = ?", request.ID, from).
		Updates(map[string]interface{}{
			"status":           request.Status,
			"resolved_by":      request.ResolvedBy,
			"resolution_notes": request.ResolutionNotes,
			"resolved_at":      request.ResolvedAt,
			"completed_at":     request.CompletedAt,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}
