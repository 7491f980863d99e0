package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// SettingRepository stores process-wide key/value settings.
type SettingRepository interface {
	List(ctx context.Context) ([]models.Setting, error)
	EnsureDefaults(ctx context.Context, defaults []models.Setting) error
	Upsert(ctx context.Context, settings []models.Setting) error
}

type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository constructs a settings repository.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) List(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// EnsureDefaults inserts missing keys without touching values already stored.
func (r *settingRepository) EnsureDefaults(ctx context.Context, defaults []models.Setting) error {
	if len(defaults) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&defaults).Error
}

// Upsert writes every setting in one transaction; last writer wins.
func (r *settingRepository) Upsert(ctx context.Context, settings []models.Setting) error {
	if len(settings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
		}).Create(&settings).Error
	})
}
