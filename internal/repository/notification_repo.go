package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/models"
)

// NotificationFilter narrows an inbox listing.
type NotificationFilter struct {
	UserID     uint
	UnreadOnly bool
	Type       string
	Limit      int
	Offset     int
}

// NotificationRepository persists the per-user notification inbox.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, id uint, userID uint, at time.Time) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// List returns the newest notifications first. Limit is clamped to (0, 100].
func (r *notificationRepository) List(ctx context.Context, filter NotificationFilter) ([]models.Notification, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := r.db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	var notifications []models.Notification
	if err := query.
		Order("created_at DESC, id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead flags one notification owned by userID. Marking an already read
// notification keeps its original read time. A notification owned by someone
// else is reported as gorm.ErrRecordNotFound.
func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID uint, at time.Time) (models.Notification, error) {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read = ?", id, userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at}).Error; err != nil {
		return models.Notification{}, err
	}

	var notification models.Notification
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return result.RowsAffected, result.Error
}
