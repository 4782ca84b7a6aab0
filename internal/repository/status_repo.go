package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/domain"
	"gorm.io/gorm"
)

// StatusRepository is the narrow write/read interface over delivery status records.
// Rows are created by the producing side; this service only transitions them.
type StatusRepository interface {
	GetByNotificationID(ctx context.Context, notificationID string) (*domain.DeliveryStatus, error)
	UpdateStatus(ctx context.Context, notificationID string, update domain.StatusUpdate) error
}

type GormStatusRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStatusRepo(db *gorm.DB) *GormStatusRepo {
	return &GormStatusRepo{db: db, now: time.Now}
}

func (r *GormStatusRepo) GetByNotificationID(ctx context.Context, notificationID string) (*domain.DeliveryStatus, error) {
	var model DeliveryStatusModel
	err := r.db.WithContext(ctx).First(&model, "notification_id = ?", notificationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load status: %w", domain.ErrInfrastructure, err)
	}
	return statusModelToDomain(&model), nil
}

func (r *GormStatusRepo) UpdateStatus(ctx context.Context, notificationID string, update domain.StatusUpdate) error {
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, update.Status)
	}

	values := map[string]any{
		"status":        update.Status,
		"error_message": update.ErrorMessage,
		"updated_at":    r.now().UTC(),
	}
	if update.SentAt != nil {
		values["sent_at"] = update.SentAt.UTC()
	}
	if update.IncrementRetry {
		values["retry_count"] = gorm.Expr("retry_count + 1")
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryStatusModel{}).
		Where("notification_id = ?", notificationID).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("%w: failed to update status: %w", domain.ErrInfrastructure, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
