package repository

import (
	"time"

	"github.com/kursadbilgin/notify-relay/internal/domain"
)

// DeliveryStatusModel is the persistence model for the notification_statuses table.
type DeliveryStatusModel struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	NotificationID string        `gorm:"type:uuid;not null"`
	UserID         string        `gorm:"type:uuid;not null"`
	Kind           domain.Kind   `gorm:"type:varchar(10);not null"`
	TemplateCode   string        `gorm:"type:text;not null"`
	Status         domain.Status `gorm:"type:varchar(20);not null;default:pending"`
	RetryCount     int           `gorm:"not null;default:0"`
	ErrorMessage   *string       `gorm:"type:text"`
	SentAt         *time.Time    `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeliveryStatusModel) TableName() string {
	return "notification_statuses"
}

// DeliveryAttemptModel is the persistence model for notification_attempts.
type DeliveryAttemptModel struct {
	ID                string      `gorm:"type:uuid;primaryKey"`
	NotificationID    string      `gorm:"type:uuid;not null"`
	Kind              domain.Kind `gorm:"type:varchar(10);not null"`
	AttemptNumber     int         `gorm:"not null"`
	StatusCode        *int        `gorm:"type:int"`
	ProviderMessageID *string     `gorm:"type:varchar(255)"`
	Error             *string     `gorm:"type:text"`
	DurationMillis    int64       `gorm:"not null;default:0"`
	CreatedAt         time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "notification_attempts"
}

func statusModelToDomain(m *DeliveryStatusModel) *domain.DeliveryStatus {
	if m == nil {
		return nil
	}

	return &domain.DeliveryStatus{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		UserID:         m.UserID,
		Kind:           m.Kind,
		TemplateCode:   m.TemplateCode,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		ErrorMessage:   m.ErrorMessage,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:                a.ID,
		NotificationID:    a.NotificationID,
		Kind:              a.Kind,
		AttemptNumber:     a.AttemptNumber,
		StatusCode:        a.StatusCode,
		ProviderMessageID: a.ProviderMessageID,
		Error:             a.Error,
		DurationMillis:    a.DurationMillis,
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		Kind:              m.Kind,
		AttemptNumber:     m.AttemptNumber,
		StatusCode:        m.StatusCode,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		DurationMillis:    m.DurationMillis,
		CreatedAt:         m.CreatedAt,
	}
}
