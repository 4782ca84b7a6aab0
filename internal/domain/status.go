package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the persisted delivery state of a notification.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryStatus is the status record operators read to follow a notification.
type DeliveryStatus struct {
	ID             string
	NotificationID string
	UserID         string
	Kind           Kind
	TemplateCode   string
	Status         Status
	RetryCount     int
	ErrorMessage   *string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusUpdate is a single transition applied to a DeliveryStatus.
type StatusUpdate struct {
	Status       Status
	ErrorMessage *string
	SentAt       *time.Time
	// IncrementRetry bumps retry_count atomically in the store.
	IncrementRetry bool
}
