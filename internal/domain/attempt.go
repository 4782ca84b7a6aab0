package domain

import "time"

// DeliveryAttempt records a single provider dispatch for a notification.
type DeliveryAttempt struct {
	ID                string
	NotificationID    string
	Kind              Kind
	AttemptNumber     int
	StatusCode        *int
	ProviderMessageID *string
	Error             *string
	DurationMillis    int64
	CreatedAt         time.Time
}
