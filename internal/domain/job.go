package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Job is the broker payload for a single notification delivery.
type Job struct {
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	RequestID      string         `json:"request_id"`
	TemplateCode   string         `json:"template_code"`
	Variables      map[string]any `json:"variables,omitempty"`
	UserEmail      string         `json:"user_email,omitempty"`
	DeviceToken    string         `json:"device_token,omitempty"`
	Priority       *int           `json:"priority,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AttemptCount   int            `json:"attempt_count,omitempty"`

	// raw holds every top-level field as received, including ones this type
	// does not model, so re-encoding never drops producer data.
	raw map[string]json.RawMessage
}

// DecodeJob parses a broker payload. It only fails on malformed JSON; field
// presence is checked by Validate.
func DecodeJob(body []byte) (*Job, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to decode job: payload is not an object")
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	job.raw = raw

	return &job, nil
}

func (j *Job) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{name: "notification_id", value: j.NotificationID},
		{name: "request_id", value: j.RequestID},
		{name: "user_id", value: j.UserID},
		{name: "template_code", value: j.TemplateCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, field.name)
		}
	}
	if j.AttemptCount < 0 {
		return fmt.Errorf("%w: attempt_count must be >= 0 (got %d)", ErrValidation, j.AttemptCount)
	}
	return nil
}

// Recipient returns the delivery address for the given kind.
func (j *Job) Recipient(kind Kind) string {
	switch kind {
	case KindEmail:
		return strings.TrimSpace(j.UserEmail)
	case KindPush:
		return strings.TrimSpace(j.DeviceToken)
	}
	return ""
}

// Encode serializes the job with overrides applied on top of the original payload.
func (j *Job) Encode(overrides map[string]any) ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(j.raw)+len(overrides))
	if j.raw != nil {
		maps.Copy(fields, j.raw)
	} else {
		body, err := json.Marshal(j)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job: %w", err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("failed to encode job: %w", err)
		}
	}

	for key, value := range overrides {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", key, err)
		}
		fields[key] = encoded
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return body, nil
}

// RetryBody is the payload republished for the next attempt.
func (j *Job) RetryBody(attempt int) ([]byte, error) {
	return j.Encode(map[string]any{"attempt_count": attempt})
}

// DeadLetterBody is the payload published to the dead-letter queue: the
// original job plus failed_at and, when known, the terminal error.
func (j *Job) DeadLetterBody(failedAt time.Time, cause string) ([]byte, error) {
	overrides := map[string]any{
		"failed_at": failedAt.UTC().Format(time.RFC3339Nano),
	}
	if cause != "" {
		overrides["error"] = cause
	}
	return j.Encode(overrides)
}
