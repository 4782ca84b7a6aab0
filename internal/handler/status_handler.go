package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/repository"
)

// DeliveryMarkers answers whether a notification already has a processed marker.
type DeliveryMarkers interface {
	IsProcessed(ctx context.Context, kind domain.Kind, notificationID string) (bool, error)
}

type StatusHandler struct {
	statuses repository.StatusRepository
	attempts repository.AttemptRepository
	markers  DeliveryMarkers
	now      func() time.Time
}

func NewStatusHandler(
	statuses repository.StatusRepository,
	attempts repository.AttemptRepository,
	markers DeliveryMarkers,
) (*StatusHandler, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if markers == nil {
		return nil, fmt.Errorf("delivery markers are required")
	}
	return &StatusHandler{statuses: statuses, attempts: attempts, markers: markers, now: time.Now}, nil
}

func RegisterStatusRoutes(
	router fiber.Router,
	statuses repository.StatusRepository,
	attempts repository.AttemptRepository,
	markers DeliveryMarkers,
) error {
	h, err := NewStatusHandler(statuses, attempts, markers)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications/:id/status", h.GetStatus)
	v1.Post("/notifications/status", h.UpdateStatus)

	return nil
}

type statusUpdateRequest struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
	Error          string `json:"error"`
}

type attemptResponse struct {
	AttemptNumber     int       `json:"attemptNumber"`
	StatusCode        *int      `json:"statusCode,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Error             *string   `json:"error,omitempty"`
	DurationMillis    int64     `json:"durationMs"`
	CreatedAt         time.Time `json:"createdAt"`
}

type statusResponse struct {
	NotificationID string            `json:"notificationId"`
	UserID         string            `json:"userId"`
	Kind           string            `json:"kind"`
	TemplateCode   string            `json:"templateCode"`
	Status         string            `json:"status"`
	RetryCount     int               `json:"retryCount"`
	ErrorMessage   *string           `json:"errorMessage,omitempty"`
	SentAt         *time.Time        `json:"sentAt,omitempty"`
	Processed      *bool             `json:"processed,omitempty"`
	Attempts       []attemptResponse `json:"attempts"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// GetStatus returns the stored status with its attempt history. Passing
// ?kind= also reports whether the dedup marker is still present.
func (h *StatusHandler) GetStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "notification id is required")
	}

	status, err := h.statuses.GetByNotificationID(c.Context(), id)
	if err != nil {
		return err
	}

	attempts, err := h.attempts.GetByNotificationID(c.Context(), id)
	if err != nil {
		return err
	}

	resp := toStatusResponse(status, attempts)

	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind, err := domain.ParseKind(raw)
		if err != nil {
			return err
		}
		processed, err := h.markers.IsProcessed(c.Context(), kind, id)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInfrastructure, err)
		}
		resp.Processed = &processed
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// UpdateStatus applies a status reported by an external party, such as a
// provider delivery webhook.
func (h *StatusHandler) UpdateStatus(c *fiber.Ctx) error {
	var req statusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(req.NotificationID)
	if id == "" {
		return fmt.Errorf("%w: notification_id is required", domain.ErrValidation)
	}
	status, err := domain.ParseStatusFromString(req.Status)
	if err != nil {
		return err
	}

	update := domain.StatusUpdate{Status: status}
	if msg := strings.TrimSpace(req.Error); msg != "" {
		update.ErrorMessage = &msg
	}
	if status == domain.StatusSent {
		sentAt := h.now().UTC()
		update.SentAt = &sentAt
	}

	if err := h.statuses.UpdateStatus(c.Context(), id, update); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         status.String(),
	})
}

func toStatusResponse(s *domain.DeliveryStatus, attempts []domain.DeliveryAttempt) statusResponse {
	resp := statusResponse{
		NotificationID: s.NotificationID,
		UserID:         s.UserID,
		Kind:           s.Kind.String(),
		TemplateCode:   s.TemplateCode,
		Status:         s.Status.String(),
		RetryCount:     s.RetryCount,
		ErrorMessage:   s.ErrorMessage,
		SentAt:         s.SentAt,
		Attempts:       make([]attemptResponse, 0, len(attempts)),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNumber:     a.AttemptNumber,
			StatusCode:        a.StatusCode,
			ProviderMessageID: a.ProviderMessageID,
			Error:             a.Error,
			DurationMillis:    a.DurationMillis,
			CreatedAt:         a.CreatedAt,
		})
	}
	return resp
}
