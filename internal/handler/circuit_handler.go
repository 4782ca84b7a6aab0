package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-relay/internal/breaker"
	"github.com/kursadbilgin/notify-relay/internal/domain"
)

type CircuitInspector interface {
	State(ctx context.Context, kind domain.Kind) (breaker.State, error)
}

type circuitResponse struct {
	breaker.State
	OpenRemainingMillis int64 `json:"openRemainingMs"`
}

func RegisterCircuitRoutes(router fiber.Router, circuits CircuitInspector) error {
	if circuits == nil {
		return fmt.Errorf("circuit inspector is required")
	}

	v1 := router.Group("/v1")
	v1.Get("/circuits", listCircuits(circuits))
	v1.Get("/circuits/:kind", getCircuit(circuits))

	return nil
}

func getCircuit(circuits CircuitInspector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind, err := domain.ParseKind(c.Params("kind"))
		if err != nil {
			return err
		}

		state, err := circuits.State(c.Context(), kind)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInfrastructure, err)
		}
		return c.Status(fiber.StatusOK).JSON(toCircuitResponse(state))
	}
}

func listCircuits(circuits CircuitInspector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kinds := domain.Kinds()
		items := make([]circuitResponse, 0, len(kinds))
		for _, kind := range kinds {
			state, err := circuits.State(c.Context(), kind)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrInfrastructure, err)
			}
			items = append(items, toCircuitResponse(state))
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": items})
	}
}

func toCircuitResponse(state breaker.State) circuitResponse {
	return circuitResponse{
		State:               state,
		OpenRemainingMillis: state.OpenRemaining.Milliseconds(),
	}
}
