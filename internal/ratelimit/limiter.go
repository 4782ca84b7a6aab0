package ratelimit

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notify-relay/internal/domain"
)

// ErrWaitExceeded is returned by Wait when no slot opened within the
// limiter's wait budget.
var ErrWaitExceeded = errors.New("rate limit wait exceeded")

// RateLimiter throttles provider dispatch per notification kind.
type RateLimiter interface {
	Allow(ctx context.Context, kind domain.Kind) (bool, error)
	Wait(ctx context.Context, kind domain.Kind) error
}

// Unlimited never throttles. It is used when no rate limit is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, domain.Kind) (bool, error) { return true, nil }

func (Unlimited) Wait(context.Context, domain.Kind) error { return nil }
