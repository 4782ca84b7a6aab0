package cache

import (
	"context"
	"time"
)

// Store is the key/value port backing idempotency markers and circuit state.
// Every mutation is a single atomic operation on the backing store.
type Store interface {
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Incr increments key and applies ttl when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// TTL returns the remaining lifetime of key, or zero when it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
