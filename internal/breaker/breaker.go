package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/cache"
	"github.com/kursadbilgin/notify-relay/internal/domain"
)

const (
	DefaultThreshold     = 5
	DefaultFailureWindow = 60 * time.Second
	DefaultCooldown      = 60 * time.Second

	openValue = "1"
)

// State is a point-in-time view of one kind's circuit.
type State struct {
	Kind          domain.Kind   `json:"kind"`
	Open          bool          `json:"open"`
	Failures      int64         `json:"failures"`
	Threshold     int64         `json:"threshold"`
	OpenRemaining time.Duration `json:"-"`
}

// Config tunes a Breaker. Zero values fall back to the defaults.
type Config struct {
	Threshold     int64
	FailureWindow time.Duration
	Cooldown      time.Duration
}

// Breaker is a per-kind circuit backed by two independent keys: a failure
// counter with a sliding-from-first-failure window and an open flag that
// closes by expiry.
type Breaker struct {
	store     cache.Store
	threshold int64
	window    time.Duration
	cooldown  time.Duration
}

func New(store cache.Store, cfg Config) (*Breaker, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	return &Breaker{
		store:     store,
		threshold: cfg.Threshold,
		window:    cfg.FailureWindow,
		cooldown:  cfg.Cooldown,
	}, nil
}

func failuresKey(kind domain.Kind) string { return fmt.Sprintf("circuit:%s:failures", kind) }
func openKey(kind domain.Kind) string     { return fmt.Sprintf("circuit:%s:open", kind) }

func (b *Breaker) IsOpen(ctx context.Context, kind domain.Kind) (bool, error) {
	_, found, err := b.store.Get(ctx, openKey(kind))
	if err != nil {
		return false, fmt.Errorf("read circuit %s: %w", kind, err)
	}
	return found, nil
}

// RecordFailure counts a dispatch failure and opens the circuit once the
// count within the window reaches the threshold. It returns the count and
// whether this call opened the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, kind domain.Kind) (int64, bool, error) {
	count, err := b.store.Incr(ctx, failuresKey(kind), b.window)
	if err != nil {
		return 0, false, fmt.Errorf("record circuit failure %s: %w", kind, err)
	}
	if count < b.threshold {
		return count, false, nil
	}

	// Only the call that crosses the threshold reports the transition; later
	// failures in the same window refresh the cooldown.
	if err := b.store.Set(ctx, openKey(kind), openValue, b.cooldown); err != nil {
		return count, false, fmt.Errorf("open circuit %s: %w", kind, err)
	}
	return count, count == b.threshold, nil
}

func (b *Breaker) State(ctx context.Context, kind domain.Kind) (State, error) {
	state := State{Kind: kind, Threshold: b.threshold}

	open, err := b.IsOpen(ctx, kind)
	if err != nil {
		return state, err
	}
	state.Open = open

	raw, found, err := b.store.Get(ctx, failuresKey(kind))
	if err != nil {
		return state, fmt.Errorf("read circuit failures %s: %w", kind, err)
	}
	if found {
		if state.Failures, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return state, fmt.Errorf("parse circuit failures %s: %w", kind, err)
		}
	}

	if open {
		if state.OpenRemaining, err = b.store.TTL(ctx, openKey(kind)); err != nil {
			return state, fmt.Errorf("read circuit ttl %s: %w", kind, err)
		}
	}
	return state, nil
}
