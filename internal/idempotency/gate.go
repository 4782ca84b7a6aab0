package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/cache"
	"github.com/kursadbilgin/notify-relay/internal/domain"
)

const (
	valueProcessing = "processing"
	valueSent       = "sent"

	DefaultDedupTTL       = 300 * time.Second
	DefaultReservationTTL = 30 * time.Second
)

// Reservation is the result of trying to claim a job.
type Reservation int

const (
	// Reserved means the caller owns the job and must either MarkProcessed
	// or Release it.
	Reserved Reservation = iota
	// Duplicate means the job was already delivered.
	Duplicate
	// InFlight means another handler currently owns the job.
	InFlight
)

func (r Reservation) String() string {
	switch r {
	case Reserved:
		return "reserved"
	case Duplicate:
		return "duplicate"
	case InFlight:
		return "in_flight"
	}
	return fmt.Sprintf("reservation(%d)", int(r))
}

// Gate suppresses duplicate deliveries of the same notification per kind.
type Gate struct {
	store          cache.Store
	dedupTTL       time.Duration
	reservationTTL time.Duration
}

func NewGate(store cache.Store, dedupTTL, reservationTTL time.Duration) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	if reservationTTL <= 0 {
		reservationTTL = DefaultReservationTTL
	}

	return &Gate{
		store:          store,
		dedupTTL:       dedupTTL,
		reservationTTL: reservationTTL,
	}, nil
}

func Key(kind domain.Kind, notificationID string) string {
	return fmt.Sprintf("idempotency:%s:%s", kind, strings.TrimSpace(notificationID))
}

// Reserve atomically claims the job. Any existing value other than sent,
// including one left by an older deployment, is treated as in flight.
func (g *Gate) Reserve(ctx context.Context, kind domain.Kind, notificationID string) (Reservation, error) {
	key := Key(kind, notificationID)

	stored, err := g.store.SetNX(ctx, key, valueProcessing, g.reservationTTL)
	if err != nil {
		return InFlight, fmt.Errorf("reserve %s: %w", key, err)
	}
	if stored {
		return Reserved, nil
	}

	value, found, err := g.store.Get(ctx, key)
	if err != nil {
		return InFlight, fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		// Expired between SETNX and GET; try once more.
		stored, err = g.store.SetNX(ctx, key, valueProcessing, g.reservationTTL)
		if err != nil {
			return InFlight, fmt.Errorf("reserve %s: %w", key, err)
		}
		if stored {
			return Reserved, nil
		}
		return InFlight, nil
	}
	if value == valueSent {
		return Duplicate, nil
	}
	return InFlight, nil
}

// MarkProcessed records a confirmed delivery for the dedup window.
func (g *Gate) MarkProcessed(ctx context.Context, kind domain.Kind, notificationID string) error {
	key := Key(kind, notificationID)
	if err := g.store.Set(ctx, key, valueSent, g.dedupTTL); err != nil {
		return fmt.Errorf("mark processed %s: %w", key, err)
	}
	return nil
}

// Release drops a reservation so a later redelivery can proceed.
func (g *Gate) Release(ctx context.Context, kind domain.Kind, notificationID string) error {
	key := Key(kind, notificationID)
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *Gate) IsProcessed(ctx context.Context, kind domain.Kind, notificationID string) (bool, error) {
	key := Key(kind, notificationID)
	value, found, err := g.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return found && value == valueSent, nil
}
