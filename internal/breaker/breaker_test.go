package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	redisinfra "github.com/kursadbilgin/notify-relay/internal/infra/redis"
	goredis "github.com/redis/go-redis/v9"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisinfra.NewCache(client)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	b, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, mr
}

func TestBreakerOpensAtThresholdAndClosesAfterCooldown(t *testing.T) {
	t.Parallel()

	b, mr := newTestBreaker(t, Config{})
	ctx := context.Background()

	for i := 1; i < DefaultThreshold; i++ {
		count, opened, err := b.RecordFailure(ctx, domain.KindEmail)
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if count != int64(i) || opened {
			t.Fatalf("RecordFailure() = %d, %v; want %d, false", count, opened, i)
		}
		if open, _ := b.IsOpen(ctx, domain.KindEmail); open {
			t.Fatalf("circuit open after %d failures", i)
		}
	}

	count, opened, err := b.RecordFailure(ctx, domain.KindEmail)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if count != DefaultThreshold || !opened {
		t.Fatalf("RecordFailure() = %d, %v; want %d, true", count, opened, DefaultThreshold)
	}

	state, err := b.State(ctx, domain.KindEmail)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if !state.Open || state.Failures != DefaultThreshold {
		t.Fatalf("State() = %+v", state)
	}
	if state.OpenRemaining <= 0 || state.OpenRemaining > DefaultCooldown {
		t.Fatalf("OpenRemaining = %v, want (0, %v]", state.OpenRemaining, DefaultCooldown)
	}

	if open, _ := b.IsOpen(ctx, domain.KindPush); open {
		t.Fatal("push circuit must be independent of email")
	}

	mr.FastForward(DefaultCooldown + time.Second)

	if open, _ := b.IsOpen(ctx, domain.KindEmail); open {
		t.Fatal("circuit still open after cooldown")
	}
}

func TestBreakerFailureWindowExpires(t *testing.T) {
	t.Parallel()

	b, mr := newTestBreaker(t, Config{Threshold: 3, FailureWindow: 10 * time.Second})
	ctx := context.Background()

	_, _, _ = b.RecordFailure(ctx, domain.KindPush)
	_, _, _ = b.RecordFailure(ctx, domain.KindPush)

	mr.FastForward(11 * time.Second)

	count, opened, err := b.RecordFailure(ctx, domain.KindPush)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if count != 1 || opened {
		t.Fatalf("RecordFailure() = %d, %v; want 1, false", count, opened)
	}
}

func TestBreakerFailuresBeyondThresholdRefreshCooldown(t *testing.T) {
	t.Parallel()

	b, mr := newTestBreaker(t, Config{Threshold: 1, Cooldown: 20 * time.Second})
	ctx := context.Background()

	if _, opened, _ := b.RecordFailure(ctx, domain.KindEmail); !opened {
		t.Fatal("first failure should open circuit at threshold 1")
	}

	mr.FastForward(15 * time.Second)

	if _, opened, _ := b.RecordFailure(ctx, domain.KindEmail); opened {
		t.Fatal("failure beyond threshold should not report a new transition")
	}

	mr.FastForward(10 * time.Second)

	if open, _ := b.IsOpen(ctx, domain.KindEmail); !open {
		t.Fatal("cooldown should have been refreshed")
	}
}

func TestBreakerSurfacesInfrastructureErrors(t *testing.T) {
	t.Parallel()

	b, mr := newTestBreaker(t, Config{})
	mr.Close()

	if _, err := b.IsOpen(context.Background(), domain.KindEmail); !errors.Is(err, domain.ErrInfrastructure) {
		t.Fatalf("IsOpen() error = %v, want ErrInfrastructure", err)
	}
	if _, _, err := b.RecordFailure(context.Background(), domain.KindEmail); !errors.Is(err, domain.ErrInfrastructure) {
		t.Fatalf("RecordFailure() error = %v, want ErrInfrastructure", err)
	}
}
