package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/queue"
)

// Scheduler parks a failed job on the retry queue until its backoff elapses.
type Scheduler struct {
	publisher queue.Publisher
	base      time.Duration
	now       func() time.Time
}

func NewScheduler(publisher queue.Publisher, base time.Duration) (*Scheduler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}

	return &Scheduler{
		publisher: publisher,
		base:      base,
		now:       time.Now,
	}, nil
}

// Schedule publishes job with attempt_count incremented and returns the
// backoff applied before it is redelivered to targetQueue.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.Job, targetQueue string) (time.Duration, error) {
	if job == nil {
		return 0, fmt.Errorf("job is required")
	}
	if _, ok := queue.KindForQueue(targetQueue); !ok {
		return 0, fmt.Errorf("invalid retry target queue %q", targetQueue)
	}

	nextAttempt := job.AttemptCount + 1
	delay := Backoff(s.base, nextAttempt)

	body, err := job.RetryBody(nextAttempt)
	if err != nil {
		return 0, fmt.Errorf("failed to encode retry job: %w", err)
	}

	headers := map[string]any{
		queue.HeaderTargetQueue:  targetQueue,
		queue.HeaderRetryAt:      s.now().Add(delay).UnixMilli(),
		queue.HeaderRetryDelayMS: delay.Milliseconds(),
	}

	if err := s.publisher.Publish(ctx, queue.RetryQueue, body, headers); err != nil {
		return 0, fmt.Errorf("failed to schedule retry: %w", err)
	}

	return delay, nil
}
