package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/observability"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"go.uber.org/zap"
)

// Relay consumes the retry queue and republishes each job to its work queue
// once it is due.
type Relay struct {
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRelay(publisher queue.Publisher, logger *zap.Logger) (*Relay, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Relay{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (r *Relay) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Handle is a queue.MessageHandler for the retry queue.
func (r *Relay) Handle(ctx context.Context, d queue.Delivery) queue.Outcome {
	target, ok := queue.HeaderString(d.Headers, queue.HeaderTargetQueue)
	if !ok {
		r.logger.Error("rejecting retry message: missing target queue", zap.String("messageId", d.MessageID))
		return queue.Reject
	}
	kind, ok := queue.KindForQueue(target)
	if !ok {
		r.logger.Error("rejecting retry message: unknown target queue", zap.String("targetQueue", target))
		return queue.Reject
	}
	retryAtMillis, ok := queue.HeaderInt64(d.Headers, queue.HeaderRetryAt)
	if !ok {
		r.logger.Error("rejecting retry message: missing retry time", zap.String("targetQueue", target))
		return queue.Reject
	}

	if wait := time.UnixMilli(retryAtMillis).Sub(r.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return queue.Requeue
		case <-timer.C:
		}
	}

	if err := r.publisher.Publish(ctx, target, d.Body, nil); err != nil {
		r.logger.Error("failed to relay retry, requeueing",
			zap.String("targetQueue", target),
			zap.Error(err),
		)
		return queue.Requeue
	}

	r.metrics.IncRetryRelayed(kind.String())
	r.logger.Debug("retry relayed", zap.String("targetQueue", target))
	return queue.Ack
}
