package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/observability"
	"github.com/kursadbilgin/notify-relay/internal/provider"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"github.com/kursadbilgin/notify-relay/internal/repository"
	"github.com/kursadbilgin/notify-relay/internal/retry"
	"go.uber.org/zap"
)

// Action is what the router does with a job that reached a terminal point of
// one delivery attempt.
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

const (
	reasonSent           = "sent"
	reasonTransient      = "transient"
	reasonPermanent      = "permanent"
	reasonRetryExhausted = "retry_exhausted"
	reasonInvalidPayload = "invalid_payload"
)

// Decision is the routing outcome for one job.
type Decision struct {
	Action Action
	Status domain.Status
	Delay  time.Duration
	Reason string
	Error  string
}

// Decide maps a dispatch result to a routing decision. A nil sendErr is a
// confirmed delivery. Errors a provider marked permanent skip the retry
// budget; everything else retries while attempt_count+1 <= maxRetry.
func Decide(job *domain.Job, sendErr error, maxRetry int, base time.Duration) Decision {
	if sendErr == nil {
		return Decision{Action: ActionAck, Status: domain.StatusSent, Reason: reasonSent}
	}

	if maxRetry < 0 {
		maxRetry = 0
	}
	nextAttempt := job.AttemptCount + 1
	message := sendErr.Error()

	if provider.IsPermanent(sendErr) {
		return Decision{Action: ActionDeadLetter, Status: domain.StatusFailed, Reason: reasonPermanent, Error: message}
	}
	if nextAttempt <= maxRetry {
		return Decision{
			Action: ActionRetry,
			Status: domain.StatusRetrying,
			Delay:  retry.Backoff(base, nextAttempt),
			Reason: reasonTransient,
			Error:  message,
		}
	}
	return Decision{Action: ActionDeadLetter, Status: domain.StatusFailed, Reason: reasonRetryExhausted, Error: message}
}

// InvalidJobDecision dead-letters a job that failed validation.
func InvalidJobDecision(validationErr error) Decision {
	return Decision{
		Action: ActionDeadLetter,
		Status: domain.StatusFailed,
		Reason: reasonInvalidPayload,
		Error:  fmt.Sprintf("%s: %v", reasonInvalidPayload, validationErr),
	}
}

// RetryScheduler defers a job to a later attempt.
type RetryScheduler interface {
	Schedule(ctx context.Context, job *domain.Job, targetQueue string) (time.Duration, error)
}

// Router applies a Decision: status write, idempotency marker, retry or
// dead-letter publish, and the broker outcome.
type Router struct {
	kind      domain.Kind
	statuses  repository.StatusRepository
	gate      IdempotencyGate
	scheduler RetryScheduler
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRouter(
	kind domain.Kind,
	statuses repository.StatusRepository,
	gate IdempotencyGate,
	scheduler RetryScheduler,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*Router, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("invalid kind %q", kind)
	}
	if statuses == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("idempotency gate is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("retry scheduler is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		kind:      kind,
		statuses:  statuses,
		gate:      gate,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (r *Router) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Route applies d for job. reserved tells whether the caller holds the
// idempotency reservation, which every non-success exit must release.
func (r *Router) Route(ctx context.Context, job *domain.Job, d Decision, reserved bool) queue.Outcome {
	logger := observability.WithContextLogger(r.logger, ctx)

	switch d.Action {
	case ActionAck:
		return r.routeSuccess(ctx, job, logger)
	case ActionRetry:
		return r.routeRetry(ctx, job, d, reserved, logger)
	case ActionDeadLetter:
		return r.routeDeadLetter(ctx, job, d, reserved, logger)
	}

	logger.Error("unknown routing action, requeueing", zap.Stringer("action", d.Action))
	r.release(ctx, job, reserved, logger)
	return queue.Requeue
}

// routeSuccess never requeues: redelivering a sent notification is worse
// than a stale marker or status label.
func (r *Router) routeSuccess(ctx context.Context, job *domain.Job, logger *zap.Logger) queue.Outcome {
	if err := r.gate.MarkProcessed(ctx, r.kind, job.NotificationID); err != nil {
		logger.Error("failed to mark notification processed", zap.Error(err))
	}

	sentAt := r.now().UTC()
	r.writeStatus(ctx, job, domain.StatusUpdate{Status: domain.StatusSent, SentAt: &sentAt}, logger)

	r.metrics.IncNotificationSent(r.kind.String())
	logger.Info("notification sent")
	return queue.Ack
}

func (r *Router) routeRetry(ctx context.Context, job *domain.Job, d Decision, reserved bool, logger *zap.Logger) queue.Outcome {
	message := d.Error
	update := domain.StatusUpdate{Status: domain.StatusRetrying, ErrorMessage: &message, IncrementRetry: true}
	if err := r.writeStatus(ctx, job, update, logger); err != nil {
		r.release(ctx, job, reserved, logger)
		return queue.Requeue
	}

	delay, err := r.scheduler.Schedule(ctx, job, queue.QueueName(r.kind))
	if err != nil {
		logger.Error("failed to schedule retry, requeueing", zap.Error(err))
		r.release(ctx, job, reserved, logger)
		return queue.Requeue
	}

	r.release(ctx, job, reserved, logger)
	r.metrics.IncRetryScheduled(r.kind.String())
	logger.Warn("notification scheduled for retry",
		zap.Int("nextAttempt", job.AttemptCount+1),
		zap.Duration("delay", delay),
		zap.String("error", d.Error),
	)
	return queue.Ack
}

func (r *Router) routeDeadLetter(ctx context.Context, job *domain.Job, d Decision, reserved bool, logger *zap.Logger) queue.Outcome {
	if job.NotificationID != "" {
		message := d.Error
		if err := r.writeStatus(ctx, job, domain.StatusUpdate{Status: domain.StatusFailed, ErrorMessage: &message}, logger); err != nil {
			r.release(ctx, job, reserved, logger)
			return queue.Requeue
		}
	}

	body, err := job.DeadLetterBody(r.now(), d.Error)
	if err != nil {
		// Broker DLX still routes the original message to the failed queue.
		logger.Error("failed to encode dead-letter payload, rejecting", zap.Error(err))
		r.release(ctx, job, reserved, logger)
		return queue.Reject
	}

	if err := r.publisher.Publish(ctx, queue.FailedQueue, body, nil); err != nil {
		logger.Error("failed to publish dead letter, requeueing", zap.Error(err))
		r.release(ctx, job, reserved, logger)
		return queue.Requeue
	}

	r.release(ctx, job, reserved, logger)
	r.metrics.IncDeadLettered(r.kind.String(), d.Reason)
	logger.Error("notification dead-lettered",
		zap.String("reason", d.Reason),
		zap.String("error", d.Error),
	)
	return queue.Ack
}

// writeStatus returns an error only for failures that must stop routing. A
// missing status row is logged and ignored.
func (r *Router) writeStatus(ctx context.Context, job *domain.Job, update domain.StatusUpdate, logger *zap.Logger) error {
	err := r.statuses.UpdateStatus(ctx, job.NotificationID, update)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("status record not found, continuing", zap.String("status", update.Status.String()))
		return nil
	}

	logger.Error("failed to update notification status",
		zap.String("status", update.Status.String()),
		zap.Error(err),
	)
	return err
}

func (r *Router) release(ctx context.Context, job *domain.Job, reserved bool, logger *zap.Logger) {
	if !reserved {
		return
	}
	if err := r.gate.Release(ctx, r.kind, job.NotificationID); err != nil {
		logger.Error("failed to release idempotency reservation", zap.Error(err))
	}
}
