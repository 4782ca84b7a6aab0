package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/idempotency"
	"github.com/kursadbilgin/notify-relay/internal/observability"
	"github.com/kursadbilgin/notify-relay/internal/provider"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"github.com/kursadbilgin/notify-relay/internal/ratelimit"
	"github.com/kursadbilgin/notify-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	// DefaultRequeueDelay is the hold applied before requeueing a delivery
	// that cannot be processed yet.
	DefaultRequeueDelay = time.Second

	defaultSendTimeout        = 10 * time.Second
	defaultBookkeepingTimeout = 5 * time.Second
)

// IdempotencyGate is the duplicate-suppression port used by the pipeline.
type IdempotencyGate interface {
	Reserve(ctx context.Context, kind domain.Kind, notificationID string) (idempotency.Reservation, error)
	MarkProcessed(ctx context.Context, kind domain.Kind, notificationID string) error
	Release(ctx context.Context, kind domain.Kind, notificationID string) error
}

// CircuitBreaker is the per-kind provider health port used by the pipeline.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, kind domain.Kind) (bool, error)
	RecordFailure(ctx context.Context, kind domain.Kind) (int64, bool, error)
}

// PipelineConfig holds the delivery policy for one kind.
type PipelineConfig struct {
	// MaxRetry is the number of retries after the first failed send. Zero
	// dead-letters on the first failure.
	MaxRetry       int
	RetryBaseDelay time.Duration
	SendTimeout    time.Duration
	// RequeueDelay holds a delivery before requeueing it while its circuit
	// is open or another handler owns it. Zero requeues immediately.
	RequeueDelay time.Duration
}

// Pipeline processes deliveries from one kind's work queue:
// decode, validate, reserve, check circuit, dispatch, route.
type Pipeline struct {
	kind        domain.Kind
	gate        IdempotencyGate
	breaker     CircuitBreaker
	provider    provider.Provider
	router      *Router
	attempts    repository.AttemptRepository
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	cfg         PipelineConfig
	now         func() time.Time

	// bookkeepingTimeout bounds each store write made after a dispatch.
	bookkeepingTimeout time.Duration
}

func NewPipeline(
	p provider.Provider,
	gate IdempotencyGate,
	breaker CircuitBreaker,
	router *Router,
	attempts repository.AttemptRepository,
	rateLimiter ratelimit.RateLimiter,
	cfg PipelineConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("idempotency gate is required")
	}
	if breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.MaxRetry < 0 {
		return nil, fmt.Errorf("max retry must not be negative (got %d)", cfg.MaxRetry)
	}
	if router.kind != p.Kind() {
		return nil, fmt.Errorf("router kind %q does not match provider kind %q", router.kind, p.Kind())
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.RequeueDelay < 0 {
		cfg.RequeueDelay = 0
	}

	return &Pipeline{
		kind:        p.Kind(),
		gate:        gate,
		breaker:     breaker,
		provider:    p,
		router:      router,
		attempts:    attempts,
		rateLimiter: rateLimiter,
		logger:      logger.With(zap.String("kind", p.Kind().String())),
		cfg:         cfg,
		now:         time.Now,

		bookkeepingTimeout: defaultBookkeepingTimeout,
	}, nil
}

func (p *Pipeline) Kind() domain.Kind { return p.kind }

func (p *Pipeline) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
	p.router.SetMetrics(metrics)
}

// Handle is the queue.MessageHandler for the kind's work queue.
func (p *Pipeline) Handle(ctx context.Context, d queue.Delivery) queue.Outcome {
	kindLabel := p.kind.String()
	p.metrics.IncWorkerInFlight(kindLabel)
	defer p.metrics.DecWorkerInFlight(kindLabel)

	job, err := domain.DecodeJob(d.Body)
	if err != nil {
		p.logger.Warn("rejecting message: invalid JSON",
			zap.String("queue", d.Queue),
			zap.Error(err),
		)
		return queue.Reject
	}

	ctx = observability.WithJobFields(ctx, observability.JobFields{
		Kind:           kindLabel,
		NotificationID: job.NotificationID,
		RequestID:      job.RequestID,
		Attempt:        job.AttemptCount,
	})
	logger := observability.WithContextLogger(p.logger, ctx)

	if err := job.Validate(); err != nil {
		logger.Warn("invalid job, dead-lettering", zap.Error(err))
		return p.route(ctx, job, InvalidJobDecision(err), false)
	}

	reservation, err := p.gate.Reserve(ctx, p.kind, job.NotificationID)
	if err != nil {
		logger.Error("idempotency check failed, requeueing", zap.Error(err))
		return queue.Requeue
	}
	switch reservation {
	case idempotency.Duplicate:
		p.metrics.IncDuplicate(kindLabel)
		logger.Info("duplicate notification, skipping")
		return queue.Ack
	case idempotency.InFlight:
		logger.Debug("notification in flight elsewhere, requeueing")
		return p.requeueLater(ctx)
	}

	open, err := p.breaker.IsOpen(ctx, p.kind)
	if err != nil {
		logger.Error("circuit check failed, requeueing", zap.Error(err))
		p.release(ctx, job, logger)
		return queue.Requeue
	}
	if open {
		p.metrics.IncCircuitRejected(kindLabel)
		logger.Warn("circuit open, requeueing")
		p.release(ctx, job, logger)
		return p.requeueLater(ctx)
	}

	if err := p.rateLimiter.Wait(ctx, p.kind); err != nil {
		if errors.Is(err, ratelimit.ErrWaitExceeded) {
			logger.Info("rate limited, requeueing", zap.Error(err))
		} else {
			logger.Warn("rate limiter wait failed, requeueing", zap.Error(err))
		}
		p.release(ctx, job, logger)
		return queue.Requeue
	}

	sendErr := p.dispatch(ctx, job, logger)

	if sendErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the send; it says nothing about provider health.
		logger.Warn("dispatch interrupted by shutdown, requeueing", zap.Error(sendErr))
		p.release(context.WithoutCancel(ctx), job, logger)
		return queue.Requeue
	}

	// Bookkeeping after a dispatch must finish even if shutdown starts now.
	routeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.bookkeepingTimeout)
	defer cancel()

	if sendErr != nil {
		p.recordFailure(routeCtx, sendErr, logger)
	}

	return p.route(routeCtx, job, Decide(job, sendErr, p.cfg.MaxRetry, p.cfg.RetryBaseDelay), true)
}

func (p *Pipeline) route(ctx context.Context, job *domain.Job, d Decision, reserved bool) queue.Outcome {
	return p.router.Route(ctx, job, d, reserved)
}

// dispatch calls the provider under the send timeout and records the attempt.
func (p *Pipeline) dispatch(ctx context.Context, job *domain.Job, logger *zap.Logger) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	start := p.now()
	receipt, sendErr := p.provider.Send(sendCtx, job)
	elapsed := p.now().Sub(start)
	p.metrics.ObserveNotificationSendDuration(p.kind.String(), elapsed)

	attemptCtx, cancelAttempt := context.WithTimeout(context.WithoutCancel(ctx), p.bookkeepingTimeout)
	defer cancelAttempt()
	p.recordAttempt(attemptCtx, job, receipt, sendErr, elapsed, logger)
	return sendErr
}

func (p *Pipeline) recordFailure(ctx context.Context, sendErr error, logger *zap.Logger) {
	reason := reasonTransient
	if provider.IsPermanent(sendErr) {
		reason = reasonPermanent
	}
	p.metrics.IncNotificationFailed(p.kind.String(), reason)

	count, opened, err := p.breaker.RecordFailure(ctx, p.kind)
	if err != nil {
		logger.Error("failed to record circuit failure", zap.Error(err))
		return
	}
	if opened {
		p.metrics.IncCircuitOpened(p.kind.String())
		logger.Warn("circuit opened", zap.Int64("failures", count))
	}
}

// recordAttempt persists the attempt audit row. Failures never change the
// job outcome.
func (p *Pipeline) recordAttempt(
	ctx context.Context,
	job *domain.Job,
	receipt *provider.Receipt,
	sendErr error,
	elapsed time.Duration,
	logger *zap.Logger,
) {
	if p.attempts == nil {
		return
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: job.NotificationID,
		Kind:           p.kind,
		AttemptNumber:  job.AttemptCount + 1,
		DurationMillis: elapsed.Milliseconds(),
		CreatedAt:      p.now().UTC(),
	}

	if receipt != nil {
		if receipt.StatusCode > 0 {
			value := receipt.StatusCode
			attempt.StatusCode = &value
		}
		if messageID := strings.TrimSpace(receipt.MessageID); messageID != "" {
			attempt.ProviderMessageID = &messageID
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attempt.Error = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && attempt.StatusCode == nil {
			value := providerErr.StatusCode
			attempt.StatusCode = &value
		}
	}

	if err := p.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to record delivery attempt", zap.Error(err))
	}
}

func (p *Pipeline) release(ctx context.Context, job *domain.Job, logger *zap.Logger) {
	if err := p.gate.Release(ctx, p.kind, job.NotificationID); err != nil {
		logger.Error("failed to release idempotency reservation", zap.Error(err))
	}
}

// requeueLater holds the delivery briefly so a requeue does not spin
// against the broker.
func (p *Pipeline) requeueLater(ctx context.Context) queue.Outcome {
	if p.cfg.RequeueDelay <= 0 {
		return queue.Requeue
	}

	timer := time.NewTimer(p.cfg.RequeueDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return queue.Requeue
}
