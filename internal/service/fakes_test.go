package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/notify-relay/internal/breaker"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/idempotency"
	redisinfra "github.com/kursadbilgin/notify-relay/internal/infra/redis"
	"github.com/kursadbilgin/notify-relay/internal/observability"
	"github.com/kursadbilgin/notify-relay/internal/provider"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"github.com/kursadbilgin/notify-relay/internal/repository"
	"github.com/kursadbilgin/notify-relay/internal/retry"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusCall struct {
	notificationID string
	update         domain.StatusUpdate
}

type fakeStatusRepo struct {
	mu                    sync.Mutex
	calls                 []statusCall
	updateStatusFn        func(ctx context.Context, notificationID string, update domain.StatusUpdate) error
	getByNotificationIDFn func(ctx context.Context, notificationID string) (*domain.DeliveryStatus, error)
}

var _ repository.StatusRepository = (*fakeStatusRepo)(nil)

func (f *fakeStatusRepo) UpdateStatus(ctx context.Context, notificationID string, update domain.StatusUpdate) error {
	f.mu.Lock()
	f.calls = append(f.calls, statusCall{notificationID: notificationID, update: update})
	f.mu.Unlock()

	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, notificationID, update)
	}
	return nil
}

func (f *fakeStatusRepo) GetByNotificationID(ctx context.Context, notificationID string) (*domain.DeliveryStatus, error) {
	if f.getByNotificationIDFn != nil {
		return f.getByNotificationIDFn(ctx, notificationID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStatusRepo) snapshot() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.calls...)
}

type fakeAttemptRepo struct {
	mu                    sync.Mutex
	created               []domain.DeliveryAttempt
	createFn              func(ctx context.Context, a *domain.DeliveryAttempt) error
	getByNotificationIDFn func(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	f.mu.Lock()
	f.created = append(f.created, *a)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	if f.getByNotificationIDFn != nil {
		return f.getByNotificationIDFn(ctx, notificationID)
	}
	return nil, nil
}

type publishedMessage struct {
	routingKey string
	body       []byte
	headers    map[string]any
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, routingKey string, body []byte, headers map[string]any) error
}

var _ queue.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]any) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, routingKey, body, headers); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{routingKey: routingKey, body: body, headers: headers})
	return nil
}

func (f *fakePublisher) to(routingKey string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []publishedMessage
	for _, msg := range f.published {
		if msg.routingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}

type fakeProvider struct {
	kind   domain.Kind
	calls  atomic.Int32
	sendFn func(ctx context.Context, job *domain.Job) (*provider.Receipt, error)
}

func (f *fakeProvider) Kind() domain.Kind { return f.kind }

func (f *fakeProvider) Send(ctx context.Context, job *domain.Job) (*provider.Receipt, error) {
	f.calls.Add(1)
	if f.sendFn != nil {
		return f.sendFn(ctx, job)
	}
	return &provider.Receipt{StatusCode: 202, MessageID: "msg-1"}, nil
}

type fakeGate struct {
	reserveFn       func(ctx context.Context, kind domain.Kind, notificationID string) (idempotency.Reservation, error)
	markProcessedFn func(ctx context.Context, kind domain.Kind, notificationID string) error
	releaseFn       func(ctx context.Context, kind domain.Kind, notificationID string) error
	released        atomic.Int32
}

func (f *fakeGate) Reserve(ctx context.Context, kind domain.Kind, notificationID string) (idempotency.Reservation, error) {
	if f.reserveFn != nil {
		return f.reserveFn(ctx, kind, notificationID)
	}
	return idempotency.Reserved, nil
}

func (f *fakeGate) MarkProcessed(ctx context.Context, kind domain.Kind, notificationID string) error {
	if f.markProcessedFn != nil {
		return f.markProcessedFn(ctx, kind, notificationID)
	}
	return nil
}

func (f *fakeGate) Release(ctx context.Context, kind domain.Kind, notificationID string) error {
	f.released.Add(1)
	if f.releaseFn != nil {
		return f.releaseFn(ctx, kind, notificationID)
	}
	return nil
}

type fakeBreaker struct {
	isOpenFn        func(ctx context.Context, kind domain.Kind) (bool, error)
	recordFailureFn func(ctx context.Context, kind domain.Kind) (int64, bool, error)
	failures        atomic.Int32
}

func (f *fakeBreaker) IsOpen(ctx context.Context, kind domain.Kind) (bool, error) {
	if f.isOpenFn != nil {
		return f.isOpenFn(ctx, kind)
	}
	return false, nil
}

func (f *fakeBreaker) RecordFailure(ctx context.Context, kind domain.Kind) (int64, bool, error) {
	count := f.failures.Add(1)
	if f.recordFailureFn != nil {
		return f.recordFailureFn(ctx, kind)
	}
	return int64(count), false, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, kind domain.Kind) (bool, error)
	waitFn  func(ctx context.Context, kind domain.Kind) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, kind domain.Kind) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, kind)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, kind domain.Kind) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, kind)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

// harness wires a pipeline to Redis-backed gate and breaker so delivery
// scenarios exercise the real reservation and circuit state.
type harness struct {
	pipeline  *Pipeline
	provider  *fakeProvider
	statuses  *fakeStatusRepo
	attempts  *fakeAttemptRepo
	publisher *fakePublisher
	gate      *idempotency.Gate
	breaker   *breaker.Breaker
	mr        *miniredis.Miniredis
	logs      *observer.ObservedLogs
}

type harnessOption func(*harnessDeps)

type harnessDeps struct {
	cfg         PipelineConfig
	rateLimiter *fakeRateLimiter
}

func withPipelineConfig(cfg PipelineConfig) harnessOption {
	return func(d *harnessDeps) { d.cfg = cfg }
}

func withRateLimiter(limiter *fakeRateLimiter) harnessOption {
	return func(d *harnessDeps) { d.rateLimiter = limiter }
}

func newHarness(
	t *testing.T,
	kind domain.Kind,
	sendFn func(ctx context.Context, job *domain.Job) (*provider.Receipt, error),
	opts ...harnessOption,
) *harness {
	t.Helper()

	deps := harnessDeps{
		cfg: PipelineConfig{MaxRetry: 3, RetryBaseDelay: time.Second, SendTimeout: time.Second},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisinfra.NewCache(client)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	gate, err := idempotency.NewGate(store, 0, 0)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	circuit, err := breaker.New(store, breaker.Config{})
	if err != nil {
		t.Fatalf("breaker.New() error = %v", err)
	}

	publisher := &fakePublisher{}
	scheduler, err := retry.NewScheduler(publisher, deps.cfg.RetryBaseDelay)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	statuses := &fakeStatusRepo{}
	attempts := &fakeAttemptRepo{}

	router, err := NewRouter(kind, statuses, gate, scheduler, publisher, logger)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	p := &fakeProvider{kind: kind, sendFn: sendFn}

	pipeline, err := newTestPipeline(p, gate, circuit, router, attempts, deps.rateLimiter, deps.cfg, logger)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	pipeline.SetMetrics(observability.NewMetrics())

	return &harness{
		pipeline:  pipeline,
		provider:  p,
		statuses:  statuses,
		attempts:  attempts,
		publisher: publisher,
		gate:      gate,
		breaker:   circuit,
		mr:        mr,
		logs:      logs,
	}
}

// newTestPipeline avoids handing NewPipeline a typed nil rate limiter.
func newTestPipeline(
	p *fakeProvider,
	gate IdempotencyGate,
	circuit CircuitBreaker,
	router *Router,
	attempts *fakeAttemptRepo,
	limiter *fakeRateLimiter,
	cfg PipelineConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	if limiter == nil {
		return NewPipeline(p, gate, circuit, router, attempts, nil, cfg, logger)
	}
	return NewPipeline(p, gate, circuit, router, attempts, limiter, cfg, logger)
}

func (h *harness) handle(t *testing.T, body string) queue.Outcome {
	t.Helper()
	return h.pipeline.Handle(context.Background(), queue.Delivery{
		Queue: queue.QueueName(h.provider.kind),
		Body:  []byte(body),
	})
}
