package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerService runs one consumer per enabled kind queue plus the retry
// relay. Per-queue concurrency is owned by the consumer.
type WorkerService struct {
	consumer  queue.Consumer
	pipelines []*Pipeline
	relay     queue.MessageHandler
	logger    *zap.Logger
}

func NewWorkerService(
	consumer queue.Consumer,
	relay queue.MessageHandler,
	logger *zap.Logger,
	pipelines ...*Pipeline,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if relay == nil {
		return nil, fmt.Errorf("retry relay is required")
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("at least one pipeline is required")
	}

	seen := make(map[domain.Kind]struct{}, len(pipelines))
	for _, p := range pipelines {
		if p == nil {
			return nil, fmt.Errorf("pipeline is required")
		}
		if _, exists := seen[p.Kind()]; exists {
			return nil, fmt.Errorf("duplicate pipeline for kind %q", p.Kind())
		}
		seen[p.Kind()] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:  consumer,
		pipelines: pipelines,
		relay:     relay,
		logger:    logger,
	}, nil
}

// Start consumes every queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, p := range s.pipelines {
		g.Go(func() error {
			return s.run(groupCtx, queue.QueueName(p.Kind()), p.Handle)
		})
	}
	g.Go(func() error {
		return s.run(groupCtx, queue.RetryQueue, s.relay)
	})

	return g.Wait()
}

func (s *WorkerService) run(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	s.logger.Info("worker started", zap.String("queue", queueName))

	if err := s.consumer.Consume(ctx, queueName, handler); err != nil {
		s.logger.Error("worker stopped with error",
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("worker stopped", zap.String("queue", queueName))
	return nil
}
