package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

// RabbitMQConsumer runs up to concurrency handlers at once per queue and
// terminates every delivery with exactly one ack, nack or reject.
type RabbitMQConsumer struct {
	client      *RabbitMQ
	concurrency int
	logger      *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, concurrency int, logger *zap.Logger) *RabbitMQConsumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:      client,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	c.logger.Info("consuming queue", zap.String("queue", queue), zap.Int("concurrency", c.concurrency))

	return c.dispatch(ctx, queue, deliveries, handler)
}

// dispatch fans deliveries out to at most concurrency handlers and waits for
// in-flight handlers before returning.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler MessageHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	var loopErr error
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				loopErr = errors.New("delivery channel closed")
				break loop
			}
			g.Go(func() error {
				return c.handleDelivery(ctx, queue, d, handler)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler MessageHandler) error {
	outcome := c.invoke(ctx, Delivery{
		Queue:       queue,
		MessageID:   d.MessageId,
		Body:        d.Body,
		Headers:     map[string]any(d.Headers),
		Redelivered: d.Redelivered,
	}, handler)

	switch outcome {
	case Ack:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	case Reject:
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject delivery: %w", err)
		}
	default:
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("failed to nack delivery: %w", err)
		}
	}

	return nil
}

// invoke runs handler and converts a panic into a requeue.
func (c *RabbitMQConsumer) invoke(ctx context.Context, d Delivery, handler MessageHandler) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked, requeueing",
				zap.String("queue", d.Queue),
				zap.String("messageId", d.MessageID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = Requeue
		}
	}()

	return handler(ctx, d)
}
