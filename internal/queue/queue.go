package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notify-relay/internal/domain"
)

const (
	// ExchangeName is the direct exchange every queue is bound to.
	ExchangeName = "notifications.direct"
	// RetryQueue holds jobs waiting for their backoff to elapse.
	RetryQueue = "retry.queue"
	// FailedQueue is the terminal dead-letter queue.
	FailedQueue = "failed.queue"

	HeaderTargetQueue  = "x-target-queue"
	HeaderRetryAt      = "x-retry-at"
	HeaderRetryDelayMS = "x-retry-delay-ms"

	kindQueueSuffix = ".queue"
)

// Outcome is how a consumer terminates a delivery.
type Outcome int

const (
	Ack Outcome = iota
	// Requeue nacks the delivery back onto its queue.
	Requeue
	// Reject drops the delivery; the broker dead-letters it to FailedQueue.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Delivery is a broker message handed to a MessageHandler.
type Delivery struct {
	Queue       string
	MessageID   string
	Body        []byte
	Headers     map[string]any
	Redelivered bool
}

// MessageHandler decides the outcome of one delivery.
type MessageHandler func(ctx context.Context, d Delivery) Outcome

// Publisher publishes persistent messages to the notifications exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]any) error
}

// Consumer consumes deliveries from a queue until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
}

// QueueName returns the work queue for a kind, e.g. email.queue.
func QueueName(kind domain.Kind) string {
	return strings.ToLower(kind.String()) + kindQueueSuffix
}

// KindForQueue maps a work queue back to its kind.
func KindForQueue(queue string) (domain.Kind, bool) {
	name, ok := strings.CutSuffix(queue, kindQueueSuffix)
	if !ok {
		return "", false
	}
	kind := domain.Kind(name)
	return kind, kind.IsValid()
}

// WorkQueueNames returns the work queues for kinds.
func WorkQueueNames(kinds []domain.Kind) []string {
	queues := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

// HeaderString reads a string header.
func HeaderString(headers map[string]any, key string) (string, bool) {
	value, ok := headers[key]
	if !ok {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case []byte:
		return string(v), len(v) > 0
	}
	return "", false
}

// HeaderInt64 reads an integer header regardless of the AMQP integer width
// the publisher chose.
func HeaderInt64(headers map[string]any, key string) (int64, bool) {
	value, ok := headers[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case int:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint8:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}
