// Package mq defines the capability-minimum message transport the task
// manager uses for its task, result and per-stream chunk channels.
package mq

import (
	"context"
	"errors"
	"time"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// MessageType distinguishes the logical channel kind a Message travels
// on. All three kinds share the same Queue operations.
type MessageType string

const (
	MessageTypeTaskRequest MessageType = "task_request"
	MessageTypeTaskResult  MessageType = "task_result"
	MessageTypeStreamChunk MessageType = "stream_chunk"
	MessageTypeControl     MessageType = "control"
)

// Message is the envelope carried by a Queue: {id, type, payload,
// priority, correlation_id, created_at, retry_count, max_retries}.
type Message struct {
	ID            string
	Type          MessageType
	Payload       interface{}
	Priority      v1.Priority
	CorrelationID string
	CreatedAt     time.Time
	RetryCount    int
	MaxRetries    int
}

// Stats reports the operational counters of one named queue.
type Stats struct {
	Pending                 int
	Processing              int
	Completed               int64
	Failed                  int64
	AverageProcessingTimeMs float64
}

var (
	// ErrQueueFull is returned by Publish when a bounded queue is at
	// capacity.
	ErrQueueFull = errors.New("mq: queue is full")
	// ErrQueueClosed is returned by Publish/Consume once a queue has
	// been deleted or the backend shut down.
	ErrQueueClosed = errors.New("mq: queue is closed")
	// ErrQueueNotFound is returned by any operation addressing a queue
	// that was never created (or has since been deleted).
	ErrQueueNotFound = errors.New("mq: queue not found")
	// ErrNotImplemented is returned by every operation of a backend
	// that does not support it. The task manager must treat this as a
	// fatal configuration error at startup (spec of this subsystem),
	// never as a runtime surprise.
	ErrNotImplemented = errors.New("mq: operation not implemented by this backend")
)

// Queue is the pluggable transport abstraction. The required backend
// is in-memory, single-process, multi-producer/multi-consumer safe.
// Optional backends (Redis, AMQP) implement the same interface and may
// return ErrNotImplemented for operations they don't support.
type Queue interface {
	// Publish enqueues msg onto the named queue. Non-blocking by
	// contract; backends apply their own back-pressure.
	Publish(ctx context.Context, queue string, msg *Message) error

	// Consume returns the next message from the named queue,
	// prioritised high to low and FIFO by CreatedAt within a
	// priority. Returns (nil, nil) if no message arrives before
	// timeout elapses.
	Consume(ctx context.Context, queue string, timeout time.Duration) (*Message, error)

	// Ack acknowledges successful processing of messageID.
	Ack(ctx context.Context, queue string, messageID string) error

	// Nack reports failed processing of messageID. With requeue=true
	// and RetryCount < MaxRetries the message re-enters the queue
	// with RetryCount+1; otherwise it moves to the queue's
	// dead-letter queue ("<queue>:dlq").
	Nack(ctx context.Context, queue string, messageID string, requeue bool) error

	// CreateQueue creates a named queue if it doesn't already exist.
	// maxSize <= 0 means unbounded. Idempotent.
	CreateQueue(ctx context.Context, name string, maxSize int) error

	// DeleteQueue removes a named queue, discarding any pending
	// messages. Idempotent.
	DeleteQueue(ctx context.Context, name string) error

	// Stats reports the named queue's operational counters.
	Stats(ctx context.Context, queue string) (Stats, error)

	// Close releases backend resources (connections, goroutines).
	Close() error
}
