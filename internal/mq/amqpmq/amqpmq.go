// Package amqpmq is a placeholder internal/mq.Queue backend for AMQP.
//
// No AMQP client library is available anywhere in the dependency set
// this module draws on, so every operation here returns
// mq.ErrNotImplemented. Selecting "amqp" as the configured MQ backend
// is therefore a fatal configuration error at startup (see
// internal/taskmanager's backend validation), not a runtime surprise:
// the stub exists so the backend name is a legitimate, documented
// choice rather than a silent gap.
package amqpmq

import (
	"context"
	"time"

	"github.com/agentforge/runtime/internal/mq"
)

// Queue is a stub implementation of internal/mq.Queue. Every method
// returns mq.ErrNotImplemented.
type Queue struct{}

// New returns a stub AMQP queue backend.
func New() *Queue {
	return &Queue{}
}

func (q *Queue) Publish(ctx context.Context, queue string, msg *mq.Message) error {
	return mq.ErrNotImplemented
}

func (q *Queue) Consume(ctx context.Context, queue string, timeout time.Duration) (*mq.Message, error) {
	return nil, mq.ErrNotImplemented
}

func (q *Queue) Ack(ctx context.Context, queue string, messageID string) error {
	return mq.ErrNotImplemented
}

func (q *Queue) Nack(ctx context.Context, queue string, messageID string, requeue bool) error {
	return mq.ErrNotImplemented
}

func (q *Queue) CreateQueue(ctx context.Context, name string, maxSize int) error {
	return mq.ErrNotImplemented
}

func (q *Queue) DeleteQueue(ctx context.Context, name string) error {
	return mq.ErrNotImplemented
}

func (q *Queue) Stats(ctx context.Context, queue string) (mq.Stats, error) {
	return mq.Stats{}, mq.ErrNotImplemented
}

func (q *Queue) Close() error {
	return nil
}
