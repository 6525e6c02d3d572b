// Package memorymq implements internal/mq.Queue with an in-process
// priority heap per named queue. This is the required MQ backend: the
// task manager can run with nothing else configured.
//
// The priority ordering (higher v1.Priority first, FIFO by CreatedAt
// within a priority) is generalized from the single-purpose task heap
// this backend is grounded on, which ordered *v1.Task by an int
// priority field the same way.
package memorymq

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/runtime/internal/mq"
)

type entry struct {
	msg   *mq.Message
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].msg.CreatedAt.Before(h[j].msg.CreatedAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*entry)
	item.index = n
	*h = append(*h, item)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type processingEntry struct {
	msg       *mq.Message
	startedAt time.Time
}

// queueState holds one named queue's heap, in-flight (processing) set
// and operational counters.
type queueState struct {
	mu         sync.Mutex
	heap       entryHeap
	pending    map[string]*entry
	processing map[string]*processingEntry
	maxSize    int
	closed     bool
	notifyCh   chan struct{}

	completed         int64
	failed            int64
	totalProcessingMs int64
	processedCount    int64
}

func newQueueState(maxSize int) *queueState {
	qs := &queueState{
		heap:       make(entryHeap, 0),
		pending:    make(map[string]*entry),
		processing: make(map[string]*processingEntry),
		maxSize:    maxSize,
		notifyCh:   make(chan struct{}),
	}
	heap.Init(&qs.heap)
	return qs
}

// broadcast wakes every goroutine blocked in Consume on this queue.
// Must be called with qs.mu held.
func (qs *queueState) broadcast() {
	close(qs.notifyCh)
	qs.notifyCh = make(chan struct{})
}

// Queue is the in-memory internal/mq.Queue implementation.
type Queue struct {
	mu     sync.RWMutex
	queues map[string]*queueState
}

// New creates an empty in-memory queue backend.
func New() *Queue {
	return &Queue{queues: make(map[string]*queueState)}
}

func (q *Queue) get(name string) (*queueState, error) {
	q.mu.RLock()
	qs, ok := q.queues[name]
	q.mu.RUnlock()
	if !ok {
		return nil, mq.ErrQueueNotFound
	}
	return qs, nil
}

// getOrCreateDLQ lazily creates an unbounded dead-letter queue the
// first time a message is routed to it.
func (q *Queue) getOrCreateDLQ(name string) *queueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	qs, ok := q.queues[name]
	if !ok {
		qs = newQueueState(0)
		q.queues[name] = qs
	}
	return qs
}

// CreateQueue creates a named queue if it doesn't already exist.
func (q *Queue) CreateQueue(ctx context.Context, name string, maxSize int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queues[name]; ok {
		return nil
	}
	q.queues[name] = newQueueState(maxSize)
	return nil
}

// DeleteQueue removes a named queue, discarding pending messages.
func (q *Queue) DeleteQueue(ctx context.Context, name string) error {
	q.mu.Lock()
	qs, ok := q.queues[name]
	delete(q.queues, name)
	q.mu.Unlock()

	if ok {
		qs.mu.Lock()
		qs.closed = true
		qs.broadcast()
		qs.mu.Unlock()
	}
	return nil
}

// Publish enqueues msg onto the named queue.
func (q *Queue) Publish(ctx context.Context, queueName string, msg *mq.Message) error {
	qs, err := q.get(queueName)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.closed {
		return mq.ErrQueueClosed
	}
	if qs.maxSize > 0 && len(qs.heap)+len(qs.processing) >= qs.maxSize {
		return mq.ErrQueueFull
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	e := &entry{msg: msg}
	heap.Push(&qs.heap, e)
	qs.pending[msg.ID] = e
	qs.broadcast()
	return nil
}

// Consume returns the next message, blocking up to timeout for one to
// arrive. Returns (nil, nil) on timeout or if the queue is closed.
func (q *Queue) Consume(ctx context.Context, queueName string, timeout time.Duration) (*mq.Message, error) {
	qs, err := q.get(queueName)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		qs.mu.Lock()
		if qs.closed {
			qs.mu.Unlock()
			return nil, nil
		}
		if len(qs.heap) > 0 {
			e := heap.Pop(&qs.heap).(*entry)
			delete(qs.pending, e.msg.ID)
			qs.processing[e.msg.ID] = &processingEntry{msg: e.msg, startedAt: time.Now()}
			qs.mu.Unlock()
			return e.msg, nil
		}
		notify := qs.notifyCh
		qs.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
			timer.Stop()
			continue
		case <-timer.C:
			return nil, nil
		}
	}
}

// Ack acknowledges successful processing of messageID.
func (q *Queue) Ack(ctx context.Context, queueName string, messageID string) error {
	qs, err := q.get(queueName)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	proc, ok := qs.processing[messageID]
	if !ok {
		return nil // ack of an unknown id is a no-op
	}
	delete(qs.processing, messageID)
	qs.completed++
	qs.processedCount++
	qs.totalProcessingMs += time.Since(proc.startedAt).Milliseconds()
	return nil
}

// Nack reports failed processing of messageID, requeuing it (with
// RetryCount incremented) or moving it to the dead-letter queue.
func (q *Queue) Nack(ctx context.Context, queueName string, messageID string, requeue bool) error {
	qs, err := q.get(queueName)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	proc, ok := qs.processing[messageID]
	if !ok {
		qs.mu.Unlock()
		return nil // nack of an unknown id is a no-op
	}
	delete(qs.processing, messageID)

	if requeue && proc.msg.RetryCount < proc.msg.MaxRetries {
		proc.msg.RetryCount++
		e := &entry{msg: proc.msg}
		heap.Push(&qs.heap, e)
		qs.pending[proc.msg.ID] = e
		qs.broadcast()
		qs.mu.Unlock()
		return nil
	}

	qs.failed++
	qs.processedCount++
	qs.totalProcessingMs += time.Since(proc.startedAt).Milliseconds()
	qs.mu.Unlock()

	dlq := q.getOrCreateDLQ(queueName + ":dlq")
	dlq.mu.Lock()
	e := &entry{msg: proc.msg}
	heap.Push(&dlq.heap, e)
	dlq.pending[proc.msg.ID] = e
	dlq.broadcast()
	dlq.mu.Unlock()
	return nil
}

// Stats reports the named queue's operational counters.
func (q *Queue) Stats(ctx context.Context, queueName string) (mq.Stats, error) {
	qs, err := q.get(queueName)
	if err != nil {
		return mq.Stats{}, err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	var avg float64
	if qs.processedCount > 0 {
		avg = float64(qs.totalProcessingMs) / float64(qs.processedCount)
	}

	return mq.Stats{
		Pending:                 len(qs.heap),
		Processing:              len(qs.processing),
		Completed:               qs.completed,
		Failed:                  qs.failed,
		AverageProcessingTimeMs: avg,
	}, nil
}

// Close marks every queue closed, waking any blocked consumers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, qs := range q.queues {
		qs.mu.Lock()
		qs.closed = true
		qs.broadcast()
		qs.mu.Unlock()
	}
	return nil
}
