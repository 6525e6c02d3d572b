// Package redismq implements internal/mq.Queue on top of Redis Streams.
// This is an optional backend: selecting it requires a reachable Redis
// instance at startup, and a connection failure there is a fatal
// configuration error, never a runtime surprise.
//
// One stream per priority level per queue name, consumed through a
// shared consumer group — the same shape as the per-priority stream
// naming, XADD/XREADGROUP/XACK sequence this package is grounded on.
package redismq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentforge/runtime/internal/mq"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

var priorityOrder = []v1.Priority{
	v1.PriorityCritical,
	v1.PriorityHigh,
	v1.PriorityNormal,
	v1.PriorityLow,
}

var priorityNames = map[v1.Priority]string{
	v1.PriorityCritical: "critical",
	v1.PriorityHigh:     "high",
	v1.PriorityNormal:   "normal",
	v1.PriorityLow:      "low",
}

func streamName(queue string, p v1.Priority) string {
	return fmt.Sprintf("%s:%s", queue, priorityNames[p])
}

type inFlightEntry struct {
	stream    string
	redisID   string
	msg       *mq.Message
	startedAt time.Time
}

type queueStats struct {
	mu        sync.Mutex
	completed int64
	failed    int64
	totalMs   int64
	count     int64
}

// Queue is the Redis Streams backed internal/mq.Queue implementation.
type Queue struct {
	client        *redis.Client
	consumerGroup string
	consumerID    string

	mu       sync.Mutex
	known    map[string]bool
	inFlight map[string]*inFlightEntry // keyed by queue+"|"+msg.ID
	stats    map[string]*queueStats
}

// Config holds the connection settings for the Redis Streams backend.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
}

// New dials Redis and verifies connectivity. A failure here must be
// treated by the caller as a fatal startup error.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redismq: failed to connect to redis: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "agentrt-workers"
	}

	return &Queue{
		client:        client,
		consumerGroup: group,
		consumerID:    uuid.New().String(),
		known:         make(map[string]bool),
		inFlight:      make(map[string]*inFlightEntry),
		stats:         make(map[string]*queueStats),
	}, nil
}

func (q *Queue) statsFor(queue string) *queueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.stats[queue]
	if !ok {
		s = &queueStats{}
		q.stats[queue] = s
	}
	return s
}

// CreateQueue creates the per-priority streams and consumer group for
// the named queue. Idempotent.
func (q *Queue) CreateQueue(ctx context.Context, name string, maxSize int) error {
	for _, p := range priorityOrder {
		sn := streamName(name, p)
		err := q.client.XGroupCreateMkStream(ctx, sn, q.consumerGroup, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("redismq: create group for %s: %w", sn, err)
		}
	}
	q.mu.Lock()
	q.known[name] = true
	q.mu.Unlock()
	return nil
}

// DeleteQueue removes all per-priority streams for the named queue,
// discarding any pending messages.
func (q *Queue) DeleteQueue(ctx context.Context, name string) error {
	for _, p := range priorityOrder {
		q.client.Del(ctx, streamName(name, p))
	}
	q.mu.Lock()
	delete(q.known, name)
	delete(q.stats, name)
	q.mu.Unlock()
	return nil
}

func (q *Queue) isKnown(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.known[name]
}

// Publish appends msg to the stream matching its priority.
func (q *Queue) Publish(ctx context.Context, queue string, msg *mq.Message) error {
	if !q.isKnown(queue) {
		return mq.ErrQueueNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redismq: marshal message: %w", err)
	}

	sn := streamName(queue, msg.Priority)
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: sn,
		Values: map[string]interface{}{"data": data},
	}).Result()
	if err != nil {
		return fmt.Errorf("redismq: xadd to %s: %w", sn, err)
	}
	return nil
}

func decodeMessage(values map[string]interface{}) (*mq.Message, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("redismq: malformed stream entry")
	}
	var msg mq.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("redismq: unmarshal message: %w", err)
	}
	return &msg, nil
}

func (q *Queue) track(queue string, sn string, redisID string, msg *mq.Message) {
	q.mu.Lock()
	q.inFlight[queue+"|"+msg.ID] = &inFlightEntry{stream: sn, redisID: redisID, msg: msg, startedAt: time.Now()}
	q.mu.Unlock()
}

// Consume reads the next message across the named queue's priority
// streams, checking them high to low, blocking up to timeout if none
// are immediately available.
func (q *Queue) Consume(ctx context.Context, queue string, timeout time.Duration) (*mq.Message, error) {
	if !q.isKnown(queue) {
		return nil, mq.ErrQueueNotFound
	}

	// Fast, non-blocking pass in strict priority order.
	for _, p := range priorityOrder {
		sn := streamName(queue, p)
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.consumerGroup,
			Consumer: q.consumerID,
			Streams:  []string{sn, ">"},
			Count:    1,
			Block:    -1,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("redismq: xreadgroup %s: %w", sn, err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}
		m := streams[0].Messages[0]
		msg, err := decodeMessage(m.Values)
		if err != nil {
			q.client.XAck(ctx, sn, q.consumerGroup, m.ID)
			continue
		}
		q.track(queue, sn, m.ID, msg)
		return msg, nil
	}

	// Nothing immediately available: block across all priority streams
	// at once, highest-priority entries still returned first by Redis
	// when multiple streams have data ready.
	names := make([]string, 0, len(priorityOrder)*2)
	for _, p := range priorityOrder {
		names = append(names, streamName(queue, p))
	}
	for range priorityOrder {
		names = append(names, ">")
	}

	result, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.consumerGroup,
		Consumer: q.consumerID,
		Streams:  names,
		Count:    1,
		Block:    timeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redismq: blocking xreadgroup: %w", err)
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return nil, nil
	}

	m := result[0].Messages[0]
	msg, err := decodeMessage(m.Values)
	if err != nil {
		q.client.XAck(ctx, result[0].Stream, q.consumerGroup, m.ID)
		return nil, nil
	}
	q.track(queue, result[0].Stream, m.ID, msg)
	return msg, nil
}

func (q *Queue) takeInFlight(queue, messageID string) (*inFlightEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := queue + "|" + messageID
	e, ok := q.inFlight[key]
	if ok {
		delete(q.inFlight, key)
	}
	return e, ok
}

// Ack acknowledges successful processing of messageID.
func (q *Queue) Ack(ctx context.Context, queue string, messageID string) error {
	e, ok := q.takeInFlight(queue, messageID)
	if !ok {
		return nil
	}
	if err := q.client.XAck(ctx, e.stream, q.consumerGroup, e.redisID).Err(); err != nil {
		return fmt.Errorf("redismq: xack: %w", err)
	}
	s := q.statsFor(queue)
	s.mu.Lock()
	s.completed++
	s.count++
	s.totalMs += time.Since(e.startedAt).Milliseconds()
	s.mu.Unlock()
	return nil
}

// Nack reports failed processing of messageID, requeuing it onto its
// original priority stream or moving it to the queue's dead-letter
// stream.
func (q *Queue) Nack(ctx context.Context, queue string, messageID string, requeue bool) error {
	e, ok := q.takeInFlight(queue, messageID)
	if !ok {
		return nil
	}
	if err := q.client.XAck(ctx, e.stream, q.consumerGroup, e.redisID).Err(); err != nil {
		return fmt.Errorf("redismq: xack: %w", err)
	}

	if requeue && e.msg.RetryCount < e.msg.MaxRetries {
		e.msg.RetryCount++
		return q.Publish(ctx, queue, e.msg)
	}

	s := q.statsFor(queue)
	s.mu.Lock()
	s.failed++
	s.count++
	s.totalMs += time.Since(e.startedAt).Milliseconds()
	s.mu.Unlock()

	dlqStream := queue + ":dlq"
	data, err := json.Marshal(e.msg)
	if err != nil {
		return fmt.Errorf("redismq: marshal for dlq: %w", err)
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]interface{}{"data": data},
	}).Err(); err != nil {
		return fmt.Errorf("redismq: xadd to dlq: %w", err)
	}
	return nil
}

// Stats reports approximate operational counters for the named
// queue's priority streams (pending/processing counts are derived
// from Redis stream introspection and local bookkeeping; this is a
// best-effort reference implementation, not a source of truth for
// exactly-once accounting).
func (q *Queue) Stats(ctx context.Context, queue string) (mq.Stats, error) {
	var pending int
	for _, p := range priorityOrder {
		sn := streamName(queue, p)
		info, err := q.client.XInfoGroups(ctx, sn).Result()
		if err != nil {
			continue
		}
		for _, g := range info {
			if g.Name == q.consumerGroup {
				pending += int(g.Lag)
			}
		}
	}

	q.mu.Lock()
	processing := 0
	for key := range q.inFlight {
		if len(key) > len(queue) && key[:len(queue)+1] == queue+"|" {
			processing++
		}
	}
	q.mu.Unlock()

	s := q.statsFor(queue)
	s.mu.Lock()
	defer s.mu.Unlock()
	var avg float64
	if s.count > 0 {
		avg = float64(s.totalMs) / float64(s.count)
	}
	return mq.Stats{
		Pending:                 pending,
		Processing:              processing,
		Completed:               s.completed,
		Failed:                  s.failed,
		AverageProcessingTimeMs: avg,
	}, nil
}

// Close releases the underlying Redis client connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
