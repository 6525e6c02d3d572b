// Package taskmanager implements the Agent Task Manager: it accepts
// TaskRequests, resolves the target agent instance through the
// registry, serializes execution per SessionKey, and publishes results
// and stream chunks onto the message queue.
//
// Grounded on the worker-pool/queue-consumer shape of the orchestrator
// queue this package's worker loop is generalized from, and on the
// cleanup-loop pattern of the container lifecycle manager the janitor
// is grounded on.
package taskmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/apperrors"
	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/eventbus"
	"github.com/agentforge/runtime/internal/execctx"
	"github.com/agentforge/runtime/internal/executor"
	"github.com/agentforge/runtime/internal/mq"
	"github.com/agentforge/runtime/internal/registry"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// Queue names. agent.tasks carries submitted TaskRequests; agent.results
// carries terminal TaskResults keyed by CorrelationID=task_id; stream
// chunk queues are named per task so SubscribeStream never has to
// filter someone else's session out of a shared backlog.
const (
	QueueTasks   = "agent.tasks"
	QueueResults = "agent.results"
)

// pollInterval bounds how long a single Consume call blocks before the
// worker loops re-checks stopCh/ctx.Done(); it is not a processing
// delay, only a responsiveness bound on shutdown.
const pollInterval = 2 * time.Second

func streamQueueName(taskID string) string {
	return "stream:" + taskID
}

// Config controls worker concurrency, timeouts and backoff.
type Config struct {
	Workers          int
	DefaultTimeout   time.Duration
	IdleInstanceTTL  time.Duration
	JanitorInterval  time.Duration
	PublishRetryBase time.Duration
	PublishRetryCap  time.Duration
	MaxQueueSize     int
	MaxHistory       int
}

// DefaultConfig returns sane defaults matching the stated constants
// (100ms base / 10s cap backoff, 15m idle TTL, 1m sweep).
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		DefaultTimeout:   60 * time.Second,
		IdleInstanceTTL:  15 * time.Minute,
		JanitorInterval:  time.Minute,
		PublishRetryBase: 100 * time.Millisecond,
		PublishRetryCap:  10 * time.Second,
		MaxQueueSize:     1000,
		MaxHistory:       50,
	}
}

// Manager is the Agent Task Manager.
type Manager struct {
	cfg      Config
	queue    mq.Queue
	registry *registry.Registry
	ctxStore *execctx.Store
	bus      eventbus.Bus
	log      *logger.Logger

	waitersMu sync.Mutex
	waiters   map[string]chan *v1.TaskResult

	streamMu     sync.Mutex
	streamQueues map[string]time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs a Manager.
func New(cfg Config, queue mq.Queue, reg *registry.Registry, ctxStore *execctx.Store, bus eventbus.Bus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		queue:        queue,
		registry:     reg,
		ctxStore:     ctxStore,
		bus:          bus,
		log:          log,
		waiters:      make(map[string]chan *v1.TaskResult),
		streamQueues: make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
}

// Start creates the task/result queues, then launches the worker pool,
// the result dispatcher, and the janitor. It does not block.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.queue.CreateQueue(ctx, QueueTasks, m.cfg.MaxQueueSize); err != nil {
		return apperrors.QueueError("failed to create task queue", err)
	}
	if err := m.queue.CreateQueue(ctx, QueueResults, 0); err != nil {
		return apperrors.QueueError("failed to create results queue", err)
	}

	m.wg.Add(1)
	go m.resultDispatchLoop(ctx)

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx, i)
	}

	m.wg.Add(1)
	go m.janitorLoop(ctx)

	return nil
}

// Stop signals all loops to exit and waits for them.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// SubmitTask enqueues req onto the task queue and returns its task_id
// (minting a task_id and/or session_id first if the request didn't
// carry one).
func (m *Manager) SubmitTask(ctx context.Context, req v1.TaskRequest) (string, error) {
	if req.TaskID == "" {
		req.TaskID = uuid.New().String()
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = m.cfg.DefaultTimeout
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	if req.Stream {
		queueName := streamQueueName(req.TaskID)
		if err := m.queue.CreateQueue(ctx, queueName, 0); err != nil {
			return "", apperrors.QueueError("failed to create stream queue", err)
		}
		m.streamMu.Lock()
		m.streamQueues[req.TaskID] = time.Now()
		m.streamMu.Unlock()
	}

	msg := &mq.Message{
		Type:          mq.MessageTypeTaskRequest,
		Payload:       req,
		Priority:      req.Priority,
		CorrelationID: req.TaskID,
		CreatedAt:     time.Now(),
		MaxRetries:    3,
	}
	if err := m.queue.Publish(ctx, QueueTasks, msg); err != nil {
		if err == mq.ErrQueueFull {
			return "", apperrors.Saturation("task queue is full")
		}
		return "", apperrors.QueueError("failed to publish task", err)
	}
	return req.TaskID, nil
}

// WaitResult blocks until task_id's terminal TaskResult is available,
// ctx is done, or the deadline is reached. It registers a private
// channel with the result dispatcher rather than consuming the shared
// results queue directly, so concurrent waiters never steal each
// other's result.
func (m *Manager) WaitResult(ctx context.Context, taskID string) (*v1.TaskResult, error) {
	ch := make(chan *v1.TaskResult, 1)

	m.waitersMu.Lock()
	m.waiters[taskID] = ch
	m.waitersMu.Unlock()

	defer func() {
		m.waitersMu.Lock()
		delete(m.waiters, taskID)
		m.waitersMu.Unlock()
	}()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, apperrors.Timeout(taskID)
	}
}

// SubscribeStream consumes task_id's dedicated stream queue, delivering
// chunks in order until the terminal chunk (non-empty FinishReason) is
// delivered or ctx is done. It acks every chunk it reads.
func (m *Manager) SubscribeStream(ctx context.Context, taskID string) (<-chan v1.StreamChunk, error) {
	queueName := streamQueueName(taskID)
	if err := m.queue.CreateQueue(ctx, queueName, 0); err != nil {
		return nil, apperrors.QueueError("failed to create stream queue", err)
	}

	out := make(chan v1.StreamChunk, 16)
	go func() {
		defer close(out)
		defer m.retireStreamQueue(taskID, queueName)
		for {
			msg, err := m.queue.Consume(ctx, queueName, pollInterval)
			if err != nil {
				return
			}
			if msg == nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			chunk, ok := msg.Payload.(v1.StreamChunk)
			if !ok {
				_ = m.queue.Nack(ctx, queueName, msg.ID, false)
				continue
			}
			_ = m.queue.Ack(ctx, queueName, msg.ID)

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.FinishReason != "" {
				return
			}
		}
	}()
	return out, nil
}

// retireStreamQueue deletes task_id's stream queue once its sole
// subscriber has observed the terminal chunk (or given up), and drops
// the bookkeeping entry the janitor otherwise uses to catch streams
// nobody ever subscribed to.
func (m *Manager) retireStreamQueue(taskID, queueName string) {
	_ = m.queue.DeleteQueue(context.Background(), queueName)
	m.streamMu.Lock()
	delete(m.streamQueues, taskID)
	m.streamMu.Unlock()
}

// ListInstances reports every live agent instance.
func (m *Manager) ListInstances() []v1.AgentInstance { return m.registry.List() }

// DestroySessionInstance evicts and destroys one agent instance,
// discarding its conversation history.
func (m *Manager) DestroySessionInstance(agentID, sessionID string) bool {
	key := v1.NewSessionKey(agentID, sessionID)
	m.ctxStore.Destroy(key)
	ok := m.registry.Destroy(key)
	if ok {
		m.publishEvent(eventbus.EventInstanceDestroyed, map[string]interface{}{
			"agent_id": agentID, "session_id": sessionID,
		})
	}
	return ok
}

// resultDispatchLoop drains QueueResults and fans results out to
// whichever WaitResult caller (if any) registered interest in the
// correlated task_id. A result with no registered waiter is dropped:
// the caller either never waited or has already moved on.
func (m *Manager) resultDispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := m.queue.Consume(ctx, QueueResults, pollInterval)
		if err != nil {
			continue
		}
		if msg == nil {
			continue
		}

		result, ok := msg.Payload.(v1.TaskResult)
		if !ok {
			_ = m.queue.Nack(ctx, QueueResults, msg.ID, false)
			continue
		}
		_ = m.queue.Ack(ctx, QueueResults, msg.ID)

		m.waitersMu.Lock()
		ch, waiting := m.waiters[result.TaskID]
		m.waitersMu.Unlock()
		if waiting {
			select {
			case ch <- &result:
			default:
			}
		}
	}
}

// workerLoop is one member of the worker pool. Each iteration consumes
// one task off QueueTasks and executes it to completion (or failure),
// publishing the outcome before looping.
func (m *Manager) workerLoop(ctx context.Context, workerID int) {
	defer m.wg.Done()
	log := m.log.WithFields(zap.Int("worker_id", workerID))

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := m.queue.Consume(ctx, QueueTasks, pollInterval)
		if err != nil {
			continue
		}
		if msg == nil {
			continue
		}

		req, ok := msg.Payload.(v1.TaskRequest)
		if !ok {
			log.Error("dropping task message with unexpected payload type")
			_ = m.queue.Nack(ctx, QueueTasks, msg.ID, false)
			continue
		}

		if handleErr := m.handleTask(ctx, req); handleErr != nil {
			log.Error("task handling failed", zap.String("task_id", req.TaskID), zap.Error(handleErr))
			m.nackWithBackoff(ctx, QueueTasks, msg)
			continue
		}
		_ = m.queue.Ack(ctx, QueueTasks, msg.ID)
	}
}

// handleTask resolves the target instance, serializes execution
// through its per-instance mutex, and dispatches to the streaming or
// non-streaming path.
func (m *Manager) handleTask(ctx context.Context, req v1.TaskRequest) error {
	inst, created, err := m.registry.GetOrCreate(ctx, req.AgentID, req.SessionID)
	if err != nil {
		return m.reportFailure(ctx, req, apperrors.ExecutorError("failed to resolve agent instance", err))
	}
	if created {
		m.publishEvent(eventbus.EventInstanceCreated, map[string]interface{}{
			"agent_id": req.AgentID, "session_id": req.SessionID,
		})
	}

	inst.Lock()
	defer inst.Unlock()

	taskCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	m.ctxStore.Append(inst.SessionKey, req.Messages)
	history := m.ctxStore.GetOrCreate(inst.SessionKey)

	params := executor.ExecuteParams{
		Messages:    append([]v1.ChatMessage{}, history.History...),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Metadata:    req.Metadata,
	}

	if req.Stream {
		return m.runStream(taskCtx, inst, req, params)
	}
	return m.runOnce(taskCtx, inst, req, params)
}

// runOnce executes non-streaming tasks and publishes the terminal
// TaskResult. Executor errors are converted into a failure result
// in-line; they are never retried. Only the subsequent publish can be.
func (m *Manager) runOnce(ctx context.Context, inst *registry.Instance, req v1.TaskRequest, params executor.ExecuteParams) error {
	start := time.Now()
	result, err := inst.Executor.Execute(ctx, params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return m.reportFailure(ctx, req, apperrors.Timeout(req.TaskID))
		}
		return m.reportFailure(ctx, req, apperrors.ExecutorError("executor returned an error", err))
	}
	result.TaskID = req.TaskID
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	if result.Message != nil && result.Message.Content != "" {
		m.ctxStore.Append(inst.SessionKey, []v1.ChatMessage{*result.Message})
	}

	m.publishEvent(eventbus.EventTaskCompleted, map[string]interface{}{
		"task_id": req.TaskID, "agent_id": req.AgentID, "session_id": req.SessionID,
	})
	return m.publishResult(ctx, *result)
}

// runStream executes streaming tasks, renumbering chunk_index itself
// so the strictly-increasing-from-zero invariant holds even across
// chunks the worker synthesizes (deadline/cancellation) rather than
// the executor.
func (m *Manager) runStream(ctx context.Context, inst *registry.Instance, req v1.TaskRequest, params executor.ExecuteParams) error {
	queueName := streamQueueName(req.TaskID)
	if err := m.queue.CreateQueue(ctx, queueName, 0); err != nil {
		return apperrors.QueueError("failed to create stream queue", err)
	}

	chunks, err := inst.Executor.StreamExecute(ctx, params)
	if err != nil {
		return m.reportFailure(ctx, req, apperrors.ExecutorError("executor failed to start stream", err))
	}

	idx := 0
	var assembled string
	var lastFinish v1.FinishReason
	cancelled := false

	for chunk := range chunks {
		chunk.TaskID = req.TaskID
		chunk.ChunkIndex = idx
		idx++
		assembled += chunk.Content

		if pubErr := m.publishStreamChunk(ctx, queueName, chunk); pubErr != nil {
			if pubErr == errStreamCancelled {
				// The consumer disconnected and tore down the stream
				// queue (or its context expired): stop generating
				// promptly. This is not a worker failure, so the task
				// message is acked normally, not requeued.
				cancelled = true
				break
			}
			return pubErr
		}
		if chunk.FinishReason != "" {
			lastFinish = chunk.FinishReason
		}
	}

	if cancelled {
		if assembled != "" {
			m.ctxStore.Append(inst.SessionKey, []v1.ChatMessage{{
				Role: v1.RoleAssistant, Content: assembled, Timestamp: time.Now(),
			}})
		}
		return nil
	}

	if lastFinish == "" {
		// The executor's channel closed without a terminal chunk: the
		// context was cancelled or its deadline expired mid-stream.
		finish := v1.FinishCancelled
		metadata := map[string]interface{}{}
		if ctx.Err() == context.DeadlineExceeded {
			finish = v1.FinishLength
			metadata["error"] = "execution deadline exceeded"
		}
		terminal := v1.StreamChunk{
			TaskID:       req.TaskID,
			ChunkIndex:   idx,
			FinishReason: finish,
			Metadata:     metadata,
		}
		if pubErr := m.publishStreamChunk(ctx, queueName, terminal); pubErr != nil {
			if pubErr == errStreamCancelled {
				if assembled != "" {
					m.ctxStore.Append(inst.SessionKey, []v1.ChatMessage{{
						Role: v1.RoleAssistant, Content: assembled, Timestamp: time.Now(),
					}})
				}
				return nil
			}
			return pubErr
		}
		lastFinish = finish
	}

	if assembled != "" {
		m.ctxStore.Append(inst.SessionKey, []v1.ChatMessage{{
			Role: v1.RoleAssistant, Content: assembled, Timestamp: time.Now(),
		}})
	}

	result := v1.TaskResult{
		TaskID:       req.TaskID,
		Success:      lastFinish == v1.FinishStop || lastFinish == v1.FinishToolCalls,
		Message:      &v1.ChatMessage{Role: v1.RoleAssistant, Content: assembled, Timestamp: time.Now()},
		FinishReason: lastFinish,
	}
	m.publishEvent(eventbus.EventTaskCompleted, map[string]interface{}{
		"task_id": req.TaskID, "agent_id": req.AgentID, "session_id": req.SessionID,
	})
	return m.publishResult(ctx, result)
}

// errStreamCancelled is returned internally by publishStreamChunk when
// the stream queue has been closed or deleted out from under it: the
// consumer disconnected (SubscribeStream tore the queue down on
// termination) or the backend was shut down. It is never returned to
// callers outside this file.
var errStreamCancelled = errors.New("taskmanager: stream consumer disconnected")

// publishStreamChunk publishes one chunk, retrying with backoff on a
// full queue (effective backpressure without changing mq.Queue's
// nominally non-blocking contract). A missing or closed queue means
// the consumer already tore it down; that is reported as
// errStreamCancelled so the caller can stop generating without
// treating it as a worker failure.
func (m *Manager) publishStreamChunk(ctx context.Context, queueName string, chunk v1.StreamChunk) error {
	msg := &mq.Message{
		Type:      mq.MessageTypeStreamChunk,
		Payload:   chunk,
		Priority:  v1.PriorityNormal,
		CreatedAt: time.Now(),
	}

	for {
		err := m.queue.Publish(ctx, queueName, msg)
		if err == nil {
			return nil
		}
		if err == mq.ErrQueueClosed || err == mq.ErrQueueNotFound {
			return errStreamCancelled
		}
		if err != mq.ErrQueueFull {
			return apperrors.QueueError("failed to publish stream chunk", err)
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return errStreamCancelled
		}
	}
}

func (m *Manager) publishResult(ctx context.Context, result v1.TaskResult) error {
	msg := &mq.Message{
		Type:          mq.MessageTypeTaskResult,
		Payload:       result,
		Priority:      v1.PriorityNormal,
		CorrelationID: result.TaskID,
		CreatedAt:     time.Now(),
		MaxRetries:    5,
	}
	if err := m.queue.Publish(ctx, QueueResults, msg); err != nil {
		if err == mq.ErrQueueFull {
			return apperrors.Saturation("results queue is full")
		}
		return apperrors.QueueError("failed to publish task result", err)
	}
	return nil
}

// reportFailure converts an in-line error into a failure TaskResult and
// publishes it; it never retries the executor.
func (m *Manager) reportFailure(ctx context.Context, req v1.TaskRequest, failure error) error {
	result := v1.TaskResult{
		TaskID:       req.TaskID,
		Success:      false,
		FinishReason: v1.FinishError,
		Error:        failure.Error(),
	}
	return m.publishResult(ctx, result)
}

// nackWithBackoff sleeps for an exponentially increasing delay keyed on
// the message's retry count (100ms base, doubling, 10s cap) before
// nacking, so transient publish failures don't hot-loop the queue's
// own retry/DLQ mechanism.
func (m *Manager) nackWithBackoff(ctx context.Context, queueName string, msg *mq.Message) {
	delay := backoffDelay(msg.RetryCount, m.cfg.PublishRetryBase, m.cfg.PublishRetryCap)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	_ = m.queue.Nack(ctx, queueName, msg.ID, true)
}

func backoffDelay(retryCount int, base, capDelay time.Duration) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= capDelay {
			return capDelay
		}
	}
	return d
}

func (m *Manager) publishEvent(eventType string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	ev := eventbus.NewEvent(eventType, "taskmanager", data)
	if err := m.bus.Publish(context.Background(), eventType, ev); err != nil {
		m.log.Debug("event publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

// Stats reports a point-in-time view of queue depths for observability.
type Stats struct {
	Tasks   mq.Stats
	Results mq.Stats
}

// Stats returns current task/result queue statistics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	taskStats, err := m.queue.Stats(ctx, QueueTasks)
	if err != nil {
		return Stats{}, err
	}
	resultStats, err := m.queue.Stats(ctx, QueueResults)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tasks: taskStats, Results: resultStats}, nil
}
