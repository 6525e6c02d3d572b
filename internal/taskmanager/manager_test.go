package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execctx"
	"github.com/agentforge/runtime/internal/mq/memorymq"
	"github.com/agentforge/runtime/internal/registry"
	"github.com/agentforge/runtime/internal/templates/echo"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

type staticConfigs struct {
	byID map[string]v1.AgentConfiguration
}

func (s staticConfigs) Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error) {
	cfg, ok := s.byID[agentID]
	if !ok {
		return v1.AgentConfiguration{}, fmt.Errorf("agent not found: %s", agentID)
	}
	return cfg, nil
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	catalog := registry.NewTemplateCatalog()
	catalog.Register("echo", "v1", echo.NewFactory())
	catalog.Register("echo-fail", "v1", echo.NewFactory())

	configs := staticConfigs{byID: map[string]v1.AgentConfiguration{
		"a1":   {ID: "a1", TemplateID: "echo", TemplateVersion: "v1"},
		"fail": {ID: "fail", TemplateID: "echo-fail", TemplateVersion: "v1", Configuration: map[string]interface{}{"fail": true}},
		"slow": {ID: "slow", TemplateID: "echo", TemplateVersion: "v1", Configuration: map[string]interface{}{"delay_ms": 40}},
	}}

	reg := registry.New(configs, catalog)
	ctxStore := execctx.NewStore(cfg.MaxHistory)
	queue := memorymq.New()
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	m := New(cfg, queue, reg, ctxStore, nil, log)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func userMsg(content string) []v1.ChatMessage {
	return []v1.ChatMessage{{Role: v1.RoleUser, Content: content, Timestamp: time.Now()}}
}

func TestSubmitTaskMintsSessionID(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:  "a1",
		Messages: userMsg("hello"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := m.WaitResult(ctx, taskID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "echo: hello", result.Message.Content)
	assert.Equal(t, v1.FinishStop, result.FinishReason)

	instances := m.ListInstances()
	require.Len(t, instances, 1)
	assert.NotEmpty(t, instances[0].SessionID, "a request without a session id must get a minted one")
}

func TestStreamedCompletionChunkInvariants(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:   "a1",
		SessionID: "s1",
		Messages:  userMsg("one two three"),
		Stream:    true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := m.SubscribeStream(ctx, taskID)
	require.NoError(t, err)

	var chunks []v1.StreamChunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}

	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunk_index must be strictly increasing from zero")
		if i < len(chunks)-1 {
			assert.Empty(t, c.FinishReason, "only the last chunk may carry a finish reason")
		}
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, v1.FinishStop, last.FinishReason)
}

func TestPerSessionExecutionIsSerialized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	m := newTestManager(t, cfg)

	const n = 10
	taskIDs := make([]string, n)
	for i := 0; i < n; i++ {
		taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
			AgentID:   "a1",
			SessionID: "shared",
			Messages:  userMsg(fmt.Sprintf("msg-%d", i)),
		})
		require.NoError(t, err)
		taskIDs[i] = taskID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(n)
	for _, id := range taskIDs {
		go func(id string) {
			defer wg.Done()
			_, err := m.WaitResult(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	key := v1.NewSessionKey("a1", "shared")
	inst, ok := m.registry.Lookup(key)
	require.True(t, ok)
	assert.True(t, inst.TryLock(), "instance must not be left locked after serialized execution completes")
	inst.Unlock()
}

func TestExecutorFailureDoesNotPoisonInstance(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:   "fail",
		SessionID: "s1",
		Messages:  userMsg("hello"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := m.WaitResult(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, v1.FinishError, result.FinishReason)

	key := v1.NewSessionKey("fail", "s1")
	inst, ok := m.registry.Lookup(key)
	require.True(t, ok)
	assert.True(t, inst.TryLock(), "a failed executor call must release the instance lock")
	inst.Unlock()

	taskID2, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:   "fail",
		SessionID: "s1",
		Messages:  userMsg("again"),
	})
	require.NoError(t, err)
	result2, err := m.WaitResult(ctx, taskID2)
	require.NoError(t, err)
	assert.False(t, result2.Success)
}

func TestQueueSaturationRejectsSubmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	cfg.MaxQueueSize = 1
	m := newTestManager(t, cfg)

	_, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID: "a1", SessionID: "s1", Messages: userMsg("first"),
	})
	require.NoError(t, err)

	_, err = m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID: "a1", SessionID: "s1", Messages: userMsg("second"),
	})
	require.Error(t, err)
}

func TestJanitorReclaimsIdleInstances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleInstanceTTL = 10 * time.Millisecond
	cfg.JanitorInterval = 5 * time.Millisecond
	m := newTestManager(t, cfg)

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID: "a1", SessionID: "idle", Messages: userMsg("hello"),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.WaitResult(ctx, taskID)
	require.NoError(t, err)

	key := v1.NewSessionKey("a1", "idle")
	require.Eventually(t, func() bool {
		_, ok := m.registry.Lookup(key)
		return !ok
	}, time.Second, 5*time.Millisecond, "janitor should have reclaimed the idle instance")
}

func TestDestroySessionInstanceDiscardsHistory(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID: "a1", SessionID: "s1", Messages: userMsg("hello"),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.WaitResult(ctx, taskID)
	require.NoError(t, err)

	ok := m.DestroySessionInstance("a1", "s1")
	assert.True(t, ok)
	assert.False(t, m.DestroySessionInstance("a1", "s1"), "destroy is not idempotent-success on a missing instance")

	key := v1.NewSessionKey("a1", "s1")
	_, found := m.registry.Lookup(key)
	assert.False(t, found)
	assert.Empty(t, m.ctxStore.GetOrCreate(key).History, "destroying the instance must discard its history")
}

func TestStreamQueueTornDownAfterSubscriptionEnds(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:   "a1",
		SessionID: "s1",
		Messages:  userMsg("one two"),
		Stream:    true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := m.SubscribeStream(ctx, taskID)
	require.NoError(t, err)
	for range stream {
	}

	assert.Eventually(t, func() bool {
		_, statErr := m.queue.Stats(context.Background(), streamQueueName(taskID))
		return statErr != nil
	}, time.Second, 5*time.Millisecond, "stream queue should be deleted once its subscriber observes the terminal chunk")
}

func TestStreamConsumerDisconnectStopsWorkerWithoutRequeue(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	taskID, err := m.SubmitTask(context.Background(), v1.TaskRequest{
		AgentID:   "slow",
		SessionID: "s1",
		Messages:  userMsg("one two three four five"),
		Stream:    true,
	})
	require.NoError(t, err)

	subCtx, subCancel := context.WithCancel(context.Background())
	stream, err := m.SubscribeStream(subCtx, taskID)
	require.NoError(t, err)

	<-stream // consume exactly one chunk, then disconnect
	subCancel()
	for range stream {
		// drain until SubscribeStream's goroutine closes out
	}

	assert.Eventually(t, func() bool {
		_, statErr := m.queue.Stats(context.Background(), streamQueueName(taskID))
		return statErr != nil
	}, time.Second, 5*time.Millisecond, "stream queue should be torn down once the consumer disconnects")

	// The underlying task message must not be stuck retrying forever:
	// the task queue should drain back to empty once the worker notices
	// the closed stream queue and stops generating.
	assert.Eventually(t, func() bool {
		stats, statErr := m.queue.Stats(context.Background(), QueueTasks)
		require.NoError(t, statErr)
		return stats.Pending == 0 && stats.Processing == 0
	}, time.Second, 5*time.Millisecond, "a cancelled stream must not leave its task requeuing forever")
}
