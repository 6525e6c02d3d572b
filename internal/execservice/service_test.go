package execservice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execctx"
	"github.com/agentforge/runtime/internal/mq/memorymq"
	"github.com/agentforge/runtime/internal/registry"
	"github.com/agentforge/runtime/internal/taskmanager"
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	catalog := registry.NewTemplateCatalog()
	catalog.Register("echo", "v1", echo.NewFactory())

	configs := staticConfigs{byID: map[string]v1.AgentConfiguration{
		"a1": {ID: "a1", TemplateID: "echo", TemplateVersion: "v1"},
	}}

	reg := registry.New(configs, catalog)
	cfg := taskmanager.DefaultConfig()
	ctxStore := execctx.NewStore(cfg.MaxHistory)
	queue := memorymq.New()
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	m := taskmanager.New(cfg, queue, reg, ctxStore, nil, log)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	return New(m, cfg.Workers, "memory")
}

func TestCompleteReturnsOpenAIShapedResponse(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Complete(context.Background(), CompletionRequest{
		AgentID:  "a1",
		Messages: []ChatMessageDTO{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message)
	assert.Equal(t, "echo: hello", resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Choices[0].FinishReason)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)

	sessionID, _ := resp.Metadata["session_id"].(string)
	assert.NotEmpty(t, sessionID, "facade must mint and echo back a session_id when the caller omits one")
}

func TestStreamChunksNeverCarriesFinishReasonExceptLast(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, taskID, err := svc.StreamChunks(ctx, CompletionRequest{
		AgentID:  "a1",
		Messages: []ChatMessageDTO{{Role: "user", Content: "one two"}},
		Stream:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	var all []CompletionChunk
	for c := range chunks {
		all = append(all, c)
	}
	require.NotEmpty(t, all)
	for i, c := range all {
		if i < len(all)-1 {
			assert.Nil(t, c.Choices[0].FinishReason)
		}
	}
	last := all[len(all)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
}

func TestListInstancesReflectsActiveSessions(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Complete(context.Background(), CompletionRequest{
		AgentID:   "a1",
		SessionID: "s1",
		Messages:  []ChatMessageDTO{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	instances := svc.ListInstances()
	require.Len(t, instances, 1)
	assert.Equal(t, "a1", instances[0].AgentID)
	assert.Equal(t, "s1", instances[0].SessionID)
}

func TestDestroySessionInstanceReportsWhetherAnythingWasRemoved(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Complete(context.Background(), CompletionRequest{
		AgentID:   "a1",
		SessionID: "s1",
		Messages:  []ChatMessageDTO{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.True(t, svc.DestroySessionInstance("a1", "s1"))
	assert.False(t, svc.DestroySessionInstance("a1", "s1"))
}

func TestStatsReportsWorkerCountAndQueueType(t *testing.T) {
	svc := newTestService(t)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.QueueType)
	assert.GreaterOrEqual(t, stats.WorkerCount, 1)
}

func TestNewSessionIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewSessionID(), NewSessionID())
}
