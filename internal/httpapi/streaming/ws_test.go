package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execctx"
	"github.com/agentforge/runtime/internal/execservice"
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

func newTestService(t *testing.T) *execservice.Service {
	t.Helper()
	catalog := registry.NewTemplateCatalog()
	catalog.Register("echo", "v1", echo.NewFactory())
	configs := staticConfigs{byID: map[string]v1.AgentConfiguration{
		"a1": {ID: "a1", TemplateID: "echo", TemplateVersion: "v1"},
	}}
	reg := registry.New(configs, catalog)
	cfg := taskmanager.DefaultConfig()
	ctxStore := execctx.NewStore(cfg.MaxHistory)
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	m := taskmanager.New(cfg, memorymq.New(), reg, ctxStore, nil, log)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	return execservice.New(m, cfg.Workers, "memory")
}

func TestWebSocketHandlerRelaysStreamToTerminalChunk(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	svc := newTestService(t)

	server := httptest.NewServer(NewHandler(svc, log))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(execservice.CompletionRequest{
		AgentID:  "a1",
		Messages: []execservice.ChatMessageDTO{{Role: "user", Content: "one two three"}},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var lastChunk execservice.CompletionChunk
	sawFinish := false
	for {
		var chunk execservice.CompletionChunk
		if err := conn.ReadJSON(&chunk); err != nil {
			break
		}
		lastChunk = chunk
		if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != nil {
			sawFinish = true
			break
		}
	}

	require.True(t, sawFinish, "expected a terminal chunk carrying a finish_reason")
	require.NotNil(t, lastChunk.Choices[0].FinishReason)
	require.Equal(t, "stop", *lastChunk.Choices[0].FinishReason)
}

var _ http.Handler = (*Handler)(nil)
