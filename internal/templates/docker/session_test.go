package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/pkg/acp/jsonrpc"
)

// fakeAgent simulates an ACP-speaking process on the other end of a
// pair of pipes: it reads JSON-RPC lines written by the client and
// writes back scripted responses, so acpSession can be exercised
// without a real container.
type fakeAgent struct {
	in  *bufio.Scanner
	out io.Writer
}

func newFakeAgentPair(t *testing.T) (*jsonrpc.Client, *fakeAgent) {
	t.Helper()
	clientStdinR, clientStdinW := io.Pipe()
	agentStdoutR, agentStdoutW := io.Pipe()

	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	client := jsonrpc.NewClient(clientStdinW, agentStdoutR, log)
	agent := &fakeAgent{in: bufio.NewScanner(clientStdinR), out: agentStdoutW}
	agent.in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return client, agent
}

func (a *fakeAgent) readRequest(t *testing.T) (id interface{}, method string, params json.RawMessage) {
	t.Helper()
	require.True(t, a.in.Scan(), "expected a request line")
	var msg struct {
		ID     interface{}     `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(t, json.Unmarshal(a.in.Bytes(), &msg))
	return msg.ID, msg.Method, msg.Params
}

func (a *fakeAgent) respond(t *testing.T, id interface{}, result interface{}) {
	t.Helper()
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)
	resp := jsonrpc.Response{JSONRPC: "2.0", ID: id, Result: resultJSON}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = a.out.Write(append(data, '\n'))
	require.NoError(t, err)
}

func (a *fakeAgent) notify(t *testing.T, method string, params interface{}) {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	notif := jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	data, err := json.Marshal(notif)
	require.NoError(t, err)
	_, err = a.out.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestACPSessionInitializeHandshake(t *testing.T) {
	client, agent := newFakeAgentPair(t)
	log, _ := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	session := newACPSession(client, log)

	done := make(chan error, 1)
	go func() {
		done <- session.initialize(context.Background(), "/workspace")
	}()

	id, method, _ := agent.readRequest(t)
	require.Equal(t, jsonrpc.MethodInitialize, method)
	agent.respond(t, id, map[string]interface{}{})

	id, method, _ = agent.readRequest(t)
	require.Equal(t, jsonrpc.MethodSessionNew, method)
	agent.respond(t, id, jsonrpc.SessionNewResult{SessionID: "sess-1"})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("initialize did not complete")
	}
	require.Equal(t, "sess-1", session.sessionID)
}

func TestACPSessionPromptRequiresSession(t *testing.T) {
	client, _ := newFakeAgentPair(t)
	log, _ := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	session := newACPSession(client, log)

	err := session.prompt(context.Background(), "hello")
	require.Error(t, err)
}

func TestACPSessionDrainsContentUpdates(t *testing.T) {
	client, agent := newFakeAgentPair(t)
	log, _ := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	session := newACPSession(client, log)
	session.sessionID = "sess-1"
	client.Start(context.Background())

	go func() {
		id, method, _ := agent.readRequest(t)
		require.Equal(t, jsonrpc.MethodSessionPrompt, method)
		agent.respond(t, id, map[string]interface{}{})

		agent.notify(t, jsonrpc.NotificationSessionUpdate, jsonrpc.SessionUpdate{
			Type: "content",
			Data: mustMarshal(t, jsonrpc.SessionUpdateContent{Text: "hello "}),
		})
		agent.notify(t, jsonrpc.NotificationSessionUpdate, jsonrpc.SessionUpdate{
			Type: "content",
			Data: mustMarshal(t, jsonrpc.SessionUpdateContent{Text: "world"}),
		})
		agent.notify(t, jsonrpc.NotificationSessionUpdate, jsonrpc.SessionUpdate{
			Type: "complete",
			Data: mustMarshal(t, jsonrpc.SessionUpdateComplete{Success: true}),
		})
	}()

	require.NoError(t, session.prompt(context.Background(), "hi"))

	content, finish, err := drainTurn(context.Background(), session, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", content)
	require.Equal(t, "stop", string(finish))
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
