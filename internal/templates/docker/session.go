package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/pkg/acp/jsonrpc"
)

// acpSession drives one ACP JSON-RPC conversation with the agent
// process running inside a single container. It collapses the
// multi-instance SessionManager this package generalizes from down to
// the one session a single AgentExecutor needs: one container, one
// ACP session, reused across calls until the instance is reclaimed.
type acpSession struct {
	client    *jsonrpc.Client
	logger    *logger.Logger
	sessionID string

	mu      sync.Mutex
	updates chan jsonrpc.SessionUpdate
}

func newACPSession(client *jsonrpc.Client, log *logger.Logger) *acpSession {
	s := &acpSession{
		client:  client,
		logger:  log,
		updates: make(chan jsonrpc.SessionUpdate, 64),
	}
	client.SetNotificationHandler(s.handleNotification)
	client.SetRequestHandler(s.handleRequest)
	return s
}

func (s *acpSession) handleNotification(method string, params json.RawMessage) {
	if method != jsonrpc.NotificationSessionUpdate {
		s.logger.Warn("unexpected ACP notification", zap.String("method", method))
		return
	}
	var update jsonrpc.SessionUpdate
	if err := json.Unmarshal(params, &update); err != nil {
		s.logger.Error("malformed session/update", zap.Error(err))
		return
	}
	s.updates <- update
}

// handleRequest auto-approves any agent-initiated permission request.
// This template is a faithful protocol driver, not a policy engine:
// real deployments supply their own approval surface by swapping the
// executor, not by extending this one.
func (s *acpSession) handleRequest(id interface{}, method string, params json.RawMessage) {
	if method != jsonrpc.MethodRequestPermission {
		s.client.SendResponse(id, nil, &jsonrpc.Error{
			Code:    jsonrpc.MethodNotFound,
			Message: fmt.Sprintf("unsupported method: %s", method),
		})
		return
	}

	var req jsonrpc.RequestPermissionParams
	optionID := ""
	if err := json.Unmarshal(params, &req); err == nil {
		for _, opt := range req.Options {
			if opt.Kind == "allow_once" || opt.Kind == "allow_always" {
				optionID = opt.OptionID
				break
			}
		}
		if optionID == "" && len(req.Options) > 0 {
			optionID = req.Options[0].OptionID
		}
	}

	result := jsonrpc.RequestPermissionResult{
		Outcome: jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: optionID},
	}
	s.client.SendResponse(id, result, nil)
}

// initialize performs the initialize + session/new handshake.
func (s *acpSession) initialize(ctx context.Context, cwd string) error {
	s.client.Start(ctx)

	initParams := jsonrpc.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      jsonrpc.ClientInfo{Name: "agent-runtime", Version: "v1"},
		Capabilities:    jsonrpc.ClientCapabilities{Streaming: true},
	}
	resp, err := s.client.Call(ctx, jsonrpc.MethodInitialize, initParams)
	if err != nil {
		return fmt.Errorf("acp: initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("acp: initialize error: %s", resp.Error.Message)
	}

	resp, err = s.client.Call(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{
		Cwd:        cwd,
		McpServers: []jsonrpc.McpServer{},
	})
	if err != nil {
		return fmt.Errorf("acp: session/new: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("acp: session/new error: %s", resp.Error.Message)
	}
	var result jsonrpc.SessionNewResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("acp: parse session/new result: %w", err)
	}
	s.sessionID = result.SessionID
	return nil
}

// prompt sends one session/prompt call and does not wait for
// completion: updates arrive asynchronously on s.updates.
func (s *acpSession) prompt(ctx context.Context, text string) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("acp: prompt before session/new")
	}

	resp, err := s.client.Call(ctx, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: sessionID,
		Prompt:    []jsonrpc.ContentBlock{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("acp: session/prompt: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("acp: session/prompt error: %s", resp.Error.Message)
	}
	return nil
}

// cancel sends the session/cancel notification for an in-flight prompt.
func (s *acpSession) cancel(reason string) error {
	return s.client.Notify(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{Reason: reason})
}

func (s *acpSession) close() {
	s.client.Stop()
}
