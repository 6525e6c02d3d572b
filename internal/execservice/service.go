// Package execservice is the thin facade above internal/taskmanager
// that speaks OpenAI chat-completion shapes instead of the core's
// TaskRequest/TaskResult/StreamChunk types. It owns no state of its
// own: every call is a lookup-then-delegate against the task manager,
// the agent configuration store, and the instance registry.
//
// Grounded on the "look up config, build request, submit, convert"
// shape of spec.md §4.7; the DTOs below are the "Observable protocol"
// of spec.md §6, not a general-purpose OpenAI client shape.
package execservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/runtime/internal/taskmanager"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// ChatMessageDTO is one message of an incoming completion request.
type ChatMessageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the inbound OpenAI-compatible request body.
type CompletionRequest struct {
	AgentID     string           `json:"agent_id"`
	SessionID   string           `json:"session_id,omitempty"`
	Messages    []ChatMessageDTO `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Timeout     *int             `json:"timeout_seconds,omitempty"`
}

// Choice mirrors the OpenAI chat-completion choice shape.
type Choice struct {
	Index        int        `json:"index"`
	Message      *MessageDTO `json:"message,omitempty"`
	Delta        *MessageDTO `json:"delta,omitempty"`
	FinishReason *string    `json:"finish_reason"`
}

// MessageDTO is a role+content pair used in both the completion and
// chunk response shapes.
type MessageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is the non-streaming `chat.completion` object.
type CompletionResponse struct {
	ID       string                 `json:"id"`
	Object   string                 `json:"object"`
	Created  int64                  `json:"created"`
	Choices  []Choice               `json:"choices"`
	Usage    v1.Usage               `json:"usage"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CompletionChunk is one `chat.completion.chunk` streaming event.
type CompletionChunk struct {
	ID       string                 `json:"id"`
	Object   string                 `json:"object"`
	Created  int64                  `json:"created"`
	Choices  []Choice               `json:"choices"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// InstanceDTO describes one active agent instance for list_instances.
type InstanceDTO struct {
	SessionKey string    `json:"session_key"`
	AgentID    string    `json:"agent_id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
}

// StatsDTO mirrors spec.md §6's stats() shape.
type StatsDTO struct {
	WorkerCount     int           `json:"worker_count"`
	ActiveInstances int           `json:"active_instances"`
	TaskQueueStats  taskmanager.Stats `json:"-"`
	QueueType       string        `json:"queue_type"`
	TaskQueueDepth  int           `json:"task_queue_depth"`
	ResultQueueDepth int          `json:"result_queue_depth"`
}

// Service is the facade bound to one task manager and its
// collaborators.
type Service struct {
	manager   *taskmanager.Manager
	workers   int
	queueType string
}

// New builds a Service atop an already-started Manager. workers and
// queueType are pure reporting fields surfaced through Stats.
func New(manager *taskmanager.Manager, workers int, queueType string) *Service {
	return &Service{manager: manager, workers: workers, queueType: queueType}
}

func toChatMessages(in []ChatMessageDTO) []v1.ChatMessage {
	out := make([]v1.ChatMessage, 0, len(in))
	now := time.Now()
	for _, m := range in {
		out = append(out, v1.ChatMessage{
			Role:      v1.MessageRole(m.Role),
			Content:   m.Content,
			Timestamp: now,
		})
	}
	return out
}

// Complete handles a non-streaming completion request: submit then
// wait_result, converted to the OpenAI-compatible DTO.
func (s *Service) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	taskReq := v1.TaskRequest{
		AgentID:     req.AgentID,
		SessionID:   req.SessionID,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	if req.Timeout != nil {
		taskReq.Timeout = time.Duration(*req.Timeout) * time.Second
	}

	taskID, err := s.manager.SubmitTask(ctx, taskReq)
	if err != nil {
		return nil, err
	}

	result, err := s.manager.WaitResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	finish := string(result.FinishReason)
	choice := Choice{Index: 0, FinishReason: &finish}
	if result.Message != nil {
		choice.Message = &MessageDTO{Role: string(result.Message.Role), Content: result.Message.Content}
	} else {
		choice.Message = &MessageDTO{Role: string(v1.RoleAssistant), Content: ""}
	}

	return &CompletionResponse{
		ID:      taskID,
		Object:  "chat.completion",
		Created: unixNow(),
		Choices: []Choice{choice},
		Usage:   result.Usage,
		Metadata: map[string]interface{}{
			"session_id": taskReq.SessionID,
			"success":     result.Success,
			"error":       result.Error,
		},
	}, nil
}

// StreamChunks handles a streaming completion request: submit then
// subscribe_stream, delivering converted chunks on the returned
// channel. The channel closes after the terminal chunk or when ctx is
// done, whichever comes first.
func (s *Service) StreamChunks(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, string, error) {
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	taskReq := v1.TaskRequest{
		AgentID:     req.AgentID,
		SessionID:   req.SessionID,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if req.Timeout != nil {
		taskReq.Timeout = time.Duration(*req.Timeout) * time.Second
	}

	taskID, err := s.manager.SubmitTask(ctx, taskReq)
	if err != nil {
		return nil, "", err
	}

	src, err := s.manager.SubscribeStream(ctx, taskID)
	if err != nil {
		return nil, "", err
	}

	out := make(chan CompletionChunk, 16)
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-src:
				if !ok {
					return
				}
				var finishPtr *string
				if chunk.FinishReason != "" {
					f := string(chunk.FinishReason)
					finishPtr = &f
				}
				out <- CompletionChunk{
					ID:      taskID,
					Object:  "chat.completion.chunk",
					Created: unixNow(),
					Choices: []Choice{{
						Index:        0,
						Delta:        &MessageDTO{Role: string(v1.RoleAssistant), Content: chunk.Content},
						FinishReason: finishPtr,
					}},
				}
				if finishPtr != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, taskID, nil
}

// ListInstances implements spec.md §6's list_instances.
func (s *Service) ListInstances() []InstanceDTO {
	instances := s.manager.ListInstances()
	out := make([]InstanceDTO, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceDTO{
			SessionKey: string(inst.SessionKey),
			AgentID:    inst.AgentID,
			SessionID:  inst.SessionID,
			CreatedAt:  inst.CreatedAt,
			LastUsed:   inst.LastUsed,
		})
	}
	return out
}

// DestroySessionInstance implements spec.md §6's destroy_session_instance.
func (s *Service) DestroySessionInstance(agentID, sessionID string) bool {
	return s.manager.DestroySessionInstance(agentID, sessionID)
}

// Stats implements spec.md §6's stats().
func (s *Service) Stats(ctx context.Context) (*StatsDTO, error) {
	raw, err := s.manager.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("execservice: stats: %w", err)
	}
	return &StatsDTO{
		WorkerCount:      s.workers,
		ActiveInstances:  len(s.manager.ListInstances()),
		QueueType:        s.queueType,
		TaskQueueDepth:   raw.Tasks.Pending,
		ResultQueueDepth: raw.Results.Pending,
	}, nil
}

// NewSessionID mints a session identifier for callers that don't
// supply their own, mirroring spec.md §4.7's "generating a session_id
// if absent" step.
func NewSessionID() string {
	return uuid.New().String()
}

func unixNow() int64 {
	return time.Now().Unix()
}
