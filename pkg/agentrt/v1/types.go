// Package v1 defines the value types shared by the agent runtime: chat
// messages, execution context, tasks, results and stream chunks.
package v1

import "time"

// MessageRole identifies the speaker of a ChatMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Priority orders tasks within the message queue. Higher sorts first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// FinishReason explains why a task or stream stopped producing output.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishError         FinishReason = "error"
	FinishCancelled     FinishReason = "cancelled"
)

// ChatMessage is an immutable turn in a conversation. Equality is by
// role, content and timestamp.
type ChatMessage struct {
	Role      MessageRole            `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Equal reports whether two messages carry the same role, content and
// timestamp (metadata is not part of identity).
func (m ChatMessage) Equal(other ChatMessage) bool {
	return m.Role == other.Role && m.Content == other.Content && m.Timestamp.Equal(other.Timestamp)
}

// SessionKey is the canonical registry/context-store key:
// "{agent_id}#{session_id}", or bare agent_id when no session is given.
type SessionKey string

// NewSessionKey composes the canonical key per spec.md §3.
func NewSessionKey(agentID, sessionID string) SessionKey {
	if sessionID == "" {
		return SessionKey(agentID)
	}
	return SessionKey(agentID + "#" + sessionID)
}

// TaskRequest is the value submitted to the task manager for execution.
type TaskRequest struct {
	TaskID      string                 `json:"task_id"`
	AgentID     string                 `json:"agent_id"`
	SessionID   string                 `json:"session_id"`
	Messages    []ChatMessage          `json:"messages"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	Stream      bool                   `json:"stream"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Priority    Priority               `json:"priority"`
	Timeout     time.Duration          `json:"timeout"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

// SessionKey returns the SessionKey this request addresses.
func (r *TaskRequest) SessionKey() SessionKey {
	return NewSessionKey(r.AgentID, r.SessionID)
}

// Usage reports token accounting for a single execution.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TaskResult is the outcome of a non-streaming (or assembled streaming)
// execution.
type TaskResult struct {
	TaskID           string                 `json:"task_id"`
	Success          bool                   `json:"success"`
	Message          *ChatMessage           `json:"message,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Usage            Usage                  `json:"usage"`
	FinishReason     FinishReason           `json:"finish_reason"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

// StreamChunk is one incremental delta of a streamed response. Only the
// last chunk of a stream carries a non-empty FinishReason.
type StreamChunk struct {
	TaskID       string                 `json:"task_id"`
	Content      string                 `json:"content"`
	FinishReason FinishReason           `json:"finish_reason,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ChunkIndex   int                    `json:"chunk_index"`
}

// AgentInstance is the observability-facing view of a live,
// template-produced runtime instance bound to a SessionKey. It is the
// value the registry hands out to callers of List(); the live instance
// with its lock and cached executor state is a separate type,
// registry.Instance, owned by the registry package.
type AgentInstance struct {
	SessionKey SessionKey `json:"session_key"`
	AgentID    string     `json:"agent_id"`
	SessionID  string     `json:"session_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   time.Time  `json:"last_used"`
}

// ExecutionContext is the mutable, per-SessionKey conversation history
// and bookkeeping the manager owns alongside its AgentInstance.
type ExecutionContext struct {
	SessionKey SessionKey             `json:"session_key"`
	History    []ChatMessage          `json:"history"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	LastActive time.Time              `json:"last_active"`
}

// AgentConfiguration is the value the external agent-configuration
// lookup collaborator returns for an AgentId: enough to resolve a
// template factory and instantiate an AgentExecutor from it.
type AgentConfiguration struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	TemplateID      string                 `json:"template_id"`
	TemplateVersion string                 `json:"template_version"`
	Configuration   map[string]interface{} `json:"configuration"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
