// Package executor defines the stateless contract a template must
// satisfy once bound to an agent configuration, and the factory
// abstraction that produces one.
//
// Generalized from the "launch a container, poll its status" shape of
// the manager this package is grounded on: that manager tracked
// long-lived container executions keyed by task id through an
// AgentManagerClient; an AgentExecutor here is the same idea
// collapsed to its essentials — a stateless call in, a TaskResult or
// StreamChunk sequence out — with the container lifecycle pushed down
// into whichever template (internal/templates/*) implements it.
package executor

import (
	"context"
	"errors"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// ErrNoAgentType is returned by a template factory when the bound
// configuration does not identify which concrete agent to build.
var ErrNoAgentType = errors.New("executor: agent configuration has no usable template binding")

// ConfigField describes one field of a template's machine-readable
// configuration schema.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Metadata is the pure-data description of a template: identity plus
// its configuration schema.
type Metadata struct {
	TemplateID          string        `json:"template_id"`
	TemplateVersion     string        `json:"template_version"`
	TemplateDescription string        `json:"template_description"`
	ConfigSchema        []ConfigField `json:"config_schema"`
}

// ValidationResult reports the outcome of validating an agent
// configuration's Configuration map against a template's ConfigSchema.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ExecuteParams is the input to a single Execute or StreamExecute
// call: the conversation history the manager chose to pass (typically
// context.history + the new request messages) plus generation
// parameters and free-form metadata.
type ExecuteParams struct {
	Messages    []v1.ChatMessage
	Temperature *float64
	MaxTokens   *int
	Metadata    map[string]interface{}
}

// AgentExecutor is the stateless contract a template implements once
// bound to an agent configuration. Implementations must not retain
// references to ExecuteParams.Messages after a call returns: any
// reasoning state that does persist across calls (compiled graphs,
// tool-client caches) belongs on the AgentInstance wrapper the
// registry owns, never inside the executor's view of a single call's
// input.
type AgentExecutor interface {
	// Metadata returns this executor's template identity and config
	// schema. Pure data; safe to call at any time.
	Metadata() Metadata

	// ValidateConfig checks a candidate configuration map against
	// this executor's schema, used at agent-creation time.
	ValidateConfig(config map[string]interface{}) ValidationResult

	// Execute runs one complete turn and returns its result.
	// Errors are reported through TaskResult.Success=false, not
	// returned, except for errors preventing the call from running
	// at all (e.g. a context already cancelled on entry).
	Execute(ctx context.Context, params ExecuteParams) (*v1.TaskResult, error)

	// StreamExecute runs one complete turn, delivering incremental
	// chunks on the returned channel. The channel is closed after the
	// terminal chunk (the only chunk carrying a non-empty
	// FinishReason) is sent, or promptly after ctx is cancelled.
	// Mid-generation failures are reported as a terminal chunk with
	// FinishReason=error, not through the returned error; that error
	// return is reserved for failures to start the stream at all.
	StreamExecute(ctx context.Context, params ExecuteParams) (<-chan v1.StreamChunk, error)
}

// TemplateFactory produces an AgentExecutor bound to one
// AgentConfiguration. The registry resolves it each time it builds a
// new instance, not at every Execute call; it is not stored on the
// agent configuration.
type TemplateFactory interface {
	New(config v1.AgentConfiguration) (AgentExecutor, error)
}

// TemplateFactoryFunc adapts a plain function to the TemplateFactory
// interface.
type TemplateFactoryFunc func(config v1.AgentConfiguration) (AgentExecutor, error)

// New implements TemplateFactory.
func (f TemplateFactoryFunc) New(config v1.AgentConfiguration) (AgentExecutor, error) {
	return f(config)
}
