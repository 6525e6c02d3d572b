// Package echo provides a deterministic, dependency-free AgentExecutor
// template. It exists so the task manager's test suite and the demo
// binary have at least one real implementation to drive, without
// pulling in a live LLM provider or container runtime.
//
// Grounded on the mock agent-manager client this module's executor
// contract is itself grounded on: a synthetic implementation standing
// in for a real backend, here repurposed from "fake container
// launches" to "fake chat completions."
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/agentforge/runtime/internal/executor"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// Factory produces echo executors. The "fail" configuration field lets
// tests register a template whose calls always report a synthetic
// executor failure, without needing a second template implementation.
type Factory struct{}

// NewFactory returns a TemplateFactory for the echo template.
func NewFactory() executor.TemplateFactory {
	return Factory{}
}

// New implements executor.TemplateFactory.
func (Factory) New(config v1.AgentConfiguration) (executor.AgentExecutor, error) {
	fail, _ := config.Configuration["fail"].(bool)
	var delayMs int
	if v, ok := config.Configuration["delay_ms"]; ok {
		if f, ok := v.(float64); ok {
			delayMs = int(f)
		}
		if i, ok := v.(int); ok {
			delayMs = i
		}
	}
	return &Executor{fail: fail, delayMs: delayMs}, nil
}

// Executor echoes the latest user message back as the assistant turn.
type Executor struct {
	fail    bool
	delayMs int
}

// Metadata implements executor.AgentExecutor.
func (e *Executor) Metadata() executor.Metadata {
	return executor.Metadata{
		TemplateID:          "echo",
		TemplateVersion:     "v1",
		TemplateDescription: "echoes the latest user message back as the assistant turn",
		ConfigSchema: []executor.ConfigField{
			{Name: "fail", Type: "bool", Description: "when true, every call reports a synthetic executor failure"},
			{Name: "delay_ms", Type: "int", Description: "artificial delay between streamed chunks, in milliseconds"},
		},
	}
}

// ValidateConfig implements executor.AgentExecutor.
func (e *Executor) ValidateConfig(config map[string]interface{}) executor.ValidationResult {
	result := executor.ValidationResult{Valid: true}
	if v, ok := config["fail"]; ok {
		if _, ok := v.(bool); !ok {
			result.Valid = false
			result.Errors = append(result.Errors, "fail must be a boolean")
		}
	}
	if v, ok := config["delay_ms"]; ok {
		switch v.(type) {
		case int, float64:
		default:
			result.Warnings = append(result.Warnings, "delay_ms should be numeric; ignoring")
		}
	}
	return result
}

func lastUserContent(messages []v1.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == v1.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

const syntheticFailureMessage = "echo: synthetic executor failure"

// Execute implements executor.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, params executor.ExecuteParams) (*v1.TaskResult, error) {
	if e.fail {
		return &v1.TaskResult{
			Success:      false,
			Error:        syntheticFailureMessage,
			FinishReason: v1.FinishError,
			Metadata:     map[string]interface{}{"error": syntheticFailureMessage},
		}, nil
	}

	content := "echo: " + lastUserContent(params.Messages)
	return &v1.TaskResult{
		Success: true,
		Message: &v1.ChatMessage{
			Role:      v1.RoleAssistant,
			Content:   content,
			Timestamp: time.Now(),
		},
		Usage: v1.Usage{
			PromptTokens:     countWords(params.Messages),
			CompletionTokens: len(strings.Fields(content)),
			TotalTokens:      countWords(params.Messages) + len(strings.Fields(content)),
		},
		FinishReason: v1.FinishStop,
	}, nil
}

// StreamExecute implements executor.AgentExecutor.
func (e *Executor) StreamExecute(ctx context.Context, params executor.ExecuteParams) (<-chan v1.StreamChunk, error) {
	ch := make(chan v1.StreamChunk, 8)

	if e.fail {
		go func() {
			defer close(ch)
			select {
			case ch <- v1.StreamChunk{
				FinishReason: v1.FinishError,
				Metadata:     map[string]interface{}{"error": syntheticFailureMessage},
				ChunkIndex:   0,
			}:
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}

	content := "echo: " + lastUserContent(params.Messages)
	words := strings.Fields(content)

	go func() {
		defer close(ch)

		if len(words) == 0 {
			select {
			case ch <- v1.StreamChunk{FinishReason: v1.FinishStop, ChunkIndex: 0}:
			case <-ctx.Done():
			}
			return
		}

		for i, w := range words {
			select {
			case <-ctx.Done():
				return
			default:
			}

			delta := w
			if i > 0 {
				delta = " " + w
			}
			var finish v1.FinishReason
			if i == len(words)-1 {
				finish = v1.FinishStop
			}

			select {
			case ch <- v1.StreamChunk{Content: delta, FinishReason: finish, ChunkIndex: i}:
			case <-ctx.Done():
				return
			}

			if e.delayMs > 0 && i < len(words)-1 {
				select {
				case <-time.After(time.Duration(e.delayMs) * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func countWords(messages []v1.ChatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}
