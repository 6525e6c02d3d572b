// Package docker provides the container-backed AgentExecutor
// template: one long-lived container and ACP session per agent
// instance, speaking JSON-RPC over the container's stdin/stdout, with
// session/update notifications assembled into TaskResult/StreamChunk
// values.
//
// It does not ship a real coding-agent container image or drive a
// live process in this repository; it implements the contract
// faithfully enough for the task manager to exercise every transition
// (create, prompt, cancel, timeout) against a real Docker client and
// a real ACP JSON-RPC codec.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/runtime/internal/common/config"
	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/executor"
	"github.com/agentforge/runtime/pkg/acp/jsonrpc"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// Factory produces container-backed executors bound to one agent
// configuration's image/command/mount settings.
type Factory struct {
	dockerCfg config.DockerConfig
	logger    *logger.Logger
}

// NewFactory returns a TemplateFactory for the docker template. Docker
// connectivity is established lazily, on first container creation, so
// constructing the factory never touches the daemon.
func NewFactory(dockerCfg config.DockerConfig, log *logger.Logger) executor.TemplateFactory {
	return &Factory{dockerCfg: dockerCfg, logger: log}
}

// New implements executor.TemplateFactory.
func (f *Factory) New(cfg v1.AgentConfiguration) (executor.AgentExecutor, error) {
	spec, err := specFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Executor{
		dockerCfg: f.dockerCfg,
		logger:    f.logger,
		spec:      spec,
	}, nil
}

func specFromConfig(cfg v1.AgentConfiguration) (ContainerSpec, error) {
	image, _ := cfg.Configuration["image"].(string)
	if image == "" {
		return ContainerSpec{}, fmt.Errorf("docker template: agent %s configuration missing \"image\"", cfg.ID)
	}

	spec := ContainerSpec{
		Name:       "agent-runtime-" + cfg.ID + "-" + uuid.New().String()[:8],
		Image:      image,
		WorkingDir: stringField(cfg.Configuration, "working_dir"),
		Labels:     map[string]string{"agent-runtime.agent-id": cfg.ID},
	}
	if cmd, ok := cfg.Configuration["cmd"].([]interface{}); ok {
		for _, c := range cmd {
			if s, ok := c.(string); ok {
				spec.Cmd = append(spec.Cmd, s)
			}
		}
	}
	if env, ok := cfg.Configuration["env"].(map[string]interface{}); ok {
		for k, v := range env {
			spec.Env = append(spec.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if credKeys, ok := cfg.Configuration["credential_keys"].([]interface{}); ok {
		names := make([]string, 0, len(credKeys))
		for _, k := range credKeys {
			if s, ok := k.(string); ok {
				names = append(names, s)
			}
		}
		spec.Env = append(spec.Env, resolveCredentialEnv(names, "AGENTRT_")...)
	}
	if mounts, ok := cfg.Configuration["mounts"].([]interface{}); ok {
		for _, m := range mounts {
			mm, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			spec.Mounts = append(spec.Mounts, MountSpec{
				Source:   stringField(mm, "source"),
				Target:   stringField(mm, "target"),
				ReadOnly: boolField(mm, "read_only"),
			})
		}
	}
	spec.NetworkMode = stringField(cfg.Configuration, "network_mode")
	spec.Memory = int64Field(cfg.Configuration, "memory")
	spec.CPUQuota = int64Field(cfg.Configuration, "cpu_quota")

	return spec, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Executor drives one container + ACP session for every call bound to
// the same AgentInstance. The container and session are created on
// first use and kept alive across calls; the registry's per-instance
// mutex already serializes access, so the internal mutex here only
// guards the lazy-init path.
type Executor struct {
	dockerCfg config.DockerConfig
	logger    *logger.Logger
	spec      ContainerSpec

	mu          sync.Mutex
	client      *containerClient
	containerID string
	session     *acpSession
}

var _ executor.AgentExecutor = (*Executor)(nil)

// Metadata implements executor.AgentExecutor.
func (e *Executor) Metadata() executor.Metadata {
	return executor.Metadata{
		TemplateID:          "docker",
		TemplateVersion:     "v1",
		TemplateDescription: "drives an ACP-speaking agent process inside a dedicated container",
		ConfigSchema: []executor.ConfigField{
			{Name: "image", Type: "string", Required: true, Description: "container image to run"},
			{Name: "cmd", Type: "[]string", Description: "entrypoint override"},
			{Name: "env", Type: "map[string]string", Description: "environment variables"},
			{Name: "working_dir", Type: "string", Description: "container working directory"},
			{Name: "mounts", Type: "[]object", Description: "host bind mounts: source, target, read_only"},
			{Name: "network_mode", Type: "string", Description: "Docker network mode override"},
			{Name: "memory", Type: "int", Description: "memory limit in bytes"},
			{Name: "cpu_quota", Type: "int", Description: "CPU quota, microseconds per 100ms period"},
			{Name: "credential_keys", Type: "[]string", Description: "named credentials resolved from the runtime's environment and injected into the container"},
		},
	}
}

// ValidateConfig implements executor.AgentExecutor.
func (e *Executor) ValidateConfig(config map[string]interface{}) executor.ValidationResult {
	result := executor.ValidationResult{Valid: true}
	if image, ok := config["image"].(string); !ok || image == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "image is required and must be a non-empty string")
	}
	if _, ok := config["cmd"]; ok {
		if _, ok := config["cmd"].([]interface{}); !ok {
			result.Warnings = append(result.Warnings, "cmd should be an array of strings; ignoring")
		}
	}
	return result
}

// ensureSession lazily creates the container, attaches to it, and
// performs the ACP handshake. Safe to call repeatedly; it is a no-op
// once the session exists.
func (e *Executor) ensureSession(ctx context.Context) (*acpSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return e.session, nil
	}

	client, err := newContainerClient(e.dockerCfg, e.logger)
	if err != nil {
		return nil, err
	}

	containerID, err := client.createInteractive(ctx, e.spec)
	if err != nil {
		client.Close()
		return nil, err
	}
	attach, err := client.attach(ctx, containerID)
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := client.start(ctx, containerID); err != nil {
		client.Close()
		return nil, err
	}

	rpcClient := jsonrpc.NewClient(attach.Stdin, attach.Stdout, e.logger)
	session := newACPSession(rpcClient, e.logger)
	if err := session.initialize(ctx, e.spec.WorkingDir); err != nil {
		client.Close()
		return nil, err
	}

	e.client = client
	e.containerID = containerID
	e.session = session
	return session, nil
}

func lastUserContent(messages []v1.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == v1.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// drainTurn reads session/update notifications until a "complete" or
// "error" update arrives (or ctx is done), assembling the content
// chunks emitted along the way. When onChunk is non-nil it is called
// once per content update, in order, for streaming callers.
func drainTurn(ctx context.Context, session *acpSession, onChunk func(delta string)) (string, v1.FinishReason, error) {
	var builder strings.Builder
	for {
		select {
		case <-ctx.Done():
			return builder.String(), "", ctx.Err()
		case update := <-session.updates:
			switch update.Type {
			case "content":
				var content jsonrpc.SessionUpdateContent
				if err := unmarshalUpdate(update, &content); err == nil {
					builder.WriteString(content.Text)
					if onChunk != nil {
						onChunk(content.Text)
					}
				}
			case "complete":
				var complete jsonrpc.SessionUpdateComplete
				if err := unmarshalUpdate(update, &complete); err == nil && !complete.Success {
					return builder.String(), v1.FinishError, nil
				}
				return builder.String(), v1.FinishStop, nil
			case "error":
				return builder.String(), v1.FinishError, nil
			}
		}
	}
}

func unmarshalUpdate(update jsonrpc.SessionUpdate, out interface{}) error {
	return json.Unmarshal(update.Data, out)
}

// Execute implements executor.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, params executor.ExecuteParams) (*v1.TaskResult, error) {
	session, err := e.ensureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker template: %w", err)
	}

	prompt := lastUserContent(params.Messages)
	if err := session.prompt(ctx, prompt); err != nil {
		return nil, fmt.Errorf("docker template: %w", err)
	}

	content, finish, err := drainTurn(ctx, session, nil)
	if err != nil {
		if ctx.Err() != nil {
			session.cancel("deadline exceeded")
		}
		return nil, err
	}

	if finish == v1.FinishError {
		return &v1.TaskResult{
			Success:      false,
			Error:        "agent process reported a failed turn",
			FinishReason: v1.FinishError,
		}, nil
	}

	return &v1.TaskResult{
		Success: true,
		Message: &v1.ChatMessage{
			Role:      v1.RoleAssistant,
			Content:   content,
			Timestamp: time.Now(),
		},
		FinishReason: v1.FinishStop,
	}, nil
}

// StreamExecute implements executor.AgentExecutor.
func (e *Executor) StreamExecute(ctx context.Context, params executor.ExecuteParams) (<-chan v1.StreamChunk, error) {
	session, err := e.ensureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker template: %w", err)
	}

	prompt := lastUserContent(params.Messages)
	if err := session.prompt(ctx, prompt); err != nil {
		return nil, fmt.Errorf("docker template: %w", err)
	}

	ch := make(chan v1.StreamChunk, 16)
	go func() {
		defer close(ch)
		idx := 0
		_, finish, err := drainTurn(ctx, session, func(delta string) {
			select {
			case ch <- v1.StreamChunk{Content: delta, ChunkIndex: idx}:
				idx++
			case <-ctx.Done():
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				session.cancel("deadline exceeded")
			}
			select {
			case ch <- v1.StreamChunk{FinishReason: v1.FinishCancelled, ChunkIndex: idx}:
			default:
			}
			return
		}
		if finish == "" {
			finish = v1.FinishStop
		}
		select {
		case ch <- v1.StreamChunk{FinishReason: finish, ChunkIndex: idx}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Close releases the container and ACP session. Not part of
// executor.AgentExecutor: the registry has no executor-teardown hook
// today, so this is invoked only by this package's own tests; a live
// deployment reclaims containers through Docker's own lifecycle
// tooling instead.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.close()
	}
	if e.client != nil {
		if e.containerID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			e.client.stop(ctx, e.containerID)
			e.client.remove(ctx, e.containerID)
		}
		return e.client.Close()
	}
	return nil
}
