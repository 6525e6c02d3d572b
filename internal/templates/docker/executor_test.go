package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

func TestSpecFromConfigRequiresImage(t *testing.T) {
	_, err := specFromConfig(v1.AgentConfiguration{ID: "a1", Configuration: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestSpecFromConfigParsesFields(t *testing.T) {
	cfg := v1.AgentConfiguration{
		ID: "a1",
		Configuration: map[string]interface{}{
			"image":       "agent-image:latest",
			"cmd":         []interface{}{"run", "--flag"},
			"env":         map[string]interface{}{"FOO": "bar"},
			"working_dir": "/workspace",
			"mounts": []interface{}{
				map[string]interface{}{"source": "/host", "target": "/container", "read_only": true},
			},
			"network_mode": "bridge",
			"memory":       float64(134217728),
			"cpu_quota":    float64(50000),
		},
	}

	spec, err := specFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "agent-image:latest", spec.Image)
	assert.Equal(t, []string{"run", "--flag"}, spec.Cmd)
	assert.Contains(t, spec.Env, "FOO=bar")
	assert.Equal(t, "/workspace", spec.WorkingDir)
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "/host", spec.Mounts[0].Source)
	assert.True(t, spec.Mounts[0].ReadOnly)
	assert.Equal(t, "bridge", spec.NetworkMode)
	assert.Equal(t, int64(134217728), spec.Memory)
	assert.Equal(t, int64(50000), spec.CPUQuota)
	assert.Equal(t, "a1", spec.Labels["agent-runtime.agent-id"])
}

func TestSpecFromConfigResolvesCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")

	cfg := v1.AgentConfiguration{
		ID: "a1",
		Configuration: map[string]interface{}{
			"image":           "agent-image:latest",
			"credential_keys": []interface{}{"OPENAI_API_KEY"},
		},
	}

	spec, err := specFromConfig(cfg)
	require.NoError(t, err)
	assert.Contains(t, spec.Env, "OPENAI_API_KEY=sk-test-123")
}

func TestExecutorValidateConfig(t *testing.T) {
	e := &Executor{}

	result := e.ValidateConfig(map[string]interface{}{"image": "agent-image:latest"})
	assert.True(t, result.Valid)

	result = e.ValidateConfig(map[string]interface{}{})
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestExecutorMetadata(t *testing.T) {
	e := &Executor{}
	meta := e.Metadata()
	assert.Equal(t, "docker", meta.TemplateID)
	assert.Equal(t, "v1", meta.TemplateVersion)
	assert.NotEmpty(t, meta.ConfigSchema)
}

func TestLastUserContentPicksMostRecentUserMessage(t *testing.T) {
	messages := []v1.ChatMessage{
		{Role: v1.RoleUser, Content: "first"},
		{Role: v1.RoleAssistant, Content: "reply"},
		{Role: v1.RoleUser, Content: "second"},
	}
	assert.Equal(t, "second", lastUserContent(messages))
}

func TestLastUserContentEmptyWhenNoUserMessage(t *testing.T) {
	messages := []v1.ChatMessage{{Role: v1.RoleAssistant, Content: "hi"}}
	assert.Equal(t, "", lastUserContent(messages))
}
