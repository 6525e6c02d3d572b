package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCredentialEnvDirectMatch(t *testing.T) {
	t.Setenv("MY_KEY", "value-1")
	out := resolveCredentialEnv([]string{"MY_KEY"}, "AGENTRT_")
	assert.Equal(t, []string{"MY_KEY=value-1"}, out)
}

func TestResolveCredentialEnvPrefixedMatch(t *testing.T) {
	t.Setenv("AGENTRT_MY_KEY", "value-2")
	out := resolveCredentialEnv([]string{"MY_KEY"}, "AGENTRT_")
	assert.Equal(t, []string{"MY_KEY=value-2"}, out)
}

func TestResolveCredentialEnvSkipsUnset(t *testing.T) {
	out := resolveCredentialEnv([]string{"TOTALLY_UNSET_KEY"}, "AGENTRT_")
	assert.Empty(t, out)
}
