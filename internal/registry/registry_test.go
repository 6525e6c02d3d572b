package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/executor"
	"github.com/agentforge/runtime/internal/templates/echo"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

type staticConfigs struct {
	byID map[string]v1.AgentConfiguration
}

func (s staticConfigs) Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error) {
	cfg, ok := s.byID[agentID]
	if !ok {
		return v1.AgentConfiguration{}, errNotFound{agentID}
	}
	return cfg, nil
}

type errNotFound struct{ id string }

func (e errNotFound) Error() string { return "agent not found: " + e.id }

func newTestRegistry() *Registry {
	catalog := NewTemplateCatalog()
	catalog.Register("echo", "v1", echo.NewFactory())
	configs := staticConfigs{byID: map[string]v1.AgentConfiguration{
		"a1": {ID: "a1", TemplateID: "echo", TemplateVersion: "v1"},
	}}
	return New(configs, catalog)
}

func TestGetOrCreateCachesByAgentAndSession(t *testing.T) {
	reg := newTestRegistry()

	i1, created1, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)
	require.True(t, created1)
	i2, created2, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)
	require.False(t, created2)

	assert.Same(t, i1, i2)
	assert.Equal(t, 1, reg.Count())
}

func TestGetOrCreateDistinguishesSessions(t *testing.T) {
	reg := newTestRegistry()

	i1, _, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)
	i2, _, err := reg.GetOrCreate(context.Background(), "a1", "s2")
	require.NoError(t, err)

	assert.NotSame(t, i1, i2)
	assert.Equal(t, 2, reg.Count())
}

func TestGetOrCreateUnknownAgentFails(t *testing.T) {
	reg := newTestRegistry()
	_, _, err := reg.GetOrCreate(context.Background(), "missing", "s1")
	assert.Error(t, err)
}

func TestConcurrentFirstCreationYieldsOneInstance(t *testing.T) {
	reg := newTestRegistry()

	const n = 32
	results := make([]*Instance, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			inst, _, err := reg.GetOrCreate(context.Background(), "a1", "shared")
			require.NoError(t, err)
			results[i] = inst
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		assert.Same(t, first, r)
	}
	assert.Equal(t, 1, reg.Count())
}

func TestDestroyIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	_, _, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)

	key := v1.NewSessionKey("a1", "s1")
	assert.True(t, reg.Destroy(key))
	assert.False(t, reg.Destroy(key))
	assert.Equal(t, 0, reg.Count())
}

func TestDestroyAllForRemovesAllSessionsOfAgent(t *testing.T) {
	reg := newTestRegistry()
	_, _, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)
	_, _, err = reg.GetOrCreate(context.Background(), "a1", "s2")
	require.NoError(t, err)

	n := reg.DestroyAllFor("a1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, reg.Count())
}

func TestInstanceTryLockReflectsRunningState(t *testing.T) {
	reg := newTestRegistry()
	inst, _, err := reg.GetOrCreate(context.Background(), "a1", "s1")
	require.NoError(t, err)

	inst.Lock()
	assert.False(t, inst.TryLock())
	inst.Unlock()
	assert.True(t, inst.TryLock())
	inst.Unlock()
}

var _ executor.AgentExecutor = (*echo.Executor)(nil)
