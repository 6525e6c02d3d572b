package agentconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

func testConfig(id string) v1.AgentConfiguration {
	return v1.AgentConfiguration{
		ID:              id,
		Name:            "Test Agent",
		TemplateID:      "echo",
		TemplateVersion: "v1",
		Configuration:   map[string]interface{}{"k": "v"},
	}
}

// testStoreCRUD exercises the full Store contract against any backend,
// so each concrete implementation's test only needs to construct one
// and hand it here.
func testStoreCRUD(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	created, err := s.Create(ctx, v1.AgentConfiguration{
		ID:              "agent-1",
		Name:            "Agent One",
		TemplateID:      "echo",
		TemplateVersion: "v1",
		Configuration:   map[string]interface{}{"greeting": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", created.ID)

	found, err := s.Find(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Agent One", found.Name)
	assert.Equal(t, "hi", found.Configuration["greeting"])

	found.Name = "Renamed Agent"
	updated, err := s.Update(ctx, found)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Agent", updated.Name)

	refound, err := s.Find(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Agent", refound.Name)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, "agent-1"))
	_, err = s.Find(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "agent-1"), ErrNotFound)
	_, err = s.Update(ctx, v1.AgentConfiguration{ID: "agent-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}
