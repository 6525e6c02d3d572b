// Package agentconfig implements the agent-configuration lookup
// collaborator the registry resolves instances through: Find(agent_id)
// -> AgentConfiguration. Three backends are provided (memory, sqlite,
// postgres), all satisfying registry.AgentConfigProvider plus a small
// CRUD surface for an administrative API to manage configurations.
//
// Grounded on the CRUD-over-records shape of the task repository this
// package's memory/sqlite backends are generalized from: boards/tasks
// become agent configurations, and the repository's mutex-guarded map
// / schema-init-on-open conventions carry over unchanged.
package agentconfig

import (
	"context"
	"errors"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// ErrNotFound is returned when no configuration exists for an agent_id.
var ErrNotFound = errors.New("agentconfig: not found")

// Store is the full CRUD surface over agent configurations. Find alone
// is registry.AgentConfigProvider; the rest backs an administrative API.
type Store interface {
	Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error)
	Create(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error)
	Update(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error)
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]v1.AgentConfiguration, error)
	Close() error
}
