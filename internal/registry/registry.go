// Package registry implements the Agent Instance Registry: a
// map<SessionKey, AgentInstance> with strict lifecycle discipline,
// plus the TemplateCatalog that resolves a template_id+template_version
// pair to a factory.
//
// Grounded on the instances/byTask-style maps of the container
// lifecycle manager this package's instance cache is generalized
// from, and on the default-agent-catalog shape of the template
// registry it replaces string-keyed dynamic dispatch with.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/agentforge/runtime/internal/common/apperrors"
	"github.com/agentforge/runtime/internal/executor"
	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// AgentConfigProvider is the external "agent configuration lookup"
// collaborator (spec.md §6): find(agent_id) -> AgentConfiguration.
type AgentConfigProvider interface {
	Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error)
}

// TemplateRegistry is the external "template registry" collaborator
// (spec.md §6): resolve(template_id, template_version) -> factory.
type TemplateRegistry interface {
	Resolve(templateID, templateVersion string) (executor.TemplateFactory, error)
}

// Instance is the live, template-produced runtime object bound to a
// SessionKey. The task manager uses only Lock/Unlock and the SessionKey
// and Executor fields: it serializes execution through the lock and
// reads no other field.
type Instance struct {
	SessionKey v1.SessionKey
	AgentID    string
	SessionID  string
	Executor   executor.AgentExecutor
	CreatedAt  time.Time

	// mu is held for the duration of one Execute/StreamExecute call,
	// enforcing per-instance serialization (spec.md §4.5/§5). The
	// janitor uses TryLock to test "no task currently executing"
	// without blocking on a running instance.
	mu sync.Mutex

	lastUsedMu sync.RWMutex
	lastUsed   time.Time
}

// Lock acquires the instance's execution mutex.
func (i *Instance) Lock() { i.mu.Lock() }

// Unlock releases the instance's execution mutex.
func (i *Instance) Unlock() { i.mu.Unlock() }

// TryLock attempts to acquire the instance's execution mutex without
// blocking, reporting whether it succeeded.
func (i *Instance) TryLock() bool { return i.mu.TryLock() }

// Touch records that the instance was just used.
func (i *Instance) Touch() {
	i.lastUsedMu.Lock()
	i.lastUsed = time.Now()
	i.lastUsedMu.Unlock()
}

// LastUsed returns the instance's last-used timestamp.
func (i *Instance) LastUsed() time.Time {
	i.lastUsedMu.RLock()
	defer i.lastUsedMu.RUnlock()
	return i.lastUsed
}

func (i *Instance) snapshot() v1.AgentInstance {
	return v1.AgentInstance{
		SessionKey: i.SessionKey,
		AgentID:    i.AgentID,
		SessionID:  i.SessionID,
		CreatedAt:  i.CreatedAt,
		LastUsed:   i.LastUsed(),
	}
}

// Registry is the map<SessionKey, AgentInstance> cache. Instantiation
// is idempotent under concurrent callers for the same key: the loser
// of a creation race discards its partially constructed instance and
// returns the winner's.
type Registry struct {
	configs   AgentConfigProvider
	templates TemplateRegistry

	mu        sync.RWMutex
	instances map[v1.SessionKey]*Instance
	byAgent   map[string]map[v1.SessionKey]struct{}
}

// New creates an empty Registry backed by the given collaborators.
func New(configs AgentConfigProvider, templates TemplateRegistry) *Registry {
	return &Registry{
		configs:   configs,
		templates: templates,
		instances: make(map[v1.SessionKey]*Instance),
		byAgent:   make(map[string]map[v1.SessionKey]struct{}),
	}
}

// GetOrCreate returns the cached instance for (agentID, sessionID),
// building a fresh one on miss by resolving the agent configuration
// and its template factory. On hit, LastUsed is updated. The bool
// result reports whether this call created the instance, so callers
// can emit a creation event exactly once.
func (r *Registry) GetOrCreate(ctx context.Context, agentID, sessionID string) (*Instance, bool, error) {
	key := v1.NewSessionKey(agentID, sessionID)

	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		inst.Touch()
		return inst, false, nil
	}

	cfg, err := r.configs.Find(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	factory, err := r.templates.Resolve(cfg.TemplateID, cfg.TemplateVersion)
	if err != nil {
		return nil, false, err
	}
	ex, err := factory.New(cfg)
	if err != nil {
		return nil, false, apperrors.ExecutorError("failed to instantiate template", err)
	}

	candidate := &Instance{
		SessionKey: key,
		AgentID:    agentID,
		SessionID:  sessionID,
		Executor:   ex,
		CreatedAt:  time.Now(),
		lastUsed:   time.Now(),
	}

	r.mu.Lock()
	if existing, ok := r.instances[key]; ok {
		// Lost the creation race: discard the candidate, keep the
		// winner's instance.
		r.mu.Unlock()
		existing.Touch()
		return existing, false, nil
	}
	r.instances[key] = candidate
	if r.byAgent[agentID] == nil {
		r.byAgent[agentID] = make(map[v1.SessionKey]struct{})
	}
	r.byAgent[agentID][key] = struct{}{}
	r.mu.Unlock()

	return candidate, true, nil
}

// List returns a snapshot of every active instance for observability.
func (r *Registry) List() []v1.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]v1.AgentInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// Lookup returns the cached instance for key without creating one.
func (r *Registry) Lookup(key v1.SessionKey) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[key]
	return inst, ok
}

// Count returns the number of active instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Destroy removes key's instance. Idempotent.
func (r *Registry) Destroy(key v1.SessionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[key]
	if !ok {
		return false
	}
	delete(r.instances, key)
	if byAgent, ok := r.byAgent[inst.AgentID]; ok {
		delete(byAgent, key)
		if len(byAgent) == 0 {
			delete(r.byAgent, inst.AgentID)
		}
	}
	return true
}

// DestroyAllFor removes every instance derived from agentID, used when
// the underlying agent configuration is deleted.
func (r *Registry) DestroyAllFor(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.byAgent[agentID]
	n := len(keys)
	for key := range keys {
		delete(r.instances, key)
	}
	delete(r.byAgent, agentID)
	return n
}
