package agentconfig

import (
	"context"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// MemoryStore is the in-memory Store backend: a mutex-guarded map
// keyed by agent ID.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]v1.AgentConfiguration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]v1.AgentConfiguration)}
}

// Find implements Store.
func (s *MemoryStore) Find(ctx context.Context, agentID string) (v1.AgentConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[agentID]
	if !ok {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	return cfg, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, cfg v1.AgentConfiguration) (v1.AgentConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.ID]; !ok {
		return v1.AgentConfiguration{}, ErrNotFound
	}
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[agentID]; !ok {
		return ErrNotFound
	}
	delete(s.configs, agentID)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]v1.AgentConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]v1.AgentConfiguration, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }
