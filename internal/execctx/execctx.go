// Package execctx implements the Execution Context Store: one
// ExecutionContext per SessionKey, holding conversation history,
// metadata and an activity timestamp. Grounded on the mutex-guarded
// map style of the task repository this module's registry is also
// grounded on, generalized from CRUD-over-records to append/trim over
// a bounded conversation history.
package execctx

import (
	"sync"
	"time"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

// Store maintains one ExecutionContext per SessionKey. Callers that
// hold a SessionKey's instance lock (see internal/registry) have
// exclusive access to that context's fields for the duration of the
// lock; the Store's own mutex only protects the top-level map.
type Store struct {
	mu         sync.RWMutex
	contexts   map[v1.SessionKey]*v1.ExecutionContext
	maxHistory int
}

// NewStore creates an empty context store. maxHistory <= 0 is treated
// as a floor of 1, per the turn-boundary trimming invariant.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	return &Store{
		contexts:   make(map[v1.SessionKey]*v1.ExecutionContext),
		maxHistory: maxHistory,
	}
}

// GetOrCreate returns the ExecutionContext for key, creating an empty
// one on first access.
func (s *Store) GetOrCreate(key v1.SessionKey) *v1.ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(key)
}

func (s *Store) getOrCreateLocked(key v1.SessionKey) *v1.ExecutionContext {
	ctx, ok := s.contexts[key]
	if ok {
		return ctx
	}
	ctx = &v1.ExecutionContext{
		SessionKey: key,
		Metadata:   make(map[string]interface{}),
		LastActive: time.Now(),
	}
	s.contexts[key] = ctx
	return ctx
}

// Append adds messages to the end of key's history and trims from the
// head while the history exceeds maxHistory, never cutting a turn in
// half: the first retained message after trimming is always a user
// turn start, unless that would leave fewer than one message, in
// which case the floor of 1 wins.
func (s *Store) Append(key v1.SessionKey, messages []v1.ChatMessage) {
	if len(messages) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.getOrCreateLocked(key)
	ctx.History = append(ctx.History, messages...)
	ctx.History = trimToTurnBoundary(ctx.History, s.maxHistory)
	ctx.LastActive = time.Now()
}

// Touch updates key's last-active timestamp without altering history.
func (s *Store) Touch(key v1.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.getOrCreateLocked(key)
	ctx.LastActive = time.Now()
}

// Destroy removes key's ExecutionContext entirely.
func (s *Store) Destroy(key v1.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, key)
}

// trimToTurnBoundary trims history from the head until its length is
// at most maxHistory, advancing the cut point forward to the next
// user-role message so a trimmed history never begins mid-turn. If no
// such boundary exists inside the window, the floor of 1 (the final
// message, whatever its role) wins instead.
func trimToTurnBoundary(history []v1.ChatMessage, maxHistory int) []v1.ChatMessage {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	if len(history) <= maxHistory {
		return history
	}

	cut := len(history) - maxHistory
	for cut < len(history) && history[cut].Role != v1.RoleUser {
		cut++
	}
	if cut >= len(history) {
		return history[len(history)-1:]
	}
	return history[cut:]
}
