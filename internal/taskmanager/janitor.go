package taskmanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/eventbus"
)

// janitorLoop periodically sweeps the registry for instances idle
// longer than IdleInstanceTTL, reclaiming them along with their
// conversation history. Grounded on the ticker/stopCh/select shape of
// the container lifecycle manager's cleanup loop.
func (m *Manager) janitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
			m.sweepStreamQueues()
		}
	}
}

// sweep destroys every instance whose last activity is older than the
// configured TTL and that is not currently executing a task. TryLock
// is used to test "no task currently executing" without blocking on a
// running instance; an instance that loses the race (a task starts
// between the staleness check and the lock attempt) is simply skipped
// until the next sweep.
func (m *Manager) sweep() {
	if m.cfg.IdleInstanceTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.IdleInstanceTTL)
	reclaimed := 0

	for _, snap := range m.registry.List() {
		if snap.LastUsed.After(cutoff) {
			continue
		}
		inst, ok := m.registry.Lookup(snap.SessionKey)
		if !ok {
			continue
		}
		if !inst.TryLock() {
			continue
		}
		stillIdle := inst.LastUsed().Before(cutoff)
		inst.Unlock()
		if !stillIdle {
			continue
		}

		m.ctxStore.Destroy(snap.SessionKey)
		if m.registry.Destroy(snap.SessionKey) {
			reclaimed++
			m.publishEvent(eventbus.EventInstanceDestroyed, map[string]interface{}{
				"agent_id":   snap.AgentID,
				"session_id": snap.SessionID,
				"reason":     "idle_timeout",
			})
		}
	}

	if reclaimed > 0 {
		m.log.Debug("janitor reclaimed idle instances", zap.Int("count", reclaimed))
	}
}

// sweepStreamQueues deletes per-stream queues nobody ever subscribed
// to: a stream created at submit time whose task completed (or whose
// consumer disconnected before the terminal chunk) is normally torn
// down by SubscribeStream's own defer, but a caller that never
// subscribed at all would otherwise leak the queue forever. A stream
// queue surviving more than one full janitor cycle with nothing
// pending on it is considered abandoned.
func (m *Manager) sweepStreamQueues() {
	m.streamMu.Lock()
	cutoff := time.Now().Add(-m.cfg.JanitorInterval)
	var stale []string
	for taskID, createdAt := range m.streamQueues {
		if createdAt.Before(cutoff) {
			stale = append(stale, taskID)
		}
	}
	m.streamMu.Unlock()

	for _, taskID := range stale {
		queueName := streamQueueName(taskID)
		stats, err := m.queue.Stats(context.Background(), queueName)
		if err != nil {
			m.streamMu.Lock()
			delete(m.streamQueues, taskID)
			m.streamMu.Unlock()
			continue
		}
		if stats.Pending > 0 || stats.Processing > 0 {
			continue
		}
		m.retireStreamQueue(taskID, queueName)
	}
}
