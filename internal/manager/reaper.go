package manager

import (
	"context"
	"time"

	"sillymedia/internal/model"
)

// Run checks for an idle model every reaper interval until ctx ends. With
// idle unloading off it only waits for ctx.
func (m *Manager) Run(ctx context.Context) error {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(m.reaperInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.reapIdle()
		}
	}
}

// reapIdle unloads the current model when nothing holds the GPU and the last
// activity is older than the idle timeout. It never waits for the critical
// section: a held token means a generation is running.
func (m *Manager) reapIdle() bool {
	if m.idleTimeout <= 0 {
		return false
	}
	select {
	case m.gpu <- struct{}{}:
	default:
		return false
	}
	defer m.unlock()

	m.mu.Lock()
	cur, last, busy := m.current, m.lastActivity, m.inflight
	idle := m.now().Sub(last)
	if cur == "" || busy || idle <= m.idleTimeout {
		m.mu.Unlock()
		return false
	}
	m.current = ""
	m.mu.Unlock()

	h := m.handles[cur]
	m.log.Info().Str("event", "idle_unload").Str("model", cur).Dur("idle", idle).Msg("unloading idle model")
	m.publish("idle_unload", cur, map[string]any{"idle_seconds": idle.Seconds()})
	m.unload(h, "idle")
	m.reclaim([]model.Handle{h})
	return true
}
