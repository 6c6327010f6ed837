package manager

import (
	"context"

	"sillymedia/internal/model"
)

// Preload makes the default model resident. Failures are logged and returned;
// the server keeps running and loads on first use.
func (m *Manager) Preload(ctx context.Context) error {
	if m.defaultModel == "" {
		return nil
	}
	l, err := m.Acquire(ctx, m.defaultModel)
	if err != nil {
		m.log.Warn().Err(err).Str("model", m.defaultModel).Msg("preload failed")
		return err
	}
	l.Release()
	m.log.Info().Str("model", m.defaultModel).Msg("preloaded default model")
	return nil
}

// UnloadAll waits for the GPU and unloads every loaded model. It returns the
// ids that were unloaded.
func (m *Manager) UnloadAll(ctx context.Context) ([]string, error) {
	if err := m.lock(ctx, ""); err != nil {
		return nil, err
	}
	defer m.unlock()
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
	ids := []string{}
	var hs []model.Handle
	for _, id := range m.order {
		h := m.handles[id]
		if !h.Loaded() {
			continue
		}
		m.unload(h, "operator")
		ids = append(ids, id)
		hs = append(hs, h)
	}
	if len(hs) > 0 {
		m.reclaim(hs)
	}
	return ids, nil
}

// Close rejects new acquires, waits for the current lease and unloads
// everything. Subsequent calls are no-ops.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, err := m.UnloadAll(ctx)
	return err
}
