package manager

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"sillymedia/internal/model"
)

// ensureResident makes h the only loaded handle. The caller holds the gpu token.
func (m *Manager) ensureResident(ctx context.Context, h model.Handle) error {
	id := h.Descriptor().ID
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == id && h.Loaded() {
		m.publish("acquire_fast", id, nil)
		return nil
	}
	if evicted := m.evict(id); len(evicted) > 0 {
		m.reclaim(evicted)
	}
	if h.Loaded() {
		m.mu.Lock()
		m.current = id
		m.mu.Unlock()
		return nil
	}
	return m.load(ctx, h)
}

// evict clears current and unloads every loaded handle except keep.
func (m *Manager) evict(keep string) []model.Handle {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
	var out []model.Handle
	for _, id := range m.order {
		h := m.handles[id]
		if id == keep || !h.Loaded() {
			continue
		}
		m.unload(h, "switch")
		out = append(out, h)
	}
	return out
}

// unload never fails: an unload error is logged as a warning and the
// sequence continues.
func (m *Manager) unload(h model.Handle, reason string) {
	id := h.Descriptor().ID
	m.publish("unload_start", id, map[string]any{"reason": reason})
	start := time.Now()
	if err := h.Unload(); err != nil {
		m.log.Warn().Err(err).Str("event", "unload_warning").Str("model", id).Msg("unload failed, continuing")
		m.publish("unload_warning", id, map[string]any{"error": err.Error()})
	}
	m.unloads.Add(1)
	unloadsTotal.WithLabelValues(reason).Inc()
	residentModel.WithLabelValues(id).Set(0)
	m.log.Info().Str("event", "unload_done").Str("model", id).Str("reason", reason).Dur("took", time.Since(start)).Msg("model unloaded")
	m.publish("unload_done", id, map[string]any{"reason": reason, "duration_ms": time.Since(start).Milliseconds()})
}

// load runs detached from the caller's cancellation so a client leaving
// cannot abandon a half-loaded model.
func (m *Manager) load(ctx context.Context, h model.Handle) error {
	d := h.Descriptor()
	m.publish("load_start", d.ID, map[string]any{"estimated_vram_gb": d.EstimatedVRAMGB, "backend": d.Backend})
	m.log.Info().Str("event", "load_start").Str("model", d.ID).Float64("vram_gb", d.EstimatedVRAMGB).Msg("loading model")
	start := time.Now()
	err := h.Load(context.WithoutCancel(ctx))
	took := time.Since(start)
	if err != nil {
		m.loadFailures.Add(1)
		loadFailuresTotal.Inc()
		m.mu.Lock()
		m.current = ""
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.log.Error().Err(err).Str("event", "load_failed").Str("model", d.ID).Dur("took", took).Msg("model load failed")
		m.publish("load_failed", d.ID, map[string]any{"error": err.Error()})
		m.reclaim([]model.Handle{h})
		return ErrModelLoad(d.ID, err)
	}
	m.loads.Add(1)
	loadsTotal.Inc()
	loadDurationSeconds.Observe(took.Seconds())
	residentModel.WithLabelValues(d.ID).Set(1)
	m.mu.Lock()
	m.current = d.ID
	m.lastActivity = m.now()
	m.mu.Unlock()
	m.log.Info().Str("event", "load_done").Str("model", d.ID).Dur("took", took).Msg("model loaded")
	m.publish("load_done", d.ID, map[string]any{"duration_ms": took.Milliseconds()})
	return nil
}

// reclaim returns freed memory to the OS and asks the given handles to drop
// accelerator caches.
func (m *Manager) reclaim(hs []model.Handle) {
	runtime.GC()
	debug.FreeOSMemory()
	for _, h := range hs {
		cr, ok := h.(model.CacheReleaser)
		if !ok {
			continue
		}
		if err := cr.ReleaseCache(); err != nil {
			m.log.Debug().Err(err).Str("model", h.Descriptor().ID).Msg("release cache failed")
		}
	}
}
