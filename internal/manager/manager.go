package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

type Manager struct {
	handles map[string]model.Handle
	order   []string

	// gpu is the global critical section: a token is held for the whole
	// acquire, inference and release sequence, and by the reaper while it
	// unloads.
	gpu chan struct{}

	// mu guards the residency state below. It is never held across Load or
	// Unload so introspection stays non-blocking.
	mu           sync.RWMutex
	current      string
	lastActivity time.Time
	inflight     bool
	lastErr      string

	waiting      atomic.Int64
	loads        atomic.Uint64
	unloads      atomic.Uint64
	loadFailures atomic.Uint64
	closed       atomic.Bool

	idleTimeout    time.Duration
	reaperInterval time.Duration
	defaultModel   string
	maxQueueDepth  int
	maxWait        time.Duration

	publisher EventPublisher
	log       zerolog.Logger
	startTime time.Time
	now       func() time.Time
}

// New builds a Manager over handles with package defaults.
func New(handles []model.Handle, idleTimeout time.Duration, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{
		Models:       handles,
		IdleTimeout:  idleTimeout,
		DefaultModel: defaultModel,
	})
}

// Ready reports whether the manager accepts new work.
func (m *Manager) Ready() bool { return !m.closed.Load() }

// Handle returns the registered handle for id.
func (m *Manager) Handle(id string) (model.Handle, bool) {
	h, ok := m.handles[id]
	return h, ok
}

// Models returns the descriptors of every registered model in registration order.
func (m *Manager) Models() []model.Descriptor {
	out := make([]model.Descriptor, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.handles[id].Descriptor())
	}
	return out
}

// DefaultModel returns the configured default model id.
func (m *Manager) DefaultModel() string { return m.defaultModel }

// Current returns the id of the resident model, or "".
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Loaded lists the models whose handle reports loaded.
func (m *Manager) Loaded() []string {
	out := []string{}
	for _, id := range m.order {
		if m.handles[id].Loaded() {
			out = append(out, id)
		}
	}
	return out
}

// Touch refreshes the activity time so the reaper keeps the current model.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// Status is a non-blocking snapshot of the residency state.
func (m *Manager) Status() types.StatusResponse {
	loaded := m.Loaded()
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	idle := 0.0
	if m.current != "" && !m.inflight {
		idle = now.Sub(m.lastActivity).Seconds()
	}
	return types.StatusResponse{
		Current:            m.current,
		Loaded:             loaded,
		InFlight:           m.inflight,
		Waiting:            m.waiting.Load(),
		IdleSeconds:        idle,
		IdleTimeoutSeconds: int(m.idleTimeout / time.Second),
		LoadsTotal:         m.loads.Load(),
		UnloadsTotal:       m.unloads.Load(),
		LoadFailuresTotal:  m.loadFailures.Load(),
		LastError:          m.lastErr,
		UptimeSeconds:      int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:     now.Unix(),
	}
}
