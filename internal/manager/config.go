package manager

import (
	"time"

	"github.com/rs/zerolog"

	"sillymedia/internal/model"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth  = 32
	defaultReaperInterval = 5 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Models []model.Handle
	// IdleTimeout of zero disables idle unloading.
	IdleTimeout    time.Duration
	ReaperInterval time.Duration
	DefaultModel   string
	// MaxQueueDepth bounds the callers waiting for the GPU; <0 means unbounded.
	MaxQueueDepth int
	// MaxWait bounds the time spent waiting for the GPU; zero waits until the
	// caller's context ends.
	MaxWait   time.Duration
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		handles:      make(map[string]model.Handle, len(cfg.Models)),
		gpu:          make(chan struct{}, 1),
		idleTimeout:  cfg.IdleTimeout,
		defaultModel: cfg.DefaultModel,
		maxWait:      cfg.MaxWait,
		publisher:    cfg.Publisher,
		now:          time.Now,
	}
	for _, h := range cfg.Models {
		id := h.Descriptor().ID
		if _, dup := m.handles[id]; dup {
			continue
		}
		m.handles[id] = h
		m.order = append(m.order, id)
	}
	switch {
	case cfg.MaxQueueDepth == 0:
		m.maxQueueDepth = defaultMaxQueueDepth
	case cfg.MaxQueueDepth < 0:
		m.maxQueueDepth = 0
	default:
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.ReaperInterval <= 0 {
		m.reaperInterval = defaultReaperInterval
	} else {
		m.reaperInterval = cfg.ReaperInterval
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "gpu").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	m.startTime = m.now()
	m.lastActivity = m.startTime
	return m
}
