package manager

import (
	"context"
	"sync"
	"time"

	"sillymedia/internal/model"
)

// Lease is exclusive use of the GPU with one resident model. The holder must
// call Release when its inference ends.
type Lease struct {
	m    *Manager
	h    model.Handle
	once sync.Once
}

// Handle returns the resident handle.
func (l *Lease) Handle() model.Handle { return l.h }

// ID returns the resident model id.
func (l *Lease) ID() string { return l.h.Descriptor().ID }

// Touch refreshes the activity time; long generations call it per step.
func (l *Lease) Touch() { l.m.Touch() }

// Release ends the lease and restarts the idle timer. Safe to call twice.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.m.inflight = false
		l.m.lastActivity = l.m.now()
		l.m.mu.Unlock()
		l.m.unlock()
	})
}

// Acquire waits for the GPU, makes id the only resident model and returns a
// lease on it. The critical section is held until the lease is released.
//
// Errors: ErrModelNotFound for unknown ids, ErrModelLoad when loading fails
// (no model is current afterwards), a too-busy error when the wait queue is
// full or MaxWait elapses, ErrClosed after Close, or the context error when
// the caller gives up while queued.
func (m *Manager) Acquire(ctx context.Context, id string) (*Lease, error) {
	h, ok := m.handles[id]
	if !ok {
		return nil, ErrModelNotFound(id)
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	if err := m.lock(ctx, id); err != nil {
		return nil, err
	}
	acquireWaitSeconds.Observe(time.Since(start).Seconds())
	if m.closed.Load() {
		m.unlock()
		return nil, ErrClosed
	}
	if err := m.ensureResident(ctx, h); err != nil {
		m.unlock()
		return nil, err
	}
	m.mu.Lock()
	m.inflight = true
	m.lastActivity = m.now()
	m.mu.Unlock()
	l := &Lease{m: m, h: h}
	// The model stays resident for the next caller even if this one left
	// during the load.
	if err := ctx.Err(); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

// With runs fn while holding a lease on id.
func (m *Manager) With(ctx context.Context, id string, fn func(*Lease) error) error {
	l, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l)
}

// lock takes the gpu token, counting the caller as a waiter while it blocks.
func (m *Manager) lock(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.gpu <- struct{}{}:
		return nil
	default:
	}
	n := m.waiting.Add(1)
	defer m.waiting.Add(-1)
	if m.maxQueueDepth > 0 && n > int64(m.maxQueueDepth) {
		return tooBusyError{modelID: id, reason: "queue_full"}
	}
	var timeout <-chan time.Time
	if m.maxWait > 0 {
		timer := time.NewTimer(m.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case m.gpu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return tooBusyError{modelID: id, reason: "wait_timeout"}
	}
}

func (m *Manager) unlock() { <-m.gpu }
