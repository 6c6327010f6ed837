package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sillymedia/internal/model"
)

// gpuMeter counts loaded fake handles and records any moment where more than
// one was resident.
type gpuMeter struct {
	resident   atomic.Int64
	violations atomic.Int64
}

// fakeHandle is a recording model handle sharing a gpuMeter with its peers.
type fakeHandle struct {
	id        string
	meter     *gpuMeter
	loadDelay time.Duration

	mu        sync.Mutex
	loadErr   error
	unloadErr error

	loaded        atomic.Bool
	loads         atomic.Int64
	unloads       atomic.Int64
	cacheReleases atomic.Int64
}

func newFake(meter *gpuMeter, id string) *fakeHandle {
	return &fakeHandle{id: id, meter: meter}
}

func (f *fakeHandle) Descriptor() model.Descriptor {
	return model.Descriptor{ID: f.id, Kind: model.KindImage, EstimatedVRAMGB: 10, Backend: "fake"}
}

func (f *fakeHandle) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *fakeHandle) Load(ctx context.Context) error {
	if f.meter.resident.Add(1) > 1 {
		f.meter.violations.Add(1)
	}
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	f.mu.Lock()
	err := f.loadErr
	f.mu.Unlock()
	if err != nil {
		f.meter.resident.Add(-1)
		return err
	}
	f.loads.Add(1)
	f.loaded.Store(true)
	return nil
}

func (f *fakeHandle) Unload() error {
	if f.loaded.Swap(false) {
		f.meter.resident.Add(-1)
		f.unloads.Add(1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloadErr
}

func (f *fakeHandle) Loaded() bool { return f.loaded.Load() }

func (f *fakeHandle) ReleaseCache() error {
	f.cacheReleases.Add(1)
	return nil
}

var errOOM = errors.New("CUDA out of memory")

// fakeClock is a settable time source for reaper tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestManager builds a manager over the given fakes with a memory publisher.
func newTestManager(t *testing.T, cfg ManagerConfig, fakes ...*fakeHandle) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	for _, f := range fakes {
		cfg.Models = append(cfg.Models, f)
	}
	cfg.Publisher = pub
	return NewWithConfig(cfg), pub
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func mustAcquire(t *testing.T, m *Manager, id string) *Lease {
	t.Helper()
	l, err := m.Acquire(testCtx(t), id)
	if err != nil {
		t.Fatalf("Acquire(%s): %v", id, err)
	}
	return l
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
