package manager

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"sillymedia/internal/model"
)

func TestAcquireFastPathLoadsOnce(t *testing.T) {
	meter := &gpuMeter{}
	x := newFake(meter, "x")
	m, pub := newTestManager(t, ManagerConfig{}, x)

	mustAcquire(t, m, "x").Release()
	mustAcquire(t, m, "x").Release()

	if got := x.loads.Load(); got != 1 {
		t.Fatalf("expected 1 load, got %d", got)
	}
	if !contains(pub.Names("x"), "acquire_fast") {
		t.Fatalf("expected acquire_fast event, got %v", pub.Names("x"))
	}
	if st := m.Status(); st.Current != "x" || st.LoadsTotal != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestAcquireSwitchUnloadsBeforeLoad(t *testing.T) {
	meter := &gpuMeter{}
	a, b := newFake(meter, "a"), newFake(meter, "b")
	m, pub := newTestManager(t, ManagerConfig{}, a, b)

	mustAcquire(t, m, "a").Release()
	mustAcquire(t, m, "b").Release()

	if a.Loaded() || !b.Loaded() {
		t.Fatalf("expected only b loaded: a=%v b=%v", a.Loaded(), b.Loaded())
	}
	if meter.violations.Load() != 0 {
		t.Fatalf("two models were resident at once")
	}
	if a.cacheReleases.Load() == 0 {
		t.Fatalf("expected cache release on evicted handle")
	}
	names := pub.Names("")
	var unloadDone, loadStartB int = -1, -1
	for i, e := range pub.Events() {
		if e.Name == "unload_done" && e.ModelID == "a" {
			unloadDone = i
		}
		if e.Name == "load_start" && e.ModelID == "b" {
			loadStartB = i
		}
	}
	if unloadDone < 0 || loadStartB < 0 || unloadDone > loadStartB {
		t.Fatalf("expected unload of a before load of b, events: %v", names)
	}
	st := m.Status()
	if st.Current != "b" || len(st.Loaded) != 1 || st.Loaded[0] != "b" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestAcquireConcurrentNeverTwoResident(t *testing.T) {
	meter := &gpuMeter{}
	ids := []string{"a", "b", "c"}
	var fakes []*fakeHandle
	for _, id := range ids {
		f := newFake(meter, id)
		f.loadDelay = time.Millisecond
		fakes = append(fakes, f)
	}
	m, _ := newTestManager(t, ManagerConfig{MaxQueueDepth: -1}, fakes...)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ids[rand.New(rand.NewSource(int64(i))).Intn(len(ids))]
			l, err := m.Acquire(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			if l.Handle().Descriptor().ID != id || !l.Handle().Loaded() {
				errs <- errors.New("lease handle not resident")
			}
			if n := meter.resident.Load(); n != 1 {
				errs <- errors.New("resident count != 1 while holding a lease")
			}
			l.Release()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent acquire: %v", err)
	}
	if v := meter.violations.Load(); v != 0 {
		t.Fatalf("observed %d moments with two models resident", v)
	}
}

func TestConcurrentAcquireOfSameModelSwitchesOnce(t *testing.T) {
	meter := &gpuMeter{}
	a, b := newFake(meter, "a"), newFake(meter, "b")
	m, _ := newTestManager(t, ManagerConfig{}, a, b)

	held := mustAcquire(t, m, "a")
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := m.Acquire(context.Background(), "b")
			if err != nil {
				t.Errorf("Acquire(b): %v", err)
				return
			}
			l.Release()
		}()
	}
	waitFor(t, "two waiters", func() bool { return m.Status().Waiting == 2 })
	if b.loads.Load() != 0 || a.unloads.Load() != 0 {
		t.Fatalf("switch began while a was in use")
	}
	held.Release()
	wg.Wait()

	if a.unloads.Load() != 1 || b.loads.Load() != 1 {
		t.Fatalf("expected one a->b switch, got a.unloads=%d b.loads=%d", a.unloads.Load(), b.loads.Load())
	}
}

func TestLoadFailureLeavesNoCurrentModel(t *testing.T) {
	meter := &gpuMeter{}
	a, b := newFake(meter, "a"), newFake(meter, "b")
	b.setLoadErr(errOOM)
	m, pub := newTestManager(t, ManagerConfig{}, a, b)

	mustAcquire(t, m, "a").Release()
	_, err := m.Acquire(testCtx(t), "b")
	if !IsModelLoad(err) || !errors.Is(err, errOOM) {
		t.Fatalf("expected model load error wrapping OOM, got %v", err)
	}
	st := m.Status()
	if st.Current != "" || len(st.Loaded) != 0 {
		t.Fatalf("expected clean state after failed load: %+v", st)
	}
	if st.LoadFailuresTotal != 1 || st.LastError == "" {
		t.Fatalf("expected failure accounting: %+v", st)
	}
	if !contains(pub.Names("b"), "load_failed") {
		t.Fatalf("expected load_failed event")
	}

	b.setLoadErr(nil)
	mustAcquire(t, m, "b").Release()
	if m.Current() != "b" || b.loads.Load() != 1 {
		t.Fatalf("retry after failure did not load b")
	}
}

func TestUnloadFailureDoesNotBlockLoad(t *testing.T) {
	meter := &gpuMeter{}
	a, b := newFake(meter, "a"), newFake(meter, "b")
	a.unloadErr = errors.New("driver hiccup")
	m, pub := newTestManager(t, ManagerConfig{}, a, b)

	mustAcquire(t, m, "a").Release()
	mustAcquire(t, m, "b").Release()

	if m.Current() != "b" {
		t.Fatalf("expected b current, got %q", m.Current())
	}
	if !contains(pub.Names("a"), "unload_warning") {
		t.Fatalf("expected unload_warning for a, got %v", pub.Names("a"))
	}
}

func TestAcquireUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, newFake(&gpuMeter{}, "a"))
	if _, err := m.Acquire(testCtx(t), "nope"); !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestAcquireHonorsContextWhileQueued(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, newFake(&gpuMeter{}, "a"))
	held := mustAcquire(t, m, "a")
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if w := m.Status().Waiting; w != 0 {
		t.Fatalf("waiter not removed: %d", w)
	}
}

func TestAcquireQueueFull(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxQueueDepth: 1}, newFake(&gpuMeter{}, "a"))
	held := mustAcquire(t, m, "a")

	done := make(chan error, 1)
	go func() {
		l, err := m.Acquire(context.Background(), "a")
		if err == nil {
			l.Release()
		}
		done <- err
	}()
	waitFor(t, "one waiter", func() bool { return m.Status().Waiting == 1 })

	_, err := m.Acquire(testCtx(t), "a")
	if !IsTooBusy(err) || TooBusyReason(err) != "queue_full" {
		t.Fatalf("expected queue_full, got %v", err)
	}
	held.Release()
	if err := <-done; err != nil {
		t.Fatalf("queued waiter failed: %v", err)
	}
}

func TestAcquireMaxWait(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxWait: 10 * time.Millisecond}, newFake(&gpuMeter{}, "a"))
	held := mustAcquire(t, m, "a")
	defer held.Release()
	_, err := m.Acquire(testCtx(t), "a")
	if !IsTooBusy(err) || TooBusyReason(err) != "wait_timeout" {
		t.Fatalf("expected wait_timeout, got %v", err)
	}
}

func TestLoadDetachedFromCallerCancel(t *testing.T) {
	sim := model.NewSim(model.Descriptor{ID: "slow", Kind: model.KindVideo}, model.SimOptions{LoadDelay: 50 * time.Millisecond})
	m := NewWithConfig(ManagerConfig{Models: []model.Handle{sim}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
	if !sim.Loaded() || m.Current() != "slow" {
		t.Fatalf("load should complete and stay resident")
	}
	// The critical section was released.
	mustAcquire(t, m, "slow").Release()
	if sim.Loads() != 1 {
		t.Fatalf("expected a single load, got %d", sim.Loads())
	}
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, newFake(&gpuMeter{}, "a"))
	l := mustAcquire(t, m, "a")
	if !m.Status().InFlight {
		t.Fatalf("expected in_flight while holding a lease")
	}
	l.Release()
	l.Release()
	if m.Status().InFlight {
		t.Fatalf("expected not in flight after release")
	}
	mustAcquire(t, m, "a").Release()
}

func TestWithReturnsCallbackError(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, newFake(&gpuMeter{}, "a"))
	boom := errors.New("boom")
	err := m.With(testCtx(t), "a", func(l *Lease) error {
		if l.ID() != "a" {
			t.Fatalf("unexpected lease id %q", l.ID())
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if m.Status().InFlight {
		t.Fatalf("lease leaked")
	}
}
