package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
)

func newTestCoordinator(t *testing.T, run RunFunc, lock Mutex, cfg Config) *Coordinator {
	t.Helper()
	if lock == nil {
		lock = NewLocalMutex()
	}
	c, err := New(run, lock, "local", cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start()
	t.Cleanup(func() { c.Stop(time.Second) })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_NilParams(t *testing.T) {
	if _, err := New(nil, NewLocalMutex(), "local", Config{}, nil); err == nil {
		t.Fatalf("expected error for nil run")
	}
	run := func(context.Context, Request) error { return nil }
	if _, err := New(run, nil, "local", Config{}, nil); err == nil {
		t.Fatalf("expected error for nil lock")
	}
	if _, err := New(run, NewLocalMutex(), "local", Config{MinIntervalMS: -1}, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRequestRun_CoalescesWhileInFlight(t *testing.T) {
	var passes atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var seen []Request
	var mu sync.Mutex
	run := func(_ context.Context, req Request) error {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		if passes.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}
	c := newTestCoordinator(t, run, nil, Config{})

	c.RequestRun(Request{Trigger: model.TriggerManual})
	<-entered

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RequestRun(Request{Trigger: model.TriggerLoadCreated})
		}()
	}
	wg.Wait()
	c.RequestRun(Request{Trigger: model.TriggerDropoffComplete, EntityID: "L9"})
	close(release)

	waitFor(t, func() bool { return passes.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if n := passes.Load(); n != 2 {
		t.Fatalf("expected exactly 2 passes, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[1].Trigger != model.TriggerDropoffComplete || seen[1].EntityID != "L9" {
		t.Fatalf("coalesced pass should use the latest request, got %+v", seen[1])
	}
	if seen[0].CorrelationID == "" || seen[0].CorrelationID == seen[1].CorrelationID {
		t.Fatalf("each pass needs its own correlation id: %+v", seen)
	}
}

func TestRunAndWait_ReturnsAfterPass(t *testing.T) {
	var passes atomic.Int32
	run := func(context.Context, Request) error {
		passes.Add(1)
		return nil
	}
	c := newTestCoordinator(t, run, nil, Config{})
	for i := 1; i <= 3; i++ {
		if err := c.RunAndWait(context.Background(), Request{Trigger: model.TriggerManual}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n := passes.Load(); n != int32(i) {
			t.Fatalf("expected %d passes, got %d", i, n)
		}
	}
	started, completed := c.Stats()
	if started != 3 || completed != 3 {
		t.Fatalf("unexpected stats %d/%d", started, completed)
	}
}

func TestRunAndWait_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	c := newTestCoordinator(t, func(context.Context, Request) error { return boom }, nil, Config{})
	if err := c.RunAndWait(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunAndWait_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, _ Request) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	c := newTestCoordinator(t, run, nil, Config{})
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.RunAndWait(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAttempt_SkipsWhenLockBusy(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	lock := NewLocalMutex()
	if ok, _ := lock.TryLock(context.Background()); !ok {
		t.Fatalf("pre-lock failed")
	}
	var passes atomic.Int32
	c := newTestCoordinator(t, func(context.Context, Request) error { passes.Add(1); return nil }, lock, Config{})
	if err := c.RunAndWait(context.Background(), Request{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if passes.Load() != 0 {
		t.Fatalf("pass ran without the lock")
	}
	if v := testutil.ToFloat64(attempts.WithLabelValues(outcomeBusy)); v != 1 {
		t.Fatalf("expected one busy attempt, got %v", v)
	}
	if err := lock.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := c.RunAndWait(context.Background(), Request{}); err != nil {
		t.Fatalf("run after unlock: %v", err)
	}
}

type errLock struct{}

func (errLock) TryLock(context.Context) (bool, error) { return false, errors.New("connection refused") }
func (errLock) Unlock(context.Context) error          { return nil }

func TestAttempt_SkipsOnLockError(t *testing.T) {
	var passes atomic.Int32
	c := newTestCoordinator(t, func(context.Context, Request) error { passes.Add(1); return nil }, errLock{}, Config{})
	err := c.RunAndWait(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected lock error, got %v", err)
	}
	if passes.Load() != 0 {
		t.Fatalf("pass ran without the lock")
	}
}

func TestAttempt_RecoversPanic(t *testing.T) {
	var calls atomic.Int32
	run := func(context.Context, Request) error {
		if calls.Add(1) == 1 {
			panic("solver exploded")
		}
		return nil
	}
	lock := NewLocalMutex()
	c := newTestCoordinator(t, run, lock, Config{})
	err := c.RunAndWait(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "solver exploded") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if err := c.RunAndWait(context.Background(), Request{}); err != nil {
		t.Fatalf("worker did not survive panic: %v", err)
	}
}

type recordLocks struct {
	mu  sync.Mutex
	evs []metrics.LockAttempt
}

func (r *recordLocks) RecordLockAttempt(ev metrics.LockAttempt) error {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	return nil
}

func TestLockRecorder(t *testing.T) {
	c := newTestCoordinator(t, func(context.Context, Request) error { return nil }, nil, Config{})
	rec := &recordLocks{}
	c.SetLockRecorder(rec)
	if err := c.RunAndWait(context.Background(), Request{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.evs) != 1 || !rec.evs[0].Acquired || rec.evs[0].Backend != "local" {
		t.Fatalf("unexpected lock events %+v", rec.evs)
	}
}

func TestStop_CancelsAfterGrace(t *testing.T) {
	entered := make(chan struct{})
	var canceled atomic.Bool
	run := func(ctx context.Context, _ Request) error {
		close(entered)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}
	c, err := New(run, NewLocalMutex(), "local", Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start()
	c.RequestRun(Request{})
	<-entered

	start := time.Now()
	c.Stop(30 * time.Millisecond)
	if !canceled.Load() {
		t.Fatalf("in-flight pass was not canceled")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("stop returned before the grace period")
	}
	if err := c.RunAndWait(context.Background(), Request{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped, got %v", err)
	}
	c.RequestRun(Request{})
	c.Stop(time.Second)
}

func TestStop_WaitsForInFlightPass(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	run := func(ctx context.Context, _ Request) error {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}
	c, err := New(run, NewLocalMutex(), "local", Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start()
	c.RequestRun(Request{})
	<-entered
	c.Stop(time.Second)
	if !finished.Load() {
		t.Fatalf("pass should complete within the grace period")
	}
}

func TestMinInterval(t *testing.T) {
	c := newTestCoordinator(t, func(context.Context, Request) error { return nil }, nil, Config{MinIntervalMS: 40})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.RunAndWait(context.Background(), Request{}); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if el := time.Since(start); el < 75*time.Millisecond {
		t.Fatalf("passes not spaced: %s", el)
	}
}

func TestLocalMutex(t *testing.T) {
	m := NewLocalMutex()
	ctx := context.Background()
	if ok, _ := m.TryLock(ctx); !ok {
		t.Fatalf("first lock failed")
	}
	if ok, _ := m.TryLock(ctx); ok {
		t.Fatalf("second lock must fail")
	}
	if err := m.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := m.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}
