// Package coordinator schedules optimization passes. Requests coalesce into a
// single dirty flag drained by one worker, and each pass runs under a
// non-blocking cross-process lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/monitoring"
)

var (
	// ErrBusy is returned to waiters when the lock was held elsewhere.
	ErrBusy = errors.New("coordinator: optimization already running")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("coordinator: stopped")
)

const unlockTimeout = 5 * time.Second

// Request describes why a pass is wanted.
type Request struct {
	Trigger       model.Trigger
	EntityID      string
	CorrelationID string
}

// RunFunc performs one optimization pass.
type RunFunc func(ctx context.Context, req Request) error

// Coordinator runs at most one pass at a time and guarantees that a request
// made while a pass is in flight is followed by exactly one more pass.
type Coordinator struct {
	run     RunFunc
	lock    Mutex
	backend string
	log     logger.Logger
	limiter *rate.Limiter
	locks   metrics.LockRecorder

	dirty atomic.Bool
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
	start sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   Request
	started   uint64
	completed uint64
	lastErr   error
	changed   chan struct{}
	stopped   bool
}

// New creates a coordinator. backend names the lock implementation in
// metrics. The worker starts with Start.
func New(run RunFunc, lock Mutex, backend string, cfg Config, log logger.Logger) (*Coordinator, error) {
	if run == nil || lock == nil {
		return nil, fmt.Errorf("coordinator: nil parameter provided to New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		run:     run,
		lock:    lock,
		backend: backend,
		log:     logger.OrNop(log),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
	if iv := cfg.MinInterval(); iv > 0 {
		c.limiter = rate.NewLimiter(rate.Every(iv), 1)
	}
	return c, nil
}

// SetLockRecorder reports every lock attempt to r.
func (c *Coordinator) SetLockRecorder(r metrics.LockRecorder) {
	c.mu.Lock()
	c.locks = r
	c.mu.Unlock()
}

// Start launches the worker. Calling it more than once has no effect.
func (c *Coordinator) Start() {
	c.start.Do(func() { go c.loop() })
}

// RequestRun asks for a pass without waiting for it. Requests arriving while
// one is already pending are merged; the latest trigger wins.
func (c *Coordinator) RequestRun(req Request) {
	requested.Inc()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.log.Debugf("run request %s ignored: coordinator stopped", req.Trigger)
		return
	}
	c.pending = req
	c.mu.Unlock()
	if c.dirty.CompareAndSwap(false, true) {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// RunAndWait requests a pass and blocks until an attempt that started after
// the call has finished. It returns that attempt's error, ErrBusy when the
// lock was held elsewhere, or the context error.
func (c *Coordinator) RunAndWait(ctx context.Context, req Request) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	target := c.started + 1
	c.mu.Unlock()

	c.RequestRun(req)
	for {
		c.mu.Lock()
		if c.completed >= target {
			err := c.lastErr
			c.mu.Unlock()
			return err
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrStopped
		}
	}
}

// Stop stops accepting requests and waits up to grace for the in-flight pass
// before canceling it. A zero grace uses DefaultGrace.
func (c *Coordinator) Stop(grace time.Duration) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	if grace <= 0 {
		grace = DefaultGrace
	}
	// Start the worker if it never ran so done is always closed.
	c.Start()
	close(c.quit)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.log.Warnf("optimization pass still running after %s, canceling", grace)
		c.cancel()
		<-c.done
	}
	c.cancel()
}

// Stats returns how many attempts started and completed.
func (c *Coordinator) Stats() (started, completed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.completed
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}
		for c.dirty.CompareAndSwap(true, false) {
			if c.limiter != nil {
				if err := c.limiter.Wait(c.ctx); err != nil {
					return
				}
			}
			c.mu.Lock()
			req := c.pending
			c.started++
			c.mu.Unlock()

			err := c.attempt(req)

			c.mu.Lock()
			c.completed++
			c.lastErr = err
			close(c.changed)
			c.changed = make(chan struct{})
			c.mu.Unlock()

			select {
			case <-c.quit:
				return
			default:
			}
		}
	}
}

func (c *Coordinator) attempt(req Request) (err error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	ok, err := c.lock.TryLock(c.ctx)
	c.recordLock(ok && err == nil)
	switch {
	case err != nil:
		attempts.WithLabelValues(outcomeError).Inc()
		c.log.Warnf("run lock unavailable, skipping pass %s: %v", req.CorrelationID, err)
		return fmt.Errorf("try lock: %w", err)
	case !ok:
		attempts.WithLabelValues(outcomeBusy).Inc()
		c.log.Debugf("run lock busy, skipping pass %s", req.CorrelationID)
		return ErrBusy
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if uerr := c.lock.Unlock(ctx); uerr != nil {
			c.log.Errorf("release run lock: %v", uerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			attempts.WithLabelValues(outcomePanic).Inc()
			err = monitoring.CapturePanic(r, map[string]string{
				"module":         "coordinator",
				"trigger":        req.Trigger.String(),
				"correlation_id": req.CorrelationID,
			})
			c.log.Errorf("optimization pass %s panicked: %v", req.CorrelationID, err)
		}
	}()

	c.log.Debugw("optimization pass starting", map[string]any{
		"trigger":        req.Trigger.String(),
		"entity_id":      req.EntityID,
		"correlation_id": req.CorrelationID,
	})
	if err = c.run(c.ctx, req); err != nil {
		attempts.WithLabelValues(outcomeError).Inc()
		c.log.Errorf("optimization pass %s failed: %v", req.CorrelationID, err)
		if !errors.Is(err, context.Canceled) {
			monitoring.CaptureException(err, map[string]string{"module": "coordinator", "trigger": req.Trigger.String()})
		}
		return err
	}
	attempts.WithLabelValues(outcomeRan).Inc()
	return nil
}

func (c *Coordinator) recordLock(acquired bool) {
	c.mu.Lock()
	r := c.locks
	c.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.RecordLockAttempt(metrics.LockAttempt{Backend: c.backend, Acquired: acquired, Time: time.Now()}); err != nil {
		c.log.Errorf("lock metrics error: %v", err)
	}
}
