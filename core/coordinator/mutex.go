package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultLockKey identifies the optimization run across processes.
const DefaultLockKey int64 = 884422

// ErrNotHeld is returned by Unlock when the lock is not held by the caller.
var ErrNotHeld = errors.New("coordinator: lock not held")

// Mutex is a non-blocking lock guarding optimization passes. TryLock reports
// false when another holder owns the lock.
type Mutex interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LocalMutex serializes passes within a single process.
type LocalMutex struct {
	mu   sync.Mutex
	held atomic.Bool
}

func NewLocalMutex() *LocalMutex { return &LocalMutex{} }

func (m *LocalMutex) TryLock(context.Context) (bool, error) {
	if !m.mu.TryLock() {
		return false, nil
	}
	m.held.Store(true)
	return true, nil
}

func (m *LocalMutex) Unlock(context.Context) error {
	if !m.held.CompareAndSwap(true, false) {
		return ErrNotHeld
	}
	m.mu.Unlock()
	return nil
}
