package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/kilianp07/freight/core/coordinator"
)

// AdvisoryLock is a coordinator.Mutex on a session-level advisory lock. The
// lock lives on one pooled connection which is kept out of the pool while
// held.
type AdvisoryLock struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLock returns a lock on key. A zero key uses
// coordinator.DefaultLockKey.
func NewAdvisoryLock(db *sql.DB, key int64) *AdvisoryLock {
	if key == 0 {
		key = coordinator.DefaultLockKey
	}
	return &AdvisoryLock{db: db, key: key}
}

func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("postgres: try advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return coordinator.ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	var ok bool
	err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&ok)
	// On failure the session is discarded so the lock dies with it.
	if err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = conn.Close()
		return fmt.Errorf("postgres: advisory unlock: %w", err)
	}
	if cerr := conn.Close(); cerr != nil {
		return cerr
	}
	if !ok {
		return coordinator.ErrNotHeld
	}
	return nil
}
