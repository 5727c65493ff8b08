package app

import (
	"context"
	"fmt"
	"io"

	"github.com/kilianp07/freight/config"
	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/infra/postgres"
	"github.com/kilianp07/freight/infra/redislock"
)

// openStore returns the configured store. The postgres store is also
// returned on its own so the advisory lock can share its pool.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, *postgres.Store, error) {
	switch cfg.Type {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DSN, cfg.Migrate)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return pg, pg, nil
	default:
		return store.NewMemoryStore(), nil, nil
	}
}

// openLock returns the run mutex and, when it owns a connection, its closer.
func openLock(cfg config.LockConfig, pg *postgres.Store) (coordinator.Mutex, io.Closer, error) {
	switch cfg.Type {
	case config.LockPostgres:
		if pg == nil {
			return nil, nil, fmt.Errorf("advisory lock requires the postgres store")
		}
		return postgres.NewAdvisoryLock(pg.DB(), cfg.Key), nil, nil
	case config.LockRedis:
		l, err := redislock.Dial(cfg.RedisURL, fmt.Sprintf("freight:optimization:%d", cfg.Key), cfg.TTL())
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return coordinator.NewLocalMutex(), nil, nil
	}
}
