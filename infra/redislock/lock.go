// Package redislock provides a coordinator.Mutex on a single Redis key.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/freight/core/coordinator"
)

// DefaultTTL bounds how long a crashed holder keeps the lock.
const DefaultTTL = 60 * time.Second

// DefaultKey derives from the application lock key so all backends agree.
var DefaultKey = fmt.Sprintf("freight:optimization:%d", coordinator.DefaultLockKey)

// release deletes the key only if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock holds the key with SET NX PX. The TTL must exceed the longest pass.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration

	mu    sync.Mutex
	token string
}

// New creates a lock. Empty key and zero ttl use the defaults.
func New(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// Dial parses a redis:// URL and returns a lock on a new client.
func Dial(url, key string, ttl time.Duration) (*Lock, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redislock: parse url: %w", err)
	}
	return New(redis.NewClient(opt), key, ttl), nil
}

func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return false, nil
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: set: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Unlock releases the key. It returns coordinator.ErrNotHeld when the key
// expired or was taken over in the meantime.
func (l *Lock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == "" {
		return coordinator.ErrNotHeld
	}
	token := l.token
	l.token = ""
	n, err := release.Run(ctx, l.rdb, []string{l.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redislock: release: %w", err)
	}
	if n == 0 {
		return coordinator.ErrNotHeld
	}
	return nil
}

func (l *Lock) Close() error { return l.rdb.Close() }
