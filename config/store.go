package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/freight/core/coordinator"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LockLocal    = "local"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type string `json:"type"`
	DSN  string `json:"dsn"`
	// Migrate creates the schema on startup.
	Migrate bool `json:"migrate"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = StoreMemory
	}
}

func (c StoreConfig) Validate() error {
	switch c.Type {
	case StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("store: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store: unknown type %s", c.Type)
	}
	return nil
}

// LockConfig selects the mutex that keeps optimization passes exclusive
// across processes.
type LockConfig struct {
	Type string `json:"type"`
	// Key is the advisory lock key. The redis lock derives its key name
	// from it.
	Key        int64  `json:"key"`
	TTLSeconds int    `json:"ttl_seconds"`
	RedisURL   string `json:"redis_url"`
}

func (c *LockConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = LockLocal
	}
	if c.Key == 0 {
		c.Key = coordinator.DefaultLockKey
	}
}

func (c LockConfig) Validate() error {
	switch c.Type {
	case LockLocal, LockPostgres:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("lock: redis_url is required for redis")
		}
	default:
		return fmt.Errorf("lock: unknown type %s", c.Type)
	}
	if c.TTLSeconds < 0 {
		return fmt.Errorf("lock: ttl_seconds must not be negative")
	}
	return nil
}

func (c LockConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }
