package coordinator

import (
	"fmt"
	"time"
)

// Config controls pass scheduling.
type Config struct {
	// GraceSeconds is how long Stop waits for an in-flight pass. Defaults to 30.
	GraceSeconds int `json:"grace_seconds"`
	// WaitTimeoutMS bounds synchronous callers waiting on a pass. Defaults to 5000.
	WaitTimeoutMS int `json:"wait_timeout_ms"`
	// MinIntervalMS spaces consecutive passes. Zero disables spacing.
	MinIntervalMS int `json:"min_interval_ms"`
	// SweepSeconds requests a pass periodically so expired reservations are
	// released without other activity. Zero disables the sweep.
	SweepSeconds int `json:"sweep_seconds"`
}

const (
	DefaultGrace       = 30 * time.Second
	DefaultWaitTimeout = 5 * time.Second
)

func (c *Config) SetDefaults() {
	if c.GraceSeconds <= 0 {
		c.GraceSeconds = int(DefaultGrace / time.Second)
	}
	if c.WaitTimeoutMS <= 0 {
		c.WaitTimeoutMS = int(DefaultWaitTimeout / time.Millisecond)
	}
}

func (c Config) Validate() error {
	if c.MinIntervalMS < 0 {
		return fmt.Errorf("coordinator: min_interval_ms must not be negative")
	}
	if c.SweepSeconds < 0 {
		return fmt.Errorf("coordinator: sweep_seconds must not be negative")
	}
	return nil
}

func (c Config) Grace() time.Duration       { return time.Duration(c.GraceSeconds) * time.Second }
func (c Config) WaitTimeout() time.Duration { return time.Duration(c.WaitTimeoutMS) * time.Millisecond }
func (c Config) Sweep() time.Duration       { return time.Duration(c.SweepSeconds) * time.Second }
func (c Config) MinInterval() time.Duration { return time.Duration(c.MinIntervalMS) * time.Millisecond }
