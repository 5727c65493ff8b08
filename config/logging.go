package config

import (
	"fmt"

	"github.com/kilianp07/freight/core/dispatch/logging"
)

func setPlanLogDefaults(c *logging.Config) {
	if c.Backend == "" {
		return
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "plans.db"
		default:
			c.Path = "plans.jsonl"
		}
	}
}

func validatePlanLog(c logging.Config) error {
	switch c.Backend {
	case "", "jsonl", "rotating", "sqlite":
	default:
		return fmt.Errorf("plan_log: unknown backend %s", c.Backend)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("plan_log: rotation limits must not be negative")
	}
	return nil
}
