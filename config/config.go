package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/dispatch"
	"github.com/kilianp07/freight/core/dispatch/logging"
	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/infra/mqtt"
)

type Config struct {
	Dispatch    dispatch.Config    `json:"dispatch"`
	Coordinator coordinator.Config `json:"coordinator"`
	Lock        LockConfig         `json:"lock"`
	Store       StoreConfig        `json:"store"`
	Metrics     metrics.Config     `json:"metrics"`
	PlanLog     logging.Config     `json:"plan_log"`
	MQTT        mqtt.Config        `json:"mqtt"`
	Sentry      SentryConfig       `json:"sentry"`
	HTTP        HTTPConfig         `json:"http"`
}

// Load reads the file at path, applies K_ environment overrides and returns
// a validated configuration. Variables from a .env file next to the config
// (or in the working directory) are exported first and never replace
// variables already set.
func Load(path string) (*Config, error) {
	for _, f := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: in-memory
// store, local lock and no external sinks.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Coordinator.SetDefaults()
	c.Lock.SetDefaults()
	c.Store.SetDefaults()
	c.Sentry.SetDefaults()
	setPlanLogDefaults(&c.PlanLog)
}

func (c Config) Validate() error {
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Coordinator.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Lock.Validate(); err != nil {
		return err
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	if c.Lock.Type == LockPostgres && c.Store.Type != StorePostgres {
		return fmt.Errorf("lock: postgres lock requires the postgres store")
	}
	return validatePlanLog(c.PlanLog)
}
