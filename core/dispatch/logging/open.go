package logging

import "fmt"

// Open builds the store selected by cfg. It returns nil, nil when the plan
// log is disabled.
func Open(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	case "rotating":
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 50
		}
		return NewRotatingJSONLStore(cfg.Path, size, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown plan log backend %q", cfg.Backend)
	}
}
