package logging

import (
	"context"
	"time"

	"github.com/kilianp07/freight/core/model"
)

// LogRecord captures one optimization pass and the changes it made.
type LogRecord struct {
	Timestamp      time.Time           `json:"timestamp"`
	CorrelationID  string              `json:"correlation_id,omitempty"`
	Trigger        model.Trigger       `json:"trigger"`
	EntityID       string              `json:"entity_id,omitempty"`
	Status         string              `json:"status"`
	Drivers        int                 `json:"drivers"`
	Loads          int                 `json:"loads"`
	TotalDeadhead  float64             `json:"total_deadhead"`
	GreedyDeadhead float64             `json:"greedy_deadhead"`
	Assignments    map[string][]string `json:"assignments"`
	Changes        []Change            `json:"changes,omitempty"`
	Expired        []string            `json:"expired,omitempty"`
	Conflicts      int                 `json:"conflicts"`
	DurationMS     int64               `json:"duration_ms"`
}

// Change mirrors a reconcile action for logging purposes.
type Change struct {
	Kind       string `json:"kind"`
	LoadID     string `json:"load_id"`
	FromDriver string `json:"from_driver,omitempty"`
	ToDriver   string `json:"to_driver,omitempty"`
	Applied    bool   `json:"applied"`
}

// LogQuery defines filters for retrieving records.
type LogQuery struct {
	Start    time.Time
	End      time.Time
	DriverID string
	Trigger  model.Trigger
	Status   string
}

// Match reports whether r satisfies every filter set on q.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Trigger != "" && r.Trigger != q.Trigger {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.DriverID == "" {
		return true
	}
	if _, ok := r.Assignments[q.DriverID]; ok {
		return true
	}
	for _, c := range r.Changes {
		if c.FromDriver == q.DriverID || c.ToDriver == q.DriverID {
			return true
		}
	}
	return false
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Config selects the plan log backend. Backend is one of "", "jsonl",
// "rotating" or "sqlite"; empty disables the log.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}
