package logging

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/freight/core/model"
)

func TestSQLiteStore_PersistQuery(t *testing.T) {
	store, err := NewSQLiteStore("file:test.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	rec := LogRecord{
		Timestamp:   time.Now(),
		Trigger:     model.TriggerLoadCreated,
		Status:      "optimal",
		Assignments: map[string][]string{"d1": {"l1"}},
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	other := LogRecord{
		Timestamp:   time.Now(),
		Trigger:     model.TriggerManual,
		Status:      "infeasible",
		Assignments: map[string][]string{},
	}
	if err := store.Append(ctx, other); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err := store.Query(ctx, LogQuery{DriverID: "d1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	out, err = store.Query(ctx, LogQuery{Status: "infeasible", Trigger: model.TriggerManual})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Trigger != model.TriggerManual {
		t.Fatalf("unexpected records %+v", out)
	}
}
