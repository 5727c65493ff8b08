package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
)

func TestPromSink_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	now := time.Now()
	if err := sink.RecordPass(coremetrics.PassResult{Trigger: model.TriggerManual, Status: "OPTIMAL", Deadhead: 42.5, Time: now}); err != nil {
		t.Fatalf("record pass: %v", err)
	}
	_ = sink.RecordReservation(coremetrics.ReservationEvent{Action: coremetrics.ActionReserved, Time: now})
	_ = sink.RecordReservation(coremetrics.ReservationEvent{Action: coremetrics.ActionReleased, Reason: "expired", Time: now})
	_ = sink.RecordReservation(coremetrics.ReservationEvent{Action: coremetrics.ActionReserved, Time: now})
	_ = sink.RecordLockAttempt(coremetrics.LockAttempt{Backend: "local", Acquired: false, Time: now})

	expected := `
# HELP freight_passes_total Optimization passes by trigger and solver status
# TYPE freight_passes_total counter
freight_passes_total{status="OPTIMAL",trigger="MANUAL"} 1
`
	if err := testutil.CollectAndCompare(sink.passes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected pass metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.deadhead); v != 42.5 {
		t.Errorf("deadhead gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.reservations.WithLabelValues("reserved", "")); v != 2 {
		t.Errorf("reserved count = %v", v)
	}
	if v := testutil.ToFloat64(sink.reservations.WithLabelValues("released", "expired")); v != 1 {
		t.Errorf("released count = %v", v)
	}
	if v := testutil.ToFloat64(sink.locks.WithLabelValues("local", "false")); v != 1 {
		t.Errorf("lock count = %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = a.RecordLockAttempt(coremetrics.LockAttempt{Backend: "redis", Acquired: true})
	if v := testutil.ToFloat64(b.locks.WithLabelValues("redis", "true")); v != 1 {
		t.Fatalf("sinks do not share collectors: %v", v)
	}
}
