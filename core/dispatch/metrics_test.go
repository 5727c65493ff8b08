package dispatch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	// touch metrics so they are exported
	passDuration.WithLabelValues("MANUAL").Observe(0.1)
	solveStatus.WithLabelValues("optimal").Inc()
	planDeadhead.Set(12)
	reconcileActions.WithLabelValues("assign").Inc()
	reconcileConflicts.Inc()
	expiredHolds.Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[*mf.Name] = true
	}
	expected := []string{
		"dispatch_pass_duration_seconds",
		"dispatch_solve_status_total",
		"dispatch_plan_deadhead_miles",
		"dispatch_reconcile_actions_total",
		"dispatch_reconcile_conflicts_total",
		"dispatch_expired_reservations_total",
	}
	for _, n := range expected {
		if !names[n] {
			t.Errorf("metric %s not registered", n)
		}
	}
}
