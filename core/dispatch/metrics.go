package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	passDuration       *prometheus.HistogramVec
	solveStatus        *prometheus.CounterVec
	planDeadhead       prometheus.Gauge
	reconcileActions   *prometheus.CounterVec
	reconcileConflicts prometheus.Counter
	expiredHolds       prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Gauge, *prometheus.CounterVec, prometheus.Counter, prometheus.Counter) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_pass_duration_seconds",
			Help:    "Duration of optimization passes from expiry sweep to reconcile",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
	status := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_solve_status_total",
			Help: "Number of solves by outcome",
		},
		[]string{"status"},
	)
	deadhead := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_plan_deadhead_miles",
			Help: "Total deadhead miles of the last plan",
		},
	)
	actions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_reconcile_actions_total",
			Help: "Reservation changes applied while reconciling plans",
		},
		[]string{"action"},
	)
	conflicts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_reconcile_conflicts_total",
			Help: "Conditional writes rejected because state changed concurrently",
		},
	)
	expired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_expired_reservations_total",
			Help: "Reservations reverted by the expiry sweep",
		},
	)
	return dur, status, deadhead, actions, conflicts, expired
}

func init() {
	passDuration, solveStatus, planDeadhead, reconcileActions, reconcileConflicts, expiredHolds = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(passDuration, solveStatus, planDeadhead, reconcileActions, reconcileConflicts, expiredHolds)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	passDuration, solveStatus, planDeadhead, reconcileActions, reconcileConflicts, expiredHolds = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
