package coordinator

import "github.com/prometheus/client_golang/prometheus"

// Attempt outcomes.
const (
	outcomeRan   = "ran"
	outcomeBusy  = "busy"
	outcomeError = "error"
	outcomePanic = "panic"
)

var (
	attempts  *prometheus.CounterVec
	requested prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, prometheus.Counter) {
	a := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_attempts_total",
			Help: "Optimization attempts by outcome",
		},
		[]string{"outcome"},
	)
	r := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_requests_total",
			Help: "Run requests received, coalesced or not",
		},
	)
	return a, r
}

func init() {
	attempts, requested = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers coordinator metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(attempts, requested)
}

// ResetMetrics recreates the collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	attempts, requested = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
