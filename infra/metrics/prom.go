package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/freight/core/metrics"
)

// PromSink records passes, reservations and lock attempts in Prometheus
// metrics.
type PromSink struct {
	passes       *prometheus.CounterVec
	deadhead     prometheus.Gauge
	reservations *prometheus.CounterVec
	locks        *prometheus.CounterVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_passes_total",
			Help: "Optimization passes by trigger and solver status",
		}, []string{"trigger", "status"}),
		deadhead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freight_plan_deadhead_miles",
			Help: "Total deadhead of the last plan",
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_reservations_total",
			Help: "Load reservation changes by action and reason",
		}, []string{"action", "reason"}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_run_lock_attempts_total",
			Help: "Run lock attempts by backend and result",
		}, []string{"backend", "acquired"}),
	}
	var err error
	if s.passes, err = register(reg, s.passes); err != nil {
		return nil, err
	}
	if s.deadhead, err = register(reg, s.deadhead); err != nil {
		return nil, err
	}
	if s.reservations, err = register(reg, s.reservations); err != nil {
		return nil, err
	}
	if s.locks, err = register(reg, s.locks); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when c is a duplicate.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordPass(res coremetrics.PassResult) error {
	s.passes.WithLabelValues(res.Trigger.String(), res.Status).Inc()
	s.deadhead.Set(res.Deadhead)
	return nil
}

func (s *PromSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	s.reservations.WithLabelValues(ev.Action, ev.Reason).Inc()
	return nil
}

func (s *PromSink) RecordLockAttempt(ev coremetrics.LockAttempt) error {
	s.locks.WithLabelValues(ev.Backend, strconv.FormatBool(ev.Acquired)).Inc()
	return nil
}
