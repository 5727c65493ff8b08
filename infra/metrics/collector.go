package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/freight/core/events"
	"github.com/kilianp07/freight/internal/eventbus"
)

// EventCollector counts the dispatch events seen on the bus by kind.
type EventCollector struct {
	events *prometheus.CounterVec
}

// NewEventCollector registers the event counter on reg, or on the default
// registerer when reg is nil.
func NewEventCollector(reg prometheus.Registerer) (*EventCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "freight_bus_events_total",
		Help: "Dispatch events published on the event bus by kind",
	}, []string{"kind"})
	c, err := register(reg, c)
	if err != nil {
		return nil, err
	}
	return &EventCollector{events: c}, nil
}

// Start subscribes to bus and counts events until ctx is canceled or the bus
// is closed. The returned channel is closed once the collector stopped.
func (c *EventCollector) Start(ctx context.Context, bus eventbus.EventBus) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if kind := eventKind(ev); kind != "" {
					c.events.WithLabelValues(kind).Inc()
				}
			}
		}
	}()
	return done
}

func eventKind(ev eventbus.Event) string { return events.Kind(ev) }
