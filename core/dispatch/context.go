package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
)

// OptimizationContext is the snapshot a pass is computed from. It is rebuilt
// from storage on every run.
type OptimizationContext struct {
	Trigger    model.Trigger
	EntityID   string
	Now        time.Time
	Drivers    []store.EligibleDriver
	Assignable []model.Load
	Protected  []model.Load
}

// DriverIDs returns the eligible driver ids in snapshot order.
func (c *OptimizationContext) DriverIDs() []string {
	out := make([]string, len(c.Drivers))
	for i, d := range c.Drivers {
		out[i] = d.ID
	}
	return out
}

// LoadIDs returns the assignable load ids in snapshot order.
func (c *OptimizationContext) LoadIDs() []string {
	out := make([]string, len(c.Assignable))
	for i, l := range c.Assignable {
		out[i] = l.ID
	}
	return out
}

// ShiftFor returns the active shift of an eligible driver.
func (c *OptimizationContext) ShiftFor(driverID string) string {
	for _, d := range c.Drivers {
		if d.ID == driverID {
			return d.ShiftID
		}
	}
	return ""
}

func (c *OptimizationContext) drivers() []model.Driver {
	out := make([]model.Driver, len(c.Drivers))
	for i, d := range c.Drivers {
		out[i] = d.Driver
	}
	return out
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that passes carry into logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
