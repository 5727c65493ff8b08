package simulator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/freight/core/dispatch"
	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
)

// Report compares one optimization pass with the greedy baseline.
type Report struct {
	Status         string              `json:"status"`
	Drivers        int                 `json:"drivers"`
	Loads          int                 `json:"loads"`
	Deadhead       float64             `json:"deadhead"`
	GreedyDeadhead float64             `json:"greedy_deadhead"`
	GreedyUnserved int                 `json:"greedy_unserved"`
	Assignments    map[string][]string `json:"assignments"`
	Unserved       []string            `json:"unserved,omitempty"`
	Reserved       int                 `json:"reserved"`
	Elapsed        time.Duration       `json:"elapsed"`
}

// Savings is the deadhead the optimizer saved over greedy, in miles.
func (r Report) Savings() float64 { return r.GreedyDeadhead - r.Deadhead }

// Run seeds an in-memory store with the fleet, runs a single pass and
// reports the plan next to the greedy baseline.
func Run(ctx context.Context, drivers []model.Driver, loads []model.Load, cfg dispatch.Config, log logger.Logger) (Report, error) {
	st := store.NewMemoryStore()
	if err := Seed(ctx, st, drivers, loads); err != nil {
		return Report{}, err
	}
	orch, err := dispatch.NewOrchestrator(st, cfg, log)
	if err != nil {
		return Report{}, err
	}
	orch.SetClock(model.NewFixedClock(Epoch.Add(time.Minute)))

	plan, err := orch.OptimizeAndAssign(dispatch.WithCorrelationID(ctx, "simulation"), model.TriggerManual, "")
	if err != nil {
		return Report{}, fmt.Errorf("simulate: %w", err)
	}
	_, pass := orch.LastPlan()

	ids := func(n int, id func(int) string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = id(i)
		}
		return out
	}
	dIDs := ids(len(drivers), func(i int) string { return drivers[i].ID })
	lIDs := ids(len(loads), func(i int) string { return loads[i].ID })
	sort.Strings(dIDs)
	greedy := dispatch.Greedy(dIDs, lIDs, dispatch.GenerateCandidates(drivers, loads, orch.Config().Shortlist()))

	rep := Report{
		Status:         plan.Status().String(),
		Drivers:        len(drivers),
		Loads:          len(loads),
		Deadhead:       plan.TotalDeadhead(),
		GreedyDeadhead: greedy.Cost,
		GreedyUnserved: len(greedy.Unserved),
		Assignments:    make(map[string][]string),
		Unserved:       plan.Unserved(),
		Reserved:       pass.Reserved,
		Elapsed:        plan.Elapsed(),
	}
	for id, seq := range plan.Sequences() {
		rep.Assignments[id] = seq.LoadIDs
	}
	return rep, nil
}

// Seed stores each driver with an active shift starting at its location,
// and the loads.
func Seed(ctx context.Context, st store.Store, drivers []model.Driver, loads []model.Load) error {
	return st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, d := range drivers {
			if err := tx.CreateDriver(ctx, d); err != nil {
				return fmt.Errorf("seed driver %s: %w", d.ID, err)
			}
			if !d.OnShift || d.Location == nil {
				continue
			}
			sh := model.Shift{ID: "shift-" + d.ID, DriverID: d.ID, StartedAt: Epoch, StartLocation: *d.Location}
			if err := tx.CreateShift(ctx, sh); err != nil {
				return fmt.Errorf("seed shift %s: %w", d.ID, err)
			}
		}
		for _, l := range loads {
			if err := tx.CreateLoad(ctx, l); err != nil {
				return fmt.Errorf("seed load %s: %w", l.ID, err)
			}
		}
		return nil
	})
}
