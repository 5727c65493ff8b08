package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/freight/core/dispatch/logging"
	"github.com/kilianp07/freight/core/events"
	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/monitoring"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/internal/eventbus"
)

// PassReport summarizes what a pass changed in storage.
type PassReport struct {
	Expired   []string
	Reserved  int
	Released  int
	Conflicts int
	Changes   []logging.Change
}

// Orchestrator runs optimization passes: expire stale reservations, snapshot
// the fleet, solve, and reconcile the plan back into storage.
type Orchestrator struct {
	store    store.Store
	cfg      Config
	solver   *Solver
	clock    model.Clock
	logger   logger.Logger
	bus      eventbus.EventBus
	logStore logging.LogStore
	metrics  metrics.MetricsSink

	mu     sync.Mutex
	last   *Plan
	report PassReport
}

// NewOrchestrator creates an orchestrator over st. cfg is defaulted and
// validated.
func NewOrchestrator(st store.Store, cfg Config, log logger.Logger) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("dispatch: nil store provided to NewOrchestrator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	return &Orchestrator{
		store:   st,
		cfg:     cfg,
		solver:  NewSolver(cfg.TimeBudget(), cfg.UnservedPenalty, log),
		clock:   model.SystemClock{},
		logger:  log,
		metrics: metrics.NopSink{},
	}, nil
}

// SetClock replaces the clock used for expiry and reservation holds.
func (o *Orchestrator) SetClock(c model.Clock) {
	if c == nil {
		return
	}
	o.mu.Lock()
	o.clock = c
	o.mu.Unlock()
}

// SetEventBus configures the bus pass and reservation events go to.
func (o *Orchestrator) SetEventBus(bus eventbus.EventBus) {
	o.mu.Lock()
	o.bus = bus
	o.mu.Unlock()
}

// SetLogStore configures the store used to persist plan records.
func (o *Orchestrator) SetLogStore(ls logging.LogStore) {
	o.mu.Lock()
	o.logStore = ls
	o.mu.Unlock()
}

// SetMetricsSink configures the sink passes are reported to.
func (o *Orchestrator) SetMetricsSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	o.mu.Lock()
	o.metrics = sink
	o.mu.Unlock()
}

// Config returns the effective dispatch configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// LastPlan returns the plan of the most recent pass and what it changed.
func (o *Orchestrator) LastPlan() (*Plan, PassReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.report
}

func (o *Orchestrator) now() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clock.Now()
}

func (o *Orchestrator) publish(ev eventbus.Event) {
	o.mu.Lock()
	bus := o.bus
	o.mu.Unlock()
	if bus != nil {
		bus.Publish(ev)
	}
}

// OptimizeAndAssign runs one full pass. Callers must hold the run lock; the
// orchestrator itself does not serialize passes.
//
// Infeasible and failed solves change nothing. A canceled ctx stops
// reconciliation between writes and returns the plan together with the
// context error: every write made before that point is committed.
func (o *Orchestrator) OptimizeAndAssign(ctx context.Context, trigger model.Trigger, entityID string) (*Plan, error) {
	start := time.Now()
	corr := CorrelationID(ctx)

	expired, err := o.expire(ctx)
	if err != nil {
		return nil, fmt.Errorf("expire reservations: %w", err)
	}
	octx, err := o.snapshot(ctx, trigger, entityID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	cands := GenerateCandidates(octx.drivers(), octx.Assignable, o.cfg.Shortlist())
	sol := o.solver.Solve(ctx, octx.DriverIDs(), octx.LoadIDs(), cands)
	plan := NewPlan(sol, octx.Assignable)
	solveStatus.WithLabelValues(sol.Status.String()).Inc()
	o.logger.Infof("pass %s trigger=%s entity=%s: %s with %d drivers, %d loads, deadhead %.2f",
		corr, trigger, entityID, sol.Status, len(octx.Drivers), len(octx.Assignable), sol.Cost)

	report := PassReport{Expired: expired}
	var recErr error
	if sol.Status.Applicable() {
		planDeadhead.Set(sol.Cost)
		recErr = o.reconcile(ctx, octx, plan, &report)
	} else {
		o.logger.Warnf("pass %s: %s solve, leaving reservations unchanged", corr, sol.Status)
	}

	elapsed := time.Since(start)
	passDuration.WithLabelValues(trigger.String()).Observe(elapsed.Seconds())
	o.mu.Lock()
	o.last, o.report = plan, report
	sink, ls := o.metrics, o.logStore
	o.mu.Unlock()

	res := metrics.PassResult{
		Trigger:   trigger,
		Status:    sol.Status.String(),
		Drivers:   len(octx.Drivers),
		Loads:     len(octx.Assignable),
		Deadhead:  sol.Cost,
		Reserved:  report.Reserved,
		Released:  report.Released,
		Expired:   len(expired),
		Conflicts: report.Conflicts,
		Duration:  elapsed,
		Time:      octx.Now,
	}
	if err := sink.RecordPass(res); err != nil {
		o.logger.Errorf("metrics sink error: %v", err)
	}
	if ls != nil {
		rec := logging.LogRecord{
			Timestamp:      octx.Now,
			CorrelationID:  corr,
			Trigger:        trigger,
			EntityID:       entityID,
			Status:         sol.Status.String(),
			Drivers:        len(octx.Drivers),
			Loads:          len(octx.Assignable),
			TotalDeadhead:  sol.Cost,
			GreedyDeadhead: Greedy(octx.DriverIDs(), octx.LoadIDs(), cands).Cost,
			Assignments:    make(map[string][]string),
			Changes:        report.Changes,
			Expired:        expired,
			Conflicts:      report.Conflicts,
			DurationMS:     elapsed.Milliseconds(),
		}
		for id, s := range plan.Sequences() {
			rec.Assignments[id] = s.LoadIDs
		}
		if err := ls.Append(ctx, rec); err != nil {
			o.logger.Errorf("plan log append: %v", err)
		}
	}
	o.publish(events.PassCompleted{
		CorrelationID: corr,
		Trigger:       trigger,
		EntityID:      entityID,
		Status:        sol.Status.String(),
		Drivers:       len(octx.Drivers),
		Loads:         len(octx.Assignable),
		Deadhead:      sol.Cost,
		Reserved:      report.Reserved,
		Released:      report.Released,
		Expired:       len(expired),
		Conflicts:     report.Conflicts,
		Duration:      elapsed,
		Time:          octx.Now,
	})
	return plan, recErr
}

func (o *Orchestrator) expire(ctx context.Context) ([]string, error) {
	now := o.now()
	var ids []string
	holders := make(map[string]string)
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// Holders are read first so release events can name them.
		held, err := tx.ListLoads(ctx, store.LoadFilter{Statuses: []model.LoadStatus{model.StatusReserved}})
		if err != nil {
			return err
		}
		for _, l := range held {
			holders[l.ID] = l.AssignedDriverID
		}
		ids, err = tx.ReleaseExpiredReservations(ctx, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		o.publish(events.LoadReleased{LoadID: id, DriverID: holders[id], Reason: events.ReasonExpired, Time: now})
		o.recordReservation(metrics.ReservationEvent{LoadID: id, DriverID: holders[id], Action: metrics.ActionReleased, Reason: events.ReasonExpired, Time: now})
	}
	if len(ids) > 0 {
		expiredHolds.Add(float64(len(ids)))
		o.logger.Infof("released %d expired reservations", len(ids))
	}
	return ids, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, trigger model.Trigger, entityID string) (*OptimizationContext, error) {
	octx := &OptimizationContext{Trigger: trigger, EntityID: entityID, Now: o.now()}
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if octx.Drivers, err = tx.ListEligibleDrivers(ctx); err != nil {
			return err
		}
		if octx.Assignable, err = tx.ListLoads(ctx, store.LoadFilter{Statuses: store.AssignableStatuses}); err != nil {
			return err
		}
		octx.Protected, err = tx.ListLoads(ctx, store.LoadFilter{Statuses: store.ProtectedStatuses})
		return err
	})
	if err != nil {
		return nil, err
	}
	return octx, nil
}

// reconcile applies the plan's actions one transaction at a time. Rejected
// conditional writes are counted and skipped.
func (o *Orchestrator) reconcile(ctx context.Context, octx *OptimizationContext, plan *Plan, rep *PassReport) error {
	hold := o.cfg.ReservationHold()
	for _, a := range plan.Actions() {
		if a.Kind == ActionUnchanged {
			continue
		}
		if err := ctx.Err(); err != nil {
			o.logger.Warnf("reconcile interrupted after %d changes: %v", len(rep.Changes), err)
			return err
		}
		now := o.now()
		var ok bool
		err := o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			switch a.Kind {
			case ActionRelease:
				ok, err = tx.ReleaseReservation(ctx, a.LoadID, a.FromDriver, now)
			case ActionAssign:
				ok, err = tx.ReserveLoad(ctx, store.Reservation{
					LoadID:    a.LoadID,
					DriverID:  a.ToDriver,
					ShiftID:   octx.ShiftFor(a.ToDriver),
					ExpiresAt: now.Add(hold),
					At:        now,
				})
			}
			return err
		})
		change := logging.Change{Kind: a.Kind.String(), LoadID: a.LoadID, FromDriver: a.FromDriver, ToDriver: a.ToDriver, Applied: ok && err == nil}
		rep.Changes = append(rep.Changes, change)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, model.ErrIntegrity):
			o.conflict(rep, a, err.Error())
			continue
		case err != nil:
			o.conflict(rep, a, err.Error())
			monitoring.CaptureException(err, map[string]string{"component": "reconcile", "load": a.LoadID})
			continue
		case !ok:
			o.conflict(rep, a, "state changed concurrently")
			continue
		}
		reconcileActions.WithLabelValues(a.Kind.String()).Inc()
		switch a.Kind {
		case ActionRelease:
			rep.Released++
			o.publish(events.LoadReleased{LoadID: a.LoadID, DriverID: a.FromDriver, Reason: events.ReasonRebalanced, Time: now})
			o.recordReservation(metrics.ReservationEvent{LoadID: a.LoadID, DriverID: a.FromDriver, Action: metrics.ActionReleased, Reason: events.ReasonRebalanced, Time: now})
		case ActionAssign:
			rep.Reserved++
			o.publish(events.LoadReserved{LoadID: a.LoadID, DriverID: a.ToDriver, ExpiresAt: now.Add(hold), Time: now})
			o.recordReservation(metrics.ReservationEvent{LoadID: a.LoadID, DriverID: a.ToDriver, Action: metrics.ActionReserved, Time: now})
		}
	}
	return nil
}

func (o *Orchestrator) conflict(rep *PassReport, a Action, reason string) {
	rep.Conflicts++
	reconcileConflicts.Inc()
	o.logger.Warnf("skipping %s of load %s (%s -> %s): %s", a.Kind, a.LoadID, a.FromDriver, a.ToDriver, reason)
}

func (o *Orchestrator) recordReservation(ev metrics.ReservationEvent) {
	o.mu.Lock()
	rr, ok := o.metrics.(metrics.ReservationRecorder)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := rr.RecordReservation(ev); err != nil {
		o.logger.Errorf("reservation metrics error: %v", err)
	}
}
