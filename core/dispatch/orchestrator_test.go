package dispatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/freight/core/dispatch/logging"
	"github.com/kilianp07/freight/core/events"
	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/internal/eventbus"
)

type recordSink struct {
	mu     sync.Mutex
	passes []metrics.PassResult
	res    []metrics.ReservationEvent
}

func (r *recordSink) RecordPass(p metrics.PassResult) error {
	r.mu.Lock()
	r.passes = append(r.passes, p)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) RecordReservation(ev metrics.ReservationEvent) error {
	r.mu.Lock()
	r.res = append(r.res, ev)
	r.mu.Unlock()
	return nil
}

// hookStore runs hook before the n-th transaction, counting from one.
type hookStore struct {
	store.Store
	calls int
	at    int
	hook  func()
}

func (h *hookStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	h.calls++
	if h.calls == h.at && h.hook != nil {
		h.hook()
	}
	return h.Store.WithinTx(ctx, fn)
}

func newOrchestrator(t *testing.T, st store.Store) (*Orchestrator, *model.FixedClock) {
	t.Helper()
	o, err := NewOrchestrator(st, Config{TimeBudgetMS: 5000}, nil)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	clock := model.NewFixedClock(epoch)
	o.SetClock(clock)
	return o, clock
}

func reserveTo(t *testing.T, st store.Store, loadID, driverID string, exp time.Time) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ReserveLoad(ctx, store.Reservation{LoadID: loadID, DriverID: driverID, ShiftID: "S-" + driverID, ExpiresAt: exp, At: epoch})
		if err == nil && !ok {
			err = errors.New("reserve rejected")
		}
		return err
	})
	if err != nil {
		t.Fatalf("reserve %s: %v", loadID, err)
	}
}

func TestNewOrchestrator_NilStore(t *testing.T) {
	if _, err := NewOrchestrator(nil, Config{}, nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewOrchestrator(store.NewMemoryStore(), Config{KnnK1: -1}, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestOptimizeAndAssign_ReservesFirstLoads(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	st := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, st, drivers, loads)
	o, _ := newOrchestrator(t, st)
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	o.SetEventBus(bus)

	plan, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if plan.Status() != StatusOptimal || math.Abs(plan.TotalDeadhead()-158.9) > 0.1 {
		t.Fatalf("unexpected plan %s %.2f", plan.Status(), plan.TotalDeadhead())
	}
	l1, l2, l3 := getLoad(t, st, "L1"), getLoad(t, st, "L2"), getLoad(t, st, "L3")
	if l1.Status != model.StatusReserved || l1.AssignedDriverID != "D1" || l1.AssignedShiftID != "S-D1" {
		t.Fatalf("L1 should be reserved to D1: %+v", l1)
	}
	if l3.Status != model.StatusReserved || l3.AssignedDriverID != "D2" {
		t.Fatalf("L3 should be reserved to D2: %+v", l3)
	}
	if l2.Status != model.StatusAwaitingDriver {
		t.Fatalf("chained L2 must stay assignable: %+v", l2)
	}
	if want := epoch.Add(DefaultReservationSeconds * time.Second); !l1.ReservationExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v got %v", want, l1.ReservationExpiresAt)
	}

	var pass *events.PassCompleted
	reserved := 0
	for pass == nil {
		select {
		case ev := <-sub:
			switch e := ev.(type) {
			case events.LoadReserved:
				reserved++
			case events.PassCompleted:
				pass = &e
			}
		case <-time.After(time.Second):
			t.Fatalf("no pass event")
		}
	}
	if reserved != 2 || pass.Reserved != 2 || pass.Status != "optimal" {
		t.Fatalf("unexpected events: reserved=%d pass=%+v", reserved, pass)
	}
	if v := testutil.ToFloat64(solveStatus.WithLabelValues("optimal")); v != 1 {
		t.Fatalf("expected one optimal solve, got %v", v)
	}
	if v := testutil.ToFloat64(reconcileActions.WithLabelValues("assign")); v != 2 {
		t.Fatalf("expected two assign actions, got %v", v)
	}
}

func TestOptimizeAndAssign_SecondPassIsStable(t *testing.T) {
	st := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, st, drivers, loads)
	o, _ := newOrchestrator(t, st)
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	_, rep := o.LastPlan()
	if rep.Reserved != 0 || rep.Released != 0 || rep.Conflicts != 0 {
		t.Fatalf("second pass should change nothing, got %+v", rep)
	}
}

func TestOptimizeAndAssign_Rebalances(t *testing.T) {
	st := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, st, drivers, loads)
	reserveTo(t, st, "L1", "D3", epoch.Add(time.Hour))
	o, _ := newOrchestrator(t, st)
	sink := &recordSink{}
	o.SetMetricsSink(sink)

	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerLoadCreated, "L3"); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if l1 := getLoad(t, st, "L1"); l1.AssignedDriverID != "D1" {
		t.Fatalf("L1 should move to D1: %+v", l1)
	}
	_, rep := o.LastPlan()
	if rep.Released != 1 || rep.Reserved != 2 || rep.Conflicts != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(sink.passes) != 1 || sink.passes[0].Trigger != model.TriggerLoadCreated {
		t.Fatalf("unexpected passes %+v", sink.passes)
	}
	if len(sink.res) != 3 || sink.res[0].Action != metrics.ActionReleased {
		t.Fatalf("expected release recorded first, got %+v", sink.res)
	}
}

func TestOptimizeAndAssign_ExpiresReservations(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, []model.Driver{driverAt("D1", 0, 0)}, []model.Load{load("L1", 1, 2)})
	o, clock := newOrchestrator(t, st)
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if l := getLoad(t, st, "L1"); l.Status != model.StatusReserved {
		t.Fatalf("expected reservation, got %+v", l)
	}

	clock.Advance(119 * time.Second)
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	_, rep := o.LastPlan()
	if len(rep.Expired) != 0 || rep.Reserved != 0 {
		t.Fatalf("reservation touched before expiry: %+v", rep)
	}

	clock.Advance(time.Second)
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	_, rep = o.LastPlan()
	if len(rep.Expired) != 1 || rep.Expired[0] != "L1" {
		t.Fatalf("expected L1 to expire at the hold boundary, got %+v", rep.Expired)
	}
	// Released by the sweep, then reserved again by the same pass.
	l := getLoad(t, st, "L1")
	want := epoch.Add(240 * time.Second)
	if l.Status != model.StatusReserved || l.ReservationExpiresAt == nil || !l.ReservationExpiresAt.Equal(want) {
		t.Fatalf("expected a fresh hold until %v, got %+v", want, l)
	}
}

func TestOptimizeAndAssign_InfeasibleChangesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	loads := []model.Load{load("L1", 1, 2), load("L2", 3, 4), load("L3", 5, 6)}
	seed(t, st, []model.Driver{driverAt("D1", 0, 0)}, loads)
	reserveTo(t, st, "L3", "D1", epoch.Add(time.Hour))
	o, _ := newOrchestrator(t, st)
	plan, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, "")
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if plan.Status() != StatusInfeasible {
		t.Fatalf("expected infeasible got %s", plan.Status())
	}
	if l := getLoad(t, st, "L3"); l.Status != model.StatusReserved || l.AssignedDriverID != "D1" {
		t.Fatalf("reservation changed on infeasible pass: %+v", l)
	}
}

func TestOptimizeAndAssign_ProtectsInProgress(t *testing.T) {
	st := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, st, drivers, loads)
	reserveTo(t, st, "L1", "D3", epoch.Add(time.Hour))
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.TransitionLoad(ctx, store.Transition{
			LoadID: "L1", DriverID: "D3",
			From: model.StatusReserved, FromStop: model.StopPickup,
			To: model.StatusInProgress, ToStop: model.StopDropoff, At: epoch,
		})
		return err
	})
	if err != nil {
		t.Fatalf("start load: %v", err)
	}
	o, _ := newOrchestrator(t, st)
	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if l := getLoad(t, st, "L1"); l.Status != model.StatusInProgress || l.AssignedDriverID != "D3" {
		t.Fatalf("in-progress load touched: %+v", l)
	}
	for _, id := range []string{"L2", "L3"} {
		if l := getLoad(t, st, id); l.AssignedDriverID == "D3" {
			t.Fatalf("busy driver received %s", id)
		}
	}
}

func TestOptimizeAndAssign_CountsConflicts(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	mem := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, mem, drivers, loads)
	hs := &hookStore{Store: mem, at: 3}
	hs.hook = func() { reserveTo(t, mem, "L1", "D3", epoch.Add(time.Hour)) }
	o, _ := newOrchestrator(t, hs)

	if _, err := o.OptimizeAndAssign(context.Background(), model.TriggerManual, ""); err != nil {
		t.Fatalf("pass: %v", err)
	}
	_, rep := o.LastPlan()
	if rep.Conflicts != 1 || rep.Reserved != 1 {
		t.Fatalf("expected one conflict and one reservation, got %+v", rep)
	}
	if l := getLoad(t, mem, "L1"); l.AssignedDriverID != "D3" {
		t.Fatalf("concurrent reservation overwritten: %+v", l)
	}
	if v := testutil.ToFloat64(reconcileConflicts); v != 1 {
		t.Fatalf("expected conflict counter 1 got %v", v)
	}
}

func TestOptimizeAndAssign_CancelLeavesPrefix(t *testing.T) {
	mem := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, mem, drivers, loads)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Transactions: expire, snapshot, first reservation, second reservation.
	hs := &hookStore{Store: mem, at: 4, hook: cancel}
	o, _ := newOrchestrator(t, hs)

	_, err := o.OptimizeAndAssign(ctx, model.TriggerManual, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if l := getLoad(t, mem, "L1"); l.Status != model.StatusReserved {
		t.Fatalf("first write should be committed: %+v", l)
	}
	if l := getLoad(t, mem, "L3"); l.Status != model.StatusAwaitingDriver {
		t.Fatalf("second write should not be applied: %+v", l)
	}
}

func TestOptimizeAndAssign_WritesPlanLog(t *testing.T) {
	st := store.NewMemoryStore()
	drivers, loads := threeDriverScenario()
	seed(t, st, drivers, loads)
	o, _ := newOrchestrator(t, st)
	ls, err := logging.NewJSONLStore(t.TempDir() + "/plans.jsonl")
	if err != nil {
		t.Fatalf("log store: %v", err)
	}
	o.SetLogStore(ls)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	if _, err := o.OptimizeAndAssign(ctx, model.TriggerDriverShiftStart, "D1"); err != nil {
		t.Fatalf("pass: %v", err)
	}
	recs, err := ls.Query(context.Background(), logging.LogQuery{DriverID: "D1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record got %d", len(recs))
	}
	r := recs[0]
	if r.CorrelationID != "corr-1" || r.Trigger != model.TriggerDriverShiftStart || r.EntityID != "D1" {
		t.Fatalf("unexpected record header %+v", r)
	}
	if math.Abs(r.GreedyDeadhead-573.4) > 0.1 || r.TotalDeadhead >= r.GreedyDeadhead {
		t.Fatalf("unexpected deadhead optimal=%.2f greedy=%.2f", r.TotalDeadhead, r.GreedyDeadhead)
	}
	if got := r.Assignments["D1"]; len(got) != 2 || got[0] != "L1" || got[1] != "L2" {
		t.Fatalf("unexpected D1 assignment %v", got)
	}
}
