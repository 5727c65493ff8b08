package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/freight/core/model"
)

func reserved(l model.Load, driver string) model.Load {
	exp := epoch.Add(time.Minute)
	l.Status = model.StatusReserved
	l.AssignedDriverID = driver
	l.AssignedShiftID = "S-" + driver
	l.ReservationExpiresAt = &exp
	return l
}

func TestNewPlan_Actions(t *testing.T) {
	current := []model.Load{
		reserved(load("L1", 1, 2), "D1"),
		reserved(load("L2", 3, 4), "D2"),
		load("L3", 5, 6),
		reserved(load("L4", 7, 8), "D3"),
		load("L5", 9, 10),
	}
	sol := Solution{
		Status: StatusOptimal,
		Selected: []Sequence{
			{DriverID: "D1", LoadIDs: []string{"L1", "L5"}, Cost: 3},
			{DriverID: "D2", LoadIDs: []string{"L3"}, Cost: 2},
			{DriverID: "D3", LoadIDs: []string{"L2"}, Cost: 1},
		},
		Cost: 6,
	}
	plan := NewPlan(sol, current)
	want := []Action{
		{Kind: ActionUnchanged, LoadID: "L1", FromDriver: "D1", ToDriver: "D1"},
		{Kind: ActionRelease, LoadID: "L2", FromDriver: "D2"},
		{Kind: ActionRelease, LoadID: "L4", FromDriver: "D3"},
		{Kind: ActionAssign, LoadID: "L2", FromDriver: "D2", ToDriver: "D3"},
		{Kind: ActionAssign, LoadID: "L3", ToDriver: "D2"},
	}
	assert.Equal(t, want, plan.Actions())
	assert.Equal(t, map[string]string{"L1": "D1", "L3": "D2", "L2": "D3"}, plan.FirstLoads())
	assert.Equal(t, 4, plan.AssignedLoadCount())
	assert.InDelta(t, 6, plan.TotalDeadhead(), 1e-9)
	assert.True(t, plan.Optimal())
}

func TestNewPlan_SecondLoadStaysAssignable(t *testing.T) {
	sol := Solution{Status: StatusOptimal, Selected: []Sequence{{DriverID: "D1", LoadIDs: []string{"L1", "L2"}}}}
	plan := NewPlan(sol, []model.Load{load("L1", 1, 2), load("L2", 3, 4)})
	for _, a := range plan.Actions() {
		if a.LoadID == "L2" {
			t.Fatalf("second load of a chain must not be reserved: %+v", a)
		}
	}
	if s, ok := plan.SequenceFor("D1"); !ok || s.Second() != "L2" {
		t.Fatalf("expected chain to be kept in the plan, got %+v", s)
	}
}

func TestNewPlan_NotApplicable(t *testing.T) {
	current := []model.Load{reserved(load("L1", 1, 2), "D1")}
	plan := NewPlan(Solution{Status: StatusInfeasible}, current)
	if len(plan.Actions()) != 0 {
		t.Fatalf("infeasible plan must not change anything, got %+v", plan.Actions())
	}
	if plan.Optimal() {
		t.Fatalf("infeasible plan reported optimal")
	}
}

func TestPlan_CopiesAreIndependent(t *testing.T) {
	sol := Solution{Status: StatusOptimal, Selected: []Sequence{{DriverID: "D1", LoadIDs: []string{"L1"}}}}
	plan := NewPlan(sol, []model.Load{load("L1", 1, 2)})
	sol.Selected[0].LoadIDs[0] = "changed"
	seqs := plan.Sequences()
	seqs["D1"].LoadIDs[0] = "mutated"
	if s, _ := plan.SequenceFor("D1"); s.First() != "L1" {
		t.Fatalf("plan was mutated through a copy: %+v", s)
	}
}

func TestEmptyPlan(t *testing.T) {
	p := EmptyPlan(StatusEmpty)
	if len(p.Actions()) != 0 || len(p.Sequences()) != 0 || !p.Optimal() {
		t.Fatalf("unexpected empty plan %+v", p)
	}
}
