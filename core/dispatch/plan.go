package dispatch

import (
	"time"

	"github.com/kilianp07/freight/core/model"
)

// ActionKind is the reservation change a plan implies for one load.
type ActionKind int

const (
	ActionAssign ActionKind = iota
	ActionRelease
	ActionUnchanged
)

func (k ActionKind) String() string {
	switch k {
	case ActionAssign:
		return "assign"
	case ActionRelease:
		return "release"
	case ActionUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Action is one reservation change. FromDriver is the current holder and
// ToDriver the planned one.
type Action struct {
	Kind       ActionKind `json:"kind"`
	LoadID     string     `json:"load_id"`
	FromDriver string     `json:"from_driver,omitempty"`
	ToDriver   string     `json:"to_driver,omitempty"`
}

// Plan is the immutable result of one optimization pass.
//
// Only the first load of each sequence is materialized as a reservation. The
// second load of a chain stays assignable and is decided again on the next
// pass, so a better global reassignment remains possible before the driver
// reaches the first dropoff.
type Plan struct {
	sequences  map[string]Sequence
	firstLoads map[string]string
	unserved   []string
	actions    []Action
	total      float64
	status     SolveStatus
	nodes      int
	elapsed    time.Duration
}

// EmptyPlan returns a plan that selects nothing and changes nothing.
func EmptyPlan(status SolveStatus) *Plan {
	return &Plan{sequences: map[string]Sequence{}, firstLoads: map[string]string{}, status: status}
}

// NewPlan builds a plan from a solution and the assignable loads it was
// computed from. Actions are only derived for applicable solutions; releases
// are listed before assignments so that a driver moving to another load is
// freed first.
func NewPlan(sol Solution, current []model.Load) *Plan {
	p := EmptyPlan(sol.Status)
	p.total = sol.Cost
	p.nodes = sol.Nodes
	p.elapsed = sol.Elapsed
	p.unserved = append([]string(nil), sol.Unserved...)
	for _, s := range sol.Selected {
		if s.Idle() {
			continue
		}
		s.LoadIDs = append([]string(nil), s.LoadIDs...)
		p.sequences[s.DriverID] = s
		p.firstLoads[s.First()] = s.DriverID
	}
	if !sol.Status.Applicable() {
		return p
	}

	var assigns []Action
	for _, l := range current {
		holder := ""
		if l.Status == model.StatusReserved {
			holder = l.AssignedDriverID
		}
		planned := p.firstLoads[l.ID]
		switch {
		case holder != "" && planned == holder:
			p.actions = append(p.actions, Action{Kind: ActionUnchanged, LoadID: l.ID, FromDriver: holder, ToDriver: planned})
			continue
		case holder != "":
			p.actions = append(p.actions, Action{Kind: ActionRelease, LoadID: l.ID, FromDriver: holder})
		}
		if planned != "" {
			assigns = append(assigns, Action{Kind: ActionAssign, LoadID: l.ID, FromDriver: holder, ToDriver: planned})
		}
	}
	p.actions = append(p.actions, assigns...)
	return p
}

// Sequences returns a copy of the driver to sequence selection.
func (p *Plan) Sequences() map[string]Sequence {
	out := make(map[string]Sequence, len(p.sequences))
	for k, v := range p.sequences {
		v.LoadIDs = append([]string(nil), v.LoadIDs...)
		out[k] = v
	}
	return out
}

// SequenceFor returns the sequence chosen for a driver.
func (p *Plan) SequenceFor(driverID string) (Sequence, bool) {
	s, ok := p.sequences[driverID]
	if ok {
		s.LoadIDs = append([]string(nil), s.LoadIDs...)
	}
	return s, ok
}

// FirstLoads returns load to driver for every load to be reserved now.
func (p *Plan) FirstLoads() map[string]string {
	out := make(map[string]string, len(p.firstLoads))
	for k, v := range p.firstLoads {
		out[k] = v
	}
	return out
}

// Actions returns the reservation changes in application order.
func (p *Plan) Actions() []Action { return append([]Action(nil), p.actions...) }

// Unserved lists loads left uncovered by a penalised solve.
func (p *Plan) Unserved() []string { return append([]string(nil), p.unserved...) }

func (p *Plan) TotalDeadhead() float64 { return p.total }
func (p *Plan) Status() SolveStatus    { return p.status }
func (p *Plan) Optimal() bool          { return p.status == StatusOptimal || p.status == StatusEmpty }
func (p *Plan) Nodes() int             { return p.nodes }
func (p *Plan) Elapsed() time.Duration { return p.elapsed }

// AssignedLoadCount counts loads covered by the selection, chained ones included.
func (p *Plan) AssignedLoadCount() int {
	n := 0
	for _, s := range p.sequences {
		n += len(s.LoadIDs)
	}
	return n
}
