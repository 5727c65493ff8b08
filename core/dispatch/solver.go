package dispatch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kilianp07/freight/core/logger"
)

// DefaultTimeBudget bounds a single solve when no budget is configured.
const DefaultTimeBudget = 500 * time.Millisecond

const (
	costEps     = 1e-9
	integralEps = 1e-6
	boundEps    = 1e-7
)

// lpShare is the fraction of the budget a node needs left before a
// relaxation is attempted. Below it the node is branched without a bound.
const lpShare = 20

// SolveStatus describes how a solve ended.
type SolveStatus int

const (
	// StatusEmpty means there were no drivers or no loads to match.
	StatusEmpty SolveStatus = iota
	// StatusOptimal means the search proved the selection optimal.
	StatusOptimal
	// StatusFeasible means the time budget expired with a valid selection.
	StatusFeasible
	// StatusInfeasible means no selection satisfies the coverage constraints.
	StatusInfeasible
	// StatusFailed means the budget expired before any valid selection was found.
	StatusFailed
)

func (s SolveStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Applicable reports whether a plan with this status should be written back.
func (s SolveStatus) Applicable() bool {
	return s == StatusEmpty || s == StatusOptimal || s == StatusFeasible
}

// Solution is the outcome of a solve. Selected only holds non-idle sequences.
type Solution struct {
	Selected  []Sequence
	Unserved  []string
	Cost      float64
	Objective float64
	Status    SolveStatus
	Nodes     int
	Elapsed   time.Duration
}

// Solver selects a conflict-free subset of candidate sequences minimising
// total deadhead. Each driver runs at most one sequence and every load is
// covered exactly once. When UnservedPenalty is positive a load may instead
// be left unserved at that cost.
type Solver struct {
	TimeBudget      time.Duration
	UnservedPenalty float64
	log             logger.Logger
}

// NewSolver returns a solver using the given budget and penalty.
func NewSolver(budget time.Duration, penalty float64, log logger.Logger) *Solver {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Solver{TimeBudget: budget, UnservedPenalty: penalty, log: log}
}

// Solve runs a depth-first branch and bound over LP relaxations of the 0/1
// program. It never returns an error: infeasible or timed out searches are
// reported through Solution.Status with an empty selection.
func (s *Solver) Solve(ctx context.Context, drivers, loads []string, cands []Sequence) Solution {
	start := time.Now()
	if len(drivers) == 0 || len(loads) == 0 {
		return Solution{Status: StatusEmpty}
	}
	budget := s.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	p := newProblem(drivers, loads, cands, s.UnservedPenalty)
	if !p.relaxed() && (len(loads) > 2*len(drivers) || !p.coverable()) {
		return Solution{Status: StatusInfeasible, Elapsed: time.Since(start)}
	}

	deadline, _ := ctx.Deadline()
	bb := &search{p: p, best: math.Inf(1), deadline: deadline, minLP: budget / lpShare}
	bb.offer(p.greedy())
	bb.offer(p.seed())

	stack := []node{{state: make([]int8, len(p.cols))}}
	complete := true
	for len(stack) > 0 {
		if ctx.Err() != nil {
			complete = false
			break
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		bb.nodes++
		stack = append(stack, bb.expand(ctx, n)...)
	}

	sol := Solution{Nodes: bb.nodes, Elapsed: time.Since(start)}
	switch {
	case bb.incumbent == nil && complete:
		sol.Status = StatusInfeasible
	case bb.incumbent == nil:
		sol.Status = StatusFailed
	case complete:
		sol.Status = StatusOptimal
	default:
		sol.Status = StatusFeasible
	}
	if bb.incumbent != nil {
		p.fill(&sol, bb.incumbent)
	}
	s.log.Debugw("solve finished", map[string]any{
		"drivers":      len(drivers),
		"loads":        len(loads),
		"candidates":   len(p.cols),
		"nodes":        bb.nodes,
		"lp_fallbacks": bb.lpFallbacks,
		"status":       sol.Status.String(),
		"objective":    sol.Objective,
		"elapsed_ms":   sol.Elapsed.Milliseconds(),
	})
	return sol
}

// Greedy repeatedly takes the globally cheapest single-load candidate among
// free drivers and uncovered loads. It never chains and may leave loads
// unserved. It is the baseline the optimizer is compared against.
func Greedy(drivers, loads []string, cands []Sequence) Solution {
	start := time.Now()
	if len(drivers) == 0 || len(loads) == 0 {
		return Solution{Status: StatusEmpty}
	}
	p := newProblem(drivers, loads, cands, 0)
	sol := Solution{Status: StatusFeasible}
	p.fill(&sol, p.greedy())
	sol.Elapsed = time.Since(start)
	return sol
}

type column struct {
	seq    Sequence
	driver int
	loads  []int
}

type problem struct {
	drivers []string
	loads   []string
	cols    []column
	penalty float64
}

func newProblem(drivers, loads []string, cands []Sequence, penalty float64) *problem {
	p := &problem{drivers: drivers, loads: loads, penalty: penalty}
	dIdx := make(map[string]int, len(drivers))
	for i, id := range drivers {
		dIdx[id] = i
	}
	lIdx := make(map[string]int, len(loads))
	for i, id := range loads {
		lIdx[id] = i
	}
	for _, c := range cands {
		if c.Idle() {
			continue
		}
		d, ok := dIdx[c.DriverID]
		if !ok {
			continue
		}
		col := column{seq: c, driver: d}
		valid := true
		for _, id := range c.LoadIDs {
			l, ok := lIdx[id]
			if !ok {
				valid = false
				break
			}
			col.loads = append(col.loads, l)
		}
		if valid {
			p.cols = append(p.cols, col)
		}
	}
	return p
}

func (p *problem) relaxed() bool { return p.penalty > 0 }

func (p *problem) coverable() bool {
	seen := make([]bool, len(p.loads))
	for _, c := range p.cols {
		for _, l := range c.loads {
			seen[l] = true
		}
	}
	for _, ok := range seen {
		if !ok {
			return false
		}
	}
	return true
}

// objective returns deadhead plus penalties for the chosen columns, and
// whether the selection satisfies the coverage constraints.
func (p *problem) objective(chosen []int) (cost, obj float64, ok bool) {
	usedD := make([]bool, len(p.drivers))
	covered := make([]bool, len(p.loads))
	for _, i := range chosen {
		c := p.cols[i]
		if usedD[c.driver] {
			return 0, 0, false
		}
		usedD[c.driver] = true
		for _, l := range c.loads {
			if covered[l] {
				return 0, 0, false
			}
			covered[l] = true
		}
		cost += c.seq.Cost
	}
	obj = cost
	for _, ok := range covered {
		if ok {
			continue
		}
		if !p.relaxed() {
			return 0, 0, false
		}
		obj += p.penalty
	}
	return cost, obj, true
}

func (p *problem) greedy() []int {
	usedD := make([]bool, len(p.drivers))
	covered := make([]bool, len(p.loads))
	var chosen []int
	for {
		best := -1
		for i, c := range p.cols {
			if len(c.loads) != 1 || usedD[c.driver] || covered[c.loads[0]] {
				continue
			}
			if best < 0 || c.seq.Cost < p.cols[best].seq.Cost {
				best = i
			}
		}
		if best < 0 {
			return chosen
		}
		chosen = append(chosen, best)
		usedD[p.cols[best].driver] = true
		covered[p.cols[best].loads[0]] = true
	}
}

// seed builds a starting selection that may chain loads. Starting from the
// greedy singles it repeatedly applies the move with the lowest added cost per
// newly covered load: a driver swaps its sequence for one that keeps its loads
// and adds uncovered ones, or an idle driver takes a sequence of uncovered
// loads. With a penalty, moves costing at least the penalty per load are
// skipped.
func (p *problem) seed() []int {
	held := make([]int, len(p.drivers))
	for d := range held {
		held[d] = -1
	}
	owner := make([]int, len(p.loads))
	for l := range owner {
		owner[l] = -1
	}
	for _, i := range p.greedy() {
		c := p.cols[i]
		held[c.driver] = i
		owner[c.loads[0]] = c.driver
	}
	for {
		best, bestScore := -1, math.Inf(1)
		for i, c := range p.cols {
			gain, ok := 0, true
			for _, l := range c.loads {
				switch owner[l] {
				case -1:
					gain++
				case c.driver:
				default:
					ok = false
				}
			}
			if !ok || gain == 0 {
				continue
			}
			delta := c.seq.Cost
			if h := held[c.driver]; h >= 0 {
				if len(c.loads)-gain != len(p.cols[h].loads) {
					continue
				}
				delta -= p.cols[h].seq.Cost
			}
			score := delta / float64(gain)
			if p.relaxed() && score >= p.penalty {
				continue
			}
			if score < bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		c := p.cols[best]
		held[c.driver] = best
		for _, l := range c.loads {
			owner[l] = c.driver
		}
	}
	var chosen []int
	for _, i := range held {
		if i >= 0 {
			chosen = append(chosen, i)
		}
	}
	return chosen
}

func (p *problem) fill(sol *Solution, chosen []int) {
	covered := make([]bool, len(p.loads))
	sol.Selected = make([]Sequence, 0, len(chosen))
	sol.Cost = 0
	for _, i := range chosen {
		c := p.cols[i]
		sol.Selected = append(sol.Selected, c.seq)
		sol.Cost += c.seq.Cost
		for _, l := range c.loads {
			covered[l] = true
		}
	}
	sol.Objective = sol.Cost
	for l, ok := range covered {
		if !ok {
			sol.Unserved = append(sol.Unserved, p.loads[l])
			sol.Objective += p.penalty
		}
	}
}

// node is a branch of the search. state holds, per column, 0 when free,
// 1 when fixed into the selection and -1 when excluded.
type node struct {
	state []int8
}

type nodeView struct {
	chosen    []int
	free      []int
	usedD     []bool
	covered   []bool
	base      float64
	remaining int
	coverable bool
}

func (p *problem) view(n node) nodeView {
	v := nodeView{usedD: make([]bool, len(p.drivers)), covered: make([]bool, len(p.loads))}
	for i, s := range n.state {
		if s != 1 {
			continue
		}
		c := p.cols[i]
		v.chosen = append(v.chosen, i)
		v.usedD[c.driver] = true
		for _, l := range c.loads {
			v.covered[l] = true
		}
		v.base += c.seq.Cost
	}
	reach := make([]bool, len(p.loads))
	for i, s := range n.state {
		if s != 0 {
			continue
		}
		c := p.cols[i]
		if v.usedD[c.driver] || v.conflicts(c) {
			continue
		}
		v.free = append(v.free, i)
		for _, l := range c.loads {
			reach[l] = true
		}
	}
	v.coverable = true
	for l, ok := range v.covered {
		if ok {
			continue
		}
		v.remaining++
		if !reach[l] {
			v.coverable = false
		}
	}
	return v
}

func (v nodeView) conflicts(c column) bool {
	for _, l := range c.loads {
		if v.covered[l] {
			return true
		}
	}
	return false
}

type search struct {
	p           *problem
	best        float64
	incumbent   []int
	nodes       int
	lpFallbacks int
	deadline    time.Time
	minLP       time.Duration
}

func (b *search) offer(chosen []int) {
	_, obj, ok := b.p.objective(chosen)
	if !ok || obj >= b.best-costEps {
		return
	}
	b.best = obj
	b.incumbent = append([]int(nil), chosen...)
}

// expand evaluates a node and returns its children, pushed so that the
// branch fixing the variable to one is explored first.
func (b *search) expand(ctx context.Context, n node) []node {
	v := b.p.view(n)
	if v.base >= b.best-costEps {
		return nil
	}
	if v.remaining == 0 {
		b.offer(v.chosen)
		return nil
	}
	if !b.p.relaxed() && !v.coverable {
		return nil
	}
	if len(v.free) == 0 {
		b.offer(v.chosen)
		return nil
	}

	branch := v.free[0]
	if !b.deadline.IsZero() && time.Until(b.deadline) < b.minLP {
		b.lpFallbacks++
		return b.children(n, branch)
	}
	obj, x, err := relax(ctx, b.p, v)
	switch {
	case errors.Is(err, errLPInfeasible):
		return nil
	case err != nil:
		b.lpFallbacks++
	default:
		if v.base+obj-boundEps*(1+math.Abs(obj)) >= b.best-costEps {
			return nil
		}
		frac := mostFractional(x)
		if frac < 0 {
			chosen := append([]int(nil), v.chosen...)
			for j, xv := range x {
				if xv > 0.5 {
					chosen = append(chosen, v.free[j])
				}
			}
			b.offer(chosen)
			return nil
		}
		branch = v.free[frac]
	}
	return b.children(n, branch)
}

func (b *search) children(n node, branch int) []node {
	zero := node{state: append([]int8(nil), n.state...)}
	zero.state[branch] = -1
	one := node{state: append([]int8(nil), n.state...)}
	one.state[branch] = 1
	return []node{zero, one}
}

// mostFractional returns the index of the value closest to one half, or -1
// when x is integral.
func mostFractional(x []float64) int {
	best := -1
	for i, v := range x {
		if v < integralEps || v > 1-integralEps {
			continue
		}
		if best < 0 || math.Abs(v-0.5) < math.Abs(x[best]-0.5) {
			best = i
		}
	}
	return best
}
