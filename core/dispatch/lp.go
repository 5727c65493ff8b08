package dispatch

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	errLPInfeasible = errors.New("lp: infeasible")
	errLPUnbounded  = errors.New("lp: unbounded")
	errLPIterations = errors.New("lp: iteration limit reached")
)

const (
	pivotEps    = 1e-9
	phaseOneEps = 1e-7
)

// tableau is a dense simplex tableau over gonum matrices. The last column of
// t is the right hand side. obj holds the reduced costs, its last entry the
// negated objective value.
type tableau struct {
	t     *mat.Dense
	obj   []float64
	basis []int
	m, n  int
}

func newTableau(m, n int) *tableau {
	return &tableau{
		t:     mat.NewDense(m, n+1, nil),
		obj:   make([]float64, n+1),
		basis: make([]int, m),
		m:     m,
		n:     n,
	}
}

// price loads cost vector c and expresses it in terms of the current basis.
func (tb *tableau) price(c []float64) {
	copy(tb.obj, c)
	tb.obj[tb.n] = 0
	for r, j := range tb.basis {
		if cb := c[j]; cb != 0 {
			floats.AddScaled(tb.obj, -cb, tb.t.RawRowView(r))
		}
	}
}

func (tb *tableau) pivot(r, j int) {
	row := tb.t.RawRowView(r)
	floats.Scale(1/row[j], row)
	for i := 0; i < tb.m; i++ {
		if i == r {
			continue
		}
		other := tb.t.RawRowView(i)
		if f := other[j]; f != 0 {
			floats.AddScaled(other, -f, row)
		}
	}
	if f := tb.obj[j]; f != 0 {
		floats.AddScaled(tb.obj, -f, row)
	}
	tb.basis[r] = j
}

// run pivots until no allowed column has a negative reduced cost. Entering
// columns follow Dantzig's rule; after a degenerate pivot the next choice
// follows Bland's rule, so a cycle of degenerate pivots cannot repeat.
func (tb *tableau) run(ctx context.Context, allowed int) error {
	rhs := tb.n
	limit := 50 * (tb.m + tb.n)
	bland := false
	for it := 0; ; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if it > limit {
			return errLPIterations
		}
		enter := -1
		for j := 0; j < allowed; j++ {
			if tb.obj[j] >= -pivotEps {
				continue
			}
			if bland {
				enter = j
				break
			}
			if enter < 0 || tb.obj[j] < tb.obj[enter] {
				enter = j
			}
		}
		if enter < 0 {
			return nil
		}
		leave := -1
		var ratio float64
		for i := 0; i < tb.m; i++ {
			a := tb.t.At(i, enter)
			if a <= pivotEps {
				continue
			}
			q := tb.t.At(i, rhs) / a
			switch {
			case leave < 0, q < ratio-pivotEps:
				leave, ratio = i, q
			case q <= ratio+pivotEps && tb.basis[i] < tb.basis[leave]:
				leave = i
			}
		}
		if leave < 0 {
			return errLPUnbounded
		}
		bland = ratio <= pivotEps
		tb.pivot(leave, enter)
	}
}

// solveRelaxation solves the LP relaxation of a node with a two phase
// simplex. Rows are the drivers that still have a free column and the loads
// not yet covered. Each driver row gets a slack column standing for the idle
// option; in penalty mode each load row gets a slack priced at the penalty,
// otherwise an artificial column that phase one drives to zero. The returned
// values are indexed like v.free.
func solveRelaxation(ctx context.Context, p *problem, v nodeView) (obj float64, x []float64, err error) {
	driverRow := make(map[int]int)
	for _, i := range v.free {
		d := p.cols[i].driver
		if _, ok := driverRow[d]; !ok {
			driverRow[d] = len(driverRow)
		}
	}
	loadRow := make(map[int]int)
	for l, ok := range v.covered {
		if !ok {
			loadRow[l] = len(driverRow) + len(loadRow)
		}
	}
	free := len(v.free)
	rows := len(driverRow) + len(loadRow)
	// Columns: free sequences, driver slacks, then load slacks or artificials.
	loadStart := free + len(driverRow)
	cols := loadStart + len(loadRow)

	tb := newTableau(rows, cols)
	c := make([]float64, cols+1)
	for j, i := range v.free {
		col := p.cols[i]
		c[j] = col.seq.Cost
		tb.t.Set(driverRow[col.driver], j, 1)
		for _, l := range col.loads {
			tb.t.Set(loadRow[l], j, 1)
		}
	}
	for _, r := range driverRow {
		j := free + r
		tb.t.Set(r, j, 1)
		tb.basis[r] = j
	}
	for _, r := range loadRow {
		j := loadStart + r - len(driverRow)
		tb.t.Set(r, j, 1)
		tb.basis[r] = j
		if p.relaxed() {
			c[j] = p.penalty
		}
	}
	for r := 0; r < rows; r++ {
		tb.t.Set(r, cols, 1)
	}

	allowed := cols
	if !p.relaxed() && len(loadRow) > 0 {
		phase1 := make([]float64, cols+1)
		for j := loadStart; j < cols; j++ {
			phase1[j] = 1
		}
		tb.price(phase1)
		if err := tb.run(ctx, cols); err != nil {
			return 0, nil, err
		}
		if -tb.obj[cols] > phaseOneEps {
			return 0, nil, errLPInfeasible
		}
		// Pivot zero valued artificials out of the basis where a real column
		// can take their place. Rows where none can are redundant.
		for r, j := range tb.basis {
			if j < loadStart {
				continue
			}
			row := tb.t.RawRowView(r)
			for k := 0; k < loadStart; k++ {
				if row[k] > pivotEps || row[k] < -pivotEps {
					tb.pivot(r, k)
					break
				}
			}
		}
		allowed = loadStart
	}

	tb.price(c)
	if err := tb.run(ctx, allowed); err != nil {
		return 0, nil, err
	}
	x = make([]float64, free)
	for r, j := range tb.basis {
		if j < free {
			x[j] = tb.t.At(r, cols)
		}
	}
	return -tb.obj[cols], x, nil
}

// relax points to the function used to solve node relaxations. Tests
// override it to exercise the fallback path.
var relax = solveRelaxation
