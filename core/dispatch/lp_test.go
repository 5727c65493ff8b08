package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootView(p *problem) nodeView {
	return p.view(node{state: make([]int8, len(p.cols))})
}

func TestSolveRelaxationBoundsThreeDriverScenario(t *testing.T) {
	drivers, loads := threeDriverScenario()
	p := newProblem(driverIDs(drivers), loadIDs(loads), GenerateCandidates(drivers, loads, Shortlist{}), 0)
	v := rootView(p)

	obj, x, err := solveRelaxation(context.Background(), p, v)
	require.NoError(t, err)
	require.Len(t, x, len(v.free))
	assert.Greater(t, obj, 0.0)
	assert.LessOrEqual(t, obj, 2.3*degree+1e-6)
	for j, xv := range x {
		assert.GreaterOrEqual(t, xv, -1e-9, "column %d", j)
		assert.LessOrEqual(t, xv, 1+1e-9, "column %d", j)
	}
}

func TestSolveRelaxationInfeasible(t *testing.T) {
	cands := []Sequence{{DriverID: "D1", LoadIDs: []string{"L1"}, Cost: 1}}
	p := newProblem([]string{"D1"}, []string{"L1", "L2"}, cands, 0)
	_, _, err := solveRelaxation(context.Background(), p, rootView(p))
	assert.ErrorIs(t, err, errLPInfeasible)
}

func TestSolveRelaxationPricesUnservedLoads(t *testing.T) {
	cands := []Sequence{{DriverID: "D1", LoadIDs: []string{"L1"}, Cost: 1}}
	p := newProblem([]string{"D1"}, []string{"L1", "L2"}, cands, 100)
	obj, x, err := solveRelaxation(context.Background(), p, rootView(p))
	require.NoError(t, err)
	assert.InDelta(t, 101, obj, 1e-9)
	assert.InDelta(t, 1, x[0], 1e-9)
}

func TestSolveRelaxationStopsOnCancel(t *testing.T) {
	drivers, loads := threeDriverScenario()
	p := newProblem(driverIDs(drivers), loadIDs(loads), GenerateCandidates(drivers, loads, Shortlist{}), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := solveRelaxation(ctx, p, rootView(p))
	assert.ErrorIs(t, err, context.Canceled)
}
