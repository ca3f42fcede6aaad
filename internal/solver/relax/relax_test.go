package relax

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/FJORD/internal/solver"
)

const tol = 1e-6

func TestSolveSimpleLP(t *testing.T) {
	// minimize -x - 10y subject to x + 7y <= 17.5, x <= 3.5, x,y >= 0.
	// Each budget unit spent on y yields 10/7 > 1, so the whole budget goes
	// to y: optimum x = 0, y = 2.5, z = -25.
	in := Input{
		Cost:  []float64{-1, -10},
		Lower: []float64{0, 0},
		Upper: []float64{3.5, math.Inf(1)},
		Rows: []solver.LinearConstraint{{
			Lower: math.Inf(-1),
			Upper: 17.5,
			Terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 7}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, -25.0, res.Z, 1e-9)
	assert.InDelta(t, 0.0, res.X[0], 1e-9)
	assert.InDelta(t, 2.5, res.X[1], 1e-9)
}

func TestSolveEqualityRow(t *testing.T) {
	// minimize x + y subject to x + y = 4, 0 <= x,y <= 3.
	in := Input{
		Cost:  []float64{1, 1},
		Lower: []float64{0, 0},
		Upper: []float64{3, 3},
		Rows: []solver.LinearConstraint{{
			Lower: 4,
			Upper: 4,
			Terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, 4.0, res.Z, 1e-9)
	assert.InDelta(t, 4.0, res.X[0]+res.X[1], 1e-9)
}

func TestSolveFreeVariable(t *testing.T) {
	// minimize x with x free and x >= -5 via a row: optimum -5.
	in := Input{
		Cost:  []float64{1},
		Lower: []float64{math.Inf(-1)},
		Upper: []float64{math.Inf(1)},
		Rows: []solver.LinearConstraint{{
			Lower: -5,
			Upper: math.Inf(1),
			Terms: []solver.Term{{Var: 0, Coef: 1}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, -5.0, res.Z, 1e-9)
	assert.InDelta(t, -5.0, res.X[0], 1e-9)
}

func TestSolveFixedVariableStaysPinned(t *testing.T) {
	// x is fixed at 1 by its bounds. A pulling cost and a loose row must not
	// move it: the optimum is x = 1, z = -1, not the row limit.
	in := Input{
		Cost:  []float64{-1},
		Lower: []float64{1},
		Upper: []float64{1},
		Rows: []solver.LinearConstraint{{
			Lower: math.Inf(-1),
			Upper: 5,
			Terms: []solver.Term{{Var: 0, Coef: 1}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, res.Z, 1e-9)
	assert.InDelta(t, 1.0, res.X[0], 1e-9)
}

func TestSolveFixedColumnOutsideRows(t *testing.T) {
	// A variable fixed by branching that appears in no row and carries no
	// cost still solves cleanly and reports its pinned value.
	in := Input{
		Cost:  []float64{1, 0},
		Lower: []float64{0, 1},
		Upper: []float64{4, 1},
		Rows: []solver.LinearConstraint{{
			Lower: 2,
			Upper: math.Inf(1),
			Terms: []solver.Term{{Var: 0, Coef: 1}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Z, 1e-9)
	assert.InDelta(t, 2.0, res.X[0], 1e-9)
	assert.InDelta(t, 1.0, res.X[1], 1e-9)
}

func TestSolveInfeasible(t *testing.T) {
	in := Input{
		Cost:  []float64{1},
		Lower: []float64{0},
		Upper: []float64{1},
		Rows: []solver.LinearConstraint{{
			Lower: 5,
			Upper: math.Inf(1),
			Terms: []solver.Term{{Var: 0, Coef: 1}},
		}},
		Tol: tol,
	}
	_, err := in.Solve()
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestSolveUnbounded(t *testing.T) {
	// minimize -x with x >= 0 unbounded above and no rows.
	in := Input{
		Cost:  []float64{-1},
		Lower: []float64{0},
		Upper: []float64{math.Inf(1)},
		Tol:   tol,
	}
	_, err := in.Solve()
	assert.ErrorIs(t, err, ErrUnbounded)
}

func TestSolveNoRowsBounded(t *testing.T) {
	// No rows and no pulling cost: everything sits at its lower bound.
	in := Input{
		Cost:  []float64{1, 0},
		Lower: []float64{2, -1},
		Upper: []float64{5, 1},
		Tol:   tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Z, 1e-9)
	assert.InDelta(t, 2.0, res.X[0], 1e-9)
	assert.InDelta(t, -1.0, res.X[1], 1e-9)
}

func TestSolveNoEnvelope(t *testing.T) {
	in := Input{
		Cost:     []float64{0, 0},
		QuadCost: []solver.QuadTerm{{Var1: 0, Var2: 1, Coef: 1}},
		Lower:    []float64{0, 0},
		Upper:    []float64{math.Inf(1), 3},
		Tol:      tol,
	}
	_, err := in.Solve()
	require.Error(t, err)
	var noEnv *NoEnvelopeError
	assert.ErrorAs(t, err, &noEnv)
}

func TestSolveBilinearEnvelope(t *testing.T) {
	// minimize -2xy over 0 <= x <= 3, 0 <= y <= 2. The envelope upper bound
	// for w = xy on that box is attained at the corner (3, 2), so the
	// relaxation reaches the true optimum z = -12 exactly.
	in := Input{
		Cost:     []float64{0, 0},
		QuadCost: []solver.QuadTerm{{Var1: 0, Var2: 1, Coef: -2}},
		Lower:    []float64{0, 0},
		Upper:    []float64{3, 2},
		Tol:      tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.InDelta(t, -12.0, res.Z, 1e-9)
	assert.InDelta(t, 6.0, res.Terms[MakeTermKey(0, 1)], 1e-9)
}

func TestSolveQuadraticRow(t *testing.T) {
	// minimize -x - 10y with x + 7y <= 17.5, xy <= 5 (via envelope),
	// 0 <= x <= 3.5, 0 <= y <= 10. The envelope keeps the solve linear;
	// its optimum bounds the true quadratic optimum from below.
	in := Input{
		Cost:  []float64{-1, -10},
		Lower: []float64{0, 0},
		Upper: []float64{3.5, 10},
		Rows: []solver.LinearConstraint{{
			Lower: math.Inf(-1),
			Upper: 17.5,
			Terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 7}},
		}},
		QuadRows: []solver.QuadraticConstraint{{
			Lower:     math.Inf(-1),
			Upper:     5,
			QuadTerms: []solver.QuadTerm{{Var1: 0, Var2: 1, Coef: 1}},
		}},
		Tol: tol,
	}
	res, err := in.Solve()
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Z, -22.0+1e-9, "relaxation must bound the true optimum of 22 from below")
	w := res.Terms[MakeTermKey(0, 1)]
	assert.LessOrEqual(t, w, 5.0+tol, "auxiliary must respect the linearized row")
}

func TestEnvelopeTermsBounds(t *testing.T) {
	tests := []struct {
		name   string
		key    [2]int
		lower  []float64
		upper  []float64
		wantLo float64
		wantHi float64
	}{
		{
			name:  "bilinear nonnegative box",
			key:   [2]int{0, 1},
			lower: []float64{0, 0}, upper: []float64{3, 2},
			wantLo: 0, wantHi: 6,
		},
		{
			name:  "bilinear mixed-sign box",
			key:   [2]int{0, 1},
			lower: []float64{-2, 1}, upper: []float64{3, 4},
			wantLo: -8, wantHi: 12,
		},
		{
			name:  "square spanning zero",
			key:   [2]int{0, 0},
			lower: []float64{-2, 0}, upper: []float64{3, 0},
			wantLo: 0, wantHi: 9,
		},
		{
			name:  "square strictly positive",
			key:   [2]int{0, 0},
			lower: []float64{2, 0}, upper: []float64{5, 0},
			wantLo: 4, wantHi: 25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				Cost:     make([]float64, len(tt.lower)),
				QuadCost: []solver.QuadTerm{{Var1: tt.key[0], Var2: tt.key[1], Coef: 1}},
				Lower:    tt.lower,
				Upper:    tt.upper,
			}
			keys, bounds, err := envelopeTerms(in)
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, MakeTermKey(tt.key[0], tt.key[1]), keys[0])
			assert.InDelta(t, tt.wantLo, bounds[0][0], 1e-12)
			assert.InDelta(t, tt.wantHi, bounds[0][1], 1e-12)
		})
	}
}

func TestMakeTermKey(t *testing.T) {
	assert.Equal(t, TermKey{1, 3}, MakeTermKey(3, 1))
	assert.Equal(t, TermKey{2, 2}, MakeTermKey(2, 2))
}

func TestMatPoolReuse(t *testing.T) {
	p := NewMatPool()
	a := p.GetDense(3, 4)
	a.Set(1, 2, 9)
	p.PutDense(a)

	b := p.GetDense(3, 4)
	assert.Same(t, a, b, "matching dims should reuse the pooled matrix")
	assert.Equal(t, 0.0, b.At(1, 2), "reused matrix must come back zeroed")

	c := p.GetDense(2, 2)
	assert.NotSame(t, a, c)
}

func TestMatPoolNilReceiver(t *testing.T) {
	var p *MatPool
	m := p.GetDense(2, 3)
	require.NotNil(t, m)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	p.PutDense(m)
}
