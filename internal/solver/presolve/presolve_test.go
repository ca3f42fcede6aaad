package presolve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/FJORD/internal/solver"
)

const tol = 1e-6

func TestMergeTerms(t *testing.T) {
	tests := []struct {
		name  string
		terms []solver.Term
		want  []solver.Term
	}{
		{
			name:  "no duplicates",
			terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 2}},
			want:  []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 2}},
		},
		{
			name:  "duplicates summed in first-occurrence order",
			terms: []solver.Term{{Var: 1, Coef: 1}, {Var: 0, Coef: 3}, {Var: 1, Coef: 2}},
			want:  []solver.Term{{Var: 1, Coef: 3}, {Var: 0, Coef: 3}},
		},
		{
			name:  "cancelling duplicates dropped",
			terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 0, Coef: -1}, {Var: 1, Coef: 5}},
			want:  []solver.Term{{Var: 1, Coef: 5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeTerms(tt.terms))
		})
	}
}

func TestRunFoldsSingletonRows(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 100, "x")
	b.AddConstraint(solver.LinearConstraint{
		Lower: math.Inf(-1),
		Upper: 7,
		Terms: []solver.Term{{Var: x, Coef: 2}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	red, err := Run(m, tol)
	require.NoError(t, err)
	assert.False(t, red.Infeasible)
	assert.Empty(t, red.Model.Linear, "singleton row should fold into the bound")
	require.Len(t, red.Model.Variables, 1)
	assert.InDelta(t, 3.5, red.Model.Variables[0].Upper, tol)
}

func TestPropagateBoundsIntegerRounding(t *testing.T) {
	// 2x + 2y <= 3 over non-negative integers forces x, y <= 1.
	rows := []solver.LinearConstraint{{
		Lower: math.Inf(-1),
		Upper: 3,
		Terms: []solver.Term{{Var: 0, Coef: 2}, {Var: 1, Coef: 2}},
	}}
	lower := []float64{0, 0}
	upper := []float64{10, 10}
	integer := []bool{true, true}

	changed, feasible := PropagateBounds(rows, lower, upper, integer, tol)
	assert.True(t, changed)
	assert.True(t, feasible)
	assert.Equal(t, 1.0, upper[0])
	assert.Equal(t, 1.0, upper[1])
}

func TestPropagateBoundsSingleInfinity(t *testing.T) {
	// x + y <= 4 with y free below: the y contribution is the only infinite
	// one, so x still gets no new bound but y's upper does derive.
	rows := []solver.LinearConstraint{{
		Lower: math.Inf(-1),
		Upper: 4,
		Terms: []solver.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}},
	}}
	lower := []float64{0, math.Inf(-1)}
	upper := []float64{10, math.Inf(1)}
	integer := []bool{false, false}

	_, feasible := PropagateBounds(rows, lower, upper, integer, tol)
	assert.True(t, feasible)
	assert.InDelta(t, 4.0, upper[1], tol, "y <= 4 - min(x) must derive despite y's own infinite bound")
	assert.Equal(t, 10.0, upper[0], "x bound is not derivable while the rest is unbounded below")
}

func TestPropagateBoundsInfeasibleRow(t *testing.T) {
	rows := []solver.LinearConstraint{{
		Lower: 10,
		Upper: math.Inf(1),
		Terms: []solver.Term{{Var: 0, Coef: 1}},
	}}
	lower := []float64{0}
	upper := []float64{2}

	_, feasible := PropagateBounds(rows, lower, upper, []bool{false}, tol)
	assert.False(t, feasible)
}

func TestRunDetectsInfeasibility(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 10, "x")
	b.AddConstraint(solver.LinearConstraint{Lower: 5, Upper: math.Inf(1), Terms: []solver.Term{{Var: x, Coef: 1}}})
	b.AddConstraint(solver.LinearConstraint{Lower: math.Inf(-1), Upper: 2, Terms: []solver.Term{{Var: x, Coef: 1}}})
	m, err := b.Build()
	require.NoError(t, err)

	red, err := Run(m, tol)
	require.NoError(t, err)
	assert.True(t, red.Infeasible)
}

func TestRunRejectsInvalidModel(t *testing.T) {
	m := &solver.Model{
		Variables: []solver.Variable{{Name: "x", Lower: 3, Upper: 1}},
	}
	_, err := Run(m, tol)
	require.Error(t, err)
	var ime *solver.InvalidModelError
	assert.ErrorAs(t, err, &ime)
}

func TestRunEliminatesFixedVariables(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 10, "x")
	y := b.NumVar(4, 4, "y") // fixed
	b.SetCost(x, 1).SetCost(y, 3)
	b.AddConstraint(solver.LinearConstraint{
		Lower: math.Inf(-1),
		Upper: 9,
		Terms: []solver.Term{{Var: x, Coef: 1}, {Var: y, Coef: 1}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	red, err := Run(m, tol)
	require.NoError(t, err)
	assert.False(t, red.Infeasible)
	assert.Equal(t, 2, red.OriginalCount())
	require.Len(t, red.Model.Variables, 1)
	assert.Equal(t, "x", red.Model.Variables[0].Name)

	// y's contribution shifts the row bound: x <= 9 - 4 = 5, which folds
	// into the variable bound.
	assert.InDelta(t, 5.0, red.Model.Variables[0].Upper, tol)
	// The fixed cost folds into the offset.
	assert.InDelta(t, 12.0, red.Model.Objective.Offset, tol)

	out := red.Restore([]float64{2})
	assert.Equal(t, []float64{2, 4}, out)
}

func TestRunSubstitutesFixedIntoQuadratic(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 10, "x")
	y := b.NumVar(3, 3, "y") // fixed at 3
	// x*y <= 12 becomes the linear row 3x <= 12.
	b.AddQuadraticConstraint(solver.QuadraticConstraint{
		Lower:     math.Inf(-1),
		Upper:     12,
		QuadTerms: []solver.QuadTerm{{Var1: x, Var2: y, Coef: 1}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	red, err := Run(m, tol)
	require.NoError(t, err)
	assert.Empty(t, red.Model.Quadratic, "fully linearized quadratic row becomes a plain row")
	require.Len(t, red.Model.Variables, 1)
	require.Len(t, red.Model.Linear, 1)
	assert.Equal(t, []solver.Term{{Var: 0, Coef: 3}}, red.Model.Linear[0].Terms)
	assert.InDelta(t, 12.0, red.Model.Linear[0].Upper, tol)
}

func TestRunResolvesFixedIndicators(t *testing.T) {
	tests := []struct {
		name      string
		fixTo     float64
		wantUpper float64
	}{
		{name: "trigger fixed at value promotes the row", fixTo: 1, wantUpper: 6},
		{name: "trigger fixed at complement drops the row", fixTo: 0, wantUpper: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := solver.NewModelBuilder()
			x := b.NumVar(0, 10, "x")
			k := b.IntVar(tt.fixTo, tt.fixTo, "k")
			b.AddIndicatorConstraint(solver.IndicatorConstraint{
				Var:   k,
				Value: 1,
				Constraint: solver.LinearConstraint{
					Lower: math.Inf(-1),
					Upper: 6,
					Terms: []solver.Term{{Var: x, Coef: 1}},
				},
			})
			m, err := b.Build()
			require.NoError(t, err)

			red, err := Run(m, tol)
			require.NoError(t, err)
			assert.Empty(t, red.Model.Indicators)
			require.Len(t, red.Model.Variables, 1)
			assert.InDelta(t, tt.wantUpper, red.Model.Variables[0].Upper, tol)
		})
	}
}

func TestRunDropsRedundantRows(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 2, "x")
	y := b.NumVar(0, 2, "y")
	b.AddConstraint(solver.LinearConstraint{
		Name:  "loose",
		Lower: math.Inf(-1),
		Upper: 100,
		Terms: []solver.Term{{Var: x, Coef: 1}, {Var: y, Coef: 1}},
	})
	b.AddConstraint(solver.LinearConstraint{
		Name:  "binding",
		Lower: math.Inf(-1),
		Upper: 3,
		Terms: []solver.Term{{Var: x, Coef: 1}, {Var: y, Coef: 1}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	red, err := Run(m, tol)
	require.NoError(t, err)
	require.Len(t, red.Model.Linear, 1)
	assert.Equal(t, "binding", red.Model.Linear[0].Name)
}

func TestRunDoesNotMutateInput(t *testing.T) {
	b := solver.NewModelBuilder()
	x := b.NumVar(0, 100, "x")
	b.AddConstraint(solver.LinearConstraint{
		Lower: math.Inf(-1),
		Upper: 7,
		Terms: []solver.Term{{Var: x, Coef: 2}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	_, err = Run(m, tol)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.Variables[0].Upper)
	assert.Len(t, m.Linear, 1)
}
