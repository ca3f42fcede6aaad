package bnb

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/copyleftdev/FJORD/internal/solver"
)

// randomILP builds a small always-feasible bounded integer program: the zero
// point satisfies every row, so the solve is never infeasible or unbounded.
func randomILP(rng *rand.Rand) *solver.Model {
	b := solver.NewModelBuilder()
	ubs := make([]int, 3)
	for i := range ubs {
		ubs[i] = 1 + rng.Intn(3)
		v := b.IntVar(0, float64(ubs[i]), "v")
		b.SetCost(v, float64(rng.Intn(11)-5))
	}
	for r := 0; r < 2; r++ {
		var terms []solver.Term
		for v := 0; v < 3; v++ {
			if c := rng.Intn(5); c > 0 {
				terms = append(terms, solver.Term{Var: v, Coef: float64(c)})
			}
		}
		if len(terms) == 0 {
			continue
		}
		b.AddConstraint(solver.LinearConstraint{
			Lower: math.Inf(-1),
			Upper: float64(rng.Intn(13)),
			Terms: terms,
		})
	}
	b.SetMaximize(true)
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// bruteForce enumerates every integer point of the box and returns the best
// feasible objective value.
func bruteForce(m *solver.Model) float64 {
	best := math.Inf(-1)
	n := len(m.Variables)
	point := make([]float64, n)
	var walk func(int)
	walk = func(v int) {
		if v == n {
			for _, row := range m.Linear {
				sum := 0.0
				for _, t := range row.Terms {
					sum += t.Coef * point[t.Var]
				}
				if sum < row.Lower-1e-9 || sum > row.Upper+1e-9 {
					return
				}
			}
			z, _ := m.Evaluate(point)
			if z > best {
				best = z
			}
			return
		}
		for i := int(m.Variables[v].Lower); i <= int(m.Variables[v].Upper); i++ {
			point[v] = float64(i)
			walk(v + 1)
		}
	}
	walk(0)
	return best
}

func TestSolveMatchesBruteForce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	properties.Property("branch-and-bound optimum == exhaustive optimum", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			m := randomILP(rng)

			eng, err := New(solver.Options{}, nil)
			if err != nil {
				return false
			}
			sol, err := eng.Solve(context.Background(), m)
			if err != nil || sol.Status != solver.StatusOptimal {
				return false
			}

			// The reported point must be integral, feasible and worth the
			// reported objective.
			for i, v := range sol.Values {
				if math.Abs(v-math.Round(v)) > 1e-6 {
					return false
				}
				if v < m.Variables[i].Lower-1e-6 || v > m.Variables[i].Upper+1e-6 {
					return false
				}
			}
			z, err := m.Evaluate(sol.Values)
			if err != nil || math.Abs(z-sol.Objective) > 1e-6 {
				return false
			}

			return math.Abs(sol.Objective-bruteForce(m)) <= 1e-6
		},
		gen.Int64(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
