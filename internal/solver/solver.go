// Package solver defines the MIQCP model, solution and engine contract shared
// by the presolve, relaxation and branch-and-bound packages.
package solver

import (
	"context"
	"fmt"
	"sync"
)

// Backend selects the solver engine. Backend choice is a configuration
// input; it is never inferred from the model shape.
type Backend string

const (
	// BackendBranchAndBound is the branch-and-bound MIQCP engine.
	BackendBranchAndBound Backend = "branch_and_bound"
)

// ParseBackend converts a configuration string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendBranchAndBound:
		return BackendBranchAndBound, nil
	default:
		return "", NewErrorf("unknown solver backend %q", s).WithComponent("solver")
	}
}

// Engine is a solver for MIQCP models.
type Engine interface {
	// Solve runs the search to completion or cancellation. Malformed models
	// fail fast with an *InvalidModelError; every other outcome, including
	// infeasibility and numerical failure, is reported through the
	// Solution's Status.
	Solve(ctx context.Context, m *Model) (*Solution, error)

	// Best returns the best incumbent found so far, or nil.
	Best() *Solution

	// Stop cancels an in-progress solve cooperatively.
	Stop()
}

// Options configures an engine.
type Options struct {
	// Backend selects the engine implementation.
	Backend Backend

	// Workers is the number of parallel node workers. Values below 1 mean
	// single-threaded search.
	Workers int

	// MaxNodes caps the number of explored nodes; 0 means unlimited.
	// Reaching the cap reports the incumbent as FEASIBLE, like cancellation.
	MaxNodes int64

	// Tolerance is the feasibility and integrality tolerance.
	Tolerance float64

	// Verbose enables per-node debug logging.
	Verbose bool
}

// DefaultTolerance is used when Options.Tolerance is zero.
const DefaultTolerance = 1e-6

// Normalize fills in defaults and validates the options.
func (o Options) Normalize() (Options, error) {
	if o.Backend == "" {
		o.Backend = BackendBranchAndBound
	}
	if _, err := ParseBackend(string(o.Backend)); err != nil {
		return o, err
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o, nil
}

var initOnce sync.Once

// Init performs process-wide solver initialization. It is idempotent and
// safe to call concurrently; engines call it on construction.
func Init() {
	initOnce.Do(func() {
		registerMetrics()
	})
}

// Evaluate computes the true objective value of a point in the model's own
// sense, including the quadratic part and the constant offset.
func (m *Model) Evaluate(x []float64) (float64, error) {
	if len(x) != len(m.Variables) {
		return 0, fmt.Errorf("point has %d values, model has %d variables", len(x), len(m.Variables))
	}
	v := m.Objective.Offset
	for i, vr := range m.Variables {
		v += vr.Cost * x[i]
	}
	for _, t := range m.Objective.QuadTerms {
		v += t.Coef * x[t.Var1] * x[t.Var2]
	}
	return v, nil
}
