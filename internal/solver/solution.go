package solver

// Status is the terminal state of a solve.
type Status int

const (
	// StatusNotSolved means the search stopped before finding any feasible
	// point (cancellation or node cap).
	StatusNotSolved Status = iota
	// StatusOptimal means the search proved the incumbent optimal.
	StatusOptimal
	// StatusFeasible means the search was stopped early; the best incumbent
	// found so far is reported without an optimality proof.
	StatusFeasible
	// StatusInfeasible means no feasible point exists.
	StatusInfeasible
	// StatusUnbounded means the objective has no finite optimum.
	StatusUnbounded
	// StatusNumericalFailure means the relaxation solver failed to converge.
	// Never conflated with infeasibility.
	StatusNumericalFailure
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotSolved:
		return "NOT_SOLVED"
	case StatusOptimal:
		return "OPTIMAL"
	case StatusFeasible:
		return "FEASIBLE"
	case StatusInfeasible:
		return "INFEASIBLE"
	case StatusUnbounded:
		return "UNBOUNDED"
	case StatusNumericalFailure:
		return "NUMERICAL_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// HasValues reports whether solutions with this status carry an objective
// value and a variable assignment.
func (s Status) HasValues() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Solution is the terminal result of a solve: a status, the objective value
// in the caller's sense, and variable values in original model order.
// Values is nil unless Status.HasValues().
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
}
