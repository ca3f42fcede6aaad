package solver

import (
	"fmt"
	"math"
)

// Term is a single (variable, coefficient) entry of a linear form.
type Term struct {
	Var  int
	Coef float64
}

// QuadTerm is a single (var1, var2, coefficient) entry of a symmetric
// bilinear form. Var1 == Var2 denotes a square term.
type QuadTerm struct {
	Var1 int
	Var2 int
	Coef float64
}

// Variable is a decision variable. Its index in Model.Variables is its
// identity; indices are positional and never reassigned.
type Variable struct {
	Name    string
	Lower   float64 // may be -Inf
	Upper   float64 // may be +Inf
	Integer bool
	Cost    float64 // linear objective coefficient
}

// IsBinary reports whether the variable is integral with bounds within [0, 1].
func (v Variable) IsBinary() bool {
	return v.Integer && v.Lower >= 0 && v.Upper <= 1
}

// LinearConstraint is a range constraint Lower <= sum(Coef*x) <= Upper.
// A variable index may appear in more than one term; presolve sums duplicates.
type LinearConstraint struct {
	Name  string
	Lower float64
	Upper float64
	Terms []Term
}

// QuadraticConstraint is a range constraint over a bilinear form plus an
// optional embedded linear part.
type QuadraticConstraint struct {
	Name      string
	Lower     float64
	Upper     float64
	QuadTerms []QuadTerm
	Terms     []Term
}

// IndicatorConstraint activates its embedded linear constraint exactly when
// the binary trigger variable equals Value.
type IndicatorConstraint struct {
	Var        int // trigger variable index
	Value      int // 0 or 1
	Constraint LinearConstraint
}

// Objective holds the objective sense and the quadratic part. The linear part
// lives on the variables as their Cost fields.
type Objective struct {
	Maximize  bool
	QuadTerms []QuadTerm
	Offset    float64
}

// Model is a complete MIQCP instance. It is constructed once by the caller
// and treated as read-only by the solver.
type Model struct {
	Name       string
	Variables  []Variable
	Linear     []LinearConstraint
	Quadratic  []QuadraticConstraint
	Indicators []IndicatorConstraint
	Objective  Objective
}

// Validate checks the model invariants: consistent variable bounds, in-range
// variable references everywhere, and binary indicator triggers. It returns
// an *InvalidModelError describing the first violation found.
func (m *Model) Validate() error {
	n := len(m.Variables)

	for i, v := range m.Variables {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) {
			return invalidf("variable %d (%s): NaN bound", i, v.Name)
		}
		if v.Lower > v.Upper {
			return invalidf("variable %d (%s): lower bound %v exceeds upper bound %v", i, v.Name, v.Lower, v.Upper)
		}
	}

	checkTerms := func(where string, terms []Term) error {
		for _, t := range terms {
			if t.Var < 0 || t.Var >= n {
				return invalidf("%s references variable %d, model has %d variables", where, t.Var, n)
			}
		}
		return nil
	}
	checkQuadTerms := func(where string, terms []QuadTerm) error {
		for _, t := range terms {
			if t.Var1 < 0 || t.Var1 >= n || t.Var2 < 0 || t.Var2 >= n {
				return invalidf("%s references variable pair (%d, %d), model has %d variables", where, t.Var1, t.Var2, n)
			}
		}
		return nil
	}

	for i, c := range m.Linear {
		if err := checkTerms(fmt.Sprintf("linear constraint %d", i), c.Terms); err != nil {
			return err
		}
	}
	for i, c := range m.Quadratic {
		if err := checkQuadTerms(fmt.Sprintf("quadratic constraint %d", i), c.QuadTerms); err != nil {
			return err
		}
		if err := checkTerms(fmt.Sprintf("quadratic constraint %d", i), c.Terms); err != nil {
			return err
		}
	}
	for i, ic := range m.Indicators {
		if ic.Var < 0 || ic.Var >= n {
			return invalidf("indicator constraint %d references trigger variable %d, model has %d variables", i, ic.Var, n)
		}
		if ic.Value != 0 && ic.Value != 1 {
			return invalidf("indicator constraint %d: trigger value must be 0 or 1, got %d", i, ic.Value)
		}
		if !m.Variables[ic.Var].IsBinary() {
			return invalidf("indicator constraint %d: trigger variable %d is not binary", i, ic.Var)
		}
		if err := checkTerms(fmt.Sprintf("indicator constraint %d", i), ic.Constraint.Terms); err != nil {
			return err
		}
	}
	if err := checkQuadTerms("objective", m.Objective.QuadTerms); err != nil {
		return err
	}

	return nil
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := &Model{
		Name:       m.Name,
		Variables:  append([]Variable(nil), m.Variables...),
		Linear:     make([]LinearConstraint, len(m.Linear)),
		Quadratic:  make([]QuadraticConstraint, len(m.Quadratic)),
		Indicators: make([]IndicatorConstraint, len(m.Indicators)),
		Objective:  m.Objective,
	}
	c.Objective.QuadTerms = append([]QuadTerm(nil), m.Objective.QuadTerms...)
	for i, lc := range m.Linear {
		lc.Terms = append([]Term(nil), lc.Terms...)
		c.Linear[i] = lc
	}
	for i, qc := range m.Quadratic {
		qc.QuadTerms = append([]QuadTerm(nil), qc.QuadTerms...)
		qc.Terms = append([]Term(nil), qc.Terms...)
		c.Quadratic[i] = qc
	}
	for i, ic := range m.Indicators {
		ic.Constraint.Terms = append([]Term(nil), ic.Constraint.Terms...)
		c.Indicators[i] = ic
	}
	return c
}

// ModelBuilder assembles a Model incrementally and validates it at Build
// time. The zero value is not usable; use NewModelBuilder.
type ModelBuilder struct {
	m Model
}

// NewModelBuilder returns an empty builder for a minimization model.
func NewModelBuilder() *ModelBuilder {
	return &ModelBuilder{}
}

// SetName sets the model name.
func (b *ModelBuilder) SetName(name string) *ModelBuilder {
	b.m.Name = name
	return b
}

// NumVar adds a continuous variable and returns its index.
func (b *ModelBuilder) NumVar(lower, upper float64, name string) int {
	b.m.Variables = append(b.m.Variables, Variable{Name: name, Lower: lower, Upper: upper})
	return len(b.m.Variables) - 1
}

// IntVar adds an integer variable and returns its index.
func (b *ModelBuilder) IntVar(lower, upper float64, name string) int {
	b.m.Variables = append(b.m.Variables, Variable{Name: name, Lower: lower, Upper: upper, Integer: true})
	return len(b.m.Variables) - 1
}

// BoolVar adds a binary variable and returns its index.
func (b *ModelBuilder) BoolVar(name string) int {
	return b.IntVar(0, 1, name)
}

// SetCost sets the linear objective coefficient of variable v.
func (b *ModelBuilder) SetCost(v int, cost float64) *ModelBuilder {
	if v >= 0 && v < len(b.m.Variables) {
		b.m.Variables[v].Cost = cost
	}
	return b
}

// AddConstraint appends a linear range constraint.
func (b *ModelBuilder) AddConstraint(c LinearConstraint) *ModelBuilder {
	b.m.Linear = append(b.m.Linear, c)
	return b
}

// AddQuadraticConstraint appends a quadratic range constraint.
func (b *ModelBuilder) AddQuadraticConstraint(c QuadraticConstraint) *ModelBuilder {
	b.m.Quadratic = append(b.m.Quadratic, c)
	return b
}

// AddIndicatorConstraint appends an indicator constraint.
func (b *ModelBuilder) AddIndicatorConstraint(c IndicatorConstraint) *ModelBuilder {
	b.m.Indicators = append(b.m.Indicators, c)
	return b
}

// AddObjectiveQuadTerm appends a quadratic objective term coef * x_i * x_j.
func (b *ModelBuilder) AddObjectiveQuadTerm(i, j int, coef float64) *ModelBuilder {
	b.m.Objective.QuadTerms = append(b.m.Objective.QuadTerms, QuadTerm{Var1: i, Var2: j, Coef: coef})
	return b
}

// SetMaximize sets the objective sense.
func (b *ModelBuilder) SetMaximize(maximize bool) *ModelBuilder {
	b.m.Objective.Maximize = maximize
	return b
}

// SetOffset sets the constant objective offset.
func (b *ModelBuilder) SetOffset(offset float64) *ModelBuilder {
	b.m.Objective.Offset = offset
	return b
}

// Build validates the assembled model and returns an immutable copy of it.
// The builder stays usable afterwards.
func (b *ModelBuilder) Build() (*Model, error) {
	if err := b.m.Validate(); err != nil {
		return nil, err
	}
	return b.m.Clone(), nil
}
