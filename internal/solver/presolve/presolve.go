// Package presolve validates and canonicalizes MIQCP models before search.
package presolve

import (
	"math"

	"github.com/copyleftdev/FJORD/internal/solver"
)

// maxPasses caps the normalize/propagate fixpoint loop.
const maxPasses = 20

// Reduced is the working form of a model after presolve. The caller's model
// is never mutated; eliminated variables are reconstructed by Restore.
type Reduced struct {
	// Model is the normalized working copy. Its variable indices are dense;
	// Keep maps them back to the original model.
	Model *solver.Model

	// Infeasible is set when presolve proves the model has no feasible
	// point. Model is still populated but should not be searched.
	Infeasible bool

	origCount int
	fixed     []float64 // by original index, NaN when not fixed
	keep      []int     // working index -> original index
}

// OriginalCount returns the variable count of the caller's model.
func (r *Reduced) OriginalCount() int { return r.origCount }

// Restore maps a working-model point back to original variable order,
// back-substituting eliminated variables.
func (r *Reduced) Restore(x []float64) []float64 {
	out := make([]float64, r.origCount)
	copy(out, r.fixed)
	for w, orig := range r.keep {
		out[orig] = x[w]
	}
	return out
}

// Run validates m and produces its normalized working copy: duplicate
// coefficients merged, single-variable rows folded into bounds, implied
// bounds tightened, trivially satisfied rows dropped, fixed variables
// eliminated. Malformed models fail with *InvalidModelError.
func Run(m *solver.Model, tol float64) (*Reduced, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if tol <= 0 {
		tol = solver.DefaultTolerance
	}

	w := m.Clone()
	mergeDuplicates(w)

	lower, upper, integer := boundArrays(w)

	for pass := 0; pass < maxPasses; pass++ {
		changed := foldSingletons(w, lower, upper, integer, tol)

		pc, feasible := PropagateBounds(w.Linear, lower, upper, integer, tol)
		if !feasible {
			return infeasibleResult(m, w, lower, upper), nil
		}
		changed = pc || changed
		changed = resolveIndicators(w, lower, upper, tol) || changed

		dropped, feasible := dropRedundant(w, lower, upper, tol)
		if !feasible {
			return infeasibleResult(m, w, lower, upper), nil
		}
		changed = dropped || changed

		if !changed {
			break
		}
	}

	writeBounds(w, lower, upper)
	red := eliminate(w, tol)

	// The reduced model can expose new redundancy (rows whose remaining
	// terms are all within bounds). One final sweep.
	lower, upper, integer = boundArrays(red.Model)
	if _, feasible := dropRedundant(red.Model, lower, upper, tol); !feasible {
		red.Infeasible = true
	}
	return red, nil
}

func infeasibleResult(orig, w *solver.Model, lower, upper []float64) *Reduced {
	writeBounds(w, lower, upper)
	return &Reduced{
		Model:      w,
		Infeasible: true,
		origCount:  len(orig.Variables),
		fixed:      nanSlice(len(orig.Variables)),
		keep:       identity(len(orig.Variables)),
	}
}

func boundArrays(m *solver.Model) (lower, upper []float64, integer []bool) {
	n := len(m.Variables)
	lower = make([]float64, n)
	upper = make([]float64, n)
	integer = make([]bool, n)
	for i, v := range m.Variables {
		lower[i], upper[i], integer[i] = v.Lower, v.Upper, v.Integer
	}
	return
}

func writeBounds(m *solver.Model, lower, upper []float64) {
	for i := range m.Variables {
		m.Variables[i].Lower = lower[i]
		m.Variables[i].Upper = upper[i]
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func identity(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// mergeDuplicates sums repeated variable indices within each linear form and
// normalizes quadratic term ordering (Var1 <= Var2) before merging pairs.
func mergeDuplicates(m *solver.Model) {
	for i := range m.Linear {
		m.Linear[i].Terms = MergeTerms(m.Linear[i].Terms)
	}
	for i := range m.Quadratic {
		m.Quadratic[i].Terms = MergeTerms(m.Quadratic[i].Terms)
		m.Quadratic[i].QuadTerms = mergeQuadTerms(m.Quadratic[i].QuadTerms)
	}
	for i := range m.Indicators {
		m.Indicators[i].Constraint.Terms = MergeTerms(m.Indicators[i].Constraint.Terms)
	}
	m.Objective.QuadTerms = mergeQuadTerms(m.Objective.QuadTerms)
}

// MergeTerms sums duplicate variable indices, preserving first-occurrence
// order and dropping zero coefficients.
func MergeTerms(terms []solver.Term) []solver.Term {
	if len(terms) < 2 {
		return terms
	}
	seen := make(map[int]int, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if at, ok := seen[t.Var]; ok {
			out[at].Coef += t.Coef
			continue
		}
		seen[t.Var] = len(out)
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

func mergeQuadTerms(terms []solver.QuadTerm) []solver.QuadTerm {
	if len(terms) == 0 {
		return terms
	}
	type key struct{ a, b int }
	seen := make(map[key]int, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if t.Var1 > t.Var2 {
			t.Var1, t.Var2 = t.Var2, t.Var1
		}
		k := key{t.Var1, t.Var2}
		if at, ok := seen[k]; ok {
			out[at].Coef += t.Coef
			continue
		}
		seen[k] = len(out)
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

// foldSingletons folds single-variable rows into the variable bounds and
// removes the rows.
func foldSingletons(m *solver.Model, lower, upper []float64, integer []bool, tol float64) bool {
	changed := false
	kept := m.Linear[:0]
	for _, c := range m.Linear {
		if len(c.Terms) != 1 || c.Terms[0].Coef == 0 {
			kept = append(kept, c)
			continue
		}
		t := c.Terms[0]
		lo, hi := c.Lower/t.Coef, c.Upper/t.Coef
		if t.Coef < 0 {
			lo, hi = hi, lo
		}
		tightenLower(t.Var, lo, lower, integer, tol)
		tightenUpper(t.Var, hi, upper, integer, tol)
		changed = true
	}
	m.Linear = kept
	return changed
}

func tightenLower(v int, bound float64, lower []float64, integer []bool, tol float64) bool {
	if integer[v] && !math.IsInf(bound, 0) {
		bound = math.Ceil(bound - tol)
	}
	if bound > lower[v]+tol {
		lower[v] = bound
		return true
	}
	return false
}

func tightenUpper(v int, bound float64, upper []float64, integer []bool, tol float64) bool {
	if integer[v] && !math.IsInf(bound, 0) {
		bound = math.Floor(bound + tol)
	}
	if bound < upper[v]-tol {
		upper[v] = bound
		return true
	}
	return false
}

// PropagateBounds runs activity-based bound propagation over linear rows,
// tightening lower/upper in place with integer rounding. It reports whether
// any bound changed and whether the domains remain non-empty. Shared by
// presolve and the per-node tightening in the search.
func PropagateBounds(rows []solver.LinearConstraint, lower, upper []float64, integer []bool, tol float64) (changed, feasible bool) {
	for pass := 0; pass < maxPasses; pass++ {
		passChanged := false
		for _, row := range rows {
			ok, ch := propagateRow(row, lower, upper, integer, tol)
			if !ok {
				return changed, false
			}
			passChanged = passChanged || ch
		}
		for v := range lower {
			if lower[v] > upper[v]+tol {
				return changed, false
			}
		}
		changed = changed || passChanged
		if !passChanged {
			return changed, true
		}
	}
	return changed, true
}

func propagateRow(row solver.LinearConstraint, lower, upper []float64, integer []bool, tol float64) (feasible, changed bool) {
	// Minimum and maximum row activity over the current domains, tracking
	// how many contributions are infinite so single-infinity relaxations
	// stay derivable.
	var minSum, maxSum float64
	var minInf, maxInf int
	contrib := func(t solver.Term) (lo, hi float64) {
		if t.Coef > 0 {
			return t.Coef * lower[t.Var], t.Coef * upper[t.Var]
		}
		return t.Coef * upper[t.Var], t.Coef * lower[t.Var]
	}
	for _, t := range row.Terms {
		lo, hi := contrib(t)
		if math.IsInf(lo, -1) {
			minInf++
		} else {
			minSum += lo
		}
		if math.IsInf(hi, +1) {
			maxInf++
		} else {
			maxSum += hi
		}
	}

	if minInf == 0 && minSum > row.Upper+tol {
		return false, changed
	}
	if maxInf == 0 && maxSum < row.Lower-tol {
		return false, changed
	}

	for _, t := range row.Terms {
		if t.Coef == 0 {
			continue
		}
		lo, hi := contrib(t)

		// Bound from the row upper: remaining minimum activity must leave
		// room for this term.
		if !math.IsInf(row.Upper, +1) {
			restDerivable := minInf == 0 || (minInf == 1 && math.IsInf(lo, -1))
			if restDerivable {
				rest := minSum
				if !math.IsInf(lo, -1) {
					rest -= lo
				}
				limit := (row.Upper - rest) / t.Coef
				if t.Coef > 0 {
					changed = tightenUpper(t.Var, limit, upper, integer, tol) || changed
				} else {
					changed = tightenLower(t.Var, limit, lower, integer, tol) || changed
				}
			}
		}

		// Bound from the row lower, symmetric.
		if !math.IsInf(row.Lower, -1) {
			restDerivable := maxInf == 0 || (maxInf == 1 && math.IsInf(hi, +1))
			if restDerivable {
				rest := maxSum
				if !math.IsInf(hi, +1) {
					rest -= hi
				}
				limit := (row.Lower - rest) / t.Coef
				if t.Coef > 0 {
					changed = tightenLower(t.Var, limit, lower, integer, tol) || changed
				} else {
					changed = tightenUpper(t.Var, limit, upper, integer, tol) || changed
				}
			}
		}
	}
	return true, changed
}

// resolveIndicators promotes indicators whose trigger is fixed at the trigger
// value to plain linear rows and drops those fixed at the complement.
func resolveIndicators(m *solver.Model, lower, upper []float64, tol float64) bool {
	changed := false
	kept := m.Indicators[:0]
	for _, ic := range m.Indicators {
		if upper[ic.Var]-lower[ic.Var] > tol {
			kept = append(kept, ic)
			continue
		}
		changed = true
		if math.Abs(lower[ic.Var]-float64(ic.Value)) <= tol {
			m.Linear = append(m.Linear, ic.Constraint)
		}
		// Trigger fixed at the complement: the constraint never applies.
	}
	m.Indicators = kept
	return changed
}

// dropRedundant removes linear rows that are satisfied for every point of the
// variable domains, and reports infeasibility for empty-range or term-free
// rows that exclude zero.
func dropRedundant(m *solver.Model, lower, upper []float64, tol float64) (changed, feasible bool) {
	kept := m.Linear[:0]
	for _, row := range m.Linear {
		if row.Lower > row.Upper+tol {
			m.Linear = append(kept, row)
			return changed, false
		}
		if len(row.Terms) == 0 {
			if row.Lower > tol || row.Upper < -tol {
				m.Linear = kept
				return changed, false
			}
			changed = true
			continue
		}
		if math.IsInf(row.Lower, -1) && math.IsInf(row.Upper, +1) {
			changed = true
			continue
		}
		var minSum, maxSum float64
		finite := true
		for _, t := range row.Terms {
			lo, hi := t.Coef*lower[t.Var], t.Coef*upper[t.Var]
			if t.Coef < 0 {
				lo, hi = hi, lo
			}
			if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
				finite = false
				break
			}
			minSum += lo
			maxSum += hi
		}
		if finite && minSum >= row.Lower-tol && maxSum <= row.Upper+tol {
			changed = true
			continue
		}
		kept = append(kept, row)
	}
	m.Linear = kept
	return changed, true
}

// eliminate removes variables fixed by presolve, substituting their values
// into every linear and quadratic form and recording them for Restore.
func eliminate(w *solver.Model, tol float64) *Reduced {
	n := len(w.Variables)
	red := &Reduced{
		origCount: n,
		fixed:     nanSlice(n),
	}
	newIdx := make([]int, n)
	for i, v := range w.Variables {
		if v.Upper-v.Lower <= tol {
			val := (v.Lower + v.Upper) / 2
			if v.Integer {
				val = math.Round(val)
			}
			red.fixed[i] = val
			newIdx[i] = -1
			continue
		}
		newIdx[i] = len(red.keep)
		red.keep = append(red.keep, i)
	}

	out := &solver.Model{Name: w.Name, Objective: w.Objective}
	out.Variables = make([]solver.Variable, 0, len(red.keep))
	for _, origIdx := range red.keep {
		out.Variables = append(out.Variables, w.Variables[origIdx])
	}

	subTerms := func(terms []solver.Term) (kept []solver.Term, shift float64) {
		for _, t := range terms {
			if ni := newIdx[t.Var]; ni >= 0 {
				kept = append(kept, solver.Term{Var: ni, Coef: t.Coef})
			} else {
				shift += t.Coef * red.fixed[t.Var]
			}
		}
		return kept, shift
	}
	shiftBounds := func(lo, hi, shift float64) (float64, float64) {
		if !math.IsInf(lo, -1) {
			lo -= shift
		}
		if !math.IsInf(hi, +1) {
			hi -= shift
		}
		return lo, hi
	}
	subQuadTerms := func(terms []solver.QuadTerm) (kept []solver.QuadTerm, linear []solver.Term, shift float64) {
		for _, t := range terms {
			i1, i2 := newIdx[t.Var1], newIdx[t.Var2]
			switch {
			case i1 >= 0 && i2 >= 0:
				kept = append(kept, solver.QuadTerm{Var1: i1, Var2: i2, Coef: t.Coef})
			case i1 < 0 && i2 < 0:
				shift += t.Coef * red.fixed[t.Var1] * red.fixed[t.Var2]
			case i1 < 0:
				linear = append(linear, solver.Term{Var: i2, Coef: t.Coef * red.fixed[t.Var1]})
			default:
				linear = append(linear, solver.Term{Var: i1, Coef: t.Coef * red.fixed[t.Var2]})
			}
		}
		return
	}

	for _, row := range w.Linear {
		terms, shift := subTerms(row.Terms)
		row.Terms = MergeTerms(terms)
		row.Lower, row.Upper = shiftBounds(row.Lower, row.Upper, shift)
		out.Linear = append(out.Linear, row)
	}
	for _, qc := range w.Quadratic {
		quad, extraLinear, qshift := subQuadTerms(qc.QuadTerms)
		terms, lshift := subTerms(qc.Terms)
		qc.QuadTerms = quad
		qc.Terms = MergeTerms(append(terms, extraLinear...))
		qc.Lower, qc.Upper = shiftBounds(qc.Lower, qc.Upper, qshift+lshift)
		if len(qc.QuadTerms) == 0 {
			// Fully linearized by substitution; it is a plain row now.
			out.Linear = append(out.Linear, solver.LinearConstraint{
				Name: qc.Name, Lower: qc.Lower, Upper: qc.Upper, Terms: qc.Terms,
			})
			continue
		}
		out.Quadratic = append(out.Quadratic, qc)
	}
	for _, ic := range w.Indicators {
		terms, shift := subTerms(ic.Constraint.Terms)
		ic.Constraint.Terms = MergeTerms(terms)
		ic.Constraint.Lower, ic.Constraint.Upper = shiftBounds(ic.Constraint.Lower, ic.Constraint.Upper, shift)
		if newIdx[ic.Var] < 0 {
			// Trigger fixed after the last resolve pass: promote or drop
			// here instead of carrying a dangling index.
			if math.Abs(red.fixed[ic.Var]-float64(ic.Value)) <= tol {
				out.Linear = append(out.Linear, ic.Constraint)
			}
			continue
		}
		ic.Var = newIdx[ic.Var]
		out.Indicators = append(out.Indicators, ic)
	}

	// Objective: fixed costs fold into the offset, quadratic terms with a
	// fixed participant fold into costs.
	for i, v := range w.Variables {
		if newIdx[i] < 0 {
			out.Objective.Offset += v.Cost * red.fixed[i]
		}
	}
	quad, extraLinear, shift := subQuadTerms(w.Objective.QuadTerms)
	out.Objective.QuadTerms = mergeQuadTerms(quad)
	out.Objective.Offset += shift
	for _, t := range extraLinear {
		out.Variables[t.Var].Cost += t.Coef
	}

	red.Model = out
	return red
}
