// Package relax solves the continuous relaxation of a (sub)model: a linear
// program over the original variables plus one auxiliary variable per
// distinct quadratic term, linearized by McCormick envelopes.
package relax

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/copyleftdev/FJORD/internal/solver"
)

var (
	// ErrInfeasible means the relaxation's feasible region is empty.
	ErrInfeasible = errors.New("relaxation infeasible")
	// ErrUnbounded means the relaxation objective is unbounded below.
	ErrUnbounded = errors.New("relaxation unbounded")
)

// NoEnvelopeError reports a quadratic term whose envelope cannot be built
// because a participating variable has an infinite bound. The search treats
// it like an unbounded relaxation: branch if possible.
type NoEnvelopeError struct {
	Term solver.QuadTerm
}

func (e *NoEnvelopeError) Error() string {
	return "no finite envelope for quadratic term"
}

// TermKey identifies a quadratic term with Var1 <= Var2.
type TermKey [2]int

// MakeTermKey normalizes a variable pair.
func MakeTermKey(i, j int) TermKey {
	if i > j {
		i, j = j, i
	}
	return TermKey{i, j}
}

// Input is one relaxation solve: minimize Cost'x + sum(QuadCost) subject to
// Rows, QuadRows and the variable bounds. Integrality is ignored here.
type Input struct {
	Cost     []float64
	QuadCost []solver.QuadTerm
	Lower    []float64
	Upper    []float64
	Rows     []solver.LinearConstraint
	QuadRows []solver.QuadraticConstraint
	Tol      float64
	Pool     *MatPool
}

// Result is an optimal vertex of the relaxation.
type Result struct {
	// Z is the relaxation objective value (no constant offset).
	Z float64
	// X holds the original decision variables.
	X []float64
	// Terms holds the envelope auxiliary value per quadratic term. It can
	// differ from the true product; the gap drives spatial branching.
	Terms map[TermKey]float64
}

type sparseRow struct {
	cols  []int
	coefs []float64
	b     float64
	eq    bool
}

// Solve builds the standard-form LP and runs the simplex method on it.
func (in Input) Solve() (*Result, error) {
	n := len(in.Cost)
	tol := in.Tol
	if tol <= 0 {
		tol = solver.DefaultTolerance
	}

	keys, bounds, err := envelopeTerms(in)
	if err != nil {
		return nil, err
	}

	// Extended variable space: originals then one auxiliary per term.
	ext := n + len(keys)
	lower := make([]float64, ext)
	upper := make([]float64, ext)
	copy(lower, in.Lower)
	copy(upper, in.Upper)
	cost := make([]float64, ext)
	copy(cost, in.Cost)
	keyAt := make(map[TermKey]int, len(keys))
	for i, k := range keys {
		keyAt[k] = n + i
		lower[n+i] = bounds[i][0]
		upper[n+i] = bounds[i][1]
	}
	for _, t := range in.QuadCost {
		cost[keyAt[MakeTermKey(t.Var1, t.Var2)]] += t.Coef
	}

	rows := extendedRows(in, keys, keyAt, lower, upper)

	// Columns: shifted variable for finite lower bounds, split pair for
	// free variables. Finite upper bounds become slack rows.
	posCol := make([]int, ext)
	negCol := make([]int, ext)
	shift := make([]float64, ext)
	cols := 0
	for v := 0; v < ext; v++ {
		negCol[v] = -1
		if math.IsInf(lower[v], -1) {
			posCol[v] = cols
			negCol[v] = cols + 1
			cols += 2
		} else {
			posCol[v] = cols
			shift[v] = lower[v]
			cols++
		}
	}

	var srows []sparseRow
	addRow := func(terms []solver.Term, lo, hi float64) {
		var sh float64
		idx := make(map[int]int)
		var rcols []int
		var rcoefs []float64
		add := func(c int, coef float64) {
			if at, ok := idx[c]; ok {
				rcoefs[at] += coef
				return
			}
			idx[c] = len(rcols)
			rcols = append(rcols, c)
			rcoefs = append(rcoefs, coef)
		}
		for _, t := range terms {
			sh += t.Coef * shift[t.Var]
			add(posCol[t.Var], t.Coef)
			if negCol[t.Var] >= 0 {
				add(negCol[t.Var], -t.Coef)
			}
		}
		loFinite := !math.IsInf(lo, -1)
		hiFinite := !math.IsInf(hi, +1)
		if loFinite && hiFinite && hi-lo <= tol {
			srows = append(srows, sparseRow{cols: rcols, coefs: rcoefs, b: (lo+hi)/2 - sh, eq: true})
			return
		}
		if hiFinite {
			srows = append(srows, sparseRow{cols: rcols, coefs: rcoefs, b: hi - sh})
		}
		if loFinite {
			neg := make([]float64, len(rcoefs))
			for i, c := range rcoefs {
				neg[i] = -c
			}
			srows = append(srows, sparseRow{cols: append([]int(nil), rcols...), coefs: neg, b: sh - lo})
		}
	}

	for _, r := range rows {
		addRow(r.Terms, r.Lower, r.Upper)
	}
	// Finite upper bounds as rows over the shifted/split columns. Fixed
	// variables need theirs too: without it the shifted column could still
	// move upward off the pinned value.
	for v := 0; v < ext; v++ {
		if !math.IsInf(upper[v], +1) {
			addRow([]solver.Term{{Var: v, Coef: 1}}, math.Inf(-1), upper[v])
		}
	}

	objConst := 0.0
	for v := 0; v < ext; v++ {
		objConst += cost[v] * shift[v]
	}

	if len(srows) == 0 {
		// No constraining rows: every column sits at zero unless its cost
		// pulls it to +infinity.
		for v := 0; v < ext; v++ {
			if cost[v] < -tol || (negCol[v] >= 0 && cost[v] > tol) {
				return nil, ErrUnbounded
			}
		}
		return assemble(in, keys, keyAt, shift, posCol, negCol, nil, objConst), nil
	}

	// Append one slack column per inequality row.
	slacks := 0
	for _, r := range srows {
		if !r.eq {
			slacks++
		}
	}
	total := cols + slacks
	c := make([]float64, total)
	for v := 0; v < ext; v++ {
		c[posCol[v]] += cost[v]
		if negCol[v] >= 0 {
			c[negCol[v]] -= cost[v]
		}
	}

	A := in.Pool.GetDense(len(srows), total)
	defer in.Pool.PutDense(A)
	b := make([]float64, len(srows))
	slack := cols
	for i, r := range srows {
		for j, col := range r.cols {
			A.Set(i, col, A.At(i, col)+r.coefs[j])
		}
		if !r.eq {
			A.Set(i, slack, 1)
			slack++
		}
		b[i] = r.b
	}

	z, x, err := lp.Simplex(c, A, b, 0, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, ErrInfeasible
		case errors.Is(err, lp.ErrUnbounded):
			return nil, ErrUnbounded
		default:
			return nil, solver.WrapError(err, "simplex failed").WithComponent("relax")
		}
	}
	return assemble(in, keys, keyAt, shift, posCol, negCol, x, z+objConst), nil
}

func assemble(in Input, keys []TermKey, keyAt map[TermKey]int, shift []float64, posCol, negCol []int, x []float64, z float64) *Result {
	n := len(in.Cost)
	res := &Result{Z: z, X: make([]float64, n), Terms: make(map[TermKey]float64, len(keys))}
	value := func(v int) float64 {
		val := shift[v]
		if x != nil {
			val += x[posCol[v]]
			if negCol[v] >= 0 {
				val -= x[negCol[v]]
			}
		}
		return val
	}
	for v := 0; v < n; v++ {
		res.X[v] = value(v)
	}
	for _, k := range keys {
		res.Terms[k] = value(keyAt[k])
	}
	return res
}

// extendedRows collects the active linear rows, the linearized quadratic
// rows, and the envelope rows, all over the extended variable space.
func extendedRows(in Input, keys []TermKey, keyAt map[TermKey]int, lower, upper []float64) []solver.LinearConstraint {
	rows := make([]solver.LinearConstraint, 0, len(in.Rows)+len(in.QuadRows)+4*len(keys))
	rows = append(rows, in.Rows...)
	for _, qr := range in.QuadRows {
		terms := append([]solver.Term(nil), qr.Terms...)
		for _, t := range qr.QuadTerms {
			terms = append(terms, solver.Term{Var: keyAt[MakeTermKey(t.Var1, t.Var2)], Coef: t.Coef})
		}
		rows = append(rows, solver.LinearConstraint{Lower: qr.Lower, Upper: qr.Upper, Terms: terms})
	}
	// Deterministic envelope order: keys are sorted at collection time.
	for _, key := range keys {
		rows = append(rows, envelopeRows(key, keyAt[key], lower, upper)...)
	}
	return rows
}
