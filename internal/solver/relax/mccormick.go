package relax

import (
	"math"
	"sort"

	"github.com/copyleftdev/FJORD/internal/solver"
)

// envelopeTerms collects the distinct quadratic terms of the input in sorted
// order and computes the bounds of each term's auxiliary variable from the
// corner products. A term with an unbounded participant has no finite
// envelope and yields a NoEnvelopeError; envelope-based bounding never
// assumes the quadratic form is convex.
func envelopeTerms(in Input) ([]TermKey, [][2]float64, error) {
	seen := make(map[TermKey]bool)
	var keys []TermKey
	collect := func(terms []solver.QuadTerm) {
		for _, t := range terms {
			k := MakeTermKey(t.Var1, t.Var2)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	collect(in.QuadCost)
	for _, qr := range in.QuadRows {
		collect(qr.QuadTerms)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	bounds := make([][2]float64, len(keys))
	for i, k := range keys {
		xl, xu := in.Lower[k[0]], in.Upper[k[0]]
		yl, yu := in.Lower[k[1]], in.Upper[k[1]]
		if math.IsInf(xl, 0) || math.IsInf(xu, 0) || math.IsInf(yl, 0) || math.IsInf(yu, 0) {
			return nil, nil, &NoEnvelopeError{Term: solver.QuadTerm{Var1: k[0], Var2: k[1], Coef: 1}}
		}
		if k[0] == k[1] {
			lo := 0.0
			if xl > 0 || xu < 0 {
				lo = math.Min(xl*xl, xu*xu)
			}
			bounds[i] = [2]float64{lo, math.Max(xl*xl, xu*xu)}
			continue
		}
		corners := [4]float64{xl * yl, xl * yu, xu * yl, xu * yu}
		lo, hi := corners[0], corners[0]
		for _, c := range corners[1:] {
			lo = math.Min(lo, c)
			hi = math.Max(hi, c)
		}
		bounds[i] = [2]float64{lo, hi}
	}
	return keys, bounds, nil
}

// envelopeRows builds the McCormick rows tying the auxiliary variable to its
// product over the current box. For squares the tangent under-estimators and
// the secant over-estimator are used instead.
func envelopeRows(key TermKey, aux int, lower, upper []float64) []solver.LinearConstraint {
	ninf := math.Inf(-1)
	x, y := key[0], key[1]
	xl, xu := lower[x], upper[x]

	if x == y {
		// w >= 2*xl*x - xl^2, w >= 2*xu*x - xu^2, w <= (xl+xu)*x - xl*xu.
		return []solver.LinearConstraint{
			{Lower: ninf, Upper: xl * xl, Terms: []solver.Term{{Var: x, Coef: 2 * xl}, {Var: aux, Coef: -1}}},
			{Lower: ninf, Upper: xu * xu, Terms: []solver.Term{{Var: x, Coef: 2 * xu}, {Var: aux, Coef: -1}}},
			{Lower: ninf, Upper: -xl * xu, Terms: []solver.Term{{Var: x, Coef: -(xl + xu)}, {Var: aux, Coef: 1}}},
		}
	}

	yl, yu := lower[y], upper[y]
	// w >= xl*y + yl*x - xl*yl    w >= xu*y + yu*x - xu*yu
	// w <= xu*y + yl*x - xu*yl    w <= xl*y + yu*x - xl*yu
	return []solver.LinearConstraint{
		{Lower: ninf, Upper: xl * yl, Terms: []solver.Term{{Var: y, Coef: xl}, {Var: x, Coef: yl}, {Var: aux, Coef: -1}}},
		{Lower: ninf, Upper: xu * yu, Terms: []solver.Term{{Var: y, Coef: xu}, {Var: x, Coef: yu}, {Var: aux, Coef: -1}}},
		{Lower: ninf, Upper: -xu * yl, Terms: []solver.Term{{Var: y, Coef: -xu}, {Var: x, Coef: -yl}, {Var: aux, Coef: 1}}},
		{Lower: ninf, Upper: -xl * yu, Terms: []solver.Term{{Var: y, Coef: -xl}, {Var: x, Coef: -yu}, {Var: aux, Coef: 1}}},
	}
}
