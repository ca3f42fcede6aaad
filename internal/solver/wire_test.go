package solver

import (
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireTestModel(t *testing.T) *Model {
	b := NewModelBuilder()
	b.SetName("wire")
	x := b.NumVar(math.Inf(-1), 3.5, "x")
	y := b.IntVar(0, math.Inf(1), "y")
	k := b.BoolVar("k")
	b.SetCost(x, 1).SetCost(y, 10)
	b.SetMaximize(true)
	b.SetOffset(2.5)
	b.AddConstraint(LinearConstraint{
		Name:  "cap",
		Lower: math.Inf(-1),
		Upper: 17.5,
		Terms: []Term{{Var: x, Coef: 1}, {Var: y, Coef: 7}},
	})
	b.AddQuadraticConstraint(QuadraticConstraint{
		Name:      "bilinear",
		Lower:     math.Inf(-1),
		Upper:     5,
		QuadTerms: []QuadTerm{{Var1: x, Var2: y, Coef: 1}},
	})
	b.AddIndicatorConstraint(IndicatorConstraint{
		Var:   k,
		Value: 1,
		Constraint: LinearConstraint{
			Lower: math.Inf(-1),
			Upper: 24.5,
			Terms: []Term{{Var: x, Coef: 1}},
		},
	})
	b.AddObjectiveQuadTerm(x, y, 2)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestModelWireRoundTrip(t *testing.T) {
	m := wireTestModel(t)

	data, err := EncodeModel(m)
	require.NoError(t, err)
	got, err := DecodeModel(data)
	require.NoError(t, err)

	assert.Equal(t, m.Name, got.Name)
	require.Len(t, got.Variables, 3)
	assert.True(t, math.IsInf(got.Variables[0].Lower, -1), "free lower bound must survive the round trip")
	assert.Equal(t, 3.5, got.Variables[0].Upper)
	assert.True(t, math.IsInf(got.Variables[1].Upper, +1))
	assert.True(t, got.Variables[1].Integer)
	assert.Equal(t, 10.0, got.Variables[1].Cost)

	require.Len(t, got.Linear, 1)
	assert.True(t, math.IsInf(got.Linear[0].Lower, -1))
	assert.Equal(t, 17.5, got.Linear[0].Upper)
	assert.Equal(t, m.Linear[0].Terms, got.Linear[0].Terms)

	require.Len(t, got.Quadratic, 1)
	assert.Equal(t, m.Quadratic[0].QuadTerms, got.Quadratic[0].QuadTerms)
	assert.Equal(t, 5.0, got.Quadratic[0].Upper)

	require.Len(t, got.Indicators, 1)
	assert.Equal(t, 2, got.Indicators[0].Var)
	assert.Equal(t, 1, got.Indicators[0].Value)
	assert.Equal(t, 24.5, got.Indicators[0].Constraint.Upper)

	assert.True(t, got.Objective.Maximize)
	assert.Equal(t, 2.5, got.Objective.Offset)
	assert.Equal(t, m.Objective.QuadTerms, got.Objective.QuadTerms)
}

func TestDecodeModelValidates(t *testing.T) {
	w := &WireModel{
		Variables: []WireVariable{{Name: "x"}},
		Constraints: []WireLinearConstraint{
			{Terms: []WireTerm{{Var: 5, Coef: 1}}},
		},
	}
	_, err := w.ToModel()
	require.Error(t, err)
	var ime *InvalidModelError
	assert.ErrorAs(t, err, &ime)
}

func TestToModelUnknownKind(t *testing.T) {
	w := &WireModel{
		Variables: []WireVariable{{Name: "x"}},
		General:   []WireGeneralConstraint{{Kind: "sos1"}},
	}
	_, err := w.ToModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestToModelMissingPayload(t *testing.T) {
	w := &WireModel{
		Variables: []WireVariable{{Name: "x"}},
		General:   []WireGeneralConstraint{{Kind: KindQuadratic}},
	}
	_, err := w.ToModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without payload")
}

func TestSolutionWireRoundTrip(t *testing.T) {
	s := &Solution{Status: StatusOptimal, Objective: 23, Values: []float64{3, 2, 1}}
	data, err := EncodeSolution(s)
	require.NoError(t, err)
	got, err := DecodeSolution(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDecodeSolutionUnknownStatus(t *testing.T) {
	bad, err := cbor.Marshal(&WireSolution{Status: "BOGUS"})
	require.NoError(t, err)
	_, err = DecodeSolution(bad)
	assert.Error(t, err)
}
