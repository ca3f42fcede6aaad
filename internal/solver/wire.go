package solver

import (
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Wire form of models and solutions. CBOR is the canonical cross-process
// encoding; the same structs carry JSON tags for the HTTP API. Infinite
// bounds are encoded as absent pointers so both codecs round-trip them.

// General constraint kinds.
const (
	KindQuadratic = "quadratic"
	KindIndicator = "indicator"
)

// WireTerm mirrors Term.
type WireTerm struct {
	Var  int     `cbor:"1,keyasint" json:"var"`
	Coef float64 `cbor:"2,keyasint" json:"coef"`
}

// WireQuadTerm mirrors QuadTerm.
type WireQuadTerm struct {
	Var1 int     `cbor:"1,keyasint" json:"var1"`
	Var2 int     `cbor:"2,keyasint" json:"var2"`
	Coef float64 `cbor:"3,keyasint" json:"coef"`
}

// WireVariable mirrors Variable. A nil Lower means -Inf, a nil Upper +Inf.
type WireVariable struct {
	Name    string   `cbor:"1,keyasint,omitempty" json:"name,omitempty"`
	Lower   *float64 `cbor:"2,keyasint,omitempty" json:"lower,omitempty"`
	Upper   *float64 `cbor:"3,keyasint,omitempty" json:"upper,omitempty"`
	Integer bool     `cbor:"4,keyasint,omitempty" json:"integer,omitempty"`
	Cost    float64  `cbor:"5,keyasint,omitempty" json:"cost,omitempty"`
}

// WireLinearConstraint mirrors LinearConstraint.
type WireLinearConstraint struct {
	Name  string     `cbor:"1,keyasint,omitempty" json:"name,omitempty"`
	Lower *float64   `cbor:"2,keyasint,omitempty" json:"lower,omitempty"`
	Upper *float64   `cbor:"3,keyasint,omitempty" json:"upper,omitempty"`
	Terms []WireTerm `cbor:"4,keyasint" json:"terms"`
}

// WireQuadraticConstraint mirrors QuadraticConstraint.
type WireQuadraticConstraint struct {
	Name      string         `cbor:"1,keyasint,omitempty" json:"name,omitempty"`
	Lower     *float64       `cbor:"2,keyasint,omitempty" json:"lower,omitempty"`
	Upper     *float64       `cbor:"3,keyasint,omitempty" json:"upper,omitempty"`
	QuadTerms []WireQuadTerm `cbor:"4,keyasint" json:"quad_terms"`
	Terms     []WireTerm     `cbor:"5,keyasint,omitempty" json:"terms,omitempty"`
}

// WireIndicatorConstraint mirrors IndicatorConstraint.
type WireIndicatorConstraint struct {
	Var        int                  `cbor:"1,keyasint" json:"var"`
	Value      int                  `cbor:"2,keyasint" json:"value"`
	Constraint WireLinearConstraint `cbor:"3,keyasint" json:"constraint"`
}

// WireGeneralConstraint is a kind-tagged union of the non-linear constraint
// kinds.
type WireGeneralConstraint struct {
	Kind      string                   `cbor:"1,keyasint" json:"kind"`
	Quadratic *WireQuadraticConstraint `cbor:"2,keyasint,omitempty" json:"quadratic,omitempty"`
	Indicator *WireIndicatorConstraint `cbor:"3,keyasint,omitempty" json:"indicator,omitempty"`
}

// WireObjective mirrors Objective.
type WireObjective struct {
	Maximize  bool           `cbor:"1,keyasint,omitempty" json:"maximize,omitempty"`
	QuadTerms []WireQuadTerm `cbor:"2,keyasint,omitempty" json:"quad_terms,omitempty"`
	Offset    float64        `cbor:"3,keyasint,omitempty" json:"offset,omitempty"`
}

// WireModel is the serialized form of a Model.
type WireModel struct {
	Name        string                  `cbor:"1,keyasint,omitempty" json:"name,omitempty"`
	Variables   []WireVariable          `cbor:"2,keyasint" json:"variables"`
	Constraints []WireLinearConstraint  `cbor:"3,keyasint,omitempty" json:"constraints,omitempty"`
	General     []WireGeneralConstraint `cbor:"4,keyasint,omitempty" json:"general_constraints,omitempty"`
	Objective   WireObjective           `cbor:"5,keyasint,omitempty" json:"objective,omitempty"`
}

// WireSolution is the serialized form of a Solution.
type WireSolution struct {
	Status    string    `cbor:"1,keyasint" json:"status"`
	Objective float64   `cbor:"2,keyasint,omitempty" json:"objective,omitempty"`
	Values    []float64 `cbor:"3,keyasint,omitempty" json:"values,omitempty"`
}

func boundPtr(v float64, inf float64) *float64 {
	if math.IsInf(v, int(inf)) {
		return nil
	}
	b := v
	return &b
}

func boundVal(p *float64, inf float64) float64 {
	if p == nil {
		return math.Inf(int(inf))
	}
	return *p
}

func wireTerms(terms []Term) []WireTerm {
	if terms == nil {
		return nil
	}
	out := make([]WireTerm, len(terms))
	for i, t := range terms {
		out[i] = WireTerm(t)
	}
	return out
}

func modelTerms(terms []WireTerm) []Term {
	if terms == nil {
		return nil
	}
	out := make([]Term, len(terms))
	for i, t := range terms {
		out[i] = Term(t)
	}
	return out
}

func wireQuadTerms(terms []QuadTerm) []WireQuadTerm {
	if terms == nil {
		return nil
	}
	out := make([]WireQuadTerm, len(terms))
	for i, t := range terms {
		out[i] = WireQuadTerm(t)
	}
	return out
}

func modelQuadTerms(terms []WireQuadTerm) []QuadTerm {
	if terms == nil {
		return nil
	}
	out := make([]QuadTerm, len(terms))
	for i, t := range terms {
		out[i] = QuadTerm(t)
	}
	return out
}

func wireLinear(c LinearConstraint) WireLinearConstraint {
	return WireLinearConstraint{
		Name:  c.Name,
		Lower: boundPtr(c.Lower, -1),
		Upper: boundPtr(c.Upper, +1),
		Terms: wireTerms(c.Terms),
	}
}

func modelLinear(c WireLinearConstraint) LinearConstraint {
	return LinearConstraint{
		Name:  c.Name,
		Lower: boundVal(c.Lower, -1),
		Upper: boundVal(c.Upper, +1),
		Terms: modelTerms(c.Terms),
	}
}

// ToWire converts a Model to its wire form.
func (m *Model) ToWire() *WireModel {
	w := &WireModel{
		Name:      m.Name,
		Variables: make([]WireVariable, len(m.Variables)),
		Objective: WireObjective{
			Maximize:  m.Objective.Maximize,
			QuadTerms: wireQuadTerms(m.Objective.QuadTerms),
			Offset:    m.Objective.Offset,
		},
	}
	for i, v := range m.Variables {
		w.Variables[i] = WireVariable{
			Name:    v.Name,
			Lower:   boundPtr(v.Lower, -1),
			Upper:   boundPtr(v.Upper, +1),
			Integer: v.Integer,
			Cost:    v.Cost,
		}
	}
	for _, c := range m.Linear {
		w.Constraints = append(w.Constraints, wireLinear(c))
	}
	for _, c := range m.Quadratic {
		qc := WireQuadraticConstraint{
			Name:      c.Name,
			Lower:     boundPtr(c.Lower, -1),
			Upper:     boundPtr(c.Upper, +1),
			QuadTerms: wireQuadTerms(c.QuadTerms),
			Terms:     wireTerms(c.Terms),
		}
		w.General = append(w.General, WireGeneralConstraint{Kind: KindQuadratic, Quadratic: &qc})
	}
	for _, c := range m.Indicators {
		ic := WireIndicatorConstraint{
			Var:        c.Var,
			Value:      c.Value,
			Constraint: wireLinear(c.Constraint),
		}
		w.General = append(w.General, WireGeneralConstraint{Kind: KindIndicator, Indicator: &ic})
	}
	return w
}

// ToModel converts a wire model back into a Model, validating it.
func (w *WireModel) ToModel() (*Model, error) {
	m := &Model{
		Name:      w.Name,
		Variables: make([]Variable, len(w.Variables)),
		Objective: Objective{
			Maximize:  w.Objective.Maximize,
			QuadTerms: modelQuadTerms(w.Objective.QuadTerms),
			Offset:    w.Objective.Offset,
		},
	}
	for i, v := range w.Variables {
		m.Variables[i] = Variable{
			Name:    v.Name,
			Lower:   boundVal(v.Lower, -1),
			Upper:   boundVal(v.Upper, +1),
			Integer: v.Integer,
			Cost:    v.Cost,
		}
	}
	for _, c := range w.Constraints {
		m.Linear = append(m.Linear, modelLinear(c))
	}
	for i, g := range w.General {
		switch g.Kind {
		case KindQuadratic:
			if g.Quadratic == nil {
				return nil, invalidf("general constraint %d: quadratic kind without payload", i)
			}
			m.Quadratic = append(m.Quadratic, QuadraticConstraint{
				Name:      g.Quadratic.Name,
				Lower:     boundVal(g.Quadratic.Lower, -1),
				Upper:     boundVal(g.Quadratic.Upper, +1),
				QuadTerms: modelQuadTerms(g.Quadratic.QuadTerms),
				Terms:     modelTerms(g.Quadratic.Terms),
			})
		case KindIndicator:
			if g.Indicator == nil {
				return nil, invalidf("general constraint %d: indicator kind without payload", i)
			}
			m.Indicators = append(m.Indicators, IndicatorConstraint{
				Var:        g.Indicator.Var,
				Value:      g.Indicator.Value,
				Constraint: modelLinear(g.Indicator.Constraint),
			})
		default:
			return nil, invalidf("general constraint %d: unknown kind %q", i, g.Kind)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeModel serializes a model to CBOR.
func EncodeModel(m *Model) ([]byte, error) {
	return cbor.Marshal(m.ToWire())
}

// DecodeModel deserializes and validates a CBOR model.
func DecodeModel(data []byte) (*Model, error) {
	var w WireModel
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, WrapError(err, "decoding model").WithComponent("wire")
	}
	return w.ToModel()
}

// EncodeSolution serializes a solution to CBOR.
func EncodeSolution(s *Solution) ([]byte, error) {
	return cbor.Marshal(&WireSolution{
		Status:    s.Status.String(),
		Objective: s.Objective,
		Values:    s.Values,
	})
}

// DecodeSolution deserializes a CBOR solution.
func DecodeSolution(data []byte) (*Solution, error) {
	var w WireSolution
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, WrapError(err, "decoding solution").WithComponent("wire")
	}
	s := &Solution{Objective: w.Objective, Values: w.Values}
	for st := StatusNotSolved; st <= StatusNumericalFailure; st++ {
		if st.String() == w.Status {
			s.Status = st
			return s, nil
		}
	}
	return nil, NewErrorf("unknown solution status %q", w.Status).WithComponent("wire")
}
