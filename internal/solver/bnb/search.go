package bnb

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/FJORD/internal/logging"
	"github.com/copyleftdev/FJORD/internal/solver"
	"github.com/copyleftdev/FJORD/internal/solver/presolve"
	"github.com/copyleftdev/FJORD/internal/solver/relax"
)

// search owns one branch-and-bound run over a presolved working model. The
// model itself is read-only during the search; all mutable state per node
// lives in the node's own bound arrays.
type search struct {
	m        *solver.Model
	cost     []float64 // internal minimize sense
	quadCost []solver.QuadTerm
	integer  []bool
	tol      float64
	maxNodes int64
	pool     *relax.MatPool
	log      *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    nodeHeap
	inflight int
	nextSeq  int64
	nodes    int64

	stopped   bool // cooperative stop: cancellation or node cap
	unbounded bool
	failure   error

	hasIncumbent bool
	incumbentZ   float64 // internal minimize sense
	incumbent    []float64
}

// outcome is the terminal search state handed to the response builder.
type outcome struct {
	status    solver.Status
	point     []float64
	z         float64 // internal minimize sense
	nodes     int64
	unbounded bool
}

func newSearch(m *solver.Model, opts solver.Options, log *logging.Logger) *search {
	n := len(m.Variables)
	s := &search{
		m:        m,
		cost:     make([]float64, n),
		integer:  make([]bool, n),
		tol:      opts.Tolerance,
		maxNodes: opts.MaxNodes,
		pool:     relax.NewMatPool(),
		log:      log,
	}
	sign := 1.0
	if m.Objective.Maximize {
		sign = -1
	}
	for i, v := range m.Variables {
		s.cost[i] = sign * v.Cost
		s.integer[i] = v.Integer
	}
	for _, t := range m.Objective.QuadTerms {
		t.Coef *= sign
		s.quadCost = append(s.quadCost, t)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// run explores the tree with the given number of workers until the queue
// drains or the search is stopped. Workers share the queue and incumbent
// under one mutex; each node's bound arrays belong to the worker processing
// it.
func (s *search) run(ctx context.Context, workers int) outcome {
	root := &node{bound: math.Inf(-1)}
	root.lower, root.upper = make([]float64, len(s.cost)), make([]float64, len(s.cost))
	for i, v := range s.m.Variables {
		root.lower[i], root.upper[i] = v.Lower, v.Upper
	}
	s.queue = nodeHeap{root}

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-watchDone:
		}
	}()

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			s.work()
			return nil
		})
	}
	_ = g.Wait()
	close(watchDone)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := outcome{nodes: s.nodes, unbounded: s.unbounded}
	switch {
	case s.failure != nil:
		out.status = solver.StatusNumericalFailure
	case s.unbounded:
		out.status = solver.StatusUnbounded
	case s.stopped:
		if s.hasIncumbent {
			out.status = solver.StatusFeasible
			out.point, out.z = s.incumbent, s.incumbentZ
		} else {
			out.status = solver.StatusNotSolved
		}
	case s.hasIncumbent:
		out.status = solver.StatusOptimal
		out.point, out.z = s.incumbent, s.incumbentZ
	default:
		out.status = solver.StatusInfeasible
	}
	return out
}

func (s *search) terminal() bool {
	return s.stopped || s.unbounded || s.failure != nil
}

func (s *search) work() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.inflight > 0 && !s.terminal() {
			s.cond.Wait()
		}
		if s.terminal() || (len(s.queue) == 0 && s.inflight == 0) {
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		nd := heap.Pop(&s.queue).(*node)
		// The incumbent may have improved since this node was queued.
		if s.hasIncumbent && nd.bound >= s.incumbentZ-s.tol {
			s.mu.Unlock()
			continue
		}
		s.nodes++
		if s.maxNodes > 0 && s.nodes > s.maxNodes {
			s.stopped = true
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		s.inflight++
		s.mu.Unlock()

		children, err := s.process(nd)

		s.mu.Lock()
		s.inflight--
		if err != nil {
			s.failure = err
		}
		for _, c := range children {
			c.seq = s.nextSeq
			s.nextSeq++
			heap.Push(&s.queue, c)
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// process solves one node and returns the children to enqueue, if any.
func (s *search) process(nd *node) ([]*node, error) {
	rows, feasible := s.tighten(nd)
	if !feasible {
		s.debug("node pruned by propagation", nd)
		return nil, nil
	}

	res, err := relax.Input{
		Cost:     s.cost,
		QuadCost: s.quadCost,
		Lower:    nd.lower,
		Upper:    nd.upper,
		Rows:     rows,
		QuadRows: s.m.Quadratic,
		Tol:      s.tol,
		Pool:     s.pool,
	}.Solve()
	if err != nil {
		var noEnv *relax.NoEnvelopeError
		switch {
		case errors.Is(err, relax.ErrInfeasible):
			s.debug("node relaxation infeasible", nd)
			return nil, nil
		case errors.Is(err, relax.ErrUnbounded), errors.As(err, &noEnv):
			// Unresolved indicators can bound the region once branched.
			if v := s.unfixedTrigger(nd); v >= 0 {
				return []*node{nd.child(v, 0, 0), nd.child(v, 1, 1)}, nil
			}
			s.mu.Lock()
			s.unbounded = true
			s.cond.Broadcast()
			s.mu.Unlock()
			return nil, nil
		default:
			return nil, err
		}
	}

	s.mu.Lock()
	pruned := s.hasIncumbent && res.Z >= s.incumbentZ-s.tol
	s.mu.Unlock()
	if pruned {
		s.debug("node pruned by bound", nd)
		return nil, nil
	}

	if v := s.fractionalVar(res.X); v >= 0 {
		lo, hi := math.Floor(res.X[v]), math.Ceil(res.X[v])
		return []*node{
			s.bounded(nd, v, nd.lower[v], lo, res.Z),
			s.bounded(nd, v, hi, nd.upper[v], res.Z),
		}, nil
	}

	point := s.roundIntegral(res.X)

	if v := s.violatedIndicatorTrigger(nd, point); v >= 0 {
		a, b := nd.child(v, 0, 0), nd.child(v, 1, 1)
		a.bound, b.bound = res.Z, res.Z
		return []*node{a, b}, nil
	}

	if key, ok := s.violatedQuadRow(point, res); ok {
		return s.spatialBranch(nd, key, point, res), nil
	}

	// Feasible integral point: true objective, not the relaxation's
	// envelope value.
	trueZ := s.evaluate(point)
	s.mu.Lock()
	if !s.hasIncumbent || trueZ < s.incumbentZ-s.tol {
		s.hasIncumbent = true
		s.incumbentZ = trueZ
		s.incumbent = point
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	s.debug("incumbent candidate", nd)

	if res.Z < trueZ-s.tol {
		// Envelope gap on the objective: the subtree may still hold a
		// better point than this one.
		if key, ok := s.gappedObjectiveTerm(point, res); ok {
			return s.spatialBranch(nd, key, point, res), nil
		}
	}
	return nil, nil
}

// tighten applies node-local bound propagation over the active rows,
// re-resolving indicator activations as triggers get fixed.
func (s *search) tighten(nd *node) ([]solver.LinearConstraint, bool) {
	rows := s.activeRows(nd)
	for i := 0; i <= len(s.m.Indicators); i++ {
		changed, feasible := presolve.PropagateBounds(rows, nd.lower, nd.upper, s.integer, s.tol)
		if !feasible {
			return nil, false
		}
		if !changed {
			break
		}
		next := s.activeRows(nd)
		if len(next) == len(rows) {
			break
		}
		rows = next
	}
	return rows, true
}

func (s *search) activeRows(nd *node) []solver.LinearConstraint {
	rows := append([]solver.LinearConstraint(nil), s.m.Linear...)
	for _, ic := range s.m.Indicators {
		if s.triggerFixedAt(nd, ic) {
			rows = append(rows, ic.Constraint)
		}
	}
	return rows
}

func (s *search) triggerFixedAt(nd *node, ic solver.IndicatorConstraint) bool {
	v := float64(ic.Value)
	return nd.upper[ic.Var]-nd.lower[ic.Var] <= s.tol && math.Abs(nd.lower[ic.Var]-v) <= s.tol
}

// unfixedTrigger returns the lowest-indexed indicator trigger variable not
// yet fixed by the node bounds, or -1.
func (s *search) unfixedTrigger(nd *node) int {
	best := -1
	for _, ic := range s.m.Indicators {
		if nd.upper[ic.Var]-nd.lower[ic.Var] > s.tol {
			if best < 0 || ic.Var < best {
				best = ic.Var
			}
		}
	}
	return best
}

// fractionalVar picks the integer-constrained variable with the largest
// fractional deviation from the nearest integer, ties to the lowest index.
func (s *search) fractionalVar(x []float64) int {
	best, bestDev := -1, s.tol
	for i, xi := range x {
		if !s.integer[i] {
			continue
		}
		dev := math.Abs(xi - math.Round(xi))
		if dev > bestDev {
			best, bestDev = i, dev
		}
	}
	return best
}

func (s *search) roundIntegral(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for i := range out {
		if s.integer[i] {
			out[i] = math.Round(out[i])
		}
	}
	return out
}

// violatedIndicatorTrigger finds an unresolved indicator whose trigger takes
// its trigger value at the point while the embedded row is violated. The
// trigger is the branching variable.
func (s *search) violatedIndicatorTrigger(nd *node, point []float64) int {
	for _, ic := range s.m.Indicators {
		if nd.upper[ic.Var]-nd.lower[ic.Var] <= s.tol {
			continue // resolved: the active row was part of the relaxation
		}
		if math.Abs(point[ic.Var]-float64(ic.Value)) > s.tol {
			continue // trigger off: the constraint does not apply here
		}
		if !s.rowHolds(ic.Constraint, point) {
			return ic.Var
		}
	}
	return -1
}

func (s *search) rowHolds(row solver.LinearConstraint, point []float64) bool {
	v := 0.0
	for _, t := range row.Terms {
		v += t.Coef * point[t.Var]
	}
	return v >= row.Lower-s.tol && v <= row.Upper+s.tol
}

// violatedQuadRow evaluates the true quadratic constraints at the point and
// returns the most-gapped term of the most-violated row.
func (s *search) violatedQuadRow(point []float64, res *relax.Result) (relax.TermKey, bool) {
	var bestKey relax.TermKey
	bestViolation := s.tol
	found := false
	for _, qr := range s.m.Quadratic {
		v := 0.0
		for _, t := range qr.Terms {
			v += t.Coef * point[t.Var]
		}
		for _, t := range qr.QuadTerms {
			v += t.Coef * point[t.Var1] * point[t.Var2]
		}
		violation := math.Max(qr.Lower-v, v-qr.Upper)
		if violation > bestViolation {
			// A violated row always has a term whose envelope value strays
			// from the true product; branch on the widest-gapped one.
			if key, ok := s.gappedTerm(qr.QuadTerms, point, res, 0); ok {
				bestKey, bestViolation, found = key, violation, true
			}
		}
	}
	return bestKey, found
}

// gappedObjectiveTerm returns the objective term whose envelope value is
// furthest from the true product at the point.
func (s *search) gappedObjectiveTerm(point []float64, res *relax.Result) (relax.TermKey, bool) {
	return s.gappedTerm(s.quadCost, point, res, s.tol)
}

func (s *search) gappedTerm(terms []solver.QuadTerm, point []float64, res *relax.Result, minGap float64) (relax.TermKey, bool) {
	var bestKey relax.TermKey
	bestGap := minGap
	found := false
	for _, t := range terms {
		key := relax.MakeTermKey(t.Var1, t.Var2)
		gap := math.Abs(res.Terms[key] - point[t.Var1]*point[t.Var2])
		if gap > bestGap {
			bestKey, bestGap, found = key, gap, true
		}
	}
	return bestKey, found
}

// spatialBranch splits the domain of one participant of a gapped quadratic
// term: the wider domain first, ties to the lower index. Integer domains
// split around the point value; continuous domains split at the point, with
// a midpoint fallback at the box edge.
func (s *search) spatialBranch(nd *node, key relax.TermKey, point []float64, res *relax.Result) []*node {
	// A gapped term always has a participant with room to split: once both
	// are fixed the envelope pins the auxiliary to the exact product.
	v := key[0]
	if key[1] != key[0] {
		w0 := nd.upper[key[0]] - nd.lower[key[0]]
		w1 := nd.upper[key[1]] - nd.lower[key[1]]
		if w1 > w0 {
			v = key[1]
		}
	}
	lo, hi := nd.lower[v], nd.upper[v]

	if s.integer[v] {
		at := math.Round(point[v])
		if at >= hi {
			at = hi - 1
		}
		if at < lo {
			at = lo
		}
		return []*node{
			s.bounded(nd, v, lo, at, res.Z),
			s.bounded(nd, v, at+1, hi, res.Z),
		}
	}

	at := res.X[v]
	if at-lo <= s.tol || hi-at <= s.tol {
		at = (lo + hi) / 2
	}
	return []*node{
		s.bounded(nd, v, lo, at, res.Z),
		s.bounded(nd, v, at, hi, res.Z),
	}
}

func (s *search) bounded(nd *node, v int, lower, upper, bound float64) *node {
	c := nd.child(v, lower, upper)
	c.bound = bound
	return c
}

func (s *search) evaluate(point []float64) float64 {
	z := 0.0
	for i, c := range s.cost {
		z += c * point[i]
	}
	for _, t := range s.quadCost {
		z += t.Coef * point[t.Var1] * point[t.Var2]
	}
	return z
}

func (s *search) debug(msg string, nd *node) {
	if s.log == nil {
		return
	}
	s.log.Debug(msg, map[string]interface{}{"depth": nd.depth, "bound": nd.bound})
}
