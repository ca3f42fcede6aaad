// Package bnb implements the branch-and-bound MIQCP engine: presolve, then
// an exhaustive search over integrality, indicator and spatial branching
// decisions, bounded by McCormick-relaxed simplex solves at each node.
package bnb

import (
	"context"
	"sync"
	"time"

	"github.com/copyleftdev/FJORD/internal/logging"
	"github.com/copyleftdev/FJORD/internal/solver"
	"github.com/copyleftdev/FJORD/internal/solver/presolve"
)

// Engine is a solver.Engine backed by branch-and-bound.
type Engine struct {
	opts solver.Options
	log  *logging.Logger

	mu     sync.Mutex
	best   *solver.Solution
	cur    *search
	curRed *presolve.Reduced
	cancel context.CancelFunc
}

// New creates an engine. The logger may be nil; it is only consulted when
// Options.Verbose is set.
func New(opts solver.Options, log *logging.Logger) (*Engine, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	solver.Init()
	if !opts.Verbose {
		log = nil
	}
	return &Engine{opts: opts, log: log}, nil
}

// Solve runs the search. Malformed models fail fast with an
// *InvalidModelError; all other outcomes are statuses on the Solution.
func (e *Engine) Solve(ctx context.Context, m *solver.Model) (*solver.Solution, error) {
	start := time.Now()

	red, err := presolve.Run(m, e.opts.Tolerance)
	if err != nil {
		return nil, err
	}
	if red.Infeasible {
		return e.finish(&solver.Solution{Status: solver.StatusInfeasible}, start, 0), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	s := newSearch(red.Model, e.opts, e.log)
	e.mu.Lock()
	e.cur, e.curRed = s, red
	e.mu.Unlock()
	out := s.run(ctx, e.opts.Workers)
	e.mu.Lock()
	e.cur, e.curRed = nil, nil
	e.mu.Unlock()

	sol := &solver.Solution{Status: out.status}
	if out.status.HasValues() {
		sol.Objective = callerObjective(red.Model.Objective, out.z)
		sol.Values = red.Restore(out.point)
		e.mu.Lock()
		e.best = sol
		e.mu.Unlock()
	}
	return e.finish(sol, start, out.nodes), nil
}

// callerObjective maps the internal minimize value back into the model's own
// sense, including the constant offset.
func callerObjective(obj solver.Objective, z float64) float64 {
	if obj.Maximize {
		return -z + obj.Offset
	}
	return z + obj.Offset
}

func (e *Engine) finish(sol *solver.Solution, start time.Time, nodes int64) *solver.Solution {
	solver.ObserveSolve(sol.Status, time.Since(start))
	solver.ObserveNodes(nodes)
	if e.log != nil {
		e.log.Info("solve finished", map[string]interface{}{
			"status":  sol.Status.String(),
			"nodes":   nodes,
			"elapsed": time.Since(start).String(),
		})
	}
	return sol
}

// Best returns the best incumbent-backed solution found so far, including
// the incumbent of an in-progress search, or nil.
func (e *Engine) Best() *solver.Solution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != nil {
		e.cur.mu.Lock()
		has, z := e.cur.hasIncumbent, e.cur.incumbentZ
		point := append([]float64(nil), e.cur.incumbent...)
		e.cur.mu.Unlock()
		if has {
			return &solver.Solution{
				Status:    solver.StatusFeasible,
				Objective: callerObjective(e.cur.m.Objective, z),
				Values:    e.curRed.Restore(point),
			}
		}
	}
	return e.best
}

// Stop cancels an in-progress solve cooperatively. The solve returns the
// incumbent found so far as FEASIBLE rather than discarding it.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

var _ solver.Engine = (*Engine)(nil)
