package bnb

import "container/heap"

// node is one branch-and-bound subproblem: a bound-tightening delta over the
// working variables (held as full lower/upper copies) plus the parent's
// relaxation bound. Indicator activation state is implied by the trigger
// bounds, so branching on a trigger is just a bound fix.
type node struct {
	lower []float64
	upper []float64

	// bound is the parent relaxation value in the internal minimize sense;
	// the root carries -Inf.
	bound float64

	// seq makes the best-first order total: FIFO among equal bounds.
	seq int64

	depth int
}

// child copies the node with one variable's bounds replaced.
func (n *node) child(v int, lower, upper float64) *node {
	c := &node{
		lower: append([]float64(nil), n.lower...),
		upper: append([]float64(nil), n.upper...),
		bound: n.bound,
		depth: n.depth + 1,
	}
	c.lower[v] = lower
	c.upper[v] = upper
	return c
}

// nodeHeap is a best-bound-first priority queue.
type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].bound != h[j].bound {
		return h[i].bound < h[j].bound
	}
	return h[i].seq < h[j].seq
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(*node)) }

func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var _ heap.Interface = (*nodeHeap)(nil)
