package relax

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// MatPool is a concurrency-safe pool of dense matrices reused across node
// relaxation solves to limit allocation churn during the search.
type MatPool struct {
	mu    sync.Mutex
	dense []*mat.Dense
}

// NewMatPool creates an empty pool.
func NewMatPool() *MatPool {
	return &MatPool{}
}

// GetDense returns a zeroed r x c matrix, reusing backing storage when a
// pooled matrix is large enough.
func (p *MatPool) GetDense(r, c int) *mat.Dense {
	if p == nil {
		return mat.NewDense(r, c, nil)
	}
	p.mu.Lock()
	for i := len(p.dense) - 1; i >= 0; i-- {
		m := p.dense[i]
		mr, mc := m.Dims()
		if mr == r && mc == c {
			p.dense = append(p.dense[:i], p.dense[i+1:]...)
			p.mu.Unlock()
			m.Zero()
			return m
		}
	}
	p.mu.Unlock()
	return mat.NewDense(r, c, nil)
}

// PutDense returns a matrix to the pool.
func (p *MatPool) PutDense(m *mat.Dense) {
	if p == nil || m == nil {
		return
	}
	p.mu.Lock()
	if len(p.dense) < 32 {
		p.dense = append(p.dense, m)
	}
	p.mu.Unlock()
}
