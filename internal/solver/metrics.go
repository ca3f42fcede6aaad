package solver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	solvesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fjord",
		Name:      "solves_total",
		Help:      "Completed solves by terminal status.",
	}, []string{"status"})

	solveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fjord",
		Name:      "solve_duration_seconds",
		Help:      "Wall-clock duration of completed solves.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	nodesExplored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fjord",
		Name:      "nodes_explored_total",
		Help:      "Branch-and-bound nodes explored.",
	})
)

// registerMetrics is called exactly once, from Init.
func registerMetrics() {
	prometheus.MustRegister(solvesTotal, solveDuration, nodesExplored)
}

// ObserveSolve records a completed solve.
func ObserveSolve(status Status, d time.Duration) {
	solvesTotal.WithLabelValues(status.String()).Inc()
	solveDuration.Observe(d.Seconds())
}

// ObserveNodes records explored branch-and-bound nodes.
func ObserveNodes(n int64) {
	nodesExplored.Add(float64(n))
}
