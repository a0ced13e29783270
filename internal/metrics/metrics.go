// Package metrics holds the prometheus collectors of the locked trees and the stress harness. The collectors are
// registered with the default registry on package initialization.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results, used as the value of the "result" label.
const (
	ResultInsert      = "insert"
	ResultUpdate      = "update"
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultInterrupted = "interrupted"
)

var (
	// Operations counts the tree calls, labeled by the locking variant, the operation (put or get) and the
	// outcome.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locktree_operations_total",
			Help: "Total number of tree operations",
		},
		[]string{"variant", "op", "result"},
	)

	// LockWait measures the time spent waiting for the lock, labeled by the locking variant and the lock mode.
	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "locktree_lock_wait_seconds",
			Help: "Time spent acquiring the tree lock",
			// from an uncontended acquisition to heavy contention
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"variant", "mode"},
	)

	// Keys tracks the number of stored keys, summed over the trees of the same variant.
	Keys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locktree_keys",
			Help: "Number of keys stored in the trees",
		},
		[]string{"variant"},
	)

	// ActiveWorkers is the number of stress workers currently issuing operations.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locktree_stress_active_workers",
			Help: "Number of running stress workers",
		},
	)
)
