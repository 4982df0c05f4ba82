// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, sessions, flows.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets the pipeline has processed, by transport
	// variant ("TCP", "QUIC", "PLUS").
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vppplus_packets_total",
			Help: "Packets processed by the pipeline, by protocol variant.",
		}, []string{"variant"})

	// SessionsCreatedTotal counts sessions created, by variant.
	SessionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vppplus_sessions_created_total",
			Help: "Sessions created, by protocol variant.",
		}, []string{"variant"})

	// SessionsExpiredTotal counts sessions removed by timer expiry.
	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vppplus_sessions_expired_total",
			Help: "Sessions removed by timer-wheel expiry.",
		},
	)

	// SessionsActive tracks the current number of live sessions in the
	// table.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vppplus_sessions_active",
			Help: "Sessions currently occupying the session pool.",
		},
	)

	// RTTHistogram tracks sampled RTT estimates, by protocol variant.
	RTTHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vppplus_rtt_seconds",
			Help: "RTT estimates produced by the per-protocol estimators.",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		},
		[]string{"variant"})

	// ErrorCount measures the number of non-fatal per-packet errors, by kind.
	//
	// Provides metrics:
	//    vppplus_error_total
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vppplus_error_total",
			Help: "The total number of per-packet errors encountered, by kind.",
		}, []string{"kind"})

	// PoolExhaustedTotal counts first-packets that could not create a
	// session because the pool was full.
	PoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vppplus_pool_exhausted_total",
			Help: "First-packets dropped from tracking because the session pool was full.",
		},
	)

	// HopCountIncrementedTotal counts PLUS packets whose extension
	// hop-count byte was incremented in place.
	HopCountIncrementedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vppplus_plus_hop_count_incremented_total",
			Help: "PLUS packets whose extension hop-count byte was incremented.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in vpp-plus.metrics are registered.")
}
