package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(pollerSweepDuration, pollerSweepsTotal, pollerExpiredTotal) }

var (
	pollerSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_poller_sweep_duration_seconds",
			Help:    "Wall time of one reconciliation sweep.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// result: ok|error|skipped (skipped = a sweep was already running)
	pollerSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poller_sweeps_total",
			Help: "Reconciliation sweeps by result.",
		},
		[]string{"result"},
	)

	pollerExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_poller_expired_total",
			Help: "Pending payments moved to expired by the poller.",
		},
	)
)

func ObserveSweep(result string, d time.Duration) {
	pollerSweepsTotal.WithLabelValues(norm(result)).Inc()
	if result != "skipped" {
		pollerSweepDuration.Observe(d.Seconds())
	}
}

func AddExpired(n int) {
	pollerExpiredTotal.Add(float64(n))
}
