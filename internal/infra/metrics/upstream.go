package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(upstreamCallDuration) }

// service: gateway|backend ; op: create|status|balance|grant_subscription|... ; result: ok|unavailable|rejected
var upstreamCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "upstream_call_duration_seconds",
		Help:    "Latency of outbound HTTP calls to the payment gateway and the fitness backend.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"service", "op", "result"},
)

func ObserveUpstream(service, op, result string, d time.Duration) {
	upstreamCallDuration.WithLabelValues(norm(service), norm(op), norm(result)).Observe(d.Seconds())
}
