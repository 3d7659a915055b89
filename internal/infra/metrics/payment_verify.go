package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentCallbackRequests,
		paymentCallbackDuration,
		paymentStatusChecks,
		paymentNotifyTotal,
	)
}

var (
	// result: ok|fail
	// reason (fail only): bad_signature|bad_json|unknown_order|amount_mismatch|method_not_allowed|internal
	paymentCallbackRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callback_requests_total",
			Help: "Gateway callbacks by result and reason.",
		},
		[]string{"result", "reason"},
	)

	paymentCallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Duration of the gateway callback handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// source: user|poller|callback ; outcome: processing|retry_later|completed|failed|expired
	paymentStatusChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_checks_total",
			Help: "Payment status checks by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// status: sent|error|no_user
	paymentNotifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notify_total",
			Help: "Telegram messages about completed payments by delivery status.",
		},
		[]string{"status"},
	)
)

func ObservePaymentCallback(result, reason string, d time.Duration) {
	if result == "ok" {
		reason = "none"
	}
	paymentCallbackRequests.WithLabelValues(norm(result), norm(reason)).Inc()
	paymentCallbackDuration.WithLabelValues(norm(result)).Observe(d.Seconds())
}

func IncStatusCheck(source, outcome string) {
	paymentStatusChecks.WithLabelValues(norm(source), norm(outcome)).Inc()
}

func IncPaymentNotify(status string) {
	paymentNotifyTotal.WithLabelValues(norm(status)).Inc()
}
