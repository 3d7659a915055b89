package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		creditsTotal,
		danglingCreditsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment records by status reached (pending/completed/failed/expired).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of completed payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	// result: credited|failed|retried
	creditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_credits_total",
			Help: "Ledger credit attempts for completed payments by result.",
		},
		[]string{"result"},
	)

	danglingCreditsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_dangling_credits_total",
			Help: "Payments that completed but could not be credited on the backend.",
		},
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(f)
}

func IncCredit(result string) {
	creditsTotal.WithLabelValues(norm(result)).Inc()
}

func IncDanglingCredit() {
	danglingCreditsTotal.Inc()
}
