package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(adminCommandTotal, adminHTTPTotal) }

var (
	adminCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_command_total",
			Help: "Tracks attempts to use admin bot commands.",
		},
		[]string{"command", "status"}, // status: 'authorized', 'unauthorized'
	)

	adminHTTPTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_http_requests_total",
			Help: "Admin API requests by route and status class.",
		},
		[]string{"route", "code"},
	)
)

func IncAdminCommand(command, status string) {
	adminCommandTotal.WithLabelValues(norm(command), norm(status)).Inc()
}

func IncAdminHTTP(route, code string) {
	adminHTTPTotal.WithLabelValues(norm(route), code).Inc()
}
