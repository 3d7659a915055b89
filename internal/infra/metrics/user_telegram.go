package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersRegisteredTotal,
		accountsLinkedTotal,
		telegramCommandsReceivedTotal,
		telegramRateLimitTriggeredTotal,
		referralEventsTotal,
	)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of new bot users.",
		},
	)

	// result: linked|bad_code|backend_error
	accountsLinkedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_link_attempts_total",
			Help: "Backend account link confirmations by result.",
		},
		[]string{"result"},
	)

	// event: click|registration|purchase
	referralEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_events_total",
			Help: "Referral link attributions by event.",
		},
		[]string{"event"},
	)

	telegramCommandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_commands_received_total",
			Help: "Counts incoming commands and button presses.",
		},
		[]string{"command"},
	)

	telegramRateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_rate_limit_triggered_total",
			Help: "Total number of times users have been rate-limited.",
		},
	)
)

func IncUsersRegistered() {
	usersRegisteredTotal.Inc()
}

func IncAccountLink(result string) {
	accountsLinkedTotal.WithLabelValues(norm(result)).Inc()
}

func IncTelegramCommand(command string) {
	telegramCommandsReceivedTotal.WithLabelValues(norm(command)).Inc()
}

func IncRateLimitTriggered() {
	telegramRateLimitTriggeredTotal.Inc()
}

func IncReferral(event string) {
	referralEventsTotal.WithLabelValues(norm(event)).Inc()
}
