package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSkipped      = "skipped"
	outcomeContended    = "contended"
	outcomeMissingToken = "missing_token"
	outcomeSent         = "sent"
	outcomeTokenInvalid = "token_invalid"
	outcomeFailed       = "failed"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_dispatch_total",
			Help: "Notification triggers handled, by outcome.",
		},
		[]string{"outcome"},
	)

	tokenCleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_token_cleanup_total",
			Help: "Invalid device token purges attempted on user records, by status.",
		},
		[]string{"status"},
	)
)
