package withdrawal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawal_requests_total",
		Help: "Withdrawal requests by validation outcome.",
	}, []string{"outcome"})

	resolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawals_resolved_total",
		Help: "Withdrawals reaching a terminal state.",
	}, []string{"status", "reason"})

	chipsWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_chips_withdrawn_total",
		Help: "Chips permanently debited by completed withdrawals.",
	})

	broadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_withdrawal_broadcast_seconds",
		Help:    "Time spent signing and broadcasting a settlement transfer.",
		Buckets: prometheus.DefBuckets,
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_withdrawals_in_flight",
		Help: "Withdrawals between reserve and resolution in this process.",
	})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_withdrawals_swept_total",
		Help: "Stale withdrawals forced to failed with refund.",
	})
)
