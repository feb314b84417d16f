package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_alerts_raised_total",
		Help: "Alerts stored, by type and severity.",
	}, []string{"type", "severity"})

	alertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_alerts_suppressed_total",
		Help: "Alerts suppressed by an unresolved duplicate inside the window.",
	}, []string{"type"})

	pagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_pages_total",
		Help: "Critical page attempts by outcome.",
	}, []string{"outcome"})

	houseWalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_house_wallet_balance",
		Help: "Last observed settlement wallet balance in tokens.",
	})
)
