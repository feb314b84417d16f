package httptransport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSSEConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sse_connections_total",
		Help: "Account event streams opened.",
	})
	metricSSEConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_sse_connections_active",
		Help: "Account event streams currently open.",
	})
	metricAdminActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_admin_actions_total",
		Help: "Mutating admin calls by action.",
	}, []string{"action"})
)
