package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "chain",
		Name:      "requests_total",
		Help:      "Indexer requests by operation and outcome.",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "chain",
		Name:      "request_duration_seconds",
		Help:      "Indexer request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "chain",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
