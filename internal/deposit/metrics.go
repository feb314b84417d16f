package deposit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "detected_total",
		Help:      "Deposit transactions seen for the first time.",
	})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "processed_total",
		Help:      "Deposit processing attempts by outcome.",
	}, []string{"outcome"})

	chipsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "chips_credited_total",
		Help:      "Chips credited from deposits, bonuses included.",
	})

	creditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "credit_duration_seconds",
		Help:      "Latency of the atomic credit step.",
		Buckets:   prometheus.DefBuckets,
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "queue_length",
		Help:      "Deposits waiting for the credit worker.",
	})

	activePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "active_pollers",
		Help:      "Addresses with a running poller.",
	})

	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "deposit",
		Name:      "poll_errors_total",
		Help:      "Failed poll cycles.",
	})
)
