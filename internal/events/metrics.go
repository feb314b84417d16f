package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published on the bus.",
	}, []string{"kind"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Undelivered events per subscriber.",
	}, []string{"subscriber"})

	deliveryPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "events",
		Name:      "handler_panics_total",
		Help:      "Recovered panics in event handlers.",
	}, []string{"subscriber"})

	sinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "events",
		Name:      "sink_writes_total",
		Help:      "Redis stream writes by outcome.",
	}, []string{"outcome"})
)
