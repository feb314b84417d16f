package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_scheduler_runs_total",
		Help: "Scheduled job runs by outcome.",
	}, []string{"job", "outcome"})

	metricRunSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_scheduler_run_seconds",
		Help:    "Scheduled job duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)
