package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "queued_total",
		Help: "Webhook deliveries queued.",
	})
	metricDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "dropped_total",
		Help: "Webhook deliveries dropped because the queue was full or no adapter matched.",
	})
	metricRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "retry_total",
		Help: "Webhook deliveries scheduled for retry.",
	})
	metricRetryDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "retry_dropped_total",
		Help: "Webhook deliveries abandoned after the last retry.",
	})
	metricSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "sent_total",
		Help: "Webhook deliveries sent, by platform.",
	}, []string{"platform"})
	metricFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "failed_total",
		Help: "Webhook deliveries that failed, by platform.",
	}, []string{"platform"})
	metricCircuitOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "circuit_open_total",
		Help: "Deliveries short-circuited by an open breaker.",
	})
	metricQueueLen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "queue_len",
		Help: "Deliveries waiting for a worker.",
	})
	metricConfigReloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "config_reload_total",
		Help: "Target config reloads applied.",
	})
	metricConfigReloadError = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement", Subsystem: "notify", Name: "config_reload_error_total",
		Help: "Target config reloads that failed to read or parse.",
	})
)
