package notify

import (
	"context"
	"errors"
	"time"

	"chip-settlement/internal/notify/platforms"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case job := <-m.dispatchCh:
			metricQueueLen.Set(float64(len(m.dispatchCh)))
			m.processJob(ctx, job)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, job pushJob) {
	adapter := m.adapters[job.Target.Platform]
	if adapter == nil {
		metricDroppedTotal.Inc()
		return
	}

	_, err := m.breaker(job.Target).Execute(func() (interface{}, error) {
		return nil, adapter.Send(ctx, job.Target.Endpoint, job.Target.Secret, toPlatformMessage(job.Formatted))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metricCircuitOpenTotal.Inc()
		m.retryOrDrop(job, err)
		return
	}
	if err != nil {
		metricFailedTotal.WithLabelValues(job.Target.Platform).Inc()
		m.retryOrDrop(job, err)
		return
	}
	metricSentTotal.WithLabelValues(job.Target.Platform).Inc()
}

func (m *Manager) retryOrDrop(job pushJob, err error) bool {
	if job.Attempt >= m.cfg.RetryMax {
		metricRetryDroppedTotal.Inc()
		log.Warn().Err(err).Str("platform", job.Target.Platform).Str("event", job.EventKey).Int("attempts", job.Attempt+1).Msg("notify delivery dropped")
		return false
	}
	job.Attempt++
	metricRetryTotal.Inc()
	delay := m.cfg.RetryBase * time.Duration(1<<(job.Attempt-1))
	m.retryQ.Enqueue(job, delay)
	return true
}

// breaker returns the target's breaker. Names omit the endpoint, which
// carries webhook tokens.
func (m *Manager) breaker(target Target) *gobreaker.CircuitBreaker {
	key := targetKey(target)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakerByKey[key]; ok {
		return cb
	}
	threshold := m.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target.Platform + ":" + target.ScopeType + ":" + target.ScopeValue,
		MaxRequests: 1,
		Timeout:     m.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("target", name).Str("from", from.String()).Str("to", to.String()).Msg("notify breaker state changed")
		},
	})
	m.breakerByKey[key] = cb
	return cb
}

func toPlatformMessage(msg FormattedMessage) platforms.Message {
	fields := make([]platforms.Field, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, platforms.Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return platforms.Message{
		Title:       msg.Title,
		Content:     msg.Content,
		Description: msg.Description,
		Color:       msg.Color,
		Severity:    msg.Severity,
		Timestamp:   msg.Timestamp,
		Footer:      msg.Footer,
		Fields:      fields,
	}
}
