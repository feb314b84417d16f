package notify

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"chip-settlement/internal/events"
	"chip-settlement/internal/notify/platforms"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Manager fans bus events out to webhook targets through a worker pool.
// Deliveries are at least once; receivers dedupe on the event key.
type Manager struct {
	cfg      Config
	router   Router
	adapters map[string]platforms.Adapter

	dispatchCh chan pushJob
	retryQ     *retryQueue
	done       chan struct{}
	workers    sync.WaitGroup

	mu           sync.Mutex
	started      bool
	breakerByKey map[string]*gobreaker.CircuitBreaker
}

func NewManager(cfg Config) *Manager {
	client := platforms.NewHTTPClient(cfg.RequestTimeout)
	adapters := map[string]platforms.Adapter{
		"discord": platforms.NewDiscordAdapter(client),
		"feishu":  platforms.NewFeishuAdapter(client),
	}
	return newManager(cfg, adapters)
}

func newManager(cfg Config, adapters map[string]platforms.Adapter) *Manager {
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 2048
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	m := &Manager{
		cfg:          cfg,
		router:       Router{},
		adapters:     adapters,
		dispatchCh:   make(chan pushJob, cfg.DispatchBuffer),
		done:         make(chan struct{}),
		breakerByKey: map[string]*gobreaker.CircuitBreaker{},
	}
	m.retryQ = newRetryQueue(m.dispatchCh, m.done)
	return m
}

// Start launches workers and the config watcher. They stop when ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			m.worker(ctx)
		}()
	}
	if m.cfg.ConfigPath != "" {
		go m.watchConfigLoop(ctx)
	}
	go func() {
		<-ctx.Done()
		close(m.done)
	}()
	log.Info().Int("workers", m.cfg.Workers).Int("targets", len(m.currentTargets())).Msg("notify manager started")
	return nil
}

// Wait blocks until every worker has exited.
func (m *Manager) Wait() {
	m.workers.Wait()
}

// Handle is the bus subscriber.
func (m *Manager) Handle(_ context.Context, ev events.Event) {
	if !m.cfg.Enabled || ev.Kind == "" {
		return
	}
	targets := m.router.MatchTargets(m.currentTargets(), ev)
	if len(targets) == 0 {
		return
	}
	formatted, ok := FormatMessage(ev)
	if !ok {
		return
	}
	for _, target := range targets {
		job := pushJob{Target: target, EventKey: string(ev.Kind) + ":" + ev.Key, Formatted: formatted}
		if !m.enqueue(job) {
			metricDroppedTotal.Inc()
			log.Warn().Str("platform", target.Platform).Str("event", job.EventKey).Msg("notify queue full, dropping delivery")
		}
	}
}

func (m *Manager) enqueue(job pushJob) bool {
	select {
	case <-m.done:
		return false
	case m.dispatchCh <- job:
		metricQueuedTotal.Inc()
		metricQueueLen.Set(float64(len(m.dispatchCh)))
		return true
	default:
		return false
	}
}

func (m *Manager) currentTargets() []Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Target, len(m.cfg.Targets))
	copy(out, m.cfg.Targets)
	return out
}

// SetTargets replaces the target list.
func (m *Manager) SetTargets(targets []Target) {
	m.mu.Lock()
	m.cfg.Targets = targets
	m.mu.Unlock()
}

func (m *Manager) watchConfigLoop(ctx context.Context) {
	interval := m.cfg.ConfigReload
	if interval <= 0 {
		interval = 5 * time.Second
	}
	lastRaw := ""
	if raw, err := os.ReadFile(m.cfg.ConfigPath); err == nil {
		lastRaw = strings.TrimSpace(string(raw))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			raw, err := os.ReadFile(m.cfg.ConfigPath)
			if err != nil {
				metricConfigReloadError.Inc()
				continue
			}
			nextRaw := strings.TrimSpace(string(raw))
			if nextRaw == lastRaw {
				continue
			}
			targets, err := parseTargetsJSON(nextRaw)
			if err != nil {
				metricConfigReloadError.Inc()
				log.Warn().Err(err).Str("path", m.cfg.ConfigPath).Msg("notify config reload failed")
				continue
			}
			m.SetTargets(targets)
			lastRaw = nextRaw
			metricConfigReloadTotal.Inc()
			log.Info().Int("targets", len(targets)).Msg("notify targets reloaded")
		}
	}
}
