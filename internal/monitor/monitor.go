package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/events"
	"chip-settlement/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Config struct {
	LowBalance        decimal.Decimal
	WithdrawalVolume  decimal.Decimal
	WithdrawalBurst   int
	FailureRate       float64
	FailureMinSamples int
	Window            time.Duration
	Suppression       time.Duration
	HouseAddress      string
	PageTimeout       time.Duration
}

func ConfigFrom(mon config.MonitorConfig, econ config.EconomicsConfig, ch config.ChainConfig) Config {
	return Config{
		LowBalance:        mon.LowBalance,
		WithdrawalVolume:  mon.WithdrawalVolume,
		WithdrawalBurst:   mon.WithdrawalBurst,
		FailureRate:       mon.FailureRate,
		FailureMinSamples: mon.FailureMinSamples,
		Window:            mon.Window,
		Suppression:       econ.AlertSuppressionWindow,
		HouseAddress:      ch.HouseWalletAddress,
		PageTimeout:       mon.PagerTimeout,
	}
}

// Pager is the synchronous path for critical alerts.
type Pager interface {
	Page(ctx context.Context, a store.Alert) error
}

// Monitor watches pipeline events and raises deduplicated alerts. It only
// observes: pipelines publish and move on.
type Monitor struct {
	cfg      Config
	repo     store.Repository
	observer chain.Observer
	pub      events.Publisher
	pager    Pager
	now      func() time.Time

	mu          sync.Mutex
	withdrawals map[string]*window
	outcomes    window
}

func New(cfg Config, repo store.Repository, observer chain.Observer, pub events.Publisher, pager Pager) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Suppression <= 0 {
		cfg.Suppression = time.Hour
	}
	if cfg.FailureMinSamples <= 0 {
		cfg.FailureMinSamples = 1
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 10 * time.Second
	}
	return &Monitor{
		cfg:         cfg,
		repo:        repo,
		observer:    observer,
		pub:         pub,
		pager:       pager,
		now:         time.Now,
		withdrawals: map[string]*window{},
	}
}

// Handle is the bus subscriber.
func (m *Monitor) Handle(ctx context.Context, ev events.Event) {
	switch data := ev.Data.(type) {
	case events.WithdrawalRequested:
		m.observeWithdrawal(ctx, data.Address, data.TokenAmount)
	case events.WithdrawalRejected:
		m.observeWithdrawal(ctx, data.Address, decimal.Zero)
	case events.WithdrawalResolved:
		switch data.Status {
		case string(store.WithdrawalCompleted):
			m.observeOutcome(ctx, false)
		case string(store.WithdrawalFailed):
			if settlementFailure(data.Reason) {
				m.observeOutcome(ctx, true)
			}
		}
	case events.DepositCredited:
		m.observeOutcome(ctx, false)
	case events.DepositFailed:
		if data.Reason == "confirmation_timeout" {
			m.raise(ctx, AlertDepositConfirmationTimeout, data.Address, map[string]any{
				"tx_hash":      data.TxHash,
				"token_amount": data.TokenAmount.String(),
			})
			m.observeOutcome(ctx, true)
		}
	}
}

// settlementFailure separates chain-side failures from requests the account
// simply could not afford.
func settlementFailure(reason string) bool {
	switch reason {
	case "broadcast_rejected", "broadcast_timeout", "broadcast_failed", "signer_rejected", "settlement_timeout":
		return true
	}
	return false
}

// observeWithdrawal counts every request toward the burst check, rejected
// ones included. Only accepted requests carry volume.
func (m *Monitor) observeWithdrawal(ctx context.Context, address string, amount decimal.Decimal) {
	now := m.now()
	m.mu.Lock()
	win, ok := m.withdrawals[address]
	if !ok {
		win = &window{}
		m.withdrawals[address] = win
	}
	win.prune(now.Add(-m.cfg.Window))
	win.add(sample{at: now, amount: amount})
	count := win.count()
	volume := win.sum()
	m.mu.Unlock()

	if m.cfg.WithdrawalBurst > 0 && count > m.cfg.WithdrawalBurst {
		m.raise(ctx, AlertSuspiciousActivity, address, map[string]any{
			"requests":  count,
			"threshold": m.cfg.WithdrawalBurst,
			"window":    m.cfg.Window.String(),
		})
	}
	if m.cfg.WithdrawalVolume.IsPositive() && volume.GreaterThan(m.cfg.WithdrawalVolume) {
		m.raise(ctx, AlertHighWithdrawalRate, address, map[string]any{
			"volume":    volume.String(),
			"threshold": m.cfg.WithdrawalVolume.String(),
			"window":    m.cfg.Window.String(),
		})
	}
}

func (m *Monitor) observeOutcome(ctx context.Context, failed bool) {
	now := m.now()
	m.mu.Lock()
	m.outcomes.prune(now.Add(-m.cfg.Window))
	m.outcomes.add(sample{at: now, failed: failed})
	total := m.outcomes.count()
	failures := m.outcomes.failures()
	m.mu.Unlock()

	if m.cfg.FailureRate <= 0 || total < m.cfg.FailureMinSamples {
		return
	}
	rate := float64(failures) / float64(total)
	if rate >= m.cfg.FailureRate {
		m.raise(ctx, AlertHighFailureRate, SubjectPlatform, map[string]any{
			"failures":  failures,
			"samples":   total,
			"rate":      rate,
			"threshold": m.cfg.FailureRate,
		})
	}
}

// ReportIntegrity records a guard rejection caused by a pipeline race.
func (m *Monitor) ReportIntegrity(ctx context.Context, subject string, detail map[string]any) {
	log.Error().Str("address", subject).Interface("detail", detail).Msg("integrity violation")
	m.raise(ctx, AlertIntegrityViolation, subject, detail)
}

// CheckWalletBalance reads the settlement wallet balance and alerts when it
// is zero, below the floor, or unreadable.
func (m *Monitor) CheckWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	if m.cfg.HouseAddress == "" {
		return decimal.Zero, fmt.Errorf("house wallet address not configured")
	}
	balance, err := m.observer.WalletBalance(ctx, m.cfg.HouseAddress)
	if err != nil {
		m.raise(ctx, AlertBalanceCheckFailed, SubjectHouseWallet, map[string]any{"error": err.Error()})
		return decimal.Zero, err
	}
	f, _ := balance.Float64()
	houseWalletBalance.Set(f)
	switch {
	case !balance.IsPositive():
		m.raise(ctx, AlertZeroBalance, SubjectHouseWallet, map[string]any{
			"address": m.cfg.HouseAddress,
			"balance": balance.String(),
		})
	case balance.LessThan(m.cfg.LowBalance):
		m.raise(ctx, AlertLowBalance, SubjectHouseWallet, map[string]any{
			"address":   m.cfg.HouseAddress,
			"balance":   balance.String(),
			"threshold": m.cfg.LowBalance.String(),
		})
	}
	return balance, nil
}

// HealthCheck pings the store and the indexer.
func (m *Monitor) HealthCheck(ctx context.Context) error {
	var firstErr error
	if err := m.repo.Ping(ctx); err != nil {
		m.raise(ctx, AlertHealthCheckFailed, "store", map[string]any{"error": err.Error()})
		firstErr = fmt.Errorf("store: %w", err)
	}
	if _, err := m.observer.TipHeight(ctx); err != nil {
		m.raise(ctx, AlertHealthCheckFailed, "indexer", map[string]any{"error": err.Error()})
		if firstErr == nil {
			firstErr = fmt.Errorf("indexer: %w", err)
		}
	}
	return firstErr
}

// Raise stores an alert unless an unresolved one with the same type and
// subject exists inside the suppression window. It reports whether a new
// alert was stored.
func (m *Monitor) Raise(ctx context.Context, alertType, subject string, payload map[string]any) (store.Alert, bool, error) {
	severity := SeverityOf(alertType)
	a, created, err := m.repo.RaiseAlert(ctx, store.Alert{
		Type:           alertType,
		Severity:       severity,
		SubjectAddress: subject,
		Payload:        payload,
		DedupeKey:      store.AlertDedupeKey(alertType, subject),
	}, m.cfg.Suppression)
	if err != nil {
		return store.Alert{}, false, err
	}
	if !created {
		alertsSuppressed.WithLabelValues(alertType).Inc()
		log.Debug().Str("alert_type", alertType).Str("address", subject).Msg("alert suppressed")
		return a, false, nil
	}
	alertsRaised.WithLabelValues(alertType, severity).Inc()
	log.Warn().Str("alert_id", a.ID).Str("alert_type", alertType).Str("severity", severity).Str("address", subject).Interface("payload", payload).Msg("alert raised")
	if m.pub != nil {
		m.pub.Publish(events.AlertRaisedEvent(events.AlertRaised{
			ID:             a.ID,
			Type:           a.Type,
			Severity:       a.Severity,
			SubjectAddress: a.SubjectAddress,
			Payload:        a.Payload,
		}))
	}
	if severity == SeverityCritical {
		m.page(ctx, a)
	}
	return a, true, nil
}

func (m *Monitor) raise(ctx context.Context, alertType, subject string, payload map[string]any) {
	if _, _, err := m.Raise(ctx, alertType, subject, payload); err != nil {
		log.Error().Err(err).Str("alert_type", alertType).Str("address", subject).Msg("raise alert")
	}
}

func (m *Monitor) page(ctx context.Context, a store.Alert) {
	if m.pager == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PageTimeout)
	defer cancel()
	if err := m.pager.Page(pctx, a); err != nil {
		pagesSent.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("alert_id", a.ID).Str("alert_type", a.Type).Msg("page critical alert")
		return
	}
	pagesSent.WithLabelValues("sent").Inc()
}
