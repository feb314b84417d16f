package deposit

import (
	"context"
	"errors"
	"sync"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/economics"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/store"
	"chip-settlement/internal/tracing"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	reasonConfirmationTimeout = "confirmation_timeout"
)

type Config struct {
	RequiredConfirmations int64
	RecheckDelay          time.Duration
	Horizon               time.Duration
	PollInterval          time.Duration
	QueueSize             int
}

func ConfigFrom(econ config.EconomicsConfig, ch config.ChainConfig) Config {
	return Config{
		RequiredConfirmations: econ.RequiredDepositConfirmations,
		RecheckDelay:          econ.DepositRecheckDelay,
		Horizon:               econ.DepositConfirmationHorizon,
		PollInterval:          ch.DepositPollInterval,
	}
}

// IntegrityReporter receives guard rejections that indicate a race.
type IntegrityReporter interface {
	ReportIntegrity(ctx context.Context, subject string, detail map[string]any)
}

type Outcome string

const (
	OutcomeCredited Outcome = "credited"
	OutcomeWaiting  Outcome = "waiting"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRetry    Outcome = "retry"
)

// Pipeline detects deposits, gates them on confirmation depth and credits
// each transaction hash exactly once. Pollers run one goroutine per watched
// address; crediting happens on a single worker goroutine.
type Pipeline struct {
	cfg       Config
	repo      store.Repository
	ledger    *ledger.Ledger
	observer  chain.Observer
	pub       events.Publisher
	integrity IntegrityReporter
	tracer    trace.Tracer
	now       func() time.Time

	jobs chan string
	done chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	runCtx   context.Context
	queued   map[string]struct{}
	pollers  map[string]context.CancelFunc
	pollerWG sync.WaitGroup
}

func New(cfg Config, repo store.Repository, l *ledger.Ledger, observer chain.Observer, pub events.Publisher, integrity IntegrityReporter) *Pipeline {
	if cfg.RequiredConfirmations <= 0 {
		cfg.RequiredConfirmations = 3
	}
	if cfg.RecheckDelay <= 0 {
		cfg.RecheckDelay = time.Minute
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 30 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		ledger:    l,
		observer:  observer,
		pub:       pub,
		integrity: integrity,
		tracer:    tracing.Tracer("deposit"),
		now:       time.Now,
		jobs:      make(chan string, cfg.QueueSize),
		done:      make(chan struct{}),
		queued:    map[string]struct{}{},
		pollers:   map[string]context.CancelFunc{},
	}
}

// Run starts the credit worker, re-enqueues unfinished deposits, starts
// pollers for active watches and blocks until ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("deposit pipeline already started")
	}
	p.started = true
	p.runCtx = ctx
	p.mu.Unlock()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		p.worker(ctx)
	}()

	if n, err := p.ResumePending(ctx); err != nil {
		log.Error().Err(err).Msg("resume pending deposits")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("resumed pending deposits")
	}
	watches, err := p.repo.ListWatched(ctx, true)
	if err != nil {
		log.Error().Err(err).Msg("list watched addresses")
	}
	for _, w := range watches {
		p.startPoller(w.Address, w.Cursor)
	}

	<-ctx.Done()
	p.mu.Lock()
	p.stopped = true
	for addr, cancel := range p.pollers {
		cancel()
		delete(p.pollers, addr)
	}
	p.mu.Unlock()
	close(p.done)
	p.pollerWG.Wait()
	<-workerDone
	return nil
}

// Detect records a transfer observed for address and queues it for
// confirmation tracking. Repeated detection of a hash is harmless.
func (p *Pipeline) Detect(ctx context.Context, address string, t chain.Transfer) error {
	_, err := p.detect(ctx, address, t)
	return err
}

func (p *Pipeline) detect(ctx context.Context, address string, t chain.Transfer) (bool, error) {
	txn, created, err := p.repo.RecordDetected(ctx, store.Transaction{
		TxHash:        t.TxHash,
		Address:       address,
		FromAddress:   t.From,
		Direction:     store.DirectionDeposit,
		TokenAmount:   t.Amount,
		BlockHeight:   t.BlockHeight,
		Confirmations: t.Confirmations,
	})
	if err != nil {
		return false, err
	}
	if created {
		depositsDetected.Inc()
		log.Info().Str("address", address).Str("tx_hash", t.TxHash).Str("amount", t.Amount.String()).Msg("deposit detected")
	}
	if txn.Status.Terminal() {
		return created, nil
	}
	p.Enqueue(t.TxHash)
	return created, nil
}

// Enqueue schedules hash for processing unless it is already queued.
func (p *Pipeline) Enqueue(hash string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, ok := p.queued[hash]; ok {
		p.mu.Unlock()
		return
	}
	p.queued[hash] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- hash:
		queueLength.Set(float64(len(p.jobs)))
	default:
		p.mu.Lock()
		delete(p.queued, hash)
		p.mu.Unlock()
		p.schedule(hash, p.cfg.RecheckDelay)
	}
}

func (p *Pipeline) schedule(hash string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.Enqueue(hash)
	})
}

// ResumePending re-enqueues every non-terminal deposit.
func (p *Pipeline) ResumePending(ctx context.Context) (int, error) {
	pending, err := p.repo.ListTransactionsByStatus(ctx, []store.TxStatus{
		store.TxDetected, store.TxAwaitingConfirmations, store.TxVerified,
	}, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, txn := range pending {
		if txn.Direction != store.DirectionDeposit {
			continue
		}
		p.Enqueue(txn.TxHash)
		n++
	}
	return n, nil
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hash := <-p.jobs:
			queueLength.Set(float64(len(p.jobs)))
			p.mu.Lock()
			delete(p.queued, hash)
			p.mu.Unlock()
			outcome, err := p.Process(ctx, hash)
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("tx_hash", hash).Str("outcome", string(outcome)).Msg("deposit processing deferred")
			}
			if outcome == OutcomeWaiting || outcome == OutcomeRetry {
				p.schedule(hash, p.cfg.RecheckDelay)
			}
		}
	}
}

// Process advances one deposit as far as current confirmations allow. It is
// the only code path that credits deposits and runs on the single worker.
func (p *Pipeline) Process(ctx context.Context, hash string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "deposit.process", trace.WithAttributes(attribute.String("tx_hash", hash)))
	defer span.End()
	outcome, err := p.process(ctx, hash)
	processedTotal.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (p *Pipeline) process(ctx context.Context, hash string) (Outcome, error) {
	txn, err := p.repo.GetTransaction(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeRetry, err
	}
	if txn.Status.Terminal() {
		return OutcomeSkipped, nil
	}
	if processed, err := p.repo.IsProcessed(ctx, hash); err != nil {
		return OutcomeRetry, err
	} else if processed {
		log.Debug().Str("tx_hash", hash).Msg("deposit already in idempotency ledger")
		return OutcomeSkipped, nil
	}
	if err := p.ledger.Rules.CheckDeposit(txn.TokenAmount); err != nil {
		return p.fail(ctx, txn, err.Error())
	}

	expired := p.now().Sub(txn.DetectedAt) > p.cfg.Horizon
	conf, err := p.observer.Confirmations(ctx, hash)
	if err != nil {
		if expired {
			return p.fail(ctx, txn, reasonConfirmationTimeout)
		}
		return OutcomeRetry, err
	}
	if conf.Confirmations < p.cfg.RequiredConfirmations {
		if expired {
			return p.fail(ctx, txn, reasonConfirmationTimeout)
		}
		if _, err := p.repo.UpdateTransactionProgress(ctx, hash, store.TxAwaitingConfirmations, conf.Confirmations, conf.BlockHeight); err != nil {
			return OutcomeRetry, err
		}
		return OutcomeWaiting, nil
	}

	if _, err := p.repo.UpdateTransactionProgress(ctx, hash, store.TxVerified, conf.Confirmations, conf.BlockHeight); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return OutcomeSkipped, nil
		}
		return OutcomeRetry, err
	}
	return p.credit(ctx, txn)
}

func (p *Pipeline) credit(ctx context.Context, txn store.Transaction) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "deposit.credit")
	defer span.End()
	started := p.now()
	credit, quote, err := p.ledger.ApplyDeposit(ctx, txn)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateTransaction):
		if p.integrity != nil {
			p.integrity.ReportIntegrity(ctx, txn.Address, map[string]any{
				"tx_hash": txn.TxHash,
				"reason":  "duplicate_credit_attempt",
			})
		}
		return OutcomeSkipped, nil
	case errors.Is(err, economics.ErrBelowMinDeposit), errors.Is(err, economics.ErrAboveMaxDeposit),
		errors.Is(err, economics.ErrAmountTooSmall), errors.Is(err, economics.ErrInvalidAmount):
		return p.fail(ctx, txn, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		return OutcomeSkipped, nil
	default:
		return OutcomeRetry, err
	}
	creditDuration.Observe(p.now().Sub(started).Seconds())
	chipsCredited.Add(float64(quote.TotalChips()))

	credited := credit.Transaction
	log.Info().
		Str("address", credited.Address).
		Str("tx_hash", credited.TxHash).
		Str("token_amount", credited.TokenAmount.String()).
		Int64("chip_amount", credited.ChipAmount).
		Int64("bonus_amount", credited.BonusAmount).
		Int64("balance", credit.Account.ChipBalance).
		Msg("deposit credited")
	if p.pub != nil {
		p.pub.Publish(events.DepositCreditedEvent(events.DepositCredited{
			Address:     credited.Address,
			TxHash:      credited.TxHash,
			TokenAmount: credited.TokenAmount,
			ChipAmount:  credited.ChipAmount,
			BonusAmount: credited.BonusAmount,
		}))
	}
	return OutcomeCredited, nil
}

func (p *Pipeline) fail(ctx context.Context, txn store.Transaction, reason string) (Outcome, error) {
	failed, err := p.repo.FailTransaction(ctx, txn.TxHash, reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeRetry, err
	}
	log.Warn().Str("address", failed.Address).Str("tx_hash", failed.TxHash).Str("reason", reason).Msg("deposit failed")
	if p.pub != nil {
		p.pub.Publish(events.DepositFailedEvent(events.DepositFailed{
			Address:     failed.Address,
			TxHash:      failed.TxHash,
			TokenAmount: failed.TokenAmount,
			Reason:      reason,
		}))
	}
	return OutcomeFailed, nil
}
