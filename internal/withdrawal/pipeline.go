package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/store"
	"chip-settlement/internal/tracing"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var addressPattern = regexp.MustCompile(`^(bc1|[13])[a-zA-HJ-NP-Z0-9]{25,62}$`)

func ValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

const capWindow = 24 * time.Hour

type Config struct {
	BroadcastTimeout time.Duration
	// SweepGrace is added to BroadcastTimeout before a withdrawal counts as
	// stale.
	SweepGrace time.Duration
	Ticker     string
}

func ConfigFrom(econ config.EconomicsConfig, ch config.ChainConfig) Config {
	return Config{
		BroadcastTimeout: econ.WithdrawalBroadcastTimeout,
		SweepGrace:       time.Minute,
		Ticker:           ch.Ticker,
	}
}

type Request struct {
	Address     string `json:"address" validate:"required"`
	Destination string `json:"destination_address" validate:"required"`
	Chips       int64  `json:"chip_amount" validate:"required,gt=0"`
}

// Pipeline drives withdrawals through reserve, broadcast and commit or
// release. A withdrawal that leaves Submit is completed with the full amount
// debited, failed with the full amount restored, or, when the commit after an
// accepted broadcast fails, left broadcasting with its settlement hash
// recorded for SweepStale to commit.
type Pipeline struct {
	cfg      Config
	repo     store.Repository
	ledger   *ledger.Ledger
	observer chain.Observer
	signer   chain.Signer
	pub      events.Publisher
	tracer   trace.Tracer
	now      func() time.Time

	storeBackoff func() backoff.BackOff

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(cfg Config, repo store.Repository, l *ledger.Ledger, observer chain.Observer, signer chain.Signer, pub events.Publisher) *Pipeline {
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 2 * time.Minute
	}
	if cfg.SweepGrace < 0 {
		cfg.SweepGrace = 0
	}
	return &Pipeline{
		cfg:      cfg,
		repo:     repo,
		ledger:   l,
		observer: observer,
		signer:   signer,
		pub:      pub,
		tracer:   tracing.Tracer("withdrawal"),
		now:      time.Now,
		inflight: map[string]struct{}{},

		storeBackoff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Validate runs the fast checks that reject a request before anything is
// written. Reserve repeats the balance and cap checks under the account lock.
func (p *Pipeline) Validate(ctx context.Context, req Request) error {
	if !ValidAddress(req.Destination) {
		return invalid(ErrInvalidAddress)
	}
	if _, err := p.ledger.Rules.QuoteWithdrawal(req.Chips); err != nil {
		return invalid(err)
	}
	acct, err := p.repo.GetAccount(ctx, req.Address)
	if errors.Is(err, store.ErrNotFound) {
		return invalid(store.ErrInsufficientBalance)
	}
	if err != nil {
		return err
	}
	if acct.Status == store.AccountClosed {
		return invalid(store.ErrAccountClosed)
	}
	if req.Chips > acct.Available() {
		return invalid(store.ErrInsufficientBalance)
	}
	used, err := p.repo.SumWithdrawalsSince(ctx, req.Address, p.now().Add(-capWindow))
	if err != nil {
		return err
	}
	if used+req.Chips > p.ledger.Rules.DailyCapChips() {
		return invalid(store.ErrDailyCapExceeded)
	}
	return nil
}

// Submit validates, reserves and settles one withdrawal. Validation failures
// return a *ValidationError and, when a record already exists, the failed
// withdrawal. Settlement failures return the failed withdrawal together with
// an error wrapping ErrSettlementFailed.
func (p *Pipeline) Submit(ctx context.Context, req Request) (store.Withdrawal, error) {
	ctx, span := p.tracer.Start(ctx, "withdrawal.submit", trace.WithAttributes(
		attribute.String("address", req.Address),
		attribute.Int64("chips", req.Chips),
	))
	defer span.End()

	if err := p.Validate(ctx, req); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			requestsTotal.WithLabelValues(verr.Reason).Inc()
			log.Info().Str("address", req.Address).Int64("chips", req.Chips).Str("reason", verr.Reason).Msg("withdrawal rejected")
			p.publish(events.WithdrawalRejectedEvent(events.WithdrawalRejected{
				Address:    req.Address,
				ChipAmount: req.Chips,
				Reason:     verr.Reason,
			}))
		}
		span.SetStatus(codes.Error, err.Error())
		return store.Withdrawal{}, err
	}
	quote, err := p.ledger.Rules.QuoteWithdrawal(req.Chips)
	if err != nil {
		return store.Withdrawal{}, invalid(err)
	}

	w, err := p.repo.CreateWithdrawal(ctx, store.Withdrawal{
		Address:            req.Address,
		DestinationAddress: req.Destination,
		ChipAmount:         quote.Chips,
		TokenAmount:        quote.TokenAmount,
		Fee:                quote.Fee,
		NetTokenAmount:     quote.NetTokenAmount,
	})
	if err != nil {
		return store.Withdrawal{}, fmt.Errorf("create withdrawal: %w", err)
	}
	requestsTotal.WithLabelValues("accepted").Inc()
	span.SetAttributes(attribute.String("withdrawal_id", w.ID))
	log.Info().Str("withdrawal_id", w.ID).Str("address", w.Address).Int64("chips", w.ChipAmount).Str("net_tokens", w.NetTokenAmount.String()).Msg("withdrawal requested")
	p.publish(events.WithdrawalRequestedEvent(events.WithdrawalRequested{
		Address:     w.Address,
		ID:          w.ID,
		ChipAmount:  w.ChipAmount,
		TokenAmount: w.TokenAmount,
	}))

	p.track(w.ID)
	defer p.untrack(w.ID)

	res, err := p.ledger.Reserve(ctx, store.ReserveParams{
		Address:      w.Address,
		Amount:       w.ChipAmount,
		WithdrawalID: w.ID,
		CapChips:     p.ledger.Rules.DailyCapChips(),
		CapSince:     p.now().Add(-capWindow),
	})
	if err != nil {
		reason := err.Error()
		if ledger.IsIntegrityError(err) {
			log.Warn().Err(err).Str("withdrawal_id", w.ID).Str("address", w.Address).Msg("reserve rejected by guard")
		}
		failed, ferr := p.repo.FailWithdrawal(context.WithoutCancel(ctx), w.ID, reason)
		if ferr != nil {
			log.Error().Err(ferr).Str("withdrawal_id", w.ID).Msg("mark withdrawal failed")
			failed = w
		}
		p.resolved(failed, reason)
		switch {
		case errors.Is(err, store.ErrInsufficientBalance), errors.Is(err, store.ErrDailyCapExceeded),
			errors.Is(err, store.ErrAccountClosed), errors.Is(err, store.ErrInvalidAmount):
			return failed, invalid(err)
		}
		return failed, fmt.Errorf("reserve: %w", err)
	}

	return p.settle(ctx, w, res)
}

func (p *Pipeline) settle(ctx context.Context, w store.Withdrawal, res store.Reservation) (store.Withdrawal, error) {
	// Resolution must finish even if the caller goes away.
	resolveCtx := context.WithoutCancel(ctx)

	if _, err := p.repo.MarkBroadcasting(ctx, w.ID); err != nil {
		return p.release(resolveCtx, w, res, reasonBroadcastFailed, err)
	}

	bctx, cancel := context.WithTimeout(ctx, p.cfg.BroadcastTimeout)
	defer cancel()
	started := p.now()
	hash, err := p.broadcast(bctx, w)
	broadcastDuration.Observe(p.now().Sub(started).Seconds())
	if err != nil {
		return p.release(resolveCtx, w, res, failureReason(bctx, err), err)
	}

	// The transfer is on chain. The hash is recorded on its own first so a
	// failed or interrupted commit is finished by the sweep, never refunded.
	w.SettlementTxHash = hash
	if _, err := retryStore(resolveCtx, p.storeBackoff, func() (store.Withdrawal, error) {
		return p.repo.RecordSettlementHash(resolveCtx, w.ID, hash)
	}); err != nil {
		log.Error().Err(err).Str("withdrawal_id", w.ID).Str("settlement_tx_hash", hash).Msg("record settlement hash failed")
	}
	if _, err := retryStore(resolveCtx, p.storeBackoff, func() (store.Account, error) {
		return p.ledger.Commit(resolveCtx, res, hash)
	}); err != nil {
		log.Error().Err(err).Str("withdrawal_id", w.ID).Str("settlement_tx_hash", hash).Msg("commit after broadcast failed")
		return w, fmt.Errorf("commit %s: %w", w.ID, err)
	}

	done, err := p.repo.GetWithdrawal(resolveCtx, w.ID)
	if err != nil {
		done = w
		done.Status = store.WithdrawalCompleted
		done.SettlementTxHash = hash
	}
	chipsWithdrawn.Add(float64(w.ChipAmount))
	log.Info().Str("withdrawal_id", w.ID).Str("address", w.Address).Str("settlement_tx_hash", hash).Msg("withdrawal completed")
	p.resolved(done, "")
	return done, nil
}

// retryStore retries a store write until it succeeds or fails for a reason
// a retry cannot change.
func retryStore[T any](ctx context.Context, policy func() backoff.BackOff, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy()), backoff.WithMaxTries(5))
}

func (p *Pipeline) broadcast(ctx context.Context, w store.Withdrawal) (string, error) {
	ctx, span := p.tracer.Start(ctx, "withdrawal.broadcast")
	defer span.End()
	payload, err := p.signer.Sign(ctx, chain.TransferInstruction{
		WithdrawalID: w.ID,
		Destination:  w.DestinationAddress,
		Amount:       w.NetTokenAmount,
		Ticker:       p.cfg.Ticker,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	hash, err := p.observer.Broadcast(ctx, payload)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return hash, nil
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, chain.ErrSignerRejected):
		return reasonSignerRejected
	case errors.Is(err, chain.ErrBroadcastRejected):
		return reasonBroadcastRejected
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return reasonBroadcastTimeout
	default:
		return reasonBroadcastFailed
	}
}

func (p *Pipeline) release(ctx context.Context, w store.Withdrawal, res store.Reservation, reason string, cause error) (store.Withdrawal, error) {
	if _, err := p.ledger.Release(ctx, res, reason); err != nil {
		log.Error().Err(err).Str("withdrawal_id", w.ID).Msg("release reservation")
		return w, fmt.Errorf("release %s: %w", w.ID, err)
	}
	failed, err := p.repo.GetWithdrawal(ctx, w.ID)
	if err != nil {
		failed = w
		failed.Status = store.WithdrawalFailed
		failed.FailureReason = reason
	}
	log.Warn().Err(cause).Str("withdrawal_id", w.ID).Str("address", w.Address).Str("reason", reason).Msg("withdrawal failed, chips restored")
	p.resolved(failed, reason)
	return failed, fmt.Errorf("%w: %s: %w", ErrSettlementFailed, reason, cause)
}

func (p *Pipeline) resolved(w store.Withdrawal, reason string) {
	resolvedTotal.WithLabelValues(string(w.Status), reason).Inc()
	p.publish(events.WithdrawalResolvedEvent(events.WithdrawalResolved{
		Address:          w.Address,
		ID:               w.ID,
		Status:           string(w.Status),
		ChipAmount:       w.ChipAmount,
		TokenAmount:      w.TokenAmount,
		SettlementTxHash: w.SettlementTxHash,
		Reason:           reason,
	}))
}

func (p *Pipeline) publish(ev events.Event) {
	if p.pub != nil {
		p.pub.Publish(ev)
	}
}

func (p *Pipeline) track(id string) {
	p.mu.Lock()
	p.inflight[id] = struct{}{}
	inFlight.Set(float64(len(p.inflight)))
	p.mu.Unlock()
}

func (p *Pipeline) untrack(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	inFlight.Set(float64(len(p.inflight)))
	p.mu.Unlock()
}

func (p *Pipeline) isInflight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[id]
	return ok
}
