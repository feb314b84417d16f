package withdrawal

import (
	"context"
	"errors"

	"chip-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

const sweepBatch = 100

// SweepStale resolves withdrawals stuck in a non-terminal state past the
// broadcast timeout. One with a recorded settlement hash was accepted by the
// chain and is committed; any other is failed with its chips restored.
// Withdrawals still being settled by this process are left alone.
func (p *Pipeline) SweepStale(ctx context.Context) (int, error) {
	before := p.now().Add(-(p.cfg.BroadcastTimeout + p.cfg.SweepGrace))
	stale, err := p.repo.ListStaleWithdrawals(ctx, before, sweepBatch)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, w := range stale {
		if p.isInflight(w.ID) {
			continue
		}
		if w.SettlementTxHash != "" {
			if p.completeStale(ctx, w) {
				swept++
			}
			continue
		}
		failed, err := p.forceFail(ctx, w)
		if errors.Is(err, store.ErrAlreadyBroadcast) {
			// A hash landed after the listing; finish it next sweep.
			continue
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("withdrawal_id", w.ID).Msg("sweep stale withdrawal")
			continue
		}
		swept++
		sweptTotal.Inc()
		log.Warn().Str("withdrawal_id", w.ID).Str("address", w.Address).Str("status", string(w.Status)).Msg("stale withdrawal failed, chips restored")
		p.resolved(failed, reasonSettlementTimeout)
	}
	return swept, nil
}

func (p *Pipeline) completeStale(ctx context.Context, w store.Withdrawal) bool {
	res, err := p.repo.GetReservation(ctx, w.ReservationID)
	if err == nil {
		_, err = p.ledger.Commit(ctx, res, w.SettlementTxHash)
	}
	if err != nil {
		log.Error().Err(err).Str("withdrawal_id", w.ID).Str("settlement_tx_hash", w.SettlementTxHash).Msg("commit stale broadcast withdrawal")
		return false
	}
	done, err := p.repo.GetWithdrawal(ctx, w.ID)
	if err != nil {
		done = w
		done.Status = store.WithdrawalCompleted
	}
	sweptTotal.Inc()
	chipsWithdrawn.Add(float64(w.ChipAmount))
	log.Warn().Str("withdrawal_id", w.ID).Str("address", w.Address).Str("settlement_tx_hash", w.SettlementTxHash).Msg("stale broadcast withdrawal committed")
	p.resolved(done, "")
	return true
}

func (p *Pipeline) forceFail(ctx context.Context, w store.Withdrawal) (store.Withdrawal, error) {
	if w.ReservationID == "" {
		return p.repo.FailWithdrawal(ctx, w.ID, reasonSettlementTimeout)
	}
	res, err := p.repo.GetReservation(ctx, w.ReservationID)
	if err != nil {
		return store.Withdrawal{}, err
	}
	if _, err := p.ledger.Release(ctx, res, reasonSettlementTimeout); err != nil {
		return store.Withdrawal{}, err
	}
	return p.repo.GetWithdrawal(ctx, w.ID)
}
