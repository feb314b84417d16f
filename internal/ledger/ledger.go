package ledger

import (
	"context"
	"errors"

	"chip-settlement/internal/economics"
	"chip-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

// Ledger is the account store used by both pipelines. Balance-mutating
// calls are serialized per address in-process and made atomic by the
// repository.
type Ledger struct {
	Store store.Repository
	Rules economics.Rules
	locks *keyLock
}

func New(s store.Repository, rules economics.Rules) *Ledger {
	return &Ledger{Store: s, Rules: rules, locks: newKeyLock()}
}

// IsIntegrityError reports errors the atomic guards raise against a replay
// or an overdraw. Callers log and alert on these.
func IsIntegrityError(err error) bool {
	return errors.Is(err, store.ErrDuplicateTransaction) || errors.Is(err, store.ErrInsufficientBalance)
}

// Account returns the account for address, creating it on first sight.
func (l *Ledger) Account(ctx context.Context, address string) (store.Account, error) {
	return l.Store.EnsureAccount(ctx, address)
}

// Credit adds amount chips once per ref. A repeated ref fails with
// store.ErrDuplicateTransaction and leaves the balance untouched.
func (l *Ledger) Credit(ctx context.Context, address string, amount int64, ref string) (int64, error) {
	unlock := l.locks.Lock(address)
	defer unlock()
	acct, err := l.Store.Credit(ctx, address, amount, "credit", ref)
	if err != nil {
		return 0, err
	}
	return acct.ChipBalance, nil
}

func (l *Ledger) Debit(ctx context.Context, address string, amount int64, ref string) (int64, error) {
	unlock := l.locks.Lock(address)
	defer unlock()
	acct, err := l.Store.Debit(ctx, address, amount, "debit", ref)
	if err != nil {
		return 0, err
	}
	return acct.ChipBalance, nil
}

// ApplyDeposit credits a verified deposit. Fee, base chips and bonuses are
// computed from the account state observed under the lock, so the
// first-deposit bonus is granted at most once.
func (l *Ledger) ApplyDeposit(ctx context.Context, txn store.Transaction) (store.DepositCredit, economics.DepositQuote, error) {
	unlock := l.locks.Lock(txn.Address)
	defer unlock()
	var quote economics.DepositQuote
	credit, err := l.Store.ApplyDepositCredit(ctx, txn.TxHash, func(acct store.Account, locked store.Transaction) (store.DepositAmounts, error) {
		q, err := l.Rules.QuoteDeposit(locked.TokenAmount, acct.IsFirstDeposit, acct.LoyaltyLevel)
		if err != nil {
			return store.DepositAmounts{}, err
		}
		quote = q
		return store.DepositAmounts{Chips: q.BaseChips, Bonus: q.BonusChips(), Fee: q.Fee}, nil
	})
	if err != nil {
		if IsIntegrityError(err) {
			log.Warn().Err(err).Str("tx_hash", txn.TxHash).Str("address", txn.Address).Msg("deposit credit rejected by guard")
		}
		return store.DepositCredit{}, economics.DepositQuote{}, err
	}
	return credit, quote, nil
}

// Reserve holds chips for a withdrawal. The cap check and the available
// balance check run in the same atomic unit as the hold.
func (l *Ledger) Reserve(ctx context.Context, p store.ReserveParams) (store.Reservation, error) {
	unlock := l.locks.Lock(p.Address)
	defer unlock()
	return l.Store.Reserve(ctx, p)
}

// Commit deducts a held reservation permanently.
func (l *Ledger) Commit(ctx context.Context, r store.Reservation, settlementTxHash string) (store.Account, error) {
	unlock := l.locks.Lock(r.Address)
	defer unlock()
	return l.Store.Commit(ctx, r.ID, settlementTxHash)
}

// Release restores availability of a held reservation; chipBalance is
// unchanged.
func (l *Ledger) Release(ctx context.Context, r store.Reservation, reason string) (store.Account, error) {
	unlock := l.locks.Lock(r.Address)
	defer unlock()
	return l.Store.Release(ctx, r.ID, reason)
}
