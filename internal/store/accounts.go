package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `address, chip_balance, reserved_chips, total_deposited::text, total_withdrawn::text,
	is_first_deposit, loyalty_level, status, last_activity, created_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var deposited, withdrawn string
	err := row.Scan(&a.Address, &a.ChipBalance, &a.ReservedChips, &deposited, &withdrawn,
		&a.IsFirstDeposit, &a.LoyaltyLevel, &a.Status, &a.LastActivity, &a.CreatedAt)
	if err != nil {
		return Account{}, mapNotFound(err)
	}
	a.TotalDeposited = numericVal(deposited)
	a.TotalWithdrawn = numericVal(withdrawn)
	return a, nil
}

func ensureAccount(ctx context.Context, q querier, address string) error {
	_, err := q.Exec(ctx, `INSERT INTO accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, address)
	return err
}

// lockAccount creates the account if needed and takes its row lock.
func lockAccount(ctx context.Context, tx pgx.Tx, address string) (Account, error) {
	if err := ensureAccount(ctx, tx, address); err != nil {
		return Account{}, err
	}
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1 FOR UPDATE`, address))
}

func (s *Store) EnsureAccount(ctx context.Context, address string) (Account, error) {
	if err := ensureAccount(ctx, s.Pool, address); err != nil {
		return Account{}, err
	}
	return s.GetAccount(ctx, address)
}

func (s *Store) GetAccount(ctx context.Context, address string) (Account, error) {
	return scanAccount(s.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address))
}

func (s *Store) ListAccounts(ctx context.Context, limit, offset int) ([]Account, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, address LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetLoyaltyLevel(ctx context.Context, address string, level int) error {
	if err := ensureAccount(ctx, s.Pool, address); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, `UPDATE accounts SET loyalty_level = $2 WHERE address = $1`, address, level)
	return err
}

func (s *Store) CloseAccount(ctx context.Context, address string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE accounts SET status = 'closed' WHERE address = $1`, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// markProcessed claims ref in the idempotency ledger.
func markProcessed(ctx context.Context, tx pgx.Tx, ref, address string, amount int64) error {
	tag, err := tx.Exec(ctx, `INSERT INTO processed_transactions (tx_hash, address, amount) VALUES ($1, $2, $3)
		ON CONFLICT (tx_hash) DO NOTHING`, ref, address, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, address string, amount int64, entryType, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	var out Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockAccount(ctx, tx, address); err != nil {
			return err
		}
		if err := markProcessed(ctx, tx, ref, address, amount); err != nil {
			return err
		}
		acct, err := scanAccount(tx.QueryRow(ctx, `UPDATE accounts SET chip_balance = chip_balance + $2, last_activity = now()
			WHERE address = $1 RETURNING `+accountColumns, address, amount))
		if err != nil {
			return err
		}
		out = acct
		return recordLedgerEntry(ctx, tx, address, entryType, amount, "credit", ref)
	})
	return out, err
}

func (s *Store) Debit(ctx context.Context, address string, amount int64, entryType, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	var out Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		acct, err := lockAccount(ctx, tx, address)
		if err != nil {
			return err
		}
		if err := markProcessed(ctx, tx, ref, address, -amount); err != nil {
			return err
		}
		if acct.Available() < amount {
			return ErrInsufficientBalance
		}
		acct, err = scanAccount(tx.QueryRow(ctx, `UPDATE accounts SET chip_balance = chip_balance - $2, last_activity = now()
			WHERE address = $1 RETURNING `+accountColumns, address, amount))
		if err != nil {
			return err
		}
		out = acct
		return recordLedgerEntry(ctx, tx, address, entryType, -amount, "debit", ref)
	})
	return out, err
}
