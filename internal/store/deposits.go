package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `tx_hash, address, from_address, direction, token_amount::text, chip_amount, fee_amount::text,
	bonus_amount, status, block_height, confirmations, failure_reason, detected_at, updated_at, credited_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var token, fee string
	var direction, status string
	var creditedAt pgtype.Timestamptz
	err := row.Scan(&t.TxHash, &t.Address, &t.FromAddress, &direction, &token, &t.ChipAmount, &fee,
		&t.BonusAmount, &status, &t.BlockHeight, &t.Confirmations, &t.FailureReason, &t.DetectedAt, &t.UpdatedAt, &creditedAt)
	if err != nil {
		return Transaction{}, mapNotFound(err)
	}
	t.Direction = Direction(direction)
	t.Status = TxStatus(status)
	t.TokenAmount = numericVal(token)
	t.FeeAmount = numericVal(fee)
	t.CreditedAt = timePtrVal(creditedAt)
	return t, nil
}

func collectTransactions(rows pgx.Rows, err error) ([]Transaction, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordDetected inserts txn in the detected state. When the hash is already
// known the stored row is returned with created=false.
func (s *Store) RecordDetected(ctx context.Context, txn Transaction) (Transaction, bool, error) {
	if txn.Direction == "" {
		txn.Direction = DirectionDeposit
	}
	var out Transaction
	created := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccount(ctx, tx, txn.Address); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `INSERT INTO transactions (tx_hash, address, from_address, direction, token_amount, status, block_height, confirmations)
			VALUES ($1, $2, $3, $4, $5::numeric, 'detected', $6, $7)
			ON CONFLICT (tx_hash) DO NOTHING`,
			txn.TxHash, txn.Address, txn.FromAddress, string(txn.Direction), numericParam(txn.TokenAmount), txn.BlockHeight, txn.Confirmations)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		out, err = scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE tx_hash = $1`, txn.TxHash))
		return err
	})
	return out, created, err
}

func (s *Store) GetTransaction(ctx context.Context, txHash string) (Transaction, error) {
	return scanTransaction(s.Pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE tx_hash = $1`, txHash))
}

func (s *Store) IsProcessed(ctx context.Context, txHash string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_transactions WHERE tx_hash = $1)`, txHash).Scan(&ok)
	return ok, err
}

// UpdateTransactionProgress moves a non-terminal transaction between
// detected, awaiting_confirmations and verified.
func (s *Store) UpdateTransactionProgress(ctx context.Context, txHash string, status TxStatus, confirmations, blockHeight int64) (Transaction, error) {
	if status.Terminal() {
		return Transaction{}, ErrInvalidTransition
	}
	t, err := scanTransaction(s.Pool.QueryRow(ctx, `UPDATE transactions
		SET status = $2, confirmations = $3, block_height = CASE WHEN $4::bigint > 0 THEN $4::bigint ELSE block_height END, updated_at = now()
		WHERE tx_hash = $1 AND status NOT IN ('credited', 'failed')
		RETURNING `+transactionColumns, txHash, string(status), confirmations, blockHeight))
	if errors.Is(err, ErrNotFound) {
		return s.terminalOrMissing(ctx, txHash)
	}
	return t, err
}

func (s *Store) FailTransaction(ctx context.Context, txHash, reason string) (Transaction, error) {
	t, err := scanTransaction(s.Pool.QueryRow(ctx, `UPDATE transactions
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE tx_hash = $1 AND status NOT IN ('credited', 'failed')
		RETURNING `+transactionColumns, txHash, reason))
	if errors.Is(err, ErrNotFound) {
		return s.terminalOrMissing(ctx, txHash)
	}
	return t, err
}

func (s *Store) terminalOrMissing(ctx context.Context, txHash string) (Transaction, error) {
	t, err := s.GetTransaction(ctx, txHash)
	if err != nil {
		return Transaction{}, err
	}
	return t, ErrInvalidTransition
}

// ApplyDepositCredit performs the idempotency check, quote, idempotency
// append, balance credit and status change in one transaction. The
// transaction row lock serializes concurrent credits of the same hash.
func (s *Store) ApplyDepositCredit(ctx context.Context, txHash string, quote DepositQuoteFunc) (DepositCredit, error) {
	var out DepositCredit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		txn, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE tx_hash = $1 FOR UPDATE`, txHash))
		if err != nil {
			return err
		}
		switch txn.Status {
		case TxCredited:
			return ErrDuplicateTransaction
		case TxFailed:
			return ErrInvalidTransition
		}
		acct, err := lockAccount(ctx, tx, txn.Address)
		if err != nil {
			return err
		}
		amounts, err := quote(acct, txn)
		if err != nil {
			return err
		}
		total := amounts.Chips + amounts.Bonus
		if err := markProcessed(ctx, tx, txHash, txn.Address, total); err != nil {
			return err
		}
		acct, err = scanAccount(tx.QueryRow(ctx, `UPDATE accounts
			SET chip_balance = chip_balance + $2, total_deposited = total_deposited + $3::numeric,
			    is_first_deposit = FALSE, last_activity = now()
			WHERE address = $1 RETURNING `+accountColumns, txn.Address, total, numericParam(txn.TokenAmount)))
		if err != nil {
			return err
		}
		txn, err = scanTransaction(tx.QueryRow(ctx, `UPDATE transactions
			SET status = 'credited', chip_amount = $2, bonus_amount = $3, fee_amount = $4::numeric,
			    credited_at = now(), updated_at = now()
			WHERE tx_hash = $1 RETURNING `+transactionColumns, txHash, amounts.Chips, amounts.Bonus, numericParam(amounts.Fee)))
		if err != nil {
			return err
		}
		if err := recordLedgerEntry(ctx, tx, txn.Address, "deposit_credit", total, "transaction", txHash); err != nil {
			return err
		}
		out = DepositCredit{Account: acct, Transaction: txn}
		return nil
	})
	return out, err
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, statuses []TxStatus, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 500
	}
	return collectTransactions(s.Pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE status = ANY($1) ORDER BY detected_at ASC LIMIT $2`, txStatusStrings(statuses), limit))
}

func (s *Store) ListAccountTransactions(ctx context.Context, address string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return collectTransactions(s.Pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE address = $1 ORDER BY detected_at DESC, tx_hash LIMIT $2 OFFSET $3`, address, limit, offset))
}
