package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const withdrawalColumns = `id, address, destination_address, chip_amount, token_amount::text, fee::text, net_token_amount::text,
	status, reservation_id, settlement_tx_hash, failure_reason, requested_at, updated_at, completed_at`

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	var token, fee, net, status string
	var completedAt pgtype.Timestamptz
	err := row.Scan(&w.ID, &w.Address, &w.DestinationAddress, &w.ChipAmount, &token, &fee, &net,
		&status, &w.ReservationID, &w.SettlementTxHash, &w.FailureReason, &w.RequestedAt, &w.UpdatedAt, &completedAt)
	if err != nil {
		return Withdrawal{}, mapNotFound(err)
	}
	w.TokenAmount = numericVal(token)
	w.Fee = numericVal(fee)
	w.NetTokenAmount = numericVal(net)
	w.Status = WithdrawalStatus(status)
	w.CompletedAt = timePtrVal(completedAt)
	return w, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	var resolvedAt pgtype.Timestamptz
	if err := row.Scan(&r.ID, &r.Address, &r.Amount, &r.WithdrawalID, &r.Status, &r.CreatedAt, &resolvedAt); err != nil {
		return Reservation{}, mapNotFound(err)
	}
	r.ResolvedAt = timePtrVal(resolvedAt)
	return r, nil
}

const reservationColumns = `id, address, amount, withdrawal_id, status, created_at, resolved_at`

func withdrawalStatusStrings(statuses []WithdrawalStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func (s *Store) CreateWithdrawal(ctx context.Context, w Withdrawal) (Withdrawal, error) {
	if w.ID == "" {
		w.ID = NewWithdrawalID()
	}
	if w.ChipAmount <= 0 {
		return Withdrawal{}, ErrInvalidAmount
	}
	var out Withdrawal
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccount(ctx, tx, w.Address); err != nil {
			return err
		}
		var err error
		out, err = scanWithdrawal(tx.QueryRow(ctx, `INSERT INTO withdrawals
			(id, address, destination_address, chip_amount, token_amount, fee, net_token_amount, status)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, 'requested')
			RETURNING `+withdrawalColumns,
			w.ID, w.Address, w.DestinationAddress, w.ChipAmount,
			numericParam(w.TokenAmount), numericParam(w.Fee), numericParam(w.NetTokenAmount)))
		return err
	})
	return out, err
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	return scanWithdrawal(s.Pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (s *Store) ListAccountWithdrawals(ctx context.Context, address string, limit, offset int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE address = $1 ORDER BY requested_at DESC, id DESC LIMIT $2 OFFSET $3`, address, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows pgx.Rows) ([]Withdrawal, error) {
	defer rows.Close()
	out := []Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SumWithdrawalsSince totals chips of every non-failed withdrawal requested
// since the given time, including ones not yet reserved.
func (s *Store) SumWithdrawalsSince(ctx context.Context, address string, since time.Time) (int64, error) {
	return sumWithdrawals(ctx, s.Pool, address, since, withdrawalOpenStatuses, "")
}

func sumWithdrawals(ctx context.Context, q querier, address string, since time.Time, statuses []WithdrawalStatus, excludeID string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(chip_amount), 0)::bigint FROM withdrawals
		WHERE address = $1 AND status = ANY($2) AND requested_at >= $3 AND id <> $4`,
		address, withdrawalStatusStrings(statuses), since, excludeID).Scan(&total)
	return total, err
}

// Reserve holds p.Amount chips. With a WithdrawalID the withdrawal moves from
// requested to reserved in the same transaction.
func (s *Store) Reserve(ctx context.Context, p ReserveParams) (Reservation, error) {
	if p.Amount <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	var out Reservation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		acct, err := lockAccount(ctx, tx, p.Address)
		if err != nil {
			return err
		}
		if acct.Status == AccountClosed {
			return ErrAccountClosed
		}
		if p.WithdrawalID != "" {
			var status, owner string
			err := tx.QueryRow(ctx, `SELECT status, address FROM withdrawals WHERE id = $1 FOR UPDATE`, p.WithdrawalID).Scan(&status, &owner)
			if err != nil {
				return mapNotFound(err)
			}
			if WithdrawalStatus(status) != WithdrawalRequested || owner != p.Address {
				return ErrInvalidTransition
			}
		}
		if p.CapChips > 0 {
			used, err := sumWithdrawals(ctx, tx, p.Address, p.CapSince, withdrawalCapStatuses, p.WithdrawalID)
			if err != nil {
				return err
			}
			if used+p.Amount > p.CapChips {
				return ErrDailyCapExceeded
			}
		}
		if p.Amount > acct.Available() {
			return ErrInsufficientBalance
		}
		out, err = scanReservation(tx.QueryRow(ctx, `INSERT INTO reservations (id, address, amount, withdrawal_id)
			VALUES ($1, $2, $3, $4) RETURNING `+reservationColumns, NewReservationID(), p.Address, p.Amount, p.WithdrawalID))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET reserved_chips = reserved_chips + $2, last_activity = now() WHERE address = $1`,
			p.Address, p.Amount); err != nil {
			return err
		}
		if p.WithdrawalID != "" {
			if _, err := tx.Exec(ctx, `UPDATE withdrawals SET status = 'reserved', reservation_id = $2, updated_at = now() WHERE id = $1`,
				p.WithdrawalID, out.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetReservation(ctx context.Context, id string) (Reservation, error) {
	return scanReservation(s.Pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
}

func (s *Store) MarkBroadcasting(ctx context.Context, withdrawalID string) (Withdrawal, error) {
	w, err := scanWithdrawal(s.Pool.QueryRow(ctx, `UPDATE withdrawals SET status = 'broadcasting', updated_at = now()
		WHERE id = $1 AND status = 'reserved' RETURNING `+withdrawalColumns, withdrawalID))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetWithdrawal(ctx, withdrawalID); getErr != nil {
			return Withdrawal{}, getErr
		}
		return Withdrawal{}, ErrInvalidTransition
	}
	return w, err
}

func (s *Store) RecordSettlementHash(ctx context.Context, withdrawalID, settlementTxHash string) (Withdrawal, error) {
	if settlementTxHash == "" {
		return Withdrawal{}, ErrInvalidTransition
	}
	w, err := scanWithdrawal(s.Pool.QueryRow(ctx, `UPDATE withdrawals SET settlement_tx_hash = $2, updated_at = now()
		WHERE id = $1 AND status = 'broadcasting' RETURNING `+withdrawalColumns, withdrawalID, settlementTxHash))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetWithdrawal(ctx, withdrawalID); getErr != nil {
			return Withdrawal{}, getErr
		}
		return Withdrawal{}, ErrInvalidTransition
	}
	return w, err
}

// lockHeldReservation locks a reservation and its account; only held
// reservations may be resolved.
func lockHeldReservation(ctx context.Context, tx pgx.Tx, reservationID string) (Reservation, error) {
	r, err := scanReservation(tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, reservationID))
	if err != nil {
		return Reservation{}, err
	}
	if r.Status != ReservationHeld {
		return Reservation{}, ErrInvalidTransition
	}
	if _, err := lockAccount(ctx, tx, r.Address); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// Commit permanently deducts the held amount. A linked withdrawal becomes
// completed with its settlement hash and adds to total_withdrawn.
func (s *Store) Commit(ctx context.Context, reservationID, settlementTxHash string) (Account, error) {
	var out Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := lockHeldReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		tokens := "0"
		if r.WithdrawalID != "" {
			w, err := scanWithdrawal(tx.QueryRow(ctx, `UPDATE withdrawals
				SET status = 'completed', settlement_tx_hash = $2, completed_at = now(), updated_at = now()
				WHERE id = $1 AND status IN ('reserved', 'broadcasting') RETURNING `+withdrawalColumns, r.WithdrawalID, settlementTxHash))
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidTransition
			}
			if err != nil {
				return err
			}
			tokens = numericParam(w.TokenAmount)
		}
		if _, err := tx.Exec(ctx, `UPDATE reservations SET status = 'committed', resolved_at = now() WHERE id = $1`, r.ID); err != nil {
			return err
		}
		out, err = scanAccount(tx.QueryRow(ctx, `UPDATE accounts
			SET chip_balance = chip_balance - $2, reserved_chips = reserved_chips - $2,
			    total_withdrawn = total_withdrawn + $3::numeric, last_activity = now()
			WHERE address = $1 RETURNING `+accountColumns, r.Address, r.Amount, tokens))
		if err != nil {
			return err
		}
		return recordLedgerEntry(ctx, tx, r.Address, "withdrawal_debit", -r.Amount, "reservation", r.ID)
	})
	return out, err
}

// Release returns the held amount to availability. A linked withdrawal
// becomes failed with reason.
func (s *Store) Release(ctx context.Context, reservationID, reason string) (Account, error) {
	var out Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := lockHeldReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if r.WithdrawalID != "" {
			var hash string
			err := tx.QueryRow(ctx, `SELECT settlement_tx_hash FROM withdrawals WHERE id = $1 FOR UPDATE`, r.WithdrawalID).Scan(&hash)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if hash != "" {
				return ErrAlreadyBroadcast
			}
			if _, err := tx.Exec(ctx, `UPDATE withdrawals SET status = 'failed', failure_reason = $2, updated_at = now()
				WHERE id = $1 AND status IN ('reserved', 'broadcasting')`, r.WithdrawalID, reason); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE reservations SET status = 'released', resolved_at = now() WHERE id = $1`, r.ID); err != nil {
			return err
		}
		out, err = scanAccount(tx.QueryRow(ctx, `UPDATE accounts SET reserved_chips = reserved_chips - $2, last_activity = now()
			WHERE address = $1 RETURNING `+accountColumns, r.Address, r.Amount))
		return err
	})
	return out, err
}

// FailWithdrawal fails a withdrawal that holds no reservation yet.
func (s *Store) FailWithdrawal(ctx context.Context, withdrawalID, reason string) (Withdrawal, error) {
	w, err := scanWithdrawal(s.Pool.QueryRow(ctx, `UPDATE withdrawals SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'requested' RETURNING `+withdrawalColumns, withdrawalID, reason))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetWithdrawal(ctx, withdrawalID); getErr != nil {
			return Withdrawal{}, getErr
		}
		return Withdrawal{}, ErrInvalidTransition
	}
	return w, err
}

func (s *Store) ListStaleWithdrawals(ctx context.Context, before time.Time, limit int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status IN ('requested', 'reserved', 'broadcasting') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectWithdrawals(rows)
}
