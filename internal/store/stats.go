package store

import (
	"context"
)

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	out := Stats{
		TransactionsBy: map[TxStatus]int64{},
		WithdrawalsBy:  map[WithdrawalStatus]int64{},
	}
	var deposited string
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(chip_balance), 0)::bigint, COALESCE(SUM(reserved_chips), 0)::bigint,
		COALESCE(SUM(total_deposited), 0)::text FROM accounts`).Scan(&out.Accounts, &out.ChipsOutstanding, &out.ChipsReserved, &deposited)
	if err != nil {
		return Stats{}, err
	}
	out.TotalTokenDeposited = numericVal(deposited)

	if err := countBy(ctx, s, `SELECT status, COUNT(*) FROM transactions GROUP BY status`, func(k string, n int64) {
		out.TransactionsBy[TxStatus(k)] = n
	}); err != nil {
		return Stats{}, err
	}
	if err := countBy(ctx, s, `SELECT status, COUNT(*) FROM withdrawals GROUP BY status`, func(k string, n int64) {
		out.WithdrawalsBy[WithdrawalStatus(k)] = n
	}); err != nil {
		return Stats{}, err
	}
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved_at IS NULL`).Scan(&out.ActiveAlerts); err != nil {
		return Stats{}, err
	}
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM watched_addresses WHERE active`).Scan(&out.ActiveWatches); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func countBy(ctx context.Context, s *Store, sql string, fn func(string, int64)) error {
	rows, err := s.Pool.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}
