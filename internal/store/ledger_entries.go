package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

func recordLedgerEntry(ctx context.Context, tx pgx.Tx, address, entryType string, amount int64, refType, refID string) error {
	_, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, address, type, amount, ref_type, ref_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		NewID(), address, entryType, amount, refType, refID)
	return err
}

func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, address, type, amount, ref_type, ref_id, created_at
		FROM ledger_entries
		WHERE ($1 = '' OR address = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`, f.Address, timeParam(f.From), timeParam(f.To), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
