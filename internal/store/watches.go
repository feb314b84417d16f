package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const watchColumns = `address, poll_cursor, active, last_polled_at, last_seen_at, created_at`

func scanWatch(row pgx.Row) (WatchedAddress, error) {
	var w WatchedAddress
	var polled, seen pgtype.Timestamptz
	if err := row.Scan(&w.Address, &w.Cursor, &w.Active, &polled, &seen, &w.CreatedAt); err != nil {
		return WatchedAddress{}, mapNotFound(err)
	}
	w.LastPolledAt = timePtrVal(polled)
	w.LastSeenAt = timePtrVal(seen)
	return w, nil
}

// WatchAddress registers (or reactivates) an address for deposit polling.
// The cursor survives reactivation.
func (s *Store) WatchAddress(ctx context.Context, address string) (WatchedAddress, error) {
	return scanWatch(s.Pool.QueryRow(ctx, `INSERT INTO watched_addresses (address, last_seen_at) VALUES ($1, now())
		ON CONFLICT (address) DO UPDATE SET active = TRUE, last_seen_at = now()
		RETURNING `+watchColumns, address))
}

func (s *Store) UnwatchAddress(ctx context.Context, address string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE watched_addresses SET active = FALSE WHERE address = $1`, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListWatched(ctx context.Context, activeOnly bool) ([]WatchedAddress, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+watchColumns+` FROM watched_addresses
		WHERE (NOT $1 OR active) ORDER BY created_at, address`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WatchedAddress{}
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SaveCursor(ctx context.Context, address, cursor string, sawTransfers bool) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE watched_addresses
		SET poll_cursor = $2, last_polled_at = now(),
		    last_seen_at = CASE WHEN $3 THEN now() ELSE last_seen_at END
		WHERE address = $1`, address, cursor, sawTransfers)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateIdleWatches turns off watches with no transfers seen since
// idleSince and returns their addresses.
func (s *Store) DeactivateIdleWatches(ctx context.Context, idleSince time.Time) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `UPDATE watched_addresses SET active = FALSE
		WHERE active AND COALESCE(last_seen_at, created_at) < $1
		RETURNING address`, idleSince)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
