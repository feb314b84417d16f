package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const alertColumns = `id, type, severity, subject_address, dedupe_key, payload, created_at, resolved_at`

func scanAlert(row pgx.Row) (Alert, error) {
	var a Alert
	var payload []byte
	var resolvedAt pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.SubjectAddress, &a.DedupeKey, &payload, &a.CreatedAt, &resolvedAt); err != nil {
		return Alert{}, mapNotFound(err)
	}
	a.Payload = jsonVal(payload)
	a.ResolvedAt = timePtrVal(resolvedAt)
	return a, nil
}

// RaiseAlert inserts a unless an unresolved alert with the same type and
// subject was raised within window. The existing alert is returned with
// raised=false in that case.
func (s *Store) RaiseAlert(ctx context.Context, a Alert, window time.Duration) (Alert, bool, error) {
	if a.ID == "" {
		a.ID = NewAlertID()
	}
	a.DedupeKey = AlertDedupeKey(a.Type, a.SubjectAddress)
	var out Alert
	raised := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.DedupeKey); err != nil {
			return err
		}
		if window > 0 {
			existing, err := scanAlert(tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
				WHERE type = $1 AND subject_address = $2 AND resolved_at IS NULL AND created_at > $3
				ORDER BY created_at DESC LIMIT 1`, a.Type, a.SubjectAddress, time.Now().Add(-window)))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		var err error
		out, err = scanAlert(tx.QueryRow(ctx, `INSERT INTO alerts (id, type, severity, subject_address, dedupe_key, payload)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+alertColumns,
			a.ID, a.Type, a.Severity, a.SubjectAddress, a.DedupeKey, jsonParam(a.Payload)))
		raised = err == nil
		return err
	})
	if err != nil {
		return Alert{}, false, err
	}
	return out, raised, nil
}

func (s *Store) ListAlerts(ctx context.Context, f AlertFilter, limit, offset int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE (NOT $1 OR resolved_at IS NULL)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR subject_address = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`, f.ActiveOnly, f.Type, f.Subject, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE alerts SET resolved_at = COALESCE(resolved_at, now()) WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeAlerts deletes resolved alerts older than before.
func (s *Store) PurgeAlerts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM alerts WHERE resolved_at IS NOT NULL AND created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
