package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coinwatch/internal/market"
)

const (
	getOutboxRecordSQL = `SELECT
        fingerprint, entity_id, entry_id, kind, channel, message,
        sent_ok, sent_at, attempts, last_error, created_at
    FROM alert_outbox
    WHERE fingerprint = $1;`

	upsertOutboxRecordSQL = `INSERT INTO alert_outbox (
        fingerprint, entity_id, entry_id, kind, channel, message,
        sent_ok, sent_at, attempts, last_error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (fingerprint) DO UPDATE
    SET
        sent_ok = alert_outbox.sent_ok OR EXCLUDED.sent_ok,
        sent_at = EXCLUDED.sent_at,
        attempts = alert_outbox.attempts + 1,
        last_error = EXCLUDED.last_error;`

	listRecentOutboxSQL = `SELECT
        fingerprint, entity_id, entry_id, kind, channel, message,
        sent_ok, sent_at, attempts, last_error, created_at
    FROM alert_outbox
    ORDER BY sent_at DESC
    LIMIT $1;`

	deleteOutboxBeforeSQL = `DELETE FROM alert_outbox WHERE sent_at < $1;`
)

// GetOutboxRecord loads the delivery record for a fingerprint; nil when the
// alert has never been attempted.
func (s *Store) GetOutboxRecord(ctx context.Context, fingerprint string) (*OutboxRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getOutboxRecordSQL, fingerprint)
	if queryErr != nil {
		return nil, fmt.Errorf("get outbox record: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}
	rec, scanErr := scanOutboxRecord(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &rec, nil
}

// UpsertOutboxRecord writes a delivery outcome. A success is sticky: once a
// fingerprint is recorded sent, a later failed retry cannot clear it.
func (s *Store) UpsertOutboxRecord(ctx context.Context, rec OutboxRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	attempts := rec.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	_, execErr := pool.Exec(ctx, upsertOutboxRecordSQL,
		rec.Fingerprint, rec.EntityID, rec.EntryID, string(rec.Kind),
		rec.Channel, rec.Message,
		rec.SentOK, rec.SentAt, attempts, rec.LastError,
	)
	if execErr != nil {
		return fmt.Errorf("upsert outbox record: %w", execErr)
	}
	return nil
}

// ListRecentOutbox lists the newest delivery records for reporting.
func (s *Store) ListRecentOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOutboxSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent outbox: %w", queryErr)
	}
	defer rows.Close()

	records := make([]OutboxRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanOutboxRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOutboxBefore prunes delivery records past the audit horizon.
func (s *Store) DeleteOutboxBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteOutboxBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete outbox before: %w", execErr)
	}
	return nil
}

func scanOutboxRecord(rows pgx.Rows) (OutboxRecord, error) {
	var (
		rec  OutboxRecord
		kind string
	)
	if err := rows.Scan(
		&rec.Fingerprint, &rec.EntityID, &rec.EntryID, &kind,
		&rec.Channel, &rec.Message,
		&rec.SentOK, &rec.SentAt, &rec.Attempts, &rec.LastError, &rec.CreatedAt,
	); err != nil {
		return OutboxRecord{}, err
	}
	rec.Kind = market.TriggerKind(kind)
	return rec, nil
}
