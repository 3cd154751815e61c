package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

const (
	insertHotEntrySQL = `INSERT INTO hotwatch_entries (
        id, entity_id, label, created_at,
        anchor_price, anchor_market_cap,
        failsafe_fired, active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	insertHotTriggerSQL = `INSERT INTO hotwatch_triggers (
        entry_id, kind, target_value, fired
    ) VALUES (
        $1,$2,$3,false
    );`

	listActiveHotEntriesSQL = `SELECT
        id, entity_id, label, created_at,
        anchor_price, anchor_market_cap,
        failsafe_fired, active
    FROM hotwatch_entries
    WHERE active
    ORDER BY created_at;`

	listHotTriggersSQL = `SELECT
        id, entry_id, kind, target_value, fired, fired_at
    FROM hotwatch_triggers
    WHERE entry_id = ANY($1)
    ORDER BY id;`

	markHotTriggerFiredSQL = `UPDATE hotwatch_triggers
    SET fired = true, fired_at = $2
    WHERE id = $1 AND NOT fired;`

	markFailsafeFiredSQL = `UPDATE hotwatch_entries
    SET failsafe_fired = true
    WHERE id = $1;`

	deactivateHotEntrySQL = `UPDATE hotwatch_entries
    SET active = false
    WHERE id = $1;`

	deleteHotTriggersSQL = `DELETE FROM hotwatch_triggers WHERE entry_id = $1;`
	deleteHotEntrySQL    = `DELETE FROM hotwatch_entries WHERE id = $1;`
)

// CreateHotWatch inserts a validated entry plus its triggers in one
// transaction, so a half-created entry can never be observed.
func (s *Store) CreateHotWatch(ctx context.Context, entry *market.HotWatchEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create hot watch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertHotEntrySQL,
		entry.ID, entry.EntityID, entry.Label, entry.CreatedAt,
		entry.AnchorPrice.String(), decimalPtrArg(entry.AnchorMarketCap),
		entry.FailsafeFired, entry.Active,
	); err != nil {
		return fmt.Errorf("insert hot entry: %w", err)
	}

	for _, trig := range entry.Triggers {
		if _, err := tx.Exec(ctx, insertHotTriggerSQL,
			entry.ID, string(trig.Kind), trig.Target.String(),
		); err != nil {
			return fmt.Errorf("insert hot trigger: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListActiveHotWatches loads every active entry with its triggers attached.
func (s *Store) ListActiveHotWatches(ctx context.Context) ([]market.HotWatchEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveHotEntriesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active hot entries: %w", queryErr)
	}

	entries := make([]market.HotWatchEntry, 0)
	ids := make([]string, 0)
	for rows.Next() {
		entry, scanErr := scanHotEntry(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		entries = append(entries, entry)
		ids = append(ids, entry.ID)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(entries) == 0 {
		return entries, nil
	}

	trigRows, trigErr := pool.Query(ctx, listHotTriggersSQL, ids)
	if trigErr != nil {
		return nil, fmt.Errorf("list hot triggers: %w", trigErr)
	}
	defer trigRows.Close()

	byEntry := make(map[string][]market.HotTrigger, len(entries))
	for trigRows.Next() {
		trig, scanErr := scanHotTrigger(trigRows)
		if scanErr != nil {
			return nil, scanErr
		}
		byEntry[trig.EntryID] = append(byEntry[trig.EntryID], trig)
	}
	if trigRows.Err() != nil {
		return nil, trigRows.Err()
	}

	for i := range entries {
		entries[i].Triggers = byEntry[entries[i].ID]
	}
	return entries, nil
}

// MarkHotTriggerFired flips one trigger to fired. Already-fired triggers are
// left untouched; the fired flag never reverts.
func (s *Store) MarkHotTriggerFired(ctx context.Context, triggerID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markHotTriggerFiredSQL, triggerID, at); execErr != nil {
		return fmt.Errorf("mark hot trigger fired: %w", execErr)
	}
	return nil
}

// MarkFailsafeFired records the entry's failsafe as fired.
func (s *Store) MarkFailsafeFired(ctx context.Context, entryID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markFailsafeFiredSQL, entryID); execErr != nil {
		return fmt.Errorf("mark failsafe fired: %w", execErr)
	}
	return nil
}

// DeactivateHotWatch transitions an exhausted entry to its terminal state.
func (s *Store) DeactivateHotWatch(ctx context.Context, entryID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateHotEntrySQL, entryID); execErr != nil {
		return fmt.Errorf("deactivate hot watch: %w", execErr)
	}
	return nil
}

// DeleteHotWatch removes a user-cancelled entry and its triggers.
func (s *Store) DeleteHotWatch(ctx context.Context, entryID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete hot watch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteHotTriggersSQL, entryID); err != nil {
		return fmt.Errorf("delete hot triggers: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteHotEntrySQL, entryID); err != nil {
		return fmt.Errorf("delete hot entry: %w", err)
	}

	return tx.Commit(ctx)
}

func scanHotEntry(rows pgx.Rows) (market.HotWatchEntry, error) {
	var (
		entry     market.HotWatchEntry
		anchor    string
		anchorCap *string
	)

	if err := rows.Scan(
		&entry.ID, &entry.EntityID, &entry.Label, &entry.CreatedAt,
		&anchor, &anchorCap,
		&entry.FailsafeFired, &entry.Active,
	); err != nil {
		return market.HotWatchEntry{}, err
	}

	var err error
	if entry.AnchorPrice, err = decimal.NewFromString(anchor); err != nil {
		return market.HotWatchEntry{}, fmt.Errorf("parse anchor price: %w", err)
	}
	if entry.AnchorMarketCap, err = parseDecimalPtr(anchorCap); err != nil {
		return market.HotWatchEntry{}, fmt.Errorf("parse anchor market cap: %w", err)
	}
	return entry, nil
}

func scanHotTrigger(rows pgx.Rows) (market.HotTrigger, error) {
	var (
		trig    market.HotTrigger
		kind    string
		target  string
		firedAt *time.Time
	)

	if err := rows.Scan(&trig.ID, &trig.EntryID, &kind, &target, &trig.Fired, &firedAt); err != nil {
		return market.HotTrigger{}, err
	}

	trig.Kind = market.HotTargetKind(kind)
	var err error
	if trig.Target, err = decimal.NewFromString(target); err != nil {
		return market.HotTrigger{}, fmt.Errorf("parse hot target: %w", err)
	}
	trig.FiredAt = timeFromPtr(firedAt)
	return trig, nil
}
