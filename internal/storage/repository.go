package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO samples (
        entity_id,
        sampled_at,
        price,
        volume,
        market_cap
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (entity_id, sampled_at) DO NOTHING;`

	listSamplesSinceSQL = `SELECT
        entity_id,
        sampled_at,
        price,
        volume,
        market_cap
    FROM samples
    WHERE entity_id = $1
      AND sampled_at >= $2
    ORDER BY sampled_at;`

	listSamplesBetweenSQL = `SELECT
        entity_id,
        sampled_at,
        price,
        volume,
        market_cap
    FROM samples
    WHERE entity_id = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	deleteSamplesBeforeSQL   = `DELETE FROM samples WHERE sampled_at < $1;`
	deleteEntitySamplesSQL   = `DELETE FROM samples WHERE entity_id = $1;`
	countEntitySamplesSQL    = `SELECT COUNT(*) FROM samples WHERE entity_id = $1;`
	listWatchedEntityIDsSQL  = `SELECT entity_id FROM trigger_configs ORDER BY entity_id;`
	deleteTriggerConfigSQL   = `DELETE FROM trigger_configs WHERE entity_id = $1;`
	deleteRollingStateSQL    = `DELETE FROM rolling_state WHERE entity_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore persists the append-only sample log.
type SampleStore interface {
	InsertSample(ctx context.Context, sample market.Sample) error
	ListSamplesSince(ctx context.Context, entityID string, since time.Time) ([]market.Sample, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// StateStore persists per-entity rolling state.
type StateStore interface {
	GetRollingState(ctx context.Context, entityID string) (*market.RollingState, error)
	UpsertRollingState(ctx context.Context, state *market.RollingState) error
}

// WatchStore manages long-watch trigger configs.
type WatchStore interface {
	UpsertTriggerConfig(ctx context.Context, cfg *market.TriggerConfig) error
	GetTriggerConfig(ctx context.Context, entityID string) (*market.TriggerConfig, error)
	ListTriggerConfigs(ctx context.Context) ([]market.TriggerConfig, error)
	ListWatchedEntityIDs(ctx context.Context) ([]string, error)
	RemoveWatch(ctx context.Context, entityID string) error
}

// HotWatchStore manages one-shot hot-watch entries and their triggers.
type HotWatchStore interface {
	CreateHotWatch(ctx context.Context, entry *market.HotWatchEntry) error
	ListActiveHotWatches(ctx context.Context) ([]market.HotWatchEntry, error)
	MarkHotTriggerFired(ctx context.Context, triggerID int64, at time.Time) error
	MarkFailsafeFired(ctx context.Context, entryID string) error
	DeactivateHotWatch(ctx context.Context, entryID string) error
	DeleteHotWatch(ctx context.Context, entryID string) error
}

// OutboxStore persists the idempotent delivery ledger.
type OutboxStore interface {
	GetOutboxRecord(ctx context.Context, fingerprint string) (*OutboxRecord, error)
	UpsertOutboxRecord(ctx context.Context, rec OutboxRecord) error
	ListRecentOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to every engine table over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample appends one sample to the persisted log. Re-ingesting the same
// (entity, timestamp) pair is a no-op.
func (s *Store) InsertSample(ctx context.Context, sample market.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.EntityID,
		sample.Timestamp,
		sample.Price.String(),
		sample.Volume.String(),
		decimalPtrArg(sample.MarketCap),
	)
	if execErr != nil {
		return fmt.Errorf("insert sample: %w", execErr)
	}
	return nil
}

// ListSamplesSince returns an entity's samples at or after the cutoff, oldest first.
func (s *Store) ListSamplesSince(ctx context.Context, entityID string, since time.Time) ([]market.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSinceSQL, entityID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples since: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]market.Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListSamplesBetween returns an entity's samples within [from, to), oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, entityID string, from, to time.Time) ([]market.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, entityID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]market.Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSamplesBefore prunes the persisted log past the retention horizon.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountEntitySamples counts retained samples for one entity.
func (s *Store) CountEntitySamples(ctx context.Context, entityID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEntitySamplesSQL, entityID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// ListWatchedEntityIDs returns the ids of every long-watched entity.
func (s *Store) ListWatchedEntityIDs(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWatchedEntityIDsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list watched entities: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemoveWatch deletes an entity's config, rolling state, and samples in one
// transaction. Removing an unwatched entity is not an error.
func (s *Store) RemoveWatch(ctx context.Context, entityID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove watch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteTriggerConfigSQL, entityID); err != nil {
		return fmt.Errorf("delete trigger config: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteRollingStateSQL, entityID); err != nil {
		return fmt.Errorf("delete rolling state: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteEntitySamplesSQL, entityID); err != nil {
		return fmt.Errorf("delete entity samples: %w", err)
	}

	return tx.Commit(ctx)
}

func scanSample(rows pgx.Rows) (market.Sample, error) {
	var (
		sample   market.Sample
		price    string
		volume   string
		capValue *string
	)

	if err := rows.Scan(
		&sample.EntityID,
		&sample.Timestamp,
		&price,
		&volume,
		&capValue,
	); err != nil {
		return market.Sample{}, err
	}

	var err error
	sample.Price, err = decimal.NewFromString(price)
	if err != nil {
		return market.Sample{}, fmt.Errorf("parse sample price: %w", err)
	}
	sample.Volume, err = decimal.NewFromString(volume)
	if err != nil {
		return market.Sample{}, fmt.Errorf("parse sample volume: %w", err)
	}
	sample.MarketCap, err = parseDecimalPtr(capValue)
	if err != nil {
		return market.Sample{}, fmt.Errorf("parse sample market cap: %w", err)
	}

	return sample, nil
}

func decimalPtrArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimalPtr(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func timePtrArg(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeFromPtr(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
