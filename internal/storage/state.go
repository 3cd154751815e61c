package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

const (
	upsertRollingStateSQL = `INSERT INTO rolling_state (
        entity_id,
        high_12h, high_24h, high_72h,
        low_12h, low_24h, low_72h,
        vol_sum_12h, vol_sum_24h,
        last_price, last_market_cap, last_updated_at,
        reset_12h_at, reset_24h_at, reset_72h_at,
        retrace_fired_at, stall_fired_at, breakout_fired_at, milestone_fired_at,
        retrace_fire_price, stall_fire_price, breakout_fire_price
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
    )
    ON CONFLICT (entity_id) DO UPDATE
    SET
        high_12h = EXCLUDED.high_12h,
        high_24h = EXCLUDED.high_24h,
        high_72h = EXCLUDED.high_72h,
        low_12h  = EXCLUDED.low_12h,
        low_24h  = EXCLUDED.low_24h,
        low_72h  = EXCLUDED.low_72h,
        vol_sum_12h = EXCLUDED.vol_sum_12h,
        vol_sum_24h = EXCLUDED.vol_sum_24h,
        last_price = EXCLUDED.last_price,
        last_market_cap = EXCLUDED.last_market_cap,
        last_updated_at = EXCLUDED.last_updated_at,
        reset_12h_at = EXCLUDED.reset_12h_at,
        reset_24h_at = EXCLUDED.reset_24h_at,
        reset_72h_at = EXCLUDED.reset_72h_at,
        retrace_fired_at = EXCLUDED.retrace_fired_at,
        stall_fired_at = EXCLUDED.stall_fired_at,
        breakout_fired_at = EXCLUDED.breakout_fired_at,
        milestone_fired_at = EXCLUDED.milestone_fired_at,
        retrace_fire_price = EXCLUDED.retrace_fire_price,
        stall_fire_price = EXCLUDED.stall_fire_price,
        breakout_fire_price = EXCLUDED.breakout_fire_price;`

	getRollingStateSQL = `SELECT
        entity_id,
        high_12h, high_24h, high_72h,
        low_12h, low_24h, low_72h,
        vol_sum_12h, vol_sum_24h,
        last_price, last_market_cap, last_updated_at,
        reset_12h_at, reset_24h_at, reset_72h_at,
        retrace_fired_at, stall_fired_at, breakout_fired_at, milestone_fired_at,
        retrace_fire_price, stall_fire_price, breakout_fire_price
    FROM rolling_state
    WHERE entity_id = $1;`

	upsertTriggerConfigSQL = `INSERT INTO trigger_configs (
        entity_id, label, contract,
        retrace_on, retrace_pct, retrace_cooldown_secs,
        stall_on, stall_vol_pct, stall_band_pct, stall_cooldown_secs,
        breakout_on, breakout_pct, breakout_vol_mult, breakout_cooldown_secs,
        milestones_on, milestone_levels, milestone_cooldown_secs,
        created_at, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
    )
    ON CONFLICT (entity_id) DO UPDATE
    SET
        label = EXCLUDED.label,
        contract = EXCLUDED.contract,
        retrace_on = EXCLUDED.retrace_on,
        retrace_pct = EXCLUDED.retrace_pct,
        retrace_cooldown_secs = EXCLUDED.retrace_cooldown_secs,
        stall_on = EXCLUDED.stall_on,
        stall_vol_pct = EXCLUDED.stall_vol_pct,
        stall_band_pct = EXCLUDED.stall_band_pct,
        stall_cooldown_secs = EXCLUDED.stall_cooldown_secs,
        breakout_on = EXCLUDED.breakout_on,
        breakout_pct = EXCLUDED.breakout_pct,
        breakout_vol_mult = EXCLUDED.breakout_vol_mult,
        breakout_cooldown_secs = EXCLUDED.breakout_cooldown_secs,
        milestones_on = EXCLUDED.milestones_on,
        milestone_levels = EXCLUDED.milestone_levels,
        milestone_cooldown_secs = EXCLUDED.milestone_cooldown_secs,
        updated_at = EXCLUDED.updated_at;`

	getTriggerConfigSQL = `SELECT
        entity_id, label, contract,
        retrace_on, retrace_pct, retrace_cooldown_secs,
        stall_on, stall_vol_pct, stall_band_pct, stall_cooldown_secs,
        breakout_on, breakout_pct, breakout_vol_mult, breakout_cooldown_secs,
        milestones_on, milestone_levels, milestone_cooldown_secs,
        created_at, updated_at
    FROM trigger_configs
    WHERE entity_id = $1;`

	listTriggerConfigsSQL = `SELECT
        entity_id, label, contract,
        retrace_on, retrace_pct, retrace_cooldown_secs,
        stall_on, stall_vol_pct, stall_band_pct, stall_cooldown_secs,
        breakout_on, breakout_pct, breakout_vol_mult, breakout_cooldown_secs,
        milestones_on, milestone_levels, milestone_cooldown_secs,
        created_at, updated_at
    FROM trigger_configs
    ORDER BY entity_id;`
)

// GetRollingState loads an entity's rolling state; nil when none exists yet.
func (s *Store) GetRollingState(ctx context.Context, entityID string) (*market.RollingState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getRollingStateSQL, entityID)
	if queryErr != nil {
		return nil, fmt.Errorf("get rolling state: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}
	state, scanErr := scanRollingState(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return state, nil
}

// UpsertRollingState writes an entity's rolling state wholesale. The
// long-watch evaluation path is the single writer.
func (s *Store) UpsertRollingState(ctx context.Context, state *market.RollingState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertRollingStateSQL,
		state.EntityID,
		decimalPtrArg(state.High12), decimalPtrArg(state.High24), decimalPtrArg(state.High72),
		decimalPtrArg(state.Low12), decimalPtrArg(state.Low24), decimalPtrArg(state.Low72),
		decimalPtrArg(state.VolSum12), decimalPtrArg(state.VolSum24),
		state.LastPrice.String(), decimalPtrArg(state.LastMarketCap), state.LastUpdatedAt,
		timePtrArg(state.Reset12At), timePtrArg(state.Reset24At), timePtrArg(state.Reset72At),
		timePtrArg(state.RetraceFiredAt), timePtrArg(state.StallFiredAt),
		timePtrArg(state.BreakoutFiredAt), timePtrArg(state.MilestoneFiredAt),
		decimalPtrArg(state.RetraceFirePrice), decimalPtrArg(state.StallFirePrice),
		decimalPtrArg(state.BreakoutFirePrice),
	)
	if execErr != nil {
		return fmt.Errorf("upsert rolling state: %w", execErr)
	}
	return nil
}

// UpsertTriggerConfig writes a validated long-watch config.
func (s *Store) UpsertTriggerConfig(ctx context.Context, cfg *market.TriggerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	levels := make([]string, len(cfg.MilestoneLevels))
	for i, level := range cfg.MilestoneLevels {
		levels[i] = level.String()
	}

	now := time.Now().UTC()
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, execErr := pool.Exec(ctx, upsertTriggerConfigSQL,
		cfg.EntityID, cfg.Label, cfg.Contract,
		cfg.RetraceOn, cfg.RetracePct.String(), int64(cfg.RetraceCooldown.Seconds()),
		cfg.StallOn, cfg.StallVolPct.String(), cfg.StallBandPct.String(), int64(cfg.StallCooldown.Seconds()),
		cfg.BreakoutOn, cfg.BreakoutPct.String(), cfg.BreakoutVolMult.String(), int64(cfg.BreakoutCooldown.Seconds()),
		cfg.MilestonesOn, levels, int64(cfg.MilestoneCooldown.Seconds()),
		createdAt, now,
	)
	if execErr != nil {
		return fmt.Errorf("upsert trigger config: %w", execErr)
	}
	return nil
}

// GetTriggerConfig loads one entity's config; nil when the entity is not watched.
func (s *Store) GetTriggerConfig(ctx context.Context, entityID string) (*market.TriggerConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getTriggerConfigSQL, entityID)
	if queryErr != nil {
		return nil, fmt.Errorf("get trigger config: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}
	cfg, scanErr := scanTriggerConfig(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &cfg, nil
}

// ListTriggerConfigs loads every long-watch config.
func (s *Store) ListTriggerConfigs(ctx context.Context) ([]market.TriggerConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTriggerConfigsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list trigger configs: %w", queryErr)
	}
	defer rows.Close()

	configs := make([]market.TriggerConfig, 0)
	for rows.Next() {
		cfg, scanErr := scanTriggerConfig(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func scanRollingState(rows pgx.Rows) (*market.RollingState, error) {
	var (
		state     market.RollingState
		highs     [3]*string
		lows      [3]*string
		vols      [2]*string
		lastPrice string
		lastCap   *string
		resets    [3]*time.Time
		fires     [4]*time.Time
		firePx    [3]*string
	)

	if err := rows.Scan(
		&state.EntityID,
		&highs[0], &highs[1], &highs[2],
		&lows[0], &lows[1], &lows[2],
		&vols[0], &vols[1],
		&lastPrice, &lastCap, &state.LastUpdatedAt,
		&resets[0], &resets[1], &resets[2],
		&fires[0], &fires[1], &fires[2], &fires[3],
		&firePx[0], &firePx[1], &firePx[2],
	); err != nil {
		return nil, err
	}

	var err error
	if state.High12, err = parseDecimalPtr(highs[0]); err != nil {
		return nil, fmt.Errorf("parse high_12h: %w", err)
	}
	if state.High24, err = parseDecimalPtr(highs[1]); err != nil {
		return nil, fmt.Errorf("parse high_24h: %w", err)
	}
	if state.High72, err = parseDecimalPtr(highs[2]); err != nil {
		return nil, fmt.Errorf("parse high_72h: %w", err)
	}
	if state.Low12, err = parseDecimalPtr(lows[0]); err != nil {
		return nil, fmt.Errorf("parse low_12h: %w", err)
	}
	if state.Low24, err = parseDecimalPtr(lows[1]); err != nil {
		return nil, fmt.Errorf("parse low_24h: %w", err)
	}
	if state.Low72, err = parseDecimalPtr(lows[2]); err != nil {
		return nil, fmt.Errorf("parse low_72h: %w", err)
	}
	if state.VolSum12, err = parseDecimalPtr(vols[0]); err != nil {
		return nil, fmt.Errorf("parse vol_sum_12h: %w", err)
	}
	if state.VolSum24, err = parseDecimalPtr(vols[1]); err != nil {
		return nil, fmt.Errorf("parse vol_sum_24h: %w", err)
	}
	if state.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
		return nil, fmt.Errorf("parse last_price: %w", err)
	}
	if state.LastMarketCap, err = parseDecimalPtr(lastCap); err != nil {
		return nil, fmt.Errorf("parse last_market_cap: %w", err)
	}
	if state.RetraceFirePrice, err = parseDecimalPtr(firePx[0]); err != nil {
		return nil, fmt.Errorf("parse retrace_fire_price: %w", err)
	}
	if state.StallFirePrice, err = parseDecimalPtr(firePx[1]); err != nil {
		return nil, fmt.Errorf("parse stall_fire_price: %w", err)
	}
	if state.BreakoutFirePrice, err = parseDecimalPtr(firePx[2]); err != nil {
		return nil, fmt.Errorf("parse breakout_fire_price: %w", err)
	}

	state.Reset12At = timeFromPtr(resets[0])
	state.Reset24At = timeFromPtr(resets[1])
	state.Reset72At = timeFromPtr(resets[2])
	state.RetraceFiredAt = timeFromPtr(fires[0])
	state.StallFiredAt = timeFromPtr(fires[1])
	state.BreakoutFiredAt = timeFromPtr(fires[2])
	state.MilestoneFiredAt = timeFromPtr(fires[3])

	return &state, nil
}

func scanTriggerConfig(rows pgx.Rows) (market.TriggerConfig, error) {
	var (
		cfg          market.TriggerConfig
		retracePct   string
		stallVolPct  string
		stallBandPct string
		breakoutPct  string
		breakoutMult string
		levels       []string
		cooldowns    [4]int64
	)

	if err := rows.Scan(
		&cfg.EntityID, &cfg.Label, &cfg.Contract,
		&cfg.RetraceOn, &retracePct, &cooldowns[0],
		&cfg.StallOn, &stallVolPct, &stallBandPct, &cooldowns[1],
		&cfg.BreakoutOn, &breakoutPct, &breakoutMult, &cooldowns[2],
		&cfg.MilestonesOn, &levels, &cooldowns[3],
		&cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return market.TriggerConfig{}, err
	}

	var err error
	if cfg.RetracePct, err = decimal.NewFromString(retracePct); err != nil {
		return market.TriggerConfig{}, fmt.Errorf("parse retrace_pct: %w", err)
	}
	if cfg.StallVolPct, err = decimal.NewFromString(stallVolPct); err != nil {
		return market.TriggerConfig{}, fmt.Errorf("parse stall_vol_pct: %w", err)
	}
	if cfg.StallBandPct, err = decimal.NewFromString(stallBandPct); err != nil {
		return market.TriggerConfig{}, fmt.Errorf("parse stall_band_pct: %w", err)
	}
	if cfg.BreakoutPct, err = decimal.NewFromString(breakoutPct); err != nil {
		return market.TriggerConfig{}, fmt.Errorf("parse breakout_pct: %w", err)
	}
	if cfg.BreakoutVolMult, err = decimal.NewFromString(breakoutMult); err != nil {
		return market.TriggerConfig{}, fmt.Errorf("parse breakout_vol_mult: %w", err)
	}

	cfg.MilestoneLevels = make([]decimal.Decimal, 0, len(levels))
	for _, raw := range levels {
		level, parseErr := decimal.NewFromString(raw)
		if parseErr != nil {
			return market.TriggerConfig{}, fmt.Errorf("parse milestone level %q: %w", raw, parseErr)
		}
		cfg.MilestoneLevels = append(cfg.MilestoneLevels, level)
	}

	cfg.RetraceCooldown = time.Duration(cooldowns[0]) * time.Second
	cfg.StallCooldown = time.Duration(cooldowns[1]) * time.Second
	cfg.BreakoutCooldown = time.Duration(cooldowns[2]) * time.Second
	cfg.MilestoneCooldown = time.Duration(cooldowns[3]) * time.Second

	return cfg, nil
}

// ListWatchSummaries joins configs with their state for reporting surfaces.
func (s *Store) ListWatchSummaries(ctx context.Context) ([]WatchSummary, error) {
	configs, err := s.ListTriggerConfigs(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]WatchSummary, 0, len(configs))
	for _, cfg := range configs {
		summary := WatchSummary{Config: cfg}

		state, stateErr := s.GetRollingState(ctx, cfg.EntityID)
		if stateErr != nil && !errors.Is(stateErr, pgx.ErrNoRows) {
			return nil, stateErr
		}
		if state != nil {
			price := state.LastPrice
			summary.LastPrice = &price
			summary.LastCap = state.LastMarketCap
			updated := state.LastUpdatedAt
			summary.UpdatedAt = &updated
		}

		if count, countErr := s.CountEntitySamples(ctx, cfg.EntityID); countErr == nil {
			summary.SampleCount = count
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}
