package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/feed"
	"coinwatch/internal/gate"
	"coinwatch/internal/hotwatch"
	"coinwatch/internal/longwatch"
	"coinwatch/internal/market"
	"coinwatch/internal/outbox"
	"coinwatch/internal/storage"
	"coinwatch/internal/window"
)

// Deps carries the service's collaborators. Stores may be nil in degraded
// modes (simulate, persistence disabled); the service then runs on the
// in-memory window alone.
type Deps struct {
	Window   *window.Store
	Long     *longwatch.Evaluator
	Hot      *hotwatch.Evaluator
	Gate     *gate.Gate
	Outbox   *outbox.Outbox
	Fetcher  feed.Fetcher
	Supply   *feed.SupplyReader
	Samples  storage.SampleStore
	States   storage.StateStore
	Watches  storage.WatchStore
	HotStore storage.HotWatchStore
	Locker   storage.AdvisoryLocker
}

// Options tune sweep behaviour.
type Options struct {
	FetchTimeout   time.Duration
	Retention      time.Duration
	WarmupRequired bool
	LongLockKey    int64
	HotLockKey     int64
}

// Service owns the two idempotent sweep entry points. It holds no timers;
// the scheduler drives it.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	longRunning atomic.Bool
	hotRunning  atomic.Bool
}

// New constructs the trigger engine service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 73 * time.Hour
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// WarmStart rebuilds every watched entity's in-memory window from the
// persisted sample log. Recomputation from raw samples is authoritative.
func (s *Service) WarmStart(ctx context.Context) error {
	if s.deps.Watches == nil || s.deps.Samples == nil {
		return nil
	}

	ids, err := s.deps.Watches.ListWatchedEntityIDs(ctx)
	if err != nil {
		return fmt.Errorf("list watched entities: %w", err)
	}

	since := time.Now().UTC().Add(-s.opts.Retention)
	for _, id := range ids {
		samples, err := s.deps.Samples.ListSamplesSince(ctx, id, since)
		if err != nil {
			s.logger.Error().Err(err).Str("entity", id).Msg("warm start reload failed")
			continue
		}
		s.deps.Window.Reload(id, samples)
		s.logger.Debug().Str("entity", id).Int("samples", len(samples)).Msg("window reloaded")
	}
	return nil
}

// RunLongWatchCycle evaluates every long-watched entity once. Overlapping
// invocations of the same sweep are skipped, in-process and cross-process.
func (s *Service) RunLongWatchCycle(ctx context.Context, at time.Time) error {
	if !s.longRunning.CompareAndSwap(false, true) {
		s.logger.Warn().Time("at", at).Msg("previous long-watch sweep still running, skipping")
		sweepsTotal.WithLabelValues("long", "skipped").Inc()
		return nil
	}
	defer s.longRunning.Store(false)

	unlock, proceed, err := s.acquireLock(ctx, s.opts.LongLockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("long-watch advisory lock held elsewhere, skipping")
		sweepsTotal.WithLabelValues("long", "skipped").Inc()
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	defer func() {
		sweepDuration.WithLabelValues("long").Observe(time.Since(started).Seconds())
	}()

	configs, err := s.deps.Watches.ListTriggerConfigs(ctx)
	if err != nil {
		sweepsTotal.WithLabelValues("long", "error").Inc()
		return fmt.Errorf("list trigger configs: %w", err)
	}

	evaluated := 0
	for i := range configs {
		cfg := &configs[i]
		if err := s.evaluateLongEntity(ctx, cfg, at); err != nil {
			s.logger.Error().Err(err).Str("entity", cfg.EntityID).Msg("entity evaluation failed")
			continue
		}
		evaluated++
	}

	s.endOfSweepHousekeeping(ctx, at)

	s.logger.Info().
		Time("at", at).
		Int("entities", len(configs)).
		Int("evaluated", evaluated).
		Msg("long-watch sweep complete")
	sweepsTotal.WithLabelValues("long", "ok").Inc()
	return nil
}

// evaluateLongEntity runs one entity's fetch -> ingest -> evaluate -> gate ->
// deliver -> persist chain. A panic anywhere inside is caught here so one
// entity cannot abort the sweep.
func (s *Service) evaluateLongEntity(ctx context.Context, cfg *market.TriggerConfig, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			entityErrors.WithLabelValues("long", "panic").Inc()
			err = fmt.Errorf("panic during evaluation: %v\n%s", r, debug.Stack())
		}
	}()

	snap, err := s.fetchSnapshot(ctx, cfg.EntityID, cfg.Contract)
	if err != nil {
		entityErrors.WithLabelValues("long", "fetch").Inc()
		return err
	}
	if snap == nil {
		s.logger.Debug().Str("entity", cfg.EntityID).Msg("no snapshot, entity skipped this cycle")
		return nil
	}

	sample := market.Sample{
		EntityID:  cfg.EntityID,
		Timestamp: at,
		Price:     snap.Price,
		Volume:    snap.Volume24h,
		MarketCap: snap.MarketCap,
	}

	// Write-through before evaluation; a failed persist is logged and the
	// cycle continues on the in-memory window.
	if s.deps.Samples != nil {
		if err := s.deps.Samples.InsertSample(ctx, sample); err != nil {
			entityErrors.WithLabelValues("long", "persist_sample").Inc()
			s.logger.Error().Err(err).Str("entity", cfg.EntityID).Msg("sample write-through failed")
		}
	}

	// Ingest must complete before aggregates are read: strict order.
	stats := s.deps.Window.Ingest(sample)

	state, err := s.loadState(ctx, cfg.EntityID)
	if err != nil {
		entityErrors.WithLabelValues("long", "load_state").Inc()
		return err
	}

	cycle := longwatch.Cycle{
		State:        state,
		Config:       cfg,
		Snapshot:     snap,
		Stats:        stats,
		StatsFromLog: true,
		Warm:         s.warmth(cfg.EntityID, at),
		Now:          at,
	}
	candidates := s.deps.Long.Evaluate(cycle)
	s.dispatch(ctx, candidates, at)

	if s.deps.States != nil {
		if err := s.deps.States.UpsertRollingState(ctx, state); err != nil {
			entityErrors.WithLabelValues("long", "persist_state").Inc()
			// State is stale but safe: the next cycle recomputes from samples.
			s.logger.Error().Err(err).Str("entity", cfg.EntityID).Msg("rolling state persist failed")
		}
	}
	return nil
}

// RunHotWatchCycle evaluates every active hot-watch entry once.
func (s *Service) RunHotWatchCycle(ctx context.Context, at time.Time) error {
	if !s.hotRunning.CompareAndSwap(false, true) {
		s.logger.Warn().Time("at", at).Msg("previous hot-watch sweep still running, skipping")
		sweepsTotal.WithLabelValues("hot", "skipped").Inc()
		return nil
	}
	defer s.hotRunning.Store(false)

	unlock, proceed, err := s.acquireLock(ctx, s.opts.HotLockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("hot-watch advisory lock held elsewhere, skipping")
		sweepsTotal.WithLabelValues("hot", "skipped").Inc()
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	defer func() {
		sweepDuration.WithLabelValues("hot").Observe(time.Since(started).Seconds())
	}()

	entries, err := s.deps.HotStore.ListActiveHotWatches(ctx)
	if err != nil {
		sweepsTotal.WithLabelValues("hot", "error").Inc()
		return fmt.Errorf("list active hot watches: %w", err)
	}
	activeHotWatches.Set(float64(len(entries)))

	// One snapshot per entity per sweep, shared across its entries.
	snapshots := make(map[string]*market.Snapshot)
	for i := range entries {
		entry := &entries[i]
		if err := s.evaluateHotEntry(ctx, entry, snapshots, at); err != nil {
			s.logger.Error().Err(err).
				Str("entry", entry.ID).
				Str("entity", entry.EntityID).
				Msg("hot entry evaluation failed")
		}
	}

	s.logger.Info().Time("at", at).Int("entries", len(entries)).Msg("hot-watch sweep complete")
	sweepsTotal.WithLabelValues("hot", "ok").Inc()
	return nil
}

func (s *Service) evaluateHotEntry(ctx context.Context, entry *market.HotWatchEntry, snapshots map[string]*market.Snapshot, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			entityErrors.WithLabelValues("hot", "panic").Inc()
			err = fmt.Errorf("panic during evaluation: %v\n%s", r, debug.Stack())
		}
	}()

	snap, cached := snapshots[entry.EntityID]
	if !cached {
		snap, err = s.fetchSnapshot(ctx, entry.EntityID, "")
		if err != nil {
			entityErrors.WithLabelValues("hot", "fetch").Inc()
			return err
		}
		snapshots[entry.EntityID] = snap
	}
	if snap == nil {
		return nil
	}

	res := s.deps.Hot.Evaluate(entry, snap, at)
	s.dispatch(ctx, res.Candidates, at)

	if s.deps.HotStore == nil {
		return nil
	}
	if res.FailsafeFired {
		if err := s.deps.HotStore.MarkFailsafeFired(ctx, entry.ID); err != nil {
			entityErrors.WithLabelValues("hot", "persist").Inc()
			s.logger.Error().Err(err).Str("entry", entry.ID).Msg("failsafe persist failed")
		}
	}
	for _, idx := range res.FiredIdx {
		trig := entry.Triggers[idx]
		if err := s.deps.HotStore.MarkHotTriggerFired(ctx, trig.ID, at); err != nil {
			entityErrors.WithLabelValues("hot", "persist").Inc()
			s.logger.Error().Err(err).
				Str("entry", entry.ID).
				Int64("trigger", trig.ID).
				Msg("trigger persist failed")
		}
	}
	if res.Deactivated {
		if err := s.deps.HotStore.DeactivateHotWatch(ctx, entry.ID); err != nil {
			entityErrors.WithLabelValues("hot", "persist").Inc()
			s.logger.Error().Err(err).Str("entry", entry.ID).Msg("deactivate persist failed")
		}
	}
	return nil
}

// dispatch runs candidates through the gate and, on approval, the outbox.
func (s *Service) dispatch(ctx context.Context, candidates []market.CandidateAlert, at time.Time) {
	for _, candidate := range candidates {
		verdict := s.deps.Gate.Admit(candidate, at)
		if verdict != gate.Approved {
			gateRejections.WithLabelValues(string(verdict)).Inc()
			s.logger.Debug().
				Str("entity", candidate.EntityID).
				Str("kind", string(candidate.Kind)).
				Str("guard", string(verdict)).
				Msg("candidate rejected by gate")
			continue
		}

		delivered, err := s.deps.Outbox.Send(ctx, candidate)
		if err != nil {
			s.logger.Error().Err(err).
				Str("entity", candidate.EntityID).
				Str("kind", string(candidate.Kind)).
				Msg("alert delivery failed")
			continue
		}
		if delivered {
			alertsDelivered.WithLabelValues(string(candidate.Kind)).Inc()
		}
	}
}

func (s *Service) fetchSnapshot(ctx context.Context, entityID, contract string) (*market.Snapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	snap, err := s.deps.Fetcher.Snapshot(fetchCtx, entityID)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if snap == nil {
		return nil, nil
	}
	if err := snap.Validate(); err != nil {
		s.logger.Warn().Err(err).Str("entity", entityID).Msg("snapshot failed sanity check, skipping")
		return nil, nil
	}

	if s.deps.Supply != nil && contract != "" {
		snap = s.deps.Supply.Enrich(fetchCtx, snap, contract)
	}
	return snap, nil
}

func (s *Service) loadState(ctx context.Context, entityID string) (*market.RollingState, error) {
	if s.deps.States == nil {
		return &market.RollingState{EntityID: entityID}, nil
	}
	state, err := s.deps.States.GetRollingState(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load rolling state: %w", err)
	}
	if state == nil {
		state = &market.RollingState{EntityID: entityID}
	}
	return state, nil
}

func (s *Service) warmth(entityID string, now time.Time) longwatch.Warmth {
	if !s.opts.WarmupRequired {
		return longwatch.Warmth{W12: true, W24: true, W72: true}
	}
	return longwatch.Warmth{
		W12: s.deps.Window.IsWarm(entityID, market.Window12h, now),
		W24: s.deps.Window.IsWarm(entityID, market.Window24h, now),
		W72: s.deps.Window.IsWarm(entityID, market.Window72h, now),
	}
}

func (s *Service) endOfSweepHousekeeping(ctx context.Context, at time.Time) {
	s.deps.Window.Prune(at)
	s.deps.Gate.Sweep(at)
	if s.deps.Samples != nil {
		cutoff := at.Add(-s.opts.Retention)
		if removed, err := s.deps.Samples.DeleteSamplesBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("persisted sample prune failed")
		} else if removed > 0 {
			s.logger.Debug().Int64("removed", removed).Msg("pruned persisted samples")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
