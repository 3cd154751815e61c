package window

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

// Store owns the per-entity sample logs and answers rolling aggregate
// queries. Aggregates are recomputed by a full scan of the retained window on
// every ingestion; the load is bounded by entity count times sample rate, so
// simplicity wins over cleverness here.
type Store struct {
	mu        sync.Mutex
	retention time.Duration
	logs      map[string][]market.Sample
	logger    zerolog.Logger
}

// New constructs a window store. retention must exceed the largest window;
// samples older than it are discarded.
func New(retention time.Duration, logger zerolog.Logger) *Store {
	if retention <= market.Window72h {
		retention = market.Window72h + time.Hour
	}
	return &Store{
		retention: retention,
		logs:      make(map[string][]market.Sample),
		logger:    logger.With().Str("component", "window_store").Logger(),
	}
}

// Ingest appends a sample to the entity's log and returns the updated
// aggregates as of the sample's timestamp.
func (s *Store) Ingest(sample market.Sample) market.WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.logs[sample.EntityID], sample)
	if n := len(log); n > 1 && log[n-2].Timestamp.After(sample.Timestamp) {
		sort.Slice(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })
	}
	log = trimBefore(log, sample.Timestamp.Add(-s.retention))
	s.logs[sample.EntityID] = log

	return computeStats(log, sample.Timestamp)
}

// Stats recomputes the aggregates for an entity without ingesting anything.
func (s *Store) Stats(entityID string, now time.Time) market.WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeStats(s.logs[entityID], now)
}

// IsWarm reports whether the earliest retained sample is at least required
// old, i.e. whether a window of that length is fully backed by history.
func (s *Store) IsWarm(entityID string, required time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[entityID]
	if len(log) == 0 {
		return false
	}
	return now.Sub(log[0].Timestamp) >= required
}

// Prune drops samples older than the retention horizon across all entities
// and returns how many were removed. Idempotent.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.retention)
	removed := 0
	for id, log := range s.logs {
		kept := trimBefore(log, cutoff)
		removed += len(log) - len(kept)
		if len(kept) == 0 {
			delete(s.logs, id)
			continue
		}
		s.logs[id] = kept
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("pruned expired samples")
	}
	return removed
}

// Reload replaces an entity's log with persisted samples, oldest first.
// Recomputation from the raw log is the authoritative recovery path after a
// restart.
func (s *Store) Reload(entityID string, samples []market.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := make([]market.Sample, len(samples))
	copy(log, samples)
	sort.Slice(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })
	s.logs[entityID] = log
}

// Drop forgets an entity's log entirely.
func (s *Store) Drop(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, entityID)
}

// Count returns the number of retained samples for an entity.
func (s *Store) Count(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[entityID])
}

func trimBefore(log []market.Sample, cutoff time.Time) []market.Sample {
	idx := 0
	for idx < len(log) && log[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return log
	}
	return append(log[:0:0], log[idx:]...)
}

// computeStats walks the log once and accumulates highs, lows, and volume
// sums per window. Windows with no samples stay nil: an empty window's stat
// is undefined, never zero.
func computeStats(log []market.Sample, now time.Time) market.WindowStats {
	var stats market.WindowStats
	if len(log) == 0 {
		return stats
	}

	cut12 := now.Add(-market.Window12h)
	cut24 := now.Add(-market.Window24h)
	cut72 := now.Add(-market.Window72h)

	for _, sample := range log {
		ts := sample.Timestamp
		if ts.After(now) {
			continue
		}
		if !ts.Before(cut72) {
			stats.High72 = maxDec(stats.High72, sample.Price)
			stats.Low72 = minDec(stats.Low72, sample.Price)
		}
		if !ts.Before(cut24) {
			stats.High24 = maxDec(stats.High24, sample.Price)
			stats.Low24 = minDec(stats.Low24, sample.Price)
			stats.VolSum24 = addDec(stats.VolSum24, sample.Volume)
		}
		if !ts.Before(cut12) {
			stats.High12 = maxDec(stats.High12, sample.Price)
			stats.Low12 = minDec(stats.Low12, sample.Price)
			stats.VolSum12 = addDec(stats.VolSum12, sample.Volume)
		}
	}
	return stats
}

func maxDec(current *decimal.Decimal, candidate decimal.Decimal) *decimal.Decimal {
	if current == nil || candidate.GreaterThan(*current) {
		return &candidate
	}
	return current
}

func minDec(current *decimal.Decimal, candidate decimal.Decimal) *decimal.Decimal {
	if current == nil || candidate.LessThan(*current) {
		return &candidate
	}
	return current
}

func addDec(current *decimal.Decimal, delta decimal.Decimal) *decimal.Decimal {
	if current == nil {
		return &delta
	}
	sum := current.Add(delta)
	return &sum
}
