package gate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/market"
)

// Verdict names the guard that rejected a candidate, or Approved.
type Verdict string

const (
	Approved         Verdict = "approved"
	RejectedDedup    Verdict = "dedup"
	RejectedCooldown Verdict = "cooldown"
	RejectedBucket   Verdict = "bucket"
)

// Options tune the three guards.
type Options struct {
	// BucketCapacity is the burst size of the global token bucket.
	BucketCapacity float64
	// RefillPerSecond is the sustained send rate (20/min => 1/3).
	RefillPerSecond float64
	// Cooldown is the per-(scope, kind) minimum gap between sends.
	Cooldown time.Duration
	// DedupWindow is the trailing window within which an identical
	// fingerprint is rejected.
	DedupWindow time.Duration
}

// Gate is the rate-limiting and deduplication layer in front of the outbox.
// Three guards run under one mutex: fingerprint dedup, per-(scope, kind)
// cooldown, and the global token bucket. A token is consumed only when all
// three pass, so a deduplicated alert never burns send budget.
type Gate struct {
	mu   sync.Mutex
	opts Options

	tokens   float64
	refillAt time.Time

	lastSent map[cooldownKey]time.Time
	seen     map[string]time.Time

	logger zerolog.Logger
}

type cooldownKey struct {
	scope string
	kind  market.TriggerKind
}

// New constructs a gate. Zero options fall back to conservative defaults.
func New(opts Options, logger zerolog.Logger) *Gate {
	if opts.BucketCapacity <= 0 {
		opts.BucketCapacity = 5
	}
	if opts.RefillPerSecond <= 0 {
		opts.RefillPerSecond = 1.0 / 3.0
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 30 * time.Second
	}
	return &Gate{
		opts:     opts,
		tokens:   opts.BucketCapacity,
		lastSent: make(map[cooldownKey]time.Time),
		seen:     make(map[string]time.Time),
		logger:   logger.With().Str("component", "gate").Logger(),
	}
}

// Admit runs a candidate through the guards and, on approval, commits the
// bookkeeping (marks the fingerprint seen, stamps the cooldown, consumes a
// token) atomically.
func (g *Gate) Admit(candidate market.CandidateAlert, now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.seen[candidate.Fingerprint]; ok && now.Sub(last) < g.opts.DedupWindow {
		g.logger.Debug().
			Str("fingerprint", candidate.Fingerprint).
			Msg("duplicate fingerprint within dedup window")
		return RejectedDedup
	}

	key := cooldownKey{scope: candidate.ScopeID(), kind: candidate.Kind}
	if g.opts.Cooldown > 0 {
		if last, ok := g.lastSent[key]; ok && now.Sub(last) < g.opts.Cooldown {
			g.logger.Debug().
				Str("scope", key.scope).
				Str("kind", string(key.kind)).
				Msg("send cooldown still active")
			return RejectedCooldown
		}
	}

	g.refill(now)
	if g.tokens < 1 {
		g.logger.Warn().
			Str("scope", key.scope).
			Str("kind", string(key.kind)).
			Msg("global send budget exhausted")
		return RejectedBucket
	}

	g.tokens--
	g.seen[candidate.Fingerprint] = now
	g.lastSent[key] = now
	return Approved
}

// Sweep evicts expired dedup and cooldown entries. Call it periodically from
// the sweep loop; the maps otherwise grow with every distinct alert.
func (g *Gate) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for fp, at := range g.seen {
		if now.Sub(at) >= g.opts.DedupWindow {
			delete(g.seen, fp)
			removed++
		}
	}
	retain := g.opts.Cooldown
	if retain <= 0 {
		retain = time.Hour
	}
	for key, at := range g.lastSent {
		if now.Sub(at) >= retain {
			delete(g.lastSent, key)
			removed++
		}
	}
	return removed
}

func (g *Gate) refill(now time.Time) {
	if g.refillAt.IsZero() {
		g.refillAt = now
		return
	}
	elapsed := now.Sub(g.refillAt).Seconds()
	if elapsed <= 0 {
		return
	}
	g.tokens += elapsed * g.opts.RefillPerSecond
	if g.tokens > g.opts.BucketCapacity {
		g.tokens = g.opts.BucketCapacity
	}
	g.refillAt = now
}
