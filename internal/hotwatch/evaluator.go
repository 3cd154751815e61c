package hotwatch

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

var (
	hundred = decimal.NewFromInt(100)
	// FailsafeDrawdownPct is the fixed drawdown at which every entry's
	// implicit failsafe fires, regardless of configured targets.
	FailsafeDrawdownPct = decimal.NewFromInt(60)
)

// Result is the outcome of one entry's evaluation pass. Fired triggers are
// reported by index into the entry's trigger slice so the caller can persist
// exactly what changed.
type Result struct {
	Candidates    []market.CandidateAlert
	FiredIdx      []int
	FailsafeFired bool
	Deactivated   bool
}

// Evaluator runs the one-shot target state machines. A trigger moves from
// armed to fired exactly once; an entry whose triggers have all fired,
// failsafe included, is deactivated and never re-armed.
type Evaluator struct {
	logger zerolog.Logger
}

// New constructs a hot-watch evaluator.
func New(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With().Str("component", "hotwatch").Logger()}
}

// Evaluate checks the failsafe and every unfired target of one active entry
// against the snapshot. It mutates the entry's fired flags and active state in
// place and returns the candidates plus what changed.
func (e *Evaluator) Evaluate(entry *market.HotWatchEntry, snap *market.Snapshot, now time.Time) Result {
	var res Result
	if entry == nil || !entry.Active {
		return res
	}

	candidate := func(kind market.TriggerKind, target string, magnitude, threshold decimal.Decimal) market.CandidateAlert {
		return market.CandidateAlert{
			EntityID:    entry.EntityID,
			EntryID:     entry.ID,
			Label:       entry.Label,
			Kind:        kind,
			Fingerprint: market.NewFingerprint(entry.ID, kind, target, now, 0),
			Price:       snap.Price,
			Volume:      snap.Volume24h,
			MarketCap:   snap.MarketCap,
			Magnitude:   magnitude,
			Threshold:   threshold,
			At:          now,
		}
	}

	// The failsafe runs before target checks and independently of them.
	if !entry.FailsafeFired {
		if drawdown, hit := e.failsafeDrawdown(entry, snap); hit {
			entry.FailsafeFired = true
			res.FailsafeFired = true
			res.Candidates = append(res.Candidates, candidate(market.KindHotFailsafe, "", drawdown, FailsafeDrawdownPct))
			e.logger.Debug().
				Str("entry", entry.ID).
				Str("entity", entry.EntityID).
				Str("drawdown_pct", drawdown.StringFixed(2)).
				Msg("failsafe drawdown reached")
		}
	}

	for i := range entry.Triggers {
		trig := &entry.Triggers[i]
		if trig.Fired {
			continue
		}

		switch trig.Kind {
		case market.HotTargetPct:
			delta := snap.Price.Sub(entry.AnchorPrice).Div(entry.AnchorPrice).Mul(hundred)
			hit := false
			if trig.Target.IsPositive() {
				hit = delta.GreaterThanOrEqual(trig.Target)
			} else {
				hit = delta.LessThanOrEqual(trig.Target)
			}
			if hit {
				trig.Fired = true
				trig.FiredAt = now
				res.FiredIdx = append(res.FiredIdx, i)
				res.Candidates = append(res.Candidates, candidate(market.KindHotPct, trig.Target.String(), delta, trig.Target))
			}

		case market.HotTargetMarketCap:
			if snap.MarketCap == nil {
				continue
			}
			if snap.MarketCap.GreaterThanOrEqual(trig.Target) {
				trig.Fired = true
				trig.FiredAt = now
				res.FiredIdx = append(res.FiredIdx, i)
				res.Candidates = append(res.Candidates, candidate(market.KindHotMarketCap, trig.Target.String(), decimal.Zero, trig.Target))
			}
		}
	}

	if entry.Exhausted() {
		entry.Active = false
		res.Deactivated = true
		e.logger.Info().
			Str("entry", entry.ID).
			Str("entity", entry.EntityID).
			Msg("all targets fired, entry deactivated")
	}

	return res
}

// failsafeDrawdown measures the drop from the anchor, preferring price but
// also honouring an anchored market cap when the snapshot carries one.
func (e *Evaluator) failsafeDrawdown(entry *market.HotWatchEntry, snap *market.Snapshot) (decimal.Decimal, bool) {
	priceDrop := entry.AnchorPrice.Sub(snap.Price).Div(entry.AnchorPrice).Mul(hundred)
	if priceDrop.GreaterThanOrEqual(FailsafeDrawdownPct) {
		return priceDrop, true
	}
	if entry.AnchorMarketCap != nil && snap.MarketCap != nil && entry.AnchorMarketCap.IsPositive() {
		capDrop := entry.AnchorMarketCap.Sub(*snap.MarketCap).Div(*entry.AnchorMarketCap).Mul(hundred)
		if capDrop.GreaterThanOrEqual(FailsafeDrawdownPct) {
			return capDrop, true
		}
	}
	return decimal.Zero, false
}
