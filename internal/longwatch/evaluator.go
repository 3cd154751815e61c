package longwatch

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Warmth reports which windows are fully backed by sample history. A cold
// window blocks its trigger kinds outright; the engine never evaluates
// against approximated windows.
type Warmth struct {
	W12 bool
	W24 bool
	W72 bool
}

// Cycle bundles one entity's evaluation pass. State is read as of the
// previous cycle and mutated in place: candidates are decided against the
// prior aggregates, then the fresh stats are folded in.
type Cycle struct {
	State    *market.RollingState
	Config   *market.TriggerConfig
	Snapshot *market.Snapshot
	// Stats are the aggregates recomputed from the sample log after the
	// current sample was ingested. StatsFromLog marks them authoritative;
	// when false the state falls back to rolling max/min maintenance.
	Stats        market.WindowStats
	StatsFromLog bool
	Warm         Warmth
	Now          time.Time
}

// Evaluator runs the persistent per-entity trigger state machines:
// armed, fired, cooldown, armed again. It produces candidate alerts and
// updates RollingState; it never touches a transport.
type Evaluator struct {
	logger zerolog.Logger
}

// New constructs a long-watch evaluator.
func New(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With().Str("component", "longwatch").Logger()}
}

// Evaluate checks the four trigger kinds independently and returns the
// candidates that fired this cycle. Zero, one, or several kinds may fire.
func (e *Evaluator) Evaluate(c Cycle) []market.CandidateAlert {
	state, cfg, snap := c.State, c.Config, c.Snapshot

	var fired []market.CandidateAlert
	appendFired := func(kind market.TriggerKind, target string, magnitude, threshold decimal.Decimal) {
		candidate := market.CandidateAlert{
			EntityID:    state.EntityID,
			Label:       cfg.Label,
			Kind:        kind,
			Fingerprint: market.NewFingerprint(state.EntityID, kind, target, c.Now, cfg.CooldownFor(kind)),
			Price:       snap.Price,
			Volume:      snap.Volume24h,
			MarketCap:   snap.MarketCap,
			Magnitude:   magnitude,
			Threshold:   threshold,
			At:          c.Now,
		}
		fired = append(fired, candidate)
		state.MarkFired(kind, c.Now, snap.Price)
		e.logger.Debug().
			Str("entity", state.EntityID).
			Str("kind", string(kind)).
			Str("price", snap.Price.String()).
			Str("magnitude", magnitude.StringFixed(4)).
			Msg("trigger condition met")
	}

	if e.retraceReady(c) {
		high := *state.High72
		boundary := high.Mul(one.Sub(cfg.RetracePct.Div(hundred)))
		if snap.Price.LessThanOrEqual(boundary) {
			magnitude := high.Sub(snap.Price).Div(high).Mul(hundred)
			appendFired(market.KindRetrace, "", magnitude, cfg.RetracePct)
		}
	}

	if e.stallReady(c) {
		volCeiling := state.VolSum24.Mul(one.Sub(cfg.StallVolPct.Div(hundred)))
		bandHigh := snap.Price.Mul(one.Add(cfg.StallBandPct.Div(hundred)))
		bandLow := snap.Price.Mul(one.Sub(cfg.StallBandPct.Div(hundred)))
		if snap.Volume24h.LessThanOrEqual(volCeiling) &&
			state.High12.LessThanOrEqual(bandHigh) &&
			state.Low12.GreaterThanOrEqual(bandLow) {
			contraction := one.Sub(snap.Volume24h.Div(*state.VolSum24)).Mul(hundred)
			appendFired(market.KindStall, "", contraction, cfg.StallVolPct)
		}
	}

	if e.breakoutReady(c) {
		high := *state.High12
		priceFloor := high.Mul(one.Add(cfg.BreakoutPct.Div(hundred)))
		volFloor := state.VolSum12.Mul(cfg.BreakoutVolMult)
		if snap.Price.GreaterThanOrEqual(priceFloor) && snap.Volume24h.GreaterThanOrEqual(volFloor) {
			magnitude := snap.Price.Sub(high).Div(high).Mul(hundred)
			appendFired(market.KindBreakout, "", magnitude, cfg.BreakoutPct)
		}
	}

	if e.milestoneReady(c) {
		prev := *state.LastMarketCap
		cur := *snap.MarketCap
		for _, level := range cfg.MilestoneLevels {
			if cur.GreaterThanOrEqual(level) && prev.LessThan(level) {
				appendFired(market.KindMilestone, level.String(), decimal.Zero, level)
				break
			}
		}
	}

	e.advanceState(c)
	return fired
}

func (e *Evaluator) retraceReady(c Cycle) bool {
	return c.Config.RetraceOn &&
		c.Warm.W72 &&
		c.State.High72 != nil &&
		cooldownElapsed(c.State.RetraceFiredAt, c.Config.RetraceCooldown, c.Now)
}

func (e *Evaluator) stallReady(c Cycle) bool {
	return c.Config.StallOn &&
		c.Warm.W24 &&
		c.State.VolSum24 != nil && c.State.High12 != nil && c.State.Low12 != nil &&
		c.State.VolSum24.IsPositive() &&
		cooldownElapsed(c.State.StallFiredAt, c.Config.StallCooldown, c.Now)
}

func (e *Evaluator) breakoutReady(c Cycle) bool {
	return c.Config.BreakoutOn &&
		c.Warm.W12 &&
		c.State.High12 != nil && c.State.VolSum12 != nil &&
		cooldownElapsed(c.State.BreakoutFiredAt, c.Config.BreakoutCooldown, c.Now)
}

func (e *Evaluator) milestoneReady(c Cycle) bool {
	return c.Config.MilestonesOn &&
		len(c.Config.MilestoneLevels) > 0 &&
		c.Snapshot.MarketCap != nil &&
		c.State.LastMarketCap != nil &&
		cooldownElapsed(c.State.MilestoneFiredAt, c.Config.MilestoneCooldown, c.Now)
}

func cooldownElapsed(lastFire time.Time, cooldown time.Duration, now time.Time) bool {
	if lastFire.IsZero() {
		return true
	}
	return now.Sub(lastFire) >= cooldown
}

// advanceState folds the current snapshot into RollingState. Authoritative
// stats from the sample log replace the cached aggregates wholesale; without
// them highs/lows roll forward, hard-resetting any window whose last rebuild
// is older than the window itself.
func (e *Evaluator) advanceState(c Cycle) {
	state, snap := c.State, c.Snapshot

	if c.StatsFromLog {
		state.ApplyStats(c.Stats)
		state.Reset12At = c.Now
		state.Reset24At = c.Now
		state.Reset72At = c.Now
	} else {
		rollWindow(&state.High12, &state.Low12, &state.Reset12At, market.Window12h, snap.Price, c.Now)
		rollWindow(&state.High24, &state.Low24, &state.Reset24At, market.Window24h, snap.Price, c.Now)
		rollWindow(&state.High72, &state.Low72, &state.Reset72At, market.Window72h, snap.Price, c.Now)
	}

	state.LastPrice = snap.Price
	if snap.MarketCap != nil {
		state.LastMarketCap = snap.MarketCap
	}
	state.LastUpdatedAt = c.Now
}

func rollWindow(high, low **decimal.Decimal, resetAt *time.Time, window time.Duration, price decimal.Decimal, now time.Time) {
	stale := resetAt.IsZero() || now.Sub(*resetAt) > window
	if stale || *high == nil || *low == nil {
		p := price
		*high = &p
		q := price
		*low = &q
		*resetAt = now
		return
	}
	*high = market.DecimalPtr(decimal.Max(**high, price))
	*low = market.DecimalPtr(decimal.Min(**low, price))
}
