package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TriggerKind identifies one alert condition family.
type TriggerKind string

const (
	KindRetrace   TriggerKind = "retrace"
	KindStall     TriggerKind = "stall"
	KindBreakout  TriggerKind = "breakout"
	KindMilestone TriggerKind = "mcap_milestone"

	KindHotPct       TriggerKind = "hot_pct"
	KindHotMarketCap TriggerKind = "hot_mcap"
	KindHotFailsafe  TriggerKind = "hot_failsafe"
)

// LongWatchKinds lists the persistent trigger kinds in evaluation order.
var LongWatchKinds = []TriggerKind{KindRetrace, KindStall, KindBreakout, KindMilestone}

// Valid reports whether the kind is one the engine knows.
func (k TriggerKind) Valid() bool {
	switch k {
	case KindRetrace, KindStall, KindBreakout, KindMilestone,
		KindHotPct, KindHotMarketCap, KindHotFailsafe:
		return true
	}
	return false
}

// TriggerConfig holds the long-watch settings for one entity. Thresholds are
// percentages except BreakoutVolMult (a multiplier) and MilestoneLevels
// (absolute market caps).
type TriggerConfig struct {
	EntityID string
	Label    string
	Contract string

	RetraceOn       bool
	RetracePct      decimal.Decimal
	RetraceCooldown time.Duration

	StallOn       bool
	StallVolPct   decimal.Decimal
	StallBandPct  decimal.Decimal
	StallCooldown time.Duration

	BreakoutOn       bool
	BreakoutPct      decimal.Decimal
	BreakoutVolMult  decimal.Decimal
	BreakoutCooldown time.Duration

	MilestonesOn      bool
	MilestoneLevels   []decimal.Decimal
	MilestoneCooldown time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

var hundred = decimal.NewFromInt(100)

// Validate rejects malformed configs before they are written. Invalid
// settings must never reach the evaluator.
func (c *TriggerConfig) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("trigger config: entity id is required")
	}
	if c.RetraceOn {
		if !c.RetracePct.IsPositive() || c.RetracePct.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("trigger config %s: retrace_pct must be in (0, 100), got %s", c.EntityID, c.RetracePct)
		}
		if c.RetraceCooldown <= 0 {
			return fmt.Errorf("trigger config %s: retrace cooldown must be positive", c.EntityID)
		}
	}
	if c.StallOn {
		if !c.StallVolPct.IsPositive() || c.StallVolPct.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("trigger config %s: stall_vol_pct must be in (0, 100), got %s", c.EntityID, c.StallVolPct)
		}
		if !c.StallBandPct.IsPositive() {
			return fmt.Errorf("trigger config %s: stall_band_pct must be positive, got %s", c.EntityID, c.StallBandPct)
		}
		if c.StallCooldown <= 0 {
			return fmt.Errorf("trigger config %s: stall cooldown must be positive", c.EntityID)
		}
	}
	if c.BreakoutOn {
		if !c.BreakoutPct.IsPositive() {
			return fmt.Errorf("trigger config %s: breakout_pct must be positive, got %s", c.EntityID, c.BreakoutPct)
		}
		if !c.BreakoutVolMult.IsPositive() {
			return fmt.Errorf("trigger config %s: breakout_vol_mult must be positive, got %s", c.EntityID, c.BreakoutVolMult)
		}
		if c.BreakoutCooldown <= 0 {
			return fmt.Errorf("trigger config %s: breakout cooldown must be positive", c.EntityID)
		}
	}
	if c.MilestonesOn {
		if len(c.MilestoneLevels) == 0 {
			return fmt.Errorf("trigger config %s: milestones enabled but no levels configured", c.EntityID)
		}
		prev := decimal.Zero
		for i, level := range c.MilestoneLevels {
			if !level.IsPositive() {
				return fmt.Errorf("trigger config %s: milestone level %d must be positive, got %s", c.EntityID, i, level)
			}
			if level.LessThanOrEqual(prev) && i > 0 {
				return fmt.Errorf("trigger config %s: milestone levels must be strictly increasing (%s after %s)", c.EntityID, level, prev)
			}
			prev = level
		}
		if c.MilestoneCooldown <= 0 {
			return fmt.Errorf("trigger config %s: milestone cooldown must be positive", c.EntityID)
		}
	}
	return nil
}

// Enabled reports whether the given long-watch kind is switched on.
func (c *TriggerConfig) Enabled(kind TriggerKind) bool {
	switch kind {
	case KindRetrace:
		return c.RetraceOn
	case KindStall:
		return c.StallOn
	case KindBreakout:
		return c.BreakoutOn
	case KindMilestone:
		return c.MilestonesOn
	default:
		return false
	}
}

// CooldownFor returns the configured cooldown for a long-watch kind.
func (c *TriggerConfig) CooldownFor(kind TriggerKind) time.Duration {
	switch kind {
	case KindRetrace:
		return c.RetraceCooldown
	case KindStall:
		return c.StallCooldown
	case KindBreakout:
		return c.BreakoutCooldown
	case KindMilestone:
		return c.MilestoneCooldown
	default:
		return 0
	}
}
