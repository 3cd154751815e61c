package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HotTargetKind distinguishes the two explicit hot-watch target flavours.
type HotTargetKind string

const (
	HotTargetPct       HotTargetKind = "pct"
	HotTargetMarketCap HotTargetKind = "mcap"
)

// HotTrigger is one one-shot target under a hot-watch entry. Fired never
// reverts to false.
type HotTrigger struct {
	ID      int64
	EntryID string
	Kind    HotTargetKind
	Target  decimal.Decimal
	Fired   bool
	FiredAt time.Time
}

// HotWatchEntry anchors one-shot monitoring of an entity. The anchors are
// captured once at creation and never recomputed.
type HotWatchEntry struct {
	ID              string
	EntityID        string
	Label           string
	CreatedAt       time.Time
	AnchorPrice     decimal.Decimal
	AnchorMarketCap *decimal.Decimal
	FailsafeFired   bool
	Active          bool
	Triggers        []HotTrigger
}

// Validate rejects malformed entries before they are written.
func (e *HotWatchEntry) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("hot watch: entity id is required")
	}
	if !e.AnchorPrice.IsPositive() {
		return fmt.Errorf("hot watch %s: anchor price must be positive, got %s", e.EntityID, e.AnchorPrice)
	}
	if e.AnchorMarketCap != nil && !e.AnchorMarketCap.IsPositive() {
		return fmt.Errorf("hot watch %s: anchor market cap must be positive, got %s", e.EntityID, e.AnchorMarketCap)
	}
	if len(e.Triggers) == 0 {
		return fmt.Errorf("hot watch %s: at least one target is required", e.EntityID)
	}
	seen := make(map[string]struct{}, len(e.Triggers))
	for _, trig := range e.Triggers {
		switch trig.Kind {
		case HotTargetPct:
			if trig.Target.IsZero() {
				return fmt.Errorf("hot watch %s: pct target cannot be zero", e.EntityID)
			}
		case HotTargetMarketCap:
			if !trig.Target.IsPositive() {
				return fmt.Errorf("hot watch %s: mcap target must be positive, got %s", e.EntityID, trig.Target)
			}
		default:
			return fmt.Errorf("hot watch %s: unknown target kind %q", e.EntityID, trig.Kind)
		}
		key := string(trig.Kind) + "|" + trig.Target.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("hot watch %s: duplicate target %s %s", e.EntityID, trig.Kind, trig.Target)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Exhausted reports whether every trigger, including the implicit failsafe,
// has fired. An exhausted entry transitions to inactive and never re-arms.
func (e *HotWatchEntry) Exhausted() bool {
	if !e.FailsafeFired {
		return false
	}
	for _, trig := range e.Triggers {
		if !trig.Fired {
			return false
		}
	}
	return true
}
