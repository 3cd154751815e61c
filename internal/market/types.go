package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Window durations used by the rolling aggregates.
const (
	Window12h = 12 * time.Hour
	Window24h = 24 * time.Hour
	Window72h = 72 * time.Hour
)

// Snapshot is one observation of an entity's market state.
type Snapshot struct {
	EntityID       string
	Price          decimal.Decimal
	Volume24h      decimal.Decimal
	MarketCap      *decimal.Decimal
	PriceChange24h *decimal.Decimal
	PriceChange1h  *decimal.Decimal
	FetchedAt      time.Time
}

// Validate rejects snapshots that fail basic sanity checks.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("snapshot is nil")
	}
	if s.EntityID == "" {
		return errors.New("snapshot entity id is empty")
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("snapshot price must be positive, got %s", s.Price)
	}
	if s.Volume24h.IsNegative() {
		return fmt.Errorf("snapshot volume cannot be negative, got %s", s.Volume24h)
	}
	return nil
}

// Sample is one retained point of the per-entity sample log.
type Sample struct {
	EntityID  string
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	MarketCap *decimal.Decimal
}

// WindowStats carries the rolling aggregates over the fixed windows.
// A nil field means the window held no samples and the stat is undefined.
type WindowStats struct {
	High12   *decimal.Decimal
	High24   *decimal.Decimal
	High72   *decimal.Decimal
	Low12    *decimal.Decimal
	Low24    *decimal.Decimal
	Low72    *decimal.Decimal
	VolSum12 *decimal.Decimal
	VolSum24 *decimal.Decimal
}

// RollingState is the persisted per-entity cache of the latest WindowStats
// plus long-watch fire bookkeeping. Only the long-watch evaluation path
// mutates it.
type RollingState struct {
	EntityID      string
	High12        *decimal.Decimal
	High24        *decimal.Decimal
	High72        *decimal.Decimal
	Low12         *decimal.Decimal
	Low24         *decimal.Decimal
	Low72         *decimal.Decimal
	VolSum12      *decimal.Decimal
	VolSum24      *decimal.Decimal
	LastPrice     decimal.Decimal
	LastMarketCap *decimal.Decimal
	LastUpdatedAt time.Time

	Reset12At time.Time
	Reset24At time.Time
	Reset72At time.Time

	RetraceFiredAt   time.Time
	StallFiredAt     time.Time
	BreakoutFiredAt  time.Time
	MilestoneFiredAt time.Time

	RetraceFirePrice  *decimal.Decimal
	StallFirePrice    *decimal.Decimal
	BreakoutFirePrice *decimal.Decimal
}

// FiredAt returns the last fire timestamp for a long-watch kind.
func (r *RollingState) FiredAt(kind TriggerKind) time.Time {
	switch kind {
	case KindRetrace:
		return r.RetraceFiredAt
	case KindStall:
		return r.StallFiredAt
	case KindBreakout:
		return r.BreakoutFiredAt
	case KindMilestone:
		return r.MilestoneFiredAt
	default:
		return time.Time{}
	}
}

// MarkFired records a fire for a long-watch kind.
func (r *RollingState) MarkFired(kind TriggerKind, at time.Time, price decimal.Decimal) {
	p := price
	switch kind {
	case KindRetrace:
		r.RetraceFiredAt = at
		r.RetraceFirePrice = &p
	case KindStall:
		r.StallFiredAt = at
		r.StallFirePrice = &p
	case KindBreakout:
		r.BreakoutFiredAt = at
		r.BreakoutFirePrice = &p
	case KindMilestone:
		r.MilestoneFiredAt = at
	}
}

// ApplyStats overwrites the cached aggregates with freshly computed ones.
func (r *RollingState) ApplyStats(stats WindowStats) {
	r.High12 = stats.High12
	r.High24 = stats.High24
	r.High72 = stats.High72
	r.Low12 = stats.Low12
	r.Low24 = stats.Low24
	r.Low72 = stats.Low72
	r.VolSum12 = stats.VolSum12
	r.VolSum24 = stats.VolSum24
}

// DecimalPtr is a convenience for building optional decimal values.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
