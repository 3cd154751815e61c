package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CandidateAlert is a fired trigger before rate limiting and delivery.
// Evaluators produce candidates; they never touch a transport.
type CandidateAlert struct {
	EntityID    string
	EntryID     string
	Label       string
	Kind        TriggerKind
	Fingerprint string

	Price     decimal.Decimal
	Volume    decimal.Decimal
	MarketCap *decimal.Decimal

	// Magnitude is the measured move in percent (retrace depth, hot-watch
	// gain/loss, failsafe drawdown). Zero for kinds without one.
	Magnitude decimal.Decimal
	// Threshold is the configured boundary that was crossed: a percentage
	// for retrace/stall/breakout/hot pct, an absolute market cap for
	// milestone and hot mcap targets.
	Threshold decimal.Decimal

	At time.Time
}

// ScopeID returns the identifier that keys cooldown and fingerprint state:
// the hot-watch entry id when present, the entity id otherwise.
func (a *CandidateAlert) ScopeID() string {
	if a.EntryID != "" {
		return a.EntryID
	}
	return a.EntityID
}

// AlertEvent is the structured record published for every delivered alert.
type AlertEvent struct {
	ScopeID   string
	EntityID  string
	Kind      TriggerKind
	Message   string
	Price     decimal.Decimal
	MarketCap *decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// NewFingerprint derives the deterministic idempotency key for one logical
// alert occurrence. epoch > 0 buckets the fire time so repeated detection of
// the same fire shares a key while a re-fire after cooldown gets a fresh one;
// epoch <= 0 pins the key (one-shot triggers).
func NewFingerprint(scopeID string, kind TriggerKind, target string, at time.Time, epoch time.Duration) string {
	bucket := int64(0)
	if epoch > 0 {
		bucket = at.Truncate(epoch).Unix()
	}
	if target == "" {
		target = "-"
	}
	return fmt.Sprintf("%s|%s|%s|%d", scopeID, kind, target, bucket)
}
