package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

// OutboxRecord is one row of the idempotent delivery ledger, keyed by the
// alert fingerprint.
type OutboxRecord struct {
	Fingerprint string
	EntityID    string
	EntryID     *string
	Kind        market.TriggerKind
	Channel     string
	Message     string
	SentOK      bool
	SentAt      time.Time
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
}

// WatchSummary pairs a trigger config with its rolling-state snapshot for the
// status API and the watch listing.
type WatchSummary struct {
	Config      market.TriggerConfig
	LastPrice   *decimal.Decimal
	LastCap     *decimal.Decimal
	SampleCount int64
	UpdatedAt   *time.Time
}
