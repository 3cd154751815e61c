package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/alerting"
	"coinwatch/internal/market"
	"coinwatch/internal/storage"
)

// Outbox is the idempotent delivery tracker. Every alert is keyed by its
// fingerprint; a fingerprint recorded as sent is never delivered again, no
// matter how many times Send is retried.
type Outbox struct {
	store    storage.OutboxStore
	notifier alerting.Notifier
	stream   *alerting.Stream
	channel  string
	logger   zerolog.Logger
}

// New constructs an outbox. store may be nil (delivery proceeds without the
// persisted ledger, e.g. in simulate mode); stream may be nil.
func New(store storage.OutboxStore, notifier alerting.Notifier, stream *alerting.Stream, channel string, logger zerolog.Logger) *Outbox {
	return &Outbox{
		store:    store,
		notifier: notifier,
		stream:   stream,
		channel:  channel,
		logger:   logger.With().Str("component", "outbox").Logger(),
	}
}

// Send delivers one gated candidate at most once. It returns whether this
// call performed a delivery: a fingerprint already recorded as sent
// short-circuits to (false, nil) without touching the transport.
func (o *Outbox) Send(ctx context.Context, candidate market.CandidateAlert) (bool, error) {
	if o.notifier == nil {
		return false, fmt.Errorf("outbox: no notifier configured")
	}

	if o.store != nil {
		prior, err := o.store.GetOutboxRecord(ctx, candidate.Fingerprint)
		if err != nil {
			return false, fmt.Errorf("lookup outbox record: %w", err)
		}
		if prior != nil && prior.SentOK {
			o.logger.Debug().
				Str("fingerprint", candidate.Fingerprint).
				Msg("alert already delivered, skipping")
			return false, nil
		}
	}

	note := alerting.Render(candidate)
	sendErr := o.notifier.Send(ctx, note)

	// Persist the outcome immediately after the transport call returns:
	// the window between a successful send and this write is the only
	// duplicate risk, and it is kept as narrow as possible.
	if o.store != nil {
		rec := storage.OutboxRecord{
			Fingerprint: candidate.Fingerprint,
			EntityID:    candidate.EntityID,
			Kind:        candidate.Kind,
			Channel:     o.channel,
			Message:     note.Title,
			SentOK:      sendErr == nil,
			SentAt:      time.Now().UTC(),
		}
		if candidate.EntryID != "" {
			entryID := candidate.EntryID
			rec.EntryID = &entryID
		}
		if sendErr != nil {
			msg := sendErr.Error()
			rec.LastError = &msg
		}
		if err := o.store.UpsertOutboxRecord(ctx, rec); err != nil {
			o.logger.Error().Err(err).
				Str("fingerprint", candidate.Fingerprint).
				Msg("failed to persist delivery outcome")
		}
	}

	if sendErr != nil {
		return false, fmt.Errorf("deliver alert: %w", sendErr)
	}

	if o.stream != nil {
		o.stream.Publish(market.AlertEvent{
			ScopeID:   candidate.ScopeID(),
			EntityID:  candidate.EntityID,
			Kind:      candidate.Kind,
			Message:   note.Title,
			Price:     candidate.Price,
			MarketCap: candidate.MarketCap,
			Volume:    candidate.Volume,
			Timestamp: candidate.At,
		})
	}

	o.logger.Info().
		Str("entity", candidate.EntityID).
		Str("kind", string(candidate.Kind)).
		Str("fingerprint", candidate.Fingerprint).
		Msg("alert delivered")
	return true, nil
}
