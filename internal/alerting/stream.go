package alerting

import (
	"sync"

	"github.com/rs/zerolog"

	"coinwatch/internal/market"
)

// Stream is the in-process bus carrying one event per delivered alert.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event. The alert itself was already delivered by then, so a lagging
// consumer costs history, not notifications.
type Stream struct {
	mu     sync.RWMutex
	subs   []chan market.AlertEvent
	logger zerolog.Logger
}

// NewStream constructs an empty alert stream.
func NewStream(logger zerolog.Logger) *Stream {
	return &Stream{logger: logger.With().Str("component", "alert_stream").Logger()}
}

// Subscribe registers a receiver with the given buffer size.
func (s *Stream) Subscribe(buffer int) <-chan market.AlertEvent {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan market.AlertEvent, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Publish fans the event out to every subscriber, dropping on full buffers.
func (s *Stream) Publish(event market.AlertEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Warn().
				Str("entity", event.EntityID).
				Str("kind", string(event.Kind)).
				Msg("subscriber buffer full, event dropped")
		}
	}
}
