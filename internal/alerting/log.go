package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the process log. It stands in when no real
// transport is configured so the engine keeps a delivery record either way.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs the log-only transport.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log-notifier").Logger()}
}

// Send logs the notification and always succeeds.
func (n *LogNotifier) Send(ctx context.Context, note Notification) error {
	n.logger.Info().
		Str("entity", note.EntityID).
		Str("kind", string(note.Kind)).
		Str("title", note.Title).
		Str("body", note.Body).
		Msg("alert (log only)")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
