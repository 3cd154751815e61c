package alerting

import (
	"context"
	"errors"
)

// Multi fans a notification out to several transports. Every transport is
// attempted even when an earlier one fails; the errors are joined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a fan-out notifier, dropping nil members.
func NewMulti(notifiers ...Notifier) *Multi {
	kept := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &Multi{notifiers: kept}
}

// Empty reports whether no transport is configured.
func (m *Multi) Empty() bool {
	return len(m.notifiers) == 0
}

// Send delivers to every configured transport.
func (m *Multi) Send(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
