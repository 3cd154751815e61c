package feed

import (
	"context"
	"time"

	"coinwatch/internal/market"
)

// Fetcher retrieves the current market snapshot for one entity. A (nil, nil)
// return means the feed knows nothing about the entity; callers skip it for
// the cycle.
type Fetcher interface {
	Snapshot(ctx context.Context, entityID string) (*market.Snapshot, error)
}

// Static returns a fixed snapshot for any entity. Used by the simulate
// command and in tests.
type Static struct {
	Snap market.Snapshot
}

// Snapshot returns the fixed snapshot stamped with the entity and fetch time.
func (s *Static) Snapshot(ctx context.Context, entityID string) (*market.Snapshot, error) {
	snap := s.Snap
	snap.EntityID = entityID
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	return &snap, nil
}

var _ Fetcher = (*Static)(nil)
