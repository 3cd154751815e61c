package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/alerting"
	"coinwatch/internal/feed"
	"coinwatch/internal/gate"
	"coinwatch/internal/hotwatch"
	"coinwatch/internal/longwatch"
	"coinwatch/internal/market"
	"coinwatch/internal/outbox"
	"coinwatch/internal/window"
)

var sweepAt = time.Date(2025, 4, 4, 12, 0, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeWatchStore struct {
	configs []market.TriggerConfig
}

func (f *fakeWatchStore) UpsertTriggerConfig(ctx context.Context, cfg *market.TriggerConfig) error {
	return nil
}
func (f *fakeWatchStore) GetTriggerConfig(ctx context.Context, entityID string) (*market.TriggerConfig, error) {
	return nil, nil
}
func (f *fakeWatchStore) ListTriggerConfigs(ctx context.Context) ([]market.TriggerConfig, error) {
	return f.configs, nil
}
func (f *fakeWatchStore) ListWatchedEntityIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.configs))
	for _, cfg := range f.configs {
		ids = append(ids, cfg.EntityID)
	}
	return ids, nil
}
func (f *fakeWatchStore) RemoveWatch(ctx context.Context, entityID string) error { return nil }

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]*market.RollingState
	fail   bool
}

func (f *fakeStateStore) GetRollingState(ctx context.Context, entityID string) (*market.RollingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[entityID]; ok {
		clone := *state
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStateStore) UpsertRollingState(ctx context.Context, state *market.RollingState) error {
	if f.fail {
		return errors.New("state write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = make(map[string]*market.RollingState)
	}
	clone := *state
	f.states[state.EntityID] = &clone
	return nil
}

type fakeHotStore struct {
	entries       []market.HotWatchEntry
	firedTriggers []int64
	failsafes     []string
	deactivated   []string
}

func (f *fakeHotStore) CreateHotWatch(ctx context.Context, entry *market.HotWatchEntry) error {
	return nil
}
func (f *fakeHotStore) ListActiveHotWatches(ctx context.Context) ([]market.HotWatchEntry, error) {
	return f.entries, nil
}
func (f *fakeHotStore) MarkHotTriggerFired(ctx context.Context, triggerID int64, at time.Time) error {
	f.firedTriggers = append(f.firedTriggers, triggerID)
	return nil
}
func (f *fakeHotStore) MarkFailsafeFired(ctx context.Context, entryID string) error {
	f.failsafes = append(f.failsafes, entryID)
	return nil
}
func (f *fakeHotStore) DeactivateHotWatch(ctx context.Context, entryID string) error {
	f.deactivated = append(f.deactivated, entryID)
	return nil
}
func (f *fakeHotStore) DeleteHotWatch(ctx context.Context, entryID string) error { return nil }

type mapFetcher struct {
	snaps map[string]*market.Snapshot
	errs  map[string]error
}

func (m *mapFetcher) Snapshot(ctx context.Context, entityID string) (*market.Snapshot, error) {
	if err, ok := m.errs[entityID]; ok {
		return nil, err
	}
	return m.snaps[entityID], nil
}

type countingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *countingNotifier) Send(ctx context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return nil
}

func retraceConfig(entity string) market.TriggerConfig {
	return market.TriggerConfig{
		EntityID:        entity,
		RetraceOn:       true,
		RetracePct:      dec(15),
		RetraceCooldown: 6 * time.Hour,
	}
}

func newService(deps Deps) *Service {
	if deps.Window == nil {
		deps.Window = window.New(73*time.Hour, zerolog.Nop())
	}
	if deps.Long == nil {
		deps.Long = longwatch.New(zerolog.Nop())
	}
	if deps.Hot == nil {
		deps.Hot = hotwatch.New(zerolog.Nop())
	}
	if deps.Gate == nil {
		deps.Gate = gate.New(gate.Options{BucketCapacity: 10, RefillPerSecond: 1, DedupWindow: time.Second}, zerolog.Nop())
	}
	return New(deps, Options{WarmupRequired: false}, zerolog.Nop())
}

func TestLongWatchCycleDeliversRetrace(t *testing.T) {
	notifier := &countingNotifier{}
	states := &fakeStateStore{states: map[string]*market.RollingState{
		"tok": {
			EntityID:  "tok",
			High72:    market.DecimalPtr(dec(100)),
			LastPrice: dec(100),
			Reset72At: sweepAt.Add(-time.Hour),
		},
	}}

	svc := newService(Deps{
		Outbox:  outbox.New(nil, notifier, nil, "test", zerolog.Nop()),
		Fetcher: &mapFetcher{snaps: map[string]*market.Snapshot{"tok": {EntityID: "tok", Price: dec(84), Volume24h: dec(1000), FetchedAt: sweepAt}}},
		States:  states,
		Watches: &fakeWatchStore{configs: []market.TriggerConfig{retraceConfig("tok")}},
	})

	if err := svc.RunLongWatchCycle(context.Background(), sweepAt); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one delivered alert, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Kind != market.KindRetrace {
		t.Fatalf("wrong kind delivered: %s", notifier.notes[0].Kind)
	}

	// Fire bookkeeping persisted.
	persisted := states.states["tok"]
	if persisted == nil || persisted.RetraceFiredAt.IsZero() {
		t.Fatal("retrace fire timestamp should be persisted")
	}
}

func TestLongWatchCycleSkipsFailingEntity(t *testing.T) {
	notifier := &countingNotifier{}
	states := &fakeStateStore{states: map[string]*market.RollingState{
		"good": {
			EntityID:  "good",
			High72:    market.DecimalPtr(dec(100)),
			LastPrice: dec(100),
			Reset72At: sweepAt.Add(-time.Hour),
		},
	}}

	svc := newService(Deps{
		Outbox: outbox.New(nil, notifier, nil, "test", zerolog.Nop()),
		Fetcher: &mapFetcher{
			snaps: map[string]*market.Snapshot{"good": {EntityID: "good", Price: dec(80), Volume24h: dec(1), FetchedAt: sweepAt}},
			errs:  map[string]error{"bad": errors.New("feed down")},
		},
		States:  states,
		Watches: &fakeWatchStore{configs: []market.TriggerConfig{retraceConfig("bad"), retraceConfig("good")}},
	})

	if err := svc.RunLongWatchCycle(context.Background(), sweepAt); err != nil {
		t.Fatalf("a failing entity must not abort the sweep: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("the healthy entity should still alert, got %d notes", len(notifier.notes))
	}
}

func TestLongWatchCycleRejectsInvalidSnapshot(t *testing.T) {
	notifier := &countingNotifier{}
	svc := newService(Deps{
		Outbox:  outbox.New(nil, notifier, nil, "test", zerolog.Nop()),
		Fetcher: &mapFetcher{snaps: map[string]*market.Snapshot{"tok": {EntityID: "tok", Price: dec(-1), Volume24h: dec(1)}}},
		States:  &fakeStateStore{},
		Watches: &fakeWatchStore{configs: []market.TriggerConfig{retraceConfig("tok")}},
	})

	if err := svc.RunLongWatchCycle(context.Background(), sweepAt); err != nil {
		t.Fatalf("invalid snapshot is a local skip, not an error: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("invalid snapshot must not produce alerts")
	}
}

func TestHotWatchCyclePersistsFires(t *testing.T) {
	notifier := &countingNotifier{}
	hotStore := &fakeHotStore{entries: []market.HotWatchEntry{
		{
			ID:          "entry-1",
			EntityID:    "tok",
			AnchorPrice: dec(1.00),
			Active:      true,
			Triggers: []market.HotTrigger{
				{ID: 11, EntryID: "entry-1", Kind: market.HotTargetPct, Target: dec(20)},
				{ID: 12, EntryID: "entry-1", Kind: market.HotTargetPct, Target: dec(-50)},
			},
		},
	}}

	svc := newService(Deps{
		Outbox:   outbox.New(nil, notifier, nil, "test", zerolog.Nop()),
		Fetcher:  &mapFetcher{snaps: map[string]*market.Snapshot{"tok": {EntityID: "tok", Price: dec(0.30), Volume24h: dec(1), FetchedAt: sweepAt}}},
		HotStore: hotStore,
	})

	if err := svc.RunHotWatchCycle(context.Background(), sweepAt); err != nil {
		t.Fatalf("hot sweep failed: %v", err)
	}

	// 70% drawdown: the down target and the failsafe both fire; the up
	// target stays armed, so the entry stays active.
	if len(hotStore.firedTriggers) != 1 || hotStore.firedTriggers[0] != 12 {
		t.Fatalf("down target should be persisted fired: %v", hotStore.firedTriggers)
	}
	if len(hotStore.failsafes) != 1 {
		t.Fatalf("failsafe fire should be persisted: %v", hotStore.failsafes)
	}
	if len(hotStore.deactivated) != 0 {
		t.Fatal("entry with an armed target must not be deactivated")
	}
	if len(notifier.notes) != 2 {
		t.Fatalf("expected failsafe + down-target alerts, got %d", len(notifier.notes))
	}
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	blocker := make(chan struct{})
	release := make(chan struct{})

	fetcher := &blockingFetcher{block: blocker, release: release}
	svc := newService(Deps{
		Outbox:  outbox.New(nil, &countingNotifier{}, nil, "test", zerolog.Nop()),
		Fetcher: fetcher,
		States:  &fakeStateStore{},
		Watches: &fakeWatchStore{configs: []market.TriggerConfig{retraceConfig("tok")}},
	})

	done := make(chan error, 1)
	go func() {
		done <- svc.RunLongWatchCycle(context.Background(), sweepAt)
	}()
	<-blocker // first sweep is mid-fetch

	// Second invocation while the first runs: must skip, not queue.
	if err := svc.RunLongWatchCycle(context.Background(), sweepAt.Add(time.Minute)); err != nil {
		t.Fatalf("overlapping sweep should skip cleanly: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}

	if fetcher.calls != 1 {
		t.Fatalf("entity fetched %d times, the overlapping sweep must not evaluate", fetcher.calls)
	}
}

type blockingFetcher struct {
	block   chan struct{}
	release chan struct{}
	calls   int
}

func (b *blockingFetcher) Snapshot(ctx context.Context, entityID string) (*market.Snapshot, error) {
	b.calls++
	close(b.block)
	<-b.release
	return nil, nil
}

var _ feed.Fetcher = (*blockingFetcher)(nil)
