package hotwatch

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

var now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newEntry(anchor float64, targets ...market.HotTrigger) *market.HotWatchEntry {
	return &market.HotWatchEntry{
		ID:          "entry-1",
		EntityID:    "tok",
		CreatedAt:   now.Add(-time.Hour),
		AnchorPrice: dec(anchor),
		Active:      true,
		Triggers:    targets,
	}
}

func snapshot(price float64) *market.Snapshot {
	return &market.Snapshot{EntityID: "tok", Price: dec(price), FetchedAt: now}
}

func TestFailsafeFiresAtSixtyPercentDrawdown(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(50)})

	res := ev.Evaluate(entry, snapshot(0.39), now)
	if !res.FailsafeFired {
		t.Fatal("61% drawdown should fire the failsafe")
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Kind != market.KindHotFailsafe {
		t.Fatalf("expected a single failsafe candidate, got %+v", res.Candidates)
	}
	if got := res.Candidates[0].Magnitude.StringFixed(0); got != "61" {
		t.Fatalf("drawdown magnitude = %s, want 61", got)
	}
}

func TestFailsafeHoldsBelowThreshold(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(50)})

	res := ev.Evaluate(entry, snapshot(0.41), now)
	if res.FailsafeFired {
		t.Fatal("39% drawdown must not fire the failsafe")
	}
	if len(res.Candidates) != 0 {
		t.Fatalf("no candidates expected, got %+v", res.Candidates)
	}
}

func TestFailsafeMarketCapDrawdown(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(50)})
	entry.AnchorMarketCap = market.DecimalPtr(dec(1_000_000))

	snap := snapshot(0.80) // price down only 20%
	snap.MarketCap = market.DecimalPtr(dec(350_000))

	res := ev.Evaluate(entry, snap, now)
	if !res.FailsafeFired {
		t.Fatal("65% market-cap drawdown should fire the failsafe")
	}
}

func TestPctTargetDirections(t *testing.T) {
	cases := []struct {
		name   string
		target float64
		price  float64
		fires  bool
	}{
		{"up target reached", 50, 1.55, true},
		{"up target short", 50, 1.45, false},
		{"down target reached", -30, 0.69, true},
		{"down target short", -30, 0.75, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := New(zerolog.Nop())
			entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(tc.target)})

			res := ev.Evaluate(entry, snapshot(tc.price), now)
			fired := len(res.FiredIdx) == 1
			if fired != tc.fires {
				t.Fatalf("fired = %v, want %v", fired, tc.fires)
			}
			if fired && !entry.Triggers[0].Fired {
				t.Fatal("trigger flag should be set in place")
			}
		})
	}
}

func TestMarketCapTarget(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetMarketCap, Target: dec(5_000_000)})

	snap := snapshot(1.20)
	res := ev.Evaluate(entry, snap, now)
	if len(res.FiredIdx) != 0 {
		t.Fatal("a snapshot without market cap cannot fire a mcap target")
	}

	snap.MarketCap = market.DecimalPtr(dec(5_500_000))
	res = ev.Evaluate(entry, snap, now)
	if len(res.FiredIdx) != 1 {
		t.Fatal("mcap target should fire once the cap crosses the level")
	}
}

func TestFiredNeverReverts(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(20)})

	res := ev.Evaluate(entry, snapshot(1.25), now)
	if len(res.Candidates) != 1 {
		t.Fatalf("expected one fire, got %d", len(res.Candidates))
	}

	// Price stays above the target: no second alert, flag stays set.
	for i := 0; i < 3; i++ {
		res = ev.Evaluate(entry, snapshot(1.30), now.Add(time.Duration(i+1)*time.Minute))
		if len(res.Candidates) != 0 {
			t.Fatalf("one-shot trigger produced a second alert on pass %d", i)
		}
		if !entry.Triggers[0].Fired {
			t.Fatal("fired flag reverted")
		}
	}
}

func TestEntryDeactivatesWhenExhausted(t *testing.T) {
	ev := New(zerolog.Nop())
	entry := newEntry(1.00,
		market.HotTrigger{Kind: market.HotTargetPct, Target: dec(20)},
		market.HotTrigger{Kind: market.HotTargetPct, Target: dec(-50)},
	)

	// Gain target fires.
	ev.Evaluate(entry, snapshot(1.25), now)
	if !entry.Active {
		t.Fatal("entry must stay active while targets remain")
	}

	// Collapse: down target and failsafe both fire, exhausting the entry.
	res := ev.Evaluate(entry, snapshot(0.30), now.Add(time.Hour))
	if !res.Deactivated || entry.Active {
		t.Fatal("entry should deactivate once every trigger and the failsafe fired")
	}

	// An inactive entry is inert.
	res = ev.Evaluate(entry, snapshot(0.10), now.Add(2*time.Hour))
	if len(res.Candidates) != 0 {
		t.Fatal("inactive entry must not produce candidates")
	}
}

func TestHotFingerprintsAreStableAcrossPasses(t *testing.T) {
	ev := New(zerolog.Nop())

	first := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(20)})
	second := newEntry(1.00, market.HotTrigger{Kind: market.HotTargetPct, Target: dec(20)})

	a := ev.Evaluate(first, snapshot(1.25), now)
	b := ev.Evaluate(second, snapshot(1.30), now.Add(45*time.Minute))

	if a.Candidates[0].Fingerprint != b.Candidates[0].Fingerprint {
		t.Fatalf("one-shot fingerprint must not depend on fire time: %q vs %q",
			a.Candidates[0].Fingerprint, b.Candidates[0].Fingerprint)
	}
}
