package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

// HotAddOptions describe a one-shot hot watch. Anchors default to the live
// snapshot at creation; AnchorPrice overrides that when set.
type HotAddOptions struct {
	EntityID    string
	Label       string
	PctTargets  []float64
	McapTargets []float64
	AnchorPrice float64
}

// HotAdd creates a hot-watch entry, capturing the anchors once.
func (a *App) HotAdd(ctx context.Context, opts HotAddOptions) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entry := &market.HotWatchEntry{
		ID:        uuid.New().String(),
		EntityID:  opts.EntityID,
		Label:     opts.Label,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	if opts.AnchorPrice > 0 {
		entry.AnchorPrice = decimal.NewFromFloat(opts.AnchorPrice)
	} else {
		snap, err := a.newFetcher().Snapshot(ctx, opts.EntityID)
		if err != nil {
			return fmt.Errorf("fetch anchor snapshot: %w", err)
		}
		if snap == nil {
			return errors.New("no market data available to anchor the hot watch; pass --anchor-price")
		}
		entry.AnchorPrice = snap.Price
		entry.AnchorMarketCap = snap.MarketCap
	}

	for _, pct := range opts.PctTargets {
		entry.Triggers = append(entry.Triggers, market.HotTrigger{
			EntryID: entry.ID,
			Kind:    market.HotTargetPct,
			Target:  decimal.NewFromFloat(pct),
		})
	}
	for _, mcap := range opts.McapTargets {
		entry.Triggers = append(entry.Triggers, market.HotTrigger{
			EntryID: entry.ID,
			Kind:    market.HotTargetMarketCap,
			Target:  decimal.NewFromFloat(mcap),
		})
	}

	if err := entry.Validate(); err != nil {
		return err
	}
	if err := store.CreateHotWatch(ctx, entry); err != nil {
		return err
	}

	a.Logger.Info().
		Str("entry", entry.ID).
		Str("entity", entry.EntityID).
		Str("anchor_price", entry.AnchorPrice.String()).
		Int("targets", len(entry.Triggers)).
		Msg("hot watch created")
	fmt.Fprintln(os.Stdout, entry.ID)
	return nil
}

// HotRemove deletes a hot-watch entry and its triggers.
func (a *App) HotRemove(ctx context.Context, entryID string) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteHotWatch(ctx, entryID); err != nil {
		return err
	}
	a.Logger.Info().Str("entry", entryID).Msg("hot watch removed")
	return nil
}

// HotList prints the active hot watches and their target states.
func (a *App) HotList(ctx context.Context) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.ListActiveHotWatches(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no active hot watches")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Entry\tEntity\tLabel\tAnchor\tTargets\tFailsafe\tCreated (UTC)")

	for _, entry := range entries {
		failsafe := "armed"
		if entry.FailsafeFired {
			failsafe = "fired"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.ID,
			entry.EntityID,
			entry.Label,
			entry.AnchorPrice.String(),
			targetSummary(entry.Triggers),
			failsafe,
			entry.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}

func targetSummary(triggers []market.HotTrigger) string {
	parts := make([]string, 0, len(triggers))
	for _, trig := range triggers {
		var label string
		switch trig.Kind {
		case market.HotTargetPct:
			if trig.Target.IsPositive() {
				label = "+" + trig.Target.String() + "%"
			} else {
				label = trig.Target.String() + "%"
			}
		case market.HotTargetMarketCap:
			label = "mcap:" + trig.Target.String()
		default:
			label = string(trig.Kind)
		}
		if trig.Fired {
			label += "(fired)"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ",")
}
