package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

// WatchOptions describe one long-watch registration. Zero-valued thresholds
// fall back to the configured engine defaults.
type WatchOptions struct {
	EntityID string
	Label    string
	Contract string

	Retrace  bool
	Stall    bool
	Breakout bool

	RetracePct      float64
	StallVolPct     float64
	StallBandPct    float64
	BreakoutPct     float64
	BreakoutVolMult float64

	Milestones []string
	Cooldown   time.Duration
}

// WatchAdd registers or updates a long watch. When no trigger kind is chosen
// explicitly the three price triggers are all enabled.
func (a *App) WatchAdd(ctx context.Context, opts WatchOptions) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, err := a.buildTriggerConfig(opts)
	if err != nil {
		return err
	}

	if err := store.UpsertTriggerConfig(ctx, cfg); err != nil {
		return err
	}

	a.Logger.Info().
		Str("entity", cfg.EntityID).
		Bool("retrace", cfg.RetraceOn).
		Bool("stall", cfg.StallOn).
		Bool("breakout", cfg.BreakoutOn).
		Bool("milestones", cfg.MilestonesOn).
		Msg("watch registered")
	return nil
}

func (a *App) buildTriggerConfig(opts WatchOptions) (*market.TriggerConfig, error) {
	defaults := a.Config.Engine.Defaults

	pick := func(flag, fallback float64) decimal.Decimal {
		if flag > 0 {
			return decimal.NewFromFloat(flag)
		}
		return decimal.NewFromFloat(fallback)
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = defaults.Cooldown
	}

	levels, err := parseMilestones(opts.Milestones)
	if err != nil {
		return nil, err
	}

	// No explicit selection enables the three price triggers.
	retrace, stall, breakout := opts.Retrace, opts.Stall, opts.Breakout
	if !retrace && !stall && !breakout && len(levels) == 0 {
		retrace, stall, breakout = true, true, true
	}

	now := time.Now().UTC()
	return &market.TriggerConfig{
		EntityID: opts.EntityID,
		Label:    opts.Label,
		Contract: opts.Contract,

		RetraceOn:       retrace,
		RetracePct:      pick(opts.RetracePct, defaults.RetracePct),
		RetraceCooldown: cooldown,

		StallOn:       stall,
		StallVolPct:   pick(opts.StallVolPct, defaults.StallVolPct),
		StallBandPct:  pick(opts.StallBandPct, defaults.StallBandPct),
		StallCooldown: cooldown,

		BreakoutOn:       breakout,
		BreakoutPct:      pick(opts.BreakoutPct, defaults.BreakoutPct),
		BreakoutVolMult:  pick(opts.BreakoutVolMult, defaults.BreakoutVolMult),
		BreakoutCooldown: cooldown,

		MilestonesOn:      len(levels) > 0,
		MilestoneLevels:   levels,
		MilestoneCooldown: cooldown,

		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func parseMilestones(raw []string) ([]decimal.Decimal, error) {
	levels := make([]decimal.Decimal, 0, len(raw))
	for _, item := range raw {
		level, err := decimal.NewFromString(strings.TrimSpace(item))
		if err != nil {
			return nil, fmt.Errorf("invalid milestone level %q: %w", item, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// WatchRemove drops an entity's watch along with its state and samples.
func (a *App) WatchRemove(ctx context.Context, entityID string) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.RemoveWatch(ctx, entityID); err != nil {
		return err
	}
	a.Logger.Info().Str("entity", entityID).Msg("watch removed")
	return nil
}

// WatchList prints the registered watches with their latest state.
func (a *App) WatchList(ctx context.Context) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	summaries, err := store.ListWatchSummaries(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stdout, "no watches registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Entity\tLabel\tTriggers\tLast Price\tMarket Cap\tSamples\tUpdated (UTC)")

	for _, sum := range summaries {
		updated := "-"
		if sum.UpdatedAt != nil {
			updated = sum.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			sum.Config.EntityID,
			sum.Config.Label,
			triggerSummary(&sum.Config),
			decimalOrDash(sum.LastPrice),
			decimalOrDash(sum.LastCap),
			sum.SampleCount,
			updated,
		)
	}

	return writer.Flush()
}

func triggerSummary(cfg *market.TriggerConfig) string {
	var parts []string
	if cfg.RetraceOn {
		parts = append(parts, fmt.Sprintf("retrace(%s%%)", cfg.RetracePct))
	}
	if cfg.StallOn {
		parts = append(parts, fmt.Sprintf("stall(%s%%)", cfg.StallVolPct))
	}
	if cfg.BreakoutOn {
		parts = append(parts, fmt.Sprintf("breakout(%s%%)", cfg.BreakoutPct))
	}
	if cfg.MilestonesOn {
		parts = append(parts, fmt.Sprintf("milestones(%d)", len(cfg.MilestoneLevels)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func decimalOrDash(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
