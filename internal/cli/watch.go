package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coinwatch/internal/app"
)

var watchOpts struct {
	label    string
	contract string

	retrace  bool
	stall    bool
	breakout bool

	retracePct      float64
	stallVolPct     float64
	stallBandPct    float64
	breakoutPct     float64
	breakoutVolMult float64

	milestones []string
	cooldown   time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage long-watch registrations",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <entity-id>",
	Short: "Register or update a long watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.WatchOptions{
			EntityID: args[0],
			Label:    watchOpts.label,
			Contract: watchOpts.contract,

			Retrace:  watchOpts.retrace,
			Stall:    watchOpts.stall,
			Breakout: watchOpts.breakout,

			RetracePct:      watchOpts.retracePct,
			StallVolPct:     watchOpts.stallVolPct,
			StallBandPct:    watchOpts.stallBandPct,
			BreakoutPct:     watchOpts.breakoutPct,
			BreakoutVolMult: watchOpts.breakoutVolMult,

			Milestones: watchOpts.milestones,
			Cooldown:   watchOpts.cooldown,
		}
		return getApp().WatchAdd(cmd.Context(), opts)
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "rm <entity-id>",
	Short: "Remove a long watch and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return fmt.Errorf("entity id must not be empty")
		}
		return getApp().WatchRemove(cmd.Context(), args[0])
	},
}

var watchListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered long watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchList(cmd.Context())
	},
}

func init() {
	flags := watchAddCmd.Flags()
	flags.StringVar(&watchOpts.label, "label", "", "Display label for the entity")
	flags.StringVar(&watchOpts.contract, "contract", "", "ERC-20 contract address for supply-based market cap")

	flags.BoolVar(&watchOpts.retrace, "retrace", false, "Enable the retrace trigger")
	flags.BoolVar(&watchOpts.stall, "stall", false, "Enable the stall trigger")
	flags.BoolVar(&watchOpts.breakout, "breakout", false, "Enable the breakout trigger")

	flags.Float64Var(&watchOpts.retracePct, "retrace-pct", 0, "Retrace threshold in percent (defaults to config)")
	flags.Float64Var(&watchOpts.stallVolPct, "stall-vol-pct", 0, "Stall volume contraction in percent (defaults to config)")
	flags.Float64Var(&watchOpts.stallBandPct, "stall-band-pct", 0, "Stall price band in percent (defaults to config)")
	flags.Float64Var(&watchOpts.breakoutPct, "breakout-pct", 0, "Breakout threshold in percent (defaults to config)")
	flags.Float64Var(&watchOpts.breakoutVolMult, "breakout-vol-mult", 0, "Breakout volume multiplier (defaults to config)")

	flags.StringSliceVar(&watchOpts.milestones, "milestone", nil, "Market-cap milestone level, repeatable, strictly increasing")
	flags.DurationVar(&watchOpts.cooldown, "cooldown", 0, "Per-trigger cooldown (defaults to config)")

	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchRemoveCmd)
	watchCmd.AddCommand(watchListCmd)
}
