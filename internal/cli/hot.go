package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coinwatch/internal/app"
)

var hotOpts struct {
	label       string
	pctTargets  []float64
	mcapTargets []float64
	anchorPrice float64
}

var hotCmd = &cobra.Command{
	Use:   "hot",
	Short: "Manage one-shot hot watches",
}

var hotAddCmd = &cobra.Command{
	Use:   "add <entity-id>",
	Short: "Create a hot watch anchored at the current price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(hotOpts.pctTargets) == 0 && len(hotOpts.mcapTargets) == 0 {
			return fmt.Errorf("at least one --pct or --mcap target is required")
		}
		opts := app.HotAddOptions{
			EntityID:    args[0],
			Label:       hotOpts.label,
			PctTargets:  hotOpts.pctTargets,
			McapTargets: hotOpts.mcapTargets,
			AnchorPrice: hotOpts.anchorPrice,
		}
		return getApp().HotAdd(cmd.Context(), opts)
	},
}

var hotRemoveCmd = &cobra.Command{
	Use:   "rm <entry-id>",
	Short: "Delete a hot watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().HotRemove(cmd.Context(), args[0])
	},
}

var hotListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active hot watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().HotList(cmd.Context())
	},
}

func init() {
	flags := hotAddCmd.Flags()
	flags.StringVar(&hotOpts.label, "label", "", "Display label for the entity")
	flags.Float64SliceVar(&hotOpts.pctTargets, "pct", nil, "Percent move target relative to the anchor, signed, repeatable")
	flags.Float64SliceVar(&hotOpts.mcapTargets, "mcap", nil, "Absolute market-cap target in USD, repeatable")
	flags.Float64Var(&hotOpts.anchorPrice, "anchor-price", 0, "Override the anchor price instead of the live snapshot")

	hotCmd.AddCommand(hotAddCmd)
	hotCmd.AddCommand(hotRemoveCmd)
	hotCmd.AddCommand(hotListCmd)
}
