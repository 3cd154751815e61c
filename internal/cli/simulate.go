package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"coinwatch/internal/app"
)

var (
	simulateEntity string
	simulateAnchor float64
	simulatePrice  float64
	simulatePct    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次目标触发并走完告警链路",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateEntity == "" {
			return errors.New("--entity 必须提供")
		}
		if simulateAnchor <= 0 || simulatePrice <= 0 {
			return errors.New("--anchor 与 --price 必须大于 0")
		}
		if simulatePct == 0 {
			return errors.New("--pct 不能为 0")
		}

		opts := app.SimulateOptions{
			EntityID:    simulateEntity,
			AnchorPrice: simulateAnchor,
			Price:       simulatePrice,
			TargetPct:   simulatePct,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateEntity, "entity", "", "实体 ID")
	simulateCmd.Flags().Float64Var(&simulateAnchor, "anchor", 0, "锚定价格")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "当前价格")
	simulateCmd.Flags().Float64Var(&simulatePct, "pct", 0, "目标涨跌幅（百分比，带符号）")
}
