package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateTicker string
	simulateMax    float64
	simulateFinal  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 dropdown 并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTicker == "" {
			return errors.New("--ticker 必须提供")
		}
		if simulateMax <= 0 || simulateFinal <= 0 {
			return errors.New("--max 与 --final 必须大于 0")
		}

		maxPrice := decimal.NewFromFloat(simulateMax)
		finalPrice := decimal.NewFromFloat(simulateFinal)
		return getApp().SimulateAlert(cmd.Context(), simulateTicker, maxPrice, finalPrice)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "", "模拟的股票代码")
	simulateCmd.Flags().Float64Var(&simulateMax, "max", 0, "窗口峰值价格")
	simulateCmd.Flags().Float64Var(&simulateFinal, "final", 0, "窗口收尾价格")
}
