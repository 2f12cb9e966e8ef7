package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateObserved float64
	simulateBaseline float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-cycle",
	Short: "模拟一次指标异常并完整跑评估与告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateObserved < 0 || simulateBaseline < 0 {
			return errors.New("--observed 与 --baseline 不能为负数")
		}

		return getApp().SimulateCycle(cmd.Context(), simulateObserved, simulateBaseline)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateObserved, "observed", 25, "当前窗口观测值")
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 5, "基线窗口观测值")
}
