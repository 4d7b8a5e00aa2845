package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var simulateRate float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed a synthetic proofrate through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("rate") {
			return errors.New("--rate must be provided")
		}
		if simulateRate < 0 {
			return errors.New("--rate cannot be negative")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateRate)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateRate, "rate", 0, "Synthetic proofrate in MP/s (0 simulates a full stall)")
}
