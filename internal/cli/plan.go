package cli

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would do, with per-item diffs, without writing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, closeStore, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		runner, err := buildRunner(cfg, store, true, limit, false, false)
		if err != nil {
			return err
		}

		report, err := runner.Run()
		if err != nil {
			return err
		}
		return newRenderer(cfg).Plan(report)
	},
}

func init() {
	planCmd.Flags().Int("limit", 0, "Process at most N identities (0 = all)")
	rootCmd.AddCommand(planCmd)
}
