package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass against the destination catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		limit, _ := cmd.Flags().GetInt("limit")
		reset, _ := cmd.Flags().GetBool("reset-quarantine")
		forceBulk, _ := cmd.Flags().GetBool("bulk")

		store, closeStore, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		runner, err := buildRunner(cfg, store, dryRun, limit, reset, forceBulk)
		if err != nil {
			return err
		}

		report, err := runner.Run()
		if err != nil {
			return err
		}
		if err := newRenderer(cfg).Report(report); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d items failed", report.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Decide everything, write nothing")
	syncCmd.Flags().Int("limit", 0, "Process at most N identities (0 = all)")
	syncCmd.Flags().Bool("reset-quarantine", false, "Reconsider permanently ignored items this run")
	syncCmd.Flags().Bool("bulk", false, "Force all updates through the bulk job channel")
	rootCmd.AddCommand(syncCmd)
}
