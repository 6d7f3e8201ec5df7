// Package cli implements the catsync command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "catsync",
	Short: "Keep a store catalog in sync with external source feeds",
	Long: `catsync reconciles an e-commerce catalog against several external
source catalogs: it merges the source feeds into one canonical view,
snapshots the live catalog, and pushes only the deltas that are safe to
push. Runs are idempotent; a durable ledger prevents duplicate creation
across interrupted runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (overrides ~/.config/catsync/config.yaml)")
	rootCmd.PersistentFlags().String("output", "", "Output format: table, json, yaml (overrides CATSYNC_OUTPUT)")
}
