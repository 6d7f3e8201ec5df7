package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mkeller/catsync/internal/maintain"
	"github.com/mkeller/catsync/internal/shop"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the release-date tag lifecycle pass",
	Long: `maintain sweeps listings tagged Pre-Order or New Release and updates
them according to their release-date metafield: future releases are left
alone, recent releases graduate from Pre-Order to New Release, and older
releases shed the whole tag family along with the pre-order title prefix
and description disclaimer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		windowDays, _ := cmd.Flags().GetInt("window")

		pass := &maintain.Pass{
			Catalog:   shop.NewClient(cfg.StoreURL, cfg.AccessToken, cfg.APIVersion),
			Namespace: cfg.MetafieldNamespace,
			Window:    time.Duration(windowDays) * 24 * time.Hour,
			DryRun:    dryRun,
		}

		res, err := pass.Run()
		if err != nil {
			return err
		}
		return newRenderer(cfg).MaintainResult(res)
	},
}

func init() {
	maintainCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	maintainCmd.Flags().Int("window", 30, "Days after release an item counts as a new release")
	rootCmd.AddCommand(maintainCmd)
}
