package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mkeller/catsync/internal/domain"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and edit the sync ledger",
}

var ledgerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, closeStore, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		entries, err := store.Load()
		if err != nil {
			return err
		}

		quarantinedOnly, _ := cmd.Flags().GetBool("quarantined")

		identities := make([]string, 0, len(entries))
		for id := range entries {
			identities = append(identities, id)
		}
		sort.Strings(identities)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tSTATE\tITEM\tTITLE")
		for _, id := range identities {
			e := entries[id]
			if quarantinedOnly && e.State != domain.LedgerIgnored {
				continue
			}
			item := "-"
			if e.DestinationItemID != 0 {
				item = fmt.Sprintf("%d", e.DestinationItemID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, e.State, item, e.Title)
		}
		return w.Flush()
	},
}

var ledgerRmCmd = &cobra.Command{
	Use:   "rm <identity>...",
	Short: "Remove ledger entries, releasing quarantined identities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, closeStore, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		entries, err := store.Load()
		if err != nil {
			return err
		}

		removed := 0
		for _, id := range args {
			if _, ok := entries[id]; !ok {
				return fmt.Errorf("no ledger entry for %q", id)
			}
			delete(entries, id)
			removed++
		}
		if err := store.Save(entries); err != nil {
			return err
		}
		fmt.Printf("removed %d entries\n", removed)
		return nil
	},
}

func init() {
	ledgerLsCmd.Flags().Bool("quarantined", false, "Show only permanently ignored identities")
	ledgerCmd.AddCommand(ledgerLsCmd)
	ledgerCmd.AddCommand(ledgerRmCmd)
	rootCmd.AddCommand(ledgerCmd)
}
