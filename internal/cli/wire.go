package cli

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkeller/catsync/internal/apply"
	"github.com/mkeller/catsync/internal/config"
	"github.com/mkeller/catsync/internal/engine"
	"github.com/mkeller/catsync/internal/feed"
	"github.com/mkeller/catsync/internal/ledger"
	"github.com/mkeller/catsync/internal/notify"
	"github.com/mkeller/catsync/internal/render"
	"github.com/mkeller/catsync/internal/shop"
	"github.com/mkeller/catsync/internal/snapshot"
)

// loadConfig resolves configuration, honoring the --config and --output
// flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Output = out
	}
	return cfg, nil
}

// openLedger builds the configured ledger backend. The returned closer is
// a no-op for the file backend.
func openLedger(cfg *config.Config) (ledger.Store, func() error, error) {
	switch cfg.LedgerBackend {
	case "", "file":
		return &ledger.FileStore{Path: cfg.LedgerPath}, func() error { return nil }, nil
	case "sqlite":
		s, err := ledger.OpenSQLite(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// buildSources turns source configs into merge-ready adapters, preserving
// the declared precedence order.
func buildSources(cfg *config.Config) ([]feed.Source, error) {
	var out []feed.Source
	for _, sc := range cfg.Sources {
		if sc.Disabled {
			continue
		}
		src := feed.Source{
			DeferToEarlier:   sc.DeferToEarlier,
			IdentityPrefixes: sc.IdentityPrefixes,
		}
		switch sc.Kind {
		case "export":
			src.Adapter = &feed.ExportAdapter{
				Path:          sc.Path,
				Origin:        sc.Name,
				Game:          sc.Game,
				Vendors:       cfg.Vendors,
				Factions:      cfg.Factions,
				Cost:          &cfg.Margins,
				RestrictTo:    sc.RestrictTo,
				RequireImages: sc.RequireImages,
			}
		case "sheet":
			rows, err := readCSV(sc.Path)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			src.Adapter = &feed.SheetAdapter{
				Rows:   rows,
				Origin: sc.Name,
				Vendor: sc.Vendor,
				Cost:   &cfg.Margins,
			}
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", sc.Name, sc.Kind)
		}
		out = append(out, src)
	}
	return out, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// buildRunner assembles the full reconciliation pipeline from config.
func buildRunner(cfg *config.Config, store ledger.Store, dryRun bool, limit int, resetQuarantine, forceBulk bool) (*engine.Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	client := shop.NewClient(cfg.StoreURL, cfg.AccessToken, cfg.APIVersion)

	ctx := &apply.Context{
		LocationID:         cfg.LocationID,
		MetafieldNamespace: cfg.MetafieldNamespace,
	}

	var notifier notify.Notifier = notify.Null{}
	if cfg.NotifyURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyURL)
	}

	return &engine.Runner{
		Rules: &engine.Rules{
			ManagedTags:     cfg.BaseTags,
			DiagnosticTag:   cfg.DiagnosticTag,
			LowTrustOrigins: cfg.LowTrustOrigins,
			ResetQuarantine: resetQuarantine,
		},
		Sources: sources,
		Snapshot: &snapshot.Builder{
			Lister:  client,
			Grouped: cfg.Grouped,
		},
		Ledger: store,
		Items: &apply.Itemwise{
			Dest:        client,
			Ledger:      store,
			Images:      apply.Passthrough{},
			Ctx:         ctx,
			BaseTags:    cfg.BaseTags,
			ProductType: cfg.ProductType,
		},
		Bulk: &apply.Bulk{
			API:          client,
			PollInterval: time.Duration(cfg.Bulk.PollIntervalSeconds) * time.Second,
			MaxPolls:     cfg.Bulk.MaxPolls,
		},
		Notifier:      notifier,
		Grouped:       cfg.Grouped,
		DryRun:        dryRun,
		Limit:         limit,
		ForceBulk:     forceBulk,
		BulkThreshold: cfg.Bulk.Threshold,
	}, nil
}

func newRenderer(cfg *config.Config) *render.Renderer {
	return render.New(os.Stdout, render.Format(cfg.Output))
}
