// Package config loads catsync configuration from the environment, an
// optional .env.local, and an optional YAML file, in that precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mkeller/catsync/internal/money"
)

// SourceConfig declares one adapter in precedence order. Later sources
// win identity collisions unless they defer to earlier ones.
type SourceConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "export" or "sheet"
	Path string `yaml:"path"`
	Game string `yaml:"game"`

	Vendor           string   `yaml:"vendor,omitempty"`
	RestrictTo       []string `yaml:"restrict_to,omitempty"`
	DeferToEarlier   bool     `yaml:"defer_to_earlier,omitempty"`
	IdentityPrefixes []string `yaml:"identity_prefixes,omitempty"`
	RequireImages    bool     `yaml:"require_images,omitempty"`
	Disabled         bool     `yaml:"disabled,omitempty"`
}

// BulkConfig tunes the asynchronous bulk channel.
type BulkConfig struct {
	// Threshold is the fraction of the live catalog an update set must
	// span before the bulk channel engages.
	Threshold           float64 `yaml:"threshold"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	MaxPolls            int     `yaml:"max_polls"`
}

// Config is the application configuration.
type Config struct {
	StoreURL    string `yaml:"store_url"`
	AccessToken string `yaml:"-"` // env only, never from file
	APIVersion  string `yaml:"api_version"`
	LocationID  int64  `yaml:"location_id"`

	LedgerPath    string `yaml:"ledger_path"`
	LedgerBackend string `yaml:"ledger_backend"` // "file" or "sqlite"

	Output    string `yaml:"output"`
	NotifyURL string `yaml:"notify_url"`
	Grouped   bool   `yaml:"grouped"`

	BaseTags           []string `yaml:"base_tags"`
	DiagnosticTag      string   `yaml:"diagnostic_tag"`
	ProductType        string   `yaml:"product_type"`
	MetafieldNamespace string   `yaml:"metafield_namespace"`
	LowTrustOrigins    []string `yaml:"low_trust_origins"`

	Margins  money.MarginTable   `yaml:"margins"`
	Vendors  map[string]string   `yaml:"vendors"`
	Factions map[string][]string `yaml:"factions"`

	Sources []SourceConfig `yaml:"sources"`
	Bulk    BulkConfig     `yaml:"bulk"`
}

// Load loads configuration with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/catsync/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		APIVersion:         "2025-10",
		LedgerBackend:      "file",
		Output:             "table",
		DiagnosticTag:      "Sync Conflict",
		ProductType:        "Tabletop Game",
		MetafieldNamespace: "custom",
		Bulk: BulkConfig{
			Threshold:           0.25,
			PollIntervalSeconds: 5,
			MaxPolls:            120,
		},
	}

	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional.
	_ = loadYAMLConfig(cfg)

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.LedgerPath == "" {
		if _, err := os.Stat(".catsync/ledger.json"); err == nil {
			cfg.LedgerPath = ".catsync/ledger.json"
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.LedgerPath = filepath.Join(homeDir, ".local", "share", "catsync", "ledger.json")
		}
	}

	return cfg, nil
}

// Validate checks the fields a live run cannot do without.
func (c *Config) Validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store URL not configured (CATSYNC_STORE_URL)")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token not configured (CATSYNC_ACCESS_TOKEN)")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}
	return nil
}

// applyEnv overlays environment variables onto cfg; env always beats file
// values.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("CATSYNC_STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := getEnvOrFile("CATSYNC_ACCESS_TOKEN", "CATSYNC_ACCESS_TOKEN_FILE"); v != "" {
		cfg.AccessToken = v
	}
	if v := os.Getenv("CATSYNC_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	if v := os.Getenv("CATSYNC_LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
	if v := os.Getenv("CATSYNC_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("CATSYNC_NOTIFY_URL"); v != "" {
		cfg.NotifyURL = v
	}
	if v := os.Getenv("CATSYNC_LOCATION_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CATSYNC_LOCATION_ID %q: %w", v, err)
		}
		cfg.LocationID = id
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/catsync/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(homeDir, ".config", "catsync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadFile loads one explicit YAML config file on top of defaults and
// environment variables, for runs driven by a checked-in config.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	// The file overlay must not shadow explicit environment settings.
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}
	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		if dir == homeDir {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
