// Package ledger is the engine's durable cross-run memory: the mapping
// from item identity to what has already been done for it. Without it a
// crashed run would recreate items it already created, so a ledger that
// cannot be loaded aborts the run before any remote call.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkeller/catsync/internal/domain"
)

// Store is the narrow persistence interface the engine sees. The engine
// saves after every applied effect, not at end of run, so a crash mid-run
// never redoes an applied create.
type Store interface {
	Load() (map[string]domain.LedgerEntry, error)
	Save(entries map[string]domain.LedgerEntry) error
}

// FileStore persists the ledger as one JSON object in a file. A missing
// file is an empty ledger, not an error.
type FileStore struct {
	Path string
}

// Load implements Store.
func (s *FileStore) Load() (map[string]domain.LedgerEntry, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return make(map[string]domain.LedgerEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", s.Path, err)
	}

	entries := make(map[string]domain.LedgerEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.Path, err)
	}
	for identity, e := range entries {
		if e.Identity == "" {
			e.Identity = identity
			entries[identity] = e
		}
	}
	return entries, nil
}

// Save implements Store. The file is replaced atomically so a crash during
// save never leaves a truncated ledger.
func (s *FileStore) Save(entries map[string]domain.LedgerEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
