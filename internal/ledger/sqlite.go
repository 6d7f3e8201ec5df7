package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkeller/catsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	identity TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	vendor TEXT NOT NULL DEFAULT '',
	destination_item_id INTEGER NOT NULL DEFAULT 0,
	hosted_image_urls TEXT,
	state TEXT NOT NULL CHECK (state IN ('draft_created','synced','permanently_ignored'))
);
`

// SQLiteStore persists the ledger in a SQLite database, for deployments
// where the ledger outgrows a flat file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed ledger at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load() (map[string]domain.LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT identity, title, vendor, destination_item_id, hosted_image_urls, state FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]domain.LedgerEntry)
	for rows.Next() {
		var e domain.LedgerEntry
		var hosted sql.NullString
		var state string
		if err := rows.Scan(&e.Identity, &e.Title, &e.Vendor, &e.DestinationItemID, &hosted, &state); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.State = domain.LedgerState(state)
		if hosted.Valid && hosted.String != "" {
			if err := json.Unmarshal([]byte(hosted.String), &e.HostedImageURLs); err != nil {
				return nil, fmt.Errorf("parse hosted urls for %s: %w", e.Identity, err)
			}
		}
		entries[e.Identity] = e
	}
	return entries, rows.Err()
}

// Save implements Store, replacing the stored ledger in one transaction
// so removed entries do not linger.
func (s *SQLiteStore) Save(entries map[string]domain.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ledger`); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ledger (identity, title, vendor, destination_item_id, hosted_image_urls, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var hosted interface{}
		if len(e.HostedImageURLs) > 0 {
			data, err := json.Marshal(e.HostedImageURLs)
			if err != nil {
				return fmt.Errorf("encode hosted urls for %s: %w", e.Identity, err)
			}
			hosted = string(data)
		}
		if _, err := stmt.Exec(e.Identity, e.Title, e.Vendor, e.DestinationItemID, hosted, string(e.State)); err != nil {
			return fmt.Errorf("save ledger entry %s: %w", e.Identity, err)
		}
	}
	return tx.Commit()
}
