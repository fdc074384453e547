// Package sqlite is a concrete, swappable implementation of roster
// storage: a cache of the legacy buddy metadata BUDDY_CHANGED envelopes
// supply, so a restarted gateway can repopulate internal/roster.Manager
// without waiting for the backend to resend every buddy. It is not a
// message store — durable message persistence is out of scope, so no
// messages/sessions/window_state tables exist here (see DESIGN.md).
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the roster cache store for one gateway instance, keyed by the owning
// user's bare JID plus the buddy's legacy name.
type DB struct {
	db *sql.DB
}

// New opens (creating if absent) the roster cache database under dataDir,
// in WAL mode.
func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "roster_cache.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dbPath, err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", dbPath, err)
	}
	return store, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS roster_cache (
			account TEXT NOT NULL,
			legacy_name TEXT NOT NULL,
			alias TEXT NOT NULL DEFAULT '',
			groups TEXT NOT NULL DEFAULT '[]',
			status INTEGER NOT NULL DEFAULT 0,
			status_message TEXT NOT NULL DEFAULT '',
			icon_hash TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account, legacy_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roster_cache_account ON roster_cache(account)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

// Entry is one cached buddy, the on-disk counterpart of roster.Item.
type Entry struct {
	LegacyName    string
	Alias         string
	Groups        []string
	Status        int32
	StatusMessage string
	IconHash      string
}

// Upsert writes or replaces one buddy's cached entry for account (the
// owning user's bare JID).
func (d *DB) Upsert(account string, e Entry) error {
	groups, err := json.Marshal(e.Groups)
	if err != nil {
		return fmt.Errorf("sqlite: marshal groups: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO roster_cache (account, legacy_name, alias, groups, status, status_message, icon_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account, legacy_name) DO UPDATE SET
		   alias=excluded.alias, groups=excluded.groups, status=excluded.status,
		   status_message=excluded.status_message, icon_hash=excluded.icon_hash`,
		account, e.LegacyName, e.Alias, string(groups), e.Status, e.StatusMessage, e.IconHash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert roster_cache %s/%s: %w", account, e.LegacyName, err)
	}
	return nil
}

// All returns every cached buddy for account, used to repopulate
// roster.Manager on startup before the backend resends BUDDY_CHANGED.
func (d *DB) All(account string) ([]Entry, error) {
	rows, err := d.db.Query(
		`SELECT legacy_name, alias, groups, status, status_message, icon_hash
		 FROM roster_cache WHERE account = ?`, account)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query roster_cache %s: %w", account, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var groups string
		if err := rows.Scan(&e.LegacyName, &e.Alias, &groups, &e.Status, &e.StatusMessage, &e.IconHash); err != nil {
			return nil, fmt.Errorf("sqlite: scan roster_cache row: %w", err)
		}
		if err := json.Unmarshal([]byte(groups), &e.Groups); err != nil {
			e.Groups = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove deletes one cached buddy.
func (d *DB) Remove(account, legacyName string) error {
	_, err := d.db.Exec(`DELETE FROM roster_cache WHERE account = ? AND legacy_name = ?`, account, legacyName)
	if err != nil {
		return fmt.Errorf("sqlite: delete roster_cache %s/%s: %w", account, legacyName, err)
	}
	return nil
}

// DeleteAccount removes every cached buddy for account. Session teardown
// does not call it, so cached entries outlive a destroyed session.
func (d *DB) DeleteAccount(account string) error {
	_, err := d.db.Exec(`DELETE FROM roster_cache WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("sqlite: delete roster_cache account %s: %w", account, err)
	}
	return nil
}
