// Package db provides the SQLite connection and schema shared by the NV-storage emulation and the ledger.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// NV cells - one row per written byte, unwritten cells read as erased
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS nvram_cells (
			device TEXT NOT NULL,
			addr INTEGER NOT NULL,
			value INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (device, addr)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create nvram_cells table: %w", err)
	}

	// Event ledger - append-only history of requests, mute transitions and settings writes
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			request_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_request ON event_ledger(request_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
