// Package database provides SQLite storage for commit metadata of the file store
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is recorded in schema_version once the tables exist
const SchemaVersion = "1.0.0"

// DatabaseOptions holds configuration for opening a database
type DatabaseOptions struct {
	Path        string
	EnableWAL   bool
	BusyTimeout int // milliseconds
}

// OpenDatabase opens a SQLite database connection with the specified options
// and initializes the schema if needed
func OpenDatabase(options DatabaseOptions) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", options.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas are per connection
	db.SetMaxOpenConns(1)

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if options.EnableWAL {
		if err := enableWAL(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if options.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", options.BusyTimeout)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return db, nil
}

// initializeSchema creates all tables and indexes
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var currentVersion sql.NullString
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if currentVersion.Valid && currentVersion.String == SchemaVersion {
		return nil
	}

	// Commits table: the committed set; only the current one is kept
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS commits (
			commit_id TEXT PRIMARY KEY,
			root_hash TEXT NOT NULL,
			files_count INTEGER NOT NULL,
			hash_algorithm TEXT NOT NULL,
			blob_prefix TEXT NOT NULL,
			total_size INTEGER NOT NULL DEFAULT 0,
			receipt BLOB,
			committed_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create commits table: %w", err)
	}

	// Manifest entries: one row per leaf, leaf_index is the manifest position
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS manifest_entries (
			commit_id TEXT NOT NULL,
			leaf_index INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			leaf_hash TEXT NOT NULL,
			size INTEGER NOT NULL,

			PRIMARY KEY (commit_id, leaf_index),
			UNIQUE (commit_id, file_name),
			FOREIGN KEY (commit_id) REFERENCES commits(commit_id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create manifest_entries table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_manifest_entries_name ON manifest_entries(commit_id, file_name)"); err != nil {
		return fmt.Errorf("failed to create manifest index: %w", err)
	}

	// Current commit pointer (singleton table)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS current_commit (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			commit_id TEXT REFERENCES commits(commit_id),
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create current_commit table: %w", err)
	}

	if _, err := db.Exec("INSERT OR IGNORE INTO current_commit (id, commit_id) VALUES (1, NULL)"); err != nil {
		return fmt.Errorf("failed to initialize current_commit: %w", err)
	}

	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// enableWAL enables Write-Ahead Logging mode
func enableWAL(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// CloseDatabase closes the database connection
func CloseDatabase(db *sql.DB) error {
	return db.Close()
}
