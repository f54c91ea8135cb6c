// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides workspace/event/usage persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workspaces (
			id                   TEXT PRIMARY KEY,
			owner_id             TEXT NOT NULL,
			device_id            TEXT NOT NULL,
			name                 TEXT,
			path                 TEXT NOT NULL,
			repo_url             TEXT,
			repo_branch          TEXT,
			status               TEXT NOT NULL,
			progress_percentage  INTEGER NOT NULL DEFAULT 0,
			current_phase        TEXT,
			error_message        TEXT,
			max_disk_bytes       INTEGER NOT NULL DEFAULT 0,
			exec_timeout_seconds INTEGER NOT NULL DEFAULT 0,
			network_allowed      INTEGER NOT NULL DEFAULT 0,
			disk_usage_bytes     INTEGER NOT NULL DEFAULT 0,
			file_count           INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL,
			initialized_at       TEXT,
			ready_at             TEXT,
			archived_at          TEXT,

			CHECK (status IN (
				'creating', 'initializing', 'cloning', 'ready', 'assigned',
				'running', 'completed', 'failed', 'paused', 'archived', 'cleanup'
			)),
			CHECK (progress_percentage BETWEEN 0 AND 100)
		);

		CREATE INDEX IF NOT EXISTS idx_workspaces_status ON workspaces(status);
		CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner_id);

		CREATE TABLE IF NOT EXISTS events (
			event_id     TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			task_id      TEXT,
			type         TEXT NOT NULL,
			category     TEXT NOT NULL,
			message      TEXT NOT NULL,
			level        TEXT NOT NULL,
			ts           TEXT NOT NULL,

			CHECK (level IN ('info', 'warning', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace_id, ts);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);

		CREATE TABLE IF NOT EXISTS task_usage (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL,
			model            TEXT,
			input_tokens     INTEGER NOT NULL DEFAULT 0,
			output_tokens    INTEGER NOT NULL DEFAULT 0,
			cost_usd         REAL NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_task_usage_task ON task_usage(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_usage_created ON task_usage(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close releases the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// boolToInt converts a bool to SQLite's integer representation
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
