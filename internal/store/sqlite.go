// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Creates the schema on open; WAL mode for concurrent reads

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLite store at the given path (":memory:" for
// an in-memory database). The schema is created if it doesn't exist and
// parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

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

	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS webhook_events (
			id               TEXT PRIMARY KEY,
			source           TEXT NOT NULL,
			event_type       TEXT NOT NULL,
			delivery_id      TEXT NOT NULL,
			signature_ok     INTEGER NOT NULL,
			payload          BLOB NOT NULL,
			received_at      TEXT NOT NULL,
			processed_ok     INTEGER,
			processing_error TEXT,
			processed_at     TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_delivery
			ON webhook_events(source, delivery_id);

		CREATE INDEX IF NOT EXISTS idx_webhook_events_processed
			ON webhook_events(processed_ok, processed_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			message       TEXT NOT NULL,
			metadata_json TEXT,
			priority      INTEGER NOT NULL,
			profile       TEXT NOT NULL,
			dedupe_key    TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			read_at       TEXT,

			CHECK (priority BETWEEN 1 AND 5)
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_user_created
			ON notifications(user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_notifications_dedupe
			ON notifications(dedupe_key, created_at);

		CREATE TABLE IF NOT EXISTS notification_subscriptions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			platform   TEXT NOT NULL,
			endpoint   TEXT NOT NULL,
			keys_json  TEXT,
			created_at TEXT NOT NULL,

			CHECK (platform IN ('apns', 'fcm', 'webpush'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_subs_endpoint
			ON notification_subscriptions(user_id, endpoint);

		CREATE TABLE IF NOT EXISTS repo_subscriptions (
			user_id         TEXT NOT NULL,
			repo_full_name  TEXT NOT NULL,
			installation_id INTEGER,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (user_id, repo_full_name)
		);

		CREATE INDEX IF NOT EXISTS idx_repo_subscriptions_repo
			ON repo_subscriptions(repo_full_name);

		CREATE TABLE IF NOT EXISTS connections (
			user_id         TEXT NOT NULL,
			installation_id INTEGER NOT NULL,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (user_id, installation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_connections_installation
			ON connections(installation_id);

		CREATE TABLE IF NOT EXISTS agent_tasks (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			provider       TEXT NOT NULL,
			instruction    TEXT NOT NULL,
			state          TEXT NOT NULL,
			trace_json     TEXT,
			dispatch_issue INTEGER,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (state IN ('created', 'running', 'completed', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_tasks_user_state
			ON agent_tasks(user_id, state);

		CREATE INDEX IF NOT EXISTS idx_agent_tasks_dispatch_issue
			ON agent_tasks(dispatch_issue);

		CREATE TABLE IF NOT EXISTS repo_policies (
			user_id        TEXT NOT NULL,
			repo_full_name TEXT NOT NULL,
			allow_write    INTEGER NOT NULL,

			PRIMARY KEY (user_id, repo_full_name)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime renders a timestamp the way all tables store it: UTC with
// millisecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseTime reverses formatTime, tolerating plain RFC3339.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
