// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database with WAL and foreign keys, creates the schema, and applies migrations

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Connection-scoped pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			level         INTEGER NOT NULL DEFAULT 100,
			api_token     TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_api_token
			ON accounts(api_token) WHERE api_token IS NOT NULL;

		CREATE TABLE IF NOT EXISTS api_credentials (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			name             TEXT NOT NULL DEFAULT '',
			token            TEXT NOT NULL UNIQUE,
			scopes_json      TEXT NOT NULL DEFAULT '[]',
			allowed_backends TEXT NOT NULL DEFAULT '[]',
			is_active        INTEGER NOT NULL DEFAULT 1,
			expires_at       TEXT,
			usage_count      INTEGER NOT NULL DEFAULT 0,
			last_used_at     TEXT,
			created_at       TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_api_credentials_account ON api_credentials(account_id);

		CREATE TABLE IF NOT EXISTS backends (
			id                  TEXT PRIMARY KEY,
			slug                TEXT NOT NULL UNIQUE,
			name                TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			version             TEXT NOT NULL DEFAULT '',
			author              TEXT NOT NULL DEFAULT '',
			endpoint_url        TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'active',
			auth_type           TEXT NOT NULL DEFAULT 'none',
			tags_json           TEXT NOT NULL DEFAULT '[]',
			featured            INTEGER NOT NULL DEFAULT 0,
			sort_order          INTEGER NOT NULL DEFAULT 0,
			proxy_enabled       INTEGER NOT NULL DEFAULT 1,
			auth_header         TEXT NOT NULL DEFAULT '',
			auth_token          TEXT NOT NULL DEFAULT '',
			tools_cache         TEXT NOT NULL DEFAULT '',
			tools_cached_at     TEXT,
			startup_command     TEXT NOT NULL DEFAULT '',
			startup_args_json   TEXT NOT NULL DEFAULT '[]',
			startup_working_dir TEXT NOT NULL DEFAULT '',
			startup_port        INTEGER NOT NULL DEFAULT 0,
			documentation       TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (status IN ('active', 'inactive', 'deprecated'))
		);

		CREATE INDEX IF NOT EXISTS idx_backends_listing
			ON backends(status, featured DESC, sort_order ASC);

		CREATE TABLE IF NOT EXISTS backend_sessions (
			owner_key    TEXT NOT NULL,
			backend_slug TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			PRIMARY KEY (owner_key, backend_slug)
		);

		CREATE INDEX IF NOT EXISTS idx_backend_sessions_expires ON backend_sessions(expires_at);

		CREATE TABLE IF NOT EXISTS usage_log (
			id            TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL DEFAULT '',
			account_id    TEXT NOT NULL DEFAULT '',
			backend_slug  TEXT NOT NULL,
			tool_name     TEXT NOT NULL,
			request_data  TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			client_ip     TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,

			CHECK (status IN ('success', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_usage_log_created ON usage_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_log_account ON usage_log(account_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_log_backend ON usage_log(backend_slug, created_at);

		CREATE TABLE IF NOT EXISTS request_log (
			id            TEXT PRIMARY KEY,
			method        TEXT NOT NULL DEFAULT '',
			request_body  TEXT NOT NULL DEFAULT '',
			response_body TEXT NOT NULL DEFAULT '',
			http_code     INTEGER NOT NULL DEFAULT 0,
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			error         TEXT NOT NULL DEFAULT '',
			session_id    TEXT NOT NULL DEFAULT '',
			account_id    TEXT NOT NULL DEFAULT '',
			client_ip     TEXT NOT NULL DEFAULT '',
			user_agent    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions for databases created by earlier versions.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "backends",
			column: "documentation",
			apply:  `ALTER TABLE backends ADD COLUMN documentation TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "request_log",
			column: "account_id",
			apply:  `ALTER TABLE request_log ADD COLUMN account_id TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime formats an optional timestamp, returning nil when unset.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// formatTime formats a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored timestamp, accepting both RFC3339 and RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseNullTime parses an optional stored timestamp.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeList stores a string slice as a JSON array, never as "null".
func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeList reads a JSON array column back into a slice.
func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decoding list %q: %w", raw, err)
	}
	return values, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
