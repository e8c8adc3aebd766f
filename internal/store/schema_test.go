// ABOUTME: Contract tests for the SQLite schema so renames and drops fail loudly
// ABOUTME: Checks tables, columns, and lookup indexes against the expected surface

package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/store"
)

// expectedSchema is the column surface other tools (backups, dashboards) read.
var expectedSchema = map[string][]string{
	"accounts": {
		"id", "username", "email", "password_hash",
		"level", "api_token", "created_at",
	},
	"api_credentials": {
		"id", "account_id", "name", "token", "scopes_json",
		"allowed_backends", "is_active", "expires_at",
		"usage_count", "last_used_at", "created_at",
	},
	"backends": {
		"id", "slug", "name", "description", "endpoint_url",
		"status", "proxy_enabled", "auth_header", "auth_token",
		"tools_cache", "tools_cached_at", "startup_command",
		"startup_args_json", "startup_working_dir", "startup_port",
		"created_at", "updated_at",
	},
	"backend_sessions": {
		"owner_key", "backend_slug", "session_id", "expires_at", "updated_at",
	},
	"usage_log": {
		"id", "credential_id", "account_id", "backend_slug",
		"tool_name", "status", "duration_ms", "error_message", "created_at",
	},
	"request_log": {
		"id", "method", "request_body", "response_body", "http_code",
		"duration_ms", "session_id", "account_id", "created_at",
	},
}

func openSchemaDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "schema.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	// The store owns its handle; inspect through a second connection.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		s.Close()
	})
	return db
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

func masterNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func TestSchemaSurface(t *testing.T) {
	db := openSchemaDB(t)
	ctx := context.Background()

	for table, want := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			got, err := tableColumns(ctx, db, table)
			require.NoError(t, err)
			require.NotEmpty(t, got, "table %s should exist", table)

			for _, col := range want {
				assert.True(t, got[col], "column %s.%s should exist", table, col)
			}
			for col := range got {
				if !slices.Contains(want, col) {
					t.Logf("extra column %s.%s not in contract", table, col)
				}
			}
		})
	}
}

func TestSchemaTablesExist(t *testing.T) {
	tables := masterNames(t, openSchemaDB(t), "table")
	for table := range expectedSchema {
		assert.True(t, tables[table], "table %s should exist", table)
	}
}

func TestSchemaHasIndexes(t *testing.T) {
	indexes := masterNames(t, openSchemaDB(t), "index")
	for _, idx := range []string{
		"idx_accounts_email",
		"idx_accounts_api_token",
		"idx_api_credentials_account",
		"idx_backends_listing",
		"idx_backend_sessions_expires",
		"idx_usage_log_created",
		"idx_usage_log_account",
		"idx_usage_log_backend",
		"idx_request_log_created",
	} {
		assert.True(t, indexes[idx], "index %s should exist", idx)
	}
}
