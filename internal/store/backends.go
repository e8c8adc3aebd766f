// ABOUTME: SQLite persistence for the backend MCP server registry
// ABOUTME: Handles CRUD, filtered listing in display order, and the tool cache columns

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const backendColumns = `id, slug, name, description, version, author, endpoint_url, status,
	auth_type, tags_json, featured, sort_order, proxy_enabled, auth_header, auth_token,
	tools_cache, tools_cached_at, startup_command, startup_args_json, startup_working_dir,
	startup_port, documentation, created_at, updated_at`

// CreateBackend registers a new backend. Returns ErrDuplicateSlug if the slug is taken.
func (s *SQLiteStore) CreateBackend(ctx context.Context, b *Backend) error {
	query := `
		INSERT INTO backends (` + backendColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if b.Status == "" {
		b.Status = BackendStatusActive
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Slug, b.Name, b.Description, b.Version, b.Author, b.EndpointURL, string(b.Status),
		b.AuthType, encodeList(b.Tags), boolToInt(b.Featured), b.SortOrder, boolToInt(b.ProxyEnabled),
		b.AuthHeader, b.AuthToken, b.ToolsCache, nullTime(b.ToolsCachedAt), b.StartupCommand,
		encodeList(b.StartupArgs), b.StartupWorkingDir, b.StartupPort, b.Documentation,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("inserting backend: %w", err)
	}

	s.logger.Debug("created backend", "slug", b.Slug, "endpoint", b.EndpointURL)
	return nil
}

// UpdateBackend overwrites a backend's mutable fields, matched by slug.
func (s *SQLiteStore) UpdateBackend(ctx context.Context, b *Backend) error {
	query := `
		UPDATE backends SET
			name = ?, description = ?, version = ?, author = ?, endpoint_url = ?, status = ?,
			auth_type = ?, tags_json = ?, featured = ?, sort_order = ?, proxy_enabled = ?,
			auth_header = ?, auth_token = ?, tools_cache = ?, tools_cached_at = ?,
			startup_command = ?, startup_args_json = ?, startup_working_dir = ?, startup_port = ?,
			documentation = ?, updated_at = ?
		WHERE slug = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		b.Name, b.Description, b.Version, b.Author, b.EndpointURL, string(b.Status),
		b.AuthType, encodeList(b.Tags), boolToInt(b.Featured), b.SortOrder, boolToInt(b.ProxyEnabled),
		b.AuthHeader, b.AuthToken, b.ToolsCache, nullTime(b.ToolsCachedAt),
		b.StartupCommand, encodeList(b.StartupArgs), b.StartupWorkingDir, b.StartupPort,
		b.Documentation, formatTime(b.UpdatedAt),
		b.Slug,
	)
	if err != nil {
		return fmt.Errorf("updating backend: %w", err)
	}
	return requireAffected(result)
}

// GetBackendBySlug retrieves a backend by its slug regardless of status.
func (s *SQLiteStore) GetBackendBySlug(ctx context.Context, slug string) (*Backend, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backendColumns+` FROM backends WHERE slug = ?`, slug)
	return scanBackend(row)
}

// ListBackends returns backends matching the filter, featured first, then by sort order.
func (s *SQLiteStore) ListBackends(ctx context.Context, filter BackendFilter) ([]*Backend, error) {
	query := `SELECT ` + backendColumns + ` FROM backends WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProxyEnabled {
		query += ` AND proxy_enabled = 1`
	}
	if filter.AuthType != "" {
		query += ` AND auth_type = ?`
		args = append(args, filter.AuthType)
	}
	if filter.FeaturedOnly {
		query += ` AND featured = 1`
	}
	if filter.Tag != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(backends.tags_json) WHERE json_each.value = ?)`
		args = append(args, filter.Tag)
	}

	query += ` ORDER BY featured DESC, sort_order ASC, name ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying backends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var backends []*Backend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backends: %w", err)
	}
	return backends, nil
}

// UpdateBackendTools replaces the cached tool list and its timestamp.
func (s *SQLiteStore) UpdateBackendTools(ctx context.Context, slug, toolsJSON string, cachedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE backends SET tools_cache = ?, tools_cached_at = ?, updated_at = ? WHERE slug = ?`,
		toolsJSON, formatTime(cachedAt), formatTime(cachedAt), slug)
	if err != nil {
		return fmt.Errorf("updating tools cache: %w", err)
	}
	return requireAffected(result)
}

// DeleteBackend removes a backend and its stored sessions.
func (s *SQLiteStore) DeleteBackend(ctx context.Context, slug string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM backends WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("deleting backend: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backend_sessions WHERE backend_slug = ?`, slug); err != nil {
		return fmt.Errorf("deleting backend sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing backend delete: %w", err)
	}
	s.logger.Debug("deleted backend", "slug", slug)
	return nil
}

func scanBackend(row rowScanner) (*Backend, error) {
	var b Backend
	var status, tags, startupArgs, createdAt, updatedAt string
	var featured, proxyEnabled int
	var toolsCachedAt sql.NullString

	err := row.Scan(
		&b.ID, &b.Slug, &b.Name, &b.Description, &b.Version, &b.Author, &b.EndpointURL, &status,
		&b.AuthType, &tags, &featured, &b.SortOrder, &proxyEnabled, &b.AuthHeader, &b.AuthToken,
		&b.ToolsCache, &toolsCachedAt, &b.StartupCommand, &startupArgs, &b.StartupWorkingDir,
		&b.StartupPort, &b.Documentation, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning backend: %w", err)
	}

	b.Status = BackendStatus(status)
	b.Featured = featured == 1
	b.ProxyEnabled = proxyEnabled == 1
	if b.Tags, err = decodeList(tags); err != nil {
		return nil, err
	}
	if b.StartupArgs, err = decodeList(startupArgs); err != nil {
		return nil, err
	}
	if b.ToolsCachedAt, err = parseNullTime(toolsCachedAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

var _ BackendStore = (*SQLiteStore)(nil)
