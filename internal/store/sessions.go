// ABOUTME: SQLite persistence for backend MCP sessions keyed by (owner, backend)
// ABOUTME: Upserts keep one row per pair; expiry is evaluated by the caller's clock

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetBackendSession returns the stored session for the pair, expired or not.
func (s *SQLiteStore) GetBackendSession(ctx context.Context, ownerKey, backendSlug string) (*BackendSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_key, backend_slug, session_id, expires_at, updated_at
		FROM backend_sessions
		WHERE owner_key = ? AND backend_slug = ?
	`, ownerKey, backendSlug)
	return scanBackendSession(row)
}

// UpsertBackendSession inserts or replaces the session for the pair.
func (s *SQLiteStore) UpsertBackendSession(ctx context.Context, sess *BackendSession) error {
	query := `
		INSERT INTO backend_sessions (owner_key, backend_slug, session_id, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_key, backend_slug) DO UPDATE SET
			session_id = excluded.session_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.OwnerKey,
		sess.BackendSlug,
		sess.SessionID,
		formatTime(sess.ExpiresAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting backend session: %w", err)
	}
	return nil
}

// DeleteBackendSession removes the session for the pair. Missing rows are not an error.
func (s *SQLiteStore) DeleteBackendSession(ctx context.Context, ownerKey, backendSlug string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM backend_sessions WHERE owner_key = ? AND backend_slug = ?`, ownerKey, backendSlug)
	if err != nil {
		return fmt.Errorf("deleting backend session: %w", err)
	}
	return nil
}

// ListBackendSessions returns all sessions held by an owner, ordered by backend slug.
func (s *SQLiteStore) ListBackendSessions(ctx context.Context, ownerKey string) ([]*BackendSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_key, backend_slug, session_id, expires_at, updated_at
		FROM backend_sessions
		WHERE owner_key = ?
		ORDER BY backend_slug ASC
	`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("querying backend sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*BackendSession
	for rows.Next() {
		sess, err := scanBackendSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backend sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredBackendSessions removes rows whose expiry is at or before now.
func (s *SQLiteStore) DeleteExpiredBackendSessions(ctx context.Context, now time.Time) (int64, error) {
	// Load then delete by key: stored timestamps have variable-width fractions,
	// so string comparison in SQL is not reliable.
	rows, err := s.db.QueryContext(ctx, `SELECT owner_key, backend_slug, expires_at FROM backend_sessions`)
	if err != nil {
		return 0, fmt.Errorf("querying backend sessions: %w", err)
	}

	type key struct{ owner, slug string }
	var expired []key
	for rows.Next() {
		var k key
		var expiresAt string
		if err := rows.Scan(&k.owner, &k.slug, &expiresAt); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scanning backend session: %w", err)
		}
		t, err := parseTime(expiresAt)
		if err != nil || !t.After(now) {
			expired = append(expired, k)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterating backend sessions: %w", err)
	}
	_ = rows.Close()

	var deleted int64
	for _, k := range expired {
		if err := s.DeleteBackendSession(ctx, k.owner, k.slug); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Debug("deleted expired backend sessions", "count", deleted)
	}
	return deleted, nil
}

func scanBackendSession(row rowScanner) (*BackendSession, error) {
	var sess BackendSession
	var expiresAt, updatedAt string

	err := row.Scan(&sess.OwnerKey, &sess.BackendSlug, &sess.SessionID, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning backend session: %w", err)
	}

	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

var _ SessionStore = (*SQLiteStore)(nil)
