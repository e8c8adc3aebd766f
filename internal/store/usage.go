// ABOUTME: SQLite persistence for the append-only usage and request logs
// ABOUTME: Records every tool invocation and front door exchange, with operator-driven pruning

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveUsage stores a tool invocation record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, entry *UsageEntry) error {
	query := `
		INSERT INTO usage_log (
			id, credential_id, account_id, backend_slug, tool_name, request_data,
			status, duration_ms, error_message, client_ip, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.CredentialID,
		entry.AccountID,
		entry.BackendSlug,
		entry.ToolName,
		entry.RequestData,
		entry.Status,
		entry.DurationMS,
		entry.ErrorMessage,
		entry.ClientIP,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved tool usage",
		"id", entry.ID,
		"backend_slug", entry.BackendSlug,
		"tool_name", entry.ToolName,
		"status", entry.Status,
		"duration_ms", entry.DurationMS,
	)
	return nil
}

// ListUsage returns usage records matching the filter, newest first.
func (s *SQLiteStore) ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageEntry, error) {
	query := `
		SELECT id, credential_id, account_id, backend_slug, tool_name, request_data,
		       status, duration_ms, error_message, client_ip, created_at
		FROM usage_log
		WHERE 1=1
	`
	args := []any{}

	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.BackendSlug != "" {
		query += ` AND backend_slug = ?`
		args = append(args, filter.BackendSlug)
	}

	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*UsageEntry
	for rows.Next() {
		var e UsageEntry
		var createdAt string
		if err := rows.Scan(
			&e.ID, &e.CredentialID, &e.AccountID, &e.BackendSlug, &e.ToolName, &e.RequestData,
			&e.Status, &e.DurationMS, &e.ErrorMessage, &e.ClientIP, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		entries = append(entries, &e)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return entries, nil
}

// SaveRequestLog stores a front door exchange.
func (s *SQLiteStore) SaveRequestLog(ctx context.Context, entry *RequestLog) error {
	query := `
		INSERT INTO request_log (
			id, method, request_body, response_body, http_code, duration_ms,
			error, session_id, account_id, client_ip, user_agent, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Method,
		entry.RequestBody,
		entry.ResponseBody,
		entry.HTTPCode,
		entry.DurationMS,
		entry.Error,
		entry.SessionID,
		entry.AccountID,
		entry.ClientIP,
		entry.UserAgent,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// ListRequestLogs returns the most recent request logs (0 means no limit).
func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit int) ([]*RequestLog, error) {
	query := `
		SELECT id, method, request_body, response_body, http_code, duration_ms,
		       error, session_id, account_id, client_ip, user_agent, created_at
		FROM request_log
		ORDER BY created_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*RequestLog
	for rows.Next() {
		var l RequestLog
		var createdAt string
		if err := rows.Scan(
			&l.ID, &l.Method, &l.RequestBody, &l.ResponseBody, &l.HTTPCode, &l.DurationMS,
			&l.Error, &l.SessionID, &l.AccountID, &l.ClientIP, &l.UserAgent, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request logs: %w", err)
	}
	return logs, nil
}

// PruneLogs deletes usage and request rows created before the cutoff.
// Returns the total number of rows removed.
func (s *SQLiteStore) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	// Second-precision prefix keeps the comparison correct for any stored fraction width.
	cutoff := before.UTC().Format("2006-01-02T15:04:05")

	var total int64
	for _, table := range []string{"usage_log", "request_log"} {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE substr(created_at, 1, 19) < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("getting rows affected: %w", err)
		}
		total += n
	}

	s.logger.Info("pruned logs", "before", cutoff, "rows", total)
	return total, nil
}

var _ LogStore = (*SQLiteStore)(nil)
