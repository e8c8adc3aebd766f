// ABOUTME: SQLite persistence for API credentials (multi-key auth)
// ABOUTME: Supports token lookup with active filtering and usage tracking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const credentialColumns = `id, account_id, name, token, scopes_json, allowed_backends,
	is_active, expires_at, usage_count, last_used_at, created_at`

// CreateCredential inserts a new API credential.
func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *APICredential) error {
	query := `
		INSERT INTO api_credentials (
			id, account_id, name, token, scopes_json, allowed_backends,
			is_active, expires_at, usage_count, last_used_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.AccountID,
		cred.Name,
		cred.Token,
		encodeList(cred.Scopes),
		encodeList(cred.AllowedBackends),
		boolToInt(cred.Active),
		nullTime(cred.ExpiresAt),
		cred.UsageCount,
		nullTime(cred.LastUsedAt),
		formatTime(cred.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("created credential", "id", cred.ID, "account_id", cred.AccountID)
	return nil
}

// GetCredential retrieves a credential by ID.
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*APICredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM api_credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// GetActiveCredentialByToken retrieves an active credential by exact token match.
// Expiry is not checked here; callers decide what an expired credential means.
func (s *SQLiteStore) GetActiveCredentialByToken(ctx context.Context, token string) (*APICredential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE token = ? AND is_active = 1`, token)
	return scanCredential(row)
}

// ListCredentials returns an account's credentials, newest first.
func (s *SQLiteStore) ListCredentials(ctx context.Context, accountID string) ([]*APICredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*APICredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// TouchCredential records a successful use of the credential.
func (s *SQLiteStore) TouchCredential(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_credentials SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating credential usage: %w", err)
	}
	return requireAffected(result)
}

// DeactivateCredential marks a credential inactive without deleting it.
func (s *SQLiteStore) DeactivateCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_credentials SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating credential: %w", err)
	}
	return requireAffected(result)
}

// DeleteCredential removes a credential.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return requireAffected(result)
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCredential(row rowScanner) (*APICredential, error) {
	var c APICredential
	var scopes, allowed, createdAt string
	var active int
	var expiresAt, lastUsedAt sql.NullString

	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Token, &scopes, &allowed,
		&active, &expiresAt, &c.UsageCount, &lastUsedAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	c.Active = active == 1
	if c.Scopes, err = decodeList(scopes); err != nil {
		return nil, err
	}
	if c.AllowedBackends, err = decodeList(allowed); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if c.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ CredentialStore = (*SQLiteStore)(nil)
