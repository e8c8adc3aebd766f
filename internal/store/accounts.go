// ABOUTME: SQLite persistence for accounts and their legacy API tokens
// ABOUTME: Accounts are looked up by id, username-or-email, or legacy token

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const accountColumns = `id, username, email, password_hash, level, api_token, created_at`

// CreateAccount inserts a new account. Returns ErrDuplicateIdentity if the username is taken.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, username, email, password_hash, level, api_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Level,
		nullString(account.APIToken),
		formatTime(account.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID, "username", account.Username)
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByIdentity retrieves an account whose username or email matches.
// Username matches win over email matches.
func (s *SQLiteStore) GetAccountByIdentity(ctx context.Context, identity string) (*Account, error) {
	if identity == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE username = ? OR (email != '' AND email = ?)
		ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, identity, identity, identity)
	return scanAccount(row)
}

// GetAccountByAPIToken retrieves the account owning a legacy token.
func (s *SQLiteStore) GetAccountByAPIToken(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE api_token = ?`, token)
	return scanAccount(row)
}

// SetAccountAPIToken replaces an account's legacy token. An empty token clears it.
func (s *SQLiteStore) SetAccountAPIToken(ctx context.Context, id, token string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET api_token = ? WHERE id = ?`, nullString(token), id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("updating api token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccounts returns accounts ordered by creation, up to limit (0 means no limit).
func (s *SQLiteStore) ListAccounts(ctx context.Context, limit int) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at ASC, username ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// CountAccounts returns the number of accounts.
func (s *SQLiteStore) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var apiToken sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Level, &apiToken, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.APIToken = apiToken.String
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

var _ AccountStore = (*SQLiteStore)(nil)
