// ABOUTME: Account bootstrap and API credential issuance shared by the admin API and CLI
// ABOUTME: Generates ids with uuid and tk_ tokens, validating scopes and allowed backends

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/store"
)

var (
	// ErrAlreadyBootstrapped means an account already exists.
	ErrAlreadyBootstrapped = errors.New("gateway already has accounts")
	// ErrInvalidScope is returned for scopes outside mcp:*, mcp:read, mcp:tools.
	ErrInvalidScope = errors.New("invalid scope")
)

// CredentialRequest describes a credential to issue.
type CredentialRequest struct {
	AccountID       string        `json:"account_id"`
	Name            string        `json:"name"`
	Scopes          []string      `json:"scopes"`
	AllowedBackends []string      `json:"allowed_backends"`
	ExpiresIn       time.Duration `json:"-"`
}

// IssueCredential creates an active credential with a fresh tk_ token.
// Scopes default to mcp:*.
func IssueCredential(ctx context.Context, s store.Store, req CredentialRequest, now time.Time) (*store.APICredential, error) {
	if _, err := s.GetAccount(ctx, req.AccountID); err != nil {
		return nil, fmt.Errorf("loading account %s: %w", req.AccountID, err)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{store.ScopeAll}
	}
	for _, sc := range scopes {
		switch sc {
		case store.ScopeAll, store.ScopeRead, store.ScopeTools:
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, sc)
		}
	}

	token, err := auth.GenerateCredentialToken()
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "api key"
	}
	cred := &store.APICredential{
		ID:              uuid.New().String(),
		AccountID:       req.AccountID,
		Name:            name,
		Token:           token,
		Scopes:          scopes,
		AllowedBackends: req.AllowedBackends,
		Active:          true,
		CreatedAt:       now.UTC(),
	}
	if req.ExpiresIn > 0 {
		exp := now.Add(req.ExpiresIn).UTC()
		cred.ExpiresAt = &exp
	}
	if err := s.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}
	return cred, nil
}

// Bootstrap creates the first root account and a wildcard credential for it.
// It refuses once any account exists.
func Bootstrap(ctx context.Context, s store.Store, username, email string, now time.Time) (*store.Account, *store.APICredential, error) {
	n, err := s.CountAccounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("counting accounts: %w", err)
	}
	if n > 0 {
		return nil, nil, ErrAlreadyBootstrapped
	}

	account := &store.Account{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		Level:     store.LevelRoot,
		CreatedAt: now.UTC(),
	}
	if err := s.CreateAccount(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("creating account: %w", err)
	}

	cred, err := IssueCredential(ctx, s, CredentialRequest{AccountID: account.ID, Name: "bootstrap"}, now)
	if err != nil {
		return nil, nil, err
	}
	return account, cred, nil
}
