// ABOUTME: Credential verification for MCP requests: Basic, Bearer, and X-MCP-Token
// ABOUTME: Resolves the caller's account and, when one was used, the API credential that scopes it

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/2389/switchboard/internal/store"
)

// ErrUnauthenticated is returned when no credential form authenticates the request.
var ErrUnauthenticated = errors.New("authentication required")

// TokenHeader is the custom header carrying an API token.
const TokenHeader = "X-MCP-Token"

// Method identifies which credential form authenticated a caller.
type Method string

const (
	MethodBasic  Method = "basic"
	MethodBearer Method = "bearer"
	MethodHeader Method = "header"
)

var (
	basicPattern  = regexp.MustCompile(`(?i)^Basic\s+(.+)$`)
	bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)
)

// Caller is an authenticated principal for the lifetime of one request.
type Caller struct {
	Account *store.Account
	// Credential is the API credential used, nil for Basic auth and legacy tokens.
	Credential *store.APICredential
	Method     Method
}

// AccountID returns the caller's account id, or "" for a nil caller.
func (c *Caller) AccountID() string {
	if c == nil || c.Account == nil {
		return ""
	}
	return c.Account.ID
}

// CredentialID returns the id of the credential used, or "".
func (c *Caller) CredentialID() string {
	if c == nil || c.Credential == nil {
		return ""
	}
	return c.Credential.ID
}

// OwnerKey identifies whose backend sessions this caller uses.
// Credential callers own sessions per credential; others per account.
func (c *Caller) OwnerKey() string {
	if c == nil {
		return ""
	}
	if c.Credential != nil {
		return c.Credential.ID
	}
	return "account:" + c.AccountID()
}

// IsAdmin reports whether the caller's account is privileged.
func (c *Caller) IsAdmin() bool {
	return c != nil && c.Account != nil && c.Account.IsAdmin()
}

// CanAccessBackend reports whether the caller may use the backend with the given slug.
// A caller without a credential has full access.
func (c *Caller) CanAccessBackend(slug string) bool {
	if c == nil || c.Credential == nil {
		return true
	}
	cred := c.Credential
	if cred.HasScope(store.ScopeAll) || len(cred.AllowedBackends) == 0 {
		return true
	}
	for _, allowed := range cred.AllowedBackends {
		if allowed == slug {
			return true
		}
	}
	return false
}

// CredentialLookup is the slice of the store the verifier reads.
type CredentialLookup interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	GetAccountByIdentity(ctx context.Context, identity string) (*store.Account, error)
	GetAccountByAPIToken(ctx context.Context, token string) (*store.Account, error)
	GetActiveCredentialByToken(ctx context.Context, token string) (*store.APICredential, error)
	TouchCredential(ctx context.Context, id string, at time.Time) error
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Store CredentialLookup
	// LegacyTokens enables the per-account api_token fallback for bearer and header tokens.
	LegacyTokens bool
	Now          func() time.Time
	Logger       *slog.Logger
}

// Verifier authenticates MCP requests.
type Verifier struct {
	store        CredentialLookup
	legacyTokens bool
	now          func() time.Time
	logger       *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		store:        cfg.Store,
		legacyTokens: cfg.LegacyTokens,
		now:          now,
		logger:       logger.With("component", "auth"),
	}
}

// Authenticate tries Basic auth, then a Bearer token, then the X-MCP-Token header.
// The first form that succeeds wins; a failing form falls through to the next.
func (v *Verifier) Authenticate(ctx context.Context, h http.Header) (*Caller, error) {
	authHeader := h.Get("Authorization")

	if caller := v.authenticateBasic(ctx, authHeader); caller != nil {
		return caller, nil
	}

	if m := bearerPattern.FindStringSubmatch(authHeader); m != nil {
		if caller := v.authenticateToken(ctx, strings.TrimSpace(m[1]), MethodBearer); caller != nil {
			return caller, nil
		}
	}

	if token := strings.TrimSpace(h.Get(TokenHeader)); token != "" {
		if caller := v.authenticateToken(ctx, token, MethodHeader); caller != nil {
			return caller, nil
		}
	}

	return nil, ErrUnauthenticated
}

func (v *Verifier) authenticateBasic(ctx context.Context, authHeader string) *Caller {
	m := basicPattern.FindStringSubmatch(authHeader)
	if m == nil {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m[1]))
	if err != nil {
		return nil
	}
	identity, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil
	}

	account, err := v.store.GetAccountByIdentity(ctx, identity)
	if err != nil {
		BurnPasswordCheck(password)
		v.logLookupFailure(err, "basic auth failed: account not found", "identity", identity)
		return nil
	}
	if !CheckPassword(account.PasswordHash, password) {
		v.logger.Warn("basic auth failed: invalid password", "identity", identity)
		return nil
	}

	v.logger.Debug("authenticated via basic auth", "account_id", account.ID)
	return &Caller{Account: account, Method: MethodBasic}
}

// authenticateToken checks the credential table first, then the legacy account token.
func (v *Verifier) authenticateToken(ctx context.Context, token string, method Method) *Caller {
	if token == "" {
		return nil
	}

	cred, err := v.store.GetActiveCredentialByToken(ctx, token)
	switch {
	case err == nil:
		return v.acceptCredential(ctx, cred, method)
	case !errors.Is(err, store.ErrNotFound):
		v.logger.Error("credential lookup failed", "error", err)
		return nil
	}

	if !v.legacyTokens {
		v.logger.Warn("token auth failed: unknown token", "method", method)
		return nil
	}

	account, err := v.store.GetAccountByAPIToken(ctx, token)
	if err != nil {
		v.logLookupFailure(err, "token auth failed: unknown token", "method", method)
		return nil
	}

	v.logger.Debug("authenticated via legacy token", "account_id", account.ID, "method", method)
	return &Caller{Account: account, Method: method}
}

func (v *Verifier) acceptCredential(ctx context.Context, cred *store.APICredential, method Method) *Caller {
	now := v.now()
	if cred.Expired(now) {
		v.logger.Warn("token auth failed: credential expired", "credential_id", cred.ID)
		return nil
	}

	account, err := v.store.GetAccount(ctx, cred.AccountID)
	if err != nil {
		v.logLookupFailure(err, "token auth failed: credential owner missing", "credential_id", cred.ID)
		return nil
	}

	if err := v.store.TouchCredential(ctx, cred.ID, now); err != nil {
		v.logger.Warn("failed to record credential usage", "credential_id", cred.ID, "error", err)
	}

	v.logger.Debug("authenticated via api credential",
		"account_id", account.ID,
		"credential_id", cred.ID,
		"method", method,
	)
	return &Caller{Account: account, Credential: cred, Method: method}
}

func (v *Verifier) logLookupFailure(err error, msg string, args ...any) {
	if errors.Is(err, store.ErrNotFound) {
		v.logger.Warn(msg, args...)
		return
	}
	v.logger.Error(msg, append(args, "error", err)...)
}
