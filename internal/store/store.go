// ABOUTME: Store interfaces and data types for switchboard persistence
// ABOUTME: Defines accounts, API credentials, backends, backend sessions, and the append-only logs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSlug is returned when a backend slug is already registered
var ErrDuplicateSlug = errors.New("backend slug already exists")

// ErrDuplicateIdentity is returned when a username, email, or token is already taken
var ErrDuplicateIdentity = errors.New("identity already exists")

// Privilege levels. Lower numbers are more privileged.
const (
	LevelRoot   = 1
	LevelAdmin  = 50
	LevelMember = 100
	LevelPublic = 101
)

// Account is a person or service that can authenticate against the gateway.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string // bcrypt
	Level        int
	APIToken     string // legacy single token, empty when unset
	CreatedAt    time.Time
}

// IsAdmin reports whether the account has administrative privilege.
func (a *Account) IsAdmin() bool {
	return a.Level <= LevelAdmin
}

// Scope values carried by API credentials.
const (
	ScopeAll   = "mcp:*"
	ScopeRead  = "mcp:read"
	ScopeTools = "mcp:tools"
)

// APICredential is an API key owned by an account, optionally scoped to a subset of backends.
type APICredential struct {
	ID              string
	AccountID       string
	Name            string
	Token           string
	Scopes          []string
	AllowedBackends []string // empty means every backend
	Active          bool
	ExpiresAt       *time.Time
	UsageCount      int64
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

// HasScope reports whether the credential carries the given scope.
func (c *APICredential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the credential's expiry is in the past relative to now.
func (c *APICredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// BackendStatus is the lifecycle state of a registered backend.
type BackendStatus string

const (
	BackendStatusActive     BackendStatus = "active"
	BackendStatusInactive   BackendStatus = "inactive"
	BackendStatusDeprecated BackendStatus = "deprecated"
)

// Backend is a registered upstream MCP server.
type Backend struct {
	ID                string
	Slug              string
	Name              string
	Description       string
	Version           string
	Author            string
	EndpointURL       string
	Status            BackendStatus
	AuthType          string // none, bearer, apikey, basic
	Tags              []string
	Featured          bool
	SortOrder         int
	ProxyEnabled      bool
	AuthHeader        string // header name sent to the backend
	AuthToken         string // header value sent to the backend
	ToolsCache        string // JSON array of tool definitions
	ToolsCachedAt     *time.Time
	StartupCommand    string
	StartupArgs       []string
	StartupWorkingDir string
	StartupPort       int
	Documentation     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasTag reports whether the backend carries the given tag.
func (b *Backend) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// BackendFilter narrows ListBackends results. Zero values do not filter.
type BackendFilter struct {
	Status       BackendStatus
	ProxyEnabled bool // only proxy-enabled backends
	AuthType     string
	Tag          string
	FeaturedOnly bool
	Limit        int
}

// BackendSession binds a caller's credential to an upstream MCP session id.
type BackendSession struct {
	OwnerKey    string // credential id, or account-scoped key for credential-less callers
	BackendSlug string
	SessionID   string
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// Usage status values.
const (
	UsageSuccess = "success"
	UsageError   = "error"
)

// UsageEntry is an append-only record of a single tool invocation.
type UsageEntry struct {
	ID           string
	CredentialID string
	AccountID    string
	BackendSlug  string
	ToolName     string
	RequestData  string
	Status       string
	DurationMS   int64
	ErrorMessage string
	ClientIP     string
	CreatedAt    time.Time
}

// UsageFilter narrows ListUsage results.
type UsageFilter struct {
	AccountID   string
	BackendSlug string
	Since       *time.Time
	Limit       int
}

// RequestLog is an append-only record of a JSON-RPC exchange at the front door.
type RequestLog struct {
	ID           string
	Method       string
	RequestBody  string
	ResponseBody string
	HTTPCode     int
	DurationMS   int64
	Error        string
	SessionID    string
	AccountID    string
	ClientIP     string
	UserAgent    string
	CreatedAt    time.Time
}

// AccountStore persists accounts and their legacy tokens.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	// GetAccountByIdentity matches either username or email.
	GetAccountByIdentity(ctx context.Context, identity string) (*Account, error)
	GetAccountByAPIToken(ctx context.Context, token string) (*Account, error)
	SetAccountAPIToken(ctx context.Context, id, token string) error
	ListAccounts(ctx context.Context, limit int) ([]*Account, error)
	CountAccounts(ctx context.Context) (int, error)
}

// CredentialStore persists API credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *APICredential) error
	GetCredential(ctx context.Context, id string) (*APICredential, error)
	// GetActiveCredentialByToken returns ErrNotFound for unknown or inactive tokens.
	GetActiveCredentialByToken(ctx context.Context, token string) (*APICredential, error)
	ListCredentials(ctx context.Context, accountID string) ([]*APICredential, error)
	// TouchCredential bumps usage_count and sets last_used_at.
	TouchCredential(ctx context.Context, id string, at time.Time) error
	DeactivateCredential(ctx context.Context, id string) error
	DeleteCredential(ctx context.Context, id string) error
}

// BackendStore persists the backend registry.
type BackendStore interface {
	CreateBackend(ctx context.Context, b *Backend) error
	UpdateBackend(ctx context.Context, b *Backend) error
	GetBackendBySlug(ctx context.Context, slug string) (*Backend, error)
	// ListBackends orders by featured DESC, sort_order ASC, name ASC.
	ListBackends(ctx context.Context, filter BackendFilter) ([]*Backend, error)
	UpdateBackendTools(ctx context.Context, slug, toolsJSON string, cachedAt time.Time) error
	DeleteBackend(ctx context.Context, slug string) error
}

// SessionStore persists backend sessions, one row per (owner, backend).
type SessionStore interface {
	GetBackendSession(ctx context.Context, ownerKey, backendSlug string) (*BackendSession, error)
	UpsertBackendSession(ctx context.Context, sess *BackendSession) error
	DeleteBackendSession(ctx context.Context, ownerKey, backendSlug string) error
	ListBackendSessions(ctx context.Context, ownerKey string) ([]*BackendSession, error)
	DeleteExpiredBackendSessions(ctx context.Context, now time.Time) (int64, error)
}

// LogStore persists usage and request logs.
type LogStore interface {
	SaveUsage(ctx context.Context, entry *UsageEntry) error
	ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageEntry, error)
	SaveRequestLog(ctx context.Context, entry *RequestLog) error
	ListRequestLogs(ctx context.Context, limit int) ([]*RequestLog, error)
	// PruneLogs deletes usage and request rows created before the cutoff.
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	AccountStore
	CredentialStore
	BackendStore
	SessionStore
	LogStore
	Close() error
}
