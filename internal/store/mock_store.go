// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests of upper layers to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	accounts    map[string]*Account        // keyed by account ID
	credentials map[string]*APICredential  // keyed by credential ID
	backends    map[string]*Backend        // keyed by slug
	sessions    map[string]*BackendSession // keyed by "owner\x00slug"
	usage       []*UsageEntry
	requests    []*RequestLog

	// SaveUsageErr, when set, is returned by SaveUsage to exercise log failure paths.
	SaveUsageErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:    make(map[string]*Account),
		credentials: make(map[string]*APICredential),
		backends:    make(map[string]*Backend),
		sessions:    make(map[string]*BackendSession),
	}
}

var _ Store = (*MockStore)(nil)

func sessionKey(owner, slug string) string {
	return owner + "\x00" + slug
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Username == account.Username {
			return ErrDuplicateIdentity
		}
	}
	a := *account
	m.accounts[a.ID] = &a
	return nil
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAccountByIdentity matches username first, then email.
func (m *MockStore) GetAccountByIdentity(_ context.Context, identity string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if identity == "" {
		return nil, ErrNotFound
	}
	var byEmail *Account
	for _, a := range m.accounts {
		if a.Username == identity {
			cp := *a
			return &cp, nil
		}
		if a.Email != "" && a.Email == identity && byEmail == nil {
			byEmail = a
		}
	}
	if byEmail == nil {
		return nil, ErrNotFound
	}
	cp := *byEmail
	return &cp, nil
}

// GetAccountByAPIToken retrieves the account owning a legacy token.
func (m *MockStore) GetAccountByAPIToken(_ context.Context, token string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if token == "" {
		return nil, ErrNotFound
	}
	for _, a := range m.accounts {
		if a.APIToken == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SetAccountAPIToken replaces an account's legacy token.
func (m *MockStore) SetAccountAPIToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.APIToken = token
	return nil
}

// ListAccounts returns accounts ordered by creation time.
func (m *MockStore) ListAccounts(_ context.Context, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Username < result[j].Username
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountAccounts returns the number of accounts.
func (m *MockStore) CountAccounts(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// CreateCredential stores a new credential.
func (m *MockStore) CreateCredential(_ context.Context, cred *APICredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.credentials {
		if c.Token == cred.Token {
			return ErrDuplicateIdentity
		}
	}
	c := *cred
	m.credentials[c.ID] = &c
	return nil
}

// GetCredential retrieves a credential by ID.
func (m *MockStore) GetCredential(_ context.Context, id string) (*APICredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetActiveCredentialByToken retrieves an active credential by token.
func (m *MockStore) GetActiveCredentialByToken(_ context.Context, token string) (*APICredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if c.Token == token && c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListCredentials returns an account's credentials, newest first.
func (m *MockStore) ListCredentials(_ context.Context, accountID string) ([]*APICredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*APICredential
	for _, c := range m.credentials {
		if c.AccountID == accountID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// TouchCredential bumps usage statistics.
func (m *MockStore) TouchCredential(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.UsageCount++
	t := at
	c.LastUsedAt = &t
	return nil
}

// DeactivateCredential marks a credential inactive.
func (m *MockStore) DeactivateCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

// DeleteCredential removes a credential.
func (m *MockStore) DeleteCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, id)
	return nil
}

// CreateBackend registers a backend.
func (m *MockStore) CreateBackend(_ context.Context, b *Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.backends[b.Slug]; exists {
		return ErrDuplicateSlug
	}
	cp := *b
	if cp.Status == "" {
		cp.Status = BackendStatusActive
	}
	m.backends[cp.Slug] = &cp
	return nil
}

// UpdateBackend overwrites a backend matched by slug.
func (m *MockStore) UpdateBackend(_ context.Context, b *Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.backends[b.Slug]; !exists {
		return ErrNotFound
	}
	cp := *b
	m.backends[cp.Slug] = &cp
	return nil
}

// GetBackendBySlug retrieves a backend by slug.
func (m *MockStore) GetBackendBySlug(_ context.Context, slug string) (*Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.backends[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// ListBackends applies the filter and the registry display order.
func (m *MockStore) ListBackends(_ context.Context, filter BackendFilter) ([]*Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Backend
	for _, b := range m.backends {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.ProxyEnabled && !b.ProxyEnabled {
			continue
		}
		if filter.AuthType != "" && b.AuthType != filter.AuthType {
			continue
		}
		if filter.FeaturedOnly && !b.Featured {
			continue
		}
		if filter.Tag != "" && !b.HasTag(filter.Tag) {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Featured != b.Featured {
			return a.Featured
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Name < b.Name
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateBackendTools replaces the tool cache.
func (m *MockStore) UpdateBackendTools(_ context.Context, slug, toolsJSON string, cachedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.backends[slug]
	if !ok {
		return ErrNotFound
	}
	b.ToolsCache = toolsJSON
	t := cachedAt
	b.ToolsCachedAt = &t
	return nil
}

// DeleteBackend removes a backend and its sessions.
func (m *MockStore) DeleteBackend(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.backends[slug]; !ok {
		return ErrNotFound
	}
	delete(m.backends, slug)
	for k, s := range m.sessions {
		if s.BackendSlug == slug {
			delete(m.sessions, k)
		}
	}
	return nil
}

// GetBackendSession returns the session for the pair.
func (m *MockStore) GetBackendSession(_ context.Context, ownerKey, backendSlug string) (*BackendSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionKey(ownerKey, backendSlug)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// UpsertBackendSession inserts or replaces the session for the pair.
func (m *MockStore) UpsertBackendSession(_ context.Context, sess *BackendSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sess
	m.sessions[sessionKey(cp.OwnerKey, cp.BackendSlug)] = &cp
	return nil
}

// DeleteBackendSession removes the session for the pair.
func (m *MockStore) DeleteBackendSession(_ context.Context, ownerKey, backendSlug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionKey(ownerKey, backendSlug))
	return nil
}

// ListBackendSessions returns an owner's sessions ordered by slug.
func (m *MockStore) ListBackendSessions(_ context.Context, ownerKey string) ([]*BackendSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*BackendSession
	for _, s := range m.sessions {
		if s.OwnerKey == ownerKey {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BackendSlug < result[j].BackendSlug
	})
	return result, nil
}

// DeleteExpiredBackendSessions removes sessions expired at now.
func (m *MockStore) DeleteExpiredBackendSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// SaveUsage appends a usage record.
func (m *MockStore) SaveUsage(_ context.Context, entry *UsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveUsageErr != nil {
		return m.SaveUsageErr
	}
	cp := *entry
	m.usage = append(m.usage, &cp)
	return nil
}

// ListUsage returns usage records newest first.
func (m *MockStore) ListUsage(_ context.Context, filter UsageFilter) ([]*UsageEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*UsageEntry
	for i := len(m.usage) - 1; i >= 0; i-- {
		e := m.usage[i]
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		if filter.BackendSlug != "" && e.BackendSlug != filter.BackendSlug {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *e
		result = append(result, &cp)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// SaveRequestLog appends a request log.
func (m *MockStore) SaveRequestLog(_ context.Context, entry *RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.requests = append(m.requests, &cp)
	return nil
}

// ListRequestLogs returns request logs newest first.
func (m *MockStore) ListRequestLogs(_ context.Context, limit int) ([]*RequestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RequestLog
	for i := len(m.requests) - 1; i >= 0; i-- {
		cp := *m.requests[i]
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// PruneLogs drops records created before the cutoff.
func (m *MockStore) PruneLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	keptUsage := m.usage[:0]
	for _, e := range m.usage {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		keptUsage = append(keptUsage, e)
	}
	m.usage = keptUsage

	keptReq := m.requests[:0]
	for _, r := range m.requests {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		keptReq = append(keptReq, r)
	}
	m.requests = keptReq
	return n, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
