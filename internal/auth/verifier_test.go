// ABOUTME: Tests for MCP credential verification
// ABOUTME: Covers Basic, Bearer, X-MCP-Token, legacy fallback, expiry, and backend scoping

package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupVerifier(t *testing.T, legacy bool) (*Verifier, *store.MockStore) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	require.NoError(t, s.CreateAccount(ctx, &store.Account{
		ID:           "acct-alice",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Level:        store.LevelMember,
		APIToken:     "legacy-alice",
		CreatedAt:    testNow,
	}))

	require.NoError(t, s.CreateCredential(ctx, &store.APICredential{
		ID:              "cred-scoped",
		AccountID:       "acct-alice",
		Token:           "tk_scoped",
		AllowedBackends: []string{"weather"},
		Active:          true,
		CreatedAt:       testNow,
	}))

	expired := testNow.Add(-time.Minute)
	require.NoError(t, s.CreateCredential(ctx, &store.APICredential{
		ID:        "cred-expired",
		AccountID: "acct-alice",
		Token:     "tk_expired",
		Active:    true,
		ExpiresAt: &expired,
		CreatedAt: testNow,
	}))

	require.NoError(t, s.CreateCredential(ctx, &store.APICredential{
		ID:        "cred-inactive",
		AccountID: "acct-alice",
		Token:     "tk_inactive",
		Active:    false,
		CreatedAt: testNow,
	}))

	v := NewVerifier(VerifierConfig{
		Store:        s,
		LegacyTokens: legacy,
		Now:          func() time.Time { return testNow },
	})
	return v, s
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestVerifier_Basic(t *testing.T) {
	v, _ := setupVerifier(t, true)
	ctx := context.Background()

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"username", basicHeader("alice", "hunter2"), true},
		{"email", basicHeader("alice@example.com", "hunter2"), true},
		{"lowercase scheme", "basic " + base64.StdEncoding.EncodeToString([]byte("alice:hunter2")), true},
		{"password with colon", basicHeader("alice", "hunter2:extra"), false},
		{"wrong password", basicHeader("alice", "nope"), false},
		{"unknown user", basicHeader("bob", "hunter2"), false},
		{"no colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("alice")), false},
		{"bad base64", "Basic !!!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("Authorization", tt.header)

			caller, err := v.Authenticate(ctx, h)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "acct-alice", caller.AccountID())
			assert.Equal(t, MethodBasic, caller.Method)
			assert.Nil(t, caller.Credential)
		})
	}
}

func TestVerifier_BearerCredential(t *testing.T) {
	v, s := setupVerifier(t, true)
	ctx := context.Background()

	h := http.Header{}
	h.Set("Authorization", "Bearer tk_scoped")

	caller, err := v.Authenticate(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, MethodBearer, caller.Method)
	assert.Equal(t, "cred-scoped", caller.CredentialID())
	assert.Equal(t, "cred-scoped", caller.OwnerKey())

	cred, err := s.GetCredential(ctx, "cred-scoped")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cred.UsageCount)
	require.NotNil(t, cred.LastUsedAt)
	assert.True(t, testNow.Equal(*cred.LastUsedAt))
}

func TestVerifier_HeaderToken(t *testing.T) {
	v, _ := setupVerifier(t, true)

	h := http.Header{}
	h.Set(TokenHeader, "tk_scoped")

	caller, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, MethodHeader, caller.Method)
	assert.Equal(t, "cred-scoped", caller.CredentialID())
}

func TestVerifier_LegacyToken(t *testing.T) {
	v, _ := setupVerifier(t, true)

	h := http.Header{}
	h.Set("Authorization", "Bearer legacy-alice")

	caller, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "acct-alice", caller.AccountID())
	assert.Nil(t, caller.Credential)
	assert.Equal(t, "account:acct-alice", caller.OwnerKey())
}

func TestVerifier_LegacyTokenDisabled(t *testing.T) {
	v, _ := setupVerifier(t, false)

	h := http.Header{}
	h.Set("Authorization", "Bearer legacy-alice")

	_, err := v.Authenticate(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifier_RejectsExpiredAndInactive(t *testing.T) {
	v, s := setupVerifier(t, true)
	ctx := context.Background()

	for _, token := range []string{"tk_expired", "tk_inactive"} {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		_, err := v.Authenticate(ctx, h)
		assert.ErrorIs(t, err, ErrUnauthenticated, token)
	}

	cred, err := s.GetCredential(ctx, "cred-expired")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cred.UsageCount, "expired credential is not touched")
}

func TestVerifier_FallsThroughToHeader(t *testing.T) {
	v, _ := setupVerifier(t, true)

	h := http.Header{}
	h.Set("Authorization", basicHeader("alice", "wrong"))
	h.Set(TokenHeader, "tk_scoped")

	caller, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, MethodHeader, caller.Method)
}

func TestVerifier_NoCredentials(t *testing.T) {
	v, _ := setupVerifier(t, true)

	_, err := v.Authenticate(context.Background(), http.Header{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCaller_CanAccessBackend(t *testing.T) {
	account := &store.Account{ID: "a", Level: store.LevelMember}

	tests := []struct {
		name   string
		caller *Caller
		slug   string
		want   bool
	}{
		{"nil caller", nil, "any", true},
		{"no credential", &Caller{Account: account}, "any", true},
		{"empty allow list", &Caller{Account: account, Credential: &store.APICredential{}}, "any", true},
		{"listed", &Caller{Account: account, Credential: &store.APICredential{AllowedBackends: []string{"x"}}}, "x", true},
		{"not listed", &Caller{Account: account, Credential: &store.APICredential{AllowedBackends: []string{"x"}}}, "y", false},
		{"wildcard scope", &Caller{Account: account, Credential: &store.APICredential{
			Scopes: []string{store.ScopeAll}, AllowedBackends: []string{"x"},
		}}, "y", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caller.CanAccessBackend(tt.slug))
		})
	}
}

func TestCaller_NilSafe(t *testing.T) {
	var c *Caller
	assert.Empty(t, c.AccountID())
	assert.Empty(t, c.CredentialID())
	assert.Empty(t, c.OwnerKey())
	assert.False(t, c.IsAdmin())
}
