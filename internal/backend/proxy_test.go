// ABOUTME: Tests for the backend proxy
// ABOUTME: Covers session reuse, restart and retry after failures, access checks, and error surfacing

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
)

type proxyFixture struct {
	proxy    *Proxy
	store    *store.MockStore
	sessions *session.Store
	spawns   int
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()
	f := &proxyFixture{store: store.NewMockStore()}
	f.sessions = session.New(session.Config{Sessions: f.store})
	t.Cleanup(func() { _ = f.sessions.Close() })

	client := newTestClient()
	launcher := NewLauncher(LauncherConfig{
		RunDir: t.TempDir(),
		Client: client,
		Spawn: func(context.Context, string) (int, error) {
			f.spawns++
			return 0, errors.New("spawning disabled")
		},
	})
	f.proxy = NewProxy(ProxyConfig{
		Backends: f.store,
		Sessions: f.sessions,
		Client:   client,
		Initializer: NewInitializer(InitializerConfig{
			Client:    client,
			Launcher:  launcher,
			AutoStart: true,
		}),
	})
	return f
}

func (f *proxyFixture) addBackend(t *testing.T, b *store.Backend) {
	t.Helper()
	require.NoError(t, f.store.CreateBackend(context.Background(), b))
}

func credentialCaller(allowed ...string) *auth.Caller {
	return &auth.Caller{
		Account:    &store.Account{ID: "acct-1", Username: "alice", Level: store.LevelMember},
		Credential: &store.APICredential{ID: "cred-1", AccountID: "acct-1", Active: true, AllowedBackends: allowed},
		Method:     auth.MethodBearer,
	}
}

func TestProxy_Call_InitializesAndStoresSession(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)
	b := testBackend("weather", backend.server.URL)
	b.AuthToken = "Bearer upstream"
	fix.addBackend(t, b)

	ctx := context.Background()
	caller := credentialCaller()
	text, err := fix.proxy.Call(ctx, caller, "weather", "forecast", json.RawMessage(`{"city":"Oslo"}`))
	require.NoError(t, err)
	assert.Equal(t, "called forecast", text)
	assert.Equal(t, "Bearer upstream", backend.lastAuth())

	assert.Equal(t, 1, backend.count("initialize"))
	assert.Equal(t, []string{"sess-1"}, backend.seenSessions())
	assert.Equal(t, "sess-1", fix.sessions.Get(ctx, "cred-1", "weather"))

	// Second call reuses the stored session
	_, err = fix.proxy.Call(ctx, caller, "weather", "forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.count("initialize"))
	assert.Equal(t, []string{"sess-1", "sess-1"}, backend.seenSessions())
}

func TestProxy_Call_SSEReply(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)
	backend.sse = true
	backend.reply = func(string, json.RawMessage) string {
		return `{"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}`
	}
	fix.addBackend(t, testBackend("weather", backend.server.URL))

	text, err := fix.proxy.Call(context.Background(), credentialCaller(), "weather", "forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)
}

func TestProxy_Call_RetriesOnceAfterSessionRejected(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusBadRequest} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fix := newProxyFixture(t)
			backend := newFakeBackend(t)
			backend.failCalls = 1
			backend.failStatus = status
			fix.addBackend(t, testBackend("weather", backend.server.URL))

			ctx := context.Background()
			require.NoError(t, fix.sessions.Put(ctx, "cred-1", "weather", "stale"))

			text, err := fix.proxy.Call(ctx, credentialCaller(), "weather", "forecast", nil)
			require.NoError(t, err)
			assert.Equal(t, "called forecast", text)

			assert.Equal(t, []string{"stale", "sess-1"}, backend.seenSessions())
			assert.Equal(t, 1, backend.count("initialize"))
			assert.Equal(t, "sess-1", fix.sessions.Get(ctx, "cred-1", "weather"))
		})
	}
}

func TestProxy_Call_GivesUpAfterOneRetry(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)
	backend.failCalls = 5
	fix.addBackend(t, testBackend("weather", backend.server.URL))

	_, err := fix.proxy.Call(context.Background(), credentialCaller(), "weather", "forecast", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, 2, backend.count("tools/call"))
}

func TestProxy_Call_ServerErrorNotRetried(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)
	backend.failCalls = 1
	backend.failStatus = http.StatusInternalServerError
	fix.addBackend(t, testBackend("weather", backend.server.URL))

	_, err := fix.proxy.Call(context.Background(), credentialCaller(), "weather", "forecast", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 1, backend.count("tools/call"))
	assert.Equal(t, 0, fix.spawns)
}

func TestProxy_Call_RPCError(t *testing.T) {
	fix := newProxyFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(SessionHeader, "s")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"city is required"}}`))
	}))
	t.Cleanup(srv.Close)
	fix.addBackend(t, testBackend("weather", srv.URL))

	_, err := fix.proxy.Call(context.Background(), credentialCaller(), "weather", "forecast", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, "city is required", rpcErr.Error())
}

func TestProxy_Call_LookupFailures(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)

	inactive := testBackend("old", backend.server.URL)
	inactive.Status = store.BackendStatusInactive
	fix.addBackend(t, inactive)

	noProxy := testBackend("local", backend.server.URL)
	noProxy.ProxyEnabled = false
	fix.addBackend(t, noProxy)

	fix.addBackend(t, testBackend("weather", backend.server.URL))

	tests := []struct {
		name   string
		caller *auth.Caller
		slug   string
		want   error
		msg    string
	}{
		{"unknown", credentialCaller(), "unknown", ErrBackendNotFound, "MCP server not found: unknown"},
		{"inactive", credentialCaller(), "old", ErrBackendNotFound, "MCP server not found: old"},
		{"not allowed", credentialCaller("github"), "weather", ErrAccessDenied, ""},
		{"proxy disabled", credentialCaller(), "local", ErrProxyDisabled, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fix.proxy.Call(context.Background(), tt.caller, tt.slug, "tool", nil)
			require.ErrorIs(t, err, tt.want)
			if tt.msg != "" {
				assert.EqualError(t, err, tt.msg)
			}
		})
	}
	assert.Zero(t, backend.count("tools/call"))
}

func TestProxy_Call_WildcardScopeOverridesAllowList(t *testing.T) {
	fix := newProxyFixture(t)
	backend := newFakeBackend(t)
	fix.addBackend(t, testBackend("weather", backend.server.URL))

	caller := credentialCaller("github")
	caller.Credential.Scopes = []string{store.ScopeAll}

	_, err := fix.proxy.Call(context.Background(), caller, "weather", "forecast", nil)
	require.NoError(t, err)
}

func TestProxy_Call_UnreachableWithoutStartupCommand(t *testing.T) {
	fix := newProxyFixture(t)
	fix.addBackend(t, testBackend("down", unreachableURL(t)))

	_, err := fix.proxy.Call(context.Background(), credentialCaller(), "down", "tool", nil)
	require.ErrorIs(t, err, ErrNoStartupCommand)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Zero(t, fix.spawns)
}

// methodLog records the JSON-RPC method of every POST a client attempts,
// including ones that never reach a server.
type methodLog struct {
	mu   sync.Mutex
	next http.RoundTripper
	seen []string
}

func (l *methodLog) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		var msg struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(body, &msg)
		l.mu.Lock()
		l.seen = append(l.seen, msg.Method)
		l.mu.Unlock()
	}
	return l.next.RoundTrip(req)
}

func (l *methodLog) count(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.seen {
		if m == method {
			n++
		}
	}
	return n
}

func TestProxy_Call_RestartsUnreachableBackendAndRetriesOnce(t *testing.T) {
	// Reserve an address nothing listens on until the backend is "started"
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	backend := newFakeBackend(t)
	spawns := 0
	spawn := func(context.Context, string) (int, error) {
		spawns++
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return 0, err
		}
		srv := httptest.NewUnstartedServer(http.HandlerFunc(backend.handle))
		_ = srv.Listener.Close()
		srv.Listener = l
		srv.Start()
		t.Cleanup(srv.Close)
		return os.Getpid(), nil
	}

	attempts := &methodLog{next: http.DefaultTransport}
	client := NewClient(&http.Client{Transport: attempts}, mcp.Implementation{Name: "switchboard-mcp", Version: "test"}, nil)
	launcher := NewLauncher(LauncherConfig{
		RunDir:       t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  2 * time.Second,
		Client:       newTestClient(),
		Spawn:        spawn,
	})
	s := store.NewMockStore()
	sessions := session.New(session.Config{Sessions: s})
	t.Cleanup(func() { _ = sessions.Close() })
	proxy := NewProxy(ProxyConfig{
		Backends: s,
		Sessions: sessions,
		Client:   client,
		Initializer: NewInitializer(InitializerConfig{
			Client:       client,
			Launcher:     launcher,
			AutoStart:    true,
			StartTimeout: 2 * time.Second,
		}),
	})

	b := testBackend("cold", "http://"+addr+"/mcp")
	b.StartupCommand = "node"
	b.StartupArgs = []string{"server.js"}
	require.NoError(t, s.CreateBackend(context.Background(), b))

	ctx := context.Background()
	require.NoError(t, sessions.Put(ctx, "cred-1", "cold", "from-before-restart"))

	text, err := proxy.Call(ctx, credentialCaller(), "cold", "forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, "called forecast", text)

	assert.Equal(t, 1, spawns)
	assert.Equal(t, 1, attempts.count("initialize"), "one handshake after the restart")
	assert.Equal(t, 2, attempts.count("tools/call"), "the failed call and exactly one retry")
	// Only the retry reached the restarted backend, under the new session.
	require.Len(t, backend.seenSessions(), 1)
	refreshed := backend.seenSessions()[0]
	assert.NotEqual(t, "from-before-restart", refreshed)
	assert.Equal(t, refreshed, sessions.Get(ctx, "cred-1", "cold"))
}

func TestProxy_Call_UnreachableWithAutoStartDisabledKeepsCause(t *testing.T) {
	s := store.NewMockStore()
	sessions := session.New(session.Config{Sessions: s})
	t.Cleanup(func() { _ = sessions.Close() })
	client := newTestClient()
	proxy := NewProxy(ProxyConfig{
		Backends:    s,
		Sessions:    sessions,
		Client:      client,
		Initializer: NewInitializer(InitializerConfig{Client: client}),
	})

	b := testBackend("down", unreachableURL(t))
	b.StartupCommand = "node"
	require.NoError(t, s.CreateBackend(context.Background(), b))
	ctx := context.Background()
	require.NoError(t, sessions.Put(ctx, "cred-1", "down", "sess-old"))

	_, err := proxy.Call(ctx, credentialCaller(), "down", "tool", nil)
	require.ErrorIs(t, err, ErrAutoStartDisabled)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Contains(t, err.Error(), "connection to "+b.EndpointURL+" failed")
}
