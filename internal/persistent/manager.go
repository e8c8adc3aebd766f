// ABOUTME: Persistent connection manager holding one live SSE client per (owner, backend) pair
// ABOUTME: Connects lazily, auto-starts unreachable backends once, and reaps idle or dropped sessions

package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/backend"
	"github.com/2389/switchboard/internal/store"
)

// Defaults for ManagerConfig.
const (
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultCallTimeout      = 120 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReapInterval     = time.Minute
)

// transportSuffix matches a trailing /mcp or /sse on a registered endpoint.
var transportSuffix = regexp.MustCompile(`/(mcp|sse)/?$`)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Backends store.BackendStore
	// Launcher and AutoStart enable starting a backend whose stream cannot be opened.
	Launcher         *backend.Launcher
	AutoStart        bool
	StartTimeout     time.Duration
	HTTPClient       *http.Client
	Info             mcp.Implementation
	IdleTimeout      time.Duration
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	ReapInterval     time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Manager owns the table of persistent SSE sessions.
type Manager struct {
	backends         store.BackendStore
	launcher         *backend.Launcher
	autoStart        bool
	startTimeout     time.Duration
	http             *http.Client
	info             mcp.Implementation
	idleTimeout      time.Duration
	callTimeout      time.Duration
	handshakeTimeout time.Duration
	reapInterval     time.Duration
	now              func() time.Time
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry

	// connects collapses concurrent first connections for the same pair.
	connects singleflight.Group
}

type entry struct {
	client      *Client
	ownerKey    string
	backendSlug string
	createdAt   time.Time
	lastUsed    time.Time
	requests    int64
}

// SessionInfo is a snapshot of one persistent session.
type SessionInfo struct {
	Key          string    `json:"key"`
	OwnerKey     string    `json:"owner_key"`
	BackendSlug  string    `json:"backend_slug"`
	State        string    `json:"state"`
	Connected    bool      `json:"connected"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	RequestCount int64     `json:"request_count"`
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		backends:         cfg.Backends,
		launcher:         cfg.Launcher,
		autoStart:        cfg.AutoStart && cfg.Launcher != nil,
		startTimeout:     cfg.StartTimeout,
		http:             cfg.HTTPClient,
		info:             cfg.Info,
		idleTimeout:      cfg.IdleTimeout,
		callTimeout:      cfg.CallTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		reapInterval:     cfg.ReapInterval,
		now:              cfg.Now,
		logger:           cfg.Logger,
		sessions:         make(map[string]*entry),
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}
	if m.callTimeout <= 0 {
		m.callTimeout = DefaultCallTimeout
	}
	if m.handshakeTimeout <= 0 {
		m.handshakeTimeout = DefaultHandshakeTimeout
	}
	if m.reapInterval <= 0 {
		m.reapInterval = DefaultReapInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "persistent")
	return m
}

func sessionKey(ownerKey, slug string) string {
	return ownerKey + ":" + slug
}

// StreamBase strips a trailing /mcp or /sse so the client can append /sse itself.
func StreamBase(endpoint string) string {
	return transportSuffix.ReplaceAllString(endpoint, "")
}

// StartTimeout is how long an auto-started backend gets to come up.
func (m *Manager) StartTimeout() time.Duration {
	return m.startTimeout
}

// Call invokes tool on the backend through the caller's persistent session and
// returns the text of its result.
func (m *Manager) Call(ctx context.Context, caller *auth.Caller, slug, tool string, args json.RawMessage) (string, error) {
	b, err := backend.Resolve(ctx, m.backends, caller, slug)
	if err != nil {
		return "", err
	}

	owner := caller.OwnerKey()
	client, err := m.client(ctx, owner, b)
	if err != nil {
		return "", fmt.Errorf("failed to connect to MCP server %s: %w", slug, err)
	}

	result, err := client.CallTool(ctx, tool, args, m.callTimeout)
	m.recordUse(owner, slug)
	if err != nil {
		return "", err
	}
	return ResultText(result), nil
}

// ListTools fetches the backend's tools over the caller's persistent session.
func (m *Manager) ListTools(ctx context.Context, caller *auth.Caller, slug string) ([]json.RawMessage, error) {
	b, err := backend.Resolve(ctx, m.backends, caller, slug)
	if err != nil {
		return nil, err
	}
	owner := caller.OwnerKey()
	client, err := m.client(ctx, owner, b)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server %s: %w", slug, err)
	}
	tools, err := client.ListTools(ctx, m.handshakeTimeout)
	m.recordUse(owner, slug)
	return tools, err
}

// client returns the pair's live client, replacing a dropped one.
func (m *Manager) client(ctx context.Context, owner string, b *store.Backend) (*Client, error) {
	key := sessionKey(owner, b.Slug)

	m.mu.Lock()
	if e, ok := m.sessions[key]; ok {
		if e.client.Connected() {
			m.mu.Unlock()
			return e.client, nil
		}
		m.logger.Info("persistent session dropped, reconnecting", "backend_slug", b.Slug)
		e.client.Close()
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	// Callers joining the flight share one connection attempt, so it must not
	// die with whichever caller started it.
	ch := m.connects.DoChan(key, func() (any, error) {
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectBudget())
		defer cancel()
		client, err := m.connect(connectCtx, b)
		if err != nil {
			return nil, err
		}
		now := m.now()
		m.mu.Lock()
		m.sessions[key] = &entry{
			client:      client,
			ownerKey:    owner,
			backendSlug: b.Slug,
			createdAt:   now,
			lastUsed:    now,
		}
		m.mu.Unlock()
		return client, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	}
}

// connectBudget bounds one connection attempt: the stream open and the
// initialize handshake, twice when an auto-start sits between them.
func (m *Manager) connectBudget() time.Duration {
	budget := 2 * m.handshakeTimeout
	if m.autoStart {
		budget = 2*budget + m.startTimeout
	}
	return budget
}

// connect opens a session; a transport failure leads to one auto-start and one more attempt.
func (m *Manager) connect(ctx context.Context, b *store.Backend) (*Client, error) {
	client, err := m.dial(ctx, b)
	if err == nil {
		return client, nil
	}

	var transportErr *backend.TransportError
	if !errors.As(err, &transportErr) || !m.autoStart {
		return nil, err
	}
	if b.StartupCommand == "" {
		return nil, fmt.Errorf("%w (%w)", err, backend.ErrNoStartupCommand)
	}

	m.logger.Info("auto-starting backend for persistent session", "backend_slug", b.Slug)
	if _, err := m.launcher.Start(ctx, b, m.startTimeout); err != nil {
		return nil, fmt.Errorf("auto-start %s: %w", b.Slug, err)
	}
	return m.dial(ctx, b)
}

func (m *Manager) dial(ctx context.Context, b *store.Backend) (*Client, error) {
	client := NewClient(ClientConfig{
		BaseURL:          StreamBase(b.EndpointURL),
		Headers:          streamHeaders(b),
		HTTPClient:       m.http,
		Info:             m.info,
		HandshakeTimeout: m.handshakeTimeout,
		Logger:           m.logger.With("backend_slug", b.Slug),
	})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// streamHeaders authenticates to the backend. A bare token in the Authorization
// header is sent as a bearer token.
func streamHeaders(b *store.Backend) http.Header {
	h := backend.AuthHeaders(b)
	if v := h.Get("Authorization"); v != "" && !hasScheme(v) {
		h.Set("Authorization", "Bearer "+v)
	}
	return h
}

func hasScheme(v string) bool {
	for _, scheme := range []string{"Bearer ", "Basic ", "Token "} {
		if strings.HasPrefix(v, scheme) {
			return true
		}
	}
	return false
}

func (m *Manager) recordUse(owner, slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionKey(owner, slug)]; ok {
		e.lastUsed = m.now()
		e.requests++
	}
}

// ClearSession disconnects and forgets the pair's session.
func (m *Manager) ClearSession(ownerKey, slug string) {
	key := sessionKey(ownerKey, slug)
	m.mu.Lock()
	e, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		e.client.Close()
		m.logger.Info("cleared persistent session", "backend_slug", slug)
	}
}

// ListSessions returns a snapshot of every session, ordered by key.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for key, e := range m.sessions {
		state := e.client.State()
		out = append(out, SessionInfo{
			Key:          key,
			OwnerKey:     e.ownerKey,
			BackendSlug:  e.backendSlug,
			State:        state.String(),
			Connected:    state == StateReady,
			CreatedAt:    e.createdAt,
			LastUsed:     e.lastUsed,
			RequestCount: e.requests,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CleanupExpired closes sessions idle longer than maxIdle or whose stream has
// dropped, and returns how many were removed.
func (m *Manager) CleanupExpired(maxIdle time.Duration) int {
	now := m.now()
	var stale []*entry

	m.mu.Lock()
	for key, e := range m.sessions {
		if now.Sub(e.lastUsed) > maxIdle || !e.client.Connected() {
			stale = append(stale, e)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		e.client.Close()
		m.logger.Info("reaped persistent session", "backend_slug", e.backendSlug, "requests", e.requests)
	}
	return len(stale)
}

// Run reaps expired sessions every ReapInterval until ctx is done, then closes all sessions.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-ticker.C:
			if n := m.CleanupExpired(m.idleTimeout); n > 0 {
				m.logger.Debug("reaper pass", "removed", n)
			}
		}
	}
}

// Close disconnects every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range all {
		e.client.Close()
	}
}
