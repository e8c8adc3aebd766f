// ABOUTME: Backend proxy forwarding namespaced tool calls to upstream MCP servers
// ABOUTME: Reuses stored sessions, retries once after auto-start or session invalidation, and flattens replies to text

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
)

// ProxyConfig configures a Proxy.
type ProxyConfig struct {
	Backends    store.BackendStore
	Sessions    *session.Store
	Client      *Client
	Initializer *Initializer
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Proxy forwards tools/call requests to backends.
type Proxy struct {
	backends    store.BackendStore
	sessions    *session.Store
	client      *Client
	init        *Initializer
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewProxy creates a Proxy.
func NewProxy(cfg ProxyConfig) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{
		backends:    cfg.Backends,
		sessions:    cfg.Sessions,
		client:      cfg.Client,
		init:        cfg.Initializer,
		callTimeout: timeout,
		logger:      logger.With("component", "proxy"),
	}
}

// Call invokes tool on the backend identified by slug and returns the text of its result.
func (p *Proxy) Call(ctx context.Context, caller *auth.Caller, slug, tool string, args json.RawMessage) (string, error) {
	b, err := Resolve(ctx, p.backends, caller, slug)
	if err != nil {
		return "", err
	}

	logger := p.logger.With("backend_slug", slug, "tool_name", tool)
	owner := caller.OwnerKey()

	sessionID := p.sessions.Get(ctx, owner, slug)
	if sessionID == "" {
		sessionID, err = p.newSession(ctx, owner, b, nil)
		if err != nil {
			return "", err
		}
	}

	reply, err := p.client.CallTool(ctx, b.EndpointURL, AuthHeaders(b), sessionID, tool, args, p.callTimeout)

	var transportErr *TransportError
	var statusErr *StatusError
	switch {
	case errors.As(err, &transportErr):
		logger.Warn("backend unreachable, restarting", "error", err)
		sessionID, err = p.newSession(ctx, owner, b, err)
		if err != nil {
			return "", err
		}
		reply, err = p.client.CallTool(ctx, b.EndpointURL, AuthHeaders(b), sessionID, tool, args, p.callTimeout)

	case errors.As(err, &statusErr) && statusErr.SessionInvalid():
		logger.Info("backend session rejected, reinitializing", "status", statusErr.Code)
		if clearErr := p.sessions.Clear(ctx, owner, slug); clearErr != nil {
			logger.Warn("failed to clear backend session", "error", clearErr)
		}
		sessionID, err = p.newSession(ctx, owner, b, nil)
		if err != nil {
			return "", err
		}
		reply, err = p.client.CallTool(ctx, b.EndpointURL, AuthHeaders(b), sessionID, tool, args, p.callTimeout)
	}

	if err != nil {
		return "", backendError(reply, err)
	}

	if id := ExtractSessionID(reply.Header); id != "" {
		sessionID = id
	}
	if sessionID != "" {
		if err := p.sessions.Put(ctx, owner, slug, sessionID); err != nil {
			logger.Warn("failed to refresh backend session", "error", err)
		}
	}

	resp, err := DecodeBody(reply.Body)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return ExtractText(resp.Result), nil
}

// Resolve loads the backend for a proxied call and checks the caller may use it.
// Missing and inactive backends are both reported as ErrBackendNotFound.
func Resolve(ctx context.Context, backends store.BackendStore, caller *auth.Caller, slug string) (*store.Backend, error) {
	b, err := backends.GetBackendBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) || (err == nil && b.Status != store.BackendStatusActive) {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("loading backend %s: %w", slug, err)
	}
	if !caller.CanAccessBackend(slug) {
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, slug)
	}
	if !b.ProxyEnabled {
		return nil, fmt.Errorf("%w: %s", ErrProxyDisabled, slug)
	}
	return b, nil
}

// newSession handshakes with the backend, launching it first when unreachable
// carries the transport failure of a call, and stores the resulting session id
// when the backend issued one.
func (p *Proxy) newSession(ctx context.Context, owner string, b *store.Backend, unreachable error) (string, error) {
	var (
		result *InitResult
		err    error
	)
	if unreachable != nil {
		result, err = p.init.InitializeAfterAutoStart(ctx, b, unreachable)
	} else {
		result, err = p.init.Initialize(ctx, b)
	}
	if err != nil {
		return "", fmt.Errorf("initializing session with %s: %w", b.Slug, err)
	}

	if result.SessionID != "" {
		if err := p.sessions.Put(ctx, owner, b.Slug, result.SessionID); err != nil {
			p.logger.Warn("failed to store backend session", "backend_slug", b.Slug, "error", err)
		}
	}
	return result.SessionID, nil
}

// backendError prefers the JSON-RPC error message carried in a failed reply.
func backendError(reply *Reply, err error) error {
	if reply == nil {
		return err
	}
	if resp, decodeErr := DecodeBody(reply.Body); decodeErr == nil && resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return err
}
