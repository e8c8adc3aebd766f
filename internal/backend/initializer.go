// ABOUTME: Backend session initializer with a single auto-start retry
// ABOUTME: attempt runs the handshake; on a transport failure attemptAfterAutoStart launches the process and tries once more

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/switchboard/internal/store"
)

// InitializerConfig configures an Initializer.
type InitializerConfig struct {
	Client   *Client
	Launcher *Launcher
	// AutoStart enables launching backends whose endpoint refuses connections.
	AutoStart bool
	// StartTimeout bounds the readiness poll after a launch.
	StartTimeout time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Initializer performs MCP handshakes against backends.
type Initializer struct {
	client       *Client
	launcher     *Launcher
	autoStart    bool
	startTimeout time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// NewInitializer creates an Initializer.
func NewInitializer(cfg InitializerConfig) *Initializer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Initializer{
		client:       cfg.Client,
		launcher:     cfg.Launcher,
		autoStart:    cfg.AutoStart && cfg.Launcher != nil,
		startTimeout: cfg.StartTimeout,
		timeout:      timeout,
		logger:       logger.With("component", "initializer"),
	}
}

// Initialize handshakes with the backend. Only a transport-level failure
// leads to auto-start, and the handshake after it is never retried again.
func (i *Initializer) Initialize(ctx context.Context, b *store.Backend) (*InitResult, error) {
	result, err := i.attempt(ctx, b)
	if err == nil {
		return result, nil
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		return nil, err
	}
	return i.attemptAfterAutoStart(ctx, b, err)
}

// InitializeAfterAutoStart starts the backend process and then handshakes once.
// The proxy uses it when a tool call itself hits a transport failure; cause is
// that failure and stays in the returned error when the backend cannot be started.
func (i *Initializer) InitializeAfterAutoStart(ctx context.Context, b *store.Backend, cause error) (*InitResult, error) {
	return i.attemptAfterAutoStart(ctx, b, cause)
}

func (i *Initializer) attempt(ctx context.Context, b *store.Backend) (*InitResult, error) {
	if !isRemote(b.EndpointURL) {
		return nil, fmt.Errorf("%w: %q", ErrNoEndpoint, b.EndpointURL)
	}
	result, err := i.client.Initialize(ctx, b.EndpointURL, AuthHeaders(b), i.timeout)
	if err != nil {
		return nil, err
	}
	i.logger.Debug("backend initialized", "backend_slug", b.Slug, "session_id", result.SessionID)
	return result, nil
}

func (i *Initializer) attemptAfterAutoStart(ctx context.Context, b *store.Backend, cause error) (*InitResult, error) {
	if !i.autoStart {
		if cause == nil {
			return nil, ErrAutoStartDisabled
		}
		return nil, fmt.Errorf("%w (%w)", cause, ErrAutoStartDisabled)
	}
	if b.StartupCommand == "" {
		if cause == nil {
			return nil, ErrNoStartupCommand
		}
		return nil, fmt.Errorf("%w (%w)", cause, ErrNoStartupCommand)
	}

	i.logger.Info("auto-starting backend", "backend_slug", b.Slug)
	if _, err := i.launcher.Start(ctx, b, i.startTimeout); err != nil {
		return nil, fmt.Errorf("auto-start %s: %w", b.Slug, err)
	}
	return i.attempt(ctx, b)
}

// ListTools handshakes and fetches the backend's tool definitions without auto-start.
func (i *Initializer) ListTools(ctx context.Context, b *store.Backend) ([]json.RawMessage, error) {
	init, err := i.attempt(ctx, b)
	if err != nil {
		return nil, err
	}
	return i.client.ListTools(ctx, b.EndpointURL, AuthHeaders(b), init.SessionID, i.timeout)
}

// TestConnection handshakes without auto-start and reports what the backend announced.
func (i *Initializer) TestConnection(ctx context.Context, b *store.Backend) (*InitResult, error) {
	return i.attempt(ctx, b)
}
