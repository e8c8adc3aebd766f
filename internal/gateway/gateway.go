// ABOUTME: Gateway orchestrator that wires the MCP front door, registry, proxy and admin API
// ABOUTME: Manages listeners, background maintenance loops, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/backend"
	"github.com/2389/switchboard/internal/builtins"
	"github.com/2389/switchboard/internal/cache"
	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/mcp"
	"github.com/2389/switchboard/internal/persistent"
	"github.com/2389/switchboard/internal/registry"
	"github.com/2389/switchboard/internal/router"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
)

// sessionCleanupInterval is how often expired backend sessions are purged.
const sessionCleanupInterval = 5 * time.Minute

// Gateway owns every long-lived component of a running switchboard.
type Gateway struct {
	config      *config.Config
	store       store.Store
	cache       cache.Cache
	sessions    *session.Store
	launcher    *backend.Launcher
	registry    *registry.Registry
	persistent  *persistent.Manager
	mcpServer   *mcp.Server
	jwt         *auth.JWTVerifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// baseURL is the externally visible origin, e.g. "https://switchboard.tailnet.ts.net"
	baseURL string
}

// determineBaseURL resolves the public origin from config, environment, or the listen address.
func determineBaseURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimRight(cfg.Server.BaseURL, "/")
	}
	if envURL := os.Getenv("SWITCHBOARD_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

// initStore opens the SQLite store, honoring SWITCHBOARD_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SWITCHBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initCache picks Redis when cache.redis_url is set, otherwise an in-process cache.
func initCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.Cache.RedisURL == "" {
		return cache.NewMemory(10_000, time.Minute), nil
	}
	c, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("session cache backed by redis")
	return c, nil
}

// New creates a Gateway from configuration, opening the store and wiring every component.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore wires a Gateway around an already-open store. The gateway owns
// the store from here on and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionCache, err := initCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:  cfg,
		store:   s,
		cache:   sessionCache,
		baseURL: determineBaseURL(cfg),
		logger:  logger.With("component", "gateway"),
	}

	info := mcpgo.Implementation{Name: mcp.ServerName, Version: mcp.ServerVersion}
	client := backend.NewClient(&http.Client{}, info, logger)

	gw.sessions = session.New(session.Config{
		Sessions: s,
		Cache:    sessionCache,
		TTL:      cfg.Gateway.SessionTTL,
		Logger:   logger,
	})
	gw.launcher = backend.NewLauncher(backend.LauncherConfig{
		RunDir:       cfg.Autostart.RunDir,
		PollInterval: cfg.Autostart.PollInterval,
		PollTimeout:  cfg.Autostart.PollTimeout,
		Client:       client,
		Logger:       logger,
	})
	initializer := backend.NewInitializer(backend.InitializerConfig{
		Client:       client,
		Launcher:     gw.launcher,
		AutoStart:    cfg.Autostart.IsEnabled(),
		StartTimeout: cfg.Autostart.PollTimeout,
		Timeout:      cfg.Gateway.InitTimeout,
		Logger:       logger,
	})
	gw.registry = registry.New(registry.Config{
		Backends: s,
		Fetcher:  initializer,
		TTL:      cfg.Gateway.ToolCacheTTL,
		SelfSlug: cfg.Gateway.SelfSlug,
		Logger:   logger,
	})

	var upstream router.Backend
	if cfg.Persistent.Enabled {
		gw.persistent = persistent.NewManager(persistent.ManagerConfig{
			Backends:         s,
			Launcher:         gw.launcher,
			AutoStart:        cfg.Autostart.IsEnabled(),
			StartTimeout:     cfg.Autostart.AsyncPollTimeout,
			Info:             info,
			IdleTimeout:      cfg.Persistent.IdleTimeout,
			CallTimeout:      cfg.Persistent.CallTimeout,
			HandshakeTimeout: cfg.Persistent.HandshakeTimeout,
			ReapInterval:     cfg.Persistent.ReapInterval,
			Logger:           logger,
		})
		upstream = gw.persistent
		gw.logger.Info("persistent SSE sessions enabled for backend calls")
	} else {
		upstream = backend.NewProxy(backend.ProxyConfig{
			Backends:    s,
			Sessions:    gw.sessions,
			Client:      client,
			Initializer: initializer,
			CallTimeout: cfg.Gateway.CallTimeout,
			Logger:      logger,
		})
	}

	builtinTools := builtins.NewRegistry(builtins.Deps{
		Accounts:   s,
		Backends:   gw.registry,
		Sessions:   gw.sessions,
		ServerName: cfg.Gateway.SelfSlug,
	})
	toolRouter := router.New(router.Config{
		Builtins: builtinTools,
		Backend:  upstream,
		Usage:    s,
		SelfSlug: cfg.Gateway.SelfSlug,
		Logger:   logger,
	})

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Auth: auth.NewVerifier(auth.VerifierConfig{
			Store:        s,
			LegacyTokens: cfg.Auth.LegacyTokensEnabled(),
			Logger:       logger,
		}),
		Builtins:          builtinTools,
		Tools:             gw.registry,
		Router:            toolRouter,
		Logs:              s,
		Accounts:          s,
		BaseURL:           gw.baseURL,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		StreamMax:         cfg.Gateway.StreamMax,
		Logger:            logger,
	})
	if err != nil {
		_ = sessionCache.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	if cfg.Auth.JWTSecret != "" {
		gw.jwt, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = sessionCache.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.mcpServer.RegisterRoutes(mux)
	gw.registerAdminRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// BaseURL returns the externally visible origin.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr, "mcp_url", g.baseURL+"/mcp")
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run serves HTTP and runs the maintenance loops until ctx is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go g.runSessionCleanup(loopCtx)
	if g.persistent != nil {
		go func() { _ = g.persistent.Run(loopCtx) }()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}
	stopLoops()

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// runSessionCleanup purges expired backend sessions until ctx is done.
func (g *Gateway) runSessionCleanup(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.sessions.Cleanup(ctx)
			if err != nil {
				g.logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Debug("purged expired backend sessions", "count", n)
			}
		}
	}
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "switchboard", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener picks Funnel, tailnet TLS, or plain HTTP.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.persistent != nil {
		g.persistent.Close()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "cache close", g.cache.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers and reports the active backend count.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	backends, err := g.store.ListBackends(r.Context(), store.BackendFilter{Status: store.BackendStatusActive})
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d backends)", len(backends))
}
