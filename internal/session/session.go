// ABOUTME: Backend session store mapping (owner, backend) to an upstream MCP session id
// ABOUTME: Reads hit the cache first, then SQLite; entries expire a fixed TTL after the last write

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/switchboard/internal/cache"
	"github.com/2389/switchboard/internal/store"
)

// DefaultTTL is how long a backend session stays valid after its last write.
const DefaultTTL = 30 * time.Minute

// Config configures a Store.
type Config struct {
	Sessions store.SessionStore
	// Cache defaults to an in-process memory cache.
	Cache  cache.Cache
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Store is the two-layer backend session store.
type Store struct {
	sessions store.SessionStore
	cache    cache.Cache
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := cfg.Cache
	if c == nil {
		c = cache.NewMemory(10000, time.Minute, cache.WithClock(now))
	}
	return &Store{
		sessions: cfg.Sessions,
		cache:    c,
		ttl:      ttl,
		now:      now,
		logger:   logger.With("component", "session"),
	}
}

func cacheKey(ownerKey, backendSlug string) string {
	return "session:" + ownerKey + "|" + backendSlug
}

// Get returns the live session id for the pair, or "" when none exists or it has expired.
// Lookup failures are logged and reported as a miss so the caller reinitializes.
func (s *Store) Get(ctx context.Context, ownerKey, backendSlug string) string {
	key := cacheKey(ownerKey, backendSlug)

	if id, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("session cache read failed", "backend_slug", backendSlug, "error", err)
	} else if ok {
		return id
	}

	sess, err := s.sessions.GetBackendSession(ctx, ownerKey, backendSlug)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("session lookup failed", "backend_slug", backendSlug, "error", err)
		}
		return ""
	}
	if !sess.ExpiresAt.After(s.now()) {
		return ""
	}

	if err := s.cache.Set(ctx, key, sess.SessionID, sess.ExpiresAt); err != nil {
		s.logger.Warn("session cache write failed", "backend_slug", backendSlug, "error", err)
	}
	return sess.SessionID
}

// Put stores sessionID for the pair, expiring TTL from now. Existing rows are replaced.
func (s *Store) Put(ctx context.Context, ownerKey, backendSlug, sessionID string) error {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	if err := s.sessions.UpsertBackendSession(ctx, &store.BackendSession{
		OwnerKey:    ownerKey,
		BackendSlug: backendSlug,
		SessionID:   sessionID,
		ExpiresAt:   expiresAt,
		UpdatedAt:   now,
	}); err != nil {
		return err
	}

	if err := s.cache.Set(ctx, cacheKey(ownerKey, backendSlug), sessionID, expiresAt); err != nil {
		s.logger.Warn("session cache write failed", "backend_slug", backendSlug, "error", err)
	}

	s.logger.Debug("stored backend session", "backend_slug", backendSlug, "session_id", sessionID)
	return nil
}

// Clear removes the pair from both layers.
func (s *Store) Clear(ctx context.Context, ownerKey, backendSlug string) error {
	if err := s.cache.Delete(ctx, cacheKey(ownerKey, backendSlug)); err != nil {
		s.logger.Warn("session cache delete failed", "backend_slug", backendSlug, "error", err)
	}
	return s.sessions.DeleteBackendSession(ctx, ownerKey, backendSlug)
}

// List returns the owner's unexpired sessions.
func (s *Store) List(ctx context.Context, ownerKey string) ([]*store.BackendSession, error) {
	all, err := s.sessions.ListBackendSessions(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := make([]*store.BackendSession, 0, len(all))
	for _, sess := range all {
		if sess.ExpiresAt.After(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// Cleanup deletes expired rows from persistent storage.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpiredBackendSessions(ctx, s.now())
}

// Close releases the cache.
func (s *Store) Close() error {
	return s.cache.Close()
}
