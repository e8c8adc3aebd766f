// ABOUTME: Thread-safe expiring key/value cache used in front of the session store.
// ABOUTME: Entries carry an absolute expiry; the oldest entry is evicted when the cache is full.

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache is the key/value layer the session store consults before SQLite.
// Implementations must treat an expired entry as absent.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// cacheEntry stores the value, expiry, and list element for a cached key.
type cacheEntry struct {
	value     string
	expiresAt time.Time
	element   *list.Element
}

// Memory is an in-process Cache with size-limited, insertion-ordered eviction.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a memory cache holding at most maxSize entries.
// A background goroutine removes expired entries every cleanupInterval.
func NewMemory(maxSize int, cleanupInterval time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cleanupInterval > 0 {
		go m.cleanup(cleanupInterval)
	}
	return m
}

// Get returns the value for key if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.After(m.now()) {
		m.removeLocked(key, entry)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until expiresAt.
func (m *Memory) Set(_ context.Context, key, value string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		m.order.MoveToBack(entry.element)
		return nil
	}

	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: expiresAt,
		element:   elem,
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok {
		m.removeLocked(key, entry)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet cleaned.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) removeLocked(key string, entry *cacheEntry) {
	m.order.Remove(entry.element)
	delete(m.entries, key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

func (m *Memory) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RemoveExpired()
		case <-m.done:
			return
		}
	}
}

// RemoveExpired drops every expired entry and returns how many were removed.
func (m *Memory) RemoveExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			m.removeLocked(key, entry)
			removed++
		}
	}
	return removed
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

var _ Cache = (*Memory)(nil)
