// ABOUTME: Tests for the memory and Redis caches.
// ABOUTME: Validates expiry against an injected clock, eviction, deletion, and concurrency safety.

package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_GetMissing(t *testing.T) {
	c := NewMemory(10, 0)
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory(10, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Now().Add(time.Minute)))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestMemory_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemory(10, 0, WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", clock.Now().Add(30*time.Minute)))

	clock.Advance(29 * time.Minute)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry expiring exactly now is absent")
	assert.Equal(t, 0, c.Len())
}

func TestMemory_Overwrite(t *testing.T) {
	c := NewMemory(10, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "one", time.Now().Add(time.Minute)))
	require.NoError(t, c.Set(ctx, "k", "two", time.Now().Add(time.Minute)))

	val, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "two", val)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_EvictsOldest(t *testing.T) {
	c := NewMemory(2, 0)
	defer c.Close()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	require.NoError(t, c.Set(ctx, "a", "1", exp))
	require.NoError(t, c.Set(ctx, "b", "2", exp))
	require.NoError(t, c.Set(ctx, "c", "3", exp))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory(10, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Now().Add(time.Minute)))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_RemoveExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewMemory(10, 0, WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", clock.Now().Add(time.Second)))
	require.NoError(t, c.Set(ctx, "long", "v", clock.Now().Add(time.Hour)))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 1, c.Len())
}

func TestMemory_CloseTwice(t *testing.T) {
	c := NewMemory(10, time.Millisecond)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemory_Concurrent(t *testing.T) {
	c := NewMemory(1000, time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k-%d-%d", n, j)
				_ = c.Set(ctx, key, "v", time.Now().Add(time.Minute))
				_, _, _ = c.Get(ctx, key)
				_ = c.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("SWITCHBOARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SWITCHBOARD_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	r, err := NewRedis(ctx, url)
	require.NoError(t, err)
	defer r.Close()

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	require.NoError(t, r.Set(ctx, key, "v", time.Now().Add(time.Minute)))

	val, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, r.Delete(ctx, key))
	_, ok, err = r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Past expiry removes rather than stores
	require.NoError(t, r.Set(ctx, key, "v", time.Now().Add(-time.Second)))
	_, ok, _ = r.Get(ctx, key)
	assert.False(t, ok)
}
