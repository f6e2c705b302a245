package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newMemoryCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	store := NewMemoryStore(0).WithClock(clock.Now)
	c := New(store, zap.NewNop(), WithClock(clock.Now))
	t.Cleanup(func() { c.Close() })
	return c
}

// TestKeyDeterminism tests that parameter order does not change the key
func TestKeyDeterminism(t *testing.T) {
	a := map[string]interface{}{"cleanroom": "cr-1", "limit": 10, "nested": map[string]interface{}{"x": 1, "y": 2}}
	b := map[string]interface{}{"nested": map[string]interface{}{"y": 2, "x": 1}, "limit": 10, "cleanroom": "cr-1"}

	assert.Equal(t, Key(CategoryPartners, "list", a), Key(CategoryPartners, "list", b))
	assert.NotEqual(t, Key(CategoryPartners, "list", a), Key(CategoryPartners, "list", map[string]interface{}{"cleanroom": "cr-2"}))

	t.Run("no params", func(t *testing.T) {
		assert.Equal(t, "partners:list", Key(CategoryPartners, "list", nil))
		assert.Equal(t, "partners:list", Key(CategoryPartners, "list", map[string]interface{}{}))
	})

	t.Run("hash width", func(t *testing.T) {
		key := Key(CategoryStatus, "query_1", map[string]interface{}{"q": "x"})
		require.Len(t, key, len("status:query_1:")+paramHashWidth)
	})
}

// TestPutGetRoundTrip tests that payloads come back unchanged with metadata
func TestPutGetRoundTrip(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	payload := map[string]interface{}{"status": "success", "count": 2}
	require.True(t, c.Put(ctx, "partners:list", payload, CategoryPartners, 0))

	entry, ok := c.Get(ctx, "partners:list")
	require.True(t, ok)
	assert.Equal(t, CategoryPartners, entry.Category)
	assert.Equal(t, 900, entry.TTLSeconds)
	assert.True(t, entry.CachedAt.Equal(clock.Now()))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Payload, &got))
	assert.Equal(t, "success", got["status"])
	assert.EqualValues(t, 2, got["count"])
}

// TestExpiry tests that entries are misses once their TTL elapses
func TestExpiry(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "status:query_1", map[string]string{"s": "RUNNING"}, CategoryStatus, 0))

	clock.Advance(119 * time.Second)
	_, ok := c.Get(ctx, "status:query_1")
	assert.True(t, ok, "entry should be valid just before TTL")

	clock.Advance(2 * time.Second)
	_, ok = c.Get(ctx, "status:query_1")
	assert.False(t, ok, "entry should expire after TTL")
}

// TestTTLOverride tests explicit TTLs and the one second floor
func TestTTLOverride(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "chat:a", "x", CategoryChat, 10*time.Second))
	entry, ok := c.Get(ctx, "chat:a")
	require.True(t, ok)
	assert.Equal(t, 10, entry.TTLSeconds)

	require.True(t, c.Put(ctx, "chat:b", "x", CategoryChat, time.Millisecond))
	entry, ok = c.Get(ctx, "chat:b")
	require.True(t, ok)
	assert.Equal(t, 1, entry.TTLSeconds)
}

// TestDefaultTTLs tests the category table and the fallback
func TestDefaultTTLs(t *testing.T) {
	c := New(nil, nil)
	for category, ttl := range DefaultTTLs {
		assert.Equal(t, ttl, c.TTL(category), "category %s", category)
	}
	assert.Equal(t, fallbackTTL, c.TTL(Category("unknown")))

	c = New(nil, nil, WithTTLs(map[Category]time.Duration{CategoryChat: time.Minute, CategoryStatus: 0}))
	assert.Equal(t, time.Minute, c.TTL(CategoryChat))
	assert.Equal(t, 120*time.Second, c.TTL(CategoryStatus))
}

// TestInvalidatePrefix tests prefix removal
func TestInvalidatePrefix(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	c.Put(ctx, "exports:list", []int{1}, CategoryExports, 0)
	c.Put(ctx, "exports:list:abc", []int{2}, CategoryExports, 0)
	c.Put(ctx, "partners:list", []int{3}, CategoryPartners, 0)

	assert.Equal(t, 2, c.Invalidate(ctx, "exports:"))
	_, ok := c.Get(ctx, "exports:list")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "partners:list")
	assert.True(t, ok)

	assert.Equal(t, 0, c.Invalidate(ctx, "exports:"))
}

// TestDisconnected tests that a cache without a backend never fails
func TestDisconnected(t *testing.T) {
	c := New(nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, c.Connected())
	assert.False(t, c.Put(ctx, "partners:list", "x", CategoryPartners, 0))
	_, ok := c.Get(ctx, "partners:list")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Invalidate(ctx, ""))
	assert.NoError(t, c.Close())

	stats := c.Stats(ctx)
	assert.False(t, stats.Connected)
	assert.EqualValues(t, 1, stats.Misses)
}

// TestOpenUnreachableRedis tests the fail-soft connect path
func TestOpenUnreachableRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond

	c := Open(context.Background(), cfg, zap.NewNop())
	assert.False(t, c.Connected())

	stats := c.Stats(context.Background())
	assert.Equal(t, "redis", stats.Backend)
	assert.False(t, stats.Connected)
}

// TestOpenDisabled tests that a disabled cache reports itself as such
func TestOpenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	c := Open(context.Background(), cfg, nil)
	assert.False(t, c.Connected())
	assert.Equal(t, "disabled", c.Stats(context.Background()).Backend)
}

// TestStats tests hit accounting and per-category key counts
func TestStats(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	c.Put(ctx, "partners:list", 1, CategoryPartners, 0)
	c.Put(ctx, "templates:list", 1, CategoryTemplates, 0)
	c.Put(ctx, "templates:list:ff00", 1, CategoryTemplates, 0)

	c.Get(ctx, "partners:list")
	c.Get(ctx, "partners:list")
	c.Get(ctx, "missing:key")

	stats := c.Stats(ctx)
	assert.True(t, stats.Connected)
	assert.Equal(t, "memory", stats.Backend)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 3, stats.Writes)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.0001)
	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, map[string]int{"partners": 1, "templates": 2}, stats.KeyCountsByCategory)
}

// TestCorruptEntry tests that undecodable data is a miss, not an error
func TestCorruptEntry(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(0).WithClock(clock.Now)
	c := New(store, zap.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "partners:list", []byte("not json"), time.Minute))
	_, ok := c.Get(ctx, "partners:list")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats(ctx).Errors)
}

// TestRawPayload tests that pre-encoded JSON is stored verbatim
func TestRawPayload(t *testing.T) {
	clock := newClock()
	c := newMemoryCache(t, clock)
	ctx := context.Background()

	raw := json.RawMessage(`{"b":1,"a":2}`)
	require.True(t, c.Put(ctx, "results:q1", raw, CategoryResults, 0))
	entry, ok := c.Get(ctx, "results:q1")
	require.True(t, ok)
	assert.JSONEq(t, string(raw), string(entry.Payload))

	assert.False(t, c.Put(ctx, "results:q2", []byte("{oops"), CategoryResults, 0))
}

// TestRedisStore tests the Redis backend against an in-process server
func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	store, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "exports:list", []byte(`1`), time.Minute))
	require.NoError(t, store.Set(ctx, "exports:list:abc", []byte(`2`), time.Minute))
	require.NoError(t, store.Set(ctx, "partners:list", []byte(`3`), time.Minute))

	assert.True(t, mr.Exists("habu:exports:list"), "keys are namespaced")

	data, ok, err := store.Get(ctx, "partners:list")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", string(data))

	_, ok, err = store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exports:list", "exports:list:abc", "partners:list"}, keys)

	n, err := store.DeletePrefix(ctx, "exports:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "partners:list")
	require.NoError(t, err)
	assert.False(t, ok, "redis expires keys on its own")
}

// TestRedisGlobEscaping tests that pattern characters in a prefix match literally
func TestRedisGlobEscaping(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = mr.Addr()
	store, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "chat:a*b", []byte(`1`), time.Minute))
	require.NoError(t, store.Set(ctx, "chat:axb", []byte(`1`), time.Minute))

	n, err := store.DeletePrefix(ctx, "chat:a*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("habu:chat:axb"))
}

// TestCacheOverRedis tests Open with a reachable server
func TestCacheOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = mr.Addr()

	c := Open(context.Background(), cfg, zap.NewNop())
	defer c.Close()
	require.True(t, c.Connected())

	ctx := context.Background()
	require.True(t, c.Put(ctx, "templates:list", []string{"t1"}, CategoryTemplates, 0))
	assert.Equal(t, 1800*time.Second, mr.TTL("habu:templates:list"))

	_, ok := c.Get(ctx, "templates:list")
	assert.True(t, ok)

	// Losing the server degrades to misses.
	mr.Close()
	_, ok = c.Get(ctx, "templates:list")
	assert.False(t, ok)
	assert.False(t, c.Put(ctx, "templates:list", []string{"t2"}, CategoryTemplates, 0))
	assert.Positive(t, c.Stats(ctx).Errors)
}

// TestBadgerStore tests the embedded backend in memory mode
func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Set(ctx, "status:q1", []byte(`"RUNNING"`), time.Minute))
	require.NoError(t, store.Set(ctx, "status:q2", []byte(`"QUEUED"`), time.Minute))
	require.NoError(t, store.Set(ctx, "results:q1", []byte(`[]`), time.Minute))

	data, ok, err := store.Get(ctx, "status:q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"RUNNING"`, string(data))

	keys, err := store.Keys(ctx, "status:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"status:q1", "status:q2"}, keys)

	n, err := store.DeletePrefix(ctx, "status:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = store.Get(ctx, "status:q1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestExpiryOnEachBackend tests that an entry the backend still holds is a
// miss once the cache clock passes its TTL
func TestExpiryOnEachBackend(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			cfg := DefaultConfig()
			cfg.RedisURL = mr.Addr()
			store, err := NewRedisStore(context.Background(), cfg)
			require.NoError(t, err)
			return store
		},
		"badger": func(t *testing.T) Store {
			store, err := NewBadgerStore("")
			require.NoError(t, err)
			return store
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			store := open(t)
			c := New(store, zap.NewNop(), WithClock(clock.Now))
			defer c.Close()
			ctx := context.Background()

			require.True(t, c.Put(ctx, "status:query_1", map[string]string{"s": "RUNNING"}, CategoryStatus, 0))

			clock.Advance(119 * time.Second)
			_, ok := c.Get(ctx, "status:query_1")
			assert.True(t, ok, "entry should be valid just before TTL")

			clock.Advance(2 * time.Second)
			_, ok, err := store.Get(ctx, "status:query_1")
			require.NoError(t, err)
			require.True(t, ok, "backend still holds the key")

			_, ok = c.Get(ctx, "status:query_1")
			assert.False(t, ok, "entry should expire after TTL")
		})
	}
}

// TestMemoryStoreJanitor tests that Close stops the sweeper goroutine
func TestMemoryStoreJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := newClock()
	store := NewMemoryStore(5 * time.Millisecond)
	store.WithClock(clock.Now)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "chat:x", []byte(`1`), time.Second))
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.items) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
