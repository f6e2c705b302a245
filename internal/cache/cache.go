// Package cache is a read-through response cache with per-category TTLs.
// It is an optimization only: every backend failure degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Category groups cache entries that share a TTL
type Category string

const (
	CategoryPartners   Category = "partners"
	CategoryTemplates  Category = "templates"
	CategoryCleanrooms Category = "cleanrooms"
	CategoryChat       Category = "chat"
	CategoryStatus     Category = "status"
	CategoryResults    Category = "results"
	CategoryExports    Category = "exports"
)

// Categories lists every known category, in stats order
var Categories = []Category{
	CategoryPartners,
	CategoryTemplates,
	CategoryCleanrooms,
	CategoryChat,
	CategoryStatus,
	CategoryResults,
	CategoryExports,
}

// DefaultTTLs is the static category -> TTL table
var DefaultTTLs = map[Category]time.Duration{
	CategoryPartners:   900 * time.Second,
	CategoryTemplates:  1800 * time.Second,
	CategoryCleanrooms: 1800 * time.Second,
	CategoryChat:       300 * time.Second,
	CategoryStatus:     120 * time.Second,
	CategoryResults:    600 * time.Second,
	CategoryExports:    300 * time.Second,
}

// fallbackTTL applies to categories missing from the table
const fallbackTTL = 300 * time.Second

// Entry is one cached payload with its metadata
type Entry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	CachedAt   time.Time       `json:"cached_at"`
	TTLSeconds int             `json:"ttl_seconds"`
	Category   Category        `json:"category"`
}

// ValidAt reports whether the entry is still fresh at now
func (e *Entry) ValidAt(now time.Time) bool {
	return now.Before(e.CachedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Stats is a diagnostic snapshot of the cache
type Stats struct {
	Connected           bool           `json:"connected"`
	Backend             string         `json:"backend"`
	Hits                int64          `json:"hits"`
	Misses              int64          `json:"misses"`
	Writes              int64          `json:"writes"`
	Errors              int64          `json:"errors"`
	HitRate             float64        `json:"hit_rate"`
	TotalKeys           int            `json:"total_keys"`
	KeyCountsByCategory map[string]int `json:"key_counts_by_category"`
}

// Config holds cache configuration
type Config struct {
	Enabled        bool
	Backend        string // "redis", "badger" or "memory"
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	Namespace      string
	BadgerPath     string // empty runs badger in memory
	ConnectTimeout time.Duration
	TTLs           map[Category]time.Duration
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Backend:        "redis",
		RedisURL:       "localhost:6379",
		Namespace:      "habu:",
		BadgerPath:     "~/.habubridge/cache",
		ConnectTimeout: 5 * time.Second,
	}
}

// Cache fronts a Store with TTL bookkeeping, hit accounting and fail-soft
// error handling. A nil store means the cache is disconnected.
type Cache struct {
	store   Store
	backend string
	ttls    map[Category]time.Duration
	now     func() time.Time
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
	errors atomic.Int64
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the time source used for validity checks
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTLs overrides entries of the category TTL table
func WithTTLs(ttls map[Category]time.Duration) Option {
	return func(c *Cache) {
		for k, v := range ttls {
			if v > 0 {
				c.ttls[k] = v
			}
		}
	}
}

// New wraps store. Passing a nil store yields a disconnected cache.
func New(store Store, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		store:  store,
		ttls:   make(map[Category]time.Duration, len(DefaultTTLs)),
		now:    time.Now,
		logger: logger.Named("cache"),
	}
	for k, v := range DefaultTTLs {
		c.ttls[k] = v
	}
	if store != nil {
		c.backend = store.Name()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects to the configured backend once. When the connection fails
// the returned cache is disconnected until the process restarts.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) *Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]Option{WithTTLs(cfg.TTLs)}, opts...)

	if !cfg.Enabled {
		c := New(nil, logger, opts...)
		c.backend = "disabled"
		return c
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "redis", "":
		store, err = NewRedisStore(ctx, cfg)
	case "badger":
		store, err = NewBadgerStore(cfg.BadgerPath)
	case "memory":
		store = NewMemoryStore(time.Minute)
	default:
		err = fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	if err != nil {
		logger.Warn("cache unavailable, continuing without caching",
			zap.String("backend", cfg.Backend),
			zap.Error(err))
		c := New(nil, logger, opts...)
		c.backend = cfg.Backend
		return c
	}

	logger.Info("cache connected", zap.String("backend", store.Name()))
	return New(store, logger, opts...)
}

// Connected reports whether a backend is attached
func (c *Cache) Connected() bool {
	return c.store != nil
}

// TTL returns the lifetime for a category
func (c *Cache) TTL(category Category) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return fallbackTTL
}

// Get returns the entry for key if present and unexpired
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if c.store == nil {
		c.misses.Add(1)
		return nil, false
	}

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.fail("get", key, err)
		c.misses.Add(1)
		return nil, false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.fail("decode", key, err)
		c.misses.Add(1)
		return nil, false
	}
	if !entry.ValidAt(c.now()) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &entry, true
}

// Put stores payload under key. ttlOverride <= 0 uses the category TTL.
// It reports whether the entry was stored.
func (c *Cache) Put(ctx context.Context, key string, payload interface{}, category Category, ttlOverride time.Duration) bool {
	if c.store == nil {
		return false
	}

	raw, err := encodePayload(payload)
	if err != nil {
		c.fail("encode", key, err)
		return false
	}

	ttl := ttlOverride
	if ttl <= 0 {
		ttl = c.TTL(category)
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	entry := Entry{
		Key:        key,
		Payload:    raw,
		CachedAt:   c.now(),
		TTLSeconds: int(ttl / time.Second),
		Category:   category,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.fail("encode", key, err)
		return false
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.fail("set", key, err)
		return false
	}

	c.writes.Add(1)
	return true
}

// Invalidate removes every entry whose key starts with prefix
func (c *Cache) Invalidate(ctx context.Context, prefix string) int {
	if c.store == nil {
		return 0
	}

	n, err := c.store.DeletePrefix(ctx, prefix)
	if err != nil {
		c.fail("invalidate", prefix, err)
	}
	if n > 0 {
		c.logger.Debug("cache invalidated", zap.String("prefix", prefix), zap.Int("removed", n))
	}
	return n
}

// Stats returns a diagnostic snapshot
func (c *Cache) Stats(ctx context.Context) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()

	s := Stats{
		Connected:           c.store != nil,
		Backend:             c.backend,
		Hits:                hits,
		Misses:              misses,
		Writes:              c.writes.Load(),
		Errors:              c.errors.Load(),
		KeyCountsByCategory: make(map[string]int),
	}
	if hits+misses > 0 {
		s.HitRate = float64(hits) / float64(hits+misses)
	}
	if c.store == nil {
		return s
	}

	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		c.fail("keys", "", err)
		s.Errors = c.errors.Load()
		return s
	}

	s.TotalKeys = len(keys)
	for _, k := range keys {
		category := k
		if i := strings.IndexByte(k, ':'); i >= 0 {
			category = k[:i]
		}
		s.KeyCountsByCategory[category]++
	}
	return s
}

// CategoryTTLs returns the effective TTL table, sorted by category name
func (c *Cache) CategoryTTLs() []string {
	out := make([]string, 0, len(c.ttls))
	for k, v := range c.ttls {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}

// Close releases the backend
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) fail(op, key string, err error) {
	c.errors.Add(1)
	c.logger.Warn("cache operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
