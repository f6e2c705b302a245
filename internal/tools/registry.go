package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/habubridge/habubridge/internal/cache"
	"go.uber.org/zap"
)

// Registry holds the available tools and runs them with read-through
// caching. Invoke never panics and never returns a bare error.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	cache  *cache.Cache
	logger *zap.Logger
}

// NewRegistry creates an empty registry. c may be nil to disable caching.
func NewRegistry(c *cache.Cache, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		cache:  c,
		logger: logger.Named("tools"),
	}
}

// Register adds a tool
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke runs a tool by name. Successful results of Cacheable tools are
// served from and written to the cache; a hit carries cached=true and
// cached_at. Results are normalized through JSON so that a miss and a later
// hit return identical payloads.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (res Result) {
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				zap.String("tool", name),
				zap.Any("panic", p))
			res = Result{
				"status":     StatusError,
				"error":      fmt.Sprintf("tool %s panicked: %v", name, p),
				"error_code": CodeInternal,
				"summary":    fmt.Sprintf("The %s tool failed unexpectedly", name),
				"cached":     false,
			}
		}
	}()

	t, ok := r.Get(name)
	if !ok {
		return Result{
			"status":     StatusError,
			"error":      fmt.Sprintf("unknown tool: %s", name),
			"error_code": CodeUnknownTool,
			"summary":    fmt.Sprintf("There is no tool named %q", name),
			"cached":     false,
		}
	}
	if args == nil {
		args = Args{}
	}

	var (
		key      string
		category cache.Category
	)
	if c, ok := t.(Cacheable); ok && r.cache != nil {
		key, category = c.CacheKey(args)
		if hit, ok := r.fromCache(ctx, key); ok {
			r.logger.Debug("tool served from cache",
				zap.String("tool", name),
				zap.String("key", key))
			return hit
		}
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		res = Failure(err)
	}
	if res == nil {
		res = Failure(fmt.Errorf("tool %s returned no result", name))
	}
	if _, ok := res["status"]; !ok {
		res["status"] = StatusSuccess
	}
	if _, ok := res["summary"]; !ok {
		res["summary"] = ""
	}

	data, res := normalize(res)

	if !res.IsError() && r.cache != nil {
		if key != "" {
			r.cache.Put(ctx, key, json.RawMessage(data), category, 0)
		}
		if inv, ok := t.(Invalidator); ok {
			for _, prefix := range inv.Invalidates() {
				r.cache.Invalidate(ctx, prefix)
			}
		}
	}

	r.logger.Debug("tool invoked",
		zap.String("tool", name),
		zap.String("status", res.Status()),
		zap.Duration("duration", time.Since(start)))

	res["cached"] = false
	return res
}

func (r *Registry) fromCache(ctx context.Context, key string) (Result, bool) {
	entry, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var res Result
	if err := json.Unmarshal(entry.Payload, &res); err != nil || res == nil {
		return nil, false
	}
	res["cached"] = true
	res["cached_at"] = entry.CachedAt.UTC().Format(time.RFC3339)
	return res, true
}

// normalize round-trips a result through JSON and returns the encoding with
// the decoded copy
func normalize(res Result) ([]byte, Result) {
	data, err := json.Marshal(res)
	if err != nil {
		res = Failure(fmt.Errorf("result could not be encoded: %w", err))
		data, _ = json.Marshal(res)
		return data, res
	}

	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		return data, res
	}
	return data, out
}
