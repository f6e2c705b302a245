package cache

import (
	"context"
	"time"
)

// Store is the raw key/value backend behind Cache. Implementations expire
// keys on their own; Cache still checks validity on every read.
type Store interface {
	// Name returns the backend identifier ("redis", "badger", "memory")
	Name() string

	// Get returns the stored bytes, or ok=false when absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value with a time-to-live
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix and returns the count
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Keys lists keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the backend
	Close() error
}
