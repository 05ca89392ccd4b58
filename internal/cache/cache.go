package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrMiss         = errors.New("key not found in cache")
	ErrNotConnected = errors.New("not connected to cache")
)

// Store is the shared cache used for validation verdicts and MX lookups.
// Values are opaque bytes; callers encode their own records.
type Store interface {
	// Get retrieves a value, returning ErrMiss when the key is absent or
	// expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL. A zero TTL means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores a value only if the key does not already exist, reporting
	// whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close() error
}

// Config selects and configures a cache backend.
type Config struct {
	// Backend is one of "memory", "redis", "memcached".
	Backend string `toml:"backend" json:"backend"`
	// Addr is the backend address (host:port). Ignored for memory.
	Addr string `toml:"addr" json:"addr"`
	// Password authenticates to Redis when set.
	Password string `toml:"password" json:"password"`
	// Database is the Redis database number.
	Database int `toml:"database" json:"database"`
}

// DefaultConfig returns an in-process memory cache configuration.
func DefaultConfig() Config {
	return Config{Backend: "memory"}
}

// New creates a connected cache store for the configured backend.
func New(config Config) (Store, error) {
	switch config.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(config)
	case "memcached":
		return NewMemcachedStore(config)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", config.Backend)
	}
}
