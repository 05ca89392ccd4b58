package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore is the Memcached cache backend.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore connects to Memcached and verifies the connection.
func NewMemcachedStore(config Config) (*MemcachedStore, error) {
	addr := config.Addr
	if addr == "" {
		addr = "localhost:11211"
	}

	client := memcache.New(addr)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("connecting to memcached cache: %w", err)
	}

	return &MemcachedStore{client: client}, nil
}

// ttlSeconds converts a duration to memcached's second-granularity TTL. TTLs
// under a second round up so short-lived entries still expire.
func ttlSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int32(ttl.Seconds())
	if secs == 0 {
		secs = 1
	}
	return secs
}

// Get retrieves a value, returning ErrMiss when the key is absent.
func (s *MemcachedStore) Get(_ context.Context, key string) ([]byte, error) {
	item, err := s.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores a value with a TTL.
func (s *MemcachedStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: ttlSeconds(ttl),
	})
}

// SetNX stores a value only if the key does not exist.
func (s *MemcachedStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := s.client.Add(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: ttlSeconds(ttl),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key. A miss is not an error.
func (s *MemcachedStore) Delete(_ context.Context, key string) error {
	err := s.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Close is a no-op; gomemcache manages its own connection pool.
func (s *MemcachedStore) Close() error {
	return nil
}
