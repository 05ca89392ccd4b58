package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is one window counter with its expiry.
type bucket struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process BucketStore. Counters expire lazily and a
// janitor sweeps stale buckets so long-running processes do not grow without
// bound.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	janitor  *time.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryStore creates a memory bucket store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		buckets: make(map[string]*bucket),
		janitor: time.NewTicker(time.Minute),
		stopCh:  make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-m.janitor.C:
				m.deleteExpired()
			case <-m.stopCh:
				m.janitor.Stop()
				return
			}
		}
	}()

	return m
}

// Incr increments the counter for a key, creating it with the given TTL on
// first use, and returns the new count.
func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &bucket{expiresAt: now.Add(ttl)}
		m.buckets[key] = b
	}

	b.count++
	return b.count, nil
}

// Close stops the janitor.
func (m *MemoryStore) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *MemoryStore) deleteExpired() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.buckets {
		if now.After(b.expiresAt) {
			delete(m.buckets, key)
		}
	}
}
