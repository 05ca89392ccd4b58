package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process cache backend. It is safe for concurrent use
// and runs a background janitor that evicts expired items.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewMemoryStore creates a memory-backed cache store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryItem),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.items {
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			delete(s.items, key)
		}
	}
}

// Get retrieves a value, returning ErrMiss when absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, found := s.items[key]
	if !found {
		return nil, ErrMiss
	}
	if !item.expiresAt.IsZero() && s.now().After(item.expiresAt) {
		return nil, ErrMiss
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

// Set stores a value with a TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = s.makeItem(value, ttl)
	return nil
}

// SetNX stores a value only if the key is absent or expired.
func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, found := s.items[key]; found {
		if item.expiresAt.IsZero() || s.now().Before(item.expiresAt) {
			return false, nil
		}
	}

	s.items[key] = s.makeItem(value, ttl)
	return true, nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Close stops the janitor and clears the store.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]memoryItem)
	return nil
}

func (s *MemoryStore) makeItem(value []byte, ttl time.Duration) memoryItem {
	owned := make([]byte, len(value))
	copy(owned, value)

	item := memoryItem{value: owned}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	return item
}
