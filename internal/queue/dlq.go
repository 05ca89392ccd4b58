package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DLQQuery filters dead-letter listings by tenant and time range.
type DLQQuery struct {
	TenantID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// DeadLetterStore persists terminal work items for operator inspection.
// Entries are write-once; Delete exists only to support manual requeue.
type DeadLetterStore interface {
	Write(ctx context.Context, entry DeadLetterEntry) error
	Get(ctx context.Context, workItemID string) (DeadLetterEntry, error)
	List(ctx context.Context, query DLQQuery) ([]DeadLetterEntry, error)
	Delete(ctx context.Context, workItemID string) error
}

// MemoryDeadLetterStore is the in-process DeadLetterStore used by default and
// in tests.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	entries map[string]DeadLetterEntry
}

// NewMemoryDeadLetterStore creates an empty in-memory store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{entries: make(map[string]DeadLetterEntry)}
}

// Write stores an entry. Writing an existing item id is an error: dead-letter
// entries are write-once.
func (s *MemoryDeadLetterStore) Write(_ context.Context, entry DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Item.ID]; exists {
		return fmt.Errorf("dead letter entry for item %s already exists", entry.Item.ID)
	}

	s.entries[entry.Item.ID] = entry
	return nil
}

// Get retrieves one entry by work item id.
func (s *MemoryDeadLetterStore) Get(_ context.Context, workItemID string) (DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[workItemID]
	if !ok {
		return DeadLetterEntry{}, fmt.Errorf("dead letter entry for item %s: %w", workItemID, ErrItemNotFound)
	}
	return entry, nil
}

// List returns entries matching the query, newest first.
func (s *MemoryDeadLetterStore) List(_ context.Context, query DLQQuery) ([]DeadLetterEntry, error) {
	s.mu.RLock()
	matched := make([]DeadLetterEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if query.TenantID != "" && entry.Item.TenantID != query.TenantID {
			continue
		}
		if !query.Since.IsZero() && entry.DeadLetteredAt.Before(query.Since) {
			continue
		}
		if !query.Until.IsZero() && entry.DeadLetteredAt.After(query.Until) {
			continue
		}
		matched = append(matched, entry)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DeadLetteredAt.After(matched[j].DeadLetteredAt)
	})

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// Delete removes an entry, used by manual requeue.
func (s *MemoryDeadLetterStore) Delete(_ context.Context, workItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[workItemID]; !ok {
		return fmt.Errorf("dead letter entry for item %s: %w", workItemID, ErrItemNotFound)
	}
	delete(s.entries, workItemID)
	return nil
}
