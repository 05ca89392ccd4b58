package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/plan"
)

// Resolution describes what the engine did with a reported outcome.
type Resolution string

const (
	// ResolutionCompleted means the item reached terminal success.
	ResolutionCompleted Resolution = "completed"
	// ResolutionRetried means the item went back to pending with a backoff.
	ResolutionRetried Resolution = "retried"
	// ResolutionDeferred means a shared resource was unavailable; the item is
	// pending again and its attempt count is unchanged.
	ResolutionDeferred Resolution = "deferred"
	// ResolutionDeadLettered means the item reached terminal failure.
	ResolutionDeadLettered Resolution = "dead_lettered"
	// ResolutionAlreadyTerminal means the report was a replay for an item
	// that already finished; nothing changed.
	ResolutionAlreadyTerminal Resolution = "already_terminal"
)

// EngineConfig holds tunables for the retry engine.
type EngineConfig struct {
	// FairnessQuota makes every Nth dequeue service the lowest-priority tier
	// with eligible items, so high-tier load cannot starve low tiers. Zero
	// disables the quota.
	FairnessQuota int `toml:"fairness_quota" json:"fairness_quota"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{FairnessQuota: 5}
}

// itemState is the engine's mutable record for one work item.
type itemState struct {
	item       WorkItem
	status     Status
	attempts   []AttemptRecord
	finishedAt time.Time
}

// Engine owns the lifecycle of queued work items: pending → in-flight →
// completed, retried with backoff, or dead-lettered. All shared state is
// guarded by one mutex; callers on many goroutines are safe.
type Engine struct {
	plans  *plan.Registry
	dlq    DeadLetterStore
	config EngineConfig
	logger *slog.Logger

	mu           sync.Mutex
	active       map[string]*itemState // pending and in-flight items
	terminal     map[string]*itemState // completed items, kept for idempotent replay
	paused       map[string]bool       // tenant id -> paused
	dequeues     uint64
	deadLettered int64
	rng          *rand.Rand

	// now is swappable in tests
	now func() time.Time
}

// NewEngine creates a retry engine backed by the given dead-letter store.
func NewEngine(plans *plan.Registry, dlq DeadLetterStore, config EngineConfig) *Engine {
	return &Engine{
		plans:    plans,
		dlq:      dlq,
		config:   config,
		logger:   slog.Default().With("component", "retry-engine"),
		active:   make(map[string]*itemState),
		terminal: make(map[string]*itemState),
		paused:   make(map[string]bool),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Enqueue accepts a fully formed work item. Structurally invalid items are
// rejected with ErrInvalidWorkItem and an unknown plan tier fails fast as a
// configuration error; neither enters the queue. Re-enqueueing a known item
// id is a no-op so producers can redeliver safely.
func (e *Engine) Enqueue(item WorkItem) (WorkItem, error) {
	if err := item.Validate(); err != nil {
		return WorkItem{}, err
	}
	if _, err := e.plans.Lookup(item.Tier); err != nil {
		return WorkItem{}, &outcome.ConfigurationError{Reason: err.Error()}
	}

	now := e.now()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Priority = item.Tier.QueuePriority()
	item.AttemptCount = 0
	item.CreatedAt = now
	if item.NextEligible.IsZero() {
		item.NextEligible = now
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.active[item.ID]; ok {
		return existing.item, nil
	}
	if existing, ok := e.terminal[item.ID]; ok {
		return existing.item, nil
	}

	e.active[item.ID] = &itemState{item: item, status: StatusPending}

	e.logger.Info("item_enqueued",
		"event_type", "item_enqueued",
		"item_id", item.ID,
		"tenant_id", item.TenantID,
		"kind", item.Kind,
		"tier", item.Tier,
		"priority", item.Priority)

	return item, nil
}

// Dequeue returns the next eligible work item and marks it in-flight. Items
// are ordered by priority, then by eligibility time; every FairnessQuota-th
// dequeue services the lowest eligible tier instead. Returns false when
// nothing is eligible.
func (e *Engine) Dequeue() (WorkItem, bool) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	eligible := make([]*itemState, 0, len(e.active))
	for _, st := range e.active {
		if st.status != StatusPending {
			continue
		}
		if e.paused[st.item.TenantID] {
			continue
		}
		if st.item.NextEligible.After(now) {
			continue
		}
		eligible = append(eligible, st)
	}
	if len(eligible) == 0 {
		return WorkItem{}, false
	}

	e.dequeues++
	if e.config.FairnessQuota > 0 && e.dequeues%uint64(e.config.FairnessQuota) == 0 {
		lowest := eligible[0].item.Priority
		for _, st := range eligible {
			if st.item.Priority < lowest {
				lowest = st.item.Priority
			}
		}
		kept := eligible[:0]
		for _, st := range eligible {
			if st.item.Priority == lowest {
				kept = append(kept, st)
			}
		}
		eligible = kept
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].item.Priority != eligible[j].item.Priority {
			return eligible[i].item.Priority > eligible[j].item.Priority
		}
		return eligible[i].item.NextEligible.Before(eligible[j].item.NextEligible)
	})

	chosen := eligible[0]
	chosen.status = StatusInFlight
	return chosen.item, true
}

// Resolve reports the outcome of executing a work item and returns how the
// engine disposed of it. A nil execErr completes the item; a ResourceExhausted
// error defers it without consuming an attempt; a retryable error schedules a
// backoff retry until the plan's ceiling is reached; at the ceiling, or
// immediately on a permanent rejection, the item dead-letters with its full
// attempt history.
// Replayed reports for already-terminal items change nothing.
func (e *Engine) Resolve(ctx context.Context, itemID string, rec AttemptRecord, execErr error) (Resolution, error) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, done := e.terminal[itemID]; done {
		return ResolutionAlreadyTerminal, nil
	}

	st, ok := e.active[itemID]
	if !ok {
		return "", fmt.Errorf("resolve item %s: %w", itemID, ErrItemNotFound)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	// Success: append the record and finish.
	if execErr == nil {
		st.attempts = append(st.attempts, rec)
		st.status = StatusCompleted
		st.finishedAt = now
		delete(e.active, itemID)
		e.terminal[itemID] = st

		e.logger.Info("item_completed",
			"event_type", "item_completed",
			"item_id", itemID,
			"tenant_id", st.item.TenantID,
			"attempt_count", st.item.AttemptCount+1)

		st.item.AttemptCount++
		return ResolutionCompleted, nil
	}

	// Deferral: not a failure of the item. No attempt is consumed.
	if retryAfter, deferred := outcome.IsDeferral(execErr); deferred {
		st.status = StatusPending
		st.item.NextEligible = now.Add(retryAfter)

		e.logger.Debug("item deferred",
			"item_id", itemID,
			"retry_after", retryAfter)

		return ResolutionDeferred, nil
	}

	st.attempts = append(st.attempts, rec)
	st.item.AttemptCount++

	limits, err := e.plans.Lookup(st.item.Tier)
	if err != nil {
		return "", fmt.Errorf("resolve item %s: %w", itemID, err)
	}

	if !outcome.IsRetryable(execErr) {
		return e.deadLetterLocked(ctx, st, ReasonPermanentRejection, now)
	}
	if st.item.AttemptCount >= limits.RetryCeiling {
		return e.deadLetterLocked(ctx, st, ReasonRetryCeiling, now)
	}

	delay := backoffDelay(limits, st.item.AttemptCount, e.rng)
	st.status = StatusPending
	st.item.NextEligible = now.Add(delay)

	e.logger.Info("item_retry_scheduled",
		"event_type", "item_retry_scheduled",
		"item_id", itemID,
		"tenant_id", st.item.TenantID,
		"attempt_count", st.item.AttemptCount,
		"next_eligible", st.item.NextEligible,
		"delay", delay)

	return ResolutionRetried, nil
}

// deadLetterLocked moves an item to the dead-letter store. Caller holds e.mu.
func (e *Engine) deadLetterLocked(ctx context.Context, st *itemState, reason DeadLetterReason, now time.Time) (Resolution, error) {
	entry := DeadLetterEntry{
		Item:           st.item,
		Attempts:       append([]AttemptRecord(nil), st.attempts...),
		Reason:         reason,
		DeadLetteredAt: now,
	}

	if err := e.dlq.Write(ctx, entry); err != nil {
		return "", fmt.Errorf("writing dead letter entry for item %s: %w", st.item.ID, err)
	}

	st.status = StatusDeadLettered
	st.finishedAt = now
	delete(e.active, st.item.ID)
	e.terminal[st.item.ID] = st
	e.deadLettered++

	e.logger.Warn("item_dead_lettered",
		"event_type", "item_dead_lettered",
		"item_id", st.item.ID,
		"tenant_id", st.item.TenantID,
		"reason", reason,
		"attempt_count", st.item.AttemptCount)

	return ResolutionDeadLettered, nil
}

// Requeue returns a dead-lettered item to pending with a fresh attempt
// budget. This is a manual operator recovery path, never invoked by the
// pipeline itself.
func (e *Engine) Requeue(ctx context.Context, workItemID string) (WorkItem, error) {
	entry, err := e.dlq.Get(ctx, workItemID)
	if err != nil {
		return WorkItem{}, err
	}

	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.active[workItemID]; exists {
		return WorkItem{}, fmt.Errorf("item %s is already active", workItemID)
	}

	if err := e.dlq.Delete(ctx, workItemID); err != nil {
		return WorkItem{}, err
	}
	delete(e.terminal, workItemID)

	item := entry.Item
	item.AttemptCount = 0
	item.NextEligible = now
	e.active[workItemID] = &itemState{item: item, status: StatusPending}

	e.logger.Info("item_requeued",
		"event_type", "item_requeued",
		"item_id", workItemID,
		"tenant_id", item.TenantID)

	return item, nil
}

// Pause stops new dequeues for a tenant's items immediately. In-flight
// operations finish naturally.
func (e *Engine) Pause(tenantID string) {
	e.mu.Lock()
	e.paused[tenantID] = true
	e.mu.Unlock()

	e.logger.Info("tenant paused", "tenant_id", tenantID)
}

// Resume lifts a tenant pause.
func (e *Engine) Resume(tenantID string) {
	e.mu.Lock()
	delete(e.paused, tenantID)
	e.mu.Unlock()

	e.logger.Info("tenant resumed", "tenant_id", tenantID)
}

// Paused reports whether a tenant is paused.
func (e *Engine) Paused(tenantID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused[tenantID]
}

// Get returns a work item, its status, and its attempt history.
func (e *Engine) Get(itemID string) (WorkItem, Status, []AttemptRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.active[itemID]
	if !ok {
		st, ok = e.terminal[itemID]
	}
	if !ok {
		return WorkItem{}, "", nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
	}

	return st.item, st.status, append([]AttemptRecord(nil), st.attempts...), nil
}

// DeadLetters lists dead-letter entries matching the query.
func (e *Engine) DeadLetters(ctx context.Context, query DLQQuery) ([]DeadLetterEntry, error) {
	return e.dlq.List(ctx, query)
}

// DeadLetter returns one dead-letter entry by work item id.
func (e *Engine) DeadLetter(ctx context.Context, workItemID string) (DeadLetterEntry, error) {
	return e.dlq.Get(ctx, workItemID)
}

// Stats summarizes the engine's queues.
type Stats struct {
	PendingCount      int   `json:"pending_count"`
	InFlightCount     int   `json:"in_flight_count"`
	CompletedCount    int   `json:"completed_count"`
	DeadLetteredCount int64 `json:"dead_lettered_count"`
}

// GetStats returns current queue counts.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{DeadLetteredCount: e.deadLettered}
	for _, st := range e.active {
		switch st.status {
		case StatusPending:
			stats.PendingCount++
		case StatusInFlight:
			stats.InFlightCount++
		}
	}
	for _, st := range e.terminal {
		if st.status == StatusCompleted {
			stats.CompletedCount++
		}
	}
	return stats
}

// PruneTerminal drops terminal item records finished before the cutoff and
// returns how many were removed. Retention policy is a collaborator concern;
// this only reclaims the idempotency cache.
func (e *Engine) PruneTerminal(before time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, st := range e.terminal {
		if st.finishedAt.Before(before) {
			delete(e.terminal, id)
			removed++
		}
	}
	return removed
}
