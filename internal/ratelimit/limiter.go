// Package ratelimit enforces per-tenant, per-plan throughput caps with a
// fixed-window discipline. Admission check and counter increment are a single
// atomic step in the bucket store, so concurrent workers can never admit more
// than the window capacity.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendrotor/sendrotor/internal/plan"
)

// Resource is the kind of pipeline work being admitted.
type Resource string

const (
	// ResourceSend covers send attempts.
	ResourceSend Resource = "send"
	// ResourceProbe covers validation probes.
	ResourceProbe Resource = "probe"
)

// Valid reports whether the resource kind is known.
func (r Resource) Valid() bool {
	return r == ResourceSend || r == ResourceProbe
}

// Decision is the outcome of an admission attempt. When Admitted is false,
// RetryAfter carries the concrete wait until the current window closes so the
// caller can schedule a re-evaluation instead of busy-polling.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
	Remaining  int
}

// BucketStore atomically increments a window-scoped counter and returns the
// new count. Implementations exist for in-process memory and for Redis.
type BucketStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter gates sends and probes per (tenant, resource) using the capacities
// defined by the tenant's plan.
type Limiter struct {
	plans  *plan.Registry
	store  BucketStore
	logger *slog.Logger

	// now is swappable in tests
	now func() time.Time
}

// NewLimiter creates a plan-aware rate limiter over the given bucket store.
func NewLimiter(plans *plan.Registry, store BucketStore) *Limiter {
	return &Limiter{
		plans:  plans,
		store:  store,
		logger: slog.Default().With("component", "rate-limiter"),
		now:    time.Now,
	}
}

// TryAdmit admits one unit of work or defers it with a retry hint. The
// counter increments even on a deferred decision; the window boundary resets
// it, so over-counting a full window only shortens it, never widens it.
func (l *Limiter) TryAdmit(ctx context.Context, tenantID string, tier plan.Tier, res Resource) (Decision, error) {
	if !res.Valid() {
		return Decision{}, fmt.Errorf("unknown resource kind %q", res)
	}

	limits, err := l.plans.Lookup(tier)
	if err != nil {
		return Decision{}, err
	}

	capacity, window := limits.SendCapacity, limits.SendWindow
	if res == ResourceProbe {
		capacity, window = limits.ProbeCapacity, limits.ProbeWindow
	}

	now := l.now()
	windowStart := now.Truncate(window)
	windowEnd := windowStart.Add(window)
	key := fmt.Sprintf("rl:%s:%s:%d", tenantID, res, windowStart.Unix())

	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit bucket update: %w", err)
	}

	if count > int64(capacity) {
		retryAfter := windowEnd.Sub(now)
		l.logger.Debug("admission deferred",
			"tenant_id", tenantID,
			"resource", res,
			"window_count", count,
			"capacity", capacity,
			"retry_after", retryAfter)
		return Decision{Admitted: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Admitted: true, Remaining: capacity - int(count)}, nil
}
