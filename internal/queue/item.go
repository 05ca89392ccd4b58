package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/plan"
)

// Kind is the closed set of work item kinds.
type Kind string

const (
	// KindSend is a cold-email send attempt.
	KindSend Kind = "send"
	// KindProbe is a deliverability validation probe.
	KindProbe Kind = "probe"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k == KindSend || k == KindProbe
}

// Status is the closed set of work item lifecycle states.
type Status string

const (
	// StatusPending means the item is waiting for its eligibility time.
	StatusPending Status = "pending"
	// StatusInFlight means a worker is executing the item.
	StatusInFlight Status = "in_flight"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusDeadLettered is terminal failure.
	StatusDeadLettered Status = "dead_lettered"
)

// ErrInvalidWorkItem is returned when an enqueued item is missing its tenant,
// kind, or target address. Invalid items never enter the queue.
var ErrInvalidWorkItem = errors.New("invalid work item")

// ErrItemNotFound is returned for lookups of unknown item ids.
var ErrItemNotFound = errors.New("work item not found")

// WorkItem is one unit of pipeline work. Identity fields are immutable;
// AttemptCount and NextEligible are the only fields the retry engine mutates.
type WorkItem struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Tier         plan.Tier `json:"tier"`
	Kind         Kind      `json:"kind"`
	Target       string    `json:"target"`
	Payload      []byte    `json:"payload,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	NextEligible time.Time `json:"next_eligible"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`

	// RotationGroup, when set, restricts delivery to sender accounts
	// registered under the same group.
	RotationGroup string `json:"rotation_group,omitempty"`
}

// Validate rejects structurally incomplete items before they enter the queue.
func (w WorkItem) Validate() error {
	if w.TenantID == "" {
		return fmt.Errorf("%w: missing tenant id", ErrInvalidWorkItem)
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWorkItem, w.Kind)
	}
	if w.Target == "" {
		return fmt.Errorf("%w: missing target address", ErrInvalidWorkItem)
	}
	if !w.Tier.Valid() {
		return &outcome.ConfigurationError{Reason: fmt.Sprintf("work item %s: unknown plan tier %q", w.ID, w.Tier)}
	}
	return nil
}

// AttemptRecord is one outcome of executing a work item. Records are
// append-only and never edited.
type AttemptRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	AccountID string         `json:"account_id,omitempty"`
	Result    outcome.Result `json:"result"`
	Error     string         `json:"error,omitempty"`
	Latency   time.Duration  `json:"latency"`
}

// DeadLetterReason is the closed set of reasons an item dead-letters.
type DeadLetterReason string

const (
	// ReasonRetryCeiling means the item exhausted its plan's retry budget.
	ReasonRetryCeiling DeadLetterReason = "retry_ceiling_exceeded"
	// ReasonPermanentRejection means the remote server rejected permanently
	// or the address was malformed.
	ReasonPermanentRejection DeadLetterReason = "permanent_rejection"
)

// DeadLetterEntry is the terminal record of a failed work item: the item, its
// full attempt history, and the reason it dead-lettered. Write-once.
type DeadLetterEntry struct {
	Item           WorkItem         `json:"item"`
	Attempts       []AttemptRecord  `json:"attempts"`
	Reason         DeadLetterReason `json:"reason"`
	DeadLetteredAt time.Time        `json:"dead_lettered_at"`
}
