package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/sendrotor/sendrotor/internal/queue"
)

// Event announces that a work item reached a terminal state. Events carry
// only identifiers and counts; server addresses, session transcripts and
// credentials never appear in them.
type Event struct {
	WorkItemID   string       `json:"work_item_id"`
	TenantID     string       `json:"tenant_id"`
	FinalStatus  queue.Status `json:"final_status"`
	AttemptCount int          `json:"attempt_count"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Notifier receives terminal events. Implementations must not block the
// pipeline for long; slow sinks should buffer internally.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event)

func (f NotifierFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }

// LogNotifier writes terminal events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the default logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	n.logger.Info("Work item finished",
		"event_type", "work_item_finished",
		"work_item_id", event.WorkItemID,
		"tenant_id", event.TenantID,
		"final_status", event.FinalStatus,
		"attempt_count", event.AttemptCount)
}

// multiNotifier fans events out to several sinks.
type multiNotifier []Notifier

// MultiNotifier combines notifiers; nil entries are skipped.
func MultiNotifier(notifiers ...Notifier) Notifier {
	var active multiNotifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return active
}

func (m multiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
