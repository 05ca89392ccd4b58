package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/plan"
)

func sqliteStore(t *testing.T) *SQLDeadLetterStore {
	t.Helper()

	store, err := NewSQLDeadLetterStore(SQLConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "dlq.db"),
	})
	if err != nil {
		t.Fatalf("Error creating SQL dead letter store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntry(itemID, tenantID string, deadLetteredAt time.Time) DeadLetterEntry {
	return DeadLetterEntry{
		Item: WorkItem{
			ID:            itemID,
			TenantID:      tenantID,
			Tier:          plan.TierFree,
			Kind:          KindSend,
			Target:        "someone@example.test",
			RotationGroup: "warmup",
			AttemptCount:  3,
			CreatedAt:     deadLetteredAt.Add(-time.Hour),
		},
		Reason: ReasonRetryCeiling,
		Attempts: []AttemptRecord{
			{Timestamp: deadLetteredAt.Add(-30 * time.Minute), AccountID: "acct-1", Result: outcome.ResultTempFailed, Error: "connection timed out"},
			{Timestamp: deadLetteredAt.Add(-10 * time.Minute), AccountID: "acct-2", Result: outcome.ResultTempFailed, Error: "connection timed out"},
			{Timestamp: deadLetteredAt, AccountID: "acct-1", Result: outcome.ResultTempFailed, Error: "connection timed out"},
		},
		DeadLetteredAt: deadLetteredAt,
	}
}

func TestSQLStoreWriteAndGet(t *testing.T) {
	store := sqliteStore(t)
	ctx := context.Background()

	entry := sampleEntry("item-1", "tenant-a", time.Now().UTC().Truncate(time.Second))
	if err := store.Write(ctx, entry); err != nil {
		t.Fatalf("Error writing entry: %v", err)
	}

	got, err := store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Error getting entry: %v", err)
	}
	if got.Item.TenantID != "tenant-a" {
		t.Errorf("Expected tenant-a, got %s", got.Item.TenantID)
	}
	if got.Reason != ReasonRetryCeiling {
		t.Errorf("Expected reason %s, got %s", ReasonRetryCeiling, got.Reason)
	}
	if len(got.Attempts) != 3 {
		t.Errorf("Expected 3 attempt records, got %d", len(got.Attempts))
	}
	if got.Item.AttemptCount != 3 {
		t.Errorf("Expected attempt count 3, got %d", got.Item.AttemptCount)
	}
	if got.Item.RotationGroup != "warmup" {
		t.Errorf("Expected rotation group warmup, got %q", got.Item.RotationGroup)
	}
}

func TestSQLStoreGetMissing(t *testing.T) {
	store := sqliteStore(t)

	if _, err := store.Get(context.Background(), "no-such-item"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestSQLStoreListFilters(t *testing.T) {
	store := sqliteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	entries := []DeadLetterEntry{
		sampleEntry("item-1", "tenant-a", base.Add(-2*time.Hour)),
		sampleEntry("item-2", "tenant-a", base.Add(-time.Hour)),
		sampleEntry("item-3", "tenant-b", base),
	}
	for _, entry := range entries {
		if err := store.Write(ctx, entry); err != nil {
			t.Fatalf("Error writing %s: %v", entry.Item.ID, err)
		}
	}

	byTenant, err := store.List(ctx, DLQQuery{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("Error listing by tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("Expected 2 entries for tenant-a, got %d", len(byTenant))
	}
	// newest first
	if byTenant[0].Item.ID != "item-2" {
		t.Errorf("Expected item-2 first, got %s", byTenant[0].Item.ID)
	}

	recent, err := store.List(ctx, DLQQuery{Since: base.Add(-90 * time.Minute)})
	if err != nil {
		t.Fatalf("Error listing by time: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("Expected 2 recent entries, got %d", len(recent))
	}

	limited, err := store.List(ctx, DLQQuery{Limit: 1})
	if err != nil {
		t.Fatalf("Error listing with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 entry with limit, got %d", len(limited))
	}
}

func TestSQLStoreDelete(t *testing.T) {
	store := sqliteStore(t)
	ctx := context.Background()

	entry := sampleEntry("item-1", "tenant-a", time.Now().UTC())
	if err := store.Write(ctx, entry); err != nil {
		t.Fatalf("Error writing entry: %v", err)
	}

	if err := store.Delete(ctx, "item-1"); err != nil {
		t.Fatalf("Error deleting entry: %v", err)
	}
	if _, err := store.Get(ctx, "item-1"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "item-1"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound on double delete, got %v", err)
	}
}
