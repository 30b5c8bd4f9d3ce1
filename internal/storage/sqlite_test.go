package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/subscout/subscout/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

// Helper function to create a test email record.
func testEmailRecord(num int, receivedAt time.Time) *model.EmailRecord {
	return &model.EmailRecord{
		ID:         fmt.Sprintf("email-%03d", num),
		AccountID:  "acc-1",
		ExternalID: fmt.Sprintf("msg-%03d", num),
		Sender:     "billing@example.com",
		Subject:    fmt.Sprintf("Receipt #%d", num),
		Body:       "Thank you for your payment.",
		ReceivedAt: receivedAt,
		Status:     model.RecordPending,
		Priority:   model.PriorityNormal,
	}
}

// Helper function to create a test subscription.
func testSubscription(id, serviceName string) *model.Subscription {
	renewal := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{
		ID:            id,
		UserID:        "user-1",
		AccountID:     "acc-1",
		ServiceName:   serviceName,
		Price:         15.99,
		Currency:      "USD",
		BillingCycle:  model.CycleMonthly,
		NextRenewalAt: &renewal,
		Category:      "Entertainment",
		Status:        model.SubscriptionActive,
		Confidence:    0.9,
	}
}

func TestMigrate_SchemaVersion(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	var version int
	if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", ExpectedSchemaVersion, version)
	}

	// Running again should be a no-op
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("Second migrate failed: %v", err)
	}
}

func TestTransaction_CommitPersists(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	sub := testSubscription("sub-tx-1", "Netflix")
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("Failed to create subscription in tx: %v", err)
	}
	if err := tx.SaveHistoryEntry(ctx, &model.HistoryEntry{
		ID:             "hist-tx-1",
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeCreated,
		NewValue:       sub.ServiceName,
	}); err != nil {
		t.Fatalf("Failed to save history in tx: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	got, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Failed to get subscription after commit: %v", err)
	}
	if got.ServiceName != "Netflix" {
		t.Errorf("Expected service name Netflix, got %s", got.ServiceName)
	}

	history, err := store.GetHistory(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(history))
	}
}

func TestTransaction_RollbackDiscards(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	if err := tx.CreateSubscription(ctx, testSubscription("sub-rb-1", "Spotify")); err != nil {
		t.Fatalf("Failed to create subscription in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	if _, err := store.GetSubscription(ctx, "sub-rb-1"); err == nil {
		t.Error("Expected subscription to be gone after rollback")
	}
}

func TestTransaction_GuardRails(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.Migrate(ctx); err == nil {
		t.Error("Expected error migrating inside a transaction")
	}
	if _, err := tx.BeginTx(ctx); err == nil {
		t.Error("Expected error nesting transactions")
	}
	if err := tx.Close(); err == nil {
		t.Error("Expected error closing a transaction")
	}
}
