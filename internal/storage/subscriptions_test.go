package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

func TestCreateSubscription_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := testSubscription("sub-1", "Netflix")
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}

	got, err := store.GetSubscription(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if got.ServiceName != "Netflix" {
		t.Errorf("Expected service name Netflix, got %s", got.ServiceName)
	}
	if got.Price != 15.99 {
		t.Errorf("Expected price 15.99, got %v", got.Price)
	}
	if got.BillingCycle != model.CycleMonthly {
		t.Errorf("Expected monthly cycle, got %s", got.BillingCycle)
	}
	if got.NextRenewalAt == nil || !got.NextRenewalAt.Equal(*sub.NextRenewalAt) {
		t.Errorf("Expected renewal %v, got %v", sub.NextRenewalAt, got.NextRenewalAt)
	}
	if got.Status != model.SubscriptionActive {
		t.Errorf("Expected status ACTIVE, got %s", got.Status)
	}
	if got.CancelledAt != nil {
		t.Errorf("Expected no cancellation time, got %v", got.CancelledAt)
	}
}

func TestFindSubscriptionByService(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.CreateSubscription(ctx, testSubscription("sub-1", "Netflix")); err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}

	tests := []struct {
		name        string
		serviceName string
		wantID      string
		wantErr     bool
	}{
		{name: "exact match", serviceName: "Netflix", wantID: "sub-1"},
		{name: "case insensitive", serviceName: "NETFLIX", wantID: "sub-1"},
		{name: "lowercase", serviceName: "netflix", wantID: "sub-1"},
		{name: "no match", serviceName: "Hulu", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindSubscriptionByService(ctx, "acc-1", tt.serviceName)
			if tt.wantErr {
				if !errors.Is(err, common.ErrNotFound) {
					t.Errorf("Expected ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("Expected %s, got %s", tt.wantID, got.ID)
			}
		})
	}
}

func TestFindSubscriptionByService_ExcludesArchived(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	archived := testSubscription("sub-old", "Netflix")
	archived.Status = model.SubscriptionArchived
	if err := store.CreateSubscription(ctx, archived); err != nil {
		t.Fatalf("Failed to create archived subscription: %v", err)
	}

	// Archived records never match, so a fresh signup starts over.
	if _, err := store.FindSubscriptionByService(ctx, "acc-1", "Netflix"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for archived-only service, got %v", err)
	}

	// Other accounts never match either.
	if err := store.CreateSubscription(ctx, testSubscription("sub-new", "Netflix")); err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}
	if _, err := store.FindSubscriptionByService(ctx, "acc-2", "Netflix"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for other account, got %v", err)
	}
}

func TestUpdateSubscription(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := testSubscription("sub-1", "Spotify")
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}

	sub.Price = 19.99
	sub.RequiresReview = true
	cancelled := time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC)
	sub.Status = model.SubscriptionCancelled
	sub.CancelledAt = &cancelled
	if err := store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("Failed to update subscription: %v", err)
	}

	got, err := store.GetSubscription(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if got.Price != 19.99 {
		t.Errorf("Expected price 19.99, got %v", got.Price)
	}
	if !got.RequiresReview {
		t.Error("Expected requires review to be set")
	}
	if got.Status != model.SubscriptionCancelled {
		t.Errorf("Expected status CANCELLED, got %s", got.Status)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(cancelled) {
		t.Errorf("Expected cancelled at %v, got %v", cancelled, got.CancelledAt)
	}

	missing := testSubscription("sub-missing", "Hulu")
	if err := store.UpdateSubscription(ctx, missing); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing subscription, got %v", err)
	}
}

func TestGetSubscriptions_Filter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	active := testSubscription("sub-1", "Netflix")
	cancelled := testSubscription("sub-2", "Hulu")
	cancelled.Status = model.SubscriptionCancelled
	other := testSubscription("sub-3", "Spotify")
	other.AccountID = "acc-2"
	for _, sub := range []*model.Subscription{active, cancelled, other} {
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("Failed to create subscription %s: %v", sub.ID, err)
		}
	}

	all, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{})
	if err != nil {
		t.Fatalf("Failed to get subscriptions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 subscriptions, got %d", len(all))
	}

	byAccount, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{AccountID: "acc-1"})
	if err != nil {
		t.Fatalf("Failed to filter by account: %v", err)
	}
	if len(byAccount) != 2 {
		t.Errorf("Expected 2 subscriptions for acc-1, got %d", len(byAccount))
	}

	byStatus, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{Status: model.SubscriptionCancelled})
	if err != nil {
		t.Fatalf("Failed to filter by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "sub-2" {
		t.Errorf("Expected only sub-2 cancelled, got %+v", byStatus)
	}
}

func TestGetSubscriptionsDueWithin(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	makeSub := func(id string, renewal time.Time, status model.SubscriptionStatus) {
		t.Helper()
		sub := testSubscription(id, "Service "+id)
		sub.NextRenewalAt = &renewal
		sub.Status = status
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("Failed to create subscription %s: %v", id, err)
		}
	}

	makeSub("due-3d", now.AddDate(0, 0, 3), model.SubscriptionActive)
	makeSub("due-6d", now.AddDate(0, 0, 6), model.SubscriptionTrialActive)
	makeSub("due-10d", now.AddDate(0, 0, 10), model.SubscriptionActive)
	makeSub("past", now.AddDate(0, 0, -1), model.SubscriptionActive)
	makeSub("cancelled", now.AddDate(0, 0, 2), model.SubscriptionCancelled)

	due, err := store.GetSubscriptionsDueWithin(ctx, now, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to get due subscriptions: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("Expected 2 due subscriptions, got %d", len(due))
	}
	if due[0].ID != "due-3d" || due[1].ID != "due-6d" {
		t.Errorf("Expected due-3d then due-6d, got %s, %s", due[0].ID, due[1].ID)
	}
}

func TestGetOverdueSubscriptions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	overdue := testSubscription("sub-overdue", "Netflix")
	past := now.AddDate(0, 0, -10)
	overdue.NextRenewalAt = &past
	if err := store.CreateSubscription(ctx, overdue); err != nil {
		t.Fatalf("Failed to create overdue subscription: %v", err)
	}

	future := testSubscription("sub-future", "Spotify")
	upcoming := now.AddDate(0, 0, 5)
	future.NextRenewalAt = &upcoming
	if err := store.CreateSubscription(ctx, future); err != nil {
		t.Fatalf("Failed to create future subscription: %v", err)
	}

	noDate := testSubscription("sub-nodate", "Hulu")
	noDate.NextRenewalAt = nil
	if err := store.CreateSubscription(ctx, noDate); err != nil {
		t.Fatalf("Failed to create dateless subscription: %v", err)
	}

	got, err := store.GetOverdueSubscriptions(ctx, now)
	if err != nil {
		t.Fatalf("Failed to get overdue subscriptions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sub-overdue" {
		t.Errorf("Expected only sub-overdue, got %+v", got)
	}
}

func TestHistory_AppendAndRead(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := testSubscription("sub-1", "Netflix")
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}

	base := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.HistoryEntry{
		{ID: "h-1", SubscriptionID: "sub-1", ChangeType: model.ChangeCreated, NewValue: "Netflix", CreatedAt: base},
		{ID: "h-2", SubscriptionID: "sub-1", ChangeType: model.ChangePrice, OldValue: "15.99", NewValue: "17.99", EmailRecordID: "email-1", CreatedAt: base.Add(time.Hour)},
		{ID: "h-3", SubscriptionID: "sub-1", ChangeType: model.ChangeRenewalAdvanced, OldValue: "2025-09-15", NewValue: "2025-10-15", CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range entries {
		if err := store.SaveHistoryEntry(ctx, &entries[i]); err != nil {
			t.Fatalf("Failed to save history entry %s: %v", entries[i].ID, err)
		}
	}

	got, err := store.GetHistory(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(got))
	}
	if got[0].ChangeType != model.ChangeCreated {
		t.Errorf("Expected first entry CREATED, got %s", got[0].ChangeType)
	}
	if got[1].EmailRecordID != "email-1" {
		t.Errorf("Expected price change linked to email-1, got %q", got[1].EmailRecordID)
	}
	if got[2].ChangeType != model.ChangeRenewalAdvanced {
		t.Errorf("Expected last entry RENEWAL_ADVANCED, got %s", got[2].ChangeType)
	}
}
