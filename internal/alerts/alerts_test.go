package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/storage"
)

func newTestScanner(t *testing.T) (*Scanner, *storage.SQLiteStorage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	scanner, err := New(store, nil)
	if err != nil {
		_ = store.Close()
		t.Fatalf("Failed to create scanner: %v", err)
	}
	return scanner, store, func() { _ = store.Close() }
}

func seedSubscription(t *testing.T, store *storage.SQLiteStorage, id string, status model.SubscriptionStatus, renewal *time.Time) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		ID:            id,
		UserID:        "user-1",
		AccountID:     "acc-1",
		ServiceName:   "Service " + id,
		Price:         15.99,
		Currency:      "USD",
		BillingCycle:  model.CycleMonthly,
		NextRenewalAt: renewal,
		Status:        status,
		Confidence:    0.9,
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("Failed to seed subscription %s: %v", id, err)
	}
	return sub
}

func alertTypes(t *testing.T, store *storage.SQLiteStorage) map[model.AlertType]int {
	t.Helper()
	alerts, err := store.GetPendingAlerts(context.Background(), 100)
	if err != nil {
		t.Fatalf("Failed to load alerts: %v", err)
	}
	counts := make(map[model.AlertType]int)
	for _, alert := range alerts {
		counts[alert.Type]++
	}
	return counts
}

func TestGenerateAlerts_SevenDayTierOnce(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	renewal := now.AddDate(0, 0, 5)
	seedSubscription(t, store, "sub-1", model.SubscriptionActive, &renewal)

	stats, err := scanner.GenerateAlerts(ctx, now)
	if err != nil {
		t.Fatalf("Failed to generate alerts: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("Expected 1 alert created, got %d", stats.Created)
	}

	counts := alertTypes(t, store)
	if counts[model.AlertRenewalUpcoming7Days] != 1 {
		t.Errorf("Expected one 7-day alert, got %d", counts[model.AlertRenewalUpcoming7Days])
	}
	if counts[model.AlertRenewalUpcoming3Days] != 0 {
		t.Errorf("Expected no 3-day alert for a 5-day renewal, got %d", counts[model.AlertRenewalUpcoming3Days])
	}

	// Running the scanner again the same day adds nothing.
	stats, err = scanner.GenerateAlerts(ctx, now)
	if err != nil {
		t.Fatalf("Failed to re-run scanner: %v", err)
	}
	if stats.Created != 0 {
		t.Errorf("Expected re-run to create nothing, got %d", stats.Created)
	}
	if stats.Deduplicated != 1 {
		t.Errorf("Expected 1 deduplicated, got %d", stats.Deduplicated)
	}
	if total := alertTypes(t, store)[model.AlertRenewalUpcoming7Days]; total != 1 {
		t.Errorf("Expected still one 7-day alert, got %d", total)
	}
}

func TestGenerateAlerts_BothTiersInsideThreeDays(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	renewal := now.AddDate(0, 0, 2)
	seedSubscription(t, store, "sub-1", model.SubscriptionActive, &renewal)

	stats, err := scanner.GenerateAlerts(context.Background(), now)
	if err != nil {
		t.Fatalf("Failed to generate alerts: %v", err)
	}
	if stats.Created != 2 {
		t.Errorf("Expected both tiers created, got %d", stats.Created)
	}

	counts := alertTypes(t, store)
	if counts[model.AlertRenewalUpcoming7Days] != 1 || counts[model.AlertRenewalUpcoming3Days] != 1 {
		t.Errorf("Expected one alert per tier, got %v", counts)
	}

	// The earlier 7-day alert never suppresses the 3-day tier, and vice versa.
	stats, err = scanner.GenerateAlerts(context.Background(), now)
	if err != nil {
		t.Fatalf("Failed to re-run scanner: %v", err)
	}
	if stats.Created != 0 || stats.Deduplicated != 2 {
		t.Errorf("Expected both tiers deduplicated on re-run, got %+v", stats)
	}
}

func TestGenerateAlerts_TierEscalation(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	renewal := now.AddDate(0, 0, 5)
	sub := seedSubscription(t, store, "sub-1", model.SubscriptionActive, &renewal)

	if _, err := scanner.GenerateAlerts(ctx, now); err != nil {
		t.Fatalf("Failed first pass: %v", err)
	}

	// Three days later the renewal is inside the urgent window; only the
	// 3-day tier is new.
	later := now.AddDate(0, 0, 3)
	stats, err := scanner.GenerateAlerts(ctx, later)
	if err != nil {
		t.Fatalf("Failed second pass: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("Expected only the 3-day tier created, got %d", stats.Created)
	}

	counts := alertTypes(t, store)
	if counts[model.AlertRenewalUpcoming7Days] != 1 || counts[model.AlertRenewalUpcoming3Days] != 1 {
		t.Errorf("Expected one alert per tier for %s, got %v", sub.ServiceName, counts)
	}
}

func TestGenerateAlerts_TrialEnding(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	soon := now.AddDate(0, 0, 2)
	farther := now.AddDate(0, 0, 5)
	seedSubscription(t, store, "sub-ending", model.SubscriptionTrialActive, &soon)
	seedSubscription(t, store, "sub-later", model.SubscriptionTrialActive, &farther)

	stats, err := scanner.GenerateAlerts(context.Background(), now)
	if err != nil {
		t.Fatalf("Failed to generate alerts: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("Expected one trial alert, got %d", stats.Created)
	}

	counts := alertTypes(t, store)
	if counts[model.AlertTrialEnding] != 1 {
		t.Errorf("Expected one TRIAL_ENDING alert, got %d", counts[model.AlertTrialEnding])
	}
	// Trials get the trial notice, not the renewal tiers.
	if counts[model.AlertRenewalUpcoming7Days] != 0 || counts[model.AlertRenewalUpcoming3Days] != 0 {
		t.Errorf("Expected no renewal-tier alerts for trials, got %v", counts)
	}
}

func TestGenerateAlerts_UnusedSubscription(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

	stale := seedSubscription(t, store, "sub-stale", model.SubscriptionActive, nil)
	stale.LastActivityAt = now.AddDate(0, 0, -120)
	if err := store.UpdateSubscription(ctx, stale); err != nil {
		t.Fatalf("Failed to backdate activity: %v", err)
	}

	fresh := seedSubscription(t, store, "sub-fresh", model.SubscriptionActive, nil)
	fresh.LastActivityAt = now.AddDate(0, 0, -10)
	if err := store.UpdateSubscription(ctx, fresh); err != nil {
		t.Fatalf("Failed to set activity: %v", err)
	}

	// Never-seen activity is unknown, not unused.
	seedSubscription(t, store, "sub-unknown", model.SubscriptionActive, nil)

	stats, err := scanner.GenerateAlerts(ctx, now)
	if err != nil {
		t.Fatalf("Failed to generate alerts: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("Expected one unused alert, got %d", stats.Created)
	}

	alerts, err := store.GetPendingAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to load alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != model.AlertUnusedSubscription {
		t.Fatalf("Expected a single UNUSED_SUBSCRIPTION alert, got %+v", alerts)
	}
	if alerts[0].SubscriptionID != stale.ID {
		t.Errorf("Expected alert for %s, got %s", stale.ID, alerts[0].SubscriptionID)
	}
}

func TestGenerateAlerts_IgnoresPastAndInactive(t *testing.T) {
	scanner, store, cleanup := newTestScanner(t)
	defer cleanup()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	upcoming := now.AddDate(0, 0, 2)

	seedSubscription(t, store, "sub-past", model.SubscriptionActive, &past)
	seedSubscription(t, store, "sub-cancelled", model.SubscriptionCancelled, &upcoming)
	seedSubscription(t, store, "sub-undated", model.SubscriptionActive, nil)

	stats, err := scanner.GenerateAlerts(context.Background(), now)
	if err != nil {
		t.Fatalf("Failed to generate alerts: %v", err)
	}
	if stats.Created != 0 {
		t.Errorf("Expected nothing created, got %d", stats.Created)
	}
}
