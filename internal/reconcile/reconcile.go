// Package reconcile folds extracted billing facts into durable subscription
// records. Matching is by service name within an account, so repeated emails
// about the same service update one record in place instead of multiplying;
// every field change lands in the history ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/confidence"
	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

// overdueGrace is how long past its renewal date an active subscription may
// sit before the maintenance sweep stops assuming it renewed and flags it
// for review instead.
const overdueGrace = 7 * 24 * time.Hour

// Reconciler matches extractions against stored subscriptions.
type Reconciler struct {
	storage service.Storage
	logger  *slog.Logger
}

// New creates a reconciler backed by the given storage.
func New(storage service.Storage, logger *slog.Logger) (*Reconciler, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{storage: storage, logger: logger}, nil
}

// Reconcile applies one extraction to the subscription table and reports
// whether a new subscription was created. The lookup, the write, and the
// history entries commit atomically, so a crash mid-reconcile leaves no
// half-updated record behind.
func (r *Reconciler) Reconcile(ctx context.Context, userID, accountID string, ext *model.ExtractedSubscription, assessment confidence.Assessment, emailID string) (*model.Subscription, bool, error) {
	if ext == nil {
		return nil, false, fmt.Errorf("extraction cannot be nil")
	}
	if ext.ServiceName == "" {
		return nil, false, fmt.Errorf("extraction has no service name")
	}
	if accountID == "" {
		return nil, false, fmt.Errorf("%w: account id is required", common.ErrInvalidAccount)
	}

	tx, err := r.storage.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sub     *model.Subscription
		created bool
	)

	existing, err := tx.FindSubscriptionByService(ctx, accountID, ext.ServiceName)
	switch {
	case err == nil:
		sub, err = r.applyToExisting(ctx, tx, existing, ext, assessment, emailID)
	case errors.Is(err, common.ErrNotFound):
		created = true
		sub, err = r.createFromExtraction(ctx, tx, userID, accountID, ext, assessment, emailID)
	default:
		return nil, false, fmt.Errorf("failed to look up subscription for %q: %w", ext.ServiceName, err)
	}
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return sub, created, nil
}

// createFromExtraction builds a fresh subscription from the extraction. A
// trial notice starts the record in TrialActive; an explicit cancellation for
// a service we never tracked still gets a record, already cancelled, so the
// user can see what ended.
func (r *Reconciler) createFromExtraction(ctx context.Context, tx service.Transaction, userID, accountID string, ext *model.ExtractedSubscription, assessment confidence.Assessment, emailID string) (*model.Subscription, error) {
	now := time.Now().UTC()

	vendorID, err := r.ensureVendor(ctx, tx, ext, now)
	if err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		ID:              uuid.NewString(),
		UserID:          userID,
		AccountID:       accountID,
		ServiceName:     ext.ServiceName,
		VendorID:        vendorID,
		Price:           ext.Price,
		Currency:        ext.Currency,
		Category:        ext.Category,
		CancellationURL: ext.CancellationURL,
		BillingCycle:    ext.BillingCycle,
		NextRenewalAt:   ext.NextRenewalAt,
		Status:          model.SubscriptionActive,
		Confidence:      assessment.Overall,
		RequiresReview:  assessment.RequiresReview,
		LastActivityAt:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if ext.IsTrial {
		sub.Status = model.SubscriptionTrialActive
	}
	if ext.IsCancellation {
		sub.Status = model.SubscriptionCancelled
		sub.CancelledAt = &now
	}

	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription for %q: %w", ext.ServiceName, err)
	}
	if err := r.appendHistory(ctx, tx, sub.ID, model.ChangeCreated, "", sub.ServiceName, emailID); err != nil {
		return nil, err
	}

	r.logger.Info("Created subscription",
		"service", sub.ServiceName,
		"status", sub.Status,
		"price", sub.Price,
		"confidence", sub.Confidence)

	return sub, nil
}

// applyToExisting updates the matched subscription field by field, writing
// one history entry per change. Fields the extraction did not report leave
// the stored value alone.
func (r *Reconciler) applyToExisting(ctx context.Context, tx service.Transaction, sub *model.Subscription, ext *model.ExtractedSubscription, assessment confidence.Assessment, emailID string) (*model.Subscription, error) {
	now := time.Now().UTC()

	changed := 0
	record := func(changeType model.ChangeType, oldValue, newValue string) error {
		changed++
		return r.appendHistory(ctx, tx, sub.ID, changeType, oldValue, newValue, emailID)
	}

	if ext.Price > 0 && ext.Price != sub.Price {
		oldPrice := sub.Price
		if err := record(model.ChangePrice, formatPrice(oldPrice), formatPrice(ext.Price)); err != nil {
			return nil, err
		}
		sub.Price = ext.Price
		if ext.Price > oldPrice && oldPrice > 0 {
			if err := r.queuePriceIncreaseAlert(ctx, tx, sub, oldPrice, now); err != nil {
				return nil, err
			}
		}
	}

	if ext.Currency != "" && ext.Currency != sub.Currency {
		if err := record(model.ChangeCurrency, sub.Currency, ext.Currency); err != nil {
			return nil, err
		}
		sub.Currency = ext.Currency
	}

	if ext.BillingCycle != "" && ext.BillingCycle != model.CycleUnknown && ext.BillingCycle != sub.BillingCycle {
		if err := record(model.ChangeBillingCycle, string(sub.BillingCycle), string(ext.BillingCycle)); err != nil {
			return nil, err
		}
		sub.BillingCycle = ext.BillingCycle
	}

	if ext.NextRenewalAt != nil && !sameInstant(sub.NextRenewalAt, ext.NextRenewalAt) {
		if err := record(model.ChangeRenewalDate, formatDate(sub.NextRenewalAt), formatDate(ext.NextRenewalAt)); err != nil {
			return nil, err
		}
		renewal := ext.NextRenewalAt.UTC()
		sub.NextRenewalAt = &renewal
	}

	if ext.Category != "" && ext.Category != sub.Category {
		if err := record(model.ChangeCategory, sub.Category, ext.Category); err != nil {
			return nil, err
		}
		sub.Category = ext.Category
	}

	if ext.CancellationURL != "" && ext.CancellationURL != sub.CancellationURL {
		if err := record(model.ChangeCancellationURL, sub.CancellationURL, ext.CancellationURL); err != nil {
			return nil, err
		}
		sub.CancellationURL = ext.CancellationURL
	}

	switch {
	case ext.IsCancellation && sub.Status != model.SubscriptionCancelled:
		if err := record(model.ChangeStatus, string(sub.Status), string(model.SubscriptionCancelled)); err != nil {
			return nil, err
		}
		sub.Status = model.SubscriptionCancelled
		sub.CancelledAt = &now

	case !ext.IsCancellation && sub.Status == model.SubscriptionCancelled && ext.Price > 0:
		// Fresh billing activity on a cancelled subscription means the
		// user signed up again.
		next := model.SubscriptionActive
		if ext.IsTrial {
			next = model.SubscriptionTrialActive
		}
		if err := record(model.ChangeStatus, string(sub.Status), string(next)); err != nil {
			return nil, err
		}
		sub.Status = next
		sub.CancelledAt = nil

	case !ext.IsCancellation && !ext.IsTrial && ext.Price > 0 && sub.Status == model.SubscriptionTrialActive:
		// A real charge converts the trial.
		if err := record(model.ChangeStatus, string(sub.Status), string(model.SubscriptionActive)); err != nil {
			return nil, err
		}
		sub.Status = model.SubscriptionActive
	}

	if sub.RequiresReview != assessment.RequiresReview {
		if err := record(model.ChangeReviewFlag, strconv.FormatBool(sub.RequiresReview), strconv.FormatBool(assessment.RequiresReview)); err != nil {
			return nil, err
		}
	}
	sub.RequiresReview = assessment.RequiresReview
	sub.Confidence = assessment.Overall
	sub.LastActivityAt = now

	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}

	r.logger.Debug("Reconciled subscription",
		"service", sub.ServiceName,
		"changes", changed,
		"confidence", sub.Confidence)

	return sub, nil
}

// ensureVendor resolves the vendor directory entry for the extracted service,
// creating an unenriched stub when none exists. The stub's pending state is a
// durable column, so the enrichment job finds it even after a restart.
func (r *Reconciler) ensureVendor(ctx context.Context, tx service.Transaction, ext *model.ExtractedSubscription, now time.Time) (string, error) {
	vendor, err := tx.GetVendor(ctx, ext.ServiceName)
	if err == nil {
		return vendor.ID, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("failed to look up vendor %q: %w", ext.ServiceName, err)
	}

	stub := &model.Vendor{
		ID:              uuid.NewString(),
		Name:            ext.ServiceName,
		Category:        ext.Category,
		CancellationURL: ext.CancellationURL,
		NeedsEnrichment: true,
		CreatedAt:       now,
	}
	if err := tx.SaveVendor(ctx, stub); err != nil {
		return "", fmt.Errorf("failed to save vendor stub %q: %w", ext.ServiceName, err)
	}
	return stub.ID, nil
}

// queuePriceIncreaseAlert records a pending price increase alert unless one
// was already created for this subscription within the lookback window.
func (r *Reconciler) queuePriceIncreaseAlert(ctx context.Context, tx service.Transaction, sub *model.Subscription, oldPrice float64, now time.Time) error {
	recent, err := tx.HasRecentAlert(ctx, sub.ID, model.AlertPriceIncrease, now.Add(-model.AlertLookback))
	if err != nil {
		return fmt.Errorf("failed to check for recent price alert: %w", err)
	}
	if recent {
		return nil
	}

	message := fmt.Sprintf("%s price increased from %s to %s", sub.ServiceName, formatPrice(oldPrice), formatPrice(sub.Price))
	if sub.Currency != "" {
		message += " " + sub.Currency
	}

	alert := &model.Alert{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Type:           model.AlertPriceIncrease,
		Message:        message,
		Status:         model.AlertPending,
		ScheduledAt:    now,
		CreatedAt:      now,
	}
	if err := tx.SaveAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to save price increase alert: %w", err)
	}

	metrics.AlertCreated(string(model.AlertPriceIncrease))
	r.logger.Info("Queued price increase alert",
		"service", sub.ServiceName,
		"old_price", oldPrice,
		"new_price", sub.Price)

	return nil
}

// AdvanceRenewals sweeps subscriptions whose renewal date has passed. A date
// within the grace window is assumed to have renewed and moves forward by the
// billing cycle; an older one is flagged for review instead, because a
// subscription that has been silent that long may have ended somewhere we
// cannot see. Nothing here ever cancels a subscription.
func (r *Reconciler) AdvanceRenewals(ctx context.Context, now time.Time) (service.RenewalStats, error) {
	var stats service.RenewalStats

	overdue, err := r.storage.GetOverdueSubscriptions(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to load overdue subscriptions: %w", err)
	}

	for i := range overdue {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sub := &overdue[i]
		if sub.NextRenewalAt == nil {
			continue
		}
		stats.Examined++
		renewal := sub.NextRenewalAt.UTC()

		switch {
		case now.Sub(renewal) > overdueGrace:
			if sub.RequiresReview {
				continue
			}
			if err := r.flagOverdue(ctx, sub, renewal); err != nil {
				r.logger.Warn("Failed to flag overdue subscription",
					"service", sub.ServiceName, "error", err)
				continue
			}
			stats.Overdue++

		case sub.Status == model.SubscriptionActive && sub.BillingCycle != model.CycleUnknown:
			if err := r.advanceOne(ctx, sub, renewal, now); err != nil {
				r.logger.Warn("Failed to advance renewal date",
					"service", sub.ServiceName, "error", err)
				continue
			}
			stats.Advanced++
		}
	}

	r.logger.Info("Renewal sweep complete",
		"examined", stats.Examined,
		"advanced", stats.Advanced,
		"overdue", stats.Overdue)

	return stats, nil
}

// advanceOne moves a renewal date forward by whole cycle increments until it
// lands in the future, recording the jump as a single history entry.
func (r *Reconciler) advanceOne(ctx context.Context, sub *model.Subscription, renewal, now time.Time) error {
	next := renewal
	for !next.After(now) {
		advanced := sub.BillingCycle.NextAfter(next)
		if !advanced.After(next) {
			return fmt.Errorf("billing cycle %s cannot advance renewal date", sub.BillingCycle)
		}
		next = advanced
	}

	tx, err := r.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub.NextRenewalAt = &next
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}
	if err := r.appendHistory(ctx, tx, sub.ID, model.ChangeRenewalAdvanced, formatDate(&renewal), formatDate(&next), ""); err != nil {
		return err
	}
	return tx.Commit()
}

// flagOverdue marks a long-overdue subscription for user review. The history
// entry carries the missed date; the renewal date itself is left untouched.
func (r *Reconciler) flagOverdue(ctx context.Context, sub *model.Subscription, renewal time.Time) error {
	tx, err := r.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub.RequiresReview = true
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}
	if err := r.appendHistory(ctx, tx, sub.ID, model.ChangeRenewalOverdue, formatDate(&renewal), "", ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Reconciler) appendHistory(ctx context.Context, tx service.Transaction, subscriptionID string, changeType model.ChangeType, oldValue, newValue, emailID string) error {
	entry := &model.HistoryEntry{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		ChangeType:     changeType,
		OldValue:       oldValue,
		NewValue:       newValue,
		EmailRecordID:  emailID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s change: %w", changeType, err)
	}
	return nil
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
