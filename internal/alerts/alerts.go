// Package alerts derives pending notifications from subscription state.
// Delivery happens outside this core; the scanner only creates Pending rows,
// and never more than one live (subscription, type) pair per lookback window.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

// Scan windows. The 3-day tier does not replace the 7-day one; a renewal
// inside both windows carries both alerts, each deduplicated on its own.
const (
	renewalNoticeWindow = 7 * 24 * time.Hour
	renewalUrgentWindow = 3 * 24 * time.Hour
	unusedThreshold     = 90 * 24 * time.Hour
)

// Scanner turns subscription state into pending alerts.
type Scanner struct {
	storage service.Storage
	logger  *slog.Logger
}

// New creates a renewal scanner backed by the given storage.
func New(storage service.Storage, logger *slog.Logger) (*Scanner, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{storage: storage, logger: logger}, nil
}

// GenerateAlerts runs one pass over live subscriptions: the due-within sweep
// raises upcoming-renewal tiers for active subscriptions and the trial-ending
// notice for trials, and a second sweep over all active subscriptions handles
// the unused check. Safe to re-run; the lookback check keeps a repeat pass
// from duplicating anything.
func (s *Scanner) GenerateAlerts(ctx context.Context, now time.Time) (service.AlertStats, error) {
	var stats service.AlertStats

	due, err := s.storage.GetSubscriptionsDueWithin(ctx, now, renewalNoticeWindow)
	if err != nil {
		return stats, fmt.Errorf("failed to load due subscriptions: %w", err)
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sub := &due[i]
		stats.Scanned++

		switch sub.Status {
		case model.SubscriptionActive:
			s.ensure(ctx, &stats, sub, model.AlertRenewalUpcoming7Days, renewalMessage(sub), now)
			if sub.RenewsWithin(now, renewalUrgentWindow) {
				s.ensure(ctx, &stats, sub, model.AlertRenewalUpcoming3Days, renewalMessage(sub), now)
			}
		case model.SubscriptionTrialActive:
			if sub.RenewsWithin(now, renewalUrgentWindow) {
				message := fmt.Sprintf("%s trial ends on %s", sub.ServiceName, sub.NextRenewalAt.UTC().Format("2006-01-02"))
				s.ensure(ctx, &stats, sub, model.AlertTrialEnding, message, now)
			}
		}
	}

	active, err := s.storage.GetSubscriptions(ctx, service.SubscriptionFilter{Status: model.SubscriptionActive})
	if err != nil {
		return stats, fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	for i := range active {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sub := &active[i]
		if !sub.RenewsWithin(now, renewalNoticeWindow) {
			stats.Scanned++ // due rows were counted in the first sweep
		}

		if !sub.LastActivityAt.IsZero() && now.Sub(sub.LastActivityAt) > unusedThreshold {
			message := fmt.Sprintf("No billing activity for %s since %s", sub.ServiceName, sub.LastActivityAt.UTC().Format("2006-01-02"))
			s.ensure(ctx, &stats, sub, model.AlertUnusedSubscription, message, now)
		}
	}

	s.logger.Info("Alert scan complete",
		"scanned", stats.Scanned,
		"created", stats.Created,
		"deduplicated", stats.Deduplicated)

	return stats, nil
}

// ensure creates the alert unless a live one of the same type already exists
// for the subscription inside the lookback window. Failures are logged and
// skipped so one bad row cannot sink the sweep.
func (s *Scanner) ensure(ctx context.Context, stats *service.AlertStats, sub *model.Subscription, alertType model.AlertType, message string, now time.Time) {
	recent, err := s.storage.HasRecentAlert(ctx, sub.ID, alertType, now.Add(-model.AlertLookback))
	if err != nil {
		s.logger.Warn("Failed to check for existing alert",
			"service", sub.ServiceName, "type", alertType, "error", err)
		return
	}
	if recent {
		stats.Deduplicated++
		return
	}

	alert := &model.Alert{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Type:           alertType,
		Message:        message,
		Status:         model.AlertPending,
		ScheduledAt:    now,
		CreatedAt:      now,
	}
	if err := s.storage.SaveAlert(ctx, alert); err != nil {
		s.logger.Warn("Failed to save alert",
			"service", sub.ServiceName, "type", alertType, "error", err)
		return
	}

	stats.Created++
	metrics.AlertCreated(string(alertType))
	s.logger.Debug("Created alert", "service", sub.ServiceName, "type", alertType)
}

func renewalMessage(sub *model.Subscription) string {
	message := fmt.Sprintf("%s renews on %s", sub.ServiceName, sub.NextRenewalAt.UTC().Format("2006-01-02"))
	if sub.Price > 0 {
		message += fmt.Sprintf(" for %.2f", sub.Price)
		if sub.Currency != "" {
			message += " " + sub.Currency
		}
	}
	return message
}
