package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/reconcile"
	"github.com/subscout/subscout/internal/service"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Inspect and manage tracked subscriptions",
		Long:    `List tracked subscriptions, resolve review flags, and change their status.`,
	}

	cmd.AddCommand(subscriptionsListCmd())
	cmd.AddCommand(subscriptionsReviewCmd())
	cmd.AddCommand(subscriptionsCancelCmd())
	cmd.AddCommand(subscriptionsArchiveCmd())
	cmd.AddCommand(subscriptionsUpdateCmd())

	return cmd
}

func subscriptionsUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Advance lapsed renewal dates",
		Long: `Advance past-due renewal dates on active subscriptions by their
billing cycle, and flag ones more than a week overdue for review.

The scheduler runs this ahead of alert generation so renewal alerts
work from current dates.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			reconciler, err := reconcile.New(store, slog.Default())
			if err != nil {
				return fmt.Errorf("failed to create reconciler: %w", err)
			}

			stats, err := reconciler.AdvanceRenewals(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("renewal maintenance failed: %w", err)
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Examined %d subscriptions: advanced %d renewals, flagged %d overdue",
				stats.Examined, stats.Advanced, stats.Overdue)))
			return nil
		},
	}
}

func subscriptionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked subscriptions",
		Long: `List tracked subscriptions with price, billing cycle, and renewal date.

Use --status to filter by lifecycle state (active, trial, pending_review,
cancelled, archived) and --review to show only subscriptions flagged for
review.`,
		RunE: runSubscriptionsList,
	}

	cmd.Flags().String("status", "", "filter by status (active, trial, pending_review, cancelled, archived)")
	cmd.Flags().Bool("review", false, "show only subscriptions flagged for review")

	return cmd
}

func runSubscriptionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	statusFlag, _ := cmd.Flags().GetString("status")
	reviewOnly, _ := cmd.Flags().GetBool("review")

	filter := service.SubscriptionFilter{UserID: currentUserID()}
	if statusFlag != "" {
		status, err := parseSubscriptionStatus(statusFlag)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	subs, err := store.GetSubscriptions(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	if reviewOnly {
		subs = filterReviewFlagged(subs)
	}

	if len(subs) == 0 {
		slog.Info(cli.FormatInfo("No subscriptions found. Run 'subscout scan' to discover some."))
		return nil
	}

	rows := make([][]string, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, subscriptionRow(&sub))
	}

	slog.Info(cli.FormatTitle("Tracked subscriptions"))
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Service", "Price", "Cycle", "Next renewal", "Status", "Confidence", "ID"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	printMonthlySpend(subs)
	return nil
}

func subscriptionRow(sub *model.Subscription) []string {
	renewal := "-"
	if sub.NextRenewalAt != nil {
		renewal = sub.NextRenewalAt.Format("2006-01-02")
	}

	confidence := fmt.Sprintf("%.2f", sub.Confidence)
	if sub.RequiresReview {
		confidence += " ⚠"
	}

	return []string{
		sub.ServiceName,
		fmt.Sprintf("%.2f %s", sub.Price, sub.Currency),
		string(sub.BillingCycle),
		renewal,
		string(sub.Status),
		confidence,
		sub.ID,
	}
}

// printMonthlySpend totals live subscriptions per currency, normalized to a
// monthly rate.
func printMonthlySpend(subs []model.Subscription) {
	perCurrency := make(map[string]float64)
	for _, sub := range subs {
		if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionTrialActive {
			continue
		}

		monthly := sub.Price
		switch sub.BillingCycle {
		case model.CycleWeekly:
			monthly = sub.Price * 4.33
		case model.CycleQuarterly:
			monthly = sub.Price / 3
		case model.CycleAnnual:
			monthly = sub.Price / 12
		case model.CycleMonthly, model.CycleUnknown:
			// Unknown cycles count at face value rather than disappearing.
		}
		perCurrency[sub.Currency] += monthly
	}

	if len(perCurrency) == 0 {
		return
	}

	currencies := make([]string, 0, len(perCurrency))
	for currency := range perCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	for _, currency := range currencies {
		slog.Info(fmt.Sprintf("Monthly spend: %.2f %s", perCurrency[currency], currency))
	}
}

func filterReviewFlagged(subs []model.Subscription) []model.Subscription {
	flagged := make([]model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.RequiresReview {
			flagged = append(flagged, sub)
		}
	}
	return flagged
}

func parseSubscriptionStatus(text string) (model.SubscriptionStatus, error) {
	switch text {
	case "active":
		return model.SubscriptionActive, nil
	case "trial":
		return model.SubscriptionTrialActive, nil
	case "pending_review":
		return model.SubscriptionPendingReview, nil
	case "cancelled":
		return model.SubscriptionCancelled, nil
	case "archived":
		return model.SubscriptionArchived, nil
	default:
		return "", fmt.Errorf("unknown status %q (want active, trial, pending_review, cancelled, or archived)", text)
	}
}

func subscriptionsReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review [id]",
		Short: "List or resolve review flags",
		Long: `Without arguments, list subscriptions flagged for review. With a
subscription ID, mark that subscription as reviewed and clear the flag.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			if len(args) == 0 {
				return listReviewQueue(ctx, cmd, store)
			}
			return resolveReview(ctx, store, args[0])
		},
	}
}

func listReviewQueue(ctx context.Context, cmd *cobra.Command, store service.Storage) error {
	subs, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{UserID: currentUserID()})
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	flagged := filterReviewFlagged(subs)
	if len(flagged) == 0 {
		slog.Info(cli.FormatSuccess("Nothing needs review"))
		return nil
	}

	rows := make([][]string, 0, len(flagged))
	for _, sub := range flagged {
		rows = append(rows, subscriptionRow(&sub))
	}

	slog.Info(cli.FormatTitle("Subscriptions needing review"))
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Service", "Price", "Cycle", "Next renewal", "Status", "Confidence", "ID"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	slog.Info("Run 'subscout subscriptions review <id>' to accept one as correct")
	return nil
}

func resolveReview(ctx context.Context, store service.Storage, id string) error {
	sub, err := store.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("no subscription with ID %s", id)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if !sub.RequiresReview {
		slog.Info(cli.FormatInfo(fmt.Sprintf("%s is not flagged for review", sub.ServiceName)))
		return nil
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub.RequiresReview = false
	if sub.Status == model.SubscriptionPendingReview {
		sub.Status = model.SubscriptionActive
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	entry := &model.HistoryEntry{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeReviewFlag,
		OldValue:       strconv.FormatBool(true),
		NewValue:       strconv.FormatBool(false),
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record review resolution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review resolution: %w", err)
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Marked %s as reviewed", sub.ServiceName)))
	return nil
}

func subscriptionsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Mark a subscription as cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSubscriptionStatus(cmd.Context(), args[0], model.SubscriptionCancelled)
		},
	}
}

func subscriptionsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a subscription",
		Long:  `Archive a subscription so it no longer counts toward spend or alerts.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSubscriptionStatus(cmd.Context(), args[0], model.SubscriptionArchived)
		},
	}
}

func changeSubscriptionStatus(ctx context.Context, id string, target model.SubscriptionStatus) error {
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	sub, err := store.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("no subscription with ID %s", id)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.Status == target {
		slog.Info(cli.FormatInfo(fmt.Sprintf("%s is already %s", sub.ServiceName, target)))
		return nil
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	previous := sub.Status
	sub.Status = target
	sub.UpdatedAt = now
	if target == model.SubscriptionCancelled && sub.CancelledAt == nil {
		sub.CancelledAt = &now
	}

	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	entry := &model.HistoryEntry{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeStatus,
		OldValue:       string(previous),
		NewValue:       string(target),
		CreatedAt:      now,
	}
	if err := tx.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("%s is now %s", sub.ServiceName, target)))
	return nil
}
