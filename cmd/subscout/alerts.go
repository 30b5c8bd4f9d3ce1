package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/alerts"
	"github.com/subscout/subscout/internal/cli"
)

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Generate and inspect renewal alerts",
		Long: `Generate renewal and price alerts from the subscription ledger, and
list the ones waiting for delivery.`,
	}

	cmd.AddCommand(alertsGenerateCmd())
	cmd.AddCommand(alertsListCmd())

	return cmd
}

func alertsGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Run an alert generation pass",
		Long: `Scan live subscriptions for upcoming renewals, ending trials, and
price increases, creating alerts that have not fired recently.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			scanner, err := alerts.New(store, slog.Default())
			if err != nil {
				return fmt.Errorf("failed to create alert scanner: %w", err)
			}

			stats, err := scanner.GenerateAlerts(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("alert generation failed: %w", err)
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Created %d alerts (%d suppressed as recent duplicates) across %d subscriptions",
				stats.Created, stats.Deduplicated, stats.Scanned)))
			return nil
		},
	}
}

func alertsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts waiting for delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			pending, err := store.GetPendingAlerts(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to load alerts: %w", err)
			}

			if len(pending) == 0 {
				slog.Info(cli.FormatInfo("No pending alerts"))
				return nil
			}

			rows := make([][]string, 0, len(pending))
			for _, alert := range pending {
				rows = append(rows, []string{
					string(alert.Type),
					alert.Message,
					alert.ScheduledAt.Format("2006-01-02"),
					fmt.Sprintf("%d", alert.RetryCount),
				})
			}

			slog.Info(cli.FormatTitle("Pending alerts"))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Type", "Message", "Scheduled", "Retries"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().Int("limit", 50, "maximum alerts to show")

	return cmd
}
