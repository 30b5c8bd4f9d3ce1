package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/subscout/subscout/internal/cli"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan mailboxes for billing mail",
		Long: `Scan every watched mailbox for new billing mail and run the
extraction pipeline over it.

Fetching resumes from each account's last sync point. Messages already
seen are deduplicated, and the pipeline drains whatever backlog remains
afterwards.`,
		RunE: runScan,
	}

	cmd.Flags().Bool("no-progress", false, "disable the progress bar")
	_ = viper.BindPFlag("scan.no_progress", cmd.Flags().Lookup("no-progress"))

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	eng, err := createEngine(store, true)
	if err != nil {
		return err
	}

	slog.Info(cli.FormatTitle("Scanning mailboxes"))

	scanStats, err := eng.ScanAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	// Records rejected by queue backpressure or stranded by earlier runs
	// are drained here.
	residual, err := drainBacklog(ctx, store, eng, !viper.GetBool("scan.no_progress"))
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	processing := scanStats.Processing
	processing.Add(residual)

	content := fmt.Sprintf(`Accounts scanned: %d
Messages fetched: %d
New records: %d
Duplicates: %d

Processed: %d
Completed: %d
Needs review: %d
Failed: %d

Subscriptions created: %d
Subscriptions updated: %d

Took %s`,
		scanStats.AccountsScanned, scanStats.MessagesFetched, scanStats.NewRecords, scanStats.Duplicates,
		processing.Processed, processing.Completed, processing.NeedsReview, processing.Failed,
		processing.SubscriptionsCreated, processing.SubscriptionsUpdated,
		scanStats.Duration.Round(time.Millisecond))

	slog.Info(cli.RenderBox("Scan Summary", content))

	if processing.NeedsReview > 0 {
		slog.Info(cli.FormatWarning(fmt.Sprintf("%d subscriptions need review. Run 'subscout subscriptions review' to resolve them.", processing.NeedsReview)))
	}

	return nil
}
