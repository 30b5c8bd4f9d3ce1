package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/engine"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process pending email records",
		Long: `Run the extraction pipeline over records already ingested but not
yet processed, without fetching new mail.

The scheduler runs this between scans to drain records left behind by
queue backpressure or interrupted runs.`,
		RunE: runProcess,
	}

	cmd.Flags().String("account", "", "only process this account's records")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")
	_ = viper.BindPFlag("process.account", cmd.Flags().Lookup("account"))
	_ = viper.BindPFlag("process.no_progress", cmd.Flags().Lookup("no-progress"))

	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	eng, err := createEngine(store, false)
	if err != nil {
		return err
	}

	showProgress := !viper.GetBool("process.no_progress")

	var stats service.ProcessStats
	if address := viper.GetString("process.account"); address != "" {
		stats, err = drainAccount(ctx, store, eng, address, showProgress)
	} else {
		stats, err = drainBacklog(ctx, store, eng, showProgress)
	}
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printProcessSummary(stats)
	return nil
}

// drainAccount drains one account's pending records, resolved by address.
func drainAccount(ctx context.Context, store service.Storage, eng *engine.Engine, address string, showProgress bool) (service.ProcessStats, error) {
	account, err := store.GetAccountByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return service.ProcessStats{}, fmt.Errorf("account %s is not registered; run 'subscout accounts add %s' first", address, address)
		}
		return service.ProcessStats{}, fmt.Errorf("failed to look up account: %w", err)
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		counts, countErr := store.CountEmailsByStatus(ctx, account.ID)
		if countErr != nil {
			return service.ProcessStats{}, fmt.Errorf("failed to count emails: %w", countErr)
		}
		if pending := counts[model.RecordPending]; pending > 0 {
			bar = newProgressBar(pending, "Processing backlog...")
		}
	}

	return drainPending(ctx, eng, account.ID, bar)
}

// drainPending repeatedly runs the engine over an account's pending records
// until a pass makes no progress. Each pass handles one batch, so large
// backlogs take several. Failed records leave the pending set rather than
// spinning the loop.
func drainPending(ctx context.Context, eng *engine.Engine, accountID string, bar *progressbar.ProgressBar) (service.ProcessStats, error) {
	var total service.ProcessStats

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		stats, err := eng.ProcessPending(ctx, accountID)
		total.Add(stats)
		if bar != nil {
			_ = bar.Add(stats.Processed + stats.Skipped)
		}
		if err != nil {
			return total, err
		}
		if stats.Processed+stats.Skipped == 0 {
			return total, nil
		}
	}
}

// drainBacklog processes the pending records of every account, optionally
// showing a progress bar sized by the current backlog.
func drainBacklog(ctx context.Context, store service.Storage, eng *engine.Engine, showProgress bool) (service.ProcessStats, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return service.ProcessStats{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	pending := 0
	for _, account := range accounts {
		counts, countErr := store.CountEmailsByStatus(ctx, account.ID)
		if countErr != nil {
			return service.ProcessStats{}, fmt.Errorf("failed to count emails: %w", countErr)
		}
		pending += counts[model.RecordPending]
	}

	var total service.ProcessStats
	if pending == 0 {
		return total, nil
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = newProgressBar(pending, "Processing backlog...")
	}

	for _, account := range accounts {
		stats, drainErr := drainPending(ctx, eng, account.ID, bar)
		total.Add(stats)
		if drainErr != nil {
			return total, drainErr
		}
	}

	return total, nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]%s[reset]", description)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stderr); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func printProcessSummary(stats service.ProcessStats) {
	content := fmt.Sprintf(`Processed: %d
Completed: %d
Auto-accepted: %d
Needs review: %d
Skipped: %d
Failed: %d

Subscriptions created: %d
Subscriptions updated: %d`,
		stats.Processed, stats.Completed, stats.AutoAccepted, stats.NeedsReview,
		stats.Skipped, stats.Failed,
		stats.SubscriptionsCreated, stats.SubscriptionsUpdated)

	slog.Info(cli.RenderBox("Processing Summary", content))

	if stats.NeedsReview > 0 {
		slog.Info(cli.FormatWarning(fmt.Sprintf("%d subscriptions need review. Run 'subscout subscriptions review' to resolve them.", stats.NeedsReview)))
	}
}
