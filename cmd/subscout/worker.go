package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/subscout/subscout/internal/alerts"
	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/config"
	"github.com/subscout/subscout/internal/engine"
	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/service"
	"github.com/subscout/subscout/internal/storage"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background worker",
		Long: `Run the long-lived worker that keeps the subscription ledger current.

The worker periodically:
1. Scans every watched mailbox and processes new billing mail
2. Advances overdue renewal dates and generates renewal alerts
3. Enriches vendor directory entries that still need details

A lock file prevents two workers from running against the same data
directory. Prometheus metrics are served on the configured address.`,
		RunE: runWorker,
	}

	cmd.Flags().Duration("scan-interval", 30*time.Minute, "how often to scan mailboxes")
	cmd.Flags().Duration("maintenance-interval", 6*time.Hour, "how often to advance renewals and generate alerts")
	cmd.Flags().Duration("enrich-interval", time.Hour, "how often to enrich vendors")

	_ = viper.BindPFlag("worker.scan_interval", cmd.Flags().Lookup("scan-interval"))
	_ = viper.BindPFlag("worker.maintenance_interval", cmd.Flags().Lookup("maintenance-interval"))
	_ = viper.BindPFlag("worker.enrich_interval", cmd.Flags().Lookup("enrich-interval"))

	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, "subscout.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subscout worker is already running")
	}
	defer func() { _ = lock.Unlock() }()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	// The reconciler looks vendors up on every extraction; a long-lived
	// process may as well start with the directory in memory.
	if sqlStore, ok := store.(*storage.SQLiteStorage); ok {
		if err := sqlStore.WarmVendorCache(ctx); err != nil {
			slog.Warn("Failed to warm vendor cache", "error", err)
		}
	}

	eng, err := createEngine(store, true)
	if err != nil {
		return err
	}

	scanner, err := alerts.New(store, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create alert scanner: %w", err)
	}

	metricsServer := startMetricsServer()

	scanInterval := viper.GetDuration("worker.scan_interval")
	maintenanceInterval := viper.GetDuration("worker.maintenance_interval")
	enrichInterval := viper.GetDuration("worker.enrich_interval")

	slog.Info(cli.FormatTitle("Worker started"))
	slog.Info("Sweep intervals",
		"scan", scanInterval,
		"maintenance", maintenanceInterval,
		"enrich", enrichInterval)

	// First sweeps run immediately so a fresh worker is useful before
	// the first tick.
	runScanSweep(ctx, store, eng)
	runMaintenanceSweep(ctx, eng, scanner)
	runEnrichSweep(ctx, eng)

	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()
	maintenanceTicker := time.NewTicker(maintenanceInterval)
	defer maintenanceTicker.Stop()
	enrichTicker := time.NewTicker(enrichInterval)
	defer enrichTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker shutting down")
			stopMetricsServer(metricsServer)
			return nil
		case <-scanTicker.C:
			runScanSweep(ctx, store, eng)
		case <-maintenanceTicker.C:
			runMaintenanceSweep(ctx, eng, scanner)
		case <-enrichTicker.C:
			runEnrichSweep(ctx, eng)
		}
	}
}

func runScanSweep(ctx context.Context, store service.Storage, eng *engine.Engine) {
	stats, err := eng.ScanAllAccounts(ctx)
	if err != nil {
		slog.Error("Scan sweep failed", "error", err)
		return
	}

	residual, err := drainBacklog(ctx, store, eng, false)
	if err != nil {
		slog.Error("Backlog drain failed", "error", err)
	}

	processing := stats.Processing
	processing.Add(residual)
	slog.Info("Scan sweep complete",
		"fetched", stats.MessagesFetched,
		"new", stats.NewRecords,
		"processed", processing.Processed,
		"created", processing.SubscriptionsCreated,
		"updated", processing.SubscriptionsUpdated,
		"needs_review", processing.NeedsReview)
}

func runMaintenanceSweep(ctx context.Context, eng *engine.Engine, scanner *alerts.Scanner) {
	renewals, err := eng.UpdateAllSubscriptions(ctx)
	if err != nil {
		slog.Error("Renewal sweep failed", "error", err)
		return
	}

	alertStats, err := scanner.GenerateAlerts(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Alert generation failed", "error", err)
		return
	}

	slog.Info("Maintenance sweep complete",
		"renewals_examined", renewals.Examined,
		"renewals_advanced", renewals.Advanced,
		"renewals_overdue", renewals.Overdue,
		"alerts_created", alertStats.Created,
		"alerts_deduplicated", alertStats.Deduplicated)
}

func runEnrichSweep(ctx context.Context, eng *engine.Engine) {
	stats, err := eng.EnrichVendors(ctx, 25)
	if err != nil {
		slog.Error("Enrichment sweep failed", "error", err)
		return
	}
	if stats.Examined == 0 {
		return
	}

	slog.Info("Enrichment sweep complete",
		"examined", stats.Examined,
		"enriched", stats.Enriched,
		"failed", stats.Failed)
}

func startMetricsServer() *http.Server {
	addr := viper.GetString("metrics.addr")
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return server
}

func stopMetricsServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Metrics server shutdown failed", "error", err)
	}
}
