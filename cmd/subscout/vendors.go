package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/cli"
)

func vendorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendors",
		Short: "Inspect the vendor directory",
		Long: `Inspect the vendor directory built from extracted subscriptions.

Vendors start as name-only stubs; the enricher fills in category,
website, and cancellation details.`,
	}

	cmd.AddCommand(vendorsListCmd())
	cmd.AddCommand(vendorsEnrichCmd())

	return cmd
}

func vendorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known vendors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			vendors, err := store.GetAllVendors(ctx)
			if err != nil {
				return fmt.Errorf("failed to load vendors: %w", err)
			}

			if len(vendors) == 0 {
				slog.Info(cli.FormatInfo("No vendors yet. They appear as subscriptions are discovered."))
				return nil
			}

			rows := make([][]string, 0, len(vendors))
			for _, vendor := range vendors {
				enrichment := "enriched"
				if vendor.NeedsEnrichment {
					enrichment = "pending"
				}
				rows = append(rows, []string{
					vendor.Name,
					vendor.Category,
					vendor.Website,
					enrichment,
				})
			}

			slog.Info(cli.FormatTitle("Vendor directory"))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Category", "Website", "Enrichment"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func vendorsEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich vendor stubs",
		Long: `Look up directory details for vendors still missing them. Fields
sourced from actual billing mail are never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			eng, err := createEngine(store, false)
			if err != nil {
				return err
			}

			stats, err := eng.EnrichVendors(ctx, limit)
			if err != nil {
				return fmt.Errorf("enrichment failed: %w", err)
			}

			if stats.Examined == 0 {
				slog.Info(cli.FormatInfo("Every vendor is already enriched"))
				return nil
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Enriched %d of %d vendors (%d failed)",
				stats.Enriched, stats.Examined, stats.Failed)))
			return nil
		},
	}

	cmd.Flags().Int("limit", 25, "maximum vendors to enrich in one pass")

	return cmd
}
