package engine

import (
	"context"
	"fmt"

	"github.com/subscout/subscout/internal/service"
)

// EnrichVendors fills in directory details for vendor stubs created during
// reconciliation. The work list is the durable needs_enrichment flag, so
// pending lookups survive restarts and a failed lookup is retried on the
// next pass.
func (e *Engine) EnrichVendors(ctx context.Context, limit int) (service.EnrichStats, error) {
	var stats service.EnrichStats

	if e.enricher == nil {
		return stats, fmt.Errorf("no enricher configured")
	}

	vendors, err := e.storage.GetVendorsNeedingEnrichment(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("failed to load vendors needing enrichment: %w", err)
	}

	for _, vendor := range vendors {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Examined++

		enriched, err := e.enricher.EnrichVendor(ctx, vendor)
		if err != nil {
			// Flag stays set; the next pass tries again.
			stats.Failed++
			e.logger.Warn("Vendor enrichment failed",
				"vendor", vendor.Name,
				"error", err)
			continue
		}

		if err := e.storage.SaveVendor(ctx, &enriched); err != nil {
			stats.Failed++
			e.logger.Warn("Failed to save enriched vendor",
				"vendor", vendor.Name,
				"error", err)
			continue
		}
		stats.Enriched++
	}

	if stats.Examined > 0 {
		e.logger.Info("Vendor enrichment pass complete",
			"examined", stats.Examined,
			"enriched", stats.Enriched,
			"failed", stats.Failed)
	}

	return stats, nil
}
