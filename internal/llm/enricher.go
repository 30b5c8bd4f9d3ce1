package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/resilience"
)

// Enricher fills in directory details for vendor stubs created during
// reconciliation. Unlike classification and extraction there is no
// response cache: the durable NeedsEnrichment flag already ensures each
// vendor is looked up once.
type Enricher struct {
	client   Client
	executor *resilience.Executor
	logger   *slog.Logger
	target   string
}

// NewEnricher creates an LLM-backed vendor enricher. Remote calls run
// through the executor under the given target name.
func NewEnricher(client Client, executor *resilience.Executor, target string, logger *slog.Logger) *Enricher {
	return &Enricher{
		client:   client,
		executor: executor,
		logger:   logger,
		target:   target,
	}
}

// EnrichVendor looks up directory details for one vendor and returns the
// filled-in copy with the enrichment flag cleared. Fields the vendor
// already carries came from actual billing emails and are kept over the
// model's answer.
func (e *Enricher) EnrichVendor(ctx context.Context, vendor model.Vendor) (model.Vendor, error) {
	prompt := buildEnrichPrompt(vendor)

	start := time.Now()
	var response VendorInfoResponse
	err := e.executor.Execute(ctx, e.target, func(ctx context.Context) error {
		var callErr error
		response, callErr = e.client.EnrichVendor(ctx, prompt)
		return callErr
	})
	metrics.LLMRequest("enrich", outcomeLabel(err), time.Since(start).Seconds())
	if err != nil {
		return model.Vendor{}, fmt.Errorf("vendor enrichment failed: %w", err)
	}

	if vendor.Category == "" {
		vendor.Category = strings.TrimSpace(response.Category)
	}
	if vendor.Website == "" {
		vendor.Website = strings.TrimSpace(response.Website)
	}
	if vendor.CancellationURL == "" {
		vendor.CancellationURL = strings.TrimSpace(response.CancellationURL)
	}
	now := time.Now().UTC()
	vendor.EnrichedAt = &now
	vendor.NeedsEnrichment = false

	e.logger.Info("vendor enriched",
		"vendor", vendor.Name,
		"category", vendor.Category,
		"website", vendor.Website)

	return vendor, nil
}

// buildEnrichPrompt creates the prompt for a vendor directory lookup.
func buildEnrichPrompt(vendor model.Vendor) string {
	return fmt.Sprintf(`Provide directory details for the subscription service %q.

Respond with ONLY a JSON object in exactly this shape:
{
  "category": "e.g. Streaming, Software, News, Fitness",
  "website": "main website URL or empty string",
  "cancellation_url": "URL of the page where a subscriber cancels, or empty string"
}`, Sanitize(vendor.Name))
}
