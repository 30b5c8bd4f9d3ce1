package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	Classify(ctx context.Context, prompt string) (ClassificationResponse, error)
	Extract(ctx context.Context, prompt string) (ExtractionResponse, error)
	EnrichVendor(ctx context.Context, prompt string) (VendorInfoResponse, error)
}

// Config holds configuration for the LLM layer.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	CacheTTL    time.Duration
	Temperature float64
	MaxTokens   int
}

// ClassificationResponse is the wire-level classification verdict.
type ClassificationResponse struct {
	EmailType             string
	Reason                string
	Confidence            float64
	IsSubscriptionRelated bool
}

// ExtractionResponse is the wire-level extraction result. Dates and billing
// cycles arrive as free-form strings and are normalized by the Extractor.
type ExtractionResponse struct {
	FieldConfidences map[string]float64
	ServiceName      string
	Currency         string
	BillingCycle     string
	NextRenewalDate  string
	Category         string
	CancellationURL  string
	Price            float64
	IsTrial          bool
	IsCancellation   bool
}

// VendorInfoResponse is the wire-level vendor enrichment result. Fields the
// model could not determine arrive empty.
type VendorInfoResponse struct {
	Category        string
	Website         string
	CancellationURL string
}
