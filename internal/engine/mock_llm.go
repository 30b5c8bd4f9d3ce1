package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

// MockClassifier is a test implementation of the Classifier interface. It
// returns deterministic verdicts keyed on message content, so pipeline
// tests read like the mailbox they describe.
type MockClassifier struct {
	calls []model.EmailRecord
	mu    sync.Mutex
}

// NewMockClassifier creates a new mock classifier.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

// ClassifyEmail derives a verdict from the message: senders containing
// "promo" or "newsletter" are not subscription-related, a subject
// containing "malformed" simulates a fatal model response, and everything
// else is subscription-related with a type inferred from the subject.
func (m *MockClassifier) ClassifyEmail(_ context.Context, email model.EmailRecord) (model.EmailClassification, error) {
	m.mu.Lock()
	m.calls = append(m.calls, email)
	m.mu.Unlock()

	subject := strings.ToLower(email.Subject)
	if strings.Contains(subject, "malformed") {
		return model.EmailClassification{}, fmt.Errorf("%w: invalid character '<'", common.ErrFatalResponse)
	}

	sender := strings.ToLower(email.Sender)
	if strings.Contains(sender, "promo") || strings.Contains(sender, "newsletter") {
		return model.EmailClassification{
			IsSubscriptionRelated: false,
			Confidence:            0.9,
			EmailType:             model.EmailPromotional,
			Reason:                "marketing blast",
		}, nil
	}

	emailType := model.EmailPaymentReceipt
	switch {
	case strings.Contains(subject, "trial"):
		emailType = model.EmailTrialNotice
	case strings.Contains(subject, "cancel"):
		emailType = model.EmailCancellationConfirmation
	case strings.Contains(subject, "price"):
		emailType = model.EmailPriceChange
	}

	return model.EmailClassification{
		IsSubscriptionRelated: true,
		Confidence:            0.93,
		EmailType:             emailType,
		Reason:                "billing mail",
	}, nil
}

// CallCount returns the number of classification calls made.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetCalls returns a copy of the records classified so far.
func (m *MockClassifier) GetCalls() []model.EmailRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]model.EmailRecord, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// MockExtractor is a test implementation of the Extractor interface with
// deterministic billing facts per known sender.
type MockExtractor struct {
	calls []model.EmailRecord
	mu    sync.Mutex
}

// NewMockExtractor creates a new mock extractor.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// ExtractSubscription returns fixed billing facts for known senders. A
// subject containing "vague" yields low field confidences, pushing the
// extraction into the review tier.
func (m *MockExtractor) ExtractSubscription(_ context.Context, email model.EmailRecord) (model.ExtractedSubscription, error) {
	m.mu.Lock()
	m.calls = append(m.calls, email)
	m.mu.Unlock()

	sender := strings.ToLower(email.Sender)
	subject := strings.ToLower(email.Subject)

	extraction := model.ExtractedSubscription{
		ServiceName:  "Acme Box",
		Price:        4.99,
		Currency:     "USD",
		BillingCycle: model.CycleMonthly,
		Category:     "Shopping",
	}
	switch {
	case strings.Contains(sender, "netflix"):
		renewal := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
		extraction = model.ExtractedSubscription{
			ServiceName:   "Netflix",
			Price:         15.99,
			Currency:      "USD",
			BillingCycle:  model.CycleMonthly,
			NextRenewalAt: &renewal,
			Category:      "Entertainment",
		}
	case strings.Contains(sender, "spotify"):
		extraction = model.ExtractedSubscription{
			ServiceName:  "Spotify",
			Price:        10.99,
			Currency:     "USD",
			BillingCycle: model.CycleMonthly,
			Category:     "Music",
		}
	}

	extraction.IsTrial = strings.Contains(subject, "trial")
	extraction.IsCancellation = strings.Contains(subject, "cancel")

	score := 0.9
	if strings.Contains(subject, "vague") {
		score = 0.4
	}
	extraction.FieldConfidences = map[string]float64{
		model.FieldServiceName:  score,
		model.FieldPrice:        score,
		model.FieldCurrency:     score,
		model.FieldBillingCycle: score,
		model.FieldCategory:     score,
	}

	return extraction, nil
}

// CallCount returns the number of extraction calls made.
func (m *MockExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockEnricher is a test implementation of the Enricher interface. Vendor
// names containing "unknown" fail the lookup; everything else gets
// deterministic directory details.
type MockEnricher struct {
	calls []model.Vendor
	mu    sync.Mutex
}

// NewMockEnricher creates a new mock enricher.
func NewMockEnricher() *MockEnricher {
	return &MockEnricher{}
}

// EnrichVendor fills in Category, Website, and CancellationURL derived
// from the vendor name and clears the enrichment flag.
func (m *MockEnricher) EnrichVendor(_ context.Context, vendor model.Vendor) (model.Vendor, error) {
	m.mu.Lock()
	m.calls = append(m.calls, vendor)
	m.mu.Unlock()

	if strings.Contains(strings.ToLower(vendor.Name), "unknown") {
		return model.Vendor{}, fmt.Errorf("%w: vendor lookup timed out", common.ErrMaxRetries)
	}

	slug := strings.ToLower(strings.ReplaceAll(vendor.Name, " ", ""))
	if vendor.Category == "" {
		vendor.Category = "Streaming"
	}
	if vendor.Website == "" {
		vendor.Website = "https://www." + slug + ".example.com"
	}
	if vendor.CancellationURL == "" {
		vendor.CancellationURL = "https://www." + slug + ".example.com/cancel"
	}
	now := time.Now().UTC()
	vendor.EnrichedAt = &now
	vendor.NeedsEnrichment = false

	return vendor, nil
}

// CallCount returns the number of enrichment calls made.
func (m *MockEnricher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
