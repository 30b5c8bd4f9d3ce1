package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/resilience"
)

// mockClient is a test implementation of the Client interface.
type mockClient struct {
	classifyResponses []ClassificationResponse
	classifyErrors    []error
	extractResponses  []ExtractionResponse
	extractErrors     []error
	enrichResponses   []VendorInfoResponse
	enrichErrors      []error
	classifyCalls     int
	extractCalls      int
	enrichCalls       int
	mu                sync.Mutex
}

func (m *mockClient) Classify(_ context.Context, _ string) (ClassificationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callIdx := m.classifyCalls
	m.classifyCalls++

	if callIdx < len(m.classifyErrors) && m.classifyErrors[callIdx] != nil {
		return ClassificationResponse{}, m.classifyErrors[callIdx]
	}
	if callIdx < len(m.classifyResponses) {
		return m.classifyResponses[callIdx], nil
	}
	return ClassificationResponse{}, fmt.Errorf("no more mock responses (call %d)", callIdx)
}

func (m *mockClient) Extract(_ context.Context, _ string) (ExtractionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callIdx := m.extractCalls
	m.extractCalls++

	if callIdx < len(m.extractErrors) && m.extractErrors[callIdx] != nil {
		return ExtractionResponse{}, m.extractErrors[callIdx]
	}
	if callIdx < len(m.extractResponses) {
		return m.extractResponses[callIdx], nil
	}
	return ExtractionResponse{}, fmt.Errorf("no more mock responses (call %d)", callIdx)
}

func (m *mockClient) EnrichVendor(_ context.Context, _ string) (VendorInfoResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callIdx := m.enrichCalls
	m.enrichCalls++

	if callIdx < len(m.enrichErrors) && m.enrichErrors[callIdx] != nil {
		return VendorInfoResponse{}, m.enrichErrors[callIdx]
	}
	if callIdx < len(m.enrichResponses) {
		return m.enrichResponses[callIdx], nil
	}
	return VendorInfoResponse{}, fmt.Errorf("no more mock responses (call %d)", callIdx)
}

func (m *mockClient) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifyCalls, m.extractCalls
}

// newTestExecutor returns an executor that retries in microseconds and
// whose breaker will not trip during a short test.
func newTestExecutor() *resilience.Executor {
	return resilience.New(resilience.Config{
		MaxConcurrent:  4,
		MaxAttempts:    3,
		InitialDelay:   1 * time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		Multiplier:     2.0,
		SamplingWindow: 1 * time.Minute,
		BreakDuration:  1 * time.Minute,
		MinThroughput:  1000,
	})
}

func testEmail(externalID string) model.EmailRecord {
	return model.EmailRecord{
		ID:         "rec-" + externalID,
		AccountID:  "acct-1",
		ExternalID: externalID,
		Sender:     "info@netflix.com",
		Subject:    "Your Netflix receipt",
		Body:       "Thanks for your payment of $15.99. Your plan renews monthly.",
		ReceivedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestClassifier(t *testing.T) {
	logger := slog.Default()

	t.Run("classifies an email", func(t *testing.T) {
		client := &mockClient{
			classifyResponses: []ClassificationResponse{
				{IsSubscriptionRelated: true, Confidence: 0.93, EmailType: "payment_receipt", Reason: "Netflix charge"},
			},
		}
		classifier := NewClassifier(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = classifier.Close() }()

		verdict, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-1"))

		require.NoError(t, err)
		assert.True(t, verdict.IsSubscriptionRelated)
		assert.Equal(t, model.EmailPaymentReceipt, verdict.EmailType)
		assert.InDelta(t, 0.93, verdict.Confidence, 1e-9)
	})

	t.Run("caches verdicts per provider message", func(t *testing.T) {
		client := &mockClient{
			classifyResponses: []ClassificationResponse{
				{IsSubscriptionRelated: true, Confidence: 0.9, EmailType: "renewal_notice"},
			},
		}
		classifier := NewClassifier(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = classifier.Close() }()

		first, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-1"))
		require.NoError(t, err)
		second, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-1"))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		classifyCalls, _ := client.calls()
		assert.Equal(t, 1, classifyCalls, "second classification should come from cache")
	})

	t.Run("unknown email type maps to other", func(t *testing.T) {
		client := &mockClient{
			classifyResponses: []ClassificationResponse{
				{IsSubscriptionRelated: false, Confidence: 0.5, EmailType: "mystery_meat"},
			},
		}
		classifier := NewClassifier(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = classifier.Close() }()

		verdict, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-2"))

		require.NoError(t, err)
		assert.Equal(t, model.EmailOther, verdict.EmailType)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		client := &mockClient{
			classifyErrors: []error{fmt.Errorf("connection reset"), nil},
			classifyResponses: []ClassificationResponse{
				{}, // consumed by the failing first attempt
				{IsSubscriptionRelated: true, Confidence: 0.8, EmailType: "trial_notice"},
			},
		}
		classifier := NewClassifier(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = classifier.Close() }()

		verdict, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-3"))

		require.NoError(t, err)
		assert.Equal(t, model.EmailTrialNotice, verdict.EmailType)
		classifyCalls, _ := client.calls()
		assert.Equal(t, 2, classifyCalls)
	})

	t.Run("fatal responses are not retried", func(t *testing.T) {
		client := &mockClient{
			classifyErrors: []error{
				fmt.Errorf("%w: invalid character 'I'", common.ErrFatalResponse),
			},
		}
		classifier := NewClassifier(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = classifier.Close() }()

		_, err := classifier.ClassifyEmail(context.Background(), testEmail("msg-4"))

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
		classifyCalls, _ := client.calls()
		assert.Equal(t, 1, classifyCalls, "fatal response must not be retried")
	})
}

func TestExtractor(t *testing.T) {
	logger := slog.Default()

	t.Run("extracts and normalizes billing facts", func(t *testing.T) {
		client := &mockClient{
			extractResponses: []ExtractionResponse{
				{
					ServiceName:     "  Spotify ",
					Price:           10.99,
					Currency:        "usd",
					BillingCycle:    "per month",
					NextRenewalDate: "2025-09-01",
					Category:        "Streaming",
					FieldConfidences: map[string]float64{
						model.FieldServiceName: 0.95,
						model.FieldPrice:       0.9,
					},
				},
			},
		}
		extractor := NewExtractor(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = extractor.Close() }()

		extraction, err := extractor.ExtractSubscription(context.Background(), testEmail("msg-5"))

		require.NoError(t, err)
		assert.Equal(t, "Spotify", extraction.ServiceName)
		assert.Equal(t, "USD", extraction.Currency)
		assert.Equal(t, model.CycleMonthly, extraction.BillingCycle)
		require.NotNil(t, extraction.NextRenewalAt)
		assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), *extraction.NextRenewalAt)
		assert.InDelta(t, 0.95, extraction.FieldConfidences[model.FieldServiceName], 1e-9)
	})

	t.Run("unparseable cycle and date degrade gracefully", func(t *testing.T) {
		client := &mockClient{
			extractResponses: []ExtractionResponse{
				{
					ServiceName:     "Mystery Box",
					Price:           4.99,
					BillingCycle:    "whenever the moon is full",
					NextRenewalDate: "soon",
				},
			},
		}
		extractor := NewExtractor(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = extractor.Close() }()

		extraction, err := extractor.ExtractSubscription(context.Background(), testEmail("msg-6"))

		require.NoError(t, err)
		assert.Equal(t, model.CycleUnknown, extraction.BillingCycle)
		assert.Nil(t, extraction.NextRenewalAt)
	})

	t.Run("caches extractions per provider message", func(t *testing.T) {
		client := &mockClient{
			extractResponses: []ExtractionResponse{
				{ServiceName: "Hulu", Price: 7.99},
			},
		}
		extractor := NewExtractor(client, newTestExecutor(), "test", time.Minute, logger)
		defer func() { _ = extractor.Close() }()

		first, err := extractor.ExtractSubscription(context.Background(), testEmail("msg-7"))
		require.NoError(t, err)
		second, err := extractor.ExtractSubscription(context.Background(), testEmail("msg-7"))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		_, extractCalls := client.calls()
		assert.Equal(t, 1, extractCalls)
	})
}

func TestEnricher(t *testing.T) {
	logger := slog.Default()

	t.Run("fills stub fields and clears the flag", func(t *testing.T) {
		client := &mockClient{
			enrichResponses: []VendorInfoResponse{
				{Category: "Streaming", Website: "https://www.netflix.com", CancellationURL: "https://www.netflix.com/cancelplan"},
			},
		}
		enricher := NewEnricher(client, newTestExecutor(), "test", logger)

		stub := model.Vendor{ID: "vendor-1", Name: "Netflix", NeedsEnrichment: true}
		enriched, err := enricher.EnrichVendor(context.Background(), stub)

		require.NoError(t, err)
		assert.Equal(t, "Streaming", enriched.Category)
		assert.Equal(t, "https://www.netflix.com", enriched.Website)
		assert.Equal(t, "https://www.netflix.com/cancelplan", enriched.CancellationURL)
		assert.False(t, enriched.NeedsEnrichment)
		require.NotNil(t, enriched.EnrichedAt)
	})

	t.Run("keeps fields extracted from emails", func(t *testing.T) {
		client := &mockClient{
			enrichResponses: []VendorInfoResponse{
				{Category: "Entertainment", CancellationURL: "https://guessed.example/cancel"},
			},
		}
		enricher := NewEnricher(client, newTestExecutor(), "test", logger)

		stub := model.Vendor{
			ID:              "vendor-2",
			Name:            "Netflix",
			Category:        "Streaming",
			CancellationURL: "https://www.netflix.com/cancelplan",
			NeedsEnrichment: true,
		}
		enriched, err := enricher.EnrichVendor(context.Background(), stub)

		require.NoError(t, err)
		assert.Equal(t, "Streaming", enriched.Category, "email-sourced category must win")
		assert.Equal(t, "https://www.netflix.com/cancelplan", enriched.CancellationURL)
	})

	t.Run("failed lookup leaves no partial state", func(t *testing.T) {
		client := &mockClient{
			enrichErrors: []error{
				fmt.Errorf("%w: invalid character '<'", common.ErrFatalResponse),
			},
		}
		enricher := NewEnricher(client, newTestExecutor(), "test", logger)

		_, err := enricher.EnrichVendor(context.Background(), model.Vendor{ID: "vendor-3", Name: "Hulu", NeedsEnrichment: true})

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})
}
