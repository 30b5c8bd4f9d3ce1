package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subscout/subscout/internal/common"
)

func TestParseClassification(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		content := `{"is_subscription_related": true, "confidence": 0.92, "email_type": "payment_receipt", "reason": "Monthly Netflix charge"}`

		got, err := parseClassification(content)

		require.NoError(t, err)
		assert.True(t, got.IsSubscriptionRelated)
		assert.InDelta(t, 0.92, got.Confidence, 1e-9)
		assert.Equal(t, "payment_receipt", got.EmailType)
		assert.Equal(t, "Monthly Netflix charge", got.Reason)
	})

	t.Run("markdown fenced response", func(t *testing.T) {
		content := "```json\n{\"is_subscription_related\": false, \"confidence\": 0.8, \"email_type\": \"promotional\", \"reason\": \"ad\"}\n```"

		got, err := parseClassification(content)

		require.NoError(t, err)
		assert.False(t, got.IsSubscriptionRelated)
		assert.Equal(t, "promotional", got.EmailType)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		got, err := parseClassification(`{"is_subscription_related": true, "confidence": 1.7, "email_type": "other", "reason": ""}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.Confidence)

		got, err = parseClassification(`{"is_subscription_related": true, "confidence": -0.3, "email_type": "other", "reason": ""}`)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got.Confidence)
	})

	t.Run("prose instead of JSON is fatal", func(t *testing.T) {
		_, err := parseClassification("I believe this email is about a subscription.")

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})

	t.Run("empty content is fatal", func(t *testing.T) {
		_, err := parseClassification("   ")

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})
}

func TestParseExtraction(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		content := `{
			"service_name": "Spotify",
			"price": 10.99,
			"currency": "USD",
			"billing_cycle": "monthly",
			"next_renewal_date": "2025-09-01",
			"category": "Streaming",
			"cancellation_url": "https://spotify.com/cancel",
			"is_trial": false,
			"is_cancellation": false,
			"field_confidences": {"service_name": 0.95, "price": 0.9, "billing_cycle": 1.4}
		}`

		got, err := parseExtraction(content)

		require.NoError(t, err)
		assert.Equal(t, "Spotify", got.ServiceName)
		assert.InDelta(t, 10.99, got.Price, 1e-9)
		assert.Equal(t, "2025-09-01", got.NextRenewalDate)
		assert.Equal(t, "https://spotify.com/cancel", got.CancellationURL)
		// Out-of-range map scores are clamped too.
		assert.Equal(t, 1.0, got.FieldConfidences["billing_cycle"])
		assert.InDelta(t, 0.95, got.FieldConfidences["service_name"], 1e-9)
	})

	t.Run("missing fields decode to zero values", func(t *testing.T) {
		got, err := parseExtraction(`{"service_name": "Hulu"}`)

		require.NoError(t, err)
		assert.Equal(t, "Hulu", got.ServiceName)
		assert.Zero(t, got.Price)
		assert.Empty(t, got.NextRenewalDate)
		assert.Nil(t, got.FieldConfidences)
	})

	t.Run("malformed JSON is fatal", func(t *testing.T) {
		_, err := parseExtraction(`{"service_name": "Spotify",`)

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})

	t.Run("empty content is fatal", func(t *testing.T) {
		_, err := parseExtraction("")

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})
}

func TestParseVendorInfo(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		content := `{"category": "Streaming", "website": "https://netflix.com", "cancellation_url": "https://netflix.com/cancelplan"}`

		got, err := parseVendorInfo(content)

		require.NoError(t, err)
		assert.Equal(t, "Streaming", got.Category)
		assert.Equal(t, "https://netflix.com", got.Website)
		assert.Equal(t, "https://netflix.com/cancelplan", got.CancellationURL)
	})

	t.Run("unknown fields decode to empty strings", func(t *testing.T) {
		got, err := parseVendorInfo(`{"category": "News", "website": "", "cancellation_url": ""}`)

		require.NoError(t, err)
		assert.Equal(t, "News", got.Category)
		assert.Empty(t, got.Website)
		assert.Empty(t, got.CancellationURL)
	})

	t.Run("malformed JSON is fatal", func(t *testing.T) {
		_, err := parseVendorInfo(`<html>rate limited</html>`)

		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrFatalResponse)
	})
}

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare JSON untouched", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "json fence stripped", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "plain fence stripped", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "surrounding whitespace trimmed", in: "  {\"a\": 1}\n", want: `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanMarkdownWrapper(tt.in))
		})
	}
}
