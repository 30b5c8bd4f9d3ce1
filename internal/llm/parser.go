package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/subscout/subscout/internal/common"
)

// cleanMarkdownWrapper strips the ```json fences some models wrap around
// their output despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

// parseClassification decodes the classifier's JSON verdict. Content the
// decoder rejects is a fatal response: the same bytes will never parse on
// a retry.
func parseClassification(content string) (ClassificationResponse, error) {
	var jsonResp struct {
		EmailType             string  `json:"email_type"`
		Reason                string  `json:"reason"`
		Confidence            float64 `json:"confidence"`
		IsSubscriptionRelated bool    `json:"is_subscription_related"`
	}

	content = cleanMarkdownWrapper(content)
	if content == "" {
		return ClassificationResponse{}, fmt.Errorf("%w: empty classification content", common.ErrFatalResponse)
	}

	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return ClassificationResponse{}, fmt.Errorf("%w: %v", common.ErrFatalResponse, err)
	}

	return ClassificationResponse{
		IsSubscriptionRelated: jsonResp.IsSubscriptionRelated,
		Confidence:            clampScore(jsonResp.Confidence),
		EmailType:             jsonResp.EmailType,
		Reason:                jsonResp.Reason,
	}, nil
}

// parseExtraction decodes the extractor's JSON result, clamping every
// reported confidence into [0,1].
func parseExtraction(content string) (ExtractionResponse, error) {
	var jsonResp struct {
		FieldConfidences map[string]float64 `json:"field_confidences"`
		ServiceName      string             `json:"service_name"`
		Currency         string             `json:"currency"`
		BillingCycle     string             `json:"billing_cycle"`
		NextRenewalDate  string             `json:"next_renewal_date"`
		Category         string             `json:"category"`
		CancellationURL  string             `json:"cancellation_url"`
		Price            float64            `json:"price"`
		IsTrial          bool               `json:"is_trial"`
		IsCancellation   bool               `json:"is_cancellation"`
	}

	content = cleanMarkdownWrapper(content)
	if content == "" {
		return ExtractionResponse{}, fmt.Errorf("%w: empty extraction content", common.ErrFatalResponse)
	}

	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return ExtractionResponse{}, fmt.Errorf("%w: %v", common.ErrFatalResponse, err)
	}

	response := ExtractionResponse{
		ServiceName:     jsonResp.ServiceName,
		Currency:        jsonResp.Currency,
		BillingCycle:    jsonResp.BillingCycle,
		NextRenewalDate: jsonResp.NextRenewalDate,
		Category:        jsonResp.Category,
		CancellationURL: jsonResp.CancellationURL,
		Price:           jsonResp.Price,
		IsTrial:         jsonResp.IsTrial,
		IsCancellation:  jsonResp.IsCancellation,
	}
	if len(jsonResp.FieldConfidences) > 0 {
		response.FieldConfidences = make(map[string]float64, len(jsonResp.FieldConfidences))
		for field, score := range jsonResp.FieldConfidences {
			response.FieldConfidences[field] = clampScore(score)
		}
	}
	return response, nil
}

// parseVendorInfo decodes the enricher's JSON result.
func parseVendorInfo(content string) (VendorInfoResponse, error) {
	var jsonResp struct {
		Category        string `json:"category"`
		Website         string `json:"website"`
		CancellationURL string `json:"cancellation_url"`
	}

	content = cleanMarkdownWrapper(content)
	if content == "" {
		return VendorInfoResponse{}, fmt.Errorf("%w: empty vendor info content", common.ErrFatalResponse)
	}

	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return VendorInfoResponse{}, fmt.Errorf("%w: %v", common.ErrFatalResponse, err)
	}

	return VendorInfoResponse{
		Category:        jsonResp.Category,
		Website:         jsonResp.Website,
		CancellationURL: jsonResp.CancellationURL,
	}, nil
}

// clampScore bounds a model-reported confidence to [0,1].
func clampScore(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
