// Package confidence turns per-field extraction confidences into a
// single disposition for the reconciler.
package confidence

import (
	"fmt"

	"github.com/subscout/subscout/internal/model"
)

// Disposition describes how much human attention an extraction needs.
type Disposition string

// Extraction dispositions ordered from most to least trusted.
const (
	AutoAccept   Disposition = "auto_accept"
	AcceptNotify Disposition = "accept_notify"
	AcceptReview Disposition = "accept_review"
)

// Thresholds separating the dispositions.
const (
	AutoAcceptThreshold = 0.85
	NotifyThreshold     = 0.60
)

// fieldWeights encode how much each extracted field contributes to the
// overall score. Identity and price dominate; currency barely matters
// because it is almost always inferable.
var fieldWeights = []struct {
	field  string
	weight float64
}{
	{model.FieldServiceName, 0.25},
	{model.FieldPrice, 0.25},
	{model.FieldBillingCycle, 0.20},
	{model.FieldRenewalDate, 0.15},
	{model.FieldCategory, 0.10},
	{model.FieldCurrency, 0.05},
}

// Assessment is the outcome of scoring one extraction.
type Assessment struct {
	Disposition    Disposition
	Warnings       []string
	Overall        float64
	RequiresReview bool
}

// Evaluate computes the weighted overall confidence for an extraction
// and assigns its disposition. Only fields the model actually reported
// participate in the weighted average; an extraction with no reported
// fields scores zero.
func Evaluate(extraction model.ExtractedSubscription) Assessment {
	var weighted, totalWeight float64
	for _, fw := range fieldWeights {
		c, ok := extraction.FieldConfidences[fw.field]
		if !ok {
			continue
		}
		weighted += c * fw.weight
		totalWeight += fw.weight
	}

	var overall float64
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}

	assessment := Assessment{Overall: overall}
	switch {
	case overall >= AutoAcceptThreshold:
		assessment.Disposition = AutoAccept
	case overall >= NotifyThreshold:
		assessment.Disposition = AcceptNotify
	default:
		assessment.Disposition = AcceptReview
		assessment.RequiresReview = true
	}

	assessment.Warnings = criticalFieldWarnings(extraction)

	return assessment
}

// criticalFieldWarnings reports gaps that make a subscription record hard
// to act on, independent of how confident the model was about the rest.
func criticalFieldWarnings(extraction model.ExtractedSubscription) []string {
	var warnings []string
	if extraction.ServiceName == "" {
		warnings = append(warnings, "service name is empty")
	}
	if extraction.Price <= 0 {
		warnings = append(warnings, fmt.Sprintf("price %.2f is not positive", extraction.Price))
	}
	if extraction.BillingCycle == model.CycleUnknown {
		warnings = append(warnings, "billing cycle could not be determined")
	}
	if extraction.NextRenewalAt == nil {
		warnings = append(warnings, "no renewal date found")
	}
	return warnings
}
