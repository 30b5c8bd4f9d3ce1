package engine

import (
	"context"

	"github.com/subscout/subscout/internal/model"
)

// Classifier decides whether a message concerns a paid subscription.
type Classifier interface {
	ClassifyEmail(ctx context.Context, email model.EmailRecord) (model.EmailClassification, error)
}

// Extractor pulls structured billing facts out of a message the classifier
// marked subscription-related.
type Extractor interface {
	ExtractSubscription(ctx context.Context, email model.EmailRecord) (model.ExtractedSubscription, error)
}

// Enricher fills in directory details for a vendor stub.
type Enricher interface {
	EnrichVendor(ctx context.Context, vendor model.Vendor) (model.Vendor, error)
}
