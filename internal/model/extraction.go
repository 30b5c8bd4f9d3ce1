package model

import "time"

// EmailType is the classifier's judgment of what kind of message this is.
type EmailType string

// Email type constants.
const (
	EmailSubscriptionConfirmation EmailType = "subscription_confirmation"
	EmailPaymentReceipt           EmailType = "payment_receipt"
	EmailRenewalNotice            EmailType = "renewal_notice"
	EmailTrialNotice              EmailType = "trial_notice"
	EmailPriceChange              EmailType = "price_change"
	EmailCancellationConfirmation EmailType = "cancellation_confirmation"
	EmailPromotional              EmailType = "promotional"
	EmailOther                    EmailType = "other"
)

// EmailClassification is the classifier's verdict on a single message.
type EmailClassification struct {
	EmailType             EmailType
	Reason                string
	Confidence            float64
	IsSubscriptionRelated bool
}

// Field names used as keys in ExtractedSubscription.FieldConfidences and as
// weight-table keys in the confidence aggregator.
const (
	FieldServiceName  = "service_name"
	FieldPrice        = "price"
	FieldCurrency     = "currency"
	FieldBillingCycle = "billing_cycle"
	FieldRenewalDate  = "renewal_date"
	FieldCategory     = "category"
)

// ExtractedSubscription holds the structured billing facts pulled from one
// message, with a per-field confidence map in [0,1].
type ExtractedSubscription struct {
	FieldConfidences map[string]float64
	NextRenewalAt    *time.Time
	ServiceName      string
	Currency         string
	Category         string
	CancellationURL  string
	BillingCycle     BillingCycle
	Price            float64
	IsTrial          bool
	IsCancellation   bool
}
