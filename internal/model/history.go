package model

import "time"

// ChangeType tags a field-level transition in the subscription history ledger.
type ChangeType string

// Change type constants.
const (
	ChangeCreated         ChangeType = "CREATED"
	ChangeServiceName     ChangeType = "SERVICE_NAME"
	ChangePrice           ChangeType = "PRICE"
	ChangeCurrency        ChangeType = "CURRENCY"
	ChangeBillingCycle    ChangeType = "BILLING_CYCLE"
	ChangeRenewalDate     ChangeType = "RENEWAL_DATE"
	ChangeCategory        ChangeType = "CATEGORY"
	ChangeCancellationURL ChangeType = "CANCELLATION_URL"
	ChangeStatus          ChangeType = "STATUS"
	ChangeReviewFlag      ChangeType = "REVIEW_FLAG"
	ChangeRenewalAdvanced ChangeType = "RENEWAL_ADVANCED"
	ChangeRenewalOverdue  ChangeType = "RENEWAL_OVERDUE"
)

// HistoryEntry is one append-only row in a subscription's change ledger.
// Entries are never mutated after being written; EmailRecordID links the
// change back to the message that caused it and is empty for maintenance
// transitions such as renewal advancement.
type HistoryEntry struct {
	CreatedAt      time.Time
	ID             string
	SubscriptionID string
	ChangeType     ChangeType
	OldValue       string
	NewValue       string
	EmailRecordID  string
}
