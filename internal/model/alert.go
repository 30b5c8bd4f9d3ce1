package model

import "time"

// AlertType identifies what a pending alert is about.
type AlertType string

// Alert type constants.
const (
	AlertRenewalUpcoming7Days AlertType = "RENEWAL_UPCOMING_7D"
	AlertRenewalUpcoming3Days AlertType = "RENEWAL_UPCOMING_3D"
	AlertPriceIncrease        AlertType = "PRICE_INCREASE"
	AlertTrialEnding          AlertType = "TRIAL_ENDING"
	AlertUnusedSubscription   AlertType = "UNUSED_SUBSCRIPTION"
)

// AlertStatus is the delivery state of an alert. Delivery itself happens
// outside this core; the pipeline only creates Pending rows.
type AlertStatus string

// Alert status constants.
const (
	AlertPending AlertStatus = "PENDING"
	AlertSent    AlertStatus = "SENT"
	AlertFailed  AlertStatus = "FAILED"
)

// AlertLookback is the window within which a (subscription, type) pair is
// considered already alerted; the renewal scanner checks it before creating
// a new alert.
const AlertLookback = 30 * 24 * time.Hour

// Alert is a scheduled notification derived from subscription state.
type Alert struct {
	ScheduledAt    time.Time
	CreatedAt      time.Time
	SentAt         *time.Time
	ID             string
	UserID         string
	SubscriptionID string
	Type           AlertType
	Message        string
	Status         AlertStatus
	RetryCount     int
}
