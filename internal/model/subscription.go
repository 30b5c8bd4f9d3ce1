package model

import (
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a tracked subscription.
type SubscriptionStatus string

// Subscription status constants.
const (
	SubscriptionActive        SubscriptionStatus = "ACTIVE"
	SubscriptionTrialActive   SubscriptionStatus = "TRIAL_ACTIVE"
	SubscriptionPendingReview SubscriptionStatus = "PENDING_REVIEW"
	SubscriptionCancelled     SubscriptionStatus = "CANCELLED"
	SubscriptionArchived      SubscriptionStatus = "ARCHIVED"
)

// BillingCycle is the recurrence unit of a subscription's price.
type BillingCycle string

// Billing cycle constants.
const (
	CycleWeekly    BillingCycle = "WEEKLY"
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleAnnual    BillingCycle = "ANNUAL"
	CycleUnknown   BillingCycle = "UNKNOWN"
)

// ParseBillingCycle maps free-form billing cycle text to a known cycle.
// Unparseable text maps to CycleUnknown rather than failing.
func ParseBillingCycle(text string) BillingCycle {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "weekly", "week", "per week", "/week", "7 days":
		return CycleWeekly
	case "monthly", "month", "per month", "/month", "30 days", "mo":
		return CycleMonthly
	case "quarterly", "quarter", "per quarter", "3 months", "every 3 months":
		return CycleQuarterly
	case "annual", "annually", "yearly", "year", "per year", "/year", "12 months":
		return CycleAnnual
	default:
		return CycleUnknown
	}
}

// NextAfter returns the renewal date advanced by one canonical cycle increment.
// An unknown cycle leaves the date unmodified.
func (c BillingCycle) NextAfter(t time.Time) time.Time {
	switch c {
	case CycleWeekly:
		return t.AddDate(0, 0, 7)
	case CycleMonthly:
		return t.AddDate(0, 1, 0)
	case CycleQuarterly:
		return t.AddDate(0, 3, 0)
	case CycleAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// Subscription is one recognized recurring paid service per account.
type Subscription struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActivityAt  time.Time
	NextRenewalAt   *time.Time
	CancelledAt     *time.Time
	ID              string
	UserID          string
	AccountID       string
	ServiceName     string
	VendorID        string
	Currency        string
	Category        string
	CancellationURL string
	Status          SubscriptionStatus
	BillingCycle    BillingCycle
	Price           float64
	Confidence      float64
	RequiresReview  bool
}

// NormalizeServiceName produces the case-insensitive matching key used when
// reconciling extractions against existing subscriptions.
func NormalizeServiceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RenewsWithin reports whether the subscription has a renewal date falling
// between now and now+window.
func (s *Subscription) RenewsWithin(now time.Time, window time.Duration) bool {
	if s.NextRenewalAt == nil {
		return false
	}
	r := *s.NextRenewalAt
	return !r.Before(now) && !r.After(now.Add(window))
}
