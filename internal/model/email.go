// Package model defines the core domain models used throughout the application.
package model

import "time"

// RecordStatus tracks an email record through the processing pipeline.
type RecordStatus string

// Record status constants.
const (
	RecordPending    RecordStatus = "PENDING"
	RecordQueued     RecordStatus = "QUEUED"
	RecordProcessing RecordStatus = "PROCESSING"
	RecordCompleted  RecordStatus = "COMPLETED"
	RecordFailed     RecordStatus = "FAILED"
)

// IsTerminal reports whether the status is a final pipeline state.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordCompleted || s == RecordFailed
}

// Priority is the dispatch tier assigned to an email record at intake.
type Priority string

// Priority tiers, ordered high to low.
const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// PriorityForAge assigns a dispatch tier from the message age at intake time:
// messages received within 24 hours are high, within 7 days normal, older low.
func PriorityForAge(receivedAt, now time.Time) Priority {
	age := now.Sub(receivedAt)
	switch {
	case age < 24*time.Hour:
		return PriorityHigh
	case age < 7*24*time.Hour:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// InboundEmail is a raw message handed to intake by a mail source.
// ExternalID is the provider-assigned message id, unique within an account.
type InboundEmail struct {
	ReceivedAt time.Time
	AccountID  string
	ExternalID string
	Sender     string
	Subject    string
	Body       string
}

// EmailRecord is the durable processing record created for each ingested
// message. The (AccountID, ExternalID) pair is unique; re-ingesting the same
// provider message resolves to the existing record.
type EmailRecord struct {
	ReceivedAt     time.Time
	CreatedAt      time.Time
	ProcessedAt    *time.Time
	ID             string
	AccountID      string
	ExternalID     string
	Sender         string
	Subject        string
	Body           string
	Status         RecordStatus
	Priority       Priority
	Error          string
	SubscriptionID string
}
