// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/subscout/subscout/internal/model"
)

// SubscriptionFilter defines filtering options for subscription queries.
type SubscriptionFilter struct {
	UserID    string
	AccountID string
	Status    model.SubscriptionStatus
	Limit     int
	Offset    int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Email account operations
	SaveAccount(ctx context.Context, account *model.EmailAccount) error
	GetAccount(ctx context.Context, id string) (*model.EmailAccount, error)
	GetAccountByAddress(ctx context.Context, address string) (*model.EmailAccount, error)
	ListAccounts(ctx context.Context) ([]model.EmailAccount, error)
	UpdateAccountSyncTime(ctx context.Context, id string, syncedAt time.Time) error

	// Email record operations
	CreateEmailRecord(ctx context.Context, record *model.EmailRecord) error
	GetEmailRecord(ctx context.Context, id string) (*model.EmailRecord, error)
	GetEmailRecordByExternalID(ctx context.Context, accountID, externalID string) (*model.EmailRecord, error)
	GetPendingEmails(ctx context.Context, accountID string, limit int) ([]model.EmailRecord, error)
	UpdateEmailStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error
	MarkEmailQueued(ctx context.Context, id string) (bool, error)
	ClaimEmail(ctx context.Context, id string) (bool, error)
	ReleaseEmail(ctx context.Context, id string) error
	MarkEmailCompleted(ctx context.Context, id, subscriptionID string) error
	RequeueStuckEmails(ctx context.Context, accountID string) (int, error)
	CountEmailsByStatus(ctx context.Context, accountID string) (map[model.RecordStatus]int, error)

	// Subscription operations
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	FindSubscriptionByService(ctx context.Context, accountID, serviceName string) (*model.Subscription, error)
	GetSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]model.Subscription, error)
	GetSubscriptionsDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.Subscription, error)
	GetOverdueSubscriptions(ctx context.Context, asOf time.Time) ([]model.Subscription, error)

	// History operations
	SaveHistoryEntry(ctx context.Context, entry *model.HistoryEntry) error
	GetHistory(ctx context.Context, subscriptionID string) ([]model.HistoryEntry, error)

	// Alert operations
	SaveAlert(ctx context.Context, alert *model.Alert) error
	HasRecentAlert(ctx context.Context, subscriptionID string, alertType model.AlertType, since time.Time) (bool, error)
	GetPendingAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, sentAt *time.Time) error

	// Vendor operations
	GetVendor(ctx context.Context, name string) (*model.Vendor, error)
	SaveVendor(ctx context.Context, vendor *model.Vendor) error
	GetAllVendors(ctx context.Context) ([]model.Vendor, error)
	GetVendorsNeedingEnrichment(ctx context.Context, limit int) ([]model.Vendor, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// MailSource fetches messages from an external mailbox provider.
type MailSource interface {
	Fetch(ctx context.Context, account model.EmailAccount, since *time.Time) ([]model.InboundEmail, error)
}

// ScanStats shows the results of a mailbox scan.
type ScanStats struct {
	AccountsScanned int
	MessagesFetched int
	NewRecords      int
	Duplicates      int
	QueueRejected   int
	Processing      ProcessStats
	Duration        time.Duration
}

// ProcessStats shows the results of a pipeline run over pending emails.
type ProcessStats struct {
	Processed            int
	Completed            int
	AutoAccepted         int
	NeedsReview          int
	Skipped              int
	Failed               int
	SubscriptionsCreated int
	SubscriptionsUpdated int
	Duration             time.Duration
}

// Add folds another pass's counters into s. Durations sum.
func (s *ProcessStats) Add(other ProcessStats) {
	s.Processed += other.Processed
	s.Completed += other.Completed
	s.AutoAccepted += other.AutoAccepted
	s.NeedsReview += other.NeedsReview
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.SubscriptionsCreated += other.SubscriptionsCreated
	s.SubscriptionsUpdated += other.SubscriptionsUpdated
	s.Duration += other.Duration
}

// RenewalStats shows the results of a renewal maintenance sweep.
type RenewalStats struct {
	Examined int
	Advanced int
	Overdue  int
}

// AlertStats shows the results of an alert generation pass.
type AlertStats struct {
	Scanned      int
	Created      int
	Deduplicated int
}

// EnrichStats shows the results of a vendor enrichment pass.
type EnrichStats struct {
	Examined int
	Enriched int
	Failed   int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
