package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	cacheExpiry time.Time
	db          *sql.DB
	vendorCache map[string]*model.Vendor
	dbPath      string
	cacheMutex  sync.RWMutex
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:          db,
		dbPath:      dbPath,
		vendorCache: make(map[string]*model.Vendor),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateEmailRecord(ctx context.Context, record *model.EmailRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEmailRecord(record); err != nil {
		return err
	}
	return t.storage.createEmailRecordTx(ctx, t.tx, record)
}

func (t *sqliteTransaction) GetEmailRecord(ctx context.Context, id string) (*model.EmailRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getEmailRecordTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetEmailRecordByExternalID(ctx context.Context, accountID, externalID string) (*model.EmailRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}
	return t.storage.getEmailRecordByExternalIDTx(ctx, t.tx, accountID, externalID)
}

func (t *sqliteTransaction) UpdateEmailStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.updateEmailStatusTx(ctx, t.tx, id, status, errMsg)
}

func (t *sqliteTransaction) MarkEmailCompleted(ctx context.Context, id, subscriptionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.markEmailCompletedTx(ctx, t.tx, id, subscriptionID)
}

func (t *sqliteTransaction) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return t.storage.createSubscriptionTx(ctx, t.tx, sub)
}

func (t *sqliteTransaction) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return t.storage.updateSubscriptionTx(ctx, t.tx, sub)
}

func (t *sqliteTransaction) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getSubscriptionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) FindSubscriptionByService(ctx context.Context, accountID, serviceName string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(serviceName, "serviceName"); err != nil {
		return nil, err
	}
	return t.storage.findSubscriptionByServiceTx(ctx, t.tx, accountID, serviceName)
}

func (t *sqliteTransaction) SaveHistoryEntry(ctx context.Context, entry *model.HistoryEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.saveHistoryEntryTx(ctx, t.tx, entry)
}

func (t *sqliteTransaction) SaveAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return t.storage.saveAlertTx(ctx, t.tx, alert)
}

func (t *sqliteTransaction) HasRecentAlert(ctx context.Context, subscriptionID string, alertType model.AlertType, since time.Time) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(subscriptionID, "subscriptionID"); err != nil {
		return false, err
	}
	return t.storage.hasRecentAlertTx(ctx, t.tx, subscriptionID, alertType, since)
}

func (t *sqliteTransaction) GetVendor(ctx context.Context, name string) (*model.Vendor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getVendorTx(ctx, t.tx, name)
}

func (t *sqliteTransaction) SaveVendor(ctx context.Context, vendor *model.Vendor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVendor(vendor); err != nil {
		return err
	}
	return t.storage.saveVendorTx(ctx, t.tx, vendor)
}

// Methods outside the per-email pipeline pass through to the main storage.
func (t *sqliteTransaction) SaveAccount(ctx context.Context, account *model.EmailAccount) error {
	return t.storage.SaveAccount(ctx, account)
}

func (t *sqliteTransaction) GetAccount(ctx context.Context, id string) (*model.EmailAccount, error) {
	return t.storage.GetAccount(ctx, id)
}

func (t *sqliteTransaction) GetAccountByAddress(ctx context.Context, address string) (*model.EmailAccount, error) {
	return t.storage.GetAccountByAddress(ctx, address)
}

func (t *sqliteTransaction) ListAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	return t.storage.ListAccounts(ctx)
}

func (t *sqliteTransaction) UpdateAccountSyncTime(ctx context.Context, id string, syncedAt time.Time) error {
	return t.storage.UpdateAccountSyncTime(ctx, id, syncedAt)
}

func (t *sqliteTransaction) GetPendingEmails(ctx context.Context, accountID string, limit int) ([]model.EmailRecord, error) {
	return t.storage.GetPendingEmails(ctx, accountID, limit)
}

func (t *sqliteTransaction) MarkEmailQueued(ctx context.Context, id string) (bool, error) {
	return t.storage.MarkEmailQueued(ctx, id)
}

func (t *sqliteTransaction) ClaimEmail(ctx context.Context, id string) (bool, error) {
	return t.storage.ClaimEmail(ctx, id)
}

func (t *sqliteTransaction) ReleaseEmail(ctx context.Context, id string) error {
	return t.storage.ReleaseEmail(ctx, id)
}

func (t *sqliteTransaction) RequeueStuckEmails(ctx context.Context, accountID string) (int, error) {
	return t.storage.RequeueStuckEmails(ctx, accountID)
}

func (t *sqliteTransaction) CountEmailsByStatus(ctx context.Context, accountID string) (map[model.RecordStatus]int, error) {
	return t.storage.CountEmailsByStatus(ctx, accountID)
}

func (t *sqliteTransaction) GetSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	return t.storage.GetSubscriptions(ctx, filter)
}

func (t *sqliteTransaction) GetSubscriptionsDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.Subscription, error) {
	return t.storage.GetSubscriptionsDueWithin(ctx, now, window)
}

func (t *sqliteTransaction) GetOverdueSubscriptions(ctx context.Context, asOf time.Time) ([]model.Subscription, error) {
	return t.storage.GetOverdueSubscriptions(ctx, asOf)
}

func (t *sqliteTransaction) GetHistory(ctx context.Context, subscriptionID string) ([]model.HistoryEntry, error) {
	return t.storage.GetHistory(ctx, subscriptionID)
}

func (t *sqliteTransaction) GetPendingAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return t.storage.GetPendingAlerts(ctx, limit)
}

func (t *sqliteTransaction) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, sentAt *time.Time) error {
	return t.storage.UpdateAlertStatus(ctx, id, status, sentAt)
}

func (t *sqliteTransaction) GetAllVendors(ctx context.Context) ([]model.Vendor, error) {
	return t.storage.GetAllVendors(ctx)
}

func (t *sqliteTransaction) GetVendorsNeedingEnrichment(ctx context.Context, limit int) ([]model.Vendor, error) {
	return t.storage.GetVendorsNeedingEnrichment(ctx, limit)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// queryable abstracts over *sql.DB and *sql.Tx so entity queries can run
// either standalone or inside a transaction.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
