package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					address TEXT UNIQUE NOT NULL,
					provider TEXT,
					last_synced_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS emails (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					external_id TEXT NOT NULL,
					sender TEXT NOT NULL,
					subject TEXT,
					body TEXT,
					received_at DATETIME NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING',
					priority TEXT NOT NULL DEFAULT 'NORMAL',
					error TEXT,
					subscription_id TEXT,
					processed_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(account_id, external_id)
				)`,
				`CREATE INDEX idx_emails_status ON emails(account_id, status)`,
				`CREATE INDEX idx_emails_received ON emails(received_at)`,

				`CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					account_id TEXT NOT NULL,
					service_name TEXT NOT NULL,
					vendor_id TEXT,
					price REAL DEFAULT 0,
					currency TEXT,
					billing_cycle TEXT NOT NULL DEFAULT 'UNKNOWN',
					next_renewal_at DATETIME,
					category TEXT,
					status TEXT NOT NULL DEFAULT 'ACTIVE',
					cancellation_url TEXT,
					requires_review BOOLEAN DEFAULT 0,
					confidence REAL DEFAULT 0,
					last_activity_at DATETIME,
					cancelled_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_subscriptions_account ON subscriptions(account_id)`,
				`CREATE INDEX idx_subscriptions_service ON subscriptions(account_id, service_name)`,

				`CREATE TABLE IF NOT EXISTS subscription_history (
					id TEXT PRIMARY KEY,
					subscription_id TEXT NOT NULL,
					change_type TEXT NOT NULL,
					old_value TEXT,
					new_value TEXT,
					email_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (subscription_id) REFERENCES subscriptions(id)
				)`,
				`CREATE INDEX idx_history_subscription ON subscription_history(subscription_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add alerts table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					subscription_id TEXT NOT NULL,
					type TEXT NOT NULL,
					message TEXT,
					scheduled_at DATETIME,
					sent_at DATETIME,
					status TEXT NOT NULL DEFAULT 'PENDING',
					retry_count INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (subscription_id) REFERENCES subscriptions(id)
				)`,
				`CREATE INDEX idx_alerts_subscription_type ON alerts(subscription_id, type, created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add vendor directory",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS vendors (
					id TEXT PRIMARY KEY,
					name TEXT UNIQUE NOT NULL,
					category TEXT,
					website TEXT,
					cancellation_url TEXT,
					needs_enrichment BOOLEAN DEFAULT 1,
					enriched_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
	{
		Version:     4,
		Description: "Index renewal scanning",
		Up: func(tx *sql.Tx) error {
			// The renewal sweep and alert scanner both query by status plus
			// renewal date; without this index they walk the whole table.
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_subscriptions_renewal ON subscriptions(status, next_renewal_at)`)
			return err
		},
	},
}

// SchemaVersion reports the database's current migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
