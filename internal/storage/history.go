package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/subscout/subscout/internal/model"
)

// SaveHistoryEntry appends a change to a subscription's ledger. Entries are
// immutable once written.
func (s *SQLiteStorage) SaveHistoryEntry(ctx context.Context, entry *model.HistoryEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveHistoryEntryTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) saveHistoryEntryTx(ctx context.Context, q queryable, entry *model.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.ID == "" || entry.SubscriptionID == "" || entry.ChangeType == "" {
		return fmt.Errorf("%w: history entry requires id, subscription id and change type", ErrNilParameter)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO subscription_history (
			id, subscription_id, change_type, old_value, new_value, email_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.SubscriptionID,
		string(entry.ChangeType),
		entry.OldValue,
		entry.NewValue,
		entry.EmailRecordID,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	return nil
}

// GetHistory retrieves a subscription's change ledger in chronological order.
func (s *SQLiteStorage) GetHistory(ctx context.Context, subscriptionID string) ([]model.HistoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(subscriptionID, "subscriptionID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, change_type, old_value, new_value, email_id, created_at
		FROM subscription_history
		WHERE subscription_id = ?
		ORDER BY created_at, id
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.HistoryEntry
	for rows.Next() {
		var entry model.HistoryEntry
		var changeType string
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.SubscriptionID,
			&changeType,
			&entry.OldValue,
			&entry.NewValue,
			&entry.EmailRecordID,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", scanErr)
		}
		entry.ChangeType = model.ChangeType(changeType)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
