package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

// CreateEmailRecord inserts a processing record for an ingested message.
// Returns common.ErrDuplicateEntry when the (account, external id) pair
// already exists; callers resolve to the existing record instead.
func (s *SQLiteStorage) CreateEmailRecord(ctx context.Context, record *model.EmailRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEmailRecord(record); err != nil {
		return err
	}
	return s.createEmailRecordTx(ctx, s.db, record)
}

func (s *SQLiteStorage) createEmailRecordTx(ctx context.Context, q queryable, record *model.EmailRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = model.RecordPending
	}
	if record.Priority == "" {
		record.Priority = model.PriorityNormal
	}

	result, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			id, account_id, external_id, sender, subject, body,
			received_at, status, priority, error, subscription_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.AccountID,
		record.ExternalID,
		record.Sender,
		record.Subject,
		record.Body,
		record.ReceivedAt,
		string(record.Status),
		string(record.Priority),
		record.Error,
		record.SubscriptionID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert email record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: email %s already ingested for account %s",
			common.ErrDuplicateEntry, record.ExternalID, record.AccountID)
	}

	return nil
}

// GetEmailRecord retrieves a processing record by its internal id.
func (s *SQLiteStorage) GetEmailRecord(ctx context.Context, id string) (*model.EmailRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getEmailRecordTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getEmailRecordTx(ctx context.Context, q queryable, id string) (*model.EmailRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, sender, subject, body,
		       received_at, status, priority, error, subscription_id,
		       processed_at, created_at
		FROM emails
		WHERE id = ?
	`, id)

	record, err := scanEmailRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: email record %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email record: %w", err)
	}
	return record, nil
}

// GetEmailRecordByExternalID retrieves a record by its provider identity.
func (s *SQLiteStorage) GetEmailRecordByExternalID(ctx context.Context, accountID, externalID string) (*model.EmailRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}
	return s.getEmailRecordByExternalIDTx(ctx, s.db, accountID, externalID)
}

func (s *SQLiteStorage) getEmailRecordByExternalIDTx(ctx context.Context, q queryable, accountID, externalID string) (*model.EmailRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, sender, subject, body,
		       received_at, status, priority, error, subscription_id,
		       processed_at, created_at
		FROM emails
		WHERE account_id = ? AND external_id = ?
	`, accountID, externalID)

	record, err := scanEmailRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: email %s for account %s", common.ErrNotFound, externalID, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email record: %w", err)
	}
	return record, nil
}

// GetPendingEmails retrieves records awaiting processing, oldest first.
func (s *SQLiteStorage) GetPendingEmails(ctx context.Context, accountID string, limit int) ([]model.EmailRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, external_id, sender, subject, body,
		       received_at, status, priority, error, subscription_id,
		       processed_at, created_at
		FROM emails
		WHERE account_id = ? AND status = ?
		ORDER BY received_at
		LIMIT ?
	`, accountID, string(model.RecordPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.EmailRecord
	for rows.Next() {
		record, scanErr := scanEmailRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan email record: %w", scanErr)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// UpdateEmailStatus transitions a record's lifecycle status and records the
// failure message when there is one.
func (s *SQLiteStorage) UpdateEmailStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateEmailStatusTx(ctx, s.db, id, status, errMsg)
}

func (s *SQLiteStorage) updateEmailStatusTx(ctx context.Context, q queryable, id string, status model.RecordStatus, errMsg string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE emails SET status = ?, error = ? WHERE id = ?
	`, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: email record %s", common.ErrNotFound, id)
	}

	return nil
}

// MarkEmailCompleted finalizes a record, stamping the processed time and the
// subscription the message resolved to (empty for non-subscription mail).
func (s *SQLiteStorage) MarkEmailCompleted(ctx context.Context, id, subscriptionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.markEmailCompletedTx(ctx, s.db, id, subscriptionID)
}

func (s *SQLiteStorage) markEmailCompletedTx(ctx context.Context, q queryable, id, subscriptionID string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE emails
		SET status = ?, subscription_id = ?, processed_at = ?, error = ''
		WHERE id = ?
	`, string(model.RecordCompleted), subscriptionID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark email completed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: email record %s", common.ErrNotFound, id)
	}

	return nil
}

// MarkEmailQueued moves a pending record into the queued state, reporting
// whether the transition happened. A record another pass has advanced
// beyond PENDING is left untouched.
func (s *SQLiteStorage) MarkEmailQueued(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = ? WHERE id = ? AND status = ?
	`, string(model.RecordQueued), id, string(model.RecordPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark email queued: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ClaimEmail claims a record for processing. The claim is refused when the
// record is already completed: the same message can reach two pipeline
// passes, and only the first finisher counts.
func (s *SQLiteStorage) ClaimEmail(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = ?, error = '' WHERE id = ? AND status != ?
	`, string(model.RecordProcessing), id, string(model.RecordCompleted))
	if err != nil {
		return false, fmt.Errorf("failed to claim email: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ReleaseEmail hands a queued or claimed record back to PENDING. Terminal
// records are left untouched, so releasing after a lost race is harmless.
func (s *SQLiteStorage) ReleaseEmail(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = ?, error = '' WHERE id = ? AND status IN (?, ?)
	`, string(model.RecordPending), id,
		string(model.RecordQueued), string(model.RecordProcessing))
	if err != nil {
		return fmt.Errorf("failed to release email: %w", err)
	}
	return nil
}

// RequeueStuckEmails returns an account's records stranded in QUEUED or
// PROCESSING back to PENDING. A worker that dies between claiming a record
// and finishing it leaves the row in a transient status no pending scan
// will pick up; callers run this before loading new work, while no other
// worker pool is active for the account.
func (s *SQLiteStorage) RequeueStuckEmails(ctx context.Context, accountID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET status = ?, error = ''
		WHERE account_id = ? AND status IN (?, ?)
	`, string(model.RecordPending), accountID,
		string(model.RecordQueued), string(model.RecordProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck emails: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// CountEmailsByStatus reports how many records an account has in each
// lifecycle status.
func (s *SQLiteStorage) CountEmailsByStatus(ctx context.Context, accountID string) (map[model.RecordStatus]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM emails
		WHERE account_id = ?
		GROUP BY status
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.RecordStatus]int)
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan email count: %w", scanErr)
		}
		counts[model.RecordStatus(status)] = count
	}

	return counts, rows.Err()
}

// scanner abstracts over *sql.Row and *sql.Rows for single-record scans.
type scanner interface {
	Scan(dest ...any) error
}

func scanEmailRecord(row scanner) (*model.EmailRecord, error) {
	var record model.EmailRecord
	var status, priority string
	var errMsg, subscriptionID sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.AccountID,
		&record.ExternalID,
		&record.Sender,
		&record.Subject,
		&record.Body,
		&record.ReceivedAt,
		&status,
		&priority,
		&errMsg,
		&subscriptionID,
		&processedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = model.RecordStatus(status)
	record.Priority = model.Priority(priority)
	record.Error = errMsg.String
	record.SubscriptionID = subscriptionID.String
	if processedAt.Valid {
		record.ProcessedAt = &processedAt.Time
	}

	return &record, nil
}
