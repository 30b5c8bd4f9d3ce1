package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

// SaveAlert inserts a pending alert row. Delivery happens out of band; this
// layer only records what should be sent.
func (s *SQLiteStorage) SaveAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return s.saveAlertTx(ctx, s.db, alert)
}

func (s *SQLiteStorage) saveAlertTx(ctx context.Context, q queryable, alert *model.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.Status == "" {
		alert.Status = model.AlertPending
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO alerts (
			id, user_id, subscription_id, type, message,
			scheduled_at, sent_at, status, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID,
		alert.UserID,
		alert.SubscriptionID,
		string(alert.Type),
		alert.Message,
		nullableTime(alert.ScheduledAt),
		alert.SentAt,
		string(alert.Status),
		alert.RetryCount,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// HasRecentAlert reports whether an alert of the given type was already
// created for the subscription since the given time. Failed deliveries do not
// count, so they can be raised again.
func (s *SQLiteStorage) HasRecentAlert(ctx context.Context, subscriptionID string, alertType model.AlertType, since time.Time) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(subscriptionID, "subscriptionID"); err != nil {
		return false, err
	}
	return s.hasRecentAlertTx(ctx, s.db, subscriptionID, alertType, since)
}

func (s *SQLiteStorage) hasRecentAlertTx(ctx context.Context, q queryable, subscriptionID string, alertType model.AlertType, since time.Time) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM alerts
			WHERE subscription_id = ? AND type = ? AND status != ? AND created_at >= ?
		)
	`, subscriptionID, string(alertType), string(model.AlertFailed), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	return exists, nil
}

// GetPendingAlerts retrieves alerts awaiting delivery, oldest first.
func (s *SQLiteStorage) GetPendingAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, subscription_id, type, message,
		       scheduled_at, sent_at, status, retry_count, created_at
		FROM alerts
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?
	`, string(model.AlertPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []model.Alert
	for rows.Next() {
		var alert model.Alert
		var alertType, status string
		var scheduledAt, sentAt sql.NullTime
		if scanErr := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.SubscriptionID,
			&alertType,
			&alert.Message,
			&scheduledAt,
			&sentAt,
			&status,
			&alert.RetryCount,
			&alert.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", scanErr)
		}
		alert.Type = model.AlertType(alertType)
		alert.Status = model.AlertStatus(status)
		if scheduledAt.Valid {
			alert.ScheduledAt = scheduledAt.Time
		}
		if sentAt.Valid {
			alert.SentAt = &sentAt.Time
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlertStatus records a delivery outcome.
func (s *SQLiteStorage) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, sentAt *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, sent_at = ? WHERE id = ?
	`, string(status), sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: alert %s", common.ErrNotFound, id)
	}

	return nil
}
