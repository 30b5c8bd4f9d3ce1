package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

const subscriptionColumns = `id, user_id, account_id, service_name, vendor_id,
		       price, currency, billing_cycle, next_renewal_at, category,
		       status, cancellation_url, requires_review, confidence,
		       last_activity_at, cancelled_at, created_at, updated_at`

// CreateSubscription inserts a new subscription record.
func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return s.createSubscriptionTx(ctx, s.db, sub)
}

func (s *SQLiteStorage) createSubscriptionTx(ctx context.Context, q queryable, sub *model.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionActive
	}
	if sub.BillingCycle == "" {
		sub.BillingCycle = model.CycleUnknown
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, user_id, account_id, service_name, vendor_id,
			price, currency, billing_cycle, next_renewal_at, category,
			status, cancellation_url, requires_review, confidence,
			last_activity_at, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		sub.UserID,
		sub.AccountID,
		sub.ServiceName,
		sub.VendorID,
		sub.Price,
		sub.Currency,
		string(sub.BillingCycle),
		sub.NextRenewalAt,
		sub.Category,
		string(sub.Status),
		sub.CancellationURL,
		sub.RequiresReview,
		sub.Confidence,
		nullableTime(sub.LastActivityAt),
		sub.CancelledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	return nil
}

// UpdateSubscription rewrites a subscription's mutable fields.
func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	return s.updateSubscriptionTx(ctx, s.db, sub)
}

func (s *SQLiteStorage) updateSubscriptionTx(ctx context.Context, q queryable, sub *model.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	result, err := q.ExecContext(ctx, `
		UPDATE subscriptions SET
			service_name = ?, vendor_id = ?, price = ?, currency = ?,
			billing_cycle = ?, next_renewal_at = ?, category = ?,
			status = ?, cancellation_url = ?, requires_review = ?,
			confidence = ?, last_activity_at = ?, cancelled_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		sub.ServiceName,
		sub.VendorID,
		sub.Price,
		sub.Currency,
		string(sub.BillingCycle),
		sub.NextRenewalAt,
		sub.Category,
		string(sub.Status),
		sub.CancellationURL,
		sub.RequiresReview,
		sub.Confidence,
		nullableTime(sub.LastActivityAt),
		sub.CancelledAt,
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: subscription %s", common.ErrNotFound, sub.ID)
	}

	return nil
}

// GetSubscription retrieves a subscription by id.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getSubscriptionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getSubscriptionTx(ctx context.Context, q queryable, id string) (*model.Subscription, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = ?
	`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// FindSubscriptionByService locates the account's subscription for a service
// by case-insensitive name match. Archived subscriptions never match, so a
// re-subscription after archival starts a fresh record.
func (s *SQLiteStorage) FindSubscriptionByService(ctx context.Context, accountID, serviceName string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(serviceName, "serviceName"); err != nil {
		return nil, err
	}
	return s.findSubscriptionByServiceTx(ctx, s.db, accountID, serviceName)
}

func (s *SQLiteStorage) findSubscriptionByServiceTx(ctx context.Context, q queryable, accountID, serviceName string) (*model.Subscription, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = ? AND LOWER(service_name) = LOWER(?) AND status != ?
		ORDER BY created_at
		LIMIT 1
	`, accountID, strings.TrimSpace(serviceName), string(model.SubscriptionArchived))

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no subscription for service %q", common.ErrNotFound, serviceName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptions retrieves subscriptions matching the filter.
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	var conditions []string
	var args []any

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY service_name"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSubscriptions(rows)
}

// GetSubscriptionsDueWithin retrieves live subscriptions whose renewal falls
// between now and now+window, soonest first.
func (s *SQLiteStorage) GetSubscriptionsDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN (?, ?)
		  AND next_renewal_at IS NOT NULL
		  AND next_renewal_at >= ?
		  AND next_renewal_at <= ?
		ORDER BY next_renewal_at
	`, string(model.SubscriptionActive), string(model.SubscriptionTrialActive), now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSubscriptions(rows)
}

// GetOverdueSubscriptions retrieves live subscriptions whose renewal date has
// passed without a confirming charge.
func (s *SQLiteStorage) GetOverdueSubscriptions(ctx context.Context, asOf time.Time) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN (?, ?)
		  AND next_renewal_at IS NOT NULL
		  AND next_renewal_at < ?
		ORDER BY next_renewal_at
	`, string(model.SubscriptionActive), string(model.SubscriptionTrialActive), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row scanner) (*model.Subscription, error) {
	var sub model.Subscription
	var billingCycle, status string
	var vendorID, currency, category, cancellationURL sql.NullString
	var nextRenewalAt, lastActivityAt, cancelledAt sql.NullTime

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.AccountID,
		&sub.ServiceName,
		&vendorID,
		&sub.Price,
		&currency,
		&billingCycle,
		&nextRenewalAt,
		&category,
		&status,
		&cancellationURL,
		&sub.RequiresReview,
		&sub.Confidence,
		&lastActivityAt,
		&cancelledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.VendorID = vendorID.String
	sub.Currency = currency.String
	sub.Category = category.String
	sub.CancellationURL = cancellationURL.String
	sub.BillingCycle = model.BillingCycle(billingCycle)
	sub.Status = model.SubscriptionStatus(status)
	if nextRenewalAt.Valid {
		sub.NextRenewalAt = &nextRenewalAt.Time
	}
	if lastActivityAt.Valid {
		sub.LastActivityAt = lastActivityAt.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}

	return &sub, nil
}

// nullableTime maps the zero time to NULL so unset timestamps do not store as
// year one.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
