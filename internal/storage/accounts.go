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

// SaveAccount inserts or updates a connected mailbox. The address is the
// natural identity; re-adding a known mailbox keeps its original id and sync
// progress.
func (s *SQLiteStorage) SaveAccount(ctx context.Context, account *model.EmailAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, address, provider, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			user_id = excluded.user_id,
			provider = excluded.provider
	`,
		account.ID,
		account.UserID,
		account.Address,
		account.Provider,
		account.LastSyncedAt,
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount retrieves a connected mailbox by id.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.EmailAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, provider, last_synced_at, created_at
		FROM accounts
		WHERE id = ?
	`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccountByAddress retrieves a connected mailbox by its address.
func (s *SQLiteStorage) GetAccountByAddress(ctx context.Context, address string) (*model.EmailAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(address, "address"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, provider, last_synced_at, created_at
		FROM accounts
		WHERE address = ?
	`, address)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", common.ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListAccounts retrieves all connected mailboxes.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, provider, last_synced_at, created_at
		FROM accounts
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.EmailAccount
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan account: %w", scanErr)
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

// UpdateAccountSyncTime records how far a mailbox scan has progressed, so the
// next scan fetches only newer messages.
func (s *SQLiteStorage) UpdateAccountSyncTime(ctx context.Context, id string, syncedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_synced_at = ? WHERE id = ?
	`, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update account sync time: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s", common.ErrNotFound, id)
	}

	return nil
}

func scanAccount(row scanner) (*model.EmailAccount, error) {
	var account model.EmailAccount
	var userID, provider sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&account.ID,
		&userID,
		&account.Address,
		&provider,
		&lastSyncedAt,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.UserID = userID.String
	account.Provider = provider.String
	if lastSyncedAt.Valid {
		account.LastSyncedAt = &lastSyncedAt.Time
	}

	return &account, nil
}
