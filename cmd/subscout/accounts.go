package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/service"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage watched email accounts",
		Long:  `Register and inspect the email accounts subscout scans.`,
	}

	cmd.AddCommand(accountsAddCmd())
	cmd.AddCommand(accountsListCmd())

	return cmd
}

func accountsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Register an email account",
		Long: `Register an email account for scanning without authenticating it yet.

Scans skip accounts that have no stored OAuth token; run 'subscout auth'
to authenticate the mailbox.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider, _ := cmd.Flags().GetString("provider")

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			account, created, err := registerAccount(ctx, store, args[0], provider)
			if err != nil {
				return err
			}

			if !created {
				slog.Info(cli.FormatInfo(fmt.Sprintf("Account %s is already registered", account.Address)))
				return nil
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Registered account %s", account.Address)))
			slog.Info(fmt.Sprintf("Run 'subscout auth --address %s' to authenticate it", account.Address))
			return nil
		},
	}

	cmd.Flags().String("provider", "gmail", "mailbox provider")

	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched accounts",
		Long:  `List watched accounts with their sync state and mail backlog.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStore(store)

			accounts, err := store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if len(accounts) == 0 {
				slog.Info(cli.FormatWarning("No accounts registered. Run 'subscout auth --address <you@example.com>' to add one."))
				return nil
			}

			rows := make([][]string, 0, len(accounts))
			for _, account := range accounts {
				lastSync := "never"
				if account.LastSyncedAt != nil {
					lastSync = account.LastSyncedAt.Format("2006-01-02 15:04")
				}

				counts, err := store.CountEmailsByStatus(ctx, account.ID)
				if err != nil {
					return fmt.Errorf("failed to count emails: %w", err)
				}

				rows = append(rows, []string{
					account.Address,
					account.Provider,
					lastSync,
					fmt.Sprintf("%d", counts[model.RecordPending]),
					fmt.Sprintf("%d", counts[model.RecordFailed]),
				})
			}

			slog.Info(cli.FormatTitle("Watched accounts"))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Address", "Provider", "Last sync", "Pending", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

// registerAccount finds or creates the account row for an address. The
// second return reports whether a new account was created.
func registerAccount(ctx context.Context, store service.Storage, address, provider string) (*model.EmailAccount, bool, error) {
	existing, err := store.GetAccountByAddress(ctx, address)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up account: %w", err)
	}

	account := &model.EmailAccount{
		ID:        uuid.New().String(),
		UserID:    currentUserID(),
		Address:   address,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveAccount(ctx, account); err != nil {
		return nil, false, fmt.Errorf("failed to save account: %w", err)
	}

	return account, true, nil
}
