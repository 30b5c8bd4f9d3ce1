package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/config"
	"github.com/subscout/subscout/internal/gmail"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate a mailbox for scanning",
		Long: `Authenticate a mailbox using OAuth2 and register it for scanning.

This command will:
1. Open your browser to authenticate with Google
2. Save the refresh token for future use
3. Register the address so scans include it

Run it once per mailbox you want watched.`,
		RunE: runAuth,
	}

	cmd.Flags().String("address", "", "email address of the mailbox to authenticate (required)")
	cmd.Flags().String("provider", "gmail", "mailbox provider")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func runAuth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	address, _ := cmd.Flags().GetString("address")
	provider, _ := cmd.Flags().GetString("provider")
	if provider != "gmail" {
		return fmt.Errorf("unsupported provider: %s", provider)
	}

	cfg, err := config.LoadGmailConfig()
	if err != nil {
		return err
	}

	tokenFile := gmail.TokenFile(cfg.TokenDir, address)

	slog.Info(cli.FormatTitle("Authenticating mailbox"))
	slog.Info("Starting Gmail authentication", "address", address, "token_file", tokenFile)

	oauthCfg := gmail.OAuth2Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenFile:    tokenFile,
	}

	if _, err := gmail.GetOrCreateToken(ctx, oauthCfg); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	account, created, err := registerAccount(ctx, store, address, provider)
	if err != nil {
		return err
	}

	if created {
		slog.Info(cli.FormatSuccess(fmt.Sprintf("Mailbox %s authenticated and registered", account.Address)))
	} else {
		slog.Info(cli.FormatSuccess(fmt.Sprintf("Mailbox %s re-authenticated", account.Address)))
	}
	slog.Info("Run 'subscout scan' to pick up its billing mail")

	return nil
}
