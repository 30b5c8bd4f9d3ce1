package main

import (
	"log/slog"

	"github.com/subscout/subscout/internal/config"
	"github.com/subscout/subscout/internal/gmail"
	"github.com/subscout/subscout/internal/service"
)

// createMailSource builds the multi-account Gmail source used by mailbox
// scans. Accounts authenticate ahead of time via `subscout auth`.
func createMailSource() (service.MailSource, error) {
	cfg, err := config.LoadGmailConfig()
	if err != nil {
		return nil, err
	}

	return gmail.NewMultiSource(cfg.ClientID, cfg.ClientSecret, cfg.TokenDir, slog.Default()), nil
}
