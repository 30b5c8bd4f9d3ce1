package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// GmailConfig holds the Google OAuth client credentials and the directory
// where per-mailbox refresh tokens live.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenDir     string
}

// LoadGmailConfig loads Gmail configuration from Viper and environment
// variables. It follows this precedence:
// 1. Viper configuration (from config file or SUBSCOUT_ env vars)
// 2. Direct environment variables (GOOGLE_*)
// 3. Default token directory
func LoadGmailConfig() (GmailConfig, error) {
	cfg := GmailConfig{
		ClientID:     viper.GetString("gmail.client_id"),
		ClientSecret: viper.GetString("gmail.client_secret"),
		TokenDir:     viper.GetString("gmail.token_dir"),
	}

	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}

	if cfg.TokenDir == "" {
		cfg.TokenDir = DefaultTokenDir()
	} else {
		cfg.TokenDir = ExpandPath(cfg.TokenDir)
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return GmailConfig{}, fmt.Errorf("google OAuth credentials not found. Please set gmail.client_id and gmail.client_secret in config or GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables")
	}

	return cfg, nil
}
