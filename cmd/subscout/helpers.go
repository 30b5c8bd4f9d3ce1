package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/subscout/subscout/internal/config"
	"github.com/subscout/subscout/internal/service"
	"github.com/subscout/subscout/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(databasePath())
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// databasePath resolves the SQLite database location from config.
func databasePath() string {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		return config.DefaultDatabasePath()
	}
	return config.ExpandPath(dbPath)
}

// currentUserID returns the owner identity recorded on accounts and
// subscriptions. Single-user installs keep the default.
func currentUserID() string {
	if id := viper.GetString("user.id"); id != "" {
		return id
	}
	return "default"
}

// closeStore closes storage, logging rather than failing on error.
func closeStore(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Error("Failed to close storage", "error", err)
	}
}
