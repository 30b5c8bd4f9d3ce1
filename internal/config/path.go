// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// First expand tilde if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// Then expand environment variables
	return os.ExpandEnv(path)
}

// DataDir returns the directory holding the database, OAuth tokens, and the
// worker lock file. Falls back to a relative directory when the home
// directory cannot be resolved.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".subscout"
	}
	return filepath.Join(home, ".local", "share", "subscout")
}

// DefaultDatabasePath returns where the SQLite database lives unless
// overridden by configuration.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), "subscout.db")
}

// DefaultTokenDir returns where per-account OAuth tokens are stored unless
// overridden by configuration.
func DefaultTokenDir() string {
	return filepath.Join(DataDir(), "tokens")
}
