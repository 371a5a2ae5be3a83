// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package xdg provides XDG Base Directory paths for cyrene.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "cyrene"

// base returns $env when set, else $HOME joined with fallback.
func base(env string, fallback ...string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", env, err)
		}
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns the config directory (config file, default lockfile).
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return base("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory (installed apps, plugins).
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return base("XDG_DATA_HOME", ".local", "share")
}

// CacheDir returns the cache directory (downloads, version lists).
// Checks XDG_CACHE_HOME first, falls back to ~/.cache.
func CacheDir() (string, error) {
	return base("XDG_CACHE_HOME", ".cache")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0755 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil { //nolint:gosec // tool directories must be traversable
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
