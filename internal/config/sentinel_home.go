package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const modulePath = "github.com/harrison/sentinel"

// GetSentinelHome returns the sentinel home directory
// Priority order:
//  1. SENTINEL_HOME environment variable (if set)
//  2. Sentinel repository root (detected by finding go.mod)
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetSentinelHome() (string, error) {
	if home := os.Getenv("SENTINEL_HOME"); home != "" {
		return home, nil
	}

	base, err := findSentinelRepoRoot()
	if err != nil || base == "" {
		base, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
	}

	home := filepath.Join(base, ".sentinel")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create sentinel home directory: %w", err)
	}
	return home, nil
}

// findSentinelRepoRoot walks up from the working directory looking for a
// .sentinel-root marker or a go.mod declaring the sentinel module
func findSentinelRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		if _, err := os.Stat(filepath.Join(current, ".sentinel-root")); err == nil {
			return current, nil
		}

		if data, err := os.ReadFile(filepath.Join(current, "go.mod")); err == nil {
			if strings.Contains(string(data), "module "+modulePath) {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("sentinel repository root not found (looking for .sentinel-root or go.mod with %s)", modulePath)
}

// GetSpoolPath returns the absolute path to the outbox database
// Always returns: $SENTINEL_HOME/spool/outbox.db
func GetSpoolPath() (string, error) {
	home, err := GetSentinelHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "spool", "outbox.db"), nil
}

// GetLockDir returns the directory for chaos target lock files, creating it
func GetLockDir() (string, error) {
	home, err := GetSentinelHome()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, "locks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create lock directory: %w", err)
	}
	return dir, nil
}

// ResolvePaths fills in the spool path and lock directory from SENTINEL_HOME
// when the configuration leaves them empty
func (c *Config) ResolvePaths() error {
	if c.Spool.Enabled && c.Spool.Path == "" {
		p, err := GetSpoolPath()
		if err != nil {
			return err
		}
		c.Spool.Path = p
	}
	if c.Chaos.LockDir == "" {
		dir, err := GetLockDir()
		if err != nil {
			return err
		}
		c.Chaos.LockDir = dir
	}
	return nil
}
