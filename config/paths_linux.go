//go:build linux

package config

import (
	"os"
	"path/filepath"
)

// Platform-specific path defaults for Linux. The engine is a per-user desktop
// application, so everything lives under the XDG base directories rather than
// system-wide locations.

func xdgPath(envVar, homeRelative string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "emm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Degenerate environment without a resolvable home, keep the data
		// next to wherever the process was started.
		return filepath.Join(".", "emm")
	}
	return filepath.Join(home, homeRelative, "emm")
}

// GetDefaultConfigLocation returns the default configuration file path for Linux.
func GetDefaultConfigLocation() string {
	return filepath.Join(xdgPath("XDG_CONFIG_HOME", ".config"), "config.yml")
}

// GetDefaultRootDirectory returns the default root data directory for Linux.
func GetDefaultRootDirectory() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetDefaultLogDirectory returns the default log directory for Linux.
func GetDefaultLogDirectory() string {
	return filepath.Join(xdgPath("XDG_STATE_HOME", filepath.Join(".local", "state")), "logs")
}

// GetDefaultCacheDirectory returns the default cache directory for Linux.
func GetDefaultCacheDirectory() string {
	return xdgPath("XDG_CACHE_HOME", ".cache")
}

// GetDefaultTmpDirectory returns the default temporary directory for Linux.
func GetDefaultTmpDirectory() string {
	return filepath.Join(os.TempDir(), "emm")
}
