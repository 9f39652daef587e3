//go:build windows

package config

import (
	"os"
	"path/filepath"
)

// Platform-specific path defaults for Windows. The engine is a per-user
// desktop application, so data lives under the user's AppData directories.

func localAppData() string {
	if v := os.Getenv("LOCALAPPDATA"); v != "" {
		return v
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return filepath.Join(profile, "AppData", "Local")
	}
	return "C:\\EMM"
}

func roamingAppData() string {
	if v := os.Getenv("APPDATA"); v != "" {
		return v
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return filepath.Join(profile, "AppData", "Roaming")
	}
	return "C:\\EMM"
}

// GetDefaultConfigLocation returns the default configuration file path for Windows.
func GetDefaultConfigLocation() string {
	return filepath.Join(roamingAppData(), "EMM", "config.yml")
}

// GetDefaultRootDirectory returns the default root data directory for Windows.
func GetDefaultRootDirectory() string {
	return filepath.Join(localAppData(), "EMM")
}

// GetDefaultLogDirectory returns the default log directory for Windows.
func GetDefaultLogDirectory() string {
	return filepath.Join(localAppData(), "EMM", "logs")
}

// GetDefaultCacheDirectory returns the default cache directory for Windows.
func GetDefaultCacheDirectory() string {
	return filepath.Join(localAppData(), "EMM", "cache")
}

// GetDefaultTmpDirectory returns the default temporary directory for Windows.
func GetDefaultTmpDirectory() string {
	tempDir := os.Getenv("TEMP")
	if tempDir == "" {
		tempDir = os.Getenv("TMP")
	}
	if tempDir == "" {
		tempDir = "C:\\Windows\\Temp"
	}
	return filepath.Join(tempDir, "EMM")
}
