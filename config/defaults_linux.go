//go:build linux

package config

import (
	"path/filepath"
	"runtime"
)

// applyPlatformDefaults fills in any directory that was not set through the
// configuration file. Directories that live inside another configurable
// directory are derived from the effective value, so pointing the root
// somewhere else moves the trash along with it.
func applyPlatformDefaults(c *Configuration) {
	if c.System.RootDirectory == "" {
		c.System.RootDirectory = GetDefaultRootDirectory()
	}
	if c.System.LogDirectory == "" {
		c.System.LogDirectory = GetDefaultLogDirectory()
	}
	if c.System.CacheDirectory == "" {
		c.System.CacheDirectory = GetDefaultCacheDirectory()
	}
	if c.System.TmpDirectory == "" {
		c.System.TmpDirectory = GetDefaultTmpDirectory()
	}
	if c.System.TrashDirectory == "" {
		c.System.TrashDirectory = filepath.Join(c.System.RootDirectory, "trash")
	}
	if c.System.Thumbnails.Directory == "" {
		c.System.Thumbnails.Directory = filepath.Join(c.System.CacheDirectory, "thumbnails")
	}
}

// IsWindows returns true if running on Windows
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// IsLinux returns true if running on Linux
func IsLinux() bool {
	return runtime.GOOS == "linux"
}
