//go:build linux

package system

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

// DirectorySize calculates the size of a directory and its descendants.
// Hardlinked files are tracked by inode so they are only counted once.
func DirectorySize(root string) (int64, error) {
	var hardLinks []uint64
	var size atomic.Int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrap(err, "walkdir err")
		}

		// Only calculate the size of regular files.
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.Wrap(err, "lstat err")
		}

		if sysFileInfo, ok := info.Sys().(*unix.Stat_t); ok && sysFileInfo.Nlink > 1 {
			// Hard links have the same inode number
			if slices.Contains(hardLinks, sysFileInfo.Ino) {
				// Don't add hard links size twice
				return nil
			}
			hardLinks = append(hardLinks, sysFileInfo.Ino)
		}

		size.Add(info.Size())
		return nil
	})
	return size.Load(), errors.WrapIf(err, "system: directorysize: failed to walk directory")
}
