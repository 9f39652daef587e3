//go:build windows

package system

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"emperror.dev/errors"
)

// DirectorySize calculates the size of a directory and its descendants.
func DirectorySize(root string) (int64, error) {
	var size atomic.Int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		// Skip directories
		if d.IsDir() {
			return nil
		}

		// Get file info to check size
		info, err := d.Info()
		if err != nil {
			return nil // Skip files we can't stat
		}

		size.Add(info.Size())
		return nil
	})

	return size.Load(), errors.WrapIf(err, "system: directorysize: failed to walk directory")
}
