// Package fsutil holds the small set of filesystem primitives the engine
// relies on for safe writes: atomic file replacement and rename operations
// that survive crossing filesystem boundaries.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"emperror.dev/errors"
)

// AtomicWriteFile writes data to a temporary file in the same directory as
// path and renames it into place. Readers never observe a partially written
// file, and a failed write leaves the original untouched.
func AtomicWriteFile(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "fsutil: failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "fsutil: failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "fsutil: failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "fsutil: failed to close temporary file")
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return errors.Wrap(err, "fsutil: failed to chmod temporary file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "fsutil: failed to replace file")
	}
	return nil
}

// CopyFile copies a single regular file, preserving its mode.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return errors.WithStackIf(err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return errors.WithStackIf(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return errors.WithStackIf(err)
	}
	return errors.WithStackIf(out.Close())
}

// CopyDir recursively copies a directory tree. Symlinks inside the tree are
// not followed, they are skipped entirely, mod folders have no business
// containing them and following one could escape the library root.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStackIf(err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return errors.WithStackIf(err)
		}
		target := filepath.Join(dst, rel)

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return errors.WithStackIf(err)
			}
			return errors.WithStackIf(os.MkdirAll(target, info.Mode().Perm()))
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFile(path, target)
	})
}

// Rename moves a file or directory, falling back to a copy and delete when
// the source and destination are on different filesystems. Trash directories
// regularly live on a different mount than the library being managed.
func Rename(oldpath, newpath string) error {
	err := os.Rename(oldpath, newpath)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return errors.WithStackIf(err)
	}

	st, serr := os.Lstat(oldpath)
	if serr != nil {
		return errors.WithStackIf(serr)
	}
	if st.IsDir() {
		if err := CopyDir(oldpath, newpath); err != nil {
			return err
		}
	} else {
		if err := CopyFile(oldpath, newpath); err != nil {
			return err
		}
	}
	return errors.WithStackIf(os.RemoveAll(oldpath))
}

func isCrossDevice(err error) bool {
	var le *os.LinkError
	if !errors.As(err, &le) {
		return false
	}
	if runtime.GOOS == "windows" {
		// ERROR_NOT_SAME_DEVICE, what MoveFile reports instead of EXDEV.
		return errors.Is(le.Err, syscall.Errno(0x11))
	}
	return errors.Is(le.Err, syscall.EXDEV)
}
