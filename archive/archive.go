// Package archive is the collaborator that turns downloaded mod archives
// into folder trees and folder trees into backup archives. Extraction only
// needs a format that the probing library recognizes, creation is always a
// tar.gz so backups stay portable.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mholt/archives"

	"github.com/reynalivan/emm-core/system"
)

var (
	// ErrUnsupportedFormat marks a file that no registered archive format
	// recognizes.
	ErrUnsupportedFormat = errors.Sentinel("archive: unsupported format")

	// ErrCorruptArchive marks an archive that was recognized but could not
	// be read to the end.
	ErrCorruptArchive = errors.Sentinel("archive: corrupt archive")

	// ErrInsufficientSpace marks an extraction that would not fit on the
	// destination filesystem.
	ErrInsufficientSpace = errors.Sentinel("archive: not enough free space to extract")
)

// Identify probes the file and returns the extension of the archive format
// it holds, ".zip" style. Files no format recognizes return
// ErrUnsupportedFormat with the sniffed content type attached so the report
// can say what the file actually was.
func Identify(ctx context.Context, path string) (string, error) {
	format, _, f, err := open(ctx, path)
	if err != nil {
		return "", err
	}
	_ = f.Close()
	return format.Extension(), nil
}

// open opens the file and runs format detection, leaving the returned
// reader positioned for extraction. The caller owns the file handle.
func open(ctx context.Context, path string) (archives.Format, io.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "archive: failed to open archive")
	}
	format, input, err := archives.Identify(ctx, filepath.Base(path), f)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, archives.NoMatch) {
			detail := path
			if mt, merr := mimetype.DetectFile(path); merr == nil {
				detail = path + " (" + mt.String() + ")"
			}
			return nil, nil, nil, errors.WithMessage(ErrUnsupportedFormat, detail)
		}
		return nil, nil, nil, errors.Wrap(err, "archive: failed to identify archive")
	}
	return format, input, f, nil
}

// writeFailure wraps errors produced by this package's own file handler so
// they are not mistaken for a damaged archive when they bubble back out of
// the extraction library.
type writeFailure struct {
	err error
}

func (e *writeFailure) Error() string {
	return e.err.Error()
}

func (e *writeFailure) Unwrap() error {
	return e.err
}

// classify splits an extraction error into its three possible sources: a
// failure this package caused while writing, a cooperative cancellation, or
// a damaged archive stream.
func classify(path string, err error) error {
	var wf *writeFailure
	if errors.As(err, &wf) {
		return wf.err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.WithMessage(ErrCorruptArchive, path+": "+err.Error())
}

// Extract unpacks the archive at src into the dst directory. The archive is
// read twice: a sizing pass checks that the content fits on the destination
// filesystem, then the extraction pass writes it out. Entry paths are
// confined to dst, a crafted archive cannot write outside of it. Symlink
// entries are skipped entirely.
func Extract(ctx context.Context, src, dst string) error {
	size, err := measure(ctx, src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrap(err, "archive: failed to create extraction root")
	}
	if free, err := system.FreeSpace(dst); err != nil {
		// The extraction itself will surface a hard failure, a broken
		// capacity probe alone should not block the operation.
		log.WithField("path", dst).WithError(err).Warn("archive: unable to determine free space, skipping pre-flight check")
	} else if size > free {
		return errors.WithMessage(ErrInsufficientSpace, src)
	}

	format, input, f, err := open(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()

	ex, ok := format.(archives.Extractor)
	if !ok {
		return errors.WithMessage(ErrUnsupportedFormat, src)
	}

	err = ex.Extract(ctx, input, func(ctx context.Context, info archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.LinkTarget != "" {
			log.WithFields(log.Fields{"archive": src, "entry": info.NameInArchive}).Debug("skipping symlink entry in archive")
			return nil
		}
		target, err := confine(dst, info.NameInArchive)
		if err != nil {
			return &writeFailure{err}
		}
		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &writeFailure{errors.Wrap(err, "archive: failed to create directory")}
			}
			return nil
		}
		if err := writeEntry(info, target); err != nil {
			return &writeFailure{err}
		}
		return nil
	})
	if err != nil {
		return classify(src, err)
	}

	log.WithFields(log.Fields{"archive": src, "destination": dst, "size": size}).Debug("extracted archive")
	return nil
}

// measure runs a metadata pass over the archive and sums the uncompressed
// entry sizes. Damaged archives fail here, before anything touches the
// destination.
func measure(ctx context.Context, src string) (uint64, error) {
	format, input, f, err := open(ctx, src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ex, ok := format.(archives.Extractor)
	if !ok {
		return 0, errors.WithMessage(ErrUnsupportedFormat, src)
	}

	var size uint64
	err = ex.Extract(ctx, input, func(ctx context.Context, info archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.IsDir() && info.LinkTarget == "" {
			size += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, classify(src, err)
	}
	return size, nil
}

// confine joins an archive entry name onto the destination root and rejects
// entries that would escape it.
func confine(dst, name string) (string, error) {
	target := filepath.Join(dst, filepath.FromSlash(name))
	if target != filepath.Clean(dst) && !strings.HasPrefix(target, filepath.Clean(dst)+string(filepath.Separator)) {
		return "", errors.Errorf("archive: entry %q escapes the extraction root", name)
	}
	return target, nil
}

func writeEntry(info archives.FileInfo, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, "archive: failed to create parent directory")
	}
	src, err := info.Open()
	if err != nil {
		return errors.Wrap(err, "archive: failed to open archive entry")
	}
	defer src.Close()

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "archive: failed to create extracted file")
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return errors.Wrap(err, "archive: failed to write extracted file")
	}
	return errors.Wrap(out.Close(), "archive: failed to flush extracted file")
}

// List returns the entry names an archive holds without extracting it,
// directories included, in archive order.
func List(ctx context.Context, src string) ([]string, error) {
	format, input, f, err := open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ex, ok := format.(archives.Extractor)
	if !ok {
		return nil, errors.WithMessage(ErrUnsupportedFormat, src)
	}

	var names []string
	err = ex.Extract(ctx, input, func(ctx context.Context, info archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		names = append(names, info.NameInArchive)
		return nil
	})
	if err != nil {
		return nil, classify(src, err)
	}
	return names, nil
}
