package archive

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/juju/ratelimit"
	"github.com/klauspost/pgzip"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/reynalivan/emm-core/config"
)

// Archive describes one backup job: the folder to pack up and what to leave
// out of it. Compression level and write throttling come from the backups
// section of the configuration.
type Archive struct {
	// BaseDirectory is the folder whose contents get archived. The folder
	// itself is not part of the archive, entries are relative to it.
	BaseDirectory string

	// Ignore holds gitignore style lines for content to skip. The library
	// ignore file is the usual source.
	Ignore string
}

// compressionLevel maps the configured name onto a pgzip level, fast
// compression being the default.
func compressionLevel(name string) int {
	switch name {
	case "none":
		return pgzip.NoCompression
	case "best_compression":
		return pgzip.BestCompression
	case "best_speed":
		fallthrough
	default:
		return pgzip.BestSpeed
	}
}

// Create writes the archive to dst as a tar.gz. Walk order is the usual
// lexical one, symlinks are skipped, and cancellation is honored between
// files. A partially written archive is removed on failure.
func (a *Archive) Create(ctx context.Context, dst string) error {
	cfg := config.Get().System.Backups

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "archive: failed to create backup file")
	}

	// Select a writer for the backup file: if there is a write limit set we
	// push the file writes through a throttled writer, otherwise they go
	// straight to the file.
	writer := io.Writer(f)
	if cfg.WriteLimit > 0 {
		limit := int64(cfg.WriteLimit) * 1024 * 1024
		writer = ratelimit.Writer(f, ratelimit.NewBucketWithRate(float64(limit), limit))
	}

	gw, err := pgzip.NewWriterLevel(writer, compressionLevel(cfg.CompressionLevel))
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "archive: failed to configure compression")
	}
	tw := tar.NewWriter(gw)

	err = a.stream(ctx, tw)
	if cerr := tw.Close(); err == nil {
		err = errors.Wrap(cerr, "archive: failed to finish tar stream")
	}
	if cerr := gw.Close(); err == nil {
		err = errors.Wrap(cerr, "archive: failed to finish compression")
	}
	if cerr := f.Close(); err == nil {
		err = errors.Wrap(cerr, "archive: failed to close backup file")
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}

	log.WithFields(log.Fields{"source": a.BaseDirectory, "backup": dst}).Debug("wrote backup archive")
	return nil
}

// stream walks the base directory and writes every kept entry into the tar
// stream.
func (a *Archive) stream(ctx context.Context, tw *tar.Writer) error {
	var matcher *ignore.GitIgnore
	if a.Ignore != "" {
		matcher = ignore.CompileIgnoreLines(strings.Split(a.Ignore, "\n")...)
	}

	base := filepath.Clean(a.BaseDirectory)
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "archive: failed to walk backup source")
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if p == base {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return errors.Wrap(err, "archive: failed to resolve entry path")
		}
		rel = filepath.ToSlash(rel)
		if matcher != nil && matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.Wrap(err, "archive: failed to stat entry")
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errors.Wrap(err, "archive: failed to build tar header")
		}
		header.Name = rel
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return errors.Wrap(err, "archive: failed to write tar header")
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return errors.Wrap(err, "archive: failed to open entry")
		}
		_, err = io.Copy(tw, src)
		_ = src.Close()
		return errors.Wrap(err, "archive: failed to write entry")
	})
}
