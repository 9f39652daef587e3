package thumbnails

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/patrickmn/go-cache"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/fsutil"
)

const (
	// DefaultMaxAge is how long an untouched cached image survives a sweep.
	DefaultMaxAge = 30 * 24 * time.Hour
	// DefaultMaxBytes is the size ceiling a sweep trims the cache down to.
	DefaultMaxBytes int64 = 200 << 20
)

// Cache holds stable copies of mod preview images outside the library tree.
// Source images move around when folders are renamed or toggled, the cached
// copy keeps one durable path per item for anything rendering a grid.
type Cache struct {
	dir        string
	maxEntries int
	mem        *cache.Cache
}

// indexEntry is a resolved path plus the source timestamp it was fresh for.
type indexEntry struct {
	path    string
	srcTime time.Time
}

// New returns a cache writing into the configured directory.
func New(cfg config.ThumbnailConfiguration) *Cache {
	return &Cache{
		dir:        cfg.Directory,
		maxEntries: cfg.MemoryEntries,
		mem:        cache.New(time.Hour, 10*time.Minute),
	}
}

// Dir returns the directory cached images are stored in.
func (c *Cache) Dir() string {
	return c.dir
}

// Resolve returns the cached copy for id, installing or refreshing it from
// source first when the copy is missing or older than the source image. The
// id should stay stable across renames of the source, a library identifier
// plus the object name works well.
func (c *Cache) Resolve(id, source string) (string, error) {
	st, err := os.Stat(source)
	if err != nil {
		return "", errors.Wrap(err, "thumbnails: failed to stat source image")
	}

	dst := c.pathFor(id, filepath.Ext(source))
	if v, ok := c.mem.Get(id); ok {
		if ie, ok := v.(indexEntry); ok && ie.path == dst && ie.srcTime.Equal(st.ModTime()) {
			return dst, nil
		}
	}

	if cst, err := os.Stat(dst); err == nil && !cst.ModTime().Before(st.ModTime()) {
		c.remember(id, dst, st.ModTime())
		return dst, nil
	}

	// A source that changed its extension leaves a sibling copy behind,
	// drop the old variants before installing the new one.
	c.dropVariants(id)

	b, err := os.ReadFile(source)
	if err != nil {
		return "", errors.Wrap(err, "thumbnails: failed to read source image")
	}
	if err := fsutil.AtomicWriteFile(dst, b, 0o644); err != nil {
		return "", err
	}
	// The copy carries the source timestamp so staleness stays a plain
	// modtime compare.
	_ = os.Chtimes(dst, st.ModTime(), st.ModTime())

	c.remember(id, dst, st.ModTime())
	log.WithFields(log.Fields{"id": id, "path": dst}).Debug("cached thumbnail")
	return dst, nil
}

// Invalidate removes every cached copy for id.
func (c *Cache) Invalidate(id string) {
	c.mem.Delete(id)
	c.dropVariants(id)
}

// Sweep removes cached images untouched for longer than maxAge, then trims
// oldest-first until the cache fits maxBytes. Zero disables either limit.
// It returns the number of files removed.
func (c *Cache) Sweep(maxAge time.Duration, maxBytes int64) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "thumbnails: failed to read cache directory")
	}

	type file struct {
		path string
		mod  time.Time
		size int64
	}
	var (
		files   []file
		total   int64
		removed int
	)
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(c.dir, e.Name())
		if maxAge > 0 && fi.ModTime().Before(cutoff) {
			if err := os.Remove(p); err == nil {
				removed++
			}
			continue
		}
		files = append(files, file{path: p, mod: fi.ModTime(), size: fi.Size()})
		total += fi.Size()
	}

	if maxBytes > 0 && total > maxBytes {
		sort.Slice(files, func(i, j int) bool {
			return files[i].mod.Before(files[j].mod)
		})
		for _, f := range files {
			if total <= maxBytes {
				break
			}
			if err := os.Remove(f.path); err != nil {
				continue
			}
			total -= f.size
			removed++
		}
	}

	if removed > 0 {
		// The index may point at files the sweep just removed.
		c.mem.Flush()
		log.WithFields(log.Fields{"removed": removed, "directory": c.dir}).Debug("swept thumbnail cache")
	}
	return removed, nil
}

func (c *Cache) pathFor(id, ext string) string {
	return filepath.Join(c.dir, c.hash(id)+ext)
}

func (c *Cache) hash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

func (c *Cache) dropVariants(id string) {
	matches, err := filepath.Glob(filepath.Join(c.dir, c.hash(id)+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func (c *Cache) remember(id, path string, srcTime time.Time) {
	// The index only saves stat calls, clearing it wholesale on overflow is
	// cheaper than tracking recency.
	if c.maxEntries > 0 && c.mem.ItemCount() >= c.maxEntries {
		c.mem.Flush()
	}
	c.mem.Set(id, indexEntry{path: path, srcTime: srcTime}, cache.DefaultExpiration)
}
