package parser

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/reynalivan/emm-core/naming"
)

// Loader discovers and parses the ini files of a mod folder. Parse results
// are cached per folder, keyed by the discovered file set and its newest
// modification time, so repeated loads of an unchanged folder are free.
type Loader struct {
	// MaxDepth is how many directory levels below the folder root are
	// searched. Importers do not load ini files deeper than a few levels.
	MaxDepth int

	// Blacklist contains directory names that are never descended into.
	Blacklist []string

	// Concurrency bounds how many files are parsed in parallel.
	Concurrency int

	cache *gocache.Cache
}

// FolderDocuments is the result of loading one folder: the documents that
// parsed, in importer load order, and the per-file failures for those that
// did not. A failed file never hides the rest of the folder.
type FolderDocuments struct {
	Documents []*Document
	Failures  []*ParseError
}

type cachedFolder struct {
	fingerprint string
	result      *FolderDocuments
}

type iniCandidate struct {
	path     string
	rel      string
	depth    int
	disabled bool
	mtime    int64
}

// NewLoader returns a Loader with the given recursion settings.
func NewLoader(maxDepth int, blacklist []string) *Loader {
	return &Loader{
		MaxDepth:    maxDepth,
		Blacklist:   blacklist,
		Concurrency: 4,
		cache:       gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// LoadFolder discovers and parses every ini file under root. Files are
// ordered the way the importer loads them: shallower files first, enabled
// before disabled, alphabetical within that. Cancelling the context aborts
// between files.
func (l *Loader) LoadFolder(ctx context.Context, root string) (*FolderDocuments, error) {
	files, err := l.discover(ctx, root)
	if err != nil {
		return nil, err
	}

	fingerprint := folderFingerprint(files)
	if c, ok := l.cache.Get(root); ok {
		if cached := c.(*cachedFolder); cached.fingerprint == fingerprint {
			return cached.result, nil
		}
	}

	docs := make([]*Document, len(files))
	fails := make([]*ParseError, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency())
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := ParseFile(f.path)
			if err != nil {
				var pe *ParseError
				if errors.As(err, &pe) {
					fails[i] = pe
					return nil
				}
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WrapIf(err, "parser: folder load aborted")
	}

	out := &FolderDocuments{}
	for i := range files {
		if docs[i] != nil {
			out.Documents = append(out.Documents, docs[i])
		}
		if fails[i] != nil {
			out.Failures = append(out.Failures, fails[i])
		}
	}

	l.cache.Set(root, &cachedFolder{fingerprint: fingerprint, result: out}, gocache.DefaultExpiration)
	return out, nil
}

// Invalidate drops the cached parse result for a folder.
func (l *Loader) Invalidate(root string) {
	l.cache.Delete(root)
}

func (l *Loader) concurrency() int {
	if l.Concurrency < 1 {
		return 1
	}
	return l.Concurrency
}

func (l *Loader) maxDepth() int {
	if l.MaxDepth < 1 {
		return 4
	}
	return l.MaxDepth
}

func (l *Loader) discover(ctx context.Context, root string) ([]iniCandidate, error) {
	var files []iniCandidate

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			// Unreadable subtrees are skipped, they surface through the
			// filesystem scan instead of failing an ini load.
			if path == root {
				return errors.Wrap(err, "parser: failed to read folder")
			}
			return nil
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return errors.WithStackIf(rerr)
		}
		depth := strings.Count(rel, string(filepath.Separator))

		if d.IsDir() {
			if path == root {
				return nil
			}
			for _, blocked := range l.Blacklist {
				if strings.EqualFold(d.Name(), blocked) {
					return filepath.SkipDir
				}
			}
			if depth >= l.maxDepth() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if !strings.EqualFold(filepath.Ext(name), ".ini") {
			return nil
		}
		if strings.EqualFold(name, "desktop.ini") || strings.EqualFold(name, naming.UserIniFile) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}

		files = append(files, iniCandidate{
			path:     path,
			rel:      rel,
			depth:    depth,
			disabled: pathDisabled(rel),
			mtime:    info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.WrapIf(err, "parser: folder discovery failed")
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.disabled != b.disabled {
			return !a.disabled
		}
		return strings.ToLower(a.rel) < strings.ToLower(b.rel)
	})

	return files, nil
}

// pathDisabled reports whether any component of the relative path, the file
// name included, carries the disabled marker.
func pathDisabled(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if naming.IsDisabled(part) {
			return true
		}
	}
	return false
}

func folderFingerprint(files []iniCandidate) string {
	var newest int64
	var sb strings.Builder
	for _, f := range files {
		if f.mtime > newest {
			newest = f.mtime
		}
		sb.WriteString(f.rel)
		sb.WriteByte('|')
	}
	sb.WriteString(strconv.FormatInt(newest, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(len(files)))
	return sb.String()
}
