// Package scanner walks one level of a library tree and classifies what it
// finds: object folders, mod folders, navigable groups and unmanaged strays.
// Results are plain snapshots of the disk state, nothing here mutates the
// tree or the reference database, that is reconciliation's job.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"emperror.dev/errors"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/reynalivan/emm-core/naming"
)

// Mode selects which level of a library is being scanned: the top, where
// every folder represents an object, or the inside of one object, where
// folders represent installable mods.
type Mode int

const (
	ModeObjects Mode = iota
	ModeMods
)

// Kind is the outcome of classifying a single directory entry.
type Kind string

const (
	// KindObject is a folder carrying a properties.json sidecar.
	KindObject Kind = "object"

	// KindMod is a folder carrying an info.json sidecar or ini files.
	KindMod Kind = "mod"

	// KindGroup is a folder that is not an item itself but directly
	// contains typed items, the UI navigates into it.
	KindGroup Kind = "group"

	// KindUnmanaged is anything else. Unmanaged entries are surfaced so
	// the user can see them, but no operation ever touches them.
	KindUnmanaged Kind = "unmanaged"
)

// Entry is a classified directory entry. Entries come out of Scan as cheap
// skeletons, Hydrate fills in sidecar metadata and images for the ones that
// are actually displayed.
type Entry struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Path        string    `json:"path"`
	Kind        Kind      `json:"kind"`
	IsDir       bool      `json:"is_dir"`
	Enabled     bool      `json:"enabled"`
	Pinned      bool      `json:"pinned"`
	ModTime     time.Time `json:"mod_time"`
	Hydrated    bool      `json:"hydrated"`

	Thumbnail  string            `json:"thumbnail,omitempty"`
	Previews   []string          `json:"previews,omitempty"`
	Properties *ObjectProperties `json:"properties,omitempty"`
	Info       *ModInfo          `json:"info,omitempty"`

	// Children holds the one level of entries inside a group.
	Children []Entry `json:"children,omitempty"`
}

// InaccessibleEntry records a subtree the scan could not read. It is part of
// the result, a permission problem on one folder never hides the rest.
type InaccessibleEntry struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e InaccessibleEntry) Error() string {
	return "scanner: " + e.Path + ": " + e.Err.Error()
}

// Result is one scan of one folder level.
type Result struct {
	Entries      []Entry
	Inaccessible []InaccessibleEntry
}

// Scanner classifies library folders. The zero value works, Blacklist is
// normally fed from the configured search settings.
type Scanner struct {
	// Blacklist holds directory names that are never scanned or surfaced.
	Blacklist []string
}

func New(blacklist []string) *Scanner {
	return &Scanner{Blacklist: blacklist}
}

// Scan reads the direct children of root and classifies each one. Every call
// reads fresh from disk. Symlinks are never followed or reported. Unreadable
// child folders are recorded as inaccessible, only an unreadable root fails
// the scan. Cancelling the context aborts between entries.
func (s *Scanner) Scan(ctx context.Context, root string, mode Mode) (*Result, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "scanner: failed to read scan root")
	}

	ign := s.loadIgnore(root)

	res := &Result{}
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStackIf(err)
		}
		if s.skip(d, ign) {
			continue
		}

		e := newEntry(root, d)
		if !e.IsDir {
			e.Kind = KindUnmanaged
			res.Entries = append(res.Entries, e)
			continue
		}

		children, rerr := os.ReadDir(e.Path)
		if rerr != nil {
			res.Inaccessible = append(res.Inaccessible, InaccessibleEntry{Path: e.Path, Err: rerr})
			continue
		}

		if typed(children, mode) {
			e.Kind = itemKind(mode)
			res.Entries = append(res.Entries, e)
			continue
		}

		group, inacc := s.probeGroup(ctx, e.Path, children, mode)
		res.Inaccessible = append(res.Inaccessible, inacc...)
		if group != nil {
			e.Kind = KindGroup
			e.Children = group
			res.Entries = append(res.Entries, e)
			continue
		}

		e.Kind = KindUnmanaged
		res.Entries = append(res.Entries, e)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStackIf(err)
	}

	sortEntries(res.Entries)
	return res, nil
}

// probeGroup looks one level into a folder that carries no markers of its
// own. When at least one direct child is a typed item the folder is a
// navigable group and all its children are classified, without descending
// any further.
func (s *Scanner) probeGroup(ctx context.Context, path string, children []fs.DirEntry, mode Mode) ([]Entry, []InaccessibleEntry) {
	var out []Entry
	var inacc []InaccessibleEntry
	found := false

	for _, c := range children {
		if ctx.Err() != nil {
			return nil, nil
		}
		if s.skip(c, nil) {
			continue
		}

		e := newEntry(path, c)
		if !e.IsDir {
			e.Kind = KindUnmanaged
			out = append(out, e)
			continue
		}

		grand, err := os.ReadDir(e.Path)
		if err != nil {
			inacc = append(inacc, InaccessibleEntry{Path: e.Path, Err: err})
			continue
		}
		if typed(grand, mode) {
			e.Kind = itemKind(mode)
			found = true
		} else {
			e.Kind = KindUnmanaged
		}
		out = append(out, e)
	}

	if !found {
		return nil, inacc
	}
	sortEntries(out)
	return out, inacc
}

// skip filters out entries the scan never looks at: dotfiles, blacklisted
// directory names, ignore matches and symlinks.
func (s *Scanner) skip(d fs.DirEntry, ign *ignore.GitIgnore) bool {
	name := d.Name()
	if strings.HasPrefix(name, ".") {
		return true
	}
	if d.Type()&fs.ModeSymlink != 0 {
		return true
	}
	for _, blocked := range s.Blacklist {
		if strings.EqualFold(name, blocked) {
			return true
		}
	}
	if ign != nil && ign.MatchesPath(name) {
		return true
	}
	return false
}

func (s *Scanner) loadIgnore(root string) *ignore.GitIgnore {
	b, err := os.ReadFile(filepath.Join(root, naming.IgnoreFile))
	if err != nil {
		return nil
	}
	return ignore.CompileIgnoreLines(strings.Split(string(b), "\n")...)
}

func newEntry(parent string, d fs.DirEntry) Entry {
	name := d.Name()
	e := Entry{
		Name:        name,
		DisplayName: naming.DisplayName(name),
		Path:        filepath.Join(parent, name),
		IsDir:       d.IsDir(),
		Enabled:     !naming.IsDisabled(name),
		Pinned:      naming.IsPinned(name),
	}
	if info, err := d.Info(); err == nil {
		e.ModTime = info.ModTime()
	}
	return e
}

// typed reports whether a folder's direct contents mark it as an item for
// the given mode. Objects are recognized by their properties sidecar, mods
// by an info sidecar or by shipping ini files.
func typed(children []fs.DirEntry, mode Mode) bool {
	for _, c := range children {
		if c.IsDir() {
			continue
		}
		name := c.Name()
		switch mode {
		case ModeObjects:
			if strings.EqualFold(name, naming.PropertiesFile) {
				return true
			}
		case ModeMods:
			if strings.EqualFold(name, naming.InfoFile) {
				return true
			}
			if strings.EqualFold(filepath.Ext(name), ".ini") && !strings.EqualFold(name, "desktop.ini") {
				return true
			}
		}
	}
	return false
}

func itemKind(mode Mode) Kind {
	if mode == ModeObjects {
		return KindObject
	}
	return KindMod
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].DisplayName), strings.ToLower(entries[j].DisplayName)
		if a != b {
			return a < b
		}
		return entries[i].Name < entries[j].Name
	})
}
