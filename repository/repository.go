// Package repository owns the canonical reference records of known objects,
// backed by a database_object.json file per game. It is the only component
// that writes those records, everything discovered on disk stays transient
// until reconciliation pushes it through here.
package repository

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/iancoleman/strcase"

	"github.com/reynalivan/emm-core/internal/fsutil"
)

// ErrCorruptDatabase marks a database file that failed validation, a
// duplicated identity key included. Corruption aborts the load, it is never
// silently repaired.
var ErrCorruptDatabase = errors.Sentinel("repository: corrupt database")

// IsCorruptDatabase checks if the given error is due to a corrupt database
// file rather than an ordinary read failure.
func IsCorruptDatabase(err error) bool {
	return errors.Is(err, ErrCorruptDatabase)
}

// BakSuffix is appended to the previous database version on every flush.
const BakSuffix = ".bak"

// ModObject is one canonical record. Fields the engine understands are
// typed, anything else a database author added rides along in Extra and
// survives the next flush untouched.
type ModObject struct {
	Identity  string   `json:"identity"`
	Name      string   `json:"name"`
	Type      string   `json:"object_type,omitempty"`
	Rarity    string   `json:"rarity,omitempty"`
	Element   string   `json:"element,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Weapon    string   `json:"weapon,omitempty"`
	Region    string   `json:"region,omitempty"`
	Subtype   string   `json:"subtype,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`

	Extra *gabs.Container `json:"-"`
}

// knownObjectKeys are the json keys covered by ModObject's typed fields.
// Everything else in a record is schema-less extra metadata.
var knownObjectKeys = []string{
	"identity", "name", "object_type", "rarity", "element",
	"gender", "weapon", "region", "subtype", "tags", "thumbnail",
}

// IdentityKey derives the stable lookup key for a display name: punctuation
// stripped, snake cased, lowered. "Raiden (Shogun)" and "raiden shogun" both
// key as raiden_shogun.
func IdentityKey(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '_', r == '-':
			return r
		}
		return -1
	}, name)
	clean = strings.Join(strings.Fields(clean), " ")
	return strings.ToLower(strcase.ToSnake(clean))
}

// Repository is an in-memory set of records bound to one database file.
// Readers share it freely, every accessor hands out copies, and mutations
// replace records wholesale so a snapshot taken before a write never
// observes it.
type Repository struct {
	mu      sync.RWMutex
	path    string
	objects []ModObject
	index   map[string]int
	dirty   bool
	gen     uint64

	// flushMu serializes file writes separately from the data lock.
	flushMu sync.Mutex
}

// New returns an empty repository bound to path. Nothing is written until
// the first flush.
func New(path string) *Repository {
	return &Repository{path: path, index: make(map[string]int)}
}

// Load reads and validates the database at path. Duplicate identity keys and
// undecodable records fail with ErrCorruptDatabase.
func Load(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "repository: failed to read database")
	}
	if err := validateIdentities(data); err != nil {
		return nil, err
	}
	objects, err := decodeObjects(data)
	if err != nil {
		return nil, err
	}
	r := New(path)
	r.objects = objects
	for i := range objects {
		r.index[objects[i].Identity] = i
	}
	return r, nil
}

// Open loads the database at path, falling back to the .bak snapshot of the
// previous flush and finally to an empty set when neither copy is usable. A
// missing file is a database nobody has written yet, not a failure.
func Open(path string) *Repository {
	r, err := Load(path)
	if err == nil {
		return r
	}
	if errors.Is(err, os.ErrNotExist) {
		return New(path)
	}

	log.WithField("path", path).WithError(err).Warn("repository: database unusable, trying backup")
	if b, berr := Load(path + BakSuffix); berr == nil {
		b.path = path
		b.dirty = true
		return b
	}

	log.WithField("path", path).Warn("repository: backup unusable as well, starting empty")
	return New(path)
}

// Path returns the database file this repository flushes to.
func (r *Repository) Path() string {
	return r.path
}

// Len returns the number of records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Dirty reports whether the in-memory set has diverged from the file.
func (r *Repository) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// All returns a snapshot of every record in stored order.
func (r *Repository) All() []ModObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ModObject(nil), r.objects...)
}

// Find returns the record with the given identity key.
func (r *Repository) Find(identity string) (ModObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[identity]
	if !ok {
		return ModObject{}, false
	}
	return r.objects[i], true
}

// Upsert inserts a record or replaces the one sharing its identity key,
// keeping the original position. An empty identity is derived from the name.
func (r *Repository) Upsert(obj ModObject) {
	if obj.Identity == "" {
		obj.Identity = IdentityKey(obj.Name)
	}
	obj.Tags = append([]string(nil), obj.Tags...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[obj.Identity]; ok {
		r.objects[i] = obj
	} else {
		r.index[obj.Identity] = len(r.objects)
		r.objects = append(r.objects, obj)
	}
	r.dirty = true
	r.gen++
}

// Remove deletes the record with the given identity key, reporting whether
// anything was removed.
func (r *Repository) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[identity]
	if !ok {
		return false
	}
	r.objects = append(r.objects[:i], r.objects[i+1:]...)
	for k := range r.index {
		delete(r.index, k)
	}
	for j := range r.objects {
		r.index[r.objects[j].Identity] = j
	}
	r.dirty = true
	r.gen++
	return true
}

// Flush writes the current set to disk when it has changed. The previous
// file version is kept as the .bak fallback, and the replacement itself is
// atomic, a reader of the file never sees a partial database.
func (r *Repository) Flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.RLock()
	if !r.dirty {
		r.mu.RUnlock()
		return nil
	}
	snapshot := append([]ModObject(nil), r.objects...)
	gen := r.gen
	path := r.path
	r.mu.RUnlock()

	out, err := encodeObjects(snapshot)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := fsutil.CopyFile(path, path+BakSuffix); err != nil {
			return errors.WithMessage(err, "repository: failed to keep previous database version")
		}
	}
	if err := fsutil.AtomicWriteFile(path, out, 0o644); err != nil {
		return errors.WithMessage(err, "repository: failed to write database")
	}

	r.mu.Lock()
	if r.gen == gen {
		r.dirty = false
	}
	r.mu.Unlock()
	return nil
}

// validateIdentities streams over the raw objects array and rejects the file
// as corrupt when two records share an identity key. Runs before any full
// decode so a corrupt file is refused cheaply and completely.
func validateIdentities(data []byte) error {
	seen := make(map[string]struct{})
	var derr error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dt jsonparser.ValueType, _ int, _ error) {
		if derr != nil {
			return
		}
		id, _ := jsonparser.GetString(value, "identity")
		if id == "" {
			name, _ := jsonparser.GetString(value, "name")
			id = IdentityKey(name)
		}
		if id == "" {
			derr = errors.WithMessage(ErrCorruptDatabase, "record without name or identity")
			return
		}
		if _, ok := seen[id]; ok {
			derr = errors.WithMessage(ErrCorruptDatabase, "duplicate identity "+strconv.Quote(id))
			return
		}
		seen[id] = struct{}{}
	}, "objects")
	if err != nil {
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			// A file without an objects array is an empty database.
			return nil
		}
		return errors.WithMessage(ErrCorruptDatabase, err.Error())
	}
	return derr
}

func decodeObjects(data []byte) ([]ModObject, error) {
	var out []ModObject
	var derr error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dt jsonparser.ValueType, _ int, _ error) {
		if derr != nil {
			return
		}
		if dt != jsonparser.Object {
			derr = errors.WithMessage(ErrCorruptDatabase, "objects array holds a non-object entry")
			return
		}
		var o ModObject
		if err := json.Unmarshal(value, &o); err != nil {
			derr = errors.WithMessage(ErrCorruptDatabase, err.Error())
			return
		}
		if o.Identity == "" {
			o.Identity = IdentityKey(o.Name)
		}
		o.Extra = extractExtra(value)
		out = append(out, o)
	}, "objects")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, errors.WithMessage(ErrCorruptDatabase, err.Error())
	}
	if derr != nil {
		return nil, derr
	}
	return out, nil
}

// extractExtra keeps whatever keys of a raw record the typed fields do not
// cover, so third-party database additions survive a round trip.
func extractExtra(raw []byte) *gabs.Container {
	c, err := gabs.ParseJSON(raw)
	if err != nil {
		return nil
	}
	for _, k := range knownObjectKeys {
		if c.Exists(k) {
			_ = c.Delete(k)
		}
	}
	if len(c.ChildrenMap()) == 0 {
		return nil
	}
	return c
}

func encodeObjects(objects []ModObject) ([]byte, error) {
	root := gabs.New()
	if _, err := root.Array("objects"); err != nil {
		return nil, errors.WithStackIf(err)
	}
	for _, o := range objects {
		c, err := encodeObject(o)
		if err != nil {
			return nil, err
		}
		if err := root.ArrayAppend(c.Data(), "objects"); err != nil {
			return nil, errors.WithStackIf(err)
		}
	}
	return []byte(root.StringIndent("", "  ")), nil
}

func encodeObject(o ModObject) (*gabs.Container, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}
	c, err := gabs.ParseJSON(b)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}
	if o.Extra != nil {
		for k, v := range o.Extra.ChildrenMap() {
			if _, err := c.Set(v.Data(), k); err != nil {
				return nil, errors.WithStackIf(err)
			}
		}
	}
	return c, nil
}
