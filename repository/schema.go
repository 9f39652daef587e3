package repository

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/reynalivan/emm-core/naming"
)

// Schema describes the supported game types: their display aliases, field
// definitions and the object files each game links. Loaded once from
// schema.json, game type lookups are case-insensitive.
type Schema struct {
	path  string
	keys  []string
	games map[string]*GameSchema
}

// GameSchema is the schema entry of a single game type.
type GameSchema struct {
	// Key is the game type as spelled in the schema file, GIMI, SRMI and
	// friends.
	Key string

	// Aliases maps internal field keys to display labels.
	Aliases map[string]string

	// ObjectLink maps a category to the object file holding its records,
	// relative to the reference database directory.
	ObjectLink map[string]string

	// Definition is the raw per-category field definition blob. The engine
	// passes it through to the UI untouched.
	Definition *gabs.Container
}

// LoadSchema reads and parses a schema.json file. Game types keep the order
// they appear in the file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "repository: failed to read schema")
	}

	s := &Schema{path: path, games: make(map[string]*GameSchema)}
	err = jsonparser.ObjectEach(data, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		if dt != jsonparser.Object {
			return nil
		}
		g := &GameSchema{Key: string(key)}
		var raw struct {
			Alias      map[string]string `json:"alias"`
			ObjectLink map[string]string `json:"object_link"`
		}
		if err := json.Unmarshal(value, &raw); err != nil {
			return errors.WithMessage(err, "repository: malformed schema entry "+string(key))
		}
		g.Aliases = raw.Alias
		g.ObjectLink = raw.ObjectLink
		if def, _, _, err := jsonparser.Get(value, "schema"); err == nil {
			if c, perr := gabs.ParseJSON(def); perr == nil {
				g.Definition = c
			}
		}
		s.keys = append(s.keys, g.Key)
		s.games[strings.ToLower(g.Key)] = g
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "repository: malformed schema")
	}
	return s, nil
}

// GameTypes returns every game type key in schema order.
func (s *Schema) GameTypes() []string {
	return append([]string(nil), s.keys...)
}

// Game returns the schema entry for a game type, case-insensitively.
func (s *Schema) Game(gameType string) (*GameSchema, bool) {
	g, ok := s.games[strings.ToLower(gameType)]
	return g, ok
}

// Alias resolves the display label for a field key. Keys the schema does not
// alias fall back to a humanized version of the key itself.
func (s *Schema) Alias(gameType, key string) string {
	if g, ok := s.Game(gameType); ok {
		if alias, ok := g.Aliases[key]; ok {
			return alias
		}
	}
	return humanizeKey(key)
}

// GameTypeFromPath infers the game type from a filesystem path whose
// components name one, the way launcher installs lay out their mod folders.
func (s *Schema) GameTypeFromPath(path string) string {
	parts := strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' })
	for _, key := range s.keys {
		for _, part := range parts {
			if strings.EqualFold(part, key) {
				return key
			}
		}
	}
	return ""
}

// Objects returns the merged reference records for a game type: the game's
// own database file when present, overlaid with every object file its schema
// links. A missing or unusable linked file is skipped with a warning, the
// rest of the reference data still loads.
func (s *Schema) Objects(baseDir, gameType string) ([]ModObject, error) {
	g, ok := s.Game(gameType)
	if !ok {
		return nil, errors.Errorf("repository: unknown game type %s", gameType)
	}

	var out []ModObject
	pos := make(map[string]int)
	merge := func(objects []ModObject) {
		for _, o := range objects {
			if i, ok := pos[o.Identity]; ok {
				out[i] = o
				continue
			}
			pos[o.Identity] = len(out)
			out = append(out, o)
		}
	}

	primary := filepath.Join(baseDir, strings.ToLower(g.Key), naming.DatabaseFile)
	if r, err := Load(primary); err == nil {
		merge(r.All())
	} else if !errors.Is(err, os.ErrNotExist) {
		log.WithField("path", primary).WithError(err).Warn("repository: skipping unusable game database")
	}

	categories := make([]string, 0, len(g.ObjectLink))
	for category := range g.ObjectLink {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		p := filepath.Join(baseDir, filepath.FromSlash(g.ObjectLink[category]))
		r, err := Load(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.WithFields(log.Fields{"category": category, "path": p}).WithError(err).Warn("repository: skipping unusable object file")
			}
			continue
		}
		merge(r.All())
	}
	return out, nil
}

// FindObject looks a reference record up by display name across the merged
// files of a game type, case-insensitively. Creation flows use it to
// pre-fill sidecar metadata.
func (s *Schema) FindObject(baseDir, gameType, name string) (ModObject, bool) {
	objects, err := s.Objects(baseDir, gameType)
	if err != nil {
		return ModObject{}, false
	}
	for _, o := range objects {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return ModObject{}, false
}

// humanizeKey turns release_date into "Release date", the fallback when a
// schema carries no alias for a key.
func humanizeKey(key string) string {
	t := strings.ReplaceAll(key, "_", " ")
	if t == "" {
		return t
	}
	return strings.ToUpper(t[:1]) + strings.ToLower(t[1:])
}
