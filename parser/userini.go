package parser

import (
	"os"
	"strings"

	"emperror.dev/errors"
	"gopkg.in/ini.v1"
)

// UserConstants exposes the cycle variable values a model importer persists
// to its d3dx_user.ini between sessions. That file is owned by the importer,
// the engine only ever reads it, values here take priority over the initial
// values declared in a mod's own [Constants] section.
type UserConstants struct {
	// entries are keyed by lowercased variable name. The same variable name
	// regularly exists in many mods, the stored ini path disambiguates.
	entries map[string][]userEntry
}

type userEntry struct {
	path  string
	value string
}

// LoadUserConstants reads a d3dx_user.ini file. A missing file is not an
// error, the importer simply has not persisted anything yet.
func LoadUserConstants(path string) (*UserConstants, error) {
	u := &UserConstants{entries: make(map[string][]userEntry)}

	// The importer only ever uses "=", leaving ":" as a delimiter would split
	// keys containing drive letters. Continuation handling is off because the
	// keys are raw Windows paths full of backslashes.
	f, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
		IgnoreContinuation:  true,
	}, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return u, nil
		}
		return nil, errors.Wrap(err, "parser: failed to read d3dx_user.ini")
	}

	for _, k := range f.Section(constantsSection).Keys() {
		name := strings.TrimPrefix(k.Name(), "$")
		norm := strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
		norm = strings.TrimPrefix(norm, "/")

		i := strings.LastIndexByte(norm, '/')
		if i < 0 {
			// A bare variable with no owning ini path.
			u.entries[norm] = append(u.entries[norm], userEntry{value: k.Value()})
			continue
		}
		variable := norm[i+1:]
		u.entries[variable] = append(u.entries[variable], userEntry{path: norm[:i], value: k.Value()})
	}
	return u, nil
}

// Lookup resolves the persisted value of a variable belonging to the given
// ini file. The paths the importer stores are relative to its own root, so
// matching is done on path suffix, falling back to the bare file name when
// that identifies a single entry.
func (u *UserConstants) Lookup(iniPath, variable string) (string, bool) {
	entries := u.entries[strings.ToLower(variable)]
	if len(entries) == 0 {
		return "", false
	}

	norm := strings.ToLower(strings.ReplaceAll(iniPath, "\\", "/"))
	for _, e := range entries {
		if e.path == "" {
			continue
		}
		if norm == e.path || strings.HasSuffix(norm, "/"+e.path) {
			return e.value, true
		}
	}

	base := norm
	if i := strings.LastIndexByte(norm, '/'); i >= 0 {
		base = norm[i+1:]
	}
	var match *userEntry
	for i := range entries {
		e := &entries[i]
		if e.path == "" || strings.HasSuffix(e.path, "/"+base) || e.path == base {
			if match != nil {
				// Ambiguous, refuse to guess.
				return "", false
			}
			match = e
		}
	}
	if match == nil {
		return "", false
	}
	return match.value, true
}
