package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"

	"github.com/reynalivan/emm-core/internal/fsutil"
	"github.com/reynalivan/emm-core/naming"
)

// ObjectProperties is the properties.json sidecar of an object folder. The
// fields mirror what the reference database tracks per object so the two can
// be diffed during reconciliation.
type ObjectProperties struct {
	ActualName string   `json:"actual_name,omitempty"`
	Type       string   `json:"object_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	Rarity     string   `json:"rarity,omitempty"`
	Element    string   `json:"element,omitempty"`
	Weapon     string   `json:"weapon,omitempty"`
	Region     string   `json:"region,omitempty"`
	Subtype    string   `json:"subtype,omitempty"`
}

// ModInfo is the info.json sidecar of a mod folder.
type ModInfo struct {
	ActualName  string   `json:"actual_name,omitempty"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PresetName  string   `json:"preset_name,omitempty"`

	// IsSafe marks the mod as allowed to stay enabled while safe mode is
	// applied to its object.
	IsSafe bool `json:"is_safe,omitempty"`

	// LastStatusActive remembers the enabled state before safe mode so it
	// can be restored afterwards.
	LastStatusActive bool `json:"last_status_active"`
}

// LoadProperties reads the properties sidecar of an object folder. A folder
// without one returns nil without error, absence is a normal state.
func LoadProperties(dir string) (*ObjectProperties, error) {
	b, err := os.ReadFile(filepath.Join(dir, naming.PropertiesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanner: failed to read properties sidecar")
	}
	p := new(ObjectProperties)
	if err := json.Unmarshal(b, p); err != nil {
		return nil, errors.Wrap(err, "scanner: malformed properties sidecar")
	}
	return p, nil
}

// SaveProperties writes the properties sidecar of an object folder. Readers
// never observe a partial file.
func SaveProperties(dir string, p *ObjectProperties) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.WithStackIf(err)
	}
	return fsutil.AtomicWriteFile(filepath.Join(dir, naming.PropertiesFile), b, 0o644)
}

// LoadInfo reads the info sidecar of a mod folder, nil without error when
// the folder has none.
func LoadInfo(dir string) (*ModInfo, error) {
	b, err := os.ReadFile(filepath.Join(dir, naming.InfoFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanner: failed to read info sidecar")
	}
	i := new(ModInfo)
	if err := json.Unmarshal(b, i); err != nil {
		return nil, errors.Wrap(err, "scanner: malformed info sidecar")
	}
	return i, nil
}

// SaveInfo writes the info sidecar of a mod folder.
func SaveInfo(dir string, i *ModInfo) error {
	b, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return errors.WithStackIf(err)
	}
	return fsutil.AtomicWriteFile(filepath.Join(dir, naming.InfoFile), b, 0o644)
}

// Hydrate fills an entry with everything beyond the cheap directory listing:
// sidecar metadata, a verified thumbnail and the preview images. Scan keeps
// entries skeletal so large libraries list fast, callers hydrate the entries
// they actually display.
func (s *Scanner) Hydrate(e *Entry) error {
	if !e.IsDir || e.Kind == KindUnmanaged {
		e.Hydrated = true
		return nil
	}

	switch e.Kind {
	case KindObject:
		p, err := LoadProperties(e.Path)
		if err != nil {
			return err
		}
		e.Properties = p
	case KindMod:
		i, err := LoadInfo(e.Path)
		if err != nil {
			return err
		}
		e.Info = i
	}

	dirents, err := os.ReadDir(e.Path)
	if err != nil {
		return errors.Wrap(err, "scanner: failed to read item folder")
	}

	var thumb string
	var previews []string
	for _, d := range dirents {
		if d.IsDir() || !naming.IsThumbnailName(d.Name()) {
			continue
		}
		p := filepath.Join(e.Path, d.Name())
		if !isImage(p) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(d.Name()), "thumb") {
			if thumb == "" {
				thumb = p
			}
			continue
		}
		previews = append(previews, p)
	}
	sort.Strings(previews)
	if thumb == "" && len(previews) > 0 {
		thumb = previews[0]
	}

	e.Thumbnail = thumb
	e.Previews = previews
	e.Hydrated = true
	return nil
}

// isImage sniffs file content. A text file somebody renamed to thumb.png is
// not a thumbnail.
func isImage(path string) bool {
	mt, err := mimetype.DetectFile(path)
	return err == nil && strings.HasPrefix(mt.String(), "image/")
}
