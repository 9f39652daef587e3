package library

import (
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"

	"github.com/reynalivan/emm-core/config"
)

// DetectedGame is one proposed library found while probing an installation
// folder. Proposals carry no ID, one is assigned when a proposal is accepted
// into the configuration.
type DetectedGame struct {
	Name     string          `json:"name"`
	Type     config.GameType `json:"type"`
	ModsPath string          `json:"mods_path"`

	// ModsPathExists reports whether the proposed mods folder is already on
	// disk. Accepting a proposal creates it when it is not.
	ModsPathExists bool `json:"mods_path_exists"`
}

// importerDirs maps the importer folder names an XXMI installation uses onto
// game types.
var importerDirs = map[string]config.GameType{
	"GIMI": config.GameTypeGIMI,
	"SRMI": config.GameTypeSRMI,
	"ZZMI": config.GameTypeZZMI,
	"WWMI": config.GameTypeWWMI,
}

// gameNames are the display names proposals are labeled with.
var gameNames = map[config.GameType]string{
	config.GameTypeGIMI: "Genshin Impact",
	config.GameTypeSRMI: "Honkai: Star Rail",
	config.GameTypeZZMI: "Zenless Zone Zero",
	config.GameTypeWWMI: "Wuthering Waves",
}

// ProposeGames probes a folder for model importer installations and returns
// one proposal per importer found. Recognized layouts are a launcher root
// with importer folders inside it, and a single importer folder picked
// either directly or through any file inside it such as the launcher
// executable.
func ProposeGames(path string) ([]DetectedGame, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "library: failed to stat probe path")
	}
	if !st.IsDir() {
		path = filepath.Dir(path)
	}
	path = filepath.Clean(path)

	// The probe path may itself be an importer folder.
	if t, ok := importerDirs[strings.ToUpper(filepath.Base(path))]; ok {
		return []DetectedGame{proposal(t, path)}, nil
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "library: failed to read probe path")
	}
	var out []DetectedGame
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if t, ok := importerDirs[strings.ToUpper(d.Name())]; ok {
			out = append(out, proposal(t, filepath.Join(path, d.Name())))
		}
	}
	return out, nil
}

func proposal(t config.GameType, importerDir string) DetectedGame {
	mods := filepath.Join(importerDir, "Mods")
	exists := false
	if st, err := os.Stat(mods); err == nil && st.IsDir() {
		exists = true
	}
	return DetectedGame{
		Name:           gameNames[t],
		Type:           t,
		ModsPath:       mods,
		ModsPathExists: exists,
	}
}
