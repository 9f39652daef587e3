// Package naming defines the on-disk naming conventions shared by the model
// importer ecosystem: how disabled folders are marked, how pinned folders are
// suffixed, and which sidecar files carry metadata. Every component that
// touches a library folder goes through these helpers so the conventions
// stay in one place.
package naming

import (
	"regexp"
	"strings"
)

const (
	// DisabledPrefix is the canonical marker written when disabling a
	// folder. Importers skip folders carrying it.
	DisabledPrefix = "DISABLED "

	// PinSuffix marks a folder as pinned, bulk operations leave it alone.
	PinSuffix = "_pin"

	// PropertiesFile is the metadata sidecar of an object folder.
	PropertiesFile = "properties.json"

	// InfoFile is the metadata sidecar of a mod folder.
	InfoFile = "info.json"

	// DatabaseFile is the per-game reference database of known objects.
	DatabaseFile = "database_object.json"

	// SchemaFile describes the categories and aliases of a game type.
	SchemaFile = "schema.json"

	// UserIniFile is where the importer persists cycle variable values.
	UserIniFile = "d3dx_user.ini"

	// IgnoreFile sits at a scan root and excludes entries from scanning,
	// gitignore syntax.
	IgnoreFile = ".emmignore"
)

// disabledPattern accepts the historic variants of the disabled marker,
// "DISABLED Name", "disabled_Name" and mixtures of case and separators.
var disabledPattern = regexp.MustCompile(`(?i)^(disabled)[\s_]+`)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

// IsDisabled reports whether a folder name carries the disabled marker.
func IsDisabled(name string) bool {
	return disabledPattern.MatchString(name)
}

// IsPinned reports whether a folder name carries the pin suffix.
func IsPinned(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), PinSuffix)
}

// DisplayName strips both markers, returning the name a user recognizes.
func DisplayName(name string) string {
	name = disabledPattern.ReplaceAllString(name, "")
	if IsPinned(name) {
		name = name[:len(name)-len(PinSuffix)]
	}
	return name
}

// Disable returns the folder name with the canonical disabled marker
// applied. A name that already carries a marker, in any historic variant, is
// normalized to the canonical one.
func Disable(name string) string {
	return DisabledPrefix + disabledPattern.ReplaceAllString(name, "")
}

// Enable returns the folder name without any disabled marker.
func Enable(name string) string {
	return disabledPattern.ReplaceAllString(name, "")
}

// Pin returns the folder name with the pin suffix applied.
func Pin(name string) string {
	if IsPinned(name) {
		return name
	}
	return name + PinSuffix
}

// Unpin returns the folder name without the pin suffix.
func Unpin(name string) string {
	if !IsPinned(name) {
		return name
	}
	return name[:len(name)-len(PinSuffix)]
}

// IsImageFile reports whether a file name has one of the image extensions
// used for thumbnails and previews.
func IsImageFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(name[i:])]
	return ok
}

// IsThumbnailName reports whether a file name is a recognized thumbnail or
// preview image for the folder containing it.
func IsThumbnailName(name string) bool {
	if !IsImageFile(name) {
		return false
	}
	lower := strings.ToLower(name)
	base := lower
	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		base = lower[:i]
	}
	return base == "thumb" || strings.HasPrefix(base, "preview")
}
