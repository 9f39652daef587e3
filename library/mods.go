package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/reynalivan/emm-core/archive"
	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/fsutil"
	"github.com/reynalivan/emm-core/internal/models"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/parser"
	"github.com/reynalivan/emm-core/repository"
	"github.com/reynalivan/emm-core/scanner"
)

// invalidNameChars are the characters Windows refuses in folder names.
// Libraries regularly live on NTFS disks whatever platform the engine runs
// on, so the stricter set applies everywhere.
const invalidNameChars = `<>:"/\|?*`

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("library: folder name cannot be empty")
	}
	if strings.ContainsAny(name, invalidNameChars) {
		return errors.Errorf("library: folder name %q contains invalid characters", name)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return errors.Errorf("library: folder name %q is not allowed", name)
	}
	return nil
}

// Toggle flips the disabled marker of a folder by renaming it. A non-nil
// enable forces that state instead of flipping, which is what the bulk flows
// use. Returns the absolute path the folder ends up at, unchanged when it
// already was in the requested state.
func (l *Library) Toggle(path string, enable *bool) (string, error) {
	p, err := l.SafePath(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to stat folder")
	}
	if !st.IsDir() {
		return "", errors.New("library: only folders carry an enabled state")
	}

	name := filepath.Base(p)
	enabled := !naming.IsDisabled(name)
	want := !enabled
	if enable != nil {
		want = *enable
	}
	if want == enabled {
		return p, nil
	}

	next := naming.Disable(name)
	if want {
		next = naming.Enable(name)
	}
	dst, err := l.renameFolder(p, next)
	if err != nil {
		return "", err
	}

	l.Log().WithFields(log.Fields{"folder": name, "enabled": want}).Debug("toggled folder state")
	l.Events().Publish(ItemUpdatedEvent, dst)
	l.RecordActivity(ActivityModToggle, models.ActivityMeta{"path": dst, "enabled": want})
	return dst, nil
}

// Pin marks a folder as pinned so the bulk flows leave it alone.
func (l *Library) Pin(path string) (string, error) {
	return l.setPin(path, true)
}

// Unpin removes the pin marker from a folder.
func (l *Library) Unpin(path string) (string, error) {
	return l.setPin(path, false)
}

func (l *Library) setPin(path string, pinned bool) (string, error) {
	p, err := l.SafePath(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to stat folder")
	}
	if !st.IsDir() {
		return "", errors.New("library: only folders can be pinned")
	}

	name := filepath.Base(p)
	if naming.IsPinned(name) == pinned {
		return p, nil
	}
	next := naming.Pin(name)
	if !pinned {
		next = naming.Unpin(name)
	}
	dst, err := l.renameFolder(p, next)
	if err != nil {
		return "", err
	}

	l.Log().WithFields(log.Fields{"folder": name, "pinned": pinned}).Debug("changed folder pin marker")
	l.Events().Publish(ItemUpdatedEvent, dst)
	l.RecordActivity(ActivityModPin, models.ActivityMeta{"path": dst, "pinned": pinned})
	return dst, nil
}

// Rename gives a folder a new display name while preserving its disabled and
// pin markers, and rewrites the actual_name in its sidecar so the display
// name survives the markers being applied and removed by other operations.
func (l *Library) Rename(path, newName string) (string, error) {
	p, err := l.SafePath(path)
	if err != nil {
		return "", err
	}
	if err := validateName(newName); err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to stat folder")
	}
	if !st.IsDir() {
		return "", errors.New("library: only folders can be renamed")
	}

	name := filepath.Base(p)
	next := newName
	if naming.IsPinned(name) {
		next = naming.Pin(next)
	}
	if naming.IsDisabled(name) {
		next = naming.Disable(next)
	}
	dst := p
	if next != name {
		if dst, err = l.renameFolder(p, next); err != nil {
			return "", err
		}
	}

	// Keep the sidecar display name in step with the folder. Whichever
	// sidecar the folder carries wins, a folder never legitimately has both.
	if props, perr := scanner.LoadProperties(dst); perr == nil && props != nil {
		props.ActualName = newName
		if err := scanner.SaveProperties(dst, props); err != nil {
			l.Log().WithError(err).Warn("failed to update properties sidecar after rename")
		}
	} else if info, ierr := scanner.LoadInfo(dst); ierr == nil && info != nil {
		info.ActualName = newName
		if err := scanner.SaveInfo(dst, info); err != nil {
			l.Log().WithError(err).Warn("failed to update info sidecar after rename")
		}
	}

	l.Log().WithFields(log.Fields{"from": name, "to": next}).Info("renamed folder")
	l.Events().Publish(ItemUpdatedEvent, dst)
	l.RecordActivity(ActivityModRename, models.ActivityMeta{"from": name, "to": next})
	return dst, nil
}

// renameFolder renames a folder within its parent directory, refusing to
// clobber an existing sibling. Both marker variants of a name existing side
// by side is exactly the situation the check is for.
func (l *Library) renameFolder(p, next string) (string, error) {
	dst := filepath.Join(filepath.Dir(p), next)
	if _, err := os.Stat(dst); err == nil {
		return "", errors.Errorf("library: cannot rename %q, %q already exists", filepath.Base(p), next)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", errors.Wrap(err, "library: failed to stat rename target")
	}
	if err := os.Rename(p, dst); err != nil {
		return "", errors.Wrap(err, "library: failed to rename folder")
	}
	return dst, nil
}

// trashManifest records where a trashed folder came from so a user, or a
// future restore flow, can put it back.
type trashManifest struct {
	OriginalPath string    `json:"original_path"`
	Library      string    `json:"library"`
	TrashedAt    time.Time `json:"trashed_at"`
}

// Trash moves a folder into the application trash instead of deleting it.
// Each trashed folder gets its own keyed slot, so repeated deletions of
// folders sharing a name never collide. Returns the path inside the trash.
func (l *Library) Trash(path string) (string, error) {
	p, err := l.SafePath(path)
	if err != nil {
		return "", err
	}
	if p == filepath.Clean(l.Path()) {
		return "", errors.New("library: refusing to trash the library root")
	}
	if _, err := os.Stat(p); err != nil {
		return "", errors.Wrap(err, "library: failed to stat folder")
	}

	slot := filepath.Join(config.Get().System.TrashDirectory, uuid.New().String())
	if err := os.MkdirAll(slot, 0o700); err != nil {
		return "", errors.Wrap(err, "library: failed to create trash slot")
	}
	dst := filepath.Join(slot, filepath.Base(p))
	if err := fsutil.Rename(p, dst); err != nil {
		return "", errors.Wrap(err, "library: failed to move folder to trash")
	}

	m := trashManifest{OriginalPath: p, Library: l.ID(), TrashedAt: time.Now().UTC()}
	if b, err := json.MarshalIndent(m, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(slot, "trash.json"), b, 0o600); err != nil {
			l.Log().WithError(err).Warn("failed to write trash manifest")
		}
	}

	l.Log().WithField("folder", filepath.Base(p)).Info("moved folder to trash")
	l.Events().Publish(ItemRemovedEvent, p)
	l.RecordActivity(ActivityModTrash, models.ActivityMeta{"path": p, "trash": dst})
	return dst, nil
}

// propertiesFromRecord seeds an object sidecar from a reference database
// record.
func propertiesFromRecord(obj repository.ModObject) *scanner.ObjectProperties {
	return &scanner.ObjectProperties{
		ActualName: obj.Name,
		Type:       obj.Type,
		Tags:       obj.Tags,
		Gender:     obj.Gender,
		Rarity:     obj.Rarity,
		Element:    obj.Element,
		Weapon:     obj.Weapon,
		Region:     obj.Region,
		Subtype:    obj.Subtype,
	}
}

// CreateObject materializes a managed object folder with a pre-filled
// properties sidecar. A reference record, when given, seeds the sidecar and
// its bundled thumbnail. The folder must not already exist.
func (l *Library) CreateObject(name string, record *repository.ModObject) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	p, err := l.SafePath(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err == nil {
		return "", errors.Errorf("library: folder %q already exists", name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", errors.Wrap(err, "library: failed to stat target folder")
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", errors.Wrap(err, "library: failed to create object folder")
	}

	props := &scanner.ObjectProperties{ActualName: name}
	if record != nil {
		props = propertiesFromRecord(*record)
		if props.ActualName == "" {
			props.ActualName = name
		}
	}
	if err := scanner.SaveProperties(p, props); err != nil {
		return "", err
	}
	if record != nil {
		l.installThumbnail(p, *record)
	}

	l.Log().WithField("object", name).Info("created object folder")
	l.Events().Publish(ItemUpdatedEvent, p)
	l.RecordActivity(ActivityObjectCreate, models.ActivityMeta{"path": p, "object": props.ActualName})
	return p, nil
}

// installThumbnail copies the image a reference record names into the folder
// as thumb.<ext>. Reference databases ship their images next to the database
// file; a record naming an image that was not shipped is skipped, a missing
// picture is not worth failing an operation over.
func (l *Library) installThumbnail(dir string, obj repository.ModObject) bool {
	if obj.Thumbnail == "" || !naming.IsImageFile(obj.Thumbnail) {
		return false
	}
	refDir := config.Get().System.GetReferenceDatabaseDirectory()
	candidates := []string{
		filepath.Join(refDir, strings.ToLower(string(l.Type())), filepath.FromSlash(obj.Thumbnail)),
		filepath.Join(refDir, filepath.FromSlash(obj.Thumbnail)),
	}
	for _, src := range candidates {
		if st, err := os.Stat(src); err != nil || st.IsDir() {
			continue
		}
		dst := filepath.Join(dir, "thumb"+strings.ToLower(filepath.Ext(obj.Thumbnail)))
		if err := fsutil.CopyFile(src, dst); err != nil {
			l.Log().WithError(err).WithField("thumbnail", obj.Thumbnail).Warn("failed to install bundled thumbnail")
			return false
		}
		return true
	}
	return false
}

// CreateMod installs a mod folder named name under parent from a source on
// disk. A directory source is copied, anything else is treated as an archive
// and extracted. A failed install never leaves a half written folder behind.
func (l *Library) CreateMod(ctx context.Context, parent, source, name string) (string, error) {
	pp, err := l.SafePath(parent)
	if err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	st, err := os.Stat(source)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to stat mod source")
	}
	dst := filepath.Join(pp, name)
	if _, err := os.Stat(dst); err == nil {
		return "", errors.Errorf("library: folder %q already exists", name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", errors.Wrap(err, "library: failed to stat target folder")
	}

	if st.IsDir() {
		err = fsutil.CopyDir(source, dst)
	} else {
		if err = archive.Extract(ctx, source, dst); err == nil {
			err = flattenSingleRoot(dst)
		}
	}
	if err != nil {
		_ = os.RemoveAll(dst)
		return "", err
	}

	// The source may already carry an info sidecar, keep it and only fill in
	// the display name when it has none.
	info, lerr := scanner.LoadInfo(dst)
	if lerr != nil || info == nil {
		info = &scanner.ModInfo{}
	}
	if info.ActualName == "" {
		info.ActualName = name
	}
	if err := scanner.SaveInfo(dst, info); err != nil {
		l.Log().WithError(err).Warn("failed to write info sidecar for new mod")
	}

	l.Log().WithFields(log.Fields{"mod": name, "source": source}).Info("installed mod folder")
	l.Events().Publish(ItemUpdatedEvent, dst)
	l.RecordActivity(ActivityModCreate, models.ActivityMeta{"path": dst, "source": filepath.Base(source)})
	return dst, nil
}

// flattenSingleRoot hoists the content of an archive that wrapped everything
// in a single top level folder, so Mod.zip holding Mod/ does not install as
// Mod/Mod. Hoisting only happens when that folder is genuinely the sole
// entry and none of its children share its name.
func flattenSingleRoot(dir string) error {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return errors.WithStackIf(err)
	}
	if len(dirents) != 1 || !dirents[0].IsDir() {
		return nil
	}
	root := filepath.Join(dir, dirents[0].Name())
	inner, err := os.ReadDir(root)
	if err != nil {
		return errors.WithStackIf(err)
	}
	for _, d := range inner {
		if d.Name() == dirents[0].Name() {
			return nil
		}
	}
	for _, d := range inner {
		if err := os.Rename(filepath.Join(root, d.Name()), filepath.Join(dir, d.Name())); err != nil {
			return errors.Wrap(err, "library: failed to hoist archive root")
		}
	}
	return errors.WithStackIf(os.Remove(root))
}

// AddPreview copies an image into an item folder under the next free preview
// slot. Content is sniffed, the extension alone is not trusted.
func (l *Library) AddPreview(itemPath, imagePath string) (string, error) {
	p, err := l.SafePath(itemPath)
	if err != nil {
		return "", err
	}
	mt, err := mimetype.DetectFile(imagePath)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to read preview source")
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", errors.Errorf("library: %q is not an image", filepath.Base(imagePath))
	}
	ext := strings.ToLower(filepath.Ext(imagePath))
	if !naming.IsImageFile("x" + ext) {
		ext = mt.Extension()
	}

	dst := filepath.Join(p, "preview"+ext)
	for i := 2; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		dst = filepath.Join(p, fmt.Sprintf("preview-%d%s", i, ext))
	}
	if err := fsutil.CopyFile(imagePath, dst); err != nil {
		return "", err
	}

	l.Events().Publish(ItemUpdatedEvent, p)
	l.RecordActivity(ActivityPreviewAdd, models.ActivityMeta{"path": p, "image": filepath.Base(dst)})
	return dst, nil
}

// RemovePreview deletes a preview or thumbnail image from an item folder.
// Only recognized image names can be removed through this, it is not a
// general purpose delete.
func (l *Library) RemovePreview(itemPath, name string) error {
	p, err := l.SafePath(itemPath)
	if err != nil {
		return err
	}
	name = filepath.Base(name)
	if !naming.IsThumbnailName(name) {
		return errors.Errorf("library: %q is not a preview image", name)
	}
	if err := os.Remove(filepath.Join(p, name)); err != nil {
		return errors.Wrap(err, "library: failed to remove preview")
	}

	l.Events().Publish(ItemUpdatedEvent, p)
	l.RecordActivity(ActivityPreviewRemove, models.ActivityMeta{"path": p, "image": name})
	return nil
}

// PatchProperties applies fn to the properties sidecar of an object folder
// and saves the result. A folder without a sidecar gets one seeded from its
// display name.
func (l *Library) PatchProperties(path string, fn func(*scanner.ObjectProperties)) error {
	p, err := l.SafePath(path)
	if err != nil {
		return err
	}
	props, err := scanner.LoadProperties(p)
	if err != nil {
		return err
	}
	if props == nil {
		props = &scanner.ObjectProperties{ActualName: naming.DisplayName(filepath.Base(p))}
	}
	fn(props)
	if err := scanner.SaveProperties(p, props); err != nil {
		return err
	}

	l.Events().Publish(ItemUpdatedEvent, p)
	l.RecordActivity(ActivityMetadataPatch, models.ActivityMeta{"path": p, "sidecar": naming.PropertiesFile})
	return nil
}

// PatchInfo applies fn to the info sidecar of a mod folder and saves the
// result.
func (l *Library) PatchInfo(path string, fn func(*scanner.ModInfo)) error {
	p, err := l.SafePath(path)
	if err != nil {
		return err
	}
	info, err := scanner.LoadInfo(p)
	if err != nil {
		return err
	}
	if info == nil {
		info = &scanner.ModInfo{ActualName: naming.DisplayName(filepath.Base(p))}
	}
	fn(info)
	if err := scanner.SaveInfo(p, info); err != nil {
		return err
	}

	l.Events().Publish(ItemUpdatedEvent, p)
	l.RecordActivity(ActivityMetadataPatch, models.ActivityMeta{"path": p, "sidecar": naming.InfoFile})
	return nil
}

// SetIniValue edits one key in one configuration file inside the library,
// backing the file up before its first mutation and leaving every other byte
// as it was.
func (l *Library) SetIniValue(path, section, key, value string) error {
	p, err := l.SafePath(path)
	if err != nil {
		return err
	}
	doc, err := parser.ParseFile(p)
	if err != nil {
		return err
	}
	doc.Set(section, key, value)
	if err := parser.SaveDocument(doc); err != nil {
		return err
	}

	l.Events().Publish(ItemUpdatedEvent, filepath.Dir(p))
	l.RecordActivity(ActivityIniEdit, models.ActivityMeta{"file": p, "section": section, "key": key})
	return nil
}

// ApplyBinding rewrites the key assignments of one binding section in a
// configuration file inside the library.
func (l *Library) ApplyBinding(path string, b parser.KeyBinding) error {
	p, err := l.SafePath(path)
	if err != nil {
		return err
	}
	doc, err := parser.ParseFile(p)
	if err != nil {
		return err
	}
	parser.ApplyBinding(doc, b)
	if !doc.Dirty() {
		return nil
	}
	if err := parser.SaveDocument(doc); err != nil {
		return err
	}

	l.Events().Publish(ItemUpdatedEvent, filepath.Dir(p))
	l.RecordActivity(ActivityIniEdit, models.ActivityMeta{"file": p, "section": b.Section})
	return nil
}

// Backup writes a tar.gz snapshot of a folder into the backups area of the
// application root, named after the folder and the current time. Entries the
// library ignore file excludes from scanning are left out of backups too.
func (l *Library) Backup(ctx context.Context, path string) (string, error) {
	p, err := l.SafePath(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to stat folder")
	}
	if !st.IsDir() {
		return "", errors.New("library: only folders can be backed up")
	}

	var ignored string
	if b, err := os.ReadFile(filepath.Join(l.Path(), naming.IgnoreFile)); err == nil {
		ignored = string(b)
	}

	name := fmt.Sprintf("%s-%s.tar.gz", naming.DisplayName(filepath.Base(p)), time.Now().Format("20060102-150405"))
	dst := filepath.Join(config.Get().System.GetBackupDirectory(), l.ID(), name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", errors.Wrap(err, "library: failed to create backup directory")
	}

	a := &archive.Archive{BaseDirectory: p, Ignore: ignored}
	if err := a.Create(ctx, dst); err != nil {
		return "", err
	}

	l.Log().WithFields(log.Fields{"folder": filepath.Base(p), "backup": dst}).Info("wrote backup archive")
	l.RecordActivity(ActivityBackup, models.ActivityMeta{"path": p, "backup": dst})
	return dst, nil
}
