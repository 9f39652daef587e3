package parser

import (
	"io/fs"
	"os"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/reynalivan/emm-core/internal/fsutil"
)

// BackupSuffix is appended to a file name for the snapshot taken before the
// first destructive write to that file.
const BackupSuffix = ".backup"

var saveLock sync.Mutex

// SaveDocument writes a mutated document back to its file. Before the first
// destructive write a snapshot of the original bytes is stored next to the
// file with the BackupSuffix, an existing snapshot is never overwritten so
// it always reflects the state before the engine touched the file. The write
// itself is atomic, a failure never leaves a half-written ini behind.
func SaveDocument(doc *Document) error {
	if !doc.Dirty() {
		return nil
	}

	saveLock.Lock()
	defer saveLock.Unlock()

	path := doc.Path()
	mode := fs.FileMode(0o644)

	st, err := os.Stat(path)
	switch {
	case err == nil:
		mode = st.Mode().Perm()
		if err := writeBackupOnce(path); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return errors.Wrap(err, "parser: failed to stat ini file")
	}

	if err := fsutil.AtomicWriteFile(path, doc.Serialize(), mode); err != nil {
		return errors.WrapIf(err, "parser: failed to save ini file")
	}
	return nil
}

// writeBackupOnce copies the current on-disk bytes to the backup path if no
// backup exists yet.
func writeBackupOnce(path string) error {
	backup := path + BackupSuffix
	if _, err := os.Stat(backup); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "parser: failed to stat backup file")
	}

	orig, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "parser: failed to read ini for backup")
	}
	if err := os.WriteFile(backup, orig, 0o644); err != nil {
		return errors.Wrap(err, "parser: failed to write ini backup")
	}
	log.WithField("path", backup).Debug("created ini backup before first write")
	return nil
}
