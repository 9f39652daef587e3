package library

import (
	"math/rand/v2"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/reynalivan/emm-core/internal/models"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/scanner"
)

// BulkResult reports the outcome of one item inside a bulk operation.
type BulkResult struct {
	Path    string `json:"path"`
	NewPath string `json:"new_path,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BulkToggle applies Toggle to every path, skipping pinned folders. Items
// fail independently, one bad folder never aborts the rest, the caller gets
// a result per input in input order.
func (l *Library) BulkToggle(paths []string, enable *bool) []BulkResult {
	results := make([]BulkResult, 0, len(paths))
	var ok int
	for _, path := range paths {
		r := BulkResult{Path: path}
		if naming.IsPinned(filepath.Base(path)) {
			r.Skipped = true
			results = append(results, r)
			continue
		}
		dst, err := l.Toggle(path, enable)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.NewPath = dst
			ok++
		}
		results = append(results, r)
	}
	l.RecordActivity(ActivityBulkToggle, models.ActivityMeta{"count": len(paths), "ok": ok})
	return results
}

type rename struct {
	from, to string
}

// rollbackRenames undoes completed renames in reverse order. A rename that
// fails to undo is logged and skipped, aborting mid-rollback would strand
// even more folders.
func (l *Library) rollbackRenames(done []rename) {
	for i := len(done) - 1; i >= 0; i-- {
		if err := os.Rename(done[i].to, done[i].from); err != nil {
			l.Log().WithError(err).WithField("folder", done[i].from).Error("rollback rename failed, folder left in changed state")
		}
	}
}

// ExclusiveEnable leaves keep as the only enabled mod under parent: keep is
// enabled and every other non-pinned sibling is disabled. The flow is
// transactional, when any rename fails the ones already done are undone in
// reverse order so the folder ends up as it started. Pinned siblings keep
// whatever state they have.
func (l *Library) ExclusiveEnable(parent, keep string) error {
	pp, err := l.SafePath(parent)
	if err != nil {
		return err
	}
	kp, err := l.SafePath(keep)
	if err != nil {
		return err
	}
	if filepath.Dir(kp) != pp {
		return errors.New("library: the kept folder must sit directly under the parent")
	}
	if _, err := os.Stat(kp); err != nil {
		return errors.Wrap(err, "library: failed to stat kept folder")
	}

	n, err := l.exclusiveEnable(pp, kp)
	if err != nil {
		return err
	}

	l.Log().WithFields(log.Fields{"parent": filepath.Base(pp), "kept": filepath.Base(kp)}).Info("applied exclusive enable")
	l.Events().Publish(ItemUpdatedEvent, pp)
	l.RecordActivity(ActivityExclusive, models.ActivityMeta{"parent": pp, "kept": kp, "renamed": n})
	return nil
}

func (l *Library) exclusiveEnable(pp, kp string) (int, error) {
	dirents, err := os.ReadDir(pp)
	if err != nil {
		return 0, errors.Wrap(err, "library: failed to list parent folder")
	}

	var plan []rename
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		p := filepath.Join(pp, d.Name())
		if p == kp {
			if naming.IsDisabled(d.Name()) {
				plan = append(plan, rename{p, filepath.Join(pp, naming.Enable(d.Name()))})
			}
			continue
		}
		if naming.IsPinned(d.Name()) || naming.IsDisabled(d.Name()) {
			continue
		}
		plan = append(plan, rename{p, filepath.Join(pp, naming.Disable(d.Name()))})
	}

	var done []rename
	for _, r := range plan {
		if _, err := os.Stat(r.to); err == nil {
			l.rollbackRenames(done)
			return 0, errors.Errorf("library: cannot rename %q, %q already exists", filepath.Base(r.from), filepath.Base(r.to))
		}
		if err := os.Rename(r.from, r.to); err != nil {
			l.rollbackRenames(done)
			return 0, errors.Wrap(err, "library: exclusive enable failed, changes rolled back")
		}
		done = append(done, r)
	}
	return len(done), nil
}

// Randomize disables every non-pinned mod under parent and enables one of
// them picked at random, returning the path of the winner. Pinned folders
// keep their state and are never picked.
func (l *Library) Randomize(parent string) (string, error) {
	pp, err := l.SafePath(parent)
	if err != nil {
		return "", err
	}
	dirents, err := os.ReadDir(pp)
	if err != nil {
		return "", errors.Wrap(err, "library: failed to list parent folder")
	}

	var eligible []string
	for _, d := range dirents {
		if d.IsDir() && !naming.IsPinned(d.Name()) {
			eligible = append(eligible, d.Name())
		}
	}
	if len(eligible) == 0 {
		return "", errors.New("library: no eligible folders to randomize")
	}

	winner := eligible[rand.IntN(len(eligible))]
	if _, err := l.exclusiveEnable(pp, filepath.Join(pp, winner)); err != nil {
		return "", err
	}
	dst := filepath.Join(pp, naming.Enable(winner))

	l.Log().WithFields(log.Fields{"parent": filepath.Base(pp), "winner": filepath.Base(dst)}).Info("randomized enabled mod")
	l.Events().Publish(ItemUpdatedEvent, pp)
	l.RecordActivity(ActivityRandomize, models.ActivityMeta{"parent": pp, "winner": filepath.Base(dst)})
	return dst, nil
}

// ApplySafeMode with on set disables every mod under parent not marked safe
// in its sidecar, first recording each folder's current state so the off
// direction can put things back. With on unset it re-applies the recorded
// state. Pinned folders are left alone in both directions. Renames are
// transactional and roll back on failure; recorded state that was already
// written stays in the sidecars, on its own it changes nothing.
func (l *Library) ApplySafeMode(parent string, on bool) error {
	pp, err := l.SafePath(parent)
	if err != nil {
		return err
	}
	dirents, err := os.ReadDir(pp)
	if err != nil {
		return errors.Wrap(err, "library: failed to list parent folder")
	}

	var done []rename
	for _, d := range dirents {
		if !d.IsDir() || naming.IsPinned(d.Name()) {
			continue
		}
		p := filepath.Join(pp, d.Name())
		enabled := !naming.IsDisabled(d.Name())

		info, err := scanner.LoadInfo(p)
		if err != nil {
			l.rollbackRenames(done)
			return err
		}
		// A folder with no sidecar has no recorded state to restore.
		if !on && info == nil {
			continue
		}
		if info == nil {
			info = &scanner.ModInfo{ActualName: naming.DisplayName(d.Name())}
		}

		var want bool
		if on {
			info.LastStatusActive = enabled
			if err := scanner.SaveInfo(p, info); err != nil {
				l.rollbackRenames(done)
				return err
			}
			want = enabled && info.IsSafe
		} else {
			want = info.LastStatusActive
		}
		if want == enabled {
			continue
		}

		next := naming.Disable(d.Name())
		if want {
			next = naming.Enable(d.Name())
		}
		to := filepath.Join(pp, next)
		if _, err := os.Stat(to); err == nil {
			l.rollbackRenames(done)
			return errors.Errorf("library: cannot rename %q, %q already exists", d.Name(), next)
		}
		if err := os.Rename(p, to); err != nil {
			l.rollbackRenames(done)
			return errors.Wrap(err, "library: safe mode change failed, renames rolled back")
		}
		done = append(done, rename{p, to})
	}

	l.Log().WithFields(log.Fields{"parent": filepath.Base(pp), "on": on, "renamed": len(done)}).Info("applied safe mode change")
	l.Events().Publish(ItemUpdatedEvent, pp)
	l.RecordActivity(ActivitySafeMode, models.ActivityMeta{"parent": pp, "on": on, "renamed": len(done)})
	return nil
}
