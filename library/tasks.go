package library

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/apex/log"

	"github.com/reynalivan/emm-core/internal/models"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/workflow"
)

// Builders wrapping single operations into workflow tasks. A frontend that
// wants many operations applied at once composes these into one batch and
// hands it to RunBatch instead of looping itself, which buys bounded
// parallelism, progress events on the bus and per-task failure capture.

// taskPath resolves a task target for overlap grouping. An unresolvable
// path is passed through as given, execution surfaces the real error.
func (l *Library) taskPath(path string) string {
	if p, err := l.SafePath(path); err == nil {
		return p
	}
	return path
}

// ToggleTask builds a task that enables, disables or flips a folder.
func (l *Library) ToggleTask(path string, enable *bool) *workflow.Task {
	verb := "toggle"
	if enable != nil {
		verb = "disable"
		if *enable {
			verb = "enable"
		}
	}
	return &workflow.Task{
		Kind:        workflow.KindToggle,
		Description: fmt.Sprintf("%s %s", verb, naming.DisplayName(filepath.Base(path))),
		Path:        l.taskPath(path),
		Run: func(context.Context) error {
			_, err := l.Toggle(path, enable)
			return err
		},
	}
}

// PinTask builds a task that sets or clears the pin marker of a folder.
func (l *Library) PinTask(path string, pinned bool) *workflow.Task {
	verb, run := "unpin", l.Unpin
	if pinned {
		verb, run = "pin", l.Pin
	}
	return &workflow.Task{
		Kind:        workflow.KindPin,
		Description: fmt.Sprintf("%s %s", verb, naming.DisplayName(filepath.Base(path))),
		Path:        l.taskPath(path),
		Run: func(context.Context) error {
			_, err := run(path)
			return err
		},
	}
}

// RenameTask builds a task that gives a folder a new display name.
func (l *Library) RenameTask(path, newName string) *workflow.Task {
	return &workflow.Task{
		Kind:        workflow.KindRename,
		Description: fmt.Sprintf("rename %s to %s", naming.DisplayName(filepath.Base(path)), newName),
		Path:        l.taskPath(path),
		Run: func(context.Context) error {
			_, err := l.Rename(path, newName)
			return err
		},
	}
}

// TrashTask builds a task that moves a folder into the application trash.
func (l *Library) TrashTask(path string) *workflow.Task {
	return &workflow.Task{
		Kind:        workflow.KindDeleteToTrash,
		Description: fmt.Sprintf("trash %s", naming.DisplayName(filepath.Base(path))),
		Path:        l.taskPath(path),
		Run: func(context.Context) error {
			_, err := l.Trash(path)
			return err
		},
	}
}

// CreateModTask builds a task that installs a mod from a folder or archive
// into parent. The task path is the parent, so installs into the same
// object folder serialize against each other.
func (l *Library) CreateModTask(parent, source, name string) *workflow.Task {
	display := name
	if display == "" {
		display = filepath.Base(source)
	}
	return &workflow.Task{
		Kind:        workflow.KindCreateMod,
		Description: fmt.Sprintf("install %s", display),
		Path:        l.taskPath(parent),
		Run: func(ctx context.Context) error {
			_, err := l.CreateMod(ctx, parent, source, name)
			return err
		},
	}
}

// SetIniTask builds a task that edits one key in one configuration file.
// Tasks editing the same file serialize against each other.
func (l *Library) SetIniTask(path, section, key, value string) *workflow.Task {
	return &workflow.Task{
		Kind:        workflow.KindIniSet,
		Description: fmt.Sprintf("set %s in %s", key, filepath.Base(path)),
		Path:        l.taskPath(path),
		Run: func(context.Context) error {
			return l.SetIniValue(path, section, key, value)
		},
	}
}

// BackupTask builds a task that writes a tar.gz snapshot of a folder into
// the backups area.
func (l *Library) BackupTask(path string) *workflow.Task {
	return &workflow.Task{
		Kind:        workflow.KindBackupArchive,
		Description: fmt.Sprintf("back up %s", naming.DisplayName(filepath.Base(path))),
		Path:        l.taskPath(path),
		Run: func(ctx context.Context) error {
			_, err := l.Backup(ctx, path)
			return err
		},
	}
}

// RunBatch executes prepared tasks through the library's workflow executor
// and waits for the outcome. Tasks touching the same subtree run in plan
// order, the rest fan out up to the worker limit, and progress arrives on
// the library bus while the batch runs. Each wrapped operation records its
// own activity row as it executes, the batch adds one row summarizing the
// run.
func (l *Library) RunBatch(ctx context.Context, tasks []*workflow.Task) *workflow.Report {
	report := l.Executor().Submit(ctx, tasks).Wait()
	l.RecordActivity(ActivityBatch, models.ActivityMeta{
		"run_id": report.RunID,
		"tasks":  len(report.Results),
		"failed": report.Failed,
	})
	if report.Failed > 0 {
		l.Log().WithFields(log.Fields{"run": report.RunID, "failed": report.Failed}).Warn("batch finished with failures")
	}
	return report
}
