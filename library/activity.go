package library

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"

	"github.com/reynalivan/emm-core/internal/database"
	"github.com/reynalivan/emm-core/internal/models"
)

// Audit events recorded by library operations. The "library:" prefix keeps
// them distinguishable from events other subsystems may record into the same
// database.
const (
	ActivityScan          = models.Event("library:scan")
	ActivityModToggle     = models.Event("library:mod.toggle")
	ActivityModPin        = models.Event("library:mod.pin")
	ActivityModRename     = models.Event("library:mod.rename")
	ActivityModTrash      = models.Event("library:mod.trash")
	ActivityModCreate     = models.Event("library:mod.create")
	ActivityObjectCreate  = models.Event("library:object.create")
	ActivityMetadataPatch = models.Event("library:metadata.patch")
	ActivityPreviewAdd    = models.Event("library:preview.add")
	ActivityPreviewRemove = models.Event("library:preview.remove")
	ActivityIniEdit       = models.Event("library:ini.edit")
	ActivityBackup        = models.Event("library:backup")
	ActivityBulkToggle    = models.Event("library:bulk.toggle")
	ActivityExclusive     = models.Event("library:bulk.exclusive")
	ActivityRandomize     = models.Event("library:bulk.randomize")
	ActivitySafeMode      = models.Event("library:bulk.safe-mode")
	ActivityBatch         = models.Event("library:workflow.batch")
	ActivitySyncApply     = models.Event("library:sync.apply")
)

var activity struct {
	sync.Mutex
	queue []models.Activity
}

// RecordActivity queues an audit row describing something this library just
// did. Rows sit in memory until FlushActivity persists them, so recording is
// cheap enough to do inline in every operation.
func (l *Library) RecordActivity(event models.Event, metadata models.ActivityMeta) {
	activity.Lock()
	defer activity.Unlock()
	activity.queue = append(activity.queue, models.Activity{
		Library:   l.ID(),
		Event:     event,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
}

// QueuedActivity reports how many audit rows are waiting for a flush.
func QueuedActivity() int {
	activity.Lock()
	defer activity.Unlock()
	return len(activity.queue)
}

// FlushActivity persists up to max queued audit rows into the activity
// database, all of them when max is zero. On failure the rows are put back so
// a later flush can retry them; an audit row is only ever lost when the
// process exits before writing it out.
func FlushActivity(ctx context.Context, max int) error {
	activity.Lock()
	rows := activity.queue
	if max > 0 && len(rows) > max {
		rows = rows[:max:max]
		activity.queue = append([]models.Activity(nil), activity.queue[max:]...)
	} else {
		activity.queue = nil
	}
	activity.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if err := database.Instance().WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		activity.Lock()
		activity.queue = append(append([]models.Activity(nil), rows...), activity.queue...)
		activity.Unlock()
		return errors.Wrap(err, "library: failed to persist activity rows")
	}
	return nil
}
