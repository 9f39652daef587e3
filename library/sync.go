package library

import (
	"context"
	"fmt"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/models"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/reconcile"
	"github.com/reynalivan/emm-core/repository"
	"github.com/reynalivan/emm-core/scanner"
	"github.com/reynalivan/emm-core/workflow"
)

// ErrSyncRunning is returned when a reconciliation is requested while one is
// already in flight for the same library.
var ErrSyncRunning = errors.Sentinel("library: a sync is already running")

// SyncSummary reports what applying a reconciliation plan changed.
type SyncSummary struct {
	Library  string   `json:"library"`
	RunID    string   `json:"run_id,omitempty"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

// Sync scans the library and reconciles what it finds against the reference
// records, returning the corrective plan. The plan is advisory until
// ApplySync executes it; with dryRun set ApplySync will refuse it outright.
func (l *Library) Sync(ctx context.Context, dryRun bool) (*reconcile.Plan, error) {
	if !l.syncing.SwapIf(true) {
		return nil, ErrSyncRunning
	}
	defer l.syncing.Store(false)

	l.Events().Publish(SyncStartedEvent, l.ID())

	res, err := l.Scan(ctx)
	if err != nil {
		return nil, err
	}

	// Matching needs the sidecar and thumbnail state, so entries are
	// hydrated up front. A folder that cannot be hydrated still takes part,
	// its name is all there is to match on then.
	sc := l.Scanner()
	entries := make([]scanner.Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		if !e.IsDir || e.Kind == scanner.KindUnmanaged {
			continue
		}
		if err := sc.Hydrate(&e); err != nil {
			l.Log().WithError(err).WithField("folder", e.Name).Warn("failed to hydrate folder, matching on its name only")
		}
		entries = append(entries, e)
	}

	candidates := reconcile.New(config.Get().Matching).Reconcile(l.Refs(), entries)
	return reconcile.BuildPlan(candidates, dryRun), nil
}

// ApplySync executes a plan produced by Sync: creates become fresh object
// folders seeded from their records, patches rewrite stale sidecars. The
// work is fanned out through the workflow executor, so progress and
// completion arrive as bus events, and one failed folder never aborts the
// rest.
func (l *Library) ApplySync(ctx context.Context, plan *reconcile.Plan) (*SyncSummary, error) {
	if plan == nil {
		return nil, errors.New("library: no plan to apply")
	}
	if plan.DryRun {
		return nil, errors.New("library: refusing to apply a dry run plan")
	}
	if !l.syncing.SwapIf(true) {
		return nil, ErrSyncRunning
	}
	defer l.syncing.Store(false)

	var tasks []*workflow.Task
	for _, a := range plan.Actions {
		switch a.Op {
		case reconcile.OpCreate:
			obj := a.Candidate.Object
			tasks = append(tasks, &workflow.Task{
				Kind:        workflow.KindCreateObject,
				Description: fmt.Sprintf("create %s", obj.Name),
				Path:        filepath.Join(l.Path(), obj.Name),
				Run: func(ctx context.Context) error {
					_, err := l.CreateObject(obj.Name, &obj)
					return err
				},
			})
		case reconcile.OpPatch:
			obj := a.Candidate.Object
			entry := a.Candidate.Entry
			tasks = append(tasks, &workflow.Task{
				Kind:        workflow.KindMetadataPatch,
				Description: fmt.Sprintf("update %s", obj.Name),
				Path:        entry.Path,
				Run: func(ctx context.Context) error {
					return l.patchFromRecord(entry, obj)
				},
			})
		}
	}

	summary := &SyncSummary{Library: l.ID()}
	if len(tasks) == 0 {
		l.Events().Publish(SyncCompletedEvent, summary)
		return summary, nil
	}

	report := l.Executor().Submit(ctx, tasks).Wait()
	summary.RunID = report.RunID
	for _, r := range report.Results {
		switch r.Status {
		case workflow.StatusSucceeded:
			if r.Kind == workflow.KindCreateObject {
				summary.Created++
			} else {
				summary.Updated++
			}
		case workflow.StatusFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, r.Description+": "+r.Error)
		default:
			summary.Skipped++
		}
	}

	l.Log().WithFields(log.Fields{
		"created": summary.Created,
		"updated": summary.Updated,
		"failed":  summary.Failed,
	}).Info("applied reconciliation plan")
	l.Events().Publish(SyncCompletedEvent, summary)
	l.RecordActivity(ActivitySyncApply, models.ActivityMeta{
		"run_id":  report.RunID,
		"created": summary.Created,
		"updated": summary.Updated,
		"failed":  summary.Failed,
	})
	return summary, report.Err
}

// SyncAll reconciles and applies every library through one workflow run.
// Library roots are disjoint so the syncs fan out up to the worker limit,
// and one library failing never blocks the others. Progress arrives on the
// manager bus. Summaries come back in manager order, nil for a library
// whose reconciliation failed before anything was applied.
func (m *Manager) SyncAll(ctx context.Context) ([]*SyncSummary, error) {
	libs := m.All()
	if len(libs) == 0 {
		return nil, nil
	}

	summaries := make([]*SyncSummary, len(libs))
	tasks := make([]*workflow.Task, len(libs))
	for i, l := range libs {
		i, l := i, l
		tasks[i] = &workflow.Task{
			Kind:        workflow.KindSyncApply,
			Description: fmt.Sprintf("sync %s", l.Name()),
			Path:        l.Path(),
			Run: func(ctx context.Context) error {
				plan, err := l.Sync(ctx, false)
				if err != nil {
					return err
				}
				s, err := l.ApplySync(ctx, plan)
				summaries[i] = s
				return err
			},
		}
	}

	report := m.Executor().Submit(ctx, tasks).Wait()
	return summaries, report.Err
}

// patchFromRecord rewrites a folder's sidecar fields from its reference
// record and fills a missing thumbnail from the bundled image. Fields the
// record has no opinion on keep their local values.
func (l *Library) patchFromRecord(entry *scanner.Entry, obj repository.ModObject) error {
	props, err := scanner.LoadProperties(entry.Path)
	if err != nil {
		return err
	}
	if props == nil {
		props = &scanner.ObjectProperties{}
	}

	if obj.Name != "" {
		props.ActualName = obj.Name
	}
	if obj.Type != "" {
		props.Type = obj.Type
	}
	if obj.Rarity != "" {
		props.Rarity = obj.Rarity
	}
	if obj.Element != "" {
		props.Element = obj.Element
	}
	if obj.Gender != "" {
		props.Gender = obj.Gender
	}
	if obj.Weapon != "" {
		props.Weapon = obj.Weapon
	}
	if obj.Region != "" {
		props.Region = obj.Region
	}
	if obj.Subtype != "" {
		props.Subtype = obj.Subtype
	}
	if len(obj.Tags) > 0 {
		props.Tags = obj.Tags
	}

	if err := scanner.SaveProperties(entry.Path, props); err != nil {
		return err
	}
	if entry.Thumbnail == "" {
		l.installThumbnail(entry.Path, obj)
	}

	l.Events().Publish(ItemUpdatedEvent, entry.Path)
	l.RecordActivity(ActivityMetadataPatch, models.ActivityMeta{"path": entry.Path, "sidecar": naming.PropertiesFile})
	return nil
}
