// Package workflow executes bulk operations against a library: an ordered
// plan of tasks is fanned out over a bounded worker pool, tasks that touch
// the same subtree stay serialized, and every task ends in a terminal status
// regardless of what its siblings did. One failed task never aborts the run
// unless it was marked critical.
package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/events"
)

const (
	// ProgressEvent is published every time a task reaches a terminal
	// status, throttled to the configured progress interval.
	ProgressEvent = "workflow progress"

	// CompletedEvent is published once per run with the final report.
	CompletedEvent = "workflow completed"
)

// Status is the lifecycle state of a single task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Kind names what a task does. The executor itself does not interpret the
// kind, it exists for reports, logs and activity records.
type Kind string

const (
	KindCreateObject  Kind = "create-object"
	KindCreateMod     Kind = "create-mod"
	KindRename        Kind = "rename"
	KindToggle        Kind = "toggle"
	KindPin           Kind = "pin"
	KindDeleteToTrash Kind = "delete-to-trash"
	KindMetadataPatch Kind = "metadata-patch"
	KindIniSet        Kind = "ini-set"
	KindBackupArchive Kind = "backup-archive"
	KindSyncApply     Kind = "sync-apply"
)

// Func is the work of one task. It must honor the context at every step
// boundary, a task that keeps running after cancellation only delays the
// end of the run.
type Func func(ctx context.Context) error

// Task is one unit of bulk work. Beyond filling in defaults on submit the
// executor does not touch it, per-task execution state lives on the run.
type Task struct {
	// ID is assigned on submit when left empty.
	ID string `json:"id"`

	Kind        Kind   `json:"kind"`
	Description string `json:"description"`

	// Path is the subtree the task mutates. Tasks whose paths overlap are
	// serialized against each other in plan order, tasks with disjoint
	// paths may run in parallel. An empty path never conflicts.
	Path string `json:"path"`

	// Critical marks a task whose failure halts every task that has not
	// started yet.
	Critical bool `json:"critical"`

	Run Func `json:"-"`
}

// TaskError attaches an execution failure to the task that produced it.
type TaskError struct {
	TaskID      string
	Kind        Kind
	Description string
	Err         error
}

func (e *TaskError) Error() string {
	d := e.Description
	if d == "" {
		d = string(e.Kind)
	}
	return "workflow: task " + d + ": " + e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Result is the terminal record of one task.
type Result struct {
	TaskID      string `json:"task_id"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
}

// Report summarizes a finished run. Err aggregates every task failure and
// is nil when the whole plan succeeded.
type Report struct {
	RunID   string   `json:"run_id"`
	Results []Result `json:"results"`
	Failed  int      `json:"failed"`
	Err     error    `json:"-"`
}

// Progress is the payload of a ProgressEvent.
type Progress struct {
	RunID       string `json:"run_id"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Description string `json:"description"`
}

// Executor runs submitted plans. It is safe for concurrent use, every run
// gets its own pool and state.
type Executor struct {
	workers     int
	taskTimeout time.Duration
	interval    time.Duration
	bus         *events.Bus
}

// New returns an executor configured from the workflow section. The bus may
// be nil when no one listens, progress reporting is skipped in that case.
func New(cfg config.WorkflowConfiguration, bus *events.Bus) *Executor {
	w := cfg.Workers
	if w < 1 {
		w = 1
	}
	return &Executor{
		workers:     w,
		taskTimeout: time.Duration(cfg.TaskTimeout) * time.Second,
		interval:    time.Duration(cfg.ProgressInterval) * time.Millisecond,
		bus:         bus,
	}
}

// taskState is the executor-owned lifecycle record of one task.
type taskState struct {
	task   *Task
	status Status
	err    error
}

// Run is the handle for one submitted plan.
type Run struct {
	// ID identifies this run in progress events and activity records.
	ID string

	exec    *Executor
	cancel  context.CancelFunc
	limiter *rate.Limiter

	mu        sync.Mutex
	states    []*taskState
	completed int

	halted atomic.Bool
	done   chan struct{}
	report *Report
}

// Submit starts executing the plan and returns immediately with a handle.
// Task order within an overlap group follows plan order, groups run in
// parallel up to the configured worker count.
func (e *Executor) Submit(ctx context.Context, tasks []*Task) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		ID:      uuid.New().String(),
		exec:    e,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Every(e.interval), 1),
		states:  make([]*taskState, len(tasks)),
		done:    make(chan struct{}),
	}
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Description == "" {
			t.Description = string(t.Kind)
		}
		r.states[i] = &taskState{task: t, status: StatusPending}
	}

	groups := groupTasks(tasks)
	log.WithFields(log.Fields{
		"run":     r.ID,
		"tasks":   len(tasks),
		"groups":  len(groups),
		"workers": e.workers,
	}).Info("executing workflow plan")

	go r.execute(ctx, groups)
	return r
}

// Cancel requests cooperative cancellation: the task currently running in
// each group may finish, everything still pending is skipped.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once every task has reached a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run has finished and returns its report.
func (r *Run) Wait() *Report {
	<-r.done
	return r.report
}

func (r *Run) execute(ctx context.Context, groups [][]int) {
	defer r.cancel()

	pool := workerpool.New(r.exec.workers)
	for _, group := range groups {
		group := group
		pool.Submit(func() {
			r.runGroup(ctx, group)
		})
	}
	pool.StopWait()

	r.finalize()
}

// runGroup executes one overlap group front to back. Every task ends in a
// terminal status: skipped when the run was canceled or halted before the
// task started, failed or succeeded otherwise.
func (r *Run) runGroup(ctx context.Context, group []int) {
	for _, i := range group {
		st := r.states[i]
		if ctx.Err() != nil || r.halted.Load() {
			r.finish(st, StatusSkipped, nil)
			continue
		}
		r.transition(st, StatusRunning)

		err := r.exec.runTask(ctx, st.task)
		if err != nil {
			log.WithFields(log.Fields{
				"run":  r.ID,
				"task": st.task.ID,
				"kind": st.task.Kind,
			}).WithError(err).Warn("workflow task failed")
			r.finish(st, StatusFailed, err)
			if st.task.Critical {
				r.halted.Store(true)
			}
			continue
		}
		r.finish(st, StatusSucceeded, nil)
	}
}

// runTask invokes the task body under the configured timeout. A task that
// outlives its deadline is abandoned and reported as failed, cancellation on
// the other hand is left for the task to observe so it can stop at its next
// step boundary.
func (e *Executor) runTask(ctx context.Context, t *Task) error {
	tctx := ctx
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- t.Run(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return errors.WithMessage(tctx.Err(), "workflow: task did not finish in time")
		}
		return <-done
	}
}

func (r *Run) transition(st *taskState, s Status) {
	r.mu.Lock()
	st.status = s
	r.mu.Unlock()
}

// finish moves a task to a terminal status and reports progress. The final
// task always publishes, intermediate ones are throttled.
func (r *Run) finish(st *taskState, s Status, err error) {
	r.mu.Lock()
	st.status = s
	st.err = err
	r.completed++
	p := Progress{
		RunID:       r.ID,
		Completed:   r.completed,
		Total:       len(r.states),
		Description: st.task.Description,
	}
	r.mu.Unlock()

	if r.exec.bus == nil {
		return
	}
	if p.Completed == p.Total || r.limiter.Allow() {
		r.exec.bus.Publish(ProgressEvent, p)
	}
}

// finalize builds the report, publishes the terminal event and releases
// everyone blocked in Wait.
func (r *Run) finalize() {
	r.mu.Lock()
	report := &Report{RunID: r.ID, Results: make([]Result, len(r.states))}
	var errs []error
	for i, st := range r.states {
		res := Result{
			TaskID:      st.task.ID,
			Kind:        st.task.Kind,
			Description: st.task.Description,
			Status:      st.status,
		}
		if st.err != nil {
			res.Error = st.err.Error()
			errs = append(errs, &TaskError{
				TaskID:      st.task.ID,
				Kind:        st.task.Kind,
				Description: st.task.Description,
				Err:         st.err,
			})
		}
		if st.status == StatusFailed {
			report.Failed++
		}
		report.Results[i] = res
	}
	report.Err = errors.Combine(errs...)
	r.report = report
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"run":    r.ID,
		"tasks":  len(report.Results),
		"failed": report.Failed,
	}).Info("workflow plan finished")

	if r.exec.bus != nil {
		r.exec.bus.Publish(CompletedEvent, report)
	}
	close(r.done)
}

// groupTasks partitions plan indices into overlap groups: tasks whose paths
// share a prefix relation, directly or through a common ancestor, land in
// the same group. Indices stay in plan order inside each group and the
// groups themselves are ordered by their first task.
func groupTasks(tasks []*Task) [][]int {
	paths := make([]string, len(tasks))
	for i, t := range tasks {
		paths[i] = normalizePath(t.Path)
	}

	parent := make([]int, len(tasks))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := range tasks {
		if paths[i] == "" {
			continue
		}
		for j := 0; j < i; j++ {
			if paths[j] == "" {
				continue
			}
			if pathsOverlap(paths[i], paths[j]) {
				union(j, i)
			}
		}
	}

	order := make(map[int]int)
	var groups [][]int
	for i := range tasks {
		root := find(i)
		gi, ok := order[root]
		if !ok {
			gi = len(groups)
			order[root] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}
	return groups
}

// normalizePath prepares a task path for overlap comparison. Comparison is
// case-insensitive because the libraries being managed live on filesystems
// that usually are.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}

func pathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
