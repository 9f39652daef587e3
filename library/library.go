// Package library ties the engine together around one managed mod library:
// a configured game root, its reference database and the operations a user
// performs against it. Scanning, reconciliation and bulk execution live in
// their own packages, a Library wires them to a concrete folder tree and
// publishes what happens on its event bus.
package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/events"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/repository"
	"github.com/reynalivan/emm-core/scanner"
	"github.com/reynalivan/emm-core/system"
	"github.com/reynalivan/emm-core/workflow"
)

// ErrOutsideRoot marks a path that resolves outside the library being
// operated on. Every mutating operation validates its targets against this
// before touching the disk.
var ErrOutsideRoot = errors.Sentinel("library: path is outside the library root")

// Library is a single managed mod library. All operations against the
// folder tree and its reference records go through here so state changes
// are observable on the event bus and recorded in the activity log.
type Library struct {
	// Internal mutex used to block actions that need to occur sequentially,
	// such as transactional bulk flows that must not interleave.
	sync.RWMutex
	ctx       context.Context
	ctxCancel *context.CancelFunc

	cfg config.GameConfiguration

	emitter     *events.Bus
	emitterLock sync.Mutex

	repo   *repository.Repository
	schema *repository.Schema

	executor     *workflow.Executor
	executorOnce sync.Once

	// syncing guards against two reconciliation runs overlapping on the
	// same library.
	syncing *system.AtomicBool
}

// New returns a new library instance for the given configuration. The
// reference database is not opened here, InitLibrary handles the full boot.
func New(cfg config.GameConfiguration) *Library {
	ctx, cancel := context.WithCancel(context.Background())
	return &Library{
		ctx:       ctx,
		ctxCancel: &cancel,
		cfg:       cfg,
		syncing:   system.NewAtomicBool(false),
	}
}

// InitLibrary builds a ready-to-use library from its configuration: the
// per-game reference database is opened, falling back through its backup, and
// the schema file is attached when one exists next to the databases.
func InitLibrary(cfg config.GameConfiguration) (*Library, error) {
	l := New(cfg)

	refDir := config.Get().System.GetReferenceDatabaseDirectory()
	l.repo = repository.Open(l.databasePath(refDir))

	schemaPath := filepath.Join(refDir, naming.SchemaFile)
	if s, err := repository.LoadSchema(schemaPath); err == nil {
		l.schema = s
	} else if !errors.Is(err, os.ErrNotExist) {
		l.Log().WithField("path", schemaPath).WithError(err).Warn("schema file unusable, using game database only")
	}

	return l, nil
}

func (l *Library) databasePath(refDir string) string {
	return filepath.Join(refDir, strings.ToLower(string(l.cfg.Type)), naming.DatabaseFile)
}

// ID returns the unique identifier of this library.
func (l *Library) ID() string {
	return l.cfg.ID
}

// Name returns the human readable label of this library.
func (l *Library) Name() string {
	return l.cfg.Name
}

// Type returns the importer family of this library.
func (l *Library) Type() config.GameType {
	return l.cfg.Type
}

// Path returns the root of the managed mod folder tree.
func (l *Library) Path() string {
	return l.cfg.ModsPath
}

// Config returns the configuration this library was built from.
func (l *Library) Config() config.GameConfiguration {
	return l.cfg
}

// Context returns an empty context associated with this library instance,
// canceled when the library is destroyed.
func (l *Library) Context() context.Context {
	return l.ctx
}

// CtxCancel cancels the context assigned to this library instance, canceling
// any in-flight operations bound to it.
func (l *Library) CtxCancel() {
	if l.ctxCancel != nil {
		(*l.ctxCancel)()
	}
}

// Log returns a logger instance scoped to this library.
func (l *Library) Log() *log.Entry {
	return log.WithField("library", l.ID())
}

// Events returns the event bus for the library, creating it lazily. External
// callers subscribe here for scan, sync and workflow notifications.
func (l *Library) Events() *events.Bus {
	l.emitterLock.Lock()
	defer l.emitterLock.Unlock()

	if l.emitter == nil {
		l.emitter = events.NewBus()
	}
	return l.emitter
}

// Executor returns the workflow executor bound to this library's event bus,
// built on first use from the configured workflow settings.
func (l *Library) Executor() *workflow.Executor {
	l.executorOnce.Do(func() {
		l.executor = workflow.New(config.Get().Workflow, l.Events())
	})
	return l.executor
}

// Repository returns the canonical reference database of this library.
func (l *Library) Repository() *repository.Repository {
	return l.repo
}

// Schema returns the loaded game schema, nil when no schema file exists.
func (l *Library) Schema() *repository.Schema {
	return l.schema
}

// Refs returns the reference records to reconcile this library against: the
// merged schema-linked object files when a schema is present, the game's own
// database otherwise.
func (l *Library) Refs() []repository.ModObject {
	if l.schema != nil {
		refDir := config.Get().System.GetReferenceDatabaseDirectory()
		if objs, err := l.schema.Objects(refDir, string(l.cfg.Type)); err == nil && len(objs) > 0 {
			return objs
		}
	}
	if l.repo == nil {
		return nil
	}
	return l.repo.All()
}

// Scanner returns a classifier configured with the global blacklist.
func (l *Library) Scanner() *scanner.Scanner {
	return scanner.New(config.Get().SearchRecursion.BlacklistedDirs)
}

// Scan classifies the top level of the library, where every folder stands
// for an object. Each call reads fresh from the disk.
func (l *Library) Scan(ctx context.Context) (*scanner.Result, error) {
	res, err := l.Scanner().Scan(ctx, l.Path(), scanner.ModeObjects)
	if err != nil {
		return nil, err
	}
	l.Events().Publish(ScanCompletedEvent, res)
	return res, nil
}

// ScanFolder classifies the inside of one object folder, where folders stand
// for installable mods. The folder must live inside the library.
func (l *Library) ScanFolder(ctx context.Context, dir string) (*scanner.Result, error) {
	p, err := l.SafePath(dir)
	if err != nil {
		return nil, err
	}
	return l.Scanner().Scan(ctx, p, scanner.ModeMods)
}

// SafePath resolves p against the library root and guarantees the result
// still lives inside it. Relative paths are joined onto the root, absolute
// paths are only checked. Anything escaping the root fails with
// ErrOutsideRoot.
func (l *Library) SafePath(p string) (string, error) {
	root := filepath.Clean(l.Path())
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", errors.WithMessage(ErrOutsideRoot, p)
	}
	return p, nil
}
