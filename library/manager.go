package library

import (
	"context"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/events"
	"github.com/reynalivan/emm-core/workflow"
)

// Manager tracks every configured library for the running instance.
type Manager struct {
	mu        sync.RWMutex
	libraries []*Library

	emitter     *events.Bus
	emitterLock sync.Mutex

	executor     *workflow.Executor
	executorOnce sync.Once
}

// NewManager builds a manager for all the libraries in the current
// configuration and boots each of them. A library whose root has gone
// missing is kept, operations against it will surface the error, but a
// reference database failure only logs since the engine can still manage
// folders without one.
func NewManager(ctx context.Context) (*Manager, error) {
	m := NewEmptyManager()
	if err := m.init(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// NewEmptyManager returns a manager without any libraries attached.
func NewEmptyManager() *Manager {
	return &Manager{}
}

// init boots every configured library concurrently and stores them in
// configuration order.
func (m *Manager) init(ctx context.Context) error {
	games := config.Get().Games
	out := make([]*Library, len(games))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, game := range games {
		i, game := i, game
		g.Go(func() error {
			l, err := InitLibrary(game)
			if err != nil {
				return errors.WrapIf(err, "manager: failed to initialize library "+game.Name)
			}
			out[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.libraries = out
	m.mu.Unlock()

	log.WithField("count", len(out)).Debug("initialized configured libraries")
	return nil
}

// All returns all the libraries this manager tracks.
func (m *Manager) All() []*Library {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Library(nil), m.libraries...)
}

// Add adds a library to the manager.
func (m *Manager) Add(l *Library) {
	m.mu.Lock()
	m.libraries = append(m.libraries, l)
	m.mu.Unlock()
}

// Remove removes all libraries from the manager matching the filter.
func (m *Manager) Remove(filter func(match *Library) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.libraries[:0]
	for _, l := range m.libraries {
		if filter(l) {
			l.CtxCancel()
			continue
		}
		out = append(out, l)
	}
	m.libraries = out
}

// Find returns the first library matching the filter, nil when none does.
func (m *Manager) Find(filter func(match *Library) bool) *Library {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.libraries {
		if filter(l) {
			return l
		}
	}
	return nil
}

// Get looks a library up by an id prefix or, failing that, by its name,
// case-insensitively. This is what CLI selectors resolve through.
func (m *Manager) Get(selector string) *Library {
	if selector == "" {
		return nil
	}
	if l := m.Find(func(l *Library) bool {
		return strings.HasPrefix(l.ID(), strings.ToLower(selector))
	}); l != nil {
		return l
	}
	return m.Find(func(l *Library) bool {
		return strings.EqualFold(l.Name(), selector)
	})
}

// Events returns the manager bus, creating it lazily. Runs spanning more
// than one library report their progress here instead of on a single
// library's bus.
func (m *Manager) Events() *events.Bus {
	m.emitterLock.Lock()
	defer m.emitterLock.Unlock()

	if m.emitter == nil {
		m.emitter = events.NewBus()
	}
	return m.emitter
}

// Executor returns the workflow executor cross-library runs go through,
// built on first use from the configured workflow settings.
func (m *Manager) Executor() *workflow.Executor {
	m.executorOnce.Do(func() {
		m.executor = workflow.New(config.Get().Workflow, m.Events())
	})
	return m.executor
}

// Flush persists every dirty reference database and collects the failures,
// one library's broken disk never blocks the others from flushing.
func (m *Manager) Flush() error {
	var errs []error
	for _, l := range m.All() {
		if l.Repository() == nil {
			continue
		}
		if err := l.Repository().Flush(); err != nil {
			errs = append(errs, errors.WrapIf(err, "manager: failed to flush library "+l.Name()))
		}
	}
	return errors.Combine(errs...)
}
