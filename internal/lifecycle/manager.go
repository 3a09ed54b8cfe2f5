package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/async"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
	"github.com/alucardeht/mfhost/internal/registry"
)

var log = logger.ForComponent("lifecycle")

type State string

const (
	StateUnregistered  State = "unregistered"
	StateRegistered    State = "registered"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateUninitialized State = "uninitialized"
)

type Transition struct {
	ModuleID string
	From     State
	To       State
	Err      error
	At       time.Time
}

// Journal receives every state transition. Implementations must not block
// for long; they are called outside the manager's lock.
type Journal interface {
	Record(ctx context.Context, t Transition)
}

type Manager struct {
	registry *registry.Registry
	services *fragment.Container
	journal  Journal

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	module     fragment.Module
	state      State
	inflight   *async.Task
	cleaning   *async.Task
	configured bool
}

type Option func(*Manager)

func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

func WithContainer(c *fragment.Container) Option {
	return func(m *Manager) { m.services = c }
}

func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.services == nil {
		m.services = fragment.NewContainer()
	}
	return m
}

func (m *Manager) Registry() *registry.Registry { return m.registry }

func (m *Manager) Services() *fragment.Container { return m.services }

// entryLocked returns the state entry for module, resetting it when the id
// has been re-registered with a different module instance.
func (m *Manager) entryLocked(module fragment.Module) *entry {
	id := module.ID()
	e, ok := m.entries[id]
	if !ok || !sameModule(e.module, module) {
		e = &entry{module: module, state: StateRegistered}
		m.entries[id] = e
	}
	return e
}

func sameModule(a, b fragment.Module) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return true
	}
	return a == b
}

// Start begins initializing the module unless it is already initialized, in
// which case the returned task is already succeeded. Concurrent callers share
// one in-flight initialization. A module whose cleanup hook is running is
// initialized again once the hook returns. The hook is detached from ctx
// cancellation.
func (m *Manager) Start(ctx context.Context, id string) *async.Task {
	module, ok := m.registry.Get(id)
	if !ok {
		return async.Resolved(fmt.Errorf("%w: %s", fragment.ErrModuleNotFound, id))
	}

	m.mu.Lock()
	e := m.entryLocked(module)
	if e.cleaning != nil {
		cleaning := e.cleaning
		m.mu.Unlock()

		task := async.New()
		cleaning.Then(func(error) {
			m.Start(ctx, id).Then(task.Complete)
		})
		return task
	}
	if e.state == StateInitialized {
		m.mu.Unlock()
		return async.Resolved(nil)
	}
	if e.inflight != nil {
		task := e.inflight
		m.mu.Unlock()
		return task
	}

	from := e.state
	configure := !e.configured
	e.state = StateInitializing
	task := async.New()
	e.inflight = task
	m.mu.Unlock()

	m.record(ctx, Transition{ModuleID: id, From: from, To: StateInitializing})

	go m.run(context.WithoutCancel(ctx), e, from, configure, task)
	return task
}

func (m *Manager) run(ctx context.Context, e *entry, from State, configure bool, task *async.Task) {
	id := e.module.ID()
	started := time.Now()

	if configure {
		e.module.ConfigureServices(m.services)
	}

	err := m.invokeInitialize(ctx, e.module)

	m.mu.Lock()
	e.inflight = nil
	if configure {
		e.configured = true
	}
	to := StateInitialized
	if err != nil {
		to = StateRegistered
		if from == StateUninitialized {
			to = StateUninitialized
		}
		err = &fragment.InitializationError{ModuleID: id, Err: err}
	}
	e.state = to
	m.mu.Unlock()

	if err != nil {
		log.Warn("module initialization failed", "module", id, "error", err)
	} else {
		log.Info("module initialized", "module", id, "duration", time.Since(started))
	}

	m.record(ctx, Transition{ModuleID: id, From: StateInitializing, To: to, Err: err})
	task.Complete(err)
}

func (m *Manager) invokeInitialize(ctx context.Context, module fragment.Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return module.Initialize(ctx)
}

// InitializeOne initializes the module and waits for the result. It is a
// no-op when the module is already initialized.
func (m *Manager) InitializeOne(ctx context.Context, id string) error {
	return m.Start(ctx, id).Wait(ctx)
}

type BatchResult struct {
	Succeeded []string
	Skipped   []string
	Failed    map[string]error
}

// Err combines all per-module failures, ordered by module id.
func (r BatchResult) Err() error {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var err error
	for _, id := range ids {
		err = multierr.Append(err, r.Failed[id])
	}
	return err
}

// InitializeAll initializes every registered module that is not yet
// initialized, concurrently. A failing module does not stop the others.
func (m *Manager) InitializeAll(ctx context.Context) BatchResult {
	result := BatchResult{Failed: make(map[string]error)}

	type pending struct {
		id   string
		task *async.Task
	}
	var started []pending

	for _, module := range m.registry.List() {
		id := module.ID()
		if m.IsInitialized(id) {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		started = append(started, pending{id, async.Go(ctx, func(ctx context.Context) error {
			return m.InitializeOne(ctx, id)
		})})
	}

	for _, p := range started {
		<-p.task.Done()
		if err := p.task.Err(); err != nil {
			result.Failed[p.id] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, p.id)
	}
	sort.Strings(result.Succeeded)

	log.Info("initialized modules",
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped))

	return result
}

// Cleanup runs the module's cleanup hook if it is initialized. The module is
// uninitialized from the moment the hook starts, whether or not it succeeds,
// so concurrent calls run the hook once.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	module, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", fragment.ErrModuleNotFound, id)
	}

	m.mu.Lock()
	e := m.entryLocked(module)
	if e.state != StateInitialized {
		m.mu.Unlock()
		return nil
	}
	e.state = StateUninitialized
	done := async.New()
	e.cleaning = done
	m.mu.Unlock()

	err := m.invokeCleanup(ctx, module)

	m.mu.Lock()
	e.cleaning = nil
	m.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("cleanup module %q: %w", id, err)
		log.Warn("module cleanup failed", "module", id, "error", err)
	}

	m.record(ctx, Transition{ModuleID: id, From: StateInitialized, To: StateUninitialized, Err: err})
	done.Complete(err)
	return err
}

func (m *Manager) invokeCleanup(ctx context.Context, module fragment.Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return module.Cleanup(ctx)
}

// Remove cleans the module up and unregisters it. Removing an unknown id is
// a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if _, ok := m.registry.Get(id); !ok {
		return nil
	}

	err := m.Cleanup(ctx, id)
	m.registry.Unregister(id)

	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()

	m.record(ctx, Transition{ModuleID: id, From: StateRegistered, To: StateUnregistered})
	return err
}

func (m *Manager) State(id string) State {
	module, ok := m.registry.Get(id)
	if !ok {
		return StateUnregistered
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || !sameModule(e.module, module) {
		return StateRegistered
	}
	return e.state
}

func (m *Manager) IsInitialized(id string) bool {
	return m.State(id) == StateInitialized
}

type Status struct {
	ModuleID   string `json:"module_id"`
	Technology string `json:"technology"`
	State      State  `json:"state"`
}

// Snapshot reports the state of every registered module in registration order.
func (m *Manager) Snapshot() []Status {
	modules := m.registry.List()
	statuses := make([]Status, 0, len(modules))
	for _, module := range modules {
		statuses = append(statuses, Status{
			ModuleID:   module.ID(),
			Technology: module.Technology(),
			State:      m.State(module.ID()),
		})
	}
	return statuses
}

func (m *Manager) record(ctx context.Context, t Transition) {
	if m.journal == nil {
		return
	}
	t.At = time.Now().UTC()
	m.journal.Record(context.WithoutCancel(ctx), t)
}
