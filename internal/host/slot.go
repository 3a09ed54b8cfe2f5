// Package host renders the region of the page a microfrontend occupies. A
// Slot is bound to one module id at a time and walks it through loading,
// content and error states; a View puts a Slot behind a router resolution.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alucardeht/mfhost/internal/async"
	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/jsfragment"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/logger"
)

var log = logger.ForComponent("host")

type Phase int

const (
	// PhaseFallback: no module id is bound; the fallback template shows.
	PhaseFallback Phase = iota
	// PhaseMissing: the bound id is not registered.
	PhaseMissing
	// PhaseLoading: initialization is in flight.
	PhaseLoading
	PhaseContent
	// PhaseFailed: initialization or mount failed; the error template shows.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseFallback:
		return "fallback"
	case PhaseMissing:
		return "missing"
	case PhaseLoading:
		return "loading"
	case PhaseContent:
		return "content"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Options struct {
	// ID is the host element id. Empty means a generated one.
	ID             string
	CSSClass       string
	ContainerClass string
	// Props are handed to JS fragments on mount.
	Props     any
	Templates Templates
	// OnLoaded is called each time the slot reaches content for a module.
	OnLoaded func(module fragment.Module)
	// OnRender receives the slot markup whenever it changes.
	OnRender func(markup string)
}

type Slot struct {
	lifecycle *lifecycle.Manager
	invoker   bridge.Invoker
	opts      Options

	mu       sync.Mutex
	gen      uint64
	moduleID string
	module   fragment.Module
	phase    Phase
	err      error
	binding  *jsfragment.Adapter
	settled  *async.Task
	mounting *async.Task

	renderMu sync.Mutex
	rendered string
}

func NewSlot(lc *lifecycle.Manager, invoker bridge.Invoker, opts Options) *Slot {
	if opts.ID == "" {
		opts.ID = "microfrontend-host-" + uuid.NewString()
	}
	opts.Templates = opts.Templates.withDefaults()

	return &Slot{
		lifecycle: lc,
		invoker:   invoker,
		opts:      opts,
		phase:     PhaseFallback,
		settled:   async.Resolved(nil),
	}
}

func (s *Slot) ID() string { return s.opts.ID }

func (s *Slot) ModuleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleID
}

func (s *Slot) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err is the failure shown by PhaseMissing and PhaseFailed.
func (s *Slot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bind points the slot at moduleID. A JS fragment held by the previous
// binding is unmounted before anything else happens. The returned task
// completes when the slot settles; binding the id it already shows returns
// the task of that binding.
func (s *Slot) Bind(ctx context.Context, moduleID string) *async.Task {
	s.mu.Lock()
	if moduleID != "" && moduleID == s.moduleID && s.phase != PhaseFailed && s.phase != PhaseMissing {
		task := s.settled
		s.mu.Unlock()
		return task
	}

	s.gen++
	gen := s.gen
	previous := s.binding
	s.binding = nil
	s.moduleID = moduleID
	s.module = nil
	s.err = nil
	task := async.New()
	s.settled = task
	s.mu.Unlock()

	s.release(ctx, previous)

	if moduleID == "" {
		s.settle(gen, PhaseFallback, nil, nil, task)
		return task
	}

	module, ok := s.lifecycle.Registry().Get(moduleID)
	if !ok {
		s.settle(gen, PhaseMissing, nil, fmt.Errorf("%w: %s", fragment.ErrModuleNotFound, moduleID), task)
		return task
	}

	if s.lifecycle.IsInitialized(moduleID) {
		s.activate(ctx, gen, module, task)
		return task
	}

	if s.transition(gen, PhaseLoading, module, nil) {
		s.emit()
	}

	s.lifecycle.Start(ctx, moduleID).Then(func(err error) {
		if err != nil {
			s.settle(gen, PhaseFailed, module, err, task)
			return
		}
		s.activate(ctx, gen, module, task)
	})

	return task
}

// activate shows an initialized module. JS fragments get their container
// rendered first and are mounted into it once any earlier mount of this slot
// has finished; a mount that finishes after the slot moved on is unmounted
// again right away.
func (s *Slot) activate(ctx context.Context, gen uint64, module fragment.Module, task *async.Task) {
	js, ok := module.(*fragment.JS)
	if !ok {
		s.settle(gen, PhaseContent, module, nil, task)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		task.Complete(nil)
		return
	}
	s.phase, s.module, s.err = PhaseContent, module, nil
	pending := s.mounting
	mounting := async.New()
	s.mounting = mounting
	s.mu.Unlock()
	defer mounting.Complete(nil)

	s.emit()

	if pending != nil {
		pending.Wait(ctx)
		s.mu.Lock()
		stale := s.gen != gen
		s.mu.Unlock()
		if stale {
			task.Complete(nil)
			return
		}
	}

	adapter := jsfragment.New(js, s.lifecycle, s.invoker)
	err := adapter.Mount(ctx, js.ElementID(), s.opts.Props)

	s.mu.Lock()
	stale := s.gen != gen
	if !stale && err == nil {
		s.binding = adapter
	}
	s.mu.Unlock()

	if stale {
		if err == nil {
			log.Debug("releasing stale binding", "module", module.ID())
			s.release(ctx, adapter)
		}
		task.Complete(nil)
		return
	}

	if err != nil {
		s.settle(gen, PhaseFailed, module, err, task)
		return
	}
	s.settle(gen, PhaseContent, module, nil, task)
}

// transition applies a state change if gen is still the current binding.
func (s *Slot) transition(gen uint64, phase Phase, module fragment.Module, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return false
	}
	s.phase = phase
	s.module = module
	s.err = err
	return true
}

func (s *Slot) settle(gen uint64, phase Phase, module fragment.Module, err error, task *async.Task) {
	if !s.transition(gen, phase, module, err) {
		task.Complete(nil)
		return
	}

	if err != nil {
		log.Warn("slot failed", "slot", s.opts.ID, "phase", phase.String(), "error", err)
	}

	s.emit()

	if phase == PhaseContent && s.opts.OnLoaded != nil {
		s.opts.OnLoaded(module)
	}
	task.Complete(err)
}

func (s *Slot) release(ctx context.Context, adapter *jsfragment.Adapter) {
	if adapter == nil {
		return
	}
	if err := adapter.Unmount(ctx); err != nil {
		log.Warn("release failed", "slot", s.opts.ID, "module", adapter.Module().ID(), "error", err)
	}
}

// Close releases the current binding without rendering and returns the slot
// to its fallback state.
func (s *Slot) Close(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	previous := s.binding
	s.binding = nil
	s.moduleID = ""
	s.module = nil
	s.err = nil
	s.phase = PhaseFallback
	s.settled = async.Resolved(nil)
	s.mu.Unlock()

	s.renderMu.Lock()
	s.rendered = ""
	s.renderMu.Unlock()

	if previous == nil {
		return nil
	}
	return previous.Unmount(ctx)
}

// HTML renders the slot's current state.
func (s *Slot) HTML() string {
	s.mu.Lock()
	phase, module, err, moduleID := s.phase, s.module, s.err, s.moduleID
	s.mu.Unlock()

	t := s.opts.Templates

	var inner string
	switch phase {
	case PhaseFallback:
		inner = t.Fallback
	case PhaseMissing:
		inner = t.Error(MissingModuleMessage(moduleID))
	case PhaseLoading:
		inner = t.Loading
	case PhaseFailed:
		inner = t.Error(err.Error())
	case PhaseContent:
		inner = s.content(module)
	}

	return wrapHost(s.opts.ID, moduleID, s.opts.CSSClass, inner)
}

func (s *Slot) content(module fragment.Module) string {
	switch m := module.(type) {
	case *fragment.JS:
		return jsContainer(m.ElementID(), s.opts.ContainerClass)
	case fragment.Renderer:
		return m.Render()
	default:
		return fragment.DefaultContent(module)
	}
}

func (s *Slot) emit() {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	markup := s.HTML()
	if markup == s.rendered {
		return
	}
	s.rendered = markup
	if s.opts.OnRender != nil {
		s.opts.OnRender(markup)
	}
}
