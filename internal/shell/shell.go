// Package shell composes the host: one Shell per process owns the module
// registry, and every page connected over the bridge gets its own Session
// with a router, a view and a lifecycle manager of its own.
package shell

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/host"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/logger"
	"github.com/alucardeht/mfhost/internal/manifest"
	"github.com/alucardeht/mfhost/internal/registry"
	"github.com/alucardeht/mfhost/internal/router"
)

var log = logger.ForComponent("shell")

type Options struct {
	Router router.Options
	Bridge bridge.ClientConfig
	// Slot configures the view of every session. ID, OnLoaded and OnRender
	// are owned by the session and ignored.
	Slot host.Options
	// Preload injects every registered JS fragment's assets as soon as a
	// page says hello, before the first route is shown.
	Preload bool
}

type Shell struct {
	registry *registry.Registry
	journal  lifecycle.Journal
	opts     Options
	started  time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

var _ manifest.Retirer = (*Shell)(nil)

// New creates a shell over reg. journal may be nil.
func New(reg *registry.Registry, journal lifecycle.Journal, opts Options) *Shell {
	return &Shell{
		registry: reg,
		journal:  journal,
		opts:     opts,
		started:  time.Now(),
		sessions: make(map[string]*Session),
	}
}

func (sh *Shell) Registry() *registry.Registry { return sh.registry }

func (sh *Shell) Options() Options { return sh.opts }

// Serve runs a session over stream until the page disconnects or ctx is
// done, then releases everything the session mounted.
func (sh *Shell) Serve(ctx context.Context, stream jsonrpc2.ObjectStream) error {
	s, err := sh.Open(ctx, stream)
	if err != nil {
		return err
	}

	select {
	case <-s.Disconnected():
	case <-ctx.Done():
	}

	closeCtx, cancel := bridge.WithTimeout(context.Background(), sh.opts.Bridge.RequestTimeout)
	defer cancel()
	return s.Close(closeCtx)
}

// Open starts a session over stream and returns once it is registered. The
// session begins routing when the page sends its hello.
func (sh *Shell) Open(ctx context.Context, stream jsonrpc2.ObjectStream) (*Session, error) {
	sh.mu.RLock()
	closed := sh.closed
	sh.mu.RUnlock()
	if closed {
		stream.Close()
		return nil, ErrShellClosed
	}

	s := newSession(ctx, sh, stream)

	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		s.Close(context.Background())
		return nil, ErrShellClosed
	}
	sh.sessions[s.id] = s
	count := len(sh.sessions)
	sh.mu.Unlock()

	log.Info("session opened", "session", s.id, "sessions", count)
	return s, nil
}

func (sh *Shell) remove(id string) {
	sh.mu.Lock()
	delete(sh.sessions, id)
	count := len(sh.sessions)
	sh.mu.Unlock()

	log.Info("session closed", "session", id, "sessions", count)
}

func (sh *Shell) list() []*Session {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sessions := make([]*Session, 0, len(sh.sessions))
	for _, s := range sh.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].connected.Before(sessions[j].connected)
	})
	return sessions
}

func (sh *Shell) Session(id string) (*Session, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

func (sh *Shell) SessionCount() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions)
}

// Cleanup releases module id in every session before it is unregistered.
func (sh *Shell) Cleanup(ctx context.Context, id string) error {
	var errs error
	for _, s := range sh.list() {
		errs = multierr.Append(errs, s.retire(ctx, id))
	}
	return errs
}

// Refresh re-resolves the current location of every session, picking up
// registry changes.
func (sh *Shell) Refresh() {
	for _, s := range sh.list() {
		s.Refresh()
	}
}

// OnSync is a manifest.Watcher callback.
func (sh *Shell) OnSync(result manifest.SyncResult, err error) {
	if result.Changed() {
		sh.Refresh()
	}
}

type Snapshot struct {
	Started  time.Time     `json:"started"`
	Uptime   string        `json:"uptime"`
	Modules  []ModuleInfo  `json:"modules"`
	Sessions []SessionInfo `json:"sessions"`
}

type ModuleInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Technology string `json:"technology"`
	Routes     int    `json:"routes"`
}

func (sh *Shell) Snapshot() Snapshot {
	snap := Snapshot{
		Started:  sh.started,
		Uptime:   time.Since(sh.started).Round(time.Second).String(),
		Modules:  []ModuleInfo{},
		Sessions: []SessionInfo{},
	}
	for _, m := range sh.registry.List() {
		snap.Modules = append(snap.Modules, ModuleInfo{
			ID:         m.ID(),
			Name:       m.Name(),
			Version:    m.Version(),
			Technology: m.Technology(),
			Routes:     len(m.Routes()),
		})
	}
	for _, s := range sh.list() {
		snap.Sessions = append(snap.Sessions, s.Info())
	}
	return snap
}

// Close closes every session and refuses new ones.
func (sh *Shell) Close(ctx context.Context) error {
	sh.mu.Lock()
	sh.closed = true
	sh.mu.Unlock()

	var errs error
	for _, s := range sh.list() {
		errs = multierr.Append(errs, s.Close(ctx))
	}
	return errs
}
