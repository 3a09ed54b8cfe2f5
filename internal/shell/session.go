package shell

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/assets"
	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/host"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/navigation"
	"github.com/alucardeht/mfhost/internal/router"
)

var ErrShellClosed = errors.New("shell is closed")

// Session is one connected page. Everything that touches the document lives
// here: injected assets, initialized modules, the current route and the
// mounted fragment.
type Session struct {
	id        string
	shell     *Shell
	connected time.Time

	ctx    context.Context
	cancel context.CancelFunc

	client    *bridge.Client
	loader    *assets.Loader
	lifecycle *lifecycle.Manager
	broker    *navigation.Broker
	router    *router.Router
	view      *host.View

	// ready is closed once every field above is set; handlers that fire
	// earlier wait on it.
	ready     chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error

	mu           sync.Mutex
	started      bool
	userAgent    string
	scriptErrors int
}

func newSession(ctx context.Context, sh *Shell, stream jsonrpc2.ObjectStream) *Session {
	s := &Session{
		id:        uuid.NewString(),
		shell:     sh,
		connected: time.Now(),
		broker:    navigation.NewBroker(""),
		ready:     make(chan struct{}),
	}

	s.client = bridge.NewClient(ctx, stream, sh.opts.Bridge, bridge.Handlers{
		OnHello:           s.hello,
		OnLocationChanged: s.locationChanged,
		OnFragmentError:   s.fragmentError,
	})

	var journal []lifecycle.Option
	if sh.journal != nil {
		journal = append(journal, lifecycle.WithJournal(sh.journal))
	}
	s.lifecycle = lifecycle.NewManager(sh.registry, journal...)
	s.loader = assets.NewLoader(s.client, sh.registry)
	s.router = router.New(sh.registry, sh.opts.Router)

	slotOpts := sh.opts.Slot
	slotOpts.ID = ""
	slotOpts.OnLoaded = s.loaded
	slotOpts.OnRender = s.render
	s.view = host.NewView(s.lifecycle, s.client, slotOpts)

	s.ctx, s.cancel = context.WithCancel(assets.WithLoader(context.WithoutCancel(ctx), s.loader))
	close(s.ready)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Lifecycle() *lifecycle.Manager { return s.lifecycle }

func (s *Session) Loader() *assets.Loader { return s.loader }

func (s *Session) View() *host.View { return s.view }

func (s *Session) Router() *router.Router { return s.router }

func (s *Session) Disconnected() <-chan struct{} { return s.client.DisconnectNotify() }

// hello runs on the bridge read loop, so routing starts on its own goroutine.
func (s *Session) hello(ctx context.Context, p bridge.HelloParams) (bridge.HelloResult, error) {
	<-s.ready

	s.mu.Lock()
	s.userAgent = p.UserAgent
	s.mu.Unlock()

	log.Debug("page hello", "session", s.id, "url", p.URL, "user_agent", p.UserAgent)
	go s.begin(p.URL)

	return bridge.HelloResult{
		SessionID: s.id,
		BaseURL:   s.router.Options().BaseURL,
	}, nil
}

func (s *Session) begin(initialURL string) {
	<-s.ready
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}

		if s.shell.opts.Preload {
			if err := s.loader.LoadAll(s.ctx); err != nil {
				log.Warn("preloading assets failed", "session", s.id, "error", err)
			}
		}

		s.mu.Lock()
		s.started = true
		s.mu.Unlock()

		s.router.Start(s.ctx, s.broker, initialURL, s.show)
	})
}

func (s *Session) locationChanged(p bridge.LocationChangedParams) {
	<-s.ready
	s.broker.Navigate(p.URL, p.Intercepted)
}

func (s *Session) fragmentError(p bridge.FragmentErrorParams) {
	s.mu.Lock()
	s.scriptErrors++
	s.mu.Unlock()

	log.Warn("page script error",
		"session", s.id,
		"message", p.Message,
		"source", p.Source,
		"line", p.LineNumber,
		"column", p.ColumnNumber)
}

func (s *Session) show(res router.Resolution) {
	task := s.view.Show(s.ctx, res)
	task.Then(func(err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("route failed to load",
				"session", s.id,
				"path", res.Path,
				"module", res.ModuleID(),
				"kind", fragment.KindOf(err),
				"error", err)
		}
	})
}

func (s *Session) loaded(module fragment.Module) {
	log.Info("module loaded", "session", s.id, "module", module.ID())
}

func (s *Session) render(markup string) {
	if err := s.client.Render(s.ctx, s.view.Slot().ID(), markup); err != nil && !errors.Is(err, bridge.ErrClosed) {
		log.Debug("render failed", "session", s.id, "error", err)
	}
}

// Refresh re-resolves the current location. It does nothing before the page
// has said hello.
func (s *Session) Refresh() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.broker.Navigate(s.router.Current().URL, false)
}

// retire releases id from the view and cleans it up in this session.
func (s *Session) retire(ctx context.Context, id string) error {
	var errs error
	if s.view.Slot().ModuleID() == id {
		errs = multierr.Append(errs, s.view.Close(ctx))
	}
	if _, ok := s.shell.registry.Get(id); ok {
		errs = multierr.Append(errs, s.lifecycle.Cleanup(ctx, id))
	}
	return errs
}

// Close unmounts what the page shows, stops routing and drops the
// connection. Later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.router.Close()

		var errs error
		if err := s.view.Close(ctx); err != nil && !errors.Is(err, bridge.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		s.broker.Close()
		s.cancel()

		if err := s.client.Close(); err != nil && !errors.Is(err, bridge.ErrClosed) {
			errs = multierr.Append(errs, err)
		}

		s.shell.remove(s.id)
		s.closeErr = errs
	})
	return s.closeErr
}

type SessionInfo struct {
	ID          string             `json:"id"`
	Connected   time.Time          `json:"connected"`
	UserAgent   string             `json:"user_agent,omitempty"`
	URL         string             `json:"url"`
	Module      string             `json:"module,omitempty"`
	Phase       string             `json:"phase"`
	ScriptErrs  int                `json:"script_errors"`
	Scripts     []string           `json:"scripts"`
	Stylesheets []string           `json:"stylesheets"`
	Modules     []lifecycle.Status `json:"modules"`
	Bridge      bridge.ClientStats `json:"bridge"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	userAgent, scriptErrs := s.userAgent, s.scriptErrors
	s.mu.Unlock()

	slot := s.view.Slot()
	return SessionInfo{
		ID:          s.id,
		Connected:   s.connected,
		UserAgent:   userAgent,
		URL:         s.router.Current().URL,
		Module:      slot.ModuleID(),
		Phase:       slot.Phase().String(),
		ScriptErrs:  scriptErrs,
		Scripts:     s.loader.URLs(assets.KindScript),
		Stylesheets: s.loader.URLs(assets.KindStylesheet),
		Modules:     s.lifecycle.Snapshot(),
		Bridge:      s.client.Stats(),
	}
}
