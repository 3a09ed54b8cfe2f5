package daemon

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/assets"
	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/config"
	"github.com/alucardeht/mfhost/internal/host"
	"github.com/alucardeht/mfhost/internal/logger"
	"github.com/alucardeht/mfhost/internal/manifest"
	"github.com/alucardeht/mfhost/internal/registry"
	"github.com/alucardeht/mfhost/internal/router"
	"github.com/alucardeht/mfhost/internal/shell"
	"github.com/alucardeht/mfhost/internal/store"
)

var log = logger.ForComponent("daemon")

// Daemon serves pages over a unix socket and, when configured, a websocket
// endpoint next to the health and sync handlers.
type Daemon struct {
	cfg      config.Config
	store    *store.Store
	journal  *store.Journal
	registry *registry.Registry
	shell    *shell.Shell
	catalog  *manifest.Catalog
	watcher  *manifest.Watcher

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	slots        chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	conns        sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg config.Config) (*Daemon, error) {
	mode, err := router.ParseMode(cfg.Router.Mode)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	journal := store.NewJournal(st, cfg.Store.JournalQueue)

	reg := registry.NewRegistry()
	sh := shell.New(reg, journal, shell.Options{
		Router:  router.Options{BaseURL: cfg.Router.BaseURL, Mode: mode},
		Bridge:  cfg.Bridge,
		Slot:    SlotOptions(cfg.Slot),
		Preload: cfg.Daemon.PreloadAssets,
	})

	factory := &manifest.Factory{Assets: assets.Scoped{}}
	catalog := manifest.NewCatalog(cfg.Manifest, factory, reg, sh, st)

	maxConns := cfg.Daemon.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}

	return &Daemon{
		cfg:      cfg,
		store:    st,
		journal:  journal,
		registry: reg,
		shell:    sh,
		catalog:  catalog,
		slots:    make(chan struct{}, maxConns),
	}, nil
}

// SlotOptions turns the slot section of the config into view options. The
// error template receives the escaped message.
func SlotOptions(cfg config.SlotConfig) host.Options {
	opts := host.Options{
		CSSClass:       cfg.CSSClass,
		ContainerClass: cfg.ContainerClass,
		Templates:      host.Templates{Loading: cfg.LoadingTemplate},
	}
	if tpl := cfg.ErrorTemplate; tpl != "" {
		opts.Templates.Error = func(message string) string {
			return strings.Replace(tpl, "%s", html.EscapeString(message), 1)
		}
	}
	return opts
}

func (d *Daemon) Shell() *shell.Shell { return d.shell }

func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Start loads the manifests and begins accepting pages. It returns once the
// listeners are up.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	if _, err := d.catalog.Sync(d.ctx); err != nil {
		log.Warn("initial manifest sync incomplete", "error", err)
	}

	if d.cfg.Manifest.Watch {
		w, err := manifest.NewWatcher(d.catalog, d.shell.OnSync)
		if err != nil {
			return fmt.Errorf("create manifest watcher: %w", err)
		}
		if err := w.Start(d.ctx); err != nil {
			w.Stop()
			log.Warn("manifest watching disabled", "dir", d.cfg.Manifest.Dir, "error", err)
		} else {
			d.watcher = w
		}
	}

	listener, err := listenSocket(d.cfg.Daemon.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Daemon.SocketPath, err)
	}
	d.listener = listener
	go d.acceptConnections()

	if addr := d.cfg.Daemon.HTTPAddr; addr != "" {
		httpListener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		d.httpListener = httpListener
		d.httpServer = &http.Server{
			Handler:           d.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := d.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", "error", err)
			}
		}()
	}

	log.Info("daemon started",
		"socket", d.cfg.Daemon.SocketPath,
		"http", d.HTTPAddr(),
		"modules", d.registry.Len())
	return nil
}

// HTTPAddr is the bound health/websocket address, empty when disabled.
func (d *Daemon) HTTPAddr() string {
	if d.httpListener == nil {
		return ""
	}
	return d.httpListener.Addr().String()
}

// Run starts the daemon and blocks until ctx is done, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	instance := NewInstance(d.cfg.Daemon.PIDFile, d.cfg.Daemon.SocketPath)
	if err := instance.Acquire(); err != nil {
		return err
	}
	defer instance.Release()

	if err := d.Start(ctx); err != nil {
		d.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
	defer cancel()
	return d.Shutdown(shutdownCtx)
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug("accept failed", "error", err)
			continue
		}

		if !d.acquireSlot() {
			log.Warn("connection limit reached", "max", cap(d.slots))
			conn.Close()
			continue
		}

		d.conns.Add(1)
		go func() {
			defer d.conns.Done()
			defer d.releaseSlot()
			d.serve(bridge.NewStream(conn, d.cfg.Bridge.Codec))
		}()
	}
}

func (d *Daemon) acquireSlot() bool {
	select {
	case d.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (d *Daemon) releaseSlot() { <-d.slots }

func (d *Daemon) serve(stream jsonrpc2.ObjectStream) {
	if err := d.shell.Serve(d.ctx, stream); err != nil && !errors.Is(err, shell.ErrShellClosed) {
		log.Debug("session ended with error", "error", err)
	}
}

// Sync re-reads the manifests and re-routes every page.
func (d *Daemon) Sync(ctx context.Context) (manifest.SyncResult, error) {
	result, err := d.catalog.Sync(ctx)
	d.shell.Refresh()
	return result, err
}

// Shutdown stops accepting pages, releases what every page has mounted and
// flushes the journal.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		var errs error

		if d.listener != nil {
			d.listener.Close()
		}
		if d.httpServer != nil {
			errs = multierr.Append(errs, d.httpServer.Shutdown(ctx))
		}
		if d.watcher != nil {
			errs = multierr.Append(errs, d.watcher.Stop())
		}

		errs = multierr.Append(errs, d.shell.Close(ctx))
		if d.cancel != nil {
			d.cancel()
		}

		done := make(chan struct{})
		go func() {
			d.conns.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("connections still open at shutdown")
		}

		d.journal.Close()
		errs = multierr.Append(errs, d.store.Close())
		d.shutdownErr = errs
	})
	return d.shutdownErr
}
