package router

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
	"github.com/alucardeht/mfhost/internal/navigation"
	"github.com/alucardeht/mfhost/internal/registry"
)

var log = logger.ForComponent("router")

type Options struct {
	// BaseURL is stripped from navigated URLs. It may be absolute
	// ("https://example.com/app/") or a path ("/app/").
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Mode    Mode   `yaml:"-" mapstructure:"-"`
}

func DefaultOptions() Options {
	return Options{
		BaseURL: "/",
		Mode:    ModeExact,
	}
}

type ResolutionKind int

const (
	// KindEmpty means the relative path is empty: nothing is rendered.
	KindEmpty ResolutionKind = iota
	// KindNotFound means no route matched a non-empty path, or the URL lies
	// outside the base.
	KindNotFound
	KindMatched
)

func (k ResolutionKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNotFound:
		return "not_found"
	case KindMatched:
		return "matched"
	default:
		return "unknown"
	}
}

type Resolution struct {
	Kind   ResolutionKind
	URL    string
	Path   string
	Module fragment.Module
	Route  fragment.Route
}

func (r Resolution) ModuleID() string {
	if r.Module == nil {
		return ""
	}
	return r.Module.ID()
}

// Router maps the current location to at most one module and re-resolves on
// every navigation event. It never initializes or mounts anything itself.
type Router struct {
	registry *registry.Registry
	opts     Options

	mu      sync.RWMutex
	current Resolution
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(reg *registry.Registry, opts Options) *Router {
	opts.BaseURL = normalizeBase(opts.BaseURL)
	return &Router{
		registry: reg,
		opts:     opts,
	}
}

func (r *Router) Options() Options { return r.opts }

// RelativePath strips the base URL, the query string and the fragment from
// rawURL. No other normalization is applied. The result is false when rawURL
// lies outside the base.
func (r *Router) RelativePath(rawURL string) (string, bool) {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	if rel, ok := stripBase(u, r.opts.BaseURL); ok {
		return rel, true
	}
	return stripBase(urlPath(u), urlPath(r.opts.BaseURL))
}

// stripBase treats the base without its trailing slash as the base itself.
func stripBase(u, base string) (string, bool) {
	if strings.HasPrefix(u, base) {
		return u[len(base):], true
	}
	if u+"/" == base {
		return "", true
	}
	return "", false
}

func urlPath(s string) string {
	if parsed, err := url.Parse(s); err == nil && parsed.Host != "" {
		return parsed.EscapedPath()
	}
	return s
}

// normalizeBase makes the base end in exactly one slash so "/app" and "/app/"
// strip the same way.
func normalizeBase(base string) string {
	if base == "" {
		return "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// Resolve computes the resolution for rawURL against the current registry
// contents without changing the router's current location.
func (r *Router) Resolve(rawURL string) Resolution {
	path, inBase := r.RelativePath(rawURL)
	res := Resolution{URL: rawURL, Path: path}

	if !inBase {
		res.Kind = KindNotFound
		return res
	}
	if path == "" {
		res.Kind = KindEmpty
		return res
	}

	modules := r.registry.List()
	byID := make(map[string]fragment.Module, len(modules))
	for _, module := range modules {
		byID[module.ID()] = module
	}

	entry, ok := Lookup(BuildTable(modules), r.opts.Mode, path)
	if !ok {
		res.Kind = KindNotFound
		return res
	}

	res.Kind = KindMatched
	res.Module = byID[entry.ModuleID]
	res.Route = fragment.Route{Path: entry.Path, Title: entry.Title}
	return res
}

// Navigate resolves rawURL and makes it the current resolution.
func (r *Router) Navigate(rawURL string) Resolution {
	res := r.Resolve(rawURL)

	r.mu.Lock()
	r.current = res
	r.mu.Unlock()

	log.Debug("resolved location", "url", rawURL, "path", res.Path, "kind", res.Kind.String(), "module", res.ModuleID())
	return res
}

func (r *Router) Current() Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start resolves initialURL, then follows source on a new goroutine, calling
// onChange with each new resolution. onChange always runs on that goroutine,
// and the initial resolution is delivered first.
func (r *Router) Start(ctx context.Context, source navigation.Source, initialURL string, onChange func(Resolution)) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	events := source.Subscribe(ctx)

	go func() {
		defer close(done)

		onChange(r.Navigate(initialURL))

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				onChange(r.Navigate(event.URL))
			}
		}
	}()
}

// Close unsubscribes from the navigation source and waits for the loop to exit.
func (r *Router) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
