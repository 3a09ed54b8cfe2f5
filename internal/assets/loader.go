// Package assets injects the script and stylesheet URLs of JS fragments into
// the page, each distinct URL at most once for the lifetime of the host.
package assets

import (
	"context"
	"fmt"
	"sort"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/async"
	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
	"github.com/alucardeht/mfhost/internal/registry"
)

var log = logger.ForComponent("assets")

type Kind string

const (
	KindScript     Kind = "script"
	KindStylesheet Kind = "stylesheet"
)

// Loader owns the set of already requested URLs. A URL enters the set before
// it is injected, so concurrent requests for it share one injection; a
// failed injection takes it out again.
type Loader struct {
	invoker   bridge.Invoker
	registry  *registry.Registry
	requested *gocache.Cache
}

var _ fragment.AssetLoader = (*Loader)(nil)

func NewLoader(invoker bridge.Invoker, reg *registry.Registry) *Loader {
	return &Loader{
		invoker:   invoker,
		registry:  reg,
		requested: gocache.New(gocache.NoExpiration, 0),
	}
}

func (l *Loader) EnsureScript(ctx context.Context, url string) error {
	return l.ensure(ctx, KindScript, url)
}

func (l *Loader) EnsureStylesheet(ctx context.Context, url string) error {
	return l.ensure(ctx, KindStylesheet, url)
}

func (l *Loader) ensure(ctx context.Context, kind Kind, url string) error {
	if url == "" {
		return nil
	}

	key := string(kind) + ":" + url
	task := async.New()
	if err := l.requested.Add(key, task, gocache.NoExpiration); err != nil {
		if pending, ok := l.requested.Get(key); ok {
			return pending.(*async.Task).Wait(ctx)
		}
		return l.ensure(ctx, kind, url)
	}

	function := bridge.FuncLoadScript
	if kind == KindStylesheet {
		function = bridge.FuncLoadCSS
	}

	if _, err := l.invoker.Invoke(ctx, function, url); err != nil {
		l.requested.Delete(key)
		err = fmt.Errorf("inject %s %s: %w", kind, url, err)
		log.Warn("asset injection failed", "kind", kind, "url", url, "error", err)
		task.Complete(err)
		return err
	}

	log.Debug("asset injected", "kind", kind, "url", url)
	task.Complete(nil)
	return nil
}

// LoadAll injects the assets of every JS fragment in registry order. A
// failing URL does not stop the rest.
func (l *Loader) LoadAll(ctx context.Context) error {
	var errs error
	for _, module := range l.registry.List() {
		js, ok := module.(*fragment.JS)
		if !ok {
			continue
		}
		errs = multierr.Append(errs, l.EnsureScript(ctx, js.ScriptURL()))
		errs = multierr.Append(errs, l.EnsureStylesheet(ctx, js.CSSURL()))
	}
	return errs
}

// Requested reports whether url has been injected or is being injected.
func (l *Loader) Requested(kind Kind, url string) bool {
	_, ok := l.requested.Get(string(kind) + ":" + url)
	return ok
}

// URLs lists the requested URLs of one kind, sorted.
func (l *Loader) URLs(kind Kind) []string {
	prefix := string(kind) + ":"
	var urls []string
	for key := range l.requested.Items() {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			urls = append(urls, key[len(prefix):])
		}
	}
	sort.Strings(urls)
	return urls
}
