package assets

import (
	"context"
	"errors"

	"github.com/alucardeht/mfhost/internal/fragment"
)

var ErrNoLoader = errors.New("no asset loader in context")

type loaderKey struct{}

// WithLoader returns a context whose asset requests go to l.
func WithLoader(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, loaderKey{}, l)
}

func FromContext(ctx context.Context) (*Loader, bool) {
	l, ok := ctx.Value(loaderKey{}).(*Loader)
	return l, ok && l != nil
}

// Scoped forwards to the Loader carried by the request context. Modules
// shared by several pages hold a Scoped loader so each page gets its own
// injections.
type Scoped struct{}

var _ fragment.AssetLoader = Scoped{}

func (Scoped) EnsureScript(ctx context.Context, url string) error {
	l, ok := FromContext(ctx)
	if !ok {
		return ErrNoLoader
	}
	return l.EnsureScript(ctx, url)
}

func (Scoped) EnsureStylesheet(ctx context.Context, url string) error {
	l, ok := FromContext(ctx)
	if !ok {
		return ErrNoLoader
	}
	return l.EnsureStylesheet(ctx, url)
}
