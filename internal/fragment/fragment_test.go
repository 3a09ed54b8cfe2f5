package fragment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type loaderCall struct {
	kind string
	url  string
}

type fakeLoader struct {
	calls []loaderCall
	fail  map[string]error
}

func (f *fakeLoader) EnsureScript(ctx context.Context, url string) error {
	f.calls = append(f.calls, loaderCall{"script", url})
	return f.fail[url]
}

func (f *fakeLoader) EnsureStylesheet(ctx context.Context, url string) error {
	f.calls = append(f.calls, loaderCall{"css", url})
	return f.fail[url]
}

func TestKindOf(t *testing.T) {
	initErr := &InitializationError{ModuleID: "a", Err: errors.New("x")}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"not found", fmt.Errorf("%w: a", ErrModuleNotFound), KindNotFound},
		{"duplicate", fmt.Errorf("%w: a", ErrDuplicateModule), KindDuplicate},
		{"invalid", ErrInvalidModule, KindInvalidModule},
		{"initialization", initErr, KindInitialization},
		{"mount wraps init", &MountError{ModuleID: "a", Err: initErr}, KindMount},
		{"unmount", &UnmountError{ModuleID: "a", Err: errors.New("x")}, KindUnmount},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"other", errors.New("other"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNativeDefaultContentEscapes(t *testing.T) {
	m := NewNative(Descriptor{ModuleID: "x", Name: "<Home>"})
	require.Equal(t, TechnologyNative, m.Technology())
	require.Equal(t,
		`<div class="microfrontend-content">Module &lt;Home&gt; (native)</div>`,
		m.Render())

	m.Content = func() string { return "<p>custom</p>" }
	require.Equal(t, "<p>custom</p>", m.Render())
}

func TestRoutesAreCopied(t *testing.T) {
	m := NewNative(Descriptor{ModuleID: "x", Routes: []Route{{Path: "home"}}})
	m.Routes()[0].Path = "changed"
	require.Equal(t, "home", m.Routes()[0].Path)
}

func TestJSInitializeLoadsScriptThenStylesheet(t *testing.T) {
	loader := &fakeLoader{}
	m := NewJS(Descriptor{ModuleID: "cart", Technology: "React"},
		JSOptions{ScriptURL: "/cart.js", CSSURL: "/cart.css", ElementID: "cart-root"}, loader)

	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, []loaderCall{{"script", "/cart.js"}, {"css", "/cart.css"}}, loader.calls)

	require.Equal(t, "React", m.Namespace())
	require.Equal(t, DefaultMountFunction, m.MountFunction())
	require.Equal(t, DefaultUnmountFunction, m.UnmountFunction())
}

func TestJSInitializeStopsOnScriptFailure(t *testing.T) {
	boom := errors.New("404")
	loader := &fakeLoader{fail: map[string]error{"/cart.js": boom}}
	m := NewJS(Descriptor{ModuleID: "cart"},
		JSOptions{ScriptURL: "/cart.js", CSSURL: "/cart.css", Namespace: "CartApp"}, loader)

	require.ErrorIs(t, m.Initialize(context.Background()), boom)
	require.Len(t, loader.calls, 1)
	require.Equal(t, "CartApp", m.Namespace())
}

func TestJSWithoutLoader(t *testing.T) {
	m := NewJS(Descriptor{ModuleID: "cart"}, JSOptions{ScriptURL: "/cart.js"}, nil)
	require.ErrorIs(t, m.Initialize(context.Background()), ErrNoAssetLoader)
}

func TestContainer(t *testing.T) {
	c := NewContainer()
	c.Provide("b", 2)
	c.Provide("a", "one")
	c.Provide("b", 3)

	require.Equal(t, []string{"a", "b"}, c.Names())

	n, ok := Resolve[int](c, "b")
	require.True(t, ok)
	require.Equal(t, 3, n)

	_, ok = Resolve[int](c, "a")
	require.False(t, ok)
	_, ok = Resolve[string](c, "missing")
	require.False(t, ok)
}
