package assets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/bridge/bridgetest"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/registry"
)

func jsModule(id, script, css string) *fragment.JS {
	return fragment.NewJS(
		fragment.Descriptor{ModuleID: id, Name: id, Technology: "React"},
		fragment.JSOptions{ScriptURL: script, CSSURL: css, ElementID: id + "-root"},
		nil,
	)
}

func TestLoadAllSharedScriptInjectedOnce(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(jsModule("a", "/bundle.js", "")))
	require.NoError(t, reg.Register(jsModule("b", "/bundle.js", "")))

	page := bridgetest.NewPage()
	loader := NewLoader(page, reg)

	require.NoError(t, loader.LoadAll(context.Background()))

	require.Len(t, page.CallsTo(bridge.FuncLoadScript), 1)
	require.Equal(t, []any{"/bundle.js"}, page.CallsTo(bridge.FuncLoadScript)[0])
	require.Empty(t, page.CallsTo(bridge.FuncLoadCSS))
}

func TestLoadAllRegistryOrder(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(jsModule("a", "/a.js", "/a.css")))
	require.NoError(t, reg.Register(fragment.NewNative(fragment.Descriptor{ModuleID: "n", Technology: fragment.TechnologyNative})))
	require.NoError(t, reg.Register(jsModule("b", "/b.js", "/a.css")))

	page := bridgetest.NewPage()
	loader := NewLoader(page, reg)
	require.NoError(t, loader.LoadAll(context.Background()))

	require.Equal(t, []string{
		bridge.FuncLoadScript,
		bridge.FuncLoadCSS,
		bridge.FuncLoadScript,
	}, page.Functions())
	require.Equal(t, []string{"/a.js", "/b.js"}, loader.URLs(KindScript))
	require.Equal(t, []string{"/a.css"}, loader.URLs(KindStylesheet))
}

func TestEnsureScriptRetriesAfterFailure(t *testing.T) {
	page := bridgetest.NewPage()
	loader := NewLoader(page, registry.NewRegistry())
	ctx := context.Background()

	page.Fail(bridge.FuncLoadScript, errors.New("network down"))
	err := loader.EnsureScript(ctx, "/x.js")
	require.Error(t, err)
	require.False(t, loader.Requested(KindScript, "/x.js"))

	page.Fail(bridge.FuncLoadScript, nil)
	require.NoError(t, loader.EnsureScript(ctx, "/x.js"))
	require.NoError(t, loader.EnsureScript(ctx, "/x.js"))
	require.True(t, loader.Requested(KindScript, "/x.js"))
	require.Len(t, page.CallsTo(bridge.FuncLoadScript), 2)
}

func TestEnsureConcurrentSingleInjection(t *testing.T) {
	page := bridgetest.NewPage()
	loader := NewLoader(page, registry.NewRegistry())

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loader.EnsureStylesheet(context.Background(), "/theme.css")
		}()
	}
	wg.Wait()

	require.Len(t, page.CallsTo(bridge.FuncLoadCSS), 1)
}

func TestEnsureEmptyURLIsNoop(t *testing.T) {
	page := bridgetest.NewPage()
	loader := NewLoader(page, registry.NewRegistry())

	require.NoError(t, loader.EnsureStylesheet(context.Background(), ""))
	require.Empty(t, page.Calls())
}

func TestScriptAndStylesheetKeysAreSeparate(t *testing.T) {
	page := bridgetest.NewPage()
	loader := NewLoader(page, registry.NewRegistry())
	ctx := context.Background()

	require.NoError(t, loader.EnsureScript(ctx, "/same"))
	require.NoError(t, loader.EnsureStylesheet(ctx, "/same"))
	require.Len(t, page.Calls(), 2)
}

func TestScopedDispatchesPerContext(t *testing.T) {
	reg := registry.NewRegistry()
	first, second := bridgetest.NewPage(), bridgetest.NewPage()
	a, b := NewLoader(first, reg), NewLoader(second, reg)

	module := fragment.NewJS(
		fragment.Descriptor{ModuleID: "cart", Technology: "React"},
		fragment.JSOptions{ScriptURL: "/cart.js", ElementID: "cart-root"},
		Scoped{},
	)

	require.NoError(t, module.Initialize(WithLoader(context.Background(), a)))
	require.NoError(t, module.Initialize(WithLoader(context.Background(), b)))
	require.NoError(t, module.Initialize(WithLoader(context.Background(), b)))

	require.Len(t, first.CallsTo(bridge.FuncLoadScript), 1)
	require.Len(t, second.CallsTo(bridge.FuncLoadScript), 1)

	require.ErrorIs(t, module.Initialize(context.Background()), ErrNoLoader)
}
