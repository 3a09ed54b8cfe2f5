package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alucardeht/mfhost/internal/assets"
	"github.com/alucardeht/mfhost/internal/bridge/bridgetest"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/registry"
	"github.com/alucardeht/mfhost/internal/router"
)

type harness struct {
	reg     *registry.Registry
	page    *bridgetest.Page
	loader  *assets.Loader
	manager *lifecycle.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := registry.NewRegistry()
	page := bridgetest.NewPage()
	return &harness{
		reg:     reg,
		page:    page,
		loader:  assets.NewLoader(page, reg),
		manager: lifecycle.NewManager(reg),
	}
}

func (h *harness) native(t *testing.T, id, route string, inits *atomic.Int32) *fragment.Native {
	t.Helper()
	m := fragment.NewNative(fragment.Descriptor{
		ModuleID: id,
		Name:     "Module " + id,
		Routes:   []fragment.Route{{Path: route, Title: route}},
	})
	m.OnInitialize = func(ctx context.Context) error {
		if inits != nil {
			inits.Add(1)
		}
		return nil
	}
	require.NoError(t, h.reg.Register(m))
	return m
}

func (h *harness) js(t *testing.T, id, technology string) *fragment.JS {
	t.Helper()
	m := fragment.NewJS(fragment.Descriptor{
		ModuleID:   id,
		Name:       id,
		Technology: technology,
	}, fragment.JSOptions{
		ScriptURL: "/" + id + ".js",
		ElementID: id + "-root",
	}, h.loader)
	require.NoError(t, h.reg.Register(m))
	return m
}

func waitTask(t *testing.T, wait func(ctx context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wait(ctx)
}

func TestSlotFallbackWithoutModuleID(t *testing.T) {
	h := newHarness(t)
	slot := NewSlot(h.manager, h.page, Options{
		ID:        "host",
		Templates: Templates{Fallback: `<div class="child-content">Child Content</div>`},
	})

	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "").Wait))
	require.Equal(t, PhaseFallback, slot.Phase())
	require.Equal(t,
		`<div class="microfrontend-host" id="host"><div class="child-content">Child Content</div></div>`,
		slot.HTML())
}

func TestSlotMissingModule(t *testing.T) {
	h := newHarness(t)
	slot := NewSlot(h.manager, h.page, Options{ID: "host"})

	err := waitTask(t, slot.Bind(context.Background(), "non-existent-module").Wait)
	require.ErrorIs(t, err, fragment.ErrModuleNotFound)
	require.Equal(t, PhaseMissing, slot.Phase())
	require.Equal(t,
		`<div class="microfrontend-host" id="host" data-module-id="non-existent-module">`+
			`<div class="error">No microfrontend module with ID &#39;non-existent-module&#39; was found.</div></div>`,
		slot.HTML())
}

func TestSlotInitializesOnceAndShowsContent(t *testing.T) {
	h := newHarness(t)
	var inits atomic.Int32
	h.native(t, "A", "home", &inits)

	var (
		mu       sync.Mutex
		loaded   []string
		rendered []string
	)
	slot := NewSlot(h.manager, h.page, Options{
		ID:       "host",
		CSSClass: "custom-host-class",
		OnLoaded: func(m fragment.Module) {
			mu.Lock()
			loaded = append(loaded, m.ID())
			mu.Unlock()
		},
		OnRender: func(markup string) {
			mu.Lock()
			rendered = append(rendered, markup)
			mu.Unlock()
		},
	})

	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "A").Wait))
	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "A").Wait))

	require.Equal(t, int32(1), inits.Load())
	require.Equal(t, PhaseContent, slot.Phase())
	require.Equal(t,
		`<div class="microfrontend-host custom-host-class" id="host" data-module-id="A">`+
			`<div class="microfrontend-content">Module Module A (native)</div></div>`,
		slot.HTML())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"A"}, loaded)
	require.Contains(t, rendered[0], `<div class="loading">Loading...</div>`)
	require.Equal(t, slot.HTML(), rendered[len(rendered)-1])
}

func TestSlotInitializationFailureShowsErrorTemplate(t *testing.T) {
	h := newHarness(t)
	m := h.native(t, "broken", "broken", nil)
	m.OnInitialize = func(ctx context.Context) error { return errors.New("db offline") }

	slot := NewSlot(h.manager, h.page, Options{
		ID: "host",
		Templates: Templates{
			Error: func(message string) string { return "ERR:" + message },
		},
	})

	err := waitTask(t, slot.Bind(context.Background(), "broken").Wait)
	require.Equal(t, fragment.KindInitialization, fragment.KindOf(err))
	require.Equal(t, PhaseFailed, slot.Phase())
	require.Contains(t, slot.HTML(), "ERR:")
	require.Contains(t, slot.HTML(), "db offline")

	// a failed binding can be retried by binding again
	m.OnInitialize = nil
	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "broken").Wait))
	require.Equal(t, PhaseContent, slot.Phase())
}

func TestSlotMountsJSFragmentIntoContainer(t *testing.T) {
	h := newHarness(t)
	h.js(t, "cart", "React")

	slot := NewSlot(h.manager, h.page, Options{
		ID:             "host",
		ContainerClass: "test-class",
		Props:          map[string]int{"count": 1},
	})

	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "cart").Wait))
	require.Equal(t,
		`<div class="microfrontend-host" id="host" data-module-id="cart">`+
			`<div id="cart-root" class="js-microfrontend-container test-class"></div></div>`,
		slot.HTML())
	require.Equal(t, [][]any{{"cart-root", `{"count":1}`}}, h.page.CallsTo("React.mount"))
}

func TestSlotMountFailureShowsMessage(t *testing.T) {
	h := newHarness(t)
	h.js(t, "cart", "React")
	h.page.Fail("React.mount", errors.New("Mount error"))

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	err := waitTask(t, slot.Bind(context.Background(), "cart").Wait)

	require.Equal(t, fragment.KindMount, fragment.KindOf(err))
	require.Equal(t, PhaseFailed, slot.Phase())
	require.Contains(t, slot.HTML(), "Mount error")
}

func TestSlotRebindUnmountsBeforeMounting(t *testing.T) {
	h := newHarness(t)
	h.js(t, "x", "React")
	h.js(t, "y", "Vue")

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	ctx := context.Background()

	require.NoError(t, waitTask(t, slot.Bind(ctx, "x").Wait))
	require.NoError(t, waitTask(t, slot.Bind(ctx, "y").Wait))

	var sequence []string
	for _, fn := range h.page.Functions() {
		switch fn {
		case "React.mount", "React.unmount", "Vue.mount":
			sequence = append(sequence, fn)
		}
	}
	require.Equal(t, []string{"React.mount", "React.unmount", "Vue.mount"}, sequence)
}

func TestSlotReleasesStaleBindingWhenMountResolves(t *testing.T) {
	h := newHarness(t)
	h.js(t, "x", "React")
	h.native(t, "n", "n", nil)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.page.OnInvoke("React.mount", func(args []any) {
		close(entered)
		<-unblock
	})

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	ctx := context.Background()

	stale := slot.Bind(ctx, "x")
	<-entered

	require.NoError(t, waitTask(t, slot.Bind(ctx, "n").Wait))
	require.Equal(t, "n", slot.ModuleID())

	close(unblock)
	require.NoError(t, waitTask(t, stale.Wait))

	require.Len(t, h.page.CallsTo("React.unmount"), 1)
	require.Equal(t, PhaseContent, slot.Phase())
	require.Contains(t, slot.HTML(), `data-module-id="n"`)
}

func TestSlotRebindDuringMountKeepsUnmountFirst(t *testing.T) {
	h := newHarness(t)
	h.js(t, "x", "React")
	h.js(t, "y", "Vue")

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.page.OnInvoke("React.mount", func(args []any) {
		close(entered)
		<-unblock
	})

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	ctx := context.Background()

	stale := slot.Bind(ctx, "x")
	<-entered

	next := slot.Bind(ctx, "y")
	require.Never(t, func() bool {
		return len(h.page.CallsTo("Vue.mount")) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(unblock)
	require.NoError(t, waitTask(t, stale.Wait))
	require.NoError(t, waitTask(t, next.Wait))

	var sequence []string
	for _, fn := range h.page.Functions() {
		switch fn {
		case "React.mount", "React.unmount", "Vue.mount":
			sequence = append(sequence, fn)
		}
	}
	require.Equal(t, []string{"React.mount", "React.unmount", "Vue.mount"}, sequence)
	require.Equal(t, "y", slot.ModuleID())
}

func TestSlotStaleInitializationDoesNotMount(t *testing.T) {
	h := newHarness(t)
	h.js(t, "x", "React")
	h.native(t, "n", "n", nil)

	unblock := make(chan struct{})
	h.page.OnInvoke("mfhost.loadScript", func(args []any) { <-unblock })

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	ctx := context.Background()

	stale := slot.Bind(ctx, "x")
	require.Equal(t, PhaseLoading, slot.Phase())
	require.NoError(t, waitTask(t, slot.Bind(ctx, "n").Wait))

	close(unblock)
	require.NoError(t, waitTask(t, stale.Wait))

	// initialization still completed, but nothing was acquired for x
	require.True(t, h.manager.IsInitialized("x"))
	require.Empty(t, h.page.CallsTo("React.mount"))
	require.Equal(t, "n", slot.ModuleID())
}

func TestSlotCloseReleasesBinding(t *testing.T) {
	h := newHarness(t)
	h.js(t, "x", "React")

	slot := NewSlot(h.manager, h.page, Options{ID: "host"})
	require.NoError(t, waitTask(t, slot.Bind(context.Background(), "x").Wait))
	require.NoError(t, slot.Close(context.Background()))

	require.Len(t, h.page.CallsTo("React.unmount"), 1)
	require.Equal(t, PhaseFallback, slot.Phase())
}

func TestGeneratedSlotID(t *testing.T) {
	h := newHarness(t)
	a := NewSlot(h.manager, h.page, Options{})
	b := NewSlot(h.manager, h.page, Options{})

	require.NotEqual(t, a.ID(), b.ID())
	require.Contains(t, a.ID(), "microfrontend-host-")
}

func TestViewRendersResolutions(t *testing.T) {
	h := newHarness(t)
	var inits atomic.Int32
	h.native(t, "A", "home", &inits)
	h.native(t, "test-module", "test-route", nil)

	r := router.New(h.reg, router.DefaultOptions())

	var (
		mu       sync.Mutex
		rendered []string
	)
	view := NewView(h.manager, h.page, Options{
		ID: "host",
		OnRender: func(markup string) {
			mu.Lock()
			rendered = append(rendered, markup)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, waitTask(t, view.Show(ctx, r.Navigate("https://example.com/")).Wait))
	require.Equal(t, "", view.HTML())

	require.NoError(t, waitTask(t, view.Show(ctx, r.Navigate("https://example.com/unknown")).Wait))
	require.Equal(t, NotFoundMarkup, view.HTML())

	require.NoError(t, waitTask(t, view.Show(ctx, r.Navigate("https://example.com/test-route")).Wait))
	require.Contains(t, view.HTML(), "test-module")

	require.NoError(t, waitTask(t, view.Show(ctx, r.Navigate("/home")).Wait))
	require.Equal(t, int32(1), inits.Load())
	require.Contains(t, view.HTML(), "Module Module A (native)")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "", rendered[0])
	require.Equal(t, NotFoundMarkup, rendered[1])
	require.Equal(t, view.HTML(), rendered[len(rendered)-1])
}

func TestViewLeavingMatchedRouteUnmounts(t *testing.T) {
	h := newHarness(t)
	m := h.js(t, "x", "React")
	r := router.New(h.reg, router.DefaultOptions())

	view := NewView(h.manager, h.page, Options{ID: "host"})
	ctx := context.Background()

	require.NoError(t, waitTask(t, view.Show(ctx, router.Resolution{Kind: router.KindMatched, Module: m}).Wait))
	require.NoError(t, waitTask(t, view.Show(ctx, r.Navigate("/missing")).Wait))

	require.Len(t, h.page.CallsTo("React.unmount"), 1)
	require.Equal(t, NotFoundMarkup, view.HTML())
}
