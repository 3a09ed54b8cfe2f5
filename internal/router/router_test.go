package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/navigation"
	"github.com/alucardeht/mfhost/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	for _, desc := range []fragment.Descriptor{
		{ModuleID: "test", Name: "Test", Routes: []fragment.Route{{Path: "test-route", Title: "Test"}}},
		{ModuleID: "orders", Name: "Orders", Routes: []fragment.Route{
			{Path: "orders", Title: "Orders"},
			{Path: "orders/**", Title: "Order"},
		}},
		{ModuleID: "shadow", Name: "Shadow", Routes: []fragment.Route{{Path: "orders", Title: "Shadow"}}},
	} {
		require.NoError(t, reg.Register(fragment.NewNative(desc)))
	}
	return reg
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		base   string
		url    string
		want   string
		inBase bool
	}{
		{"/app/", "/app/orders", "orders", true},
		{"/app/", "/app/orders?page=2#top", "orders", true},
		{"/app/", "/app", "", true},
		{"/app/", "/app/", "", true},
		{"/app/", "/app/orders/", "orders/", true},
		{"/app/", "https://example.com/app/orders", "orders", true},
		{"https://example.com/app/", "https://example.com/app/cart#x", "cart", true},
		{"https://example.com/app/", "/app/cart", "cart", true},
		{"/", "/Orders", "Orders", true},
		{"", "/orders", "orders", true},
		{"/app", "/app/orders", "orders", true},
		{"/app", "/app", "", true},
		{"/app/", "/elsewhere", "", false},
		{"/app/", "/application/x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.base+" "+tt.url, func(t *testing.T) {
			r := New(registry.NewRegistry(), Options{BaseURL: tt.base})
			got, inBase := r.RelativePath(tt.url)
			require.Equal(t, tt.inBase, inBase)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	r := New(testRegistry(t), Options{BaseURL: "/"})

	require.Equal(t, KindEmpty, r.Resolve("/").Kind)
	require.Equal(t, KindNotFound, r.Resolve("/unknown").Kind)

	res := r.Resolve("/test-route")
	require.Equal(t, KindMatched, res.Kind)
	require.Equal(t, "test", res.ModuleID())
	require.Equal(t, "Test", res.Route.Title)

	// first registered module wins a shared path
	require.Equal(t, "orders", r.Resolve("/orders").ModuleID())

	// exact mode ignores the glob route
	require.Equal(t, KindNotFound, r.Resolve("/orders/42").Kind)
	require.Equal(t, KindNotFound, r.Resolve("/TEST-ROUTE").Kind)
	require.Equal(t, KindNotFound, r.Resolve("/test-route/").Kind)
	require.Equal(t, "test", r.Resolve("/test-route?x=1").ModuleID())
}

func TestOutsideBaseIsNotFound(t *testing.T) {
	r := New(testRegistry(t), Options{BaseURL: "/app"})
	require.Equal(t, "/app/", r.Options().BaseURL)

	require.Equal(t, "test", r.Resolve("/app/test-route").ModuleID())
	require.Equal(t, KindEmpty, r.Resolve("/app").Kind)
	require.Equal(t, KindNotFound, r.Resolve("/test-route").Kind)
	require.Equal(t, KindNotFound, r.Resolve("/application/test-route").Kind)
}

func TestModes(t *testing.T) {
	reg := testRegistry(t)

	prefix := New(reg, Options{BaseURL: "/", Mode: ModePrefix})
	require.Equal(t, "test", prefix.Resolve("/test-route/more").ModuleID())

	glob := New(reg, Options{BaseURL: "/", Mode: ModeGlob})
	res := glob.Resolve("/orders/42/items")
	require.Equal(t, "orders", res.ModuleID())
	require.Equal(t, "orders/**", res.Route.Path)

	_, err := ParseMode("fuzzy")
	require.Error(t, err)
	mode, err := ParseMode(" Glob ")
	require.NoError(t, err)
	require.Equal(t, ModeGlob, mode)
}

func TestEmptyRouteNeverMatches(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := Mode(rapid.IntRange(0, 2).Draw(rt, "mode"))
		path := rapid.StringMatching(`[a-z/]{0,12}`).Draw(rt, "path")
		if mode.Match("", path) {
			rt.Fatalf("empty route matched %q in %s mode", path, mode)
		}
		if path != "" && !mode.Match(path, path) && mode != ModeGlob {
			rt.Fatalf("%q did not match itself in %s mode", path, mode)
		}
	})
}

func TestResolveDoesNotMoveCurrent(t *testing.T) {
	r := New(testRegistry(t), Options{BaseURL: "/"})
	r.Navigate("/test-route")
	r.Resolve("/orders")
	require.Equal(t, "test", r.Current().ModuleID())
}

func TestStartFollowsNavigation(t *testing.T) {
	r := New(testRegistry(t), Options{BaseURL: "/"})
	broker := navigation.NewBroker("/test-route")
	defer broker.Close()

	var (
		mu   sync.Mutex
		seen []string
	)
	r.Start(context.Background(), broker, "/test-route", func(res Resolution) {
		mu.Lock()
		seen = append(seen, res.Path)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	broker.Navigate("/orders", false)
	require.Eventually(t, func() bool {
		return r.Current().ModuleID() == "orders"
	}, time.Second, 5*time.Millisecond)

	r.Close()
	r.Close()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"test-route", "orders"}, seen)
}

func TestBuildTableKeepsOrder(t *testing.T) {
	table := BuildTable(testRegistry(t).List())
	require.Len(t, table, 4)
	require.Equal(t, Entry{Path: "orders", Title: "Shadow", ModuleID: "shadow"}, table[3])

	entry, ok := Lookup(table, ModeExact, "orders")
	require.True(t, ok)
	require.Equal(t, "orders", entry.ModuleID)
}
