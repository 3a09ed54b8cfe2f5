package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/config"
)

const manifestYAML = `
modules:
  - id: home
    name: Home
    routes: [{path: home, title: Home}]
  - id: orders
    name: Orders
    routes: [{path: orders, title: Orders}]
`

type renders struct {
	mu   sync.Mutex
	html []string
}

func (r *renders) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method == bridge.MethodRender && req.Params != nil {
		r.mu.Lock()
		r.html = append(r.html, string(*req.Params))
		r.mu.Unlock()
	}
	if !req.Notif {
		go conn.Reply(ctx, req.ID, nil)
	}
}

func (r *renders) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.html {
		if strings.Contains(h, s) {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "mfhost")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	fragments := filepath.Join(dir, "fragments")
	require.NoError(t, os.MkdirAll(fragments, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(fragments, "app.yaml"), []byte(manifestYAML), 0644))

	cfg := config.Default()
	cfg.Daemon.SocketPath = filepath.Join(dir, "d.sock")
	cfg.Daemon.PIDFile = filepath.Join(dir, "d.pid")
	cfg.Daemon.HTTPAddr = "127.0.0.1:0"
	cfg.Store.Path = filepath.Join(dir, "mfhost.db")
	cfg.Manifest.Dir = fragments
	cfg.Manifest.Watch = false
	cfg.Router.BaseURL = "/"
	cfg.Bridge.RequestTimeout = 2 * time.Second
	return cfg
}

func startDaemon(t *testing.T, cfg config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	})
	return d
}

func TestDaemonServesSocketPages(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	require.Equal(t, []string{"home", "orders"}, d.Registry().IDs())

	conn, err := DialSocket(context.Background(), d.cfg.Daemon.SocketPath)
	require.NoError(t, err)

	page := &renders{}
	rpc := jsonrpc2.NewConn(context.Background(), bridge.NewStream(conn, bridge.CodecPlain), page)
	defer rpc.Close()

	var hello bridge.HelloResult
	require.NoError(t, rpc.Call(context.Background(), bridge.MethodHello, bridge.HelloParams{URL: "/orders"}, &hello))
	require.NotEmpty(t, hello.SessionID)

	require.Eventually(t, func() bool {
		return page.contains("Module Orders")
	}, 3*time.Second, 20*time.Millisecond)

	health, err := NewClient(d.HTTPAddr()).Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
	require.Len(t, health.Modules, 2)
	require.Len(t, health.Sessions, 1)
	require.Equal(t, hello.SessionID, health.Sessions[0].ID)
}

func TestDaemonServesWebsocketPages(t *testing.T) {
	d := startDaemon(t, testConfig(t))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+d.HTTPAddr()+PathBridge, nil)
	require.NoError(t, err)

	page := &renders{}
	rpc := jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), page)
	defer rpc.Close()

	var hello bridge.HelloResult
	require.NoError(t, rpc.Call(context.Background(), bridge.MethodHello, bridge.HelloParams{URL: "/home"}, &hello))

	require.Eventually(t, func() bool {
		return page.contains("Module Home")
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, d.Shell().SessionCount())

	require.NoError(t, rpc.Close())
	require.Eventually(t, func() bool {
		return d.Shell().SessionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDaemonSyncAppliesFlags(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, d.store.SetEnabled(ctx, "orders", false))

	resp, err := NewClient(d.HTTPAddr()).Sync(ctx)
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Equal(t, []string{"orders"}, resp.Result.Removed)
	require.Equal(t, []string{"home"}, d.Registry().IDs())
}

func TestSlotOptionsEscapesErrorTemplate(t *testing.T) {
	opts := SlotOptions(config.SlotConfig{
		CSSClass:      "wide",
		ErrorTemplate: `<p class="oops">%s</p>`,
	})
	require.Equal(t, "wide", opts.CSSClass)
	require.Equal(t, `<p class="oops">a &lt;b&gt;</p>`, opts.Templates.Error("a <b>"))

	require.Nil(t, SlotOptions(config.SlotConfig{}).Templates.Error)
}

func TestInstanceIsExclusive(t *testing.T) {
	dir := t.TempDir()
	pid := filepath.Join(dir, "d.pid")
	sock := filepath.Join(dir, "d.sock")

	first := NewInstance(pid, sock)
	require.NoError(t, first.Acquire())

	running, ok := first.Running()
	require.True(t, ok)
	require.Equal(t, os.Getpid(), running)

	second := NewInstance(pid, sock)
	require.ErrorIs(t, second.Acquire(), ErrLockHeld)

	require.NoError(t, first.Release())
	_, ok = first.Running()
	require.False(t, ok)

	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0600))

	_, err := NewPIDFile(path).Read()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0600))
	pid, err := NewPIDFile(path).Read()
	require.NoError(t, err)
	require.Zero(t, pid)
}
