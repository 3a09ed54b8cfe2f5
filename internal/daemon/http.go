package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/alucardeht/mfhost/internal/manifest"
	"github.com/alucardeht/mfhost/internal/shell"
	"github.com/alucardeht/mfhost/internal/store"
)

const (
	PathHealth = "/healthz"
	PathSync   = "/sync"
	PathBridge = "/bridge"
)

type SyncResponse struct {
	Result manifest.SyncResult `json:"result"`
	Error  string              `json:"error,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	shell.Snapshot
	Journal store.JournalStats `json:"journal"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the page is served from its own origin; the daemon only listens locally
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathHealth, d.handleHealth)
	mux.HandleFunc("POST "+PathSync, d.handleSync)
	mux.HandleFunc("GET "+PathBridge, d.handleBridge)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Snapshot: d.shell.Snapshot(),
		Journal:  d.journal.Stats(),
	})
}

func (d *Daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := d.Sync(r.Context())
	resp := SyncResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBridge upgrades to a websocket and runs a page session over it
// until either side hangs up.
func (d *Daemon) handleBridge(w http.ResponseWriter, r *http.Request) {
	if !d.acquireSlot() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer d.releaseSlot()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	d.conns.Add(1)
	defer d.conns.Done()

	log.Debug("page connected", "remote", r.RemoteAddr, "transport", "websocket")
	d.serve(wsstream.NewObjectStream(conn))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", "error", err)
	}
}
