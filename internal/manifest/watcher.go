package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-syncs a Catalog whenever a manifest under its directory is
// created, written, renamed or removed.
type Watcher struct {
	catalog   *Catalog
	fsWatcher *fsnotify.Watcher
	fsMu      sync.Mutex
	debouncer *debouncer
	onSync    func(SyncResult, error)

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for catalog. onSync, when set, receives the
// result of every sync the watcher triggers.
func NewWatcher(catalog *Catalog, onSync func(SyncResult, error)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		catalog:   catalog,
		fsWatcher: fsWatcher,
		onSync:    onSync,
	}
	cfg := catalog.Config()
	w.debouncer = newDebouncer(cfg.DebounceWindow, cfg.MaxBatchSize, w.flush)
	return w, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	root := w.catalog.Config().Dir
	if err := w.watchTree(root); err != nil {
		return err
	}

	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.handleEvents()

	log.Info("watching manifests", "dir", root)
	return nil
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("failed to read directory", "path", path, "error", err)
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(path) {
			return filepath.SkipDir
		}

		w.fsMu.Lock()
		err = w.fsWatcher.Add(path)
		w.fsMu.Unlock()
		if err != nil {
			log.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignoredDir(path string) bool {
	rel, ok := w.relative(path)
	if !ok {
		return true
	}
	// a directory pattern such as "**/node_modules/**" matches its contents
	return ignored(w.catalog.Config().Ignore, rel) || ignored(w.catalog.Config().Ignore, rel+"/x")
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.catalog.Config().Dir, path)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) handleEvents() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignoredDir(event.Name) {
				_ = w.watchTree(event.Name)
				// files written before the directory was watched
				w.debouncer.add(event.Name)
			}
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, ok := w.relative(event.Name)
	if !ok {
		return
	}
	cfg := w.catalog.Config()
	if ignored(cfg.Ignore, rel) || !included(cfg.Include, rel) {
		return
	}

	log.Debug("manifest event", "path", rel, "op", event.Op.String())
	w.debouncer.add(rel)
}

func (w *Watcher) flush(paths []string) {
	sort.Strings(paths)
	log.Debug("manifests changed", "paths", paths)

	ctx := context.Background()
	w.mu.Lock()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	w.mu.Unlock()

	result, err := w.catalog.Sync(ctx)
	if w.onSync != nil {
		w.onSync(result, err)
	}
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.closeFS()
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.debouncer.stop()
	return w.closeFS()
}

func (w *Watcher) closeFS() error {
	w.fsMu.Lock()
	defer w.fsMu.Unlock()
	return w.fsWatcher.Close()
}
