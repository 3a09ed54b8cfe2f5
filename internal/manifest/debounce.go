package manifest

import (
	"sync"
	"time"
)

// debouncer collects changed paths and flushes them once no new change has
// arrived for window, or as soon as maxBatch distinct paths are pending.
type debouncer struct {
	window   time.Duration
	maxBatch int
	onFlush  func(paths []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, maxBatch int, onFlush func([]string)) *debouncer {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &debouncer{
		window:   window,
		maxBatch: maxBatch,
		onFlush:  onFlush,
		pending:  make(map[string]struct{}),
	}
}

func (d *debouncer) add(path string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.pending[path] = struct{}{}
	if len(d.pending) >= d.maxBatch {
		d.flushLocked()
		return
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.flushLocked()
	})
	d.mu.Unlock()
}

// flushLocked must be called with mu held; it releases it.
func (d *debouncer) flushLocked() {
	paths := make([]string, 0, len(d.pending))
	for path := range d.pending {
		paths = append(paths, path)
	}
	d.pending = make(map[string]struct{})

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if len(paths) > 0 && d.onFlush != nil {
		d.onFlush(paths)
	}
}

// stop flushes what is pending and ignores later changes.
func (d *debouncer) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.flushLocked()
}
