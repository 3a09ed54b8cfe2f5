package host

import (
	"context"
	"sync"

	"github.com/alucardeht/mfhost/internal/async"
	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/router"
)

// View renders a router resolution: nothing for an empty path, the not-found
// indicator for an unmatched one, and a Slot bound to the matched module
// otherwise.
type View struct {
	slot     *Slot
	onRender func(markup string)

	mu   sync.Mutex
	kind router.ResolutionKind

	renderMu sync.Mutex
	rendered string
	emitted  bool
}

func NewView(lc *lifecycle.Manager, invoker bridge.Invoker, opts Options) *View {
	v := &View{
		onRender: opts.OnRender,
		kind:     router.KindEmpty,
	}
	opts.OnRender = func(string) { v.emit() }
	v.slot = NewSlot(lc, invoker, opts)
	return v
}

func (v *View) Slot() *Slot { return v.slot }

func (v *View) Kind() router.ResolutionKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind
}

// Show renders res. Leaving a matched module releases its binding before
// the new markup is produced.
func (v *View) Show(ctx context.Context, res router.Resolution) *async.Task {
	if res.Kind != router.KindMatched {
		if err := v.slot.Close(ctx); err != nil {
			log.Warn("release failed", "slot", v.slot.ID(), "error", err)
		}
		v.setKind(res.Kind)
		v.emit()
		return async.Resolved(nil)
	}

	v.setKind(res.Kind)
	task := v.slot.Bind(ctx, res.ModuleID())
	v.emit()
	return task
}

func (v *View) setKind(kind router.ResolutionKind) {
	v.mu.Lock()
	v.kind = kind
	v.mu.Unlock()
}

func (v *View) HTML() string {
	switch v.Kind() {
	case router.KindMatched:
		return v.slot.HTML()
	case router.KindNotFound:
		return NotFoundMarkup
	default:
		return ""
	}
}

func (v *View) emit() {
	v.renderMu.Lock()
	defer v.renderMu.Unlock()

	markup := v.HTML()
	if v.emitted && markup == v.rendered {
		return
	}
	v.rendered = markup
	v.emitted = true
	if v.onRender != nil {
		v.onRender(markup)
	}
}

// Close releases whatever the view is showing.
func (v *View) Close(ctx context.Context) error {
	return v.slot.Close(ctx)
}
