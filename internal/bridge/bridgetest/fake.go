// Package bridgetest provides an in-memory page for tests.
package bridgetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alucardeht/mfhost/internal/bridge"
)

type Call struct {
	Function string
	Args     []any
}

type Render struct {
	Slot string
	HTML string
}

// Page records every invocation and render it receives. Results and errors
// are looked up by function name.
type Page struct {
	mu      sync.Mutex
	calls   []Call
	renders []Render
	results map[string]json.RawMessage
	errs    map[string]error
	hooks   map[string]func(args []any)
}

var _ bridge.Invoker = (*Page)(nil)

func NewPage() *Page {
	return &Page{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
		hooks:   make(map[string]func(args []any)),
	}
}

func (p *Page) Invoke(ctx context.Context, function string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, Call{Function: function, Args: append([]any(nil), args...)})
	hook := p.hooks[function]
	err := p.errs[function]
	result := p.results[function]
	p.mu.Unlock()

	if hook != nil {
		hook(args)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	return result, nil
}

func (p *Page) Render(ctx context.Context, slot, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders = append(p.renders, Render{Slot: slot, HTML: html})
	return nil
}

// Fail makes every later call to function return err. A nil err clears it.
func (p *Page) Fail(function string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, function)
		return
	}
	p.errs[function] = err
}

func (p *Page) Respond(function string, result json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[function] = result
}

// OnInvoke runs hook synchronously inside every call to function, before the
// result is returned. Tests use it to block or observe ordering.
func (p *Page) OnInvoke(function string, hook func(args []any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[function] = hook
}

func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the argument lists of every call to function, in order.
func (p *Page) CallsTo(function string) [][]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]any
	for _, c := range p.calls {
		if c.Function == function {
			out = append(out, c.Args)
		}
	}
	return out
}

func (p *Page) Functions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Function
	}
	return out
}

func (p *Page) Renders() []Render {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Render(nil), p.renders...)
}

func (p *Page) LastRender() (Render, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.renders) == 0 {
		return Render{}, false
	}
	return p.renders[len(p.renders)-1], true
}

func (p *Page) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.renders = nil
}
