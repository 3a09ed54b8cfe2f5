package fragment

import (
	"context"
	"fmt"
	"html"
)

const TechnologyNative = "native"

// Native is a fragment rendered by the host itself.
type Native struct {
	desc Descriptor

	// Hooks are optional.
	OnInitialize func(ctx context.Context) error
	OnCleanup    func(ctx context.Context) error
	OnServices   func(c *Container)
	Content      func() string
}

func NewNative(desc Descriptor) *Native {
	if desc.Technology == "" {
		desc.Technology = TechnologyNative
	}
	return &Native{desc: desc}
}

func (n *Native) ID() string         { return n.desc.ModuleID }
func (n *Native) Name() string       { return n.desc.Name }
func (n *Native) Version() string    { return n.desc.Version }
func (n *Native) Technology() string { return n.desc.Technology }
func (n *Native) Routes() []Route    { return n.desc.routes() }

func (n *Native) Descriptor() Descriptor {
	d := n.desc
	d.Routes = n.desc.routes()
	return d
}

func (n *Native) ConfigureServices(c *Container) {
	if n.OnServices != nil {
		n.OnServices(c)
	}
}

func (n *Native) Initialize(ctx context.Context) error {
	if n.OnInitialize == nil {
		return nil
	}
	return n.OnInitialize(ctx)
}

func (n *Native) Cleanup(ctx context.Context) error {
	if n.OnCleanup == nil {
		return nil
	}
	return n.OnCleanup(ctx)
}

func (n *Native) Render() string {
	if n.Content != nil {
		return n.Content()
	}
	return DefaultContent(n)
}

// DefaultContent is the markup shown for a module that renders nothing of its own.
func DefaultContent(m Module) string {
	return fmt.Sprintf(`<div class="microfrontend-content">Module %s (%s)</div>`,
		html.EscapeString(m.Name()), html.EscapeString(m.Technology()))
}
