package fragment

import "context"

const (
	DefaultMountFunction   = "mount"
	DefaultUnmountFunction = "unmount"
)

// AssetLoader injects script and stylesheet URLs into the page.
type AssetLoader interface {
	EnsureScript(ctx context.Context, url string) error
	EnsureStylesheet(ctx context.Context, url string) error
}

type JSOptions struct {
	ScriptURL       string `json:"script_url" yaml:"script_url"`
	CSSURL          string `json:"css_url,omitempty" yaml:"css_url"`
	ElementID       string `json:"element_id" yaml:"element_id"`
	MountFunction   string `json:"mount_function,omitempty" yaml:"mount_function"`
	UnmountFunction string `json:"unmount_function,omitempty" yaml:"unmount_function"`
	// Namespace overrides the global object the mount functions live on.
	// Empty means the technology name.
	Namespace string `json:"namespace,omitempty" yaml:"namespace"`
}

// JS is a fragment built with a JavaScript framework. Its bundle exposes a
// mount/unmount function pair on a global namespace object.
type JS struct {
	desc   Descriptor
	opts   JSOptions
	assets AssetLoader

	OnServices func(c *Container)
}

func NewJS(desc Descriptor, opts JSOptions, assets AssetLoader) *JS {
	if opts.MountFunction == "" {
		opts.MountFunction = DefaultMountFunction
	}
	if opts.UnmountFunction == "" {
		opts.UnmountFunction = DefaultUnmountFunction
	}
	return &JS{desc: desc, opts: opts, assets: assets}
}

func (j *JS) ID() string         { return j.desc.ModuleID }
func (j *JS) Name() string       { return j.desc.Name }
func (j *JS) Version() string    { return j.desc.Version }
func (j *JS) Technology() string { return j.desc.Technology }
func (j *JS) Routes() []Route    { return j.desc.routes() }

func (j *JS) ScriptURL() string       { return j.opts.ScriptURL }
func (j *JS) CSSURL() string          { return j.opts.CSSURL }
func (j *JS) ElementID() string       { return j.opts.ElementID }
func (j *JS) MountFunction() string   { return j.opts.MountFunction }
func (j *JS) UnmountFunction() string { return j.opts.UnmountFunction }

func (j *JS) Namespace() string {
	if j.opts.Namespace != "" {
		return j.opts.Namespace
	}
	return j.desc.Technology
}

func (j *JS) Descriptor() Descriptor {
	d := j.desc
	d.Routes = j.desc.routes()
	return d
}

func (j *JS) Options() JSOptions { return j.opts }

func (j *JS) ConfigureServices(c *Container) {
	if j.OnServices != nil {
		j.OnServices(c)
	}
}

// Initialize loads the bundle and, when present, its stylesheet.
func (j *JS) Initialize(ctx context.Context) error {
	if j.assets == nil {
		return ErrNoAssetLoader
	}
	if err := j.assets.EnsureScript(ctx, j.opts.ScriptURL); err != nil {
		return err
	}
	if j.opts.CSSURL != "" {
		if err := j.assets.EnsureStylesheet(ctx, j.opts.CSSURL); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup has nothing to release: injected assets stay in the document for
// the lifetime of the host.
func (j *JS) Cleanup(ctx context.Context) error {
	return nil
}
