// Package fragment defines the capability interface every composed UI
// fragment implements, the two concrete variants the host knows about, and
// the error taxonomy shared by the registry, lifecycle and mount paths.
package fragment

import "context"

type Route struct {
	Path  string `json:"path" yaml:"path"`
	Title string `json:"title" yaml:"title"`
}

// Module is a fragment as seen by the host. Whether it has been initialized
// is tracked by the lifecycle manager, not by the module itself.
type Module interface {
	ID() string
	Name() string
	Version() string
	Technology() string
	Routes() []Route

	// ConfigureServices is called once per module before its first
	// initialization.
	ConfigureServices(c *Container)

	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Renderer is implemented by modules whose content is produced by the host.
type Renderer interface {
	Render() string
}

// Descriptor is the identity shared by every variant.
type Descriptor struct {
	ModuleID   string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Version    string  `json:"version" yaml:"version"`
	Technology string  `json:"technology" yaml:"technology"`
	Routes     []Route `json:"routes" yaml:"routes"`
}

func (d Descriptor) routes() []Route {
	routes := make([]Route, len(d.Routes))
	copy(routes, d.Routes)
	return routes
}
