package fragment

import (
	"sort"
	"sync"
)

// Container is the shared service container fragments register into from
// ConfigureServices. The host never inspects its contents.
type Container struct {
	mu       sync.RWMutex
	services map[string]any
}

func NewContainer() *Container {
	return &Container{services: make(map[string]any)}
}

// Provide registers value under name, replacing any earlier registration.
func (c *Container) Provide(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = value
}

func (c *Container) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.services[name]
	return v, ok
}

func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up name and asserts it to T.
func Resolve[T any](c *Container, name string) (T, bool) {
	var zero T
	v, ok := c.Lookup(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
