package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
)

var log = logger.ForComponent("registry")

// Registry is the catalog of registered fragments. It is the single owner of
// the moduleId → module mapping and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]fragment.Module
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]fragment.Module),
	}
}

func (r *Registry) Register(module fragment.Module) error {
	if isNil(module) {
		return fmt.Errorf("%w: module is nil", fragment.ErrInvalidModule)
	}

	id := module.ID()
	if id == "" {
		return fmt.Errorf("%w: module id cannot be empty", fragment.ErrInvalidModule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[id]; exists {
		return fmt.Errorf("%w: %s", fragment.ErrDuplicateModule, id)
	}

	r.modules[id] = module
	r.order = append(r.order, id)
	log.Debug("registered module", "module", id, "technology", module.Technology())
	return nil
}

// Unregister removes the module with the given id. Removing an id that is not
// registered is not an error; the result reports whether anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[id]; !exists {
		return false
	}

	delete(r.modules, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	log.Debug("unregistered module", "module", id)
	return true
}

func (r *Registry) Get(id string) (fragment.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[id]
	return module, ok
}

// List returns a snapshot of all modules in registration order.
func (r *Registry) List() []fragment.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]fragment.Module, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.modules[id])
	}
	return result
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// isNil also catches a nil pointer stored in the interface.
func isNil(module fragment.Module) bool {
	if module == nil {
		return true
	}
	v := reflect.ValueOf(module)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
