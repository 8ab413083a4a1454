package jobscheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rbaliyan/jobscheduler/keys"
)

// Registry maps handler names to handler functions.
//
// One Registry is shared by the Scheduler (which refuses to schedule for
// unknown handlers) and the Listener (which dispatches to them). There is
// no package-level registry. Registrations live for the life of the
// process; there is no removal.
//
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds fn to name, replacing any previous binding.
//
// Returns ErrInvalidHandlerName if name cannot be encoded into a key (see
// keys.ValidateHandler) and ErrNilHandler if fn is nil. Nothing is
// registered on error.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if err := keys.ValidateHandler(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return nil
}

// Lookup returns the handler registered under name, or ErrHandlerNotFound.
func (r *Registry) Lookup(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
