package machine

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds the names of every controller built in this process.
// Names are never released.
type Registry struct {
	mu    sync.Mutex
	names []string
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register claims name, failing if it is already taken.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.names, name) {
		return &Error{
			Kind:    KindNameTaken,
			Rig:     name,
			Message: fmt.Sprintf("already registered (registered: %v)", r.names),
		}
	}
	r.names = append(r.names, name)
	return nil
}

func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.names, name)
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.names)
}
