package extjob

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry is the set of installed jobs, keyed by unique name.
// It is frozen by the first Workflow built from it.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register installs def. It fails with ErrDuplicateName if the name is taken.
// Registering into a frozen registry panics.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("extjob: Register called on a frozen registry")
	}
	if err := def.validate(); err != nil {
		return err
	}
	if _, ok := r.defs[def.Name]; ok {
		return NewConfigError("", def.Name, ErrDuplicateName)
	}
	r.defs[def.Name] = def.clone()
	log.WithFields(log.Fields{
		"job":        def.Name,
		"executable": def.Executable,
	}).Debug("Installed job")
	return nil
}

// Lookup returns a copy of the named definition.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, NewConfigError("", name, ErrNotFound)
	}
	return def.clone(), nil
}

// Names lists the installed jobs, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}
