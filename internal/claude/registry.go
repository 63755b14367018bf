package claude

import "sync"

// Registry tracks every live process so shutdown can terminate them
// all. Keyed by process id.
type Registry struct {
	mu    sync.Mutex
	procs map[string]Process
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Process)}
}

// Add registers a live process
func (r *Registry) Add(p Process) {
	r.mu.Lock()
	r.procs[p.ID()] = p
	r.mu.Unlock()
}

// Remove deregisters a process. Returns false if it was already
// removed, letting cleanup paths run exactly once.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[id]; !ok {
		return false
	}
	delete(r.procs, id)
	return true
}

// Count returns the number of tracked processes
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// KillAll force-stops every tracked process. Used on shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	procs := make([]Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.procs = make(map[string]Process)
	r.mu.Unlock()

	for _, p := range procs {
		p.Kill()
	}
}
