package shutdown

import (
	"sort"
	"sync"
)

// KillFunc terminates a whole process group.
type KillFunc func(pgid int) error

// Registry tracks the process groups of running scanner steps so that a
// shutdown can kill them without waiting on the workers that own them.
type Registry struct {
	mu     sync.Mutex
	groups map[int]string
	closed bool
	kill   KillFunc
}

// NewRegistry creates a registry that kills groups with kill.
func NewRegistry(kill KillFunc) *Registry {
	return &Registry{groups: make(map[int]string), kill: kill}
}

// Track registers a running group. It returns false once KillAll has run;
// the caller then owns killing the group.
func (r *Registry) Track(pgid int, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.groups[pgid] = label
	return true
}

// Untrack forgets a group whose step has finished.
func (r *Registry) Untrack(pgid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, pgid)
}

// Active returns the labels of tracked groups, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.groups))
	for _, l := range r.groups {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// KillAll closes the registry to new groups and kills every tracked one.
// It returns the number of groups signalled and the first kill error.
func (r *Registry) KillAll() (int, error) {
	r.mu.Lock()
	r.closed = true
	pgids := make([]int, 0, len(r.groups))
	for pgid := range r.groups {
		pgids = append(pgids, pgid)
	}
	r.mu.Unlock()

	var firstErr error
	for _, pgid := range pgids {
		if err := r.kill(pgid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(pgids), firstErr
}
