package syncgroup

import (
	"fmt"
	"sync"
)

// Registry is the explicit group registry, mirroring the session
// manager: collaborators address groups by id, no package-global state.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Group)}
}

// Create validates the config and registers a new group
func (r *Registry) Create(cfg GroupConfig) (*Group, error) {
	g, err := NewGroup(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: group %q already exists", ErrGroupConfigInvalid, cfg.ID)
	}
	r.groups[cfg.ID] = g
	return g, nil
}

func (r *Registry) Get(id string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return g, nil
}

// List returns the status of every registered group
func (r *Registry) List() []GroupStatus {
	r.mu.RLock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	statuses := make([]GroupStatus, 0, len(groups))
	for _, g := range groups {
		statuses = append(statuses, g.Status())
	}
	return statuses
}

// Remove stops a group and drops it from the registry
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	g, ok := r.groups[id]
	if ok {
		delete(r.groups, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.Stop()
	return nil
}

// StopAll stops every registered group; used at shutdown
func (r *Registry) StopAll() {
	r.mu.RLock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	for _, g := range groups {
		g.Stop()
	}
}
