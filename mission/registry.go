package mission

import (
	"sort"
	"sync"
)

// Registry keeps the missions served by one process.
type Registry struct {
	mu       sync.RWMutex
	missions map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{missions: make(map[string]*State)}
}

// Create starts a new mission and registers it.
func (r *Registry) Create() *State {
	m := New()
	r.Put(m)
	return m
}

// Put registers m, replacing any mission with the same id.
func (r *Registry) Put(m *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missions[m.ID()] = m
}

func (r *Registry) Get(id string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.missions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.missions, id)
}

// List returns the status of every mission, oldest first.
func (r *Registry) List() []Status {
	r.mu.RLock()
	missions := make([]*State, 0, len(r.missions))
	for _, m := range r.missions {
		missions = append(missions, m)
	}
	r.mu.RUnlock()

	sort.Slice(missions, func(i, j int) bool {
		if missions[i].CreatedAt().Equal(missions[j].CreatedAt()) {
			return missions[i].ID() < missions[j].ID()
		}
		return missions[i].CreatedAt().Before(missions[j].CreatedAt())
	})

	out := make([]Status, len(missions))
	for i, m := range missions {
		out[i] = m.Status()
	}
	return out
}
