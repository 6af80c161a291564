package server

import (
	"sort"
	"sync"
)

// Registry is the server's set of destinations.
//
// Implementations must be safe for concurrent use.
type Registry interface {
	// GetOrCreate returns the destination called name, creating it if needed.
	// created reports a new destination; d is nil if the name is rejected.
	GetOrCreate(name string) (d Destination, created bool)

	// Get returns an existing destination.
	Get(name string) (Destination, bool)

	// Destinations returns every destination.
	Destinations() []Destination

	// Release is called after subscriptions were removed from d; the registry
	// may drop it and reports whether it did.
	Release(d Destination) bool
}

// MemoryRegistry is a Registry that creates destinations with Factory and drops
// a destination when its last subscription leaves.
type MemoryRegistry struct {
	// Factory creates destinations; nil is DefaultFactory(nil).
	Factory DestinationFactory

	mu           sync.Mutex
	destinations map[string]Destination
}

// NewRegistry returns a MemoryRegistry using factory.
func NewRegistry(factory DestinationFactory) *MemoryRegistry {
	return &MemoryRegistry{
		Factory:      factory,
		destinations: map[string]Destination{},
	}
}

// Len returns the number of existing destinations.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.destinations)
}

// GetOrCreate implements Registry.
func (m *MemoryRegistry) GetOrCreate(name string) (Destination, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destinations == nil {
		m.destinations = map[string]Destination{}
	}
	if d, ok := m.destinations[name]; ok {
		return d, false
	}
	factory := m.Factory
	if factory == nil {
		factory = DefaultFactory(nil)
	}
	d := factory(name)
	if d == nil {
		return nil, false
	}
	m.destinations[name] = d
	return d, true
}

// Get implements Registry.
func (m *MemoryRegistry) Get(name string) (Destination, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[name]
	return d, ok
}

// Destinations implements Registry; the result is sorted by name.
func (m *MemoryRegistry) Destinations() []Destination {
	m.mu.Lock()
	out := make([]Destination, 0, len(m.destinations))
	for _, d := range m.destinations {
		out = append(out, d)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Release implements Registry.
func (m *MemoryRegistry) Release(d Destination) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.destinations[d.Name()]; !ok || current != d || d.Len() != 0 {
		return false
	}
	delete(m.destinations, d.Name())
	return true
}
