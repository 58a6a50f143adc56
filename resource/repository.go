package resource

import (
	"sync"

	"github.com/ruteri/resource-store/interfaces"
)

// MemoryRepository is a ResourceRepository kept in process memory.
// It is safe for concurrent use.
type MemoryRepository struct {
	mu        sync.RWMutex
	resources []*interfaces.Resource
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Add registers resource. Adding the same resource twice is a no-op.
func (m *MemoryRepository) Add(resource *interfaces.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.resources {
		if r.SameAs(resource) {
			return nil
		}
	}
	m.resources = append(m.resources, resource)
	return nil
}

// Remove unregisters resource. Removing an unknown resource is a no-op.
func (m *MemoryRepository) Remove(resource *interfaces.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.resources {
		if r.SameAs(resource) {
			m.resources = append(m.resources[:i], m.resources[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) FindAll() []*interfaces.Resource {
	return m.filter(func(*interfaces.Resource) bool { return true })
}

func (m *MemoryRepository) FindBySha1(sha1 interfaces.ContentHash) []*interfaces.Resource {
	return m.filter(func(r *interfaces.Resource) bool { return r.Sha1() == sha1 })
}

func (m *MemoryRepository) FindByCollectionName(name string) []*interfaces.Resource {
	return m.filter(func(r *interfaces.Resource) bool { return r.CollectionName() == name })
}

// FindSimilarResources returns resources with the same hash and filename as resource,
// including resource itself if it is registered.
func (m *MemoryRepository) FindSimilarResources(resource *interfaces.Resource) []*interfaces.Resource {
	return m.filter(func(r *interfaces.Resource) bool {
		return r.Sha1() == resource.Sha1() && r.Filename() == resource.Filename()
	})
}

func (m *MemoryRepository) filter(keep func(*interfaces.Resource) bool) []*interfaces.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*interfaces.Resource
	for _, r := range m.resources {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
