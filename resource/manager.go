package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/resource-store/interfaces"
)

// Manager owns the configured collections and drives the resource lifecycle.
// Publishing after a commit and cleanup before a delete are explicit calls
// (CommitResource, DeleteResource); nothing happens implicitly on persistence.
type Manager struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	repository  interfaces.ResourceRepository
	log         *slog.Logger
}

// NewManager creates a manager without collections.
func NewManager(repository interfaces.ResourceRepository, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		collections: make(map[string]*Collection),
		repository:  repository,
		log:         log,
	}
}

// Repository returns the repository shared by all collections.
func (m *Manager) Repository() interfaces.ResourceRepository {
	return m.repository
}

// AddCollection registers c. Collection names are unique.
func (m *Manager) AddCollection(c *Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.collections[c.Name()]; exists {
		return fmt.Errorf("%w: collection %q is already registered", interfaces.ErrInvalidArgument, c.Name())
	}
	m.collections[c.Name()] = c
	return nil
}

// Collection returns the collection with the given name.
func (m *Manager) Collection(name string) (*Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	return c, ok
}

// Collections returns all collections ordered by name.
func (m *Manager) Collections() []*Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (m *Manager) mustCollection(name string) (*Collection, error) {
	c, ok := m.Collection(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", interfaces.ErrInvalidArgument, name)
	}
	return c, nil
}

// ImportResource imports source into the named collection.
func (m *Manager) ImportResource(ctx context.Context, source, collectionName string) (*interfaces.Resource, error) {
	c, err := m.mustCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return c.ImportResource(ctx, source)
}

// ImportResourceFromContent imports content into the named collection.
func (m *Manager) ImportResourceFromContent(ctx context.Context, content []byte, collectionName string) (*interfaces.Resource, error) {
	c, err := m.mustCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return c.ImportResourceFromContent(ctx, content)
}

// ImportUploadedResource imports an upload into the named collection.
func (m *Manager) ImportUploadedResource(ctx context.Context, upload interfaces.UploadedFile, collectionName string) (*interfaces.Resource, error) {
	c, err := m.mustCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return c.ImportUploadedResource(ctx, upload)
}

// CommitResource is called once the resource has been persisted. It protects
// the resource against further modification and publishes it through the
// target of its collection.
func (m *Manager) CommitResource(ctx context.Context, resource *interfaces.Resource) error {
	c, err := m.mustCollection(resource.CollectionName())
	if err != nil {
		return err
	}

	resource.Protect()
	if err := m.repository.Add(resource); err != nil {
		return fmt.Errorf("failed to store resource %s: %w", resource.Sha1(), err)
	}
	if err := c.Target().PublishResource(ctx, resource, c); err != nil {
		return fmt.Errorf("failed to publish resource %s to %q: %w", resource.Sha1(), c.Target().Name(), err)
	}

	m.log.Info("Committed resource",
		slog.String("collection", c.Name()),
		slog.String("sha1", resource.Sha1().Short()),
		slog.String("filename", resource.Filename()))
	return nil
}

// DeleteResource unpublishes resource, removes it from the repository and deletes
// its stored bytes unless other resources still refer to them.
func (m *Manager) DeleteResource(ctx context.Context, resource *interfaces.Resource) error {
	c, err := m.mustCollection(resource.CollectionName())
	if err != nil {
		return err
	}

	if err := c.Target().UnpublishResource(ctx, resource); err != nil {
		return fmt.Errorf("failed to unpublish resource %s: %w", resource.Sha1(), err)
	}
	if err := m.repository.Remove(resource); err != nil {
		return fmt.Errorf("failed to unregister resource %s: %w", resource.Sha1(), err)
	}

	deleted := false
	if w, ok := c.Storage().(interfaces.WritableStorageBackend); ok {
		deleted, err = w.DeleteResource(ctx, resource)
		if err != nil {
			return err
		}
	}

	m.log.Info("Deleted resource",
		slog.String("collection", c.Name()),
		slog.String("sha1", resource.Sha1().Short()),
		slog.Bool("contentDeleted", deleted))
	return nil
}

// PublishCollections publishes every collection and returns the joined errors.
func (m *Manager) PublishCollections(ctx context.Context) error {
	var errs []error
	for _, c := range m.Collections() {
		if err := c.Publish(ctx); err != nil {
			m.log.Error("Failed to publish collection", slog.String("collection", c.Name()), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		m.log.Info("Published collection", slog.String("collection", c.Name()))
	}
	return errors.Join(errs...)
}

// GetResourceBySha1 returns the first registered resource with the given hash.
func (m *Manager) GetResourceBySha1(sha1 interfaces.ContentHash) (*interfaces.Resource, bool) {
	found := m.repository.FindBySha1(sha1)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// OpenResource opens the stored bytes of resource through its collection.
func (m *Manager) OpenResource(ctx context.Context, resource *interfaces.Resource) (io.ReadCloser, error) {
	c, err := m.mustCollection(resource.CollectionName())
	if err != nil {
		return nil, err
	}
	return c.OpenResource(ctx, resource)
}
