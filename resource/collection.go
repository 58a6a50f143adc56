package resource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ruteri/resource-store/interfaces"
)

// Collection binds a storage backend and a publication target under a name,
// optionally narrowed by path patterns and explicit files.
type Collection struct {
	name         string
	storage      interfaces.StorageBackend
	target       interfaces.Target
	pathPatterns []string
	files        []string
	repository   interfaces.ResourceRepository
	log          *slog.Logger
}

// CollectionOption configures optional collection settings.
type CollectionOption func(*Collection)

// WithPathPatterns restricts GetObjects to objects matching the patterns.
func WithPathPatterns(patterns ...string) CollectionOption {
	return func(c *Collection) {
		c.pathPatterns = append(c.pathPatterns, patterns...)
	}
}

// WithFiles restricts GetObjects to the listed "<path>/<filename>" entries.
func WithFiles(files ...string) CollectionOption {
	return func(c *Collection) {
		c.files = append(c.files, files...)
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(log *slog.Logger) CollectionOption {
	return func(c *Collection) {
		c.log = log
	}
}

// NewCollection creates a collection. Imported resources are registered with repository.
func NewCollection(name string, storage interfaces.StorageBackend, target interfaces.Target, repository interfaces.ResourceRepository, opts ...CollectionOption) *Collection {
	c := &Collection{
		name:       name,
		storage:    storage,
		target:     target,
		repository: repository,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Storage() interfaces.StorageBackend {
	return c.storage
}

func (c *Collection) Target() interfaces.Target {
	return c.target
}

func (c *Collection) PathPatterns() []string {
	return c.pathPatterns
}

func (c *Collection) Files() []string {
	return c.files
}

func (c *Collection) writableStorage() (interfaces.WritableStorageBackend, error) {
	w, ok := c.storage.(interfaces.WritableStorageBackend)
	if !ok {
		return nil, fmt.Errorf("%w: could not import resource into collection %q because its storage %q is read-only",
			interfaces.ErrReadOnlyStorage, c.name, c.storage.Name())
	}
	return w, nil
}

// ImportResource imports the content at source and registers the new resource.
func (c *Collection) ImportResource(ctx context.Context, source string) (*interfaces.Resource, error) {
	w, err := c.writableStorage()
	if err != nil {
		return nil, err
	}
	resource, err := w.ImportResource(ctx, source, c.name)
	if err != nil {
		return nil, err
	}
	return c.register(resource)
}

// ImportResourceFromContent imports content and registers the new resource.
func (c *Collection) ImportResourceFromContent(ctx context.Context, content []byte) (*interfaces.Resource, error) {
	w, err := c.writableStorage()
	if err != nil {
		return nil, err
	}
	resource, err := w.ImportResourceFromContent(ctx, content, c.name)
	if err != nil {
		return nil, err
	}
	return c.register(resource)
}

// ImportUploadedResource imports an upload and registers the new resource.
func (c *Collection) ImportUploadedResource(ctx context.Context, upload interfaces.UploadedFile) (*interfaces.Resource, error) {
	w, err := c.writableStorage()
	if err != nil {
		return nil, err
	}
	resource, err := w.ImportUploadedResource(ctx, upload, c.name)
	if err != nil {
		return nil, err
	}
	return c.register(resource)
}

func (c *Collection) register(resource *interfaces.Resource) (*interfaces.Resource, error) {
	if err := c.repository.Add(resource); err != nil {
		return nil, fmt.Errorf("failed to register resource %s: %w", resource.Sha1(), err)
	}
	c.log.Debug("Registered resource",
		slog.String("collection", c.name),
		slog.String("sha1", resource.Sha1().Short()),
		slog.String("filename", resource.Filename()))
	return resource, nil
}

// Publish hands the whole collection to its target.
func (c *Collection) Publish(ctx context.Context) error {
	return c.target.PublishCollection(ctx, c)
}

// GetObjects returns the storage's full object set for this collection when no
// filters are configured. Otherwise it returns pattern matches followed by
// explicit file matches; overlapping results are not deduplicated.
func (c *Collection) GetObjects(ctx context.Context) ([]*interfaces.StorageObject, error) {
	if len(c.pathPatterns) == 0 && len(c.files) == 0 {
		return c.storage.GetObjectsByCollectionName(ctx, c.name)
	}

	var objects []*interfaces.StorageObject
	for _, pattern := range c.pathPatterns {
		found, err := c.storage.GetObjectsByPathPattern(ctx, pattern)
		if err != nil {
			return nil, err
		}
		objects = append(objects, found...)
	}
	for _, pathAndFilename := range c.files {
		found, err := c.storage.GetObjectsByPathAndFilename(ctx, pathAndFilename)
		if err != nil {
			return nil, err
		}
		objects = append(objects, found...)
	}
	return objects, nil
}

// OpenResource opens the stored bytes of resource.
func (c *Collection) OpenResource(ctx context.Context, resource *interfaces.Resource) (io.ReadCloser, error) {
	uri, ok := c.storage.GetPrivateURIByResource(resource)
	if !ok {
		return nil, fmt.Errorf("%w: %s in collection %q", interfaces.ErrContentNotFound, resource.Sha1(), c.name)
	}
	return os.Open(uri)
}
