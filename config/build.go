package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/resource-store/cache"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/resource"
	"github.com/ruteri/resource-store/storage"
	"github.com/ruteri/resource-store/target"
)

// Runtime is the object graph built from Settings.
type Runtime struct {
	Manager  *resource.Manager
	Storages map[string]interfaces.StorageBackend
	Targets  map[string]interfaces.Target

	caches     map[string]*cache.StringFrontend
	store      interfaces.KVStore
	repository interfaces.ResourceRepository
	log        *slog.Logger
}

// Cache returns the named cache.
func (rt *Runtime) Cache(name string) (*cache.StringFrontend, bool) {
	c, ok := rt.caches[name]
	return c, ok
}

// Caches returns the names of all configured caches, sorted.
func (rt *Runtime) Caches() []string {
	return sortedKeys(rt.caches)
}

// Close releases the repository database and the cache substrate.
func (rt *Runtime) Close() error {
	var errs []error
	for _, c := range []any{rt.repository, rt.store} {
		if closer, ok := c.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// Build validates settings and creates storages, targets, collections and
// caches. All collections share one resource repository.
func Build(settings *Settings, log *slog.Logger) (*Runtime, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	repository, err := openRepository(settings, log)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Manager:    resource.NewManager(repository, log),
		Storages:   make(map[string]interfaces.StorageBackend),
		Targets:    make(map[string]interfaces.Target),
		caches:     make(map[string]*cache.StringFrontend),
		repository: repository,
		log:        log,
	}
	if err := rt.build(settings); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	return rt, nil
}

func openRepository(settings *Settings, log *slog.Logger) (interfaces.ResourceRepository, error) {
	if settings.Repository.Store == "memory" {
		return resource.NewMemoryRepository(), nil
	}
	path := settings.RepositoryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	repository, err := resource.OpenSQLiteRepository(path, settings.Repository.PoolSize, log)
	if err != nil {
		return nil, err
	}
	return repository, nil
}

func (rt *Runtime) build(settings *Settings) error {
	log := rt.log
	repository := rt.repository

	storageFactory := storage.NewStorageBackendFactory(log, repository)
	for _, name := range sortedKeys(settings.Storages) {
		location, err := interfaces.NewStorageBackendLocation(settings.ExpandURI(settings.Storages[name]))
		if err != nil {
			return fmt.Errorf("storage %q: %w", name, err)
		}
		backend, err := storageFactory.StorageBackendFor(name, location)
		if err != nil {
			return fmt.Errorf("storage %q: %w", name, err)
		}
		rt.Storages[name] = backend
	}

	targetFactory := target.NewTargetFactory(log, repository)
	for _, name := range sortedKeys(settings.Targets) {
		location, err := interfaces.NewStorageBackendLocation(settings.ExpandURI(settings.Targets[name]))
		if err != nil {
			return fmt.Errorf("target %q: %w", name, err)
		}
		t, err := targetFactory.TargetFor(name, location)
		if err != nil {
			return fmt.Errorf("target %q: %w", name, err)
		}
		rt.Targets[name] = t
	}

	for _, name := range sortedKeys(settings.Collections) {
		cs := settings.Collections[name]
		var t interfaces.Target
		if len(cs.Target) == 1 {
			t = rt.Targets[cs.Target[0]]
		} else {
			targets := make([]interfaces.Target, 0, len(cs.Target))
			for _, targetName := range cs.Target {
				targets = append(targets, rt.Targets[targetName])
			}
			t = target.NewMultiTarget(targets, log)
		}

		collection := resource.NewCollection(name, rt.Storages[cs.Storage], t, repository,
			resource.WithPathPatterns(cs.PathPatterns...),
			resource.WithFiles(cs.Files...),
			resource.WithLogger(log))
		if err := rt.Manager.AddCollection(collection); err != nil {
			return err
		}
	}

	if err := rt.buildCaches(settings); err != nil {
		return err
	}

	log.Info("Resource store configured",
		slog.String("context", settings.Context),
		slog.Int("storages", len(rt.Storages)),
		slog.Int("targets", len(rt.Targets)),
		slog.Int("collections", len(settings.Collections)),
		slog.Int("caches", len(rt.caches)))
	return nil
}

func (rt *Runtime) buildCaches(settings *Settings) error {
	switch settings.Cache.Store {
	case "sqlite":
		path := settings.CachePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		store, err := cache.OpenSQLiteStore(path, settings.Cache.PoolSize, rt.log)
		if err != nil {
			return err
		}
		rt.store = store
	default:
		rt.store = cache.NewMemoryStore()
	}

	for _, name := range sortedKeys(settings.Cache.Caches) {
		cs := settings.Cache.Caches[name]
		opts := []cache.BackendOption{
			cache.WithDefaultLifetime(time.Duration(cs.DefaultLifetime)),
			cache.WithLogger(rt.log),
		}
		if cs.Kind != "" {
			opts = append(opts, cache.WithKind(cs.Kind))
		}
		prefix := cache.Prefix(settings.InstallRoot, settings.Context, name)
		rt.caches[name] = cache.NewStringFrontend(cache.NewBackend(name, prefix, rt.store, opts...))
	}
	return nil
}
