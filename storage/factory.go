package storage

import (
	"fmt"
	"log/slog"

	"github.com/ruteri/resource-store/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log        *slog.Logger
	repository interfaces.ResourceRepository
}

// NewStorageBackendFactory creates a new factory instance. The repository is
// handed to every writable backend it creates.
func NewStorageBackendFactory(logger *slog.Logger, repository interfaces.ResourceRepository) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{
		log:        logger,
		repository: repository,
	}
}

// StorageBackendFor creates a named storage backend from a location URI.
//
// Supported schemes:
//   - file:// - writable FileSystemStorage, e.g. file:///var/lib/resources/persistent/
//   - package:// - read-only PackageStorage over a packages directory, e.g. package:///srv/app/Packages/
//
// Returns an error if the scheme is not a storage scheme.
func (sf *StorageBackendFactory) StorageBackendFor(name string, location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch location.Scheme {
	case "file":
		return sf.createFileBackend(name, location)
	case "package":
		return sf.createPackageBackend(name, location)
	default:
		return nil, fmt.Errorf("%w: scheme %q cannot be used for storage", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// createFileBackend creates a writable file system storage.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(name string, location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file storage", slog.String("name", name), slog.String("uri", location.String()))

	path := location.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}
	return NewFileSystemStorage(name, path, sf.repository, sf.log)
}

// createPackageBackend creates a read-only package storage.
// URI format: package:///path/to/Packages/
func (sf *StorageBackendFactory) createPackageBackend(name string, location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating package storage", slog.String("name", name), slog.String("uri", location.String()))

	path := location.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in package URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}
	return NewPackageStorage(name, NewDirectoryPackageManager(path, sf.log), sf.log), nil
}
