package interfaces

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ContentHash is the lowercase hex SHA-1 digest of a payload.
type ContentHash string

// NewContentHashFromHex validates a 40-character hex string and normalizes it to lowercase.
func NewContentHashFromHex(source string) (ContentHash, error) {
	if len(source) != 40 {
		return "", fmt.Errorf("%w: content hash must be 40 hex characters, got %d", ErrInvalidArgument, len(source))
	}
	if _, err := hex.DecodeString(source); err != nil {
		return "", fmt.Errorf("%w: invalid hex format: %v", ErrInvalidArgument, err)
	}
	return ContentHash(strings.ToLower(source)), nil
}

// String returns the hex representation.
func (h ContentHash) String() string {
	return string(h)
}

// Short returns the first 8 characters, used in log lines.
func (h ContentHash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// StorageBackendLocation represents URI for a storage backend or a publication target.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "package", "s3", "ipfs":
		// Valid scheme
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// LocalPath joins host and path for file-like schemes, so that both
// file:///abs/dir and file://./rel/dir resolve to a usable directory.
func (loc StorageBackendLocation) LocalPath() string {
	if loc.Host == "" {
		return loc.Path
	}
	return loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// StorageObject is a transient, read-only view of a stored payload.
// DataURI is interpreted only by the backend which produced the object.
type StorageObject struct {
	Filename                string
	MediaType               string
	FileSize                int64
	RelativePublicationPath string
	Sha1                    ContentHash
	Md5                     string
	DataURI                 string

	// Opener streams the payload; set by the producing backend.
	Opener func() (io.ReadCloser, error)
}

// Open returns a stream of the object's payload.
func (o *StorageObject) Open() (io.ReadCloser, error) {
	if o.Opener == nil {
		return nil, fmt.Errorf("%w: object %s has no data stream", ErrContentNotFound, o.Filename)
	}
	return o.Opener()
}

// UploadedFile describes a file received from a client, for example a multipart form field.
type UploadedFile struct {
	Filename string
	Content  io.Reader
}

// StorageBackend is the read contract every storage implements.
type StorageBackend interface {
	// Name returns identifier for logging and configuration.
	Name() string

	// GetObjectsByCollectionName returns every object stored for the collection.
	GetObjectsByCollectionName(ctx context.Context, collectionName string) ([]*StorageObject, error)

	// GetObjectsByPathPattern returns objects whose path matches the glob-like pattern.
	GetObjectsByPathPattern(ctx context.Context, pattern string) ([]*StorageObject, error)

	// GetObjectsByPathAndFilename returns objects stored under exactly this path.
	GetObjectsByPathAndFilename(ctx context.Context, pathAndFilename string) ([]*StorageObject, error)

	// GetPrivateURIByResource resolves a resource to an internal locator.
	// The boolean is false when the underlying bytes are absent.
	GetPrivateURIByResource(resource *Resource) (string, bool)

	// GetPrivateURIByResourcePath resolves a relative path to an internal locator.
	GetPrivateURIByResourcePath(relativePath string) (string, bool)
}

// WritableStorageBackend is a StorageBackend which can import new content.
type WritableStorageBackend interface {
	StorageBackend

	// ImportResource reads a local path, file:// or http(s):// locator and stores its bytes.
	ImportResource(ctx context.Context, source string, collectionName string) (*Resource, error)

	// ImportResourceFromContent stores the given bytes.
	ImportResourceFromContent(ctx context.Context, content []byte, collectionName string) (*Resource, error)

	// ImportUploadedResource stores a client-supplied upload.
	ImportUploadedResource(ctx context.Context, upload UploadedFile, collectionName string) (*Resource, error)

	// DeleteResource removes stored bytes unless other resources still reference them.
	// Returns true if bytes were removed.
	DeleteResource(ctx context.Context, resource *Resource) (bool, error)
}

// CollectionInterface is the view of a collection a Target works with.
type CollectionInterface interface {
	Name() string
	Storage() StorageBackend
	GetObjects(ctx context.Context) ([]*StorageObject, error)
	OpenResource(ctx context.Context, resource *Resource) (io.ReadCloser, error)
}

// Target publishes resources to a delivery location.
type Target interface {
	// Name returns identifier for logging and configuration.
	Name() string

	// PublishCollection publishes every object of the collection.
	PublishCollection(ctx context.Context, collection CollectionInterface) error

	// PublishResource publishes a single resource of the collection.
	PublishResource(ctx context.Context, resource *Resource, collection CollectionInterface) error

	// UnpublishResource removes a previously published resource.
	UnpublishResource(ctx context.Context, resource *Resource) error

	// PublicResourceURI returns the public locator of a published resource.
	PublicResourceURI(resource *Resource) string
}

// ResourceRepository persists resource metadata.
type ResourceRepository interface {
	Add(resource *Resource) error
	Remove(resource *Resource) error
	FindAll() []*Resource
	FindBySha1(sha1 ContentHash) []*Resource
	FindByCollectionName(name string) []*Resource

	// FindSimilarResources returns resources sharing both hash and filename.
	FindSimilarResources(resource *Resource) []*Resource
}

// Package is an installed package carrying bundled assets.
type Package interface {
	Key() string
	PackagePath() string
	ResourcesPath() string
}

// PackageManager provides the set of installed packages.
type PackageManager interface {
	ActivePackages() map[string]Package
	Package(key string) (Package, bool)
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidLocationURI is returned when a location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrInvalidArgument is returned for malformed hashes, identifiers and similar input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReadOnlyStorage is returned when importing into a collection whose storage is read-only.
	ErrReadOnlyStorage = errors.New("storage is read-only")

	// ErrUnsupportedOperation is returned when a backend lacks the requested capability.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrImport is returned when a source cannot be read or the destination cannot be written.
	ErrImport = errors.New("import failed")

	// ErrProtectedEntity is returned when a protected resource is modified.
	ErrProtectedEntity = errors.New("resource is protected")

	// ErrNoBackingStore is returned when a cache is used before a substrate is attached.
	ErrNoBackingStore = errors.New("no backing store configured")

	// ErrInvalidPayload is returned when cache data is not a byte string.
	ErrInvalidPayload = errors.New("invalid cache payload")
)
