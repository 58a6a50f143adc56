package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/metrics"
)

const tempDirName = ".tmp"

// FileSystemStorage implements a writable storage backend on the local file system.
// Content is stored under a sharded directory structure derived from its SHA-1 hash;
// metadata lives in a ResourceRepository.
type FileSystemStorage struct {
	name        string
	baseDir     string
	repository  interfaces.ResourceRepository
	client      *http.Client
	log         *slog.Logger
	locationURI string
}

// NewFileSystemStorage creates a new file storage backend rooted at baseDir.
// The directory is created if it doesn't exist.
func NewFileSystemStorage(name, baseDir string, repository interfaces.ResourceRepository, log *slog.Logger) (*FileSystemStorage, error) {
	if log == nil {
		log = slog.Default()
	}
	if repository == nil {
		return nil, fmt.Errorf("%w: file system storage %q needs a resource repository", interfaces.ErrInvalidArgument, name)
	}

	baseDir = filepath.Clean(baseDir)
	if err := os.MkdirAll(filepath.Join(baseDir, tempDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileSystemStorage{
		name:        name,
		baseDir:     baseDir,
		repository:  repository,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Name returns the configured storage name.
func (s *FileSystemStorage) Name() string {
	return s.name
}

// LocationURI returns the URI that identifies this storage backend.
func (s *FileSystemStorage) LocationURI() string {
	return s.locationURI
}

// ImportResource imports the content found at source, which may be a local path,
// a file:// URI or an http(s):// URL.
func (s *FileSystemStorage) ImportResource(ctx context.Context, source string, collectionName string) (*interfaces.Resource, error) {
	rc, filename, err := s.openSource(ctx, source)
	if err != nil {
		metrics.ResourceImports.WithLabelValues(s.name, "error").Inc()
		return nil, fmt.Errorf("%w: could not open %q: %v", interfaces.ErrImport, source, err)
	}
	defer rc.Close()

	return s.importStream(ctx, rc, filename, collectionName)
}

// ImportResourceFromContent stores content as a new resource without a filename.
func (s *FileSystemStorage) ImportResourceFromContent(ctx context.Context, content []byte, collectionName string) (*interfaces.Resource, error) {
	return s.importStream(ctx, bytes.NewReader(content), "", collectionName)
}

// ImportUploadedResource stores an uploaded file under its client-supplied name.
func (s *FileSystemStorage) ImportUploadedResource(ctx context.Context, upload interfaces.UploadedFile, collectionName string) (*interfaces.Resource, error) {
	if upload.Content == nil {
		metrics.ResourceImports.WithLabelValues(s.name, "error").Inc()
		return nil, fmt.Errorf("%w: upload %q has no content", interfaces.ErrImport, upload.Filename)
	}
	var filename string
	if upload.Filename != "" {
		filename = filepath.Base(upload.Filename)
	}
	return s.importStream(ctx, upload.Content, filename, collectionName)
}

// importStream hashes the payload while writing it to a temporary file and then
// moves it into its sharded location. Content already present is kept as is.
func (s *FileSystemStorage) importStream(ctx context.Context, r io.Reader, filename, collectionName string) (*interfaces.Resource, error) {
	start := time.Now()
	resource, err := s.writeStream(ctx, r, filename, collectionName)
	if err != nil {
		metrics.ResourceImports.WithLabelValues(s.name, "error").Inc()
		s.log.Error("Failed to import resource",
			slog.String("storage", s.name),
			slog.String("filename", filename),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, err
	}

	metrics.ResourceImports.WithLabelValues(s.name, "ok").Inc()
	s.log.Debug("Imported resource",
		slog.String("storage", s.name),
		slog.String("sha1", resource.Sha1().Short()),
		slog.String("filename", resource.Filename()),
		slog.Int64("size", resource.FileSize()),
		slog.Duration("duration", time.Since(start)))
	return resource, nil
}

func (s *FileSystemStorage) writeStream(ctx context.Context, r io.Reader, filename, collectionName string) (*interfaces.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrImport, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.baseDir, tempDirName), "import-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temporary file: %v", interfaces.ErrImport, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sha1Hash := sha1.New()
	md5Hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, sha1Hash, md5Hash), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to copy content: %w", interfaces.ErrImport, err)
	}

	sha1Hex := hex.EncodeToString(sha1Hash.Sum(nil))
	finalPath, err := s.pathByHash(sha1Hex)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(finalPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory: %v", interfaces.ErrImport, err)
		}
		if err := os.Chmod(tmpPath, 0644); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrImport, err)
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			return nil, fmt.Errorf("%w: failed to move content into place: %v", interfaces.ErrImport, err)
		}
	}

	resource := interfaces.NewResource()
	if err := resource.SetSha1(sha1Hex); err != nil {
		return nil, err
	}
	if err := resource.SetMd5(hex.EncodeToString(md5Hash.Sum(nil))); err != nil {
		return nil, err
	}
	if err := resource.SetFileSize(size); err != nil {
		return nil, err
	}
	if err := resource.SetFilename(filename); err != nil {
		return nil, err
	}
	if collectionName != "" {
		if err := resource.SetCollectionName(collectionName); err != nil {
			return nil, err
		}
	}
	return resource, nil
}

// openSource opens a local path, file:// URI or http(s):// URL and returns the
// stream together with the basename to use as filename.
func (s *FileSystemStorage) openSource(ctx context.Context, source string) (io.ReadCloser, string, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		return resp.Body, path.Base(resp.Request.URL.Path), nil

	case strings.HasPrefix(source, "file://"):
		u, err := url.Parse(source)
		if err != nil {
			return nil, "", err
		}
		p := u.Path
		if u.Host != "" {
			p = u.Host + "/" + strings.TrimPrefix(p, "/")
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, "", err
		}
		return f, filepath.Base(p), nil

	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, "", err
		}
		return f, filepath.Base(source), nil
	}
}

// DeleteResource removes the stored bytes of resource unless another resource
// in the repository still refers to the same hash.
func (s *FileSystemStorage) DeleteResource(ctx context.Context, resource *interfaces.Resource) (bool, error) {
	for _, other := range s.repository.FindBySha1(resource.Sha1()) {
		if !other.SameAs(resource) {
			s.log.Debug("Keeping shared content",
				slog.String("sha1", resource.Sha1().Short()),
				slog.String("filename", other.Filename()))
			return false, nil
		}
	}

	p, err := s.pathByHash(string(resource.Sha1()))
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete content: %w", err)
	}

	// Prune shard directories which became empty; stop at the first non-empty one.
	for dir := filepath.Dir(p); dir != s.baseDir && strings.HasPrefix(dir, s.baseDir); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}

	s.log.Debug("Deleted content", slog.String("sha1", resource.Sha1().Short()))
	return true, nil
}

// GetPrivateURIByResource returns the local path of the resource's bytes.
func (s *FileSystemStorage) GetPrivateURIByResource(resource *interfaces.Resource) (string, bool) {
	p, err := s.pathByHash(string(resource.Sha1()))
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// GetPrivateURIByResourcePath resolves a path relative to the storage root.
// Paths escaping the root are reported as not found.
func (s *FileSystemStorage) GetPrivateURIByResourcePath(relativePath string) (string, bool) {
	p := filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimLeft(relativePath, "/")))
	if rel, err := filepath.Rel(s.baseDir, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// GetObjectsByCollectionName returns objects for every resource of the collection.
func (s *FileSystemStorage) GetObjectsByCollectionName(ctx context.Context, collectionName string) ([]*interfaces.StorageObject, error) {
	resources := s.repository.FindByCollectionName(collectionName)
	objects := make([]*interfaces.StorageObject, 0, len(resources))
	for _, r := range resources {
		objects = append(objects, s.objectFromResource(r))
	}
	return objects, nil
}

// storedResources returns the repository resources whose bytes live in this
// storage. The repository is shared with other storages.
func (s *FileSystemStorage) storedResources() []*interfaces.Resource {
	var out []*interfaces.Resource
	for _, r := range s.repository.FindAll() {
		if _, ok := s.GetPrivateURIByResource(r); ok {
			out = append(out, r)
		}
	}
	return out
}

// GetObjectsByPathPattern matches pattern against "<relativePublicationPath><filename>"
// of every resource stored here.
func (s *FileSystemStorage) GetObjectsByPathPattern(ctx context.Context, pattern string) ([]*interfaces.StorageObject, error) {
	var objects []*interfaces.StorageObject
	for _, r := range s.storedResources() {
		matched, err := path.Match(pattern, r.RelativePublicationPath()+r.Filename())
		if err != nil {
			return nil, fmt.Errorf("%w: bad path pattern %q: %v", interfaces.ErrInvalidArgument, pattern, err)
		}
		if matched {
			objects = append(objects, s.objectFromResource(r))
		}
	}
	return objects, nil
}

// GetObjectsByPathAndFilename returns resources whose "<relativePublicationPath><filename>"
// equals pathAndFilename.
func (s *FileSystemStorage) GetObjectsByPathAndFilename(ctx context.Context, pathAndFilename string) ([]*interfaces.StorageObject, error) {
	want := strings.TrimLeft(pathAndFilename, "/")
	var objects []*interfaces.StorageObject
	for _, r := range s.storedResources() {
		if r.RelativePublicationPath()+r.Filename() == want {
			objects = append(objects, s.objectFromResource(r))
		}
	}
	return objects, nil
}

func (s *FileSystemStorage) objectFromResource(r *interfaces.Resource) *interfaces.StorageObject {
	dataPath, _ := s.pathByHash(string(r.Sha1()))
	return &interfaces.StorageObject{
		Filename:                r.Filename(),
		MediaType:               r.MediaType(),
		FileSize:                r.FileSize(),
		RelativePublicationPath: r.RelativePublicationPath(),
		Sha1:                    r.Sha1(),
		Md5:                     r.Md5(),
		DataURI:                 dataPath,
		Opener: func() (io.ReadCloser, error) {
			return os.Open(dataPath)
		},
	}
}

// pathByHash composes the storage root with the sharded path of hash.
func (s *FileSystemStorage) pathByHash(hash string) (string, error) {
	rel, err := ShardedPath(hash)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(rel)), nil
}
