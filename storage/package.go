package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// PackageStorage implements a read-only storage backend over the asset directories
// of installed packages. Objects are produced by walking the package trees and
// hashing every file on the fly, which makes queries expensive; it is meant for
// bundled static assets that are published once, not for hot paths.
type PackageStorage struct {
	name           string
	packageManager interfaces.PackageManager
	log            *slog.Logger
}

// NewPackageStorage creates a read-only storage over the packages of packageManager.
func NewPackageStorage(name string, packageManager interfaces.PackageManager, log *slog.Logger) *PackageStorage {
	if log == nil {
		log = slog.Default()
	}
	return &PackageStorage{
		name:           name,
		packageManager: packageManager,
		log:            log,
	}
}

// Name returns the configured storage name.
func (s *PackageStorage) Name() string {
	return s.name
}

// GetObjectsByCollectionName returns every object of every active package.
// Package storage has no notion of collections.
func (s *PackageStorage) GetObjectsByCollectionName(ctx context.Context, collectionName string) ([]*interfaces.StorageObject, error) {
	return s.GetObjectsByPathPattern(ctx, "*")
}

// GetObjectsByPathPattern walks package directories matching pattern.
// The pattern has the form "<packageKeyPattern>[/<directoryPattern>]", for example
// "Acme.*/Resources/Public". A missing directory pattern selects the whole package.
func (s *PackageStorage) GetObjectsByPathPattern(ctx context.Context, pattern string) ([]*interfaces.StorageObject, error) {
	start := time.Now()
	keyPattern, directoryPattern, found := strings.Cut(pattern, "/")
	if !found {
		directoryPattern = "*"
	}

	packages := s.packageManager.ActivePackages()
	keys := make([]string, 0, len(packages))
	for key := range packages {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var objects []*interfaces.StorageObject
	for _, key := range keys {
		matched, err := path.Match(keyPattern, key)
		if err != nil {
			return nil, fmt.Errorf("%w: bad package pattern %q: %v", interfaces.ErrInvalidArgument, pattern, err)
		}
		if !matched {
			continue
		}
		pkg := packages[key]

		var directories []string
		if directoryPattern == "*" {
			directories = []string{pkg.PackagePath()}
		} else {
			candidates, err := filepath.Glob(filepath.Join(pkg.PackagePath(), filepath.FromSlash(directoryPattern)))
			if err != nil {
				return nil, fmt.Errorf("%w: bad directory pattern %q: %v", interfaces.ErrInvalidArgument, pattern, err)
			}
			for _, c := range candidates {
				if info, err := os.Stat(c); err == nil && info.IsDir() {
					directories = append(directories, c)
				}
			}
		}

		for _, dir := range directories {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			walked, err := s.walkDirectory(pkg, dir)
			if err != nil {
				return nil, err
			}
			objects = append(objects, walked...)
		}
	}

	s.log.Debug("Collected package objects",
		slog.String("storage", s.name),
		slog.String("pattern", pattern),
		slog.Int("count", len(objects)),
		slog.Duration("duration", time.Since(start)))
	return objects, nil
}

// GetObjectsByPathAndFilename returns the single file "<packageKey>/<path inside package>".
func (s *PackageStorage) GetObjectsByPathAndFilename(ctx context.Context, pathAndFilename string) ([]*interfaces.StorageObject, error) {
	key, relativePath, found := strings.Cut(strings.TrimLeft(pathAndFilename, "/"), "/")
	if !found {
		return nil, nil
	}
	pkg, ok := s.packageManager.Package(key)
	if !ok {
		return nil, nil
	}

	filePath := filepath.Join(pkg.PackagePath(), filepath.FromSlash(relativePath))
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return nil, nil
	}

	object, err := s.objectFromFile(pkg, filePath)
	if err != nil {
		return nil, err
	}
	return []*interfaces.StorageObject{object}, nil
}

// GetPrivateURIByResource searches all packages for a file with the resource's hash.
func (s *PackageStorage) GetPrivateURIByResource(resource *interfaces.Resource) (string, bool) {
	objects, err := s.GetObjectsByPathPattern(context.Background(), "*")
	if err != nil {
		s.log.Warn("Failed to scan packages", slog.String("storage", s.name), "err", err)
		return "", false
	}
	for _, o := range objects {
		if o.Sha1 == resource.Sha1() {
			return o.DataURI, true
		}
	}
	return "", false
}

// GetPrivateURIByResourcePath resolves "<packageKey>/<path inside package>" to a local path.
func (s *PackageStorage) GetPrivateURIByResourcePath(relativePath string) (string, bool) {
	key, rest, found := strings.Cut(strings.TrimLeft(relativePath, "/"), "/")
	if !found {
		return "", false
	}
	pkg, ok := s.packageManager.Package(key)
	if !ok {
		return "", false
	}

	root := filepath.Clean(pkg.PackagePath())
	p := filepath.Join(root, filepath.FromSlash(rest))
	if rel, err := filepath.Rel(root, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (s *PackageStorage) walkDirectory(pkg interfaces.Package, dir string) ([]*interfaces.StorageObject, error) {
	var objects []*interfaces.StorageObject
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		object, err := s.objectFromFile(pkg, p)
		if err != nil {
			return err
		}
		objects = append(objects, object)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return objects, nil
}

func (s *PackageStorage) objectFromFile(pkg interfaces.Package, filePath string) (*interfaces.StorageObject, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sha1Hash := sha1.New()
	md5Hash := md5.New()
	size, err := io.Copy(io.MultiWriter(sha1Hash, md5Hash), f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	return &interfaces.StorageObject{
		Filename:                filename,
		MediaType:               interfaces.MediaTypeFromFilename(filename),
		FileSize:                size,
		RelativePublicationPath: packagePublicationPath(pkg, filepath.Dir(filePath)),
		Sha1:                    interfaces.ContentHash(hex.EncodeToString(sha1Hash.Sum(nil))),
		Md5:                     hex.EncodeToString(md5Hash.Sum(nil)),
		DataURI:                 filePath,
		Opener: func() (io.ReadCloser, error) {
			return os.Open(filePath)
		},
	}, nil
}

// packagePublicationPath maps a directory below the package's resources path to
// "<packageKey>/<directory without its first segment>/", so that
// Resources/Public/Images becomes "<packageKey>/Images/".
func packagePublicationPath(pkg interfaces.Package, dir string) string {
	rel, err := filepath.Rel(pkg.ResourcesPath(), dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return pkg.Key() + "/"
	}
	_, rest, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found || rest == "" {
		return pkg.Key() + "/"
	}
	return pkg.Key() + "/" + rest + "/"
}

// DirectoryPackage is a package rooted at a directory.
type DirectoryPackage struct {
	key  string
	root string
}

func (p *DirectoryPackage) Key() string {
	return p.key
}

func (p *DirectoryPackage) PackagePath() string {
	return p.root
}

// ResourcesPath returns "<package>/Resources".
func (p *DirectoryPackage) ResourcesPath() string {
	return filepath.Join(p.root, "Resources")
}

// DirectoryPackageManager treats every subdirectory of a root directory as an
// active package keyed by the subdirectory name. The root is re-read on each call.
type DirectoryPackageManager struct {
	root string
	log  *slog.Logger
}

// NewDirectoryPackageManager creates a package manager over root.
func NewDirectoryPackageManager(root string, log *slog.Logger) *DirectoryPackageManager {
	if log == nil {
		log = slog.Default()
	}
	return &DirectoryPackageManager{root: filepath.Clean(root), log: log}
}

// ActivePackages returns all packages found below the root.
func (m *DirectoryPackageManager) ActivePackages() map[string]interfaces.Package {
	packages := make(map[string]interfaces.Package)
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.log.Warn("Failed to read packages directory", slog.String("root", m.root), "err", err)
		return packages
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		packages[e.Name()] = &DirectoryPackage{key: e.Name(), root: filepath.Join(m.root, e.Name())}
	}
	return packages
}

// Package returns the package with the given key.
func (m *DirectoryPackageManager) Package(key string) (interfaces.Package, bool) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return nil, false
	}
	root := filepath.Join(m.root, key)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, false
	}
	return &DirectoryPackage{key: key, root: root}, true
}

// Writable returns b as a WritableStorageBackend, or ErrUnsupportedOperation
// if the backend only implements the read contract.
func Writable(b interfaces.StorageBackend) (interfaces.WritableStorageBackend, error) {
	w, ok := b.(interfaces.WritableStorageBackend)
	if !ok {
		return nil, fmt.Errorf("%w: storage %q is read-only", interfaces.ErrUnsupportedOperation, b.Name())
	}
	return w, nil
}
