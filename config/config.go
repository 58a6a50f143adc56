package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InstallRootPlaceholder is replaced by the install root in every location URI.
const InstallRootPlaceholder = "${INSTALL_ROOT}"

// Names of the storage, target and collection created when the settings
// declare no collections at all.
const (
	DefaultCollection = "persistent"
	DefaultStorage    = "defaultPersistentResourcesStorage"
	DefaultTarget     = "localWebDirectoryPersistentResourcesTarget"

	// ObjectsCache holds the object lists served over HTTP.
	ObjectsCache = "collections"

	DefaultRepositoryPath = "Data/Persistent/Resources.db"
)

// Settings is the top-level configuration of a resource store.
type Settings struct {
	// Context names the application context, e.g. "Production". It is part
	// of every cache prefix so that contexts sharing a cache database do not
	// see each other's entries.
	Context string `yaml:"context"`

	// InstallRoot is the application directory. Defaults to the working directory.
	InstallRoot string `yaml:"install_root"`

	// Storages maps storage names to location URIs (file://, package://).
	Storages map[string]string `yaml:"storages"`

	// Targets maps target names to location URIs (file://, s3://, ipfs://).
	Targets map[string]string `yaml:"targets"`

	// Collections maps collection names to their storage and targets.
	Collections map[string]CollectionSettings `yaml:"collections"`

	Repository RepositorySettings `yaml:"repository"`

	Cache CacheSettings `yaml:"cache"`
}

// RepositorySettings selects where resource metadata is kept.
type RepositorySettings struct {
	// Store is "sqlite" (default) or "memory". A memory repository forgets
	// every import when the process exits.
	Store string `yaml:"store"`

	// Path is the SQLite database file, relative paths are resolved against
	// the install root.
	Path string `yaml:"path"`

	PoolSize int `yaml:"pool_size"`
}

// CollectionSettings binds a collection to one storage and one or more targets.
type CollectionSettings struct {
	Storage string `yaml:"storage"`

	// Target accepts a single name or a list. Several targets are published
	// to together.
	Target TargetNames `yaml:"target"`

	PathPatterns []string `yaml:"path_patterns"`
	Files        []string `yaml:"files"`
}

// TargetNames is a list of target names that may be written as a scalar.
type TargetNames []string

// UnmarshalYAML accepts both "target: web" and "target: [web, cdn]".
func (t *TargetNames) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = TargetNames{value.Value}
		return nil
	}
	var names []string
	if err := value.Decode(&names); err != nil {
		return err
	}
	*t = names
	return nil
}

// CacheSettings selects the cache substrate and declares the caches.
type CacheSettings struct {
	// Store is "memory" (default) or "sqlite".
	Store string `yaml:"store"`

	// Path is the SQLite database file, relative paths are resolved against
	// the install root.
	Path string `yaml:"path"`

	PoolSize int `yaml:"pool_size"`

	Caches map[string]CacheEntrySettings `yaml:"caches"`
}

// CacheEntrySettings configures one named cache.
type CacheEntrySettings struct {
	// DefaultLifetime applies to entries set without an explicit lifetime.
	// Zero means unlimited.
	DefaultLifetime Duration `yaml:"default_lifetime"`

	Kind string `yaml:"kind"`
}

// Duration is a time.Duration read from YAML either as a Go duration string
// ("90s", "1h") or as a number of seconds.
type Duration time.Duration

// UnmarshalYAML parses duration strings and integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadSettings reads settings from a YAML file and applies defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings parses YAML settings and applies defaults.
func ParseSettings(data []byte) (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settings.applyDefaults(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Settings) applyDefaults() error {
	if s.Context == "" {
		s.Context = "Development"
	}
	if s.InstallRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine install root: %w", err)
		}
		s.InstallRoot = wd
	}
	s.InstallRoot = filepath.Clean(s.InstallRoot)

	if s.Storages == nil {
		s.Storages = map[string]string{}
	}
	if s.Targets == nil {
		s.Targets = map[string]string{}
	}
	if len(s.Collections) == 0 {
		if _, ok := s.Storages[DefaultStorage]; !ok {
			s.Storages[DefaultStorage] = "file://" + InstallRootPlaceholder + "/Data/Persistent/Resources/"
		}
		if _, ok := s.Targets[DefaultTarget]; !ok {
			s.Targets[DefaultTarget] = "file://" + InstallRootPlaceholder + "/Web/_Resources/Persistent/?baseUri=/_Resources/Persistent"
		}
		s.Collections = map[string]CollectionSettings{
			DefaultCollection: {Storage: DefaultStorage, Target: TargetNames{DefaultTarget}},
		}
	}

	if s.Repository.Store == "" {
		s.Repository.Store = "sqlite"
	}
	if s.Repository.Store == "sqlite" && s.Repository.Path == "" {
		s.Repository.Path = DefaultRepositoryPath
	}

	if s.Cache.Store == "" {
		s.Cache.Store = "memory"
	}
	if s.Cache.Caches == nil {
		s.Cache.Caches = map[string]CacheEntrySettings{}
	}
	if _, ok := s.Cache.Caches[ObjectsCache]; !ok {
		s.Cache.Caches[ObjectsCache] = CacheEntrySettings{DefaultLifetime: Duration(time.Hour)}
	}
	return nil
}

// Validate checks that every collection refers to declared storages and
// targets and that the cache settings are usable.
func (s *Settings) Validate() error {
	for _, name := range sortedKeys(s.Collections) {
		collection := s.Collections[name]
		if collection.Storage == "" {
			return fmt.Errorf("collection %q: storage is required", name)
		}
		if _, ok := s.Storages[collection.Storage]; !ok {
			return fmt.Errorf("collection %q: unknown storage %q", name, collection.Storage)
		}
		if len(collection.Target) == 0 {
			return fmt.Errorf("collection %q: target is required", name)
		}
		for _, target := range collection.Target {
			if _, ok := s.Targets[target]; !ok {
				return fmt.Errorf("collection %q: unknown target %q", name, target)
			}
		}
	}

	switch s.Repository.Store {
	case "memory":
	case "sqlite":
		if s.Repository.Path == "" {
			return fmt.Errorf("repository: path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("repository: unknown store %q (supported: sqlite, memory)", s.Repository.Store)
	}

	switch s.Cache.Store {
	case "memory":
	case "sqlite":
		if s.Cache.Path == "" {
			return fmt.Errorf("cache: path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("cache: unknown store %q (supported: memory, sqlite)", s.Cache.Store)
	}
	for name, c := range s.Cache.Caches {
		if c.DefaultLifetime < 0 {
			return fmt.Errorf("cache %q: default_lifetime must not be negative", name)
		}
	}
	return nil
}

// ExpandURI substitutes the install root placeholder in a location URI.
func (s *Settings) ExpandURI(uri string) string {
	return strings.ReplaceAll(uri, InstallRootPlaceholder, s.InstallRoot)
}

// CachePath returns the SQLite database path resolved against the install root.
func (s *Settings) CachePath() string {
	return s.resolve(s.Cache.Path)
}

// RepositoryPath returns the repository database path resolved against the install root.
func (s *Settings) RepositoryPath() string {
	return s.resolve(s.Repository.Path)
}

func (s *Settings) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.InstallRoot, p)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
