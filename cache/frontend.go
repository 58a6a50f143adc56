package cache

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_%\-&]{1,250}$`)

// IsValidEntryIdentifier reports whether identifier may be used as a cache key.
func IsValidEntryIdentifier(identifier string) bool {
	return identifierPattern.MatchString(identifier)
}

// IsValidTag reports whether tag may be used as a cache tag.
func IsValidTag(tag string) bool {
	return identifierPattern.MatchString(tag)
}

// StringFrontend is the application-facing cache API. It validates identifiers
// and tags and accepts string or []byte payloads.
type StringFrontend struct {
	backend *Backend
}

// NewStringFrontend wraps backend.
func NewStringFrontend(backend *Backend) *StringFrontend {
	return &StringFrontend{backend: backend}
}

// Identifier returns the cache name.
func (f *StringFrontend) Identifier() string {
	return f.backend.Name()
}

// Backend returns the wrapped backend.
func (f *StringFrontend) Backend() *Backend {
	return f.backend
}

// Set stores payload, which must be a string or a []byte. Pass DefaultLifetime to
// use the backend default and 0 for entries that never expire.
func (f *StringFrontend) Set(identifier string, payload any, tags []string, lifetime time.Duration) error {
	if !IsValidEntryIdentifier(identifier) {
		return fmt.Errorf("%w: invalid cache entry identifier %q", interfaces.ErrInvalidArgument, identifier)
	}
	for _, tag := range tags {
		if !IsValidTag(tag) {
			return fmt.Errorf("%w: invalid cache tag %q", interfaces.ErrInvalidArgument, tag)
		}
	}

	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		return fmt.Errorf("%w: payload is of type %T but a string is expected", interfaces.ErrInvalidPayload, payload)
	}
	return f.backend.Set(identifier, data, tags, lifetime)
}

// Get returns the payload stored under identifier as a string.
func (f *StringFrontend) Get(identifier string) (string, bool, error) {
	if !IsValidEntryIdentifier(identifier) {
		return "", false, fmt.Errorf("%w: invalid cache entry identifier %q", interfaces.ErrInvalidArgument, identifier)
	}
	data, ok := f.backend.Get(identifier)
	if !ok {
		return "", false, nil
	}
	return string(data), true, nil
}

// Has reports whether identifier is cached.
func (f *StringFrontend) Has(identifier string) (bool, error) {
	if !IsValidEntryIdentifier(identifier) {
		return false, fmt.Errorf("%w: invalid cache entry identifier %q", interfaces.ErrInvalidArgument, identifier)
	}
	return f.backend.Has(identifier), nil
}

// Remove deletes identifier and reports whether an entry was deleted.
func (f *StringFrontend) Remove(identifier string) (bool, error) {
	if !IsValidEntryIdentifier(identifier) {
		return false, fmt.Errorf("%w: invalid cache entry identifier %q", interfaces.ErrInvalidArgument, identifier)
	}
	return f.backend.Remove(identifier), nil
}

// GetByTag returns all cached payloads carrying tag, keyed by identifier.
func (f *StringFrontend) GetByTag(tag string) (map[string]string, error) {
	if !IsValidTag(tag) {
		return nil, fmt.Errorf("%w: invalid cache tag %q", interfaces.ErrInvalidArgument, tag)
	}
	entries := make(map[string]string)
	for _, identifier := range f.backend.FindIdentifiersByTag(tag) {
		if data, ok := f.backend.Get(identifier); ok {
			entries[identifier] = string(data)
		}
	}
	return entries, nil
}

// FlushByTag removes all entries carrying tag and returns how many were removed.
func (f *StringFrontend) FlushByTag(tag string) (int, error) {
	if !IsValidTag(tag) {
		return 0, fmt.Errorf("%w: invalid cache tag %q", interfaces.ErrInvalidArgument, tag)
	}
	return f.backend.FlushByTag(tag), nil
}

// Flush removes all entries of this cache.
func (f *StringFrontend) Flush() error {
	return f.backend.Flush()
}

// CollectGarbage purges expired entries where the substrate needs it.
func (f *StringFrontend) CollectGarbage() {
	f.backend.CollectGarbage()
}
