package cache

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/metrics"
)

const (
	// DefaultKind is the backend kind used in sentinel tags.
	DefaultKind = "KVBE"

	// DefaultLifetime selects the backend's configured default lifetime.
	DefaultLifetime time.Duration = -1

	entryInfix = "entry_"
	tagInfix   = "tag_"
	identInfix = "ident_"
)

// Backend is a tag-indexed cache over a key-value substrate.
//
// For every entry it keeps a forward index (tag -> identifiers) and a reverse
// index (identifier -> tags) in the substrate, so all entries carrying a tag
// can be removed without scanning the whole store. Substrate keys are
//
//	<prefix>entry_<identifier>
//	<prefix>tag_<tag>
//	<prefix>ident_<identifier>
//
// Every entry is also tagged with the sentinel "%<kind>%<cache name>", which
// lets Flush remove exactly this cache's entries when the substrate is shared.
//
// Writing an entry and updating its indexes are separate substrate operations.
// Concurrent writers can leave a forward list naming a dead identifier; such
// stale members are dropped when the owning entry is removed or its tag flushed.
type Backend struct {
	name            string
	kind            string
	prefix          string
	store           interfaces.KVStore
	defaultLifetime time.Duration
	log             *slog.Logger
}

// BackendOption configures optional backend settings.
type BackendOption func(*Backend)

// WithKind overrides the kind used in the sentinel tag.
func WithKind(kind string) BackendOption {
	return func(b *Backend) {
		b.kind = kind
	}
}

// WithDefaultLifetime sets the lifetime used when DefaultLifetime is passed to Set.
// Zero means entries never expire.
func WithDefaultLifetime(d time.Duration) BackendOption {
	return func(b *Backend) {
		b.defaultLifetime = d
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(log *slog.Logger) BackendOption {
	return func(b *Backend) {
		b.log = log
	}
}

// NewBackend creates the cache called name. The prefix namespaces all keys in
// store; see Prefix. A nil store yields a backend whose writes fail with
// ErrNoBackingStore.
func NewBackend(name, prefix string, store interfaces.KVStore, opts ...BackendOption) *Backend {
	b := &Backend{
		name:   name,
		kind:   DefaultKind,
		prefix: prefix,
		store:  store,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the cache name.
func (b *Backend) Name() string {
	return b.name
}

// Prefix returns the substrate key prefix.
func (b *Backend) Prefix() string {
	return b.prefix
}

// DefaultLifetime returns the configured default lifetime.
func (b *Backend) DefaultLifetime() time.Duration {
	return b.defaultLifetime
}

// SentinelTag returns the tag implicitly attached to every entry of this cache.
func (b *Backend) SentinelTag() string {
	return "%" + b.kind + "%" + b.name
}

// PrefixedIdentifier returns the substrate key of the entry identifier.
func (b *Backend) PrefixedIdentifier(identifier string) string {
	return b.prefix + entryInfix + identifier
}

func (b *Backend) tagKey(tag string) string {
	return b.prefix + tagInfix + tag
}

func (b *Backend) identKey(identifier string) string {
	return b.prefix + identInfix + identifier
}

// Set stores payload under identifier and replaces its tags. A lifetime of 0
// never expires; DefaultLifetime selects the configured default.
func (b *Backend) Set(identifier string, payload []byte, tags []string, lifetime time.Duration) error {
	if b.store == nil {
		return fmt.Errorf("%w: cache %q", interfaces.ErrNoBackingStore, b.name)
	}
	if lifetime < 0 {
		lifetime = b.defaultLifetime
	}

	if err := b.store.Put(b.PrefixedIdentifier(identifier), payload, lifetime); err != nil {
		return fmt.Errorf("could not set cache entry %q: %w", identifier, err)
	}
	metrics.CacheWrites.WithLabelValues(b.name, "set").Inc()

	allTags := make([]string, 0, len(tags)+1)
	allTags = append(allTags, tags...)
	allTags = append(allTags, b.SentinelTag())

	b.removeIdentifierFromAllTags(identifier)
	if err := b.addIdentifierToTags(identifier, allTags); err != nil {
		return fmt.Errorf("could not index cache entry %q: %w", identifier, err)
	}
	return nil
}

// Get returns the payload stored under identifier.
func (b *Backend) Get(identifier string) ([]byte, bool) {
	if b.store == nil {
		return nil, false
	}
	payload, ok := b.store.Get(b.PrefixedIdentifier(identifier))
	if ok {
		metrics.CacheRequests.WithLabelValues(b.name, "hit").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues(b.name, "miss").Inc()
	}
	return payload, ok
}

// Has reports whether a live entry exists for identifier.
func (b *Backend) Has(identifier string) bool {
	if b.store == nil {
		return false
	}
	_, ok := b.store.Get(b.PrefixedIdentifier(identifier))
	return ok
}

// Remove removes identifier from all its tags and deletes the entry.
// It reports whether an entry was deleted.
func (b *Backend) Remove(identifier string) bool {
	if b.store == nil {
		return false
	}
	b.removeIdentifierFromAllTags(identifier)
	removed := b.store.Delete(b.PrefixedIdentifier(identifier))
	if removed {
		metrics.CacheWrites.WithLabelValues(b.name, "remove").Inc()
	}
	return removed
}

// FindIdentifiersByTag returns the identifiers indexed under tag. Unknown tags
// yield an empty result.
func (b *Backend) FindIdentifiersByTag(tag string) []string {
	return b.readList(b.tagKey(tag))
}

// FindTagsByIdentifier returns the tags of identifier, including the sentinel tag.
func (b *Backend) FindTagsByIdentifier(identifier string) []string {
	return b.readList(b.identKey(identifier))
}

// FlushByTag removes every entry indexed under tag and returns how many
// entries were deleted.
func (b *Backend) FlushByTag(tag string) int {
	removed := 0
	for _, identifier := range b.FindIdentifiersByTag(tag) {
		if b.Remove(identifier) {
			removed++
		}
	}
	b.pruneTag(tag)
	b.log.Debug("Flushed cache tag",
		slog.String("cache", b.name),
		slog.String("tag", tag),
		slog.Int("removed", removed))
	return removed
}

// Flush removes every entry of this cache. Other caches sharing the substrate
// are not affected.
func (b *Backend) Flush() error {
	if b.store == nil {
		return fmt.Errorf("%w: cache %q", interfaces.ErrNoBackingStore, b.name)
	}
	b.FlushByTag(b.SentinelTag())
	metrics.CacheWrites.WithLabelValues(b.name, "flush").Inc()
	return nil
}

// CollectGarbage purges expired entries if the substrate supports it. Substrates
// with native expiration need no collection and this is a no-op for them.
func (b *Backend) CollectGarbage() {
	if p, ok := b.store.(interface{ Purge() int }); ok {
		purged := p.Purge()
		b.log.Debug("Collected cache garbage", slog.String("cache", b.name), slog.Int("purged", purged))
	}
}

// Entries returns a sequence of the live entries of this cache. Each iteration
// rescans the substrate; entries removed concurrently are skipped.
func (b *Backend) Entries() iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		if b.store == nil {
			return
		}
		entryPrefix := b.prefix + entryInfix
		for _, key := range b.store.Keys(entryPrefix) {
			payload, ok := b.store.Get(key)
			if !ok {
				continue
			}
			if !yield(strings.TrimPrefix(key, entryPrefix), payload) {
				return
			}
		}
	}
}

// addIdentifierToTags appends identifier to the forward list of every tag that
// does not contain it yet and records the tags in the reverse index.
func (b *Backend) addIdentifierToTags(identifier string, tags []string) error {
	for _, tag := range tags {
		identifiers := b.FindIdentifiersByTag(tag)
		if slices.Contains(identifiers, identifier) {
			continue
		}
		if err := b.writeList(b.tagKey(tag), append(identifiers, identifier)); err != nil {
			return err
		}
	}

	existing := b.FindTagsByIdentifier(identifier)
	merged := existing
	for _, tag := range tags {
		if !slices.Contains(merged, tag) {
			merged = append(merged, tag)
		}
	}
	return b.writeList(b.identKey(identifier), merged)
}

// removeIdentifierFromAllTags reconciles the forward index using the reverse
// index as the source of truth. An identifier missing from a forward list is
// ignored. The reverse entry is always deleted.
func (b *Backend) removeIdentifierFromAllTags(identifier string) {
	for _, tag := range b.FindTagsByIdentifier(identifier) {
		identifiers := b.FindIdentifiersByTag(tag)
		i := slices.Index(identifiers, identifier)
		if i < 0 {
			continue
		}
		identifiers = slices.Delete(identifiers, i, i+1)
		if len(identifiers) == 0 {
			b.store.Delete(b.tagKey(tag))
			continue
		}
		if err := b.writeList(b.tagKey(tag), identifiers); err != nil {
			b.log.Warn("Failed to update tag index",
				slog.String("cache", b.name),
				slog.String("tag", tag),
				"err", err)
		}
	}
	b.store.Delete(b.identKey(identifier))
}

// pruneTag drops forward members of tag whose entries are gone. Members whose
// reverse index was lost are not reached by Remove and would linger otherwise.
func (b *Backend) pruneTag(tag string) {
	if b.store == nil {
		return
	}
	identifiers := b.FindIdentifiersByTag(tag)
	if len(identifiers) == 0 {
		return
	}
	live := slices.DeleteFunc(slices.Clone(identifiers), func(identifier string) bool {
		return !b.Has(identifier)
	})
	switch {
	case len(live) == len(identifiers):
	case len(live) == 0:
		b.store.Delete(b.tagKey(tag))
	default:
		if err := b.writeList(b.tagKey(tag), live); err != nil {
			b.log.Warn("Failed to prune tag index", slog.String("cache", b.name), slog.String("tag", tag), "err", err)
		}
	}
}

func (b *Backend) readList(key string) []string {
	if b.store == nil {
		return []string{}
	}
	data, ok := b.store.Get(key)
	if !ok {
		return []string{}
	}
	list, err := decodeList(data)
	if err != nil {
		b.log.Warn("Discarding corrupt cache index", slog.String("cache", b.name), slog.String("key", key), "err", err)
		return []string{}
	}
	return list
}

func (b *Backend) writeList(key string, list []string) error {
	data, err := encodeList(list)
	if err != nil {
		return err
	}
	return b.store.Put(key, data, 0)
}
