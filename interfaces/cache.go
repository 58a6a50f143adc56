package interfaces

import "time"

// KVStore is the key-value substrate a tag-indexed cache is built on.
// It may be shared by several caches; keys carry a per-cache prefix.
type KVStore interface {
	// Put stores value under key. A ttl of zero never expires.
	Put(key string, value []byte, ttl time.Duration) error

	// Get returns the value and whether the key is live.
	Get(key string) ([]byte, bool)

	// Delete removes the key and reports whether it existed.
	Delete(key string) bool

	// Keys returns a snapshot of the live keys starting with prefix.
	Keys(prefix string) []string
}
