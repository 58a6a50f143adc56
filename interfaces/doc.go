// Package interfaces defines core interfaces and types for the resource store,
// separating interface definitions from implementations.
//
// # Resource Model
//
// Resource: metadata record referencing stored content by SHA-1 hash. A resource
// starts Mutable and becomes Protected once it has been committed; every setter
// fails with ErrProtectedEntity afterwards.
//
// StorageObject: transient view of a stored payload as returned by object queries.
//
// # Storage Interfaces
//
// StorageBackend: read contract (object queries, private URI resolution).
//
// WritableStorageBackend: superset of StorageBackend that can import content.
// Read-only backends simply do not implement it.
//
// Target: publishes resources and collections to a delivery location.
//
// ResourceRepository and PackageManager are collaborators the storage layer
// queries but does not own.
//
// # Cache Substrate
//
// KVStore: key-value store with per-key expiration that tag-indexed caches
// are layered on.
//
// # Errors
//
// Sentinel errors are wrapped with context and matched with errors.Is.
// Missing content is reported as a boolean or empty result where callers are
// expected to branch on it.
package interfaces
