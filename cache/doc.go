// Package cache implements a tag-indexed cache over a shared key-value substrate.
//
// Backend keeps a forward (tag -> identifiers) and a reverse (identifier -> tags)
// index next to the entries, so FlushByTag touches only the tagged entries.
// Every entry carries the cache's sentinel tag, which makes Flush safe on a
// substrate shared by several caches.
//
// Two substrates are provided: MemoryStore for a single process and
// SQLiteStore for a database file shared between processes.
//
//	prefix := cache.Prefix(installRoot, "Production", "collections")
//	backend := cache.NewBackend("collections", prefix, cache.NewMemoryStore(),
//	    cache.WithDefaultLifetime(time.Hour))
//	c := cache.NewStringFrontend(backend)
//	err := c.Set("report-1", "data", []string{"report"}, cache.DefaultLifetime)
package cache
