package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// Prefix derives the substrate key prefix of a cache instance from the
// installation root, the application context and the cache name. Independent
// deployments sharing one substrate get distinct prefixes.
//
// The result is "rs_" followed by the first 12 hex characters of the MD5 digest
// and a trailing underscore. Compute it once at startup and pass it to NewBackend.
func Prefix(installRoot, context, cacheName string) string {
	sum := md5.Sum([]byte(installRoot + context + cacheName))
	return "rs_" + hex.EncodeToString(sum[:])[:12] + "_"
}
