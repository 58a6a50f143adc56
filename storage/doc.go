// Package storage provides content-addressed resource storage with pluggable backends.
//
// Two backends are available:
//
//   - FileSystemStorage: writable storage on local disk; metadata is kept in a
//     ResourceRepository, bytes under a sharded path derived from the SHA-1 hash
//   - PackageStorage: read-only storage over the asset directories of installed
//     packages; hashes are computed while walking
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/resources/persistent/
//   - package:///srv/app/Packages/
//
// # Content Addressing
//
// ShardedPath splits a 40-character hash into groups of five characters, so the
// payload with hash c828d0f8... is stored at
//
//	<root>/c828d/0f88c/e197b/e1aff/7cc2e/5e86b/12442/41ac6/c828d0f88ce197be1aff7cc2e5e86b1244241ac6
//
// Importing the same content twice writes to the same path, so concurrent
// imports of identical content are idempotent.
//
// # Capabilities
//
// Only writable backends implement interfaces.WritableStorageBackend. Use
// Writable to obtain the import capability from a plain backend:
//
//	w, err := storage.Writable(backend)
//	if errors.Is(err, interfaces.ErrUnsupportedOperation) {
//	    // read-only backend
//	}
package storage
