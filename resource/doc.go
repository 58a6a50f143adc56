// Package resource implements collections and the resource lifecycle.
//
// A Collection binds one storage backend and one target. Imports are delegated
// to the storage and the resulting resource is registered with the repository;
// publishing is delegated to the target.
//
// The Manager groups collections by name. Applications call CommitResource after
// a resource has been persisted (this protects and publishes it) and
// DeleteResource to remove it again:
//
//	r, err := manager.ImportResourceFromContent(ctx, data, "persistent")
//	if err != nil {
//	    return err
//	}
//	if err := manager.CommitResource(ctx, r); err != nil {
//	    return err
//	}
package resource
