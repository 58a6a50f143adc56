/*
Package httpserver exposes a resource store over HTTP.

Clients upload resources into collections, fetch stored bytes by SHA-1,
delete resources and trigger collection publication. Object listings are
served from the tag-indexed cache; every change to a collection flushes the
cache tag "collection_<name>", so a listing is never older than the last
import, delete or publish that went through this server.

# Resource API Endpoints

  - GET /api/resources/{sha1} - Stream the stored bytes of a resource
  - DELETE /api/resources/{sha1} - Unpublish and delete a resource
  - POST /api/collections/{collection}/resources - Import and commit an upload
  - GET /api/collections/{collection}/objects - List the objects of a collection
  - POST /api/collections/{collection}/publish - Publish a collection to its target
  - POST /api/cache/flush - Flush caches, optionally only entries carrying ?tag=

# Health Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

# Uploads

The import endpoint accepts either a multipart form with a "file" field or a
raw request body. For raw bodies the filename is taken from the "filename"
query parameter; without it the resource is named "<sha1>.bin". Imported
resources are committed immediately, which protects them and publishes them
to the collection's target. The response carries the public URI.

# Errors

Domain errors map to status codes: invalid arguments and failed imports
yield 400, missing content 404, read-only storages and protected resources
409, a cache without backing store 503. Anything else is a 500.

# Example Usage

	rt, err := config.Build(settings, logger)
	if err != nil {
		return err
	}
	objects, _ := rt.Cache(config.ObjectsCache)
	caches := map[string]*cache.StringFrontend{}
	for _, name := range rt.Caches() {
		caches[name], _ = rt.Cache(name)
	}

	handler := httpserver.NewHandler(rt.Manager, objects, caches, logger)
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, handler)
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
