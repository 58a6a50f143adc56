package httpserver

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/resource-store/cache"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/resource"
)

const (
	// maxUploadSize limits resource uploads (256MB).
	maxUploadSize = 256 << 20

	// cacheStatusHeader reports whether an object list came from the cache.
	cacheStatusHeader = "X-Cache"
)

// ResourceResponse describes a stored resource.
type ResourceResponse struct {
	Sha1       string `json:"sha1"`
	Md5        string `json:"md5"`
	Filename   string `json:"filename"`
	MediaType  string `json:"mediaType"`
	FileSize   int64  `json:"fileSize"`
	Collection string `json:"collection"`
	PublicURI  string `json:"publicUri,omitempty"`
}

// ObjectResponse describes a storage object of a collection.
type ObjectResponse struct {
	Sha1                    string `json:"sha1"`
	Md5                     string `json:"md5"`
	Filename                string `json:"filename"`
	MediaType               string `json:"mediaType"`
	FileSize                int64  `json:"fileSize"`
	RelativePublicationPath string `json:"relativePublicationPath"`
}

// Handler serves the resource API on top of a resource manager. Object lists
// are cached in objects and invalidated whenever a collection changes.
type Handler struct {
	manager       *resource.Manager
	objects       *cache.StringFrontend
	caches        map[string]*cache.StringFrontend
	maxUploadSize int64
	log           *slog.Logger
}

// NewHandler creates a handler. objects may be nil, in which case object lists
// are computed on every request. caches are the caches that can be flushed over
// the API, keyed by name.
func NewHandler(manager *resource.Manager, objects *cache.StringFrontend, caches map[string]*cache.StringFrontend, log *slog.Logger) *Handler {
	return &Handler{
		manager:       manager,
		objects:       objects,
		caches:        caches,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// HandleGetResource streams the bytes of a resource.
//
// URL format: GET /api/resources/{sha1}
func (h *Handler) HandleGetResource(w http.ResponseWriter, r *http.Request) {
	res, ok := h.lookupResource(w, r)
	if !ok {
		return
	}

	stream, err := h.manager.OpenResource(r.Context(), res)
	if err != nil {
		h.writeError(w, "Failed to open resource", err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", res.MediaType())
	w.Header().Set("ETag", `"`+res.Sha1().String()+`"`)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": res.Filename()}))
	if res.FileSize() > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.FileSize(), 10))
	}
	if match := r.Header.Get("If-None-Match"); match == `"`+res.Sha1().String()+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream); err != nil {
		h.log.Warn("Failed to stream resource", slog.String("sha1", res.Sha1().Short()), "err", err)
	}
}

// HandleDeleteResource runs the delete lifecycle of a resource: it is
// unpublished, forgotten and its bytes are removed unless shared.
//
// URL format: DELETE /api/resources/{sha1}
func (h *Handler) HandleDeleteResource(w http.ResponseWriter, r *http.Request) {
	res, ok := h.lookupResource(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteResource(r.Context(), res); err != nil {
		h.writeError(w, "Failed to delete resource", err)
		return
	}
	h.invalidateCollection(res.CollectionName())
	w.WriteHeader(http.StatusNoContent)
}

// HandleImportResource imports an uploaded file into a collection and commits it.
//
// URL format: POST /api/collections/{collection}/resources
//
// The payload is either the "file" field of a multipart form or the raw
// request body, in which case the filename comes from the "filename" query
// parameter.
func (h *Handler) HandleImportResource(w http.ResponseWriter, r *http.Request) {
	collectionName := chi.URLParam(r, "collection")
	if _, ok := h.manager.Collection(collectionName); !ok {
		http.Error(w, "Unknown collection", http.StatusNotFound)
		return
	}

	if r.ContentLength > h.maxUploadSize {
		http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	upload := interfaces.UploadedFile{
		Filename: r.URL.Query().Get("filename"),
		Content:  r.Body,
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Missing file field: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		upload = interfaces.UploadedFile{Filename: header.Filename, Content: file}
	}

	res, err := h.manager.ImportUploadedResource(r.Context(), upload, collectionName)
	if err != nil {
		if isTooLarge(err) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, "Failed to import resource", err)
		return
	}
	if err := h.manager.CommitResource(r.Context(), res); err != nil {
		h.writeError(w, "Failed to commit resource", err)
		return
	}
	h.invalidateCollection(collectionName)

	h.writeJSON(w, http.StatusCreated, h.resourceResponse(res))
}

// HandleListObjects returns the objects of a collection as JSON. Lists are
// cached until the collection changes.
//
// URL format: GET /api/collections/{collection}/objects
func (h *Handler) HandleListObjects(w http.ResponseWriter, r *http.Request) {
	collectionName := chi.URLParam(r, "collection")
	collection, ok := h.manager.Collection(collectionName)
	if !ok {
		http.Error(w, "Unknown collection", http.StatusNotFound)
		return
	}

	identifier := "objects_" + cacheSafeName(collectionName)
	if h.objects != nil {
		if cached, found, err := h.objects.Get(identifier); err == nil && found {
			w.Header().Set(cacheStatusHeader, "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(cached))
			return
		}
	}

	objects, err := collection.GetObjects(r.Context())
	if err != nil {
		h.writeError(w, "Failed to list objects", err)
		return
	}
	list := make([]ObjectResponse, 0, len(objects))
	for _, o := range objects {
		list = append(list, ObjectResponse{
			Sha1:                    o.Sha1.String(),
			Md5:                     o.Md5,
			Filename:                o.Filename,
			MediaType:               o.MediaType,
			FileSize:                o.FileSize,
			RelativePublicationPath: o.RelativePublicationPath,
		})
	}
	body, err := json.Marshal(list)
	if err != nil {
		h.writeError(w, "Failed to encode objects", err)
		return
	}

	if h.objects != nil {
		if err := h.objects.Set(identifier, body, []string{collectionTag(collectionName)}, cache.DefaultLifetime); err != nil {
			h.log.Warn("Failed to cache object list", slog.String("collection", collectionName), "err", err)
		}
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandlePublishCollection publishes every object of a collection to its target.
//
// URL format: POST /api/collections/{collection}/publish
func (h *Handler) HandlePublishCollection(w http.ResponseWriter, r *http.Request) {
	collectionName := chi.URLParam(r, "collection")
	collection, ok := h.manager.Collection(collectionName)
	if !ok {
		http.Error(w, "Unknown collection", http.StatusNotFound)
		return
	}
	if err := collection.Publish(r.Context()); err != nil {
		h.writeError(w, "Failed to publish collection", err)
		return
	}
	h.invalidateCollection(collectionName)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "published", "target": collection.Target().Name()})
}

// HandleFlushCache flushes caches.
//
// URL format: POST /api/cache/flush[?cache=name][&tag=tag]
//
// Without "cache" every cache is affected. With "tag" only entries carrying
// the tag are removed.
func (h *Handler) HandleFlushCache(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.caches))
	if name := r.URL.Query().Get("cache"); name != "" {
		if _, ok := h.caches[name]; !ok {
			http.Error(w, "Unknown cache", http.StatusNotFound)
			return
		}
		names = append(names, name)
	} else {
		for name := range h.caches {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	tag := r.URL.Query().Get("tag")
	if tag != "" && !cache.IsValidTag(tag) {
		http.Error(w, "Invalid tag", http.StatusBadRequest)
		return
	}

	removed := 0
	for _, name := range names {
		c := h.caches[name]
		if tag != "" {
			n, err := c.FlushByTag(tag)
			if err != nil {
				h.writeError(w, "Failed to flush cache", err)
				return
			}
			removed += n
			continue
		}
		if err := c.Flush(); err != nil {
			h.writeError(w, "Failed to flush cache", err)
			return
		}
	}

	h.log.Info("Flushed caches", slog.Any("caches", names), slog.String("tag", tag))
	response := map[string]any{"caches": names}
	if tag != "" {
		response["tag"] = tag
		response["removed"] = removed
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) lookupResource(w http.ResponseWriter, r *http.Request) (*interfaces.Resource, bool) {
	sha1, err := interfaces.NewContentHashFromHex(chi.URLParam(r, "sha1"))
	if err != nil {
		http.Error(w, "Invalid sha1", http.StatusBadRequest)
		return nil, false
	}
	res, ok := h.manager.GetResourceBySha1(sha1)
	if !ok {
		http.Error(w, "Resource not found", http.StatusNotFound)
		return nil, false
	}
	return res, true
}

func (h *Handler) resourceResponse(res *interfaces.Resource) ResourceResponse {
	response := ResourceResponse{
		Sha1:       res.Sha1().String(),
		Md5:        res.Md5(),
		Filename:   res.Filename(),
		MediaType:  res.MediaType(),
		FileSize:   res.FileSize(),
		Collection: res.CollectionName(),
	}
	if c, ok := h.manager.Collection(res.CollectionName()); ok {
		response.PublicURI = c.Target().PublicResourceURI(res)
	}
	return response
}

func (h *Handler) invalidateCollection(collectionName string) {
	if h.objects == nil {
		return
	}
	if _, err := h.objects.FlushByTag(collectionTag(collectionName)); err != nil {
		h.log.Warn("Failed to invalidate object list", slog.String("collection", collectionName), "err", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidArgument), errors.Is(err, interfaces.ErrImport):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrReadOnlyStorage), errors.Is(err, interfaces.ErrUnsupportedOperation),
		errors.Is(err, interfaces.ErrProtectedEntity):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrNoBackingStore):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Debug(msg, "err", err, slog.Int("status", status))
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// collectionTag is the cache tag attached to everything derived from a collection.
func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func collectionTag(collectionName string) string {
	return "collection_" + cacheSafeName(collectionName)
}

// cacheSafeName returns name if it is a valid cache identifier and its MD5 otherwise.
func cacheSafeName(name string) string {
	if cache.IsValidEntryIdentifier("collection_"+name) && !strings.ContainsAny(name, "%&") {
		return name
	}
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
