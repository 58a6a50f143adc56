package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/resource-store/cache"
	"github.com/ruteri/resource-store/resource"
	"github.com/ruteri/resource-store/storage"
	"github.com/ruteri/resource-store/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSha1 = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
	helloMd5  = "5d41402abc4b2a76b9719d911017c592"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type handlerFixture struct {
	dir     string
	manager *resource.Manager
	objects *cache.StringFrontend
	handler *Handler
	router  http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	dir := t.TempDir()

	repository := resource.NewMemoryRepository()
	persistent, err := storage.NewFileSystemStorage("persistent", filepath.Join(dir, "storage"), repository, testLogger)
	require.NoError(t, err)
	web, err := target.NewFileSystemTarget("web", filepath.Join(dir, "web"), "https://cdn.example", target.CompressionNone, testLogger)
	require.NoError(t, err)

	packages := filepath.Join(dir, "Packages")
	require.NoError(t, os.MkdirAll(filepath.Join(packages, "Acme.Site", "Resources", "Public", "Images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(packages, "Acme.Site", "Resources", "Public", "Images", "logo.png"), []byte("png"), 0o644))
	static := storage.NewPackageStorage("static", storage.NewDirectoryPackageManager(packages, testLogger), testLogger)

	manager := resource.NewManager(repository, testLogger)
	require.NoError(t, manager.AddCollection(resource.NewCollection("persistent", persistent, web, repository, resource.WithLogger(testLogger))))
	require.NoError(t, manager.AddCollection(resource.NewCollection("static", static, web, repository, resource.WithLogger(testLogger))))

	store := cache.NewMemoryStore()
	objects := cache.NewStringFrontend(cache.NewBackend("collections", cache.Prefix(dir, "Testing", "collections"), store, cache.WithLogger(testLogger)))
	pages := cache.NewStringFrontend(cache.NewBackend("pages", cache.Prefix(dir, "Testing", "pages"), store, cache.WithLogger(testLogger)))
	handler := NewHandler(manager, objects, map[string]*cache.StringFrontend{"collections": objects, "pages": pages}, testLogger)

	mux := chi.NewRouter()
	mux.Get("/api/resources/{sha1}", handler.HandleGetResource)
	mux.Delete("/api/resources/{sha1}", handler.HandleDeleteResource)
	mux.Post("/api/collections/{collection}/resources", handler.HandleImportResource)
	mux.Get("/api/collections/{collection}/objects", handler.HandleListObjects)
	mux.Post("/api/collections/{collection}/publish", handler.HandlePublishCollection)
	mux.Post("/api/cache/flush", handler.HandleFlushCache)

	return &handlerFixture{dir: dir, manager: manager, objects: objects, handler: handler, router: mux}
}

func (f *handlerFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) upload(t *testing.T, collection, filename, content string) ResourceResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/collections/"+collection+"/resources?filename="+filename, strings.NewReader(content))
	w := f.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res ResourceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHandleImportResource_RawBody(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.upload(t, "persistent", "hello.txt", "hello")

	assert.Equal(t, helloSha1, res.Sha1)
	assert.Equal(t, helloMd5, res.Md5)
	assert.Equal(t, "hello.txt", res.Filename)
	assert.Equal(t, "text/plain", res.MediaType)
	assert.Equal(t, int64(5), res.FileSize)
	assert.Equal(t, "persistent", res.Collection)

	sharded, err := storage.ShardedPath(helloSha1)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+sharded+"/hello.txt", res.PublicURI)

	published, err := os.ReadFile(filepath.Join(f.dir, "web", filepath.FromSlash(sharded), "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(published))

	stored, ok := f.manager.GetResourceBySha1(helloSha1)
	require.True(t, ok)
	assert.True(t, stored.IsProtected(), "imported resources are committed")
}

func TestHandleImportResource_Multipart(t *testing.T) {
	f := newHandlerFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/collections/persistent/resources", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res ResourceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "report.pdf", res.Filename)
	assert.Equal(t, "application/pdf", res.MediaType)
	assert.Equal(t, helloSha1, res.Sha1)
}

func TestHandleImportResource_Errors(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name        string
		url         string
		contentType string
		body        string
		wantStatus  int
	}{
		{"unknown collection", "/api/collections/nope/resources", "", "hello", http.StatusNotFound},
		{"read-only storage", "/api/collections/static/resources?filename=a.txt", "", "hello", http.StatusConflict},
		{"multipart without file field", "/api/collections/persistent/resources", "multipart/form-data; boundary=xyz", "--xyz--\r\n", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := f.do(t, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestHandleImportResource_TooLarge(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.maxUploadSize = 64
	payload := strings.Repeat("x", 256)

	multipartBody := func(t *testing.T) (*bytes.Buffer, string) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "big.txt")
		require.NoError(t, err)
		_, err = part.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return &body, mw.FormDataContentType()
	}

	tests := []struct {
		name          string
		multipart     bool
		unknownLength bool
	}{
		{name: "raw body"},
		{name: "raw body without content length", unknownLength: true},
		{name: "multipart", multipart: true},
		{name: "multipart without content length", multipart: true, unknownLength: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.multipart {
				body, contentType := multipartBody(t)
				req = httptest.NewRequest(http.MethodPost, "/api/collections/persistent/resources", body)
				req.Header.Set("Content-Type", contentType)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/api/collections/persistent/resources?filename=big.txt", strings.NewReader(payload))
			}
			if tt.unknownLength {
				req.ContentLength = -1
			}

			w := f.do(t, req)
			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.manager.Repository().FindAll())
}

func TestHandleGetResource(t *testing.T) {
	f := newHandlerFixture(t)
	f.upload(t, "persistent", "hello.txt", "hello")

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/resources/"+helloSha1, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, `"`+helloSha1+`"`, w.Header().Get("ETag"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
	assert.Equal(t, `inline; filename=hello.txt`, w.Header().Get("Content-Disposition"))

	// Uppercase hashes are accepted.
	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/resources/"+strings.ToUpper(helloSha1), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/resources/"+helloSha1, nil)
	req.Header.Set("If-None-Match", `"`+helloSha1+`"`)
	w = f.do(t, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/resources/not-a-hash", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/resources/"+strings.Repeat("0", 40), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteResource(t *testing.T) {
	f := newHandlerFixture(t)
	res := f.upload(t, "persistent", "hello.txt", "hello")

	// Prime the object list cache.
	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))
	require.Equal(t, "MISS", w.Header().Get(cacheStatusHeader))

	w = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/resources/"+helloSha1, nil))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/resources/"+helloSha1, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	sharded, err := storage.ShardedPath(res.Sha1)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(f.dir, "web", filepath.FromSlash(sharded), "hello.txt"))
	assert.NoFileExists(t, filepath.Join(f.dir, "storage", filepath.FromSlash(sharded)))

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))
	assert.Equal(t, "MISS", w.Header().Get(cacheStatusHeader), "deleting invalidates the object list")
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/resources/"+helloSha1, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListObjects(t *testing.T) {
	f := newHandlerFixture(t)
	f.upload(t, "persistent", "hello.txt", "hello")

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(cacheStatusHeader))

	var objects []ObjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, helloSha1, objects[0].Sha1)
	assert.Equal(t, "hello.txt", objects[0].Filename)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))
	assert.Equal(t, "HIT", w.Header().Get(cacheStatusHeader))
	assert.Equal(t, []string{"objects_persistent"}, f.objects.Backend().FindIdentifiersByTag("collection_persistent"))

	f.upload(t, "persistent", "world.txt", "world")
	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))
	assert.Equal(t, "MISS", w.Header().Get(cacheStatusHeader), "imports invalidate the object list")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &objects))
	assert.Len(t, objects, 2)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/static/objects", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, "logo.png", objects[0].Filename)
	assert.Equal(t, "Acme.Site/Images/", objects[0].RelativePublicationPath)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/nope/objects", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePublishCollection(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, httptest.NewRequest(http.MethodPost, "/api/collections/static/publish", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"published","target":"web"}`, w.Body.String())

	published, err := os.ReadFile(filepath.Join(f.dir, "web", "Acme.Site", "Images", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(published))

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/collections/nope/publish", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleFlushCache(t *testing.T) {
	f := newHandlerFixture(t)
	f.upload(t, "persistent", "hello.txt", "hello")
	f.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/persistent/objects", nil))

	pages := f.handler.caches["pages"]
	require.NoError(t, pages.Set("home", "<html>", []string{"collection_persistent"}, 0))
	require.NoError(t, pages.Set("about", "<html>", nil, 0))

	w := f.do(t, httptest.NewRequest(http.MethodPost, "/api/cache/flush?cache=collections&tag=collection_persistent", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"caches":["collections"],"tag":"collection_persistent","removed":1}`, w.Body.String())
	has, err := pages.Has("home")
	require.NoError(t, err)
	assert.True(t, has, "other caches are untouched")

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/cache/flush?tag=collection_persistent", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"caches":["collections","pages"],"tag":"collection_persistent","removed":1}`, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/cache/flush", nil))
	require.Equal(t, http.StatusOK, w.Code)
	has, _ = pages.Has("about")
	assert.False(t, has)

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/cache/flush?cache=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/cache/flush?tag=bad%20tag", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheSafeName(t *testing.T) {
	assert.Equal(t, "persistent", cacheSafeName("persistent"))
	assert.Equal(t, "collection_my-files", collectionTag("my-files"))

	hashed := cacheSafeName("Acme.Site static")
	assert.Len(t, hashed, 32)
	assert.True(t, cache.IsValidTag("collection_"+hashed))
	assert.Len(t, cacheSafeName("100%"), 32)
}
