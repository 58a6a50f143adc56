package resource

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func openTestSQLiteRepository(t *testing.T, path string) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLiteRepository(path, 2, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func filenames(resources []*interfaces.Resource) []string {
	names := make([]string, 0, len(resources))
	for _, r := range resources {
		names = append(names, r.Filename())
	}
	return names
}

func TestSQLiteRepository(t *testing.T) {
	repo := openTestSQLiteRepository(t, filepath.Join(t.TempDir(), "resources.db"))
	other := strings.Repeat("b", 40)

	a := newTestResource(t, helloSha1, "a.txt", "persistent")
	b := newTestResource(t, helloSha1, "b.txt", "persistent")
	c := newTestResource(t, other, "a.txt", "uploads")
	copyOfA := newTestResource(t, helloSha1, "a.txt", "uploads")

	for _, r := range []*interfaces.Resource{a, b, c, copyOfA, a} {
		require.NoError(t, repo.Add(r))
	}

	assert.Len(t, repo.FindAll(), 4, "adding the same resource twice is a no-op")
	assert.Equal(t, []string{"a.txt", "b.txt", "a.txt"}, filenames(repo.FindBySha1(helloSha1)))
	assert.Equal(t, []string{"a.txt", "a.txt"}, filenames(repo.FindByCollectionName("uploads")))
	assert.Empty(t, repo.FindByCollectionName("missing"))

	similar := repo.FindSimilarResources(a)
	require.Len(t, similar, 2)
	assert.True(t, similar[0].SameAs(a))
	assert.True(t, similar[1].SameAs(copyOfA))

	require.NoError(t, repo.Remove(b))
	require.NoError(t, repo.Remove(b))
	assert.Equal(t, []string{"a.txt", "a.txt", "a.txt"}, filenames(repo.FindAll()))
}

func TestSQLiteRepository_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.db")
	repo, err := OpenSQLiteRepository(path, 1, testLogger)
	require.NoError(t, err)

	r := newTestResource(t, helloSha1, "logo.png", "persistent")
	require.NoError(t, r.SetMd5("5d41402abc4b2a76b9719d911017c592"))
	require.NoError(t, r.SetFileSize(5))
	require.NoError(t, r.SetRelativePublicationPath("images/"))
	require.NoError(t, repo.Add(r))
	r.Protect()
	require.NoError(t, repo.Add(r))
	require.NoError(t, repo.Close())

	reopened := openTestSQLiteRepository(t, path)
	found := reopened.FindBySha1(helloSha1)
	require.Len(t, found, 1)
	loaded := found[0]

	assert.Equal(t, r.Record(), loaded.Record())
	assert.True(t, loaded.SameAs(r))
	assert.True(t, loaded.IsProtected())
	assert.Equal(t, "image/png", loaded.MediaType())
	assert.Equal(t, "png", loaded.FileExtension())
}

func TestManager_SQLiteRepositoryAcrossRuntimes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "resources.db")
	dataDir := filepath.Join(dir, "data")

	newManager := func(repo *SQLiteRepository) (*Manager, *MockTarget) {
		fs, err := storage.NewFileSystemStorage("local", dataDir, repo, testLogger)
		require.NoError(t, err)
		target := &MockTarget{}
		m := NewManager(repo, testLogger)
		require.NoError(t, m.AddCollection(NewCollection("persistent", fs, target, repo, WithLogger(testLogger))))
		return m, target
	}

	firstRepo, err := OpenSQLiteRepository(dbPath, 1, testLogger)
	require.NoError(t, err)
	first, target := newManager(firstRepo)
	for _, name := range []string{"a.txt", "b.txt"} {
		r, err := first.ImportUploadedResource(ctx, interfaces.UploadedFile{Filename: name, Content: bytesReader("hello")}, "persistent")
		require.NoError(t, err)
		target.On("PublishResource", ctx, r, mock.Anything).Return(nil).Once()
		require.NoError(t, first.CommitResource(ctx, r))
	}
	require.NoError(t, firstRepo.Close())

	second, target := newManager(openTestSQLiteRepository(t, dbPath))
	c, ok := second.Collection("persistent")
	require.True(t, ok)
	objects, err := c.GetObjects(ctx)
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	found, ok := second.GetResourceBySha1(helloSha1)
	require.True(t, ok)
	assert.True(t, found.IsProtected())

	target.On("UnpublishResource", ctx, mock.Anything).Return(nil)
	require.NoError(t, second.DeleteResource(ctx, found))
	remaining, ok := second.GetResourceBySha1(helloSha1)
	require.True(t, ok, "the other resource still refers to the content")
	_, stored := c.Storage().GetPrivateURIByResource(remaining)
	assert.True(t, stored)

	require.NoError(t, second.DeleteResource(ctx, remaining))
	_, stored = c.Storage().GetPrivateURIByResource(remaining)
	assert.False(t, stored)
	assert.Empty(t, second.Repository().FindAll())
}
