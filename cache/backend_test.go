package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// substrates returns a fresh instance of every KVStore implementation.
func substrates(t *testing.T) map[string]func(t *testing.T) interfaces.KVStore {
	return map[string]func(t *testing.T) interfaces.KVStore{
		"memory": func(t *testing.T) interfaces.KVStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) interfaces.KVStore {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), 2, testLogger)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachSubstrate(t *testing.T, fn func(t *testing.T, store interfaces.KVStore)) {
	for name, open := range substrates(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func newTestBackend(name string, store interfaces.KVStore, opts ...BackendOption) *Backend {
	opts = append(opts, WithLogger(testLogger))
	return NewBackend(name, Prefix("/srv/app", "Testing", name), store, opts...)
}

func sorted(list []string) []string {
	out := append([]string(nil), list...)
	sort.Strings(out)
	return out
}

func TestBackend_SetIndexesTags(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("pages", store)

		require.NoError(t, b.Set("page-1", []byte("one"), []string{"news", "front"}, 0))
		require.NoError(t, b.Set("page-2", []byte("two"), []string{"news"}, 0))

		assert.Equal(t, []string{"page-1", "page-2"}, b.FindIdentifiersByTag("news"))
		assert.Equal(t, []string{"page-1"}, b.FindIdentifiersByTag("front"))
		assert.Equal(t, []string{"page-1", "page-2"}, b.FindIdentifiersByTag(b.SentinelTag()))
		assert.Equal(t, sorted([]string{"news", "front", b.SentinelTag()}), sorted(b.FindTagsByIdentifier("page-1")))
		assert.Empty(t, b.FindIdentifiersByTag("unknown"))

		payload, ok := b.Get("page-1")
		require.True(t, ok)
		assert.Equal(t, []byte("one"), payload)
		assert.True(t, b.Has("page-2"))

		_, ok = b.Get("missing")
		assert.False(t, ok)
		assert.False(t, b.Has("missing"))
	})
}

func TestBackend_SetReplacesTags(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("pages", store)

		require.NoError(t, b.Set("page-1", []byte("one"), []string{"news", "front"}, 0))
		require.NoError(t, b.Set("page-1", []byte("one v2"), []string{"archive", "archive"}, 0))

		assert.Empty(t, b.FindIdentifiersByTag("news"))
		assert.Empty(t, b.FindIdentifiersByTag("front"))
		assert.Equal(t, []string{"page-1"}, b.FindIdentifiersByTag("archive"))
		assert.Equal(t, []string{"page-1"}, b.FindIdentifiersByTag(b.SentinelTag()))
		assert.Equal(t, sorted([]string{"archive", b.SentinelTag()}), sorted(b.FindTagsByIdentifier("page-1")))

		// Forward keys of tags that lost their last member are gone entirely.
		_, ok := store.Get(b.Prefix() + "tag_news")
		assert.False(t, ok)

		payload, _ := b.Get("page-1")
		assert.Equal(t, []byte("one v2"), payload)
	})
}

func TestBackend_Remove(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("pages", store)

		require.NoError(t, b.Set("a", []byte("a"), []string{"shared", "only-a"}, 0))
		require.NoError(t, b.Set("b", []byte("b"), []string{"shared"}, 0))

		assert.True(t, b.Remove("a"))
		assert.False(t, b.Has("a"))
		assert.Equal(t, []string{"b"}, b.FindIdentifiersByTag("shared"))
		assert.Empty(t, b.FindIdentifiersByTag("only-a"))
		assert.Empty(t, b.FindTagsByIdentifier("a"))

		_, ok := store.Get(b.Prefix() + "tag_only-a")
		assert.False(t, ok, "empty forward lists are deleted")
		_, ok = store.Get(b.Prefix() + "ident_a")
		assert.False(t, ok)

		// Removing twice reports nothing removed and does not fail.
		assert.False(t, b.Remove("a"))
		assert.False(t, b.Remove("never-set"))
	})
}

func TestBackend_RemoveToleratesStaleIndex(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("pages", store)
		require.NoError(t, b.Set("a", []byte("a"), []string{"news"}, 0))
		require.NoError(t, b.Set("b", []byte("b"), []string{"news"}, 0))

		// Corrupt the forward index: "a" is no longer listed under "news".
		require.NoError(t, b.writeList(b.tagKey("news"), []string{"b"}))
		assert.True(t, b.Remove("a"))
		assert.Equal(t, []string{"b"}, b.FindIdentifiersByTag("news"))

		// A forward list naming a dead entry yields the identifier but flushing skips it.
		require.NoError(t, b.writeList(b.tagKey("news"), []string{"b", "ghost"}))
		assert.Equal(t, 1, b.FlushByTag("news"))
		assert.Empty(t, b.FindIdentifiersByTag("news"))
	})
}

func TestBackend_FlushByTagScenario(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("reports", store)

		require.NoError(t, b.Set("report-1", []byte("data"), []string{"report", "2024"}, 0))
		require.NoError(t, b.Set("report-2", []byte("data2"), []string{"report"}, 0))
		require.NoError(t, b.Set("keep", []byte("x"), []string{"other"}, 0))

		assert.Equal(t, 2, b.FlushByTag("report"))

		assert.False(t, b.Has("report-1"))
		assert.False(t, b.Has("report-2"))
		assert.True(t, b.Has("keep"))
		assert.Empty(t, b.FindIdentifiersByTag("report"))
		assert.Empty(t, b.FindIdentifiersByTag("2024"))
		assert.Equal(t, []string{"keep"}, b.FindIdentifiersByTag(b.SentinelTag()))
	})
}

func TestBackend_FlushIsolatesCaches(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		first := newTestBackend("first", store)
		second := newTestBackend("second", store)
		require.NotEqual(t, first.SentinelTag(), second.SentinelTag())

		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("entry-%d", i)
			require.NoError(t, first.Set(id, []byte("first"), []string{"shared-tag"}, 0))
			require.NoError(t, second.Set(id, []byte("second"), []string{"shared-tag"}, 0))
		}

		require.NoError(t, first.Flush())

		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("entry-%d", i)
			assert.False(t, first.Has(id))
			payload, ok := second.Get(id)
			require.True(t, ok)
			assert.Equal(t, []byte("second"), payload)
		}
		assert.Len(t, second.FindIdentifiersByTag("shared-tag"), 5)
		assert.Empty(t, store.Keys(first.Prefix()))
	})
}

func TestBackend_Entries(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, store interfaces.KVStore) {
		b := newTestBackend("pages", store)
		other := newTestBackend("other", store)

		require.NoError(t, b.Set("a", []byte("1"), nil, 0))
		require.NoError(t, b.Set("b", []byte("2"), []string{"x"}, 0))
		require.NoError(t, other.Set("c", []byte("3"), nil, 0))

		collect := func() map[string]string {
			out := map[string]string{}
			for id, payload := range b.Entries() {
				out[id] = string(payload)
			}
			return out
		}

		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, collect())

		// The sequence is restartable and observes later changes.
		b.Remove("a")
		assert.Equal(t, map[string]string{"b": "2"}, collect())

		// Stopping early is honoured.
		count := 0
		require.NoError(t, b.Set("c", []byte("3"), nil, 0))
		for range b.Entries() {
			count++
			break
		}
		assert.Equal(t, 1, count)
	})
}

func TestBackend_Lifetimes(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return clock }

	b := newTestBackend("pages", store, WithDefaultLifetime(time.Minute))
	require.NoError(t, b.Set("default", []byte("d"), nil, DefaultLifetime))
	require.NoError(t, b.Set("short", []byte("s"), nil, time.Second))
	require.NoError(t, b.Set("forever", []byte("f"), nil, 0))

	clock = clock.Add(2 * time.Second)
	assert.False(t, b.Has("short"))
	assert.True(t, b.Has("default"))

	clock = clock.Add(time.Hour)
	assert.False(t, b.Has("default"))
	assert.True(t, b.Has("forever"))

	// Index keys never expire; removing an expired entry still cleans them up.
	assert.Contains(t, b.FindIdentifiersByTag(b.SentinelTag()), "default")
	assert.False(t, b.Remove("default"))
	assert.NotContains(t, b.FindIdentifiersByTag(b.SentinelTag()), "default")

	require.NoError(t, b.Set("expired", []byte("e"), nil, time.Second))
	clock = clock.Add(time.Minute)
	b.CollectGarbage()
	_, ok := store.items[b.PrefixedIdentifier("expired")]
	assert.False(t, ok)
}

func TestBackend_NoBackingStore(t *testing.T) {
	b := NewBackend("pages", "rs_x_", nil, WithLogger(testLogger))

	err := b.Set("a", []byte("a"), nil, 0)
	assert.True(t, errors.Is(err, interfaces.ErrNoBackingStore))
	assert.True(t, errors.Is(b.Flush(), interfaces.ErrNoBackingStore))

	_, ok := b.Get("a")
	assert.False(t, ok)
	assert.False(t, b.Has("a"))
	assert.False(t, b.Remove("a"))
	assert.Empty(t, b.FindIdentifiersByTag("x"))
	b.CollectGarbage()
	for range b.Entries() {
		t.Fatal("no entries expected")
	}
}

func TestBackend_KeyLayout(t *testing.T) {
	store := NewMemoryStore()
	b := NewBackend("pages", "rs_0123456789ab_", store, WithKind("TEST"), WithLogger(testLogger))
	require.NoError(t, b.Set("id", []byte("v"), []string{"t"}, 0))

	assert.Equal(t, "%TEST%pages", b.SentinelTag())
	assert.Equal(t, "rs_0123456789ab_entry_id", b.PrefixedIdentifier("id"))
	assert.Equal(t, []string{
		"rs_0123456789ab_entry_id",
		"rs_0123456789ab_ident_id",
		"rs_0123456789ab_tag_%TEST%pages",
		"rs_0123456789ab_tag_t",
	}, store.Keys("rs_0123456789ab_"))
}

func TestPrefix(t *testing.T) {
	p := Prefix("/srv/app/", "Production", "collections")
	assert.Regexp(t, `^rs_[0-9a-f]{12}_$`, p)
	assert.Equal(t, p, Prefix("/srv/app/", "Production", "collections"))
	assert.NotEqual(t, p, Prefix("/srv/app/", "Development", "collections"))
	assert.NotEqual(t, p, Prefix("/srv/other/", "Production", "collections"))
	assert.NotEqual(t, p, Prefix("/srv/app/", "Production", "pages"))
}
