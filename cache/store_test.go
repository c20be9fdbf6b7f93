package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]CacheProvider {
	t.Helper()
	sqliteCache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	return map[string]CacheProvider{
		"memory": NewMemCache(),
		"sqlite": sqliteCache,
	}
}

func TestRoundTrip(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(provider, "v1", zerolog.Nop())
			partition := store.Open(CategoryStatic)

			payload := []byte("HTTP/1.1 200 OK\r\n\r\nhello")
			require.NoError(t, partition.Put("GET:/static/app.css", time.Time{}, payload))

			entry, ok, err := partition.Get("GET:/static/app.css")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, payload, entry.Bytes)
			assert.False(t, entry.StoredAt.After(time.Now()))
		})
	}
}

func TestPartitionIsolation(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(provider, "v1", zerolog.Nop())
			static := store.Open(CategoryStatic)
			api := store.Open(CategoryAPI)

			require.NoError(t, static.Put("GET:/thing", time.Time{}, []byte("static value")))
			require.NoError(t, api.Put("GET:/thing", time.Time{}, []byte("api value")))

			entry, ok, err := static.Get("GET:/thing")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("static value"), entry.Bytes)

			entry, ok, err = api.Get("GET:/thing")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("api value"), entry.Bytes)
		})
	}
}

func TestPutConvergesToLatestValue(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(provider, "v1", zerolog.Nop())
			partition := store.Open(CategoryDynamic)

			for i := 0; i < 10; i++ {
				require.NoError(t, partition.Put("GET:/page", time.Time{}, []byte{byte(i)}))
			}

			entry, ok, err := partition.Get("GET:/page")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{9}, entry.Bytes)

			keys := 0
			require.NoError(t, partition.Keys(func(string) { keys++ }))
			assert.Equal(t, 1, keys, "repeated puts must not accumulate entries")
		})
	}
}

func TestDeleteAllExceptLeavesOnlyCurrentVersion(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			oldStore := NewStore(provider, "v1", zerolog.Nop())
			require.NoError(t, oldStore.Open(CategoryStatic).Put("GET:/a", time.Time{}, []byte("old")))
			require.NoError(t, oldStore.Open(CategoryMedia).Put("GET:/b", time.Time{}, []byte("old")))

			newStore := NewStore(provider, "v2", zerolog.Nop())
			require.NoError(t, newStore.Open(CategoryStatic).Put("GET:/a", time.Time{}, []byte("new")))
			require.NoError(t, newStore.Open(CategoryAPI).Put("GET:/c", time.Time{}, []byte("new")))

			require.NoError(t, newStore.DeleteAllExcept("v2"))

			partitions, err := provider.Partitions()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"static-v2", "api-v2"}, partitions)

			entry, ok, err := newStore.Open(CategoryStatic).Get("GET:/a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("new"), entry.Bytes)
		})
	}
}

func TestClearEmptiesAllPartitions(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(provider, "v1", zerolog.Nop())
			require.NoError(t, store.Open(CategoryStatic).Put("GET:/a", time.Time{}, []byte("x")))
			require.NoError(t, store.Open(CategoryAPI).Put("GET:/b", time.Time{}, []byte("y")))

			require.NoError(t, store.Clear())

			partitions, err := provider.Partitions()
			require.NoError(t, err)
			assert.Empty(t, partitions)
		})
	}
}

func TestPurgeRemovesSingleKey(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(provider, "v1", zerolog.Nop())
			partition := store.Open(CategoryAPI)
			require.NoError(t, partition.Put("GET:/a", time.Time{}, []byte("a")))
			require.NoError(t, partition.Put("GET:/b", time.Time{}, []byte("b")))

			require.NoError(t, partition.Purge("GET:/a"))

			_, ok, err := partition.Get("GET:/a")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = partition.Get("GET:/b")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "static-v42", PartitionName(CategoryStatic, "v42"))
	assert.Equal(t, "media-2024-08-01", PartitionName(CategoryMedia, "2024-08-01"))
}
