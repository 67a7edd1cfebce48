package cacheproxy_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/cacheproxy"
)

func TestStore_ReadMissingReturnsNotFound(t *testing.T) {
	store, err := cacheproxy.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("/missing")
	assert.ErrorIs(t, err, cacheproxy.ErrEntryNotFound)
}

func TestStore_WriteThenRead(t *testing.T) {
	store, err := cacheproxy.NewStore(t.TempDir())
	require.NoError(t, err)

	key := "/path?q=1"
	want := []byte("cached bytes")

	require.NoError(t, store.Write(key, want))

	got, err := store.Read(key)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_WriteOverwritesExisting(t *testing.T) {
	store, err := cacheproxy.NewStore(t.TempDir())
	require.NoError(t, err)

	key := "/a"
	require.NoError(t, store.Write(key, []byte("first")))
	require.NoError(t, store.Write(key, []byte("second")))

	got, err := store.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestStore_DistinctKeysShardSeparately(t *testing.T) {
	root := t.TempDir()
	store, err := cacheproxy.NewStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Write("/a", []byte("a")))
	require.NoError(t, store.Write("/b", []byte("b")))

	gotA, err := store.Read("/a")
	require.NoError(t, err)
	gotB, err := store.Read("/b")
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), gotA)
	assert.Equal(t, []byte("b"), gotB)
}

func TestNewStore_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")
	_, err := cacheproxy.NewStore(root)
	require.NoError(t, err)
	assert.DirExists(t, root)
}
