package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirFor(t *testing.T) {
	assert.Equal(t, "/srv/app/.revdbg-trace", DirFor("/srv/app/index.js"))
}

func TestStorePrepare(t *testing.T) {
	var store Store

	t.Run("creates a missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "traces")
		require.NoError(t, store.Prepare(dir))
		fi, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("clears a previous capture", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{}"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "chunks"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks", "0.bin"), []byte("x"), 0o644))

		require.NoError(t, store.Prepare(dir))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("fails when the path is occupied by a file", func(t *testing.T) {
		parent := t.TempDir()
		occupied := filepath.Join(parent, "not-a-dir")
		require.NoError(t, os.WriteFile(occupied, []byte("x"), 0o644))
		assert.Error(t, store.Prepare(filepath.Join(occupied, "traces")))
	})
}

func TestStoreIndexExists(t *testing.T) {
	var store Store
	dir := t.TempDir()

	assert.False(t, store.IndexExists(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{}"), 0o644))
	assert.True(t, store.IndexExists(dir))
}

func TestStoreIndexExistsIgnoresDirectory(t *testing.T) {
	var store Store
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, IndexFile), 0o755))
	assert.False(t, store.IndexExists(dir))
}
