// Package file_test tests the file snapshot store.
package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxyfetch/internal/snapshot/file"
)

func TestNew(t *testing.T) {
	t.Run("CreatesParentDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "proxies.txt")
		store, err := file.New(file.Config{Path: path})
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("ParentIsAFile", func(t *testing.T) {
		parent := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))
		_, err := file.New(file.Config{Path: filepath.Join(parent, "proxies.txt")})
		assert.Error(t, err)
	})
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "proxies.txt")})
	require.NoError(t, err)

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Save(ctx, []string{"1.2.3.4:80", "5.6.7.8:8080"}))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4:80", "5.6.7.8:8080"}, got)

	require.NoError(t, store.Save(ctx, []string{"9.9.9.9:99"}))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9:99"}, got)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, store.Remove(ctx))
	require.NoError(t, store.Remove(ctx))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	store, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "absent.txt")})
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)
}
