package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regalert/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("missing base dir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "raw/fda-recalls/2025/03/10/abc.xml", "application/rss+xml", []byte("<rss/>"))
	require.NoError(t, err)
	want := filepath.Join(dir, "raw/fda-recalls/2025/03/10/abc.xml")
	require.Equal(t, "file://"+want, uri)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "<rss/>", string(data))

	_, err = store.PutObject(context.Background(), "../escape.txt", "", []byte("x"))
	require.ErrorContains(t, err, "path traversal")

	_, err = store.PutObject(context.Background(), "", "", []byte("x"))
	require.Error(t, err)
}
