// Package local_test tests the local filesystem artifact store.
package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := local.New(local.Config{BaseDir: tempDir})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "output")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestPutOpenStatDelete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("# Documentation")
	artifact, err := store.Put(ctx, "docsynapse_example_com_20240101_000000.md", "text/markdown", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "docsynapse_example_com_20240101_000000.md"), artifact.Path)
	assert.Equal(t, "docsynapse_example_com_20240101_000000.md", artifact.Name)
	assert.Equal(t, int64(len(data)), artifact.Size)
	assert.False(t, artifact.CreatedAt.IsZero())

	rc, err := store.Open(ctx, artifact.Path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	byName, err := store.Stat(ctx, artifact.Name)
	require.NoError(t, err)
	assert.Equal(t, artifact.Path, byName.Path)

	require.NoError(t, store.Delete(ctx, artifact.Path))
	_, err = store.Stat(ctx, artifact.Path)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, artifact.Path), crawler.ErrNotFound)
	_, err = store.Open(ctx, artifact.Path)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestPutRejectsBadNames(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "", "text/plain", strings.NewReader("data"))
	assert.Error(t, err)

	_, err = store.Put(context.Background(), "../escape.md", "text/plain", strings.NewReader("data"))
	assert.ErrorContains(t, err, "path traversal")

	_, err = store.Open(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestPutNestedPath(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	artifact, err := store.Put(context.Background(), "a/b/doc.md", "text/markdown", strings.NewReader("nested"))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	readData, err := os.ReadFile(filepath.Join(tempDir, "a/b/doc.md"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(readData))
	assert.Equal(t, "doc.md", artifact.Name)
}

func TestPutNeverOverwrites(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()
	name := "docsynapse_example_com_20240101_000000.md"

	first, err := store.Put(ctx, name, "text/markdown", strings.NewReader("job A"))
	require.NoError(t, err)
	second, err := store.Put(ctx, name, "text/markdown", strings.NewReader("job B"))
	require.NoError(t, err)

	assert.Equal(t, name, first.Name)
	assert.Equal(t, "docsynapse_example_com_20240101_000000_1.md", second.Name)
	assert.NotEqual(t, first.Path, second.Path)

	require.NoError(t, store.Delete(ctx, first.Path))
	// #nosec G304 -- test reads from the controlled temp directory.
	remaining, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "job B", string(remaining))
}
