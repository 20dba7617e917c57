package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

func TestBlobStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	artifact, err := store.Put(context.Background(), "doc.md", "text/markdown", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://doc.md", artifact.Path)
	require.Equal(t, int64(7), artifact.Size)

	payload[0] = 'C'
	rc, err := store.Open(context.Background(), artifact.Path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "content", string(got))
}

func TestBlobStoreStatDelete(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	artifact, err := store.Put(ctx, "doc.md", "", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	stat, err := store.Stat(ctx, artifact.Path)
	require.NoError(t, err)
	require.Equal(t, artifact, stat)

	require.NoError(t, store.Delete(ctx, artifact.Path))
	require.ErrorIs(t, store.Delete(ctx, artifact.Path), crawler.ErrNotFound)
	_, err = store.Open(ctx, artifact.Path)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = store.Put(ctx, "", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestBlobStorePutKeepsExistingArtifact(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	first, err := store.Put(ctx, "doc.md", "", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	second, err := store.Put(ctx, "doc.md", "", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	require.Equal(t, "memory://doc.md", first.Path)
	require.Equal(t, "memory://doc_1.md", second.Path)
	require.Equal(t, "doc_1.md", second.Name)

	rc, err := store.Open(ctx, first.Path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "a", string(got))
}
