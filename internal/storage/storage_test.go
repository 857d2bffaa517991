package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rebuilder/internal/storage"
	"github.com/JakeFAU/site-rebuilder/internal/storage/memory"
)

func TestGetStringMissingAndBlank(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewBlobStore()

	_, ok, err := storage.GetString(ctx, store, "site/site_projectId.txt")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = storage.PutString(ctx, store, "site/site_projectId.txt", "text/plain", "  \n")
	require.NoError(t, err)
	_, ok, err = storage.GetString(ctx, store, "site/site_projectId.txt")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = storage.PutString(ctx, store, "site/site_projectId.txt", "text/plain", "proj-1\n")
	require.NoError(t, err)
	got, ok, err := storage.GetString(ctx, store, "site/site_projectId.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "proj-1", got)
}

func TestWithPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.NewBlobStore()
	require.Same(t, storage.ObjectStore(inner), storage.WithPrefix(inner, " / "))

	prefixed := storage.WithPrefix(inner, "/runs/")
	uri, err := storage.PutBytes(ctx, prefixed, "a/b.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/a/b.txt", uri)

	data, err := inner.GetObject(ctx, "runs/a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "x", string(data))

	data, err = prefixed.GetObject(ctx, "a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}
