package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/config"
	"github.com/JakeFAU/site-rebuilder/internal/notify"
	"github.com/JakeFAU/site-rebuilder/internal/storage"
	"github.com/JakeFAU/site-rebuilder/internal/storage/memory"
)

func TestBuildStoreAppliesPrefix(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{Backend: "memory", Prefix: "runs"}}
	store, closeFn, err := buildStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	prefixed, ok := store.(*storage.Prefixed)
	require.True(t, ok)
	_, err = storage.PutString(context.Background(), prefixed, "a/b.txt", "text/plain", "x")
	require.NoError(t, err)
	got, ok, err := storage.GetString(context.Background(), store, "a/b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestBuildStoreLocalAndUnknown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Config{Storage: config.StorageConfig{Backend: "local"}, Output: config.OutputConfig{Dir: dir}}
	store, closeFn, err := buildStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	closeFn()
	assert.NotNil(t, store)

	cfg.Storage.Backend = "s3"
	_, _, err = buildStore(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()

	n, closeFn, err := buildNotifier(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	closeFn()
	assert.Nil(t, n)

	cfg := config.Config{Webhook: config.WebhookConfig{URL: "https://hooks.example.com/rebuilt"}}
	n, closeFn, err = buildNotifier(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 1)
}

func TestBuildRemoteRequiresKey(t *testing.T) {
	t.Parallel()

	_, _, err := buildRemote(context.Background(), config.Config{}, memory.NewBlobStore(), nil, zap.NewNop())
	require.ErrorContains(t, err, "remote.api_key")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"crawl", "rebuild", "serve"})
}

func TestResolveEnvRequiresPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveEnv(context.Background())
	require.Error(t, err)
}

func TestWriteJSONIndents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, crawlSummary{Slug: "example_com", Root: "https://example.com/", Pages: []string{"https://example.com/"}}))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"slug\": \"example_com\""))
}
