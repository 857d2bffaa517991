package chromedprenderer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	r, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, defaultNavTimeout, r.cfg.NavigationTimeout)
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.acquire(ctx), context.DeadlineExceeded)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
	r.release()
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://example.com/logo.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/missing",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.net/frame"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://example.com/missing", "")
	require.Equal(t, 404, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/missing", url)
	require.Error(t, statusError(url, status))
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	status, _, url := newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
	require.NoError(t, statusError(url, status))

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}
