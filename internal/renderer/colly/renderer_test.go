package collyrenderer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Home</title></head><body><a href="/about">About</a></body></html>`))
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>moved</body></html>`))
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>secret</body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderReturnsMarkup(t *testing.T) {
	t.Parallel()
	srv := newSite(t)

	r := New(Config{UserAgent: "rebuilder-test"}, nil)
	page, err := r.Render(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, srv.URL+"/", page.URL)
	require.Contains(t, page.HTML, `<a href="/about">About</a>`)
	require.Empty(t, page.Screenshot)

	again, err := r.Render(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, page.HTML, again.HTML)
}

func TestRenderFollowsRedirects(t *testing.T) {
	t.Parallel()
	srv := newSite(t)

	page, err := New(Config{}, nil).Render(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", page.FinalURL)
	require.Contains(t, page.HTML, "moved")
}

func TestRenderFailsOnErrorStatus(t *testing.T) {
	t.Parallel()
	srv := newSite(t)

	_, err := New(Config{}, nil).Render(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
}

func TestRenderHonoursRobots(t *testing.T) {
	t.Parallel()
	srv := newSite(t)

	_, err := New(Config{RespectRobots: true}, nil).Render(context.Background(), srv.URL+"/private")
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	page, err := New(Config{RespectRobots: false}, nil).Render(context.Background(), srv.URL+"/private")
	require.NoError(t, err)
	require.Contains(t, page.HTML, "secret")
}

func TestRenderStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	srv := newSite(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil).Render(ctx, srv.URL+"/")
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	var result crawler.Rendered
	var fetchErr error
	hooks := &stubHooks{}
	r.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	final, err := url.Parse("https://example.com/final")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<p>body</p>"),
		Request:    &colly.Request{URL: final},
	})
	require.Equal(t, "https://example.com/final", result.FinalURL)
	require.Equal(t, "<p>body</p>", result.HTML)

	hooks.onError(&colly.Response{StatusCode: http.StatusGone}, errors.New("Gone"))
	require.ErrorContains(t, fetchErr, "HTTP 410")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
