package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/config"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/orchestrator"
	"github.com/JakeFAU/site-rebuilder/internal/pipeline"
)

type fakeRebuilder struct {
	mu    sync.Mutex
	urls  []string
	res   pipeline.Result
	err   error
	explode bool
}

func (f *fakeRebuilder) Run(_ context.Context, rawURL string) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.explode {
		panic("boom")
	}
	f.urls = append(f.urls, rawURL)
	return f.res, f.err
}

func newTestServer(r Rebuilder, opts ...Option) *Server {
	return NewServer(r, config.Config{}, zap.NewNop(), opts...)
}

func postRebuild(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/rebuild", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRebuildReturnsResult(t *testing.T) {
	t.Parallel()

	rb := &fakeRebuilder{res: pipeline.Result{
		RunID: "run-1",
		Slug:  "example_com",
		URL:   "https://example.com/",
		Remote: &orchestrator.Result{
			ProjectID: "prj_1",
			WebURL:    "https://example.vercel.app",
		},
	}}
	rec := postRebuild(t, newTestServer(rb), `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://example.com"}, rb.urls)

	var body rebuildResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Result)
	assert.Empty(t, body.Error)
	assert.Equal(t, "example_com", body.Result.Slug)
	require.NotNil(t, body.Result.Remote)
	assert.Equal(t, "prj_1", body.Result.Remote.ProjectID)
}

func TestRebuildRejectsBadRequests(t *testing.T) {
	t.Parallel()

	rb := &fakeRebuilder{}
	s := newTestServer(rb)

	rec := postRebuild(t, s, "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")

	rec = postRebuild(t, s, `{"url":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url required")
	assert.Empty(t, rb.urls)
}

func TestRebuildMapsErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", faults.InvalidInput("bad url"), http.StatusBadRequest},
		{"homepage", fmt.Errorf("select: %w", faults.ErrHomepageNotFound), http.StatusUnprocessableEntity},
		{"timeout", &faults.TimeoutError{Op: "deployment", LastStatus: "building"}, http.StatusGatewayTimeout},
		{"remote", &faults.RemoteCallFailedError{Attempts: 4}, http.StatusBadGateway},
		{"deployment", &faults.DeploymentFailedError{DeploymentID: "dpl_1", Status: "error"}, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rb := &fakeRebuilder{res: pipeline.Result{RunID: "run-1"}, err: tc.err}
			rec := postRebuild(t, newTestServer(rb), `{"url":"https://example.com"}`)
			require.Equal(t, tc.want, rec.Code)

			var body rebuildResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.err.Error(), body.Error)
			require.NotNil(t, body.Result)
			assert.Equal(t, "run-1", body.Result.RunID)
		})
	}
}

func TestRebuildOmitsResultWithoutRun(t *testing.T) {
	t.Parallel()

	rb := &fakeRebuilder{err: faults.InvalidInput("url %q", "nope")}
	rec := postRebuild(t, newTestServer(rb), `{"url":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"result"`)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := NewServer(&fakeRebuilder{}, cfg, zap.NewNop())

	rec := postRebuild(t, s, `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/rebuild", bytes.NewBufferString(`{"url":"https://example.com"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzRunsChecks(t *testing.T) {
	t.Parallel()

	healthy := newTestServer(&fakeRebuilder{}, WithReadinessCheck("db", func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	healthy.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(&fakeRebuilder{},
		WithReadinessCheck("db", func(context.Context) error { return errors.New("connection refused") }),
		WithReadinessCheck("skipped", nil),
	)
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRebuilder{})
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRebuilder{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := postRebuild(t, newTestServer(&fakeRebuilder{explode: true}), `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
