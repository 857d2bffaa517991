package v0

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
)

type instantTimer struct{}

func (instantTimer) Start(time.Duration) {}

func (instantTimer) Stop() {}

func (instantTimer) C() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func noSleep() backoff.Timer { return instantTimer{} }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hc := httpclient.New(httpclient.Config{APIKey: "v0-key", MaxAttempts: 3}, httpclient.WithTimer(noSleep))
	return New(hc, srv.URL+"/v1", nil)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestCreateProjectSendsNameAndIdempotencyKey(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects", r.URL.Path)
		assert.Equal(t, "Bearer v0-key", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "example_com", body["name"])
		writeJSON(w, http.StatusCreated, `{"project":{"id":"prj_1","name":"example_com"}}`)
	})

	p, err := c.CreateProject(context.Background(), "example_com", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "prj_1", p.ID)
}

func TestCreateProjectWithoutIDFails(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	_, err := c.CreateProject(context.Background(), "x", "")
	require.ErrorIs(t, err, faults.ErrPermanentRemote)
}

func TestCreateChatAcceptsEnvelopes(t *testing.T) {
	t.Parallel()

	bodies := []string{
		`{"id":"chat_1","latestVersion":{"id":"ver_1","status":"pending"}}`,
		`{"chat":{"id":"chat_1","latestVersion":{"id":"ver_1","status":"pending"}}}`,
		`{"data":{"id":"chat_1","latestVersion":{"id":"ver_1","status":"pending"}}}`,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "prj_1", req["projectId"])
			assert.Equal(t, "build it", req["message"])
			writeJSON(w, http.StatusOK, body)
		})
		chat, err := c.CreateChat(context.Background(), "prj_1", "build it", "k")
		require.NoError(t, err, body)
		assert.Equal(t, "chat_1", chat.ID)
		require.NotNil(t, chat.LatestVersion)
		assert.Equal(t, "ver_1", chat.LatestVersion.ID)
		assert.Equal(t, "pending", chat.VersionStatus())
	}
}

func TestGetChatRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chats/chat_1", r.URL.Path)
		if atomic.AddInt32(&hits, 1) == 1 {
			writeJSON(w, http.StatusBadGateway, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"chat_1","latestVersion":{"id":"ver_2","status":"completed"}}`)
	})

	chat, err := c.GetChat(context.Background(), "chat_1")
	require.NoError(t, err)
	assert.Equal(t, VersionCompleted, chat.VersionStatus())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	assert.Equal(t, "missing", Chat{}.VersionStatus())
}

func TestCreateDeploymentIsSentOnce(t *testing.T) {
	t.Parallel()

	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusServiceUnavailable, `{"error":"busy"}`)
	})

	_, err := c.CreateDeployment(context.Background(), DeploymentRequest{ProjectID: "p", ChatID: "c", VersionID: "v"}, "k")
	require.ErrorIs(t, err, faults.ErrRemoteCallFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCreateAndGetDeployment(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/deployments":
			var req DeploymentRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, DeploymentRequest{ProjectID: "p", ChatID: "c", VersionID: "v"}, req)
			writeJSON(w, http.StatusOK, `{"deployment":{"id":"dpl_1","status":"pending","webUrl":"https://a.vercel.app"}}`)
		case "/v1/deployments/dpl_1":
			writeJSON(w, http.StatusOK, `{"status":"ready","webUrl":"https://a.vercel.app","inspectorUrl":"https://inspect"}`)
		default:
			http.NotFound(w, r)
		}
	})

	d, err := c.CreateDeployment(context.Background(), DeploymentRequest{ProjectID: "p", ChatID: "c", VersionID: "v"}, "k")
	require.NoError(t, err)
	assert.Equal(t, "dpl_1", d.ID)
	assert.Equal(t, "https://a.vercel.app", d.WebURL)

	d, err = c.GetDeployment(context.Background(), "dpl_1")
	require.NoError(t, err)
	assert.Equal(t, "dpl_1", d.ID)
	assert.Equal(t, "ready", d.Status)
	assert.Equal(t, "https://inspect", d.InspectorURL)
	record, err := d.Record()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"dpl_1","status":"ready","webUrl":"https://a.vercel.app","inspectorUrl":"https://inspect"}`, string(record))
}

func TestGetDeploymentErrorsShapes(t *testing.T) {
	t.Parallel()

	for body, want := range map[string]int{
		`[{"message":"build failed"}]`:      1,
		`{"data":["a","b"]}`:                2,
		`{"errors":[{"error":"x"}]}`:        1,
		`{"data":[]}`:                       0,
		``:                                  0,
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/deployments/dpl_1/errors", r.URL.Path)
			writeJSON(w, http.StatusOK, body)
		})
		list, err := c.GetDeploymentErrors(context.Background(), "dpl_1")
		require.NoError(t, err, body)
		assert.Len(t, list, want, body)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", Describe(json.RawMessage(`"plain"`)))
	assert.Equal(t, "build failed", Describe(json.RawMessage(`{"message":"build failed"}`)))
	assert.Equal(t, "boom", Describe(json.RawMessage(`{"error":"boom"}`)))
	assert.Equal(t, `{"code":42}`, Describe(json.RawMessage(`{"code":42}`)))

	long := Describe(json.RawMessage(`{"detail":"` + strings.Repeat("é", 600) + `"}`))
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, faults.MaxBodySnippet, utf8.RuneCountInString(long))
}

func TestAssignAliasConflict(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["alias"] == "taken.vercel.app" {
			writeJSON(w, http.StatusConflict, `{"error":"alias in use"}`)
			return
		}
		assert.Equal(t, "dpl_1", req["deploymentId"])
		writeJSON(w, http.StatusOK, `{"alias":"`+req["alias"]+`"}`)
	})

	_, err := c.AssignAlias(context.Background(), "dpl_1", "taken.vercel.app")
	require.Equal(t, http.StatusConflict, faults.StatusOf(err))

	a, err := c.AssignAlias(context.Background(), "dpl_1", "free.vercel.app")
	require.NoError(t, err)
	assert.Equal(t, Alias{Alias: "free.vercel.app", URL: "https://free.vercel.app"}, a)
}
