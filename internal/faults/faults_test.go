package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestHTTPErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		transient bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{599, true},
		{400, false},
		{404, false},
		{409, false},
	}
	for _, tc := range cases {
		err := NewHTTPError("GET", "https://api.test/x", tc.status, []byte("boom"))
		require.Equal(t, tc.transient, errors.Is(err, ErrTransient), "status %d", tc.status)
		require.Equal(t, !tc.transient, errors.Is(err, ErrPermanentRemote), "status %d", tc.status)
	}
}

func TestHTTPErrorTruncatesBody(t *testing.T) {
	t.Parallel()

	err := NewHTTPError("POST", "https://api.test/x", 500, []byte(strings.Repeat("a", 2000)))
	require.Len(t, err.Body, MaxBodySnippet)
	require.Equal(t, 500, StatusOf(fmt.Errorf("wrapped: %w", err)))
}

func TestRemoteCallFailedErrorUnwraps(t *testing.T) {
	t.Parallel()

	last := NewHTTPError("GET", "https://api.test/x", 503, nil)
	err := fmt.Errorf("create project: %w", &RemoteCallFailedError{Attempts: 3, Last: last})
	require.ErrorIs(t, err, ErrRemoteCallFailed)
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, 503, StatusOf(err))
}

func TestTimeoutAndDeploymentErrors(t *testing.T) {
	t.Parallel()

	timeout := &TimeoutError{Op: "wait chat", LastStatus: "pending", After: time.Second}
	require.ErrorIs(t, timeout, ErrTimeout)
	require.Contains(t, timeout.Error(), "pending")

	failed := &DeploymentFailedError{DeploymentID: "dep-1", Status: "error", Detail: "build failed"}
	require.ErrorIs(t, failed, ErrPermanentRemote)
	require.Contains(t, failed.Error(), "build failed")

	require.ErrorIs(t, InvalidInput("bad url %q", "x"), ErrInvalidInput)
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("ü", MaxBodySnippet+10)
	err := NewHTTPError("GET", "https://api.test/x", 502, []byte(body))
	require.True(t, utf8.ValidString(err.Body))
	require.Equal(t, MaxBodySnippet, utf8.RuneCountInString(err.Body))

	require.Equal(t, "short", Snippet("short"))
	require.Equal(t, strings.Repeat("€", MaxBodySnippet), Snippet(strings.Repeat("€", MaxBodySnippet)))
}
