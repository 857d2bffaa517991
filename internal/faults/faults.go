// Package faults defines the error taxonomy shared by the rebuild pipeline.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTransient        = errors.New("transient network error")
	ErrRemoteCallFailed = errors.New("remote call failed")
	ErrPermanentRemote  = errors.New("permanent remote error")
	ErrTimeout          = errors.New("timed out")
	ErrHomepageNotFound = errors.New("homepage not found")
	ErrPartialCrawl     = errors.New("page visit failed")
)

// MaxBodySnippet bounds the response body carried by HTTPError, in runes.
const MaxBodySnippet = 500

// Snippet cuts s to MaxBodySnippet runes without splitting a multi-byte character.
func Snippet(s string) string {
	if len(s) <= MaxBodySnippet || utf8.RuneCountInString(s) <= MaxBodySnippet {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxBodySnippet {
			return s[:i]
		}
		n++
	}
	return s
}

// InvalidInput wraps a message so it matches ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

// NewHTTPError builds an HTTPError, truncating the body snippet.
func NewHTTPError(method, url string, status int, body []byte) *HTTPError {
	return &HTTPError{Method: method, URL: url, Status: status, Body: Snippet(string(body))}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d %s: %s", e.Method, e.URL, e.Status, http.StatusText(e.Status), e.Body)
}

// Retriable reports whether the status is worth another attempt.
func (e *HTTPError) Retriable() bool {
	return IsRetriableStatus(e.Status)
}

// Unwrap classifies the error as transient or permanent.
func (e *HTTPError) Unwrap() error {
	if e.Retriable() {
		return ErrTransient
	}
	return ErrPermanentRemote
}

// IsRetriableStatus is true for 429 and every 5xx.
func IsRetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// StatusOf extracts the HTTP status from err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// RemoteCallFailedError is returned once retries are exhausted.
type RemoteCallFailedError struct {
	Attempts int
	Last     error
}

func (e *RemoteCallFailedError) Error() string {
	return fmt.Sprintf("remote call failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Is matches ErrRemoteCallFailed.
func (e *RemoteCallFailedError) Is(target error) bool {
	return target == ErrRemoteCallFailed
}

func (e *RemoteCallFailedError) Unwrap() error {
	return e.Last
}

// TimeoutError reports a polling deadline together with the last observed status.
// The remote operation is not cancelled.
type TimeoutError struct {
	Op         string
	LastStatus string
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (last status: %s)", e.Op, e.After, e.LastStatus)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DeploymentFailedError is a terminal deployment failure, optionally enriched with the
// error detail reported by the platform.
type DeploymentFailedError struct {
	DeploymentID string
	Status       string
	Detail       string
}

func (e *DeploymentFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("deployment %s failed with status %q", e.DeploymentID, e.Status)
	}
	return fmt.Sprintf("deployment %s failed with status %q: %s", e.DeploymentID, e.Status, e.Detail)
}

// Is matches ErrPermanentRemote.
func (e *DeploymentFailedError) Is(target error) bool {
	return target == ErrPermanentRemote
}
