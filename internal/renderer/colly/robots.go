package collyrenderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	robotsRetryBase  = 250 * time.Millisecond
	robotsMaxRetries = 3
)

// robotsAwareTransport retries robots.txt fetches that time out during the TLS handshake and
// falls back to an allow-all policy when the host never answers.
type robotsAwareTransport struct {
	base  http.RoundTripper
	state *robotsProbeState
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.state.roundTripWithRetry(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

// robotsProbeState remembers the hosts whose robots.txt could not be read.
type robotsProbeState struct {
	mu            sync.Mutex
	indeterminate map[string]bool
	logger        *zap.Logger
}

func newRobotsProbeState(logger *zap.Logger) *robotsProbeState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsProbeState{indeterminate: make(map[string]bool), logger: logger}
}

func (s *robotsProbeState) roundTripWithRetry(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	schedule := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(robotsRetryBase),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	ctx := req.Context()
	resp, err := backoff.RetryWithData(func() (*http.Response, error) {
		resp, err := base.RoundTrip(cloneRequest(req))
		if err != nil && !isTransientTLSError(err) {
			return nil, backoff.Permanent(fmt.Errorf("robots roundtrip non-transient: %w", err))
		}
		return resp, err
	}, backoff.WithContext(backoff.WithMaxRetries(schedule, robotsMaxRetries), ctx))

	switch {
	case err == nil:
		return resp, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", ctx.Err())
	case isTransientTLSError(err):
		s.markIndeterminate(req.URL.Hostname())
		return syntheticRobotsAllowAllResponse(req), nil
	default:
		return nil, err
	}
}

func (s *robotsProbeState) markIndeterminate(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indeterminate[host] {
		return
	}
	s.indeterminate[host] = true
	s.logger.Warn("robots.txt unreachable, assuming allow-all", zap.String("host", host))
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
