// Package httpclient is the resilient JSON client used for every outbound API call. It injects
// bearer auth and idempotency keys, retries transient failures with exponential backoff and
// reports failures as faults errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/metrics"
)

const (
	// DefaultAttempts is the number of tries when no policy is given.
	DefaultAttempts = 3
	// DefaultBackoffBase is the delay before the second attempt.
	DefaultBackoffBase = 300 * time.Millisecond
	// MinBackoffBase is the floor applied to any configured base delay.
	MinBackoffBase = 50 * time.Millisecond

	maxResponseBytes = 16 << 20
)

// RetryPolicy controls how often and how patiently a request is retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 300ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, BaseDelay: DefaultBackoffBase}
}

// SingleAttempt disables retries for calls that must not be repeated.
func SingleAttempt() *RetryPolicy {
	return &RetryPolicy{Attempts: 1, BaseDelay: DefaultBackoffBase}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBackoffBase
	}
	if p.BaseDelay < MinBackoffBase {
		p.BaseDelay = MinBackoffBase
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based): base * 2^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	b := p.normalized().exponential()
	b.Reset()
	wait := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

// exponential is an unjittered doubling schedule with no elapsed-time cutoff; the attempt
// count alone ends retries.
func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(time.Hour),
		backoff.WithMaxElapsedTime(0),
	)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.Attempts-1)), ctx)
}

// Options tune a single request.
type Options struct {
	// Body is sent as JSON. []byte and string bodies are sent verbatim.
	Body           any
	Headers        http.Header
	BaseURL        string
	IdempotencyKey string
	Retry          *RetryPolicy
	NoAuth         bool
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// IsJSON reports whether the server labelled the body as JSON.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// Text returns the raw body.
func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Config holds the client defaults.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// TimerFactory returns the timer one Do call waits on between attempts.
type TimerFactory func() backoff.Timer

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimer replaces the backoff timer, mainly for tests.
func WithTimer(f TimerFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.timer = f
		}
	}
}

// Client performs authenticated JSON requests with retries.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	retry   RetryPolicy
	timer   TimerFactory
	logger  *zap.Logger
}

// New builds a Client from cfg.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		retry:   RetryPolicy{Attempts: cfg.MaxAttempts, BaseDelay: cfg.BackoffBase}.normalized(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and returns the 2xx response.
//
// 429, 5xx and transport failures are retried; once the attempts run out the last failure is
// wrapped in *faults.RemoteCallFailedError. Any other status returns *faults.HTTPError at once.
func (c *Client) Do(ctx context.Context, method, path string, opts Options) (*Response, error) {
	if !opts.NoAuth && c.apiKey == "" {
		return nil, faults.InvalidInput("missing API key for %s %s", method, path)
	}
	target, err := c.resolve(path, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	payload, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	policy := c.retry
	if opts.Retry != nil {
		policy = opts.Retry.normalized()
	}

	var (
		resp     *Response
		attempts int
	)
	operation := func() error {
		attempts++
		r, err := c.once(ctx, method, target, payload, opts)
		if err == nil {
			resp = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var httpErr *faults.HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retriable() {
			return backoff.Permanent(httpErr)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.ObserveOutboundAttempt(target, "retry")
		c.logger.Debug("retrying request",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("attempt", attempts),
			zap.Int("status", faults.StatusOf(err)),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	var timer backoff.Timer
	if c.timer != nil {
		timer = c.timer()
	}

	err = backoff.RetryNotifyWithTimer(operation, policy.backOff(ctx), notify, timer)
	if err == nil {
		metrics.ObserveOutboundAttempt(target, "ok")
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, ctxErr)
	}
	metrics.ObserveOutboundAttempt(target, "error")
	var httpErr *faults.HTTPError
	if errors.As(err, &httpErr) && !httpErr.Retriable() {
		return nil, httpErr
	}
	return nil, &faults.RemoteCallFailedError{Attempts: attempts, Last: err}
}

// DoJSON is Do followed by decoding the body into out.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts Options, out any) error {
	resp, err := c.Do(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) once(ctx context.Context, method, target string, payload []byte, opts Options) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !opts.NoAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if opts.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.IdempotencyKey)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", faults.ErrTransient, method, target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", faults.ErrTransient, method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, faults.NewHTTPError(method, target, resp.StatusCode, data)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) resolve(path, baseOverride string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	base := baseOverride
	if base == "" {
		base = c.baseURL
	}
	if base == "" {
		return "", faults.InvalidInput("no base URL for relative path %q", path)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}
