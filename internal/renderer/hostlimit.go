// Package renderer holds what the page renderers share.
package renderer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-rebuilder/internal/metrics"
)

// HostLimiter spaces out requests to the same host. A zero QPS disables it.
type HostLimiter struct {
	qps      float64
	limiters sync.Map
	logger   *zap.Logger
}

// NewHostLimiter returns a limiter allowing qps requests per second per host.
func NewHostLimiter(qps float64, logger *zap.Logger) *HostLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostLimiter{qps: qps, logger: logger}
}

// Wait blocks until rawURL's host has budget or ctx ends.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil || h.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Hostname())
	val, _ := h.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(h.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
		h.logger.Debug("rate limited request", zap.String("host", host), zap.Duration("waited", waited))
	}
	return nil
}
