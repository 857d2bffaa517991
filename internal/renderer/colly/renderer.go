// Package collyrenderer fetches pages with a plain HTTP GET through gocolly. It is the
// renderer used when headless Chrome is unavailable; it never produces screenshots.
package collyrenderer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/renderer"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	DomainQPS     float64
	// MaxBodySize caps downloaded bytes. 0 keeps colly's default.
	MaxBodySize int
}

// Renderer implements crawler.Renderer using the Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
	hosts         *renderer.HostLimiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport, state: newRobotsProbeState(logger)}
	}
	c.WithTransport(transport)

	return &Renderer{
		cfg:           cfg,
		baseCollector: c,
		hosts:         renderer.NewHostLimiter(cfg.DomainQPS, logger),
		logger:        logger,
	}
}

// Render performs one GET. Error statuses, robots.txt refusals and transport failures are
// returned as errors. Text is left empty for the crawler to derive from the cleaned markup.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.Rendered, error) {
	if err := r.hosts.Wait(ctx, rawURL); err != nil {
		return crawler.Rendered{}, err
	}

	var (
		result   crawler.Rendered
		fetchErr error
	)
	collector := r.baseCollector.Clone()
	collector.Context = ctx
	r.configureCollectorHooks(collector, &result, &fetchErr)

	if err := collector.Visit(rawURL); err != nil {
		if ctx.Err() != nil {
			return crawler.Rendered{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		return crawler.Rendered{}, fmt.Errorf("colly visit %s: %w", rawURL, err)
	}
	if fetchErr != nil {
		return crawler.Rendered{}, fmt.Errorf("colly response %s: %w", rawURL, fetchErr)
	}
	if result.StatusCode >= http.StatusBadRequest {
		return crawler.Rendered{}, fmt.Errorf("colly response %s: HTTP %d", rawURL, result.StatusCode)
	}
	result.URL = rawURL
	return result, nil
}

func (r *Renderer) configureCollectorHooks(hooks collectorHooks, result *crawler.Rendered, fetchErr *error) {
	hooks.OnResponse(func(resp *colly.Response) {
		*result = crawler.Rendered{
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			HTML:       string(resp.Body),
		}
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			*fetchErr = fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
