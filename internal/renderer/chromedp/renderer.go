// Package chromedprenderer renders pages in headless Chrome so that client-side markup, the
// browser's innerText and a full-page screenshot are captured.
package chromedprenderer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/renderer"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// DomainQPS limits navigations per host. 0 disables the limit.
	DomainQPS   float64
	Screenshots bool
}

// Renderer implements crawler.Renderer with chromedp. Browser processes start lazily on the
// first navigation.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	hosts       *renderer.HostLimiter
	logger      *zap.Logger
}

// New creates a headless renderer.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		hosts:       renderer.NewHostLimiter(cfg.DomainQPS, logger),
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL and returns the rendered DOM. A document status of 400 or above
// is an error.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.Rendered, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.Rendered{}, err
	}
	defer r.release()

	if err := r.hosts.Wait(ctx, rawURL); err != nil {
		return crawler.Rendered{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	taskCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	page, err := r.run(taskCtx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Rendered{}, fmt.Errorf("render %s: %w", rawURL, ctx.Err())
		}
		return crawler.Rendered{}, err
	}

	status, _, finalURL := meta.snapshotWithFallbacks(rawURL, page.location)
	if err := statusError(rawURL, status); err != nil {
		return crawler.Rendered{}, err
	}
	r.logger.Debug("rendered page",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
		zap.Int("status", status),
		zap.Int("screenshot_bytes", len(page.screenshot)),
	)
	return crawler.Rendered{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		HTML:       page.html,
		Text:       page.text,
		Screenshot: page.screenshot,
	}, nil
}

type capturedPage struct {
	html       string
	text       string
	location   string
	screenshot []byte
}

func (r *Renderer) run(ctx context.Context, rawURL string) (capturedPage, error) {
	var page capturedPage
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &page.text),
	}
	if r.cfg.Screenshots {
		actions = append(actions, chromedp.FullScreenshot(&page.screenshot, 90))
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return capturedPage{}, fmt.Errorf("chromedp run %s: %w", rawURL, err)
	}
	return page, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// errHTTPStatus marks a document that loaded with an error status.
var errHTTPStatus = errors.New("document returned error status")

func statusError(rawURL string, status int) error {
	if status < http.StatusBadRequest {
		return nil
	}
	return fmt.Errorf("%w: %s: HTTP %d", errHTTPStatus, rawURL, status)
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

// capture keeps the first document response; later ones belong to frames or redirects
// already followed.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, u := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		u = finalURL
	case u != "":
	default:
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, u
}
