// Package hybrid renders pages with a cheap static fetch and escalates to a headless browser
// only when the response looks like a client-side application shell.
package hybrid

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
)

// Renderer combines a static and a headless crawler.Renderer.
type Renderer struct {
	static   crawler.Renderer
	headless crawler.Renderer
	detector *Detector
	logger   *zap.Logger
}

// New builds a Renderer. A nil detector uses NewDetector(0).
func New(static, headless crawler.Renderer, detector *Detector, logger *zap.Logger) (*Renderer, error) {
	if static == nil || headless == nil {
		return nil, fmt.Errorf("hybrid renderer needs both a static and a headless renderer")
	}
	if detector == nil {
		detector = NewDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{static: static, headless: headless, detector: detector, logger: logger}, nil
}

// Render fetches rawURL statically and re-renders it in the browser when the detector asks
// for it or the static fetch failed. Cancellation and robots.txt refusals are final.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.Rendered, error) {
	page, err := r.static.Render(ctx, rawURL)
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, colly.ErrRobotsTxtBlocked)):
		return crawler.Rendered{}, err
	case err != nil:
		r.logger.Debug("static fetch failed, using browser", zap.String("url", rawURL), zap.Error(err))
	case !r.detector.NeedsBrowser(page.StatusCode, []byte(page.HTML)):
		return page, nil
	default:
		r.logger.Debug("promoting to browser", zap.String("url", rawURL))
	}
	return r.headless.Render(ctx, rawURL)
}
