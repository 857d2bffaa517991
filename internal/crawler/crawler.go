package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/metrics"
	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

// DefaultMaxDepth is the link depth followed when neither the caller nor the config sets one.
const DefaultMaxDepth = 2

// Config tunes the crawl.
type Config struct {
	MaxDepth    int
	MaxPages    int
	Concurrency int
	// MaxPageBytes drops pages whose raw markup is larger. 0 disables the check.
	MaxPageBytes int
}

// Crawler walks a single site breadth-first through a Renderer.
type Crawler struct {
	renderer Renderer
	sink     *Sink
	cfg      Config
	logger   *zap.Logger
}

// New returns a Crawler. sink may be nil to skip snapshots.
func New(renderer Renderer, sink *Sink, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{renderer: renderer, sink: sink, cfg: cfg, logger: logger}
}

type task struct {
	url   string
	depth int
}

type crawlRun struct {
	root     string
	slug     string
	maxDepth int
	pages    *PageMap
	visited  *VisitedSet
	queue    *frontier
}

// Crawl visits rootURL and every same-site page reachable within maxDepth link hops. A
// negative maxDepth uses the configured depth.
//
// Only an invalid root URL or a cancelled context is returned as an error. Pages that fail to
// render are logged and left out of the map.
func (c *Crawler) Crawl(ctx context.Context, rootURL string, maxDepth int) (*PageMap, error) {
	root, err := urlnorm.Normalize(rootURL)
	if err != nil {
		return nil, err
	}
	slug, err := urlnorm.Slugify(root)
	if err != nil {
		return nil, err
	}
	if maxDepth < 0 {
		maxDepth = c.cfg.MaxDepth
	}

	run := &crawlRun{
		root:     root,
		slug:     slug,
		maxDepth: maxDepth,
		pages:    NewPageMap(),
		visited:  NewVisitedSet(),
		queue:    newFrontier(),
	}
	run.visited.MarkIfNew(root)
	run.queue.push(task{url: root})
	stop := context.AfterFunc(ctx, run.queue.close)
	defer stop()

	c.logger.Info("crawl started",
		zap.String("url", root),
		zap.String("slug", slug),
		zap.Int("max_depth", maxDepth),
		zap.Int("workers", c.cfg.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				t, ok := run.queue.pop()
				if !ok {
					return nil
				}
				c.visit(gctx, run, t)
				run.queue.done()
			}
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return run.pages, fmt.Errorf("crawl %s: %w", root, err)
	}
	c.logger.Info("crawl finished",
		zap.String("slug", slug),
		zap.Int("pages", run.pages.Len()),
		zap.Int("discovered", run.visited.Len()),
	)
	return run.pages, nil
}

func (c *Crawler) visit(ctx context.Context, run *crawlRun, t task) {
	logger := c.logger.With(zap.String("url", t.url), zap.Int("depth", t.depth))

	rendered, err := c.renderer.Render(ctx, t.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = fmt.Errorf("%w: %s: %w", faults.ErrPartialCrawl, t.url, err)
		logger.Warn("skipping page", zap.Error(err))
		metrics.ObserveCrawl(t.url, "error", 0)
		return
	}
	if c.cfg.MaxPageBytes > 0 && len(rendered.HTML) > c.cfg.MaxPageBytes {
		logger.Warn("skipping oversized page", zap.Int("bytes", len(rendered.HTML)))
		metrics.ObserveCrawl(t.url, "too_large", 0)
		return
	}

	cleaned := Clean(rendered.HTML)
	text := strings.TrimSpace(rendered.Text)
	if text == "" {
		text = VisibleText(cleaned)
	}
	rec := PageRecord{URL: t.url, HTML: cleaned, VisibleText: text, Depth: t.depth}
	if !run.pages.Put(rec) {
		return
	}
	metrics.ObserveCrawl(t.url, "ok", len(cleaned))
	logger.Debug("page captured", zap.Int("bytes", len(cleaned)))

	if c.sink != nil {
		if err := c.sink.Save(ctx, run.slug, run.root, rec, rendered.Screenshot); err != nil {
			logger.Warn("snapshot failed", zap.Error(err))
		}
	}

	if t.depth >= run.maxDepth {
		return
	}
	base, err := url.Parse(firstNonEmpty(rendered.FinalURL, t.url))
	if err != nil {
		return
	}
	for _, link := range ExtractLinks(rendered.HTML, base) {
		if !urlnorm.SameSite(link, run.root) {
			continue
		}
		if _, added := run.visited.MarkIfNewWithin(link, c.cfg.MaxPages); added {
			run.queue.push(task{url: link, depth: t.depth + 1})
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// frontier is the crawl work queue. pending counts queued plus in-flight tasks; the queue
// closes itself when it drops to zero, which is how the workers learn the site is exhausted.
type frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []task
	pending int
	closed  bool
}

func newFrontier() *frontier {
	f := &frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *frontier) push(t task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.tasks = append(f.tasks, t)
	f.pending++
	f.cond.Signal()
}

func (f *frontier) pop() (task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.tasks) == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return task{}, false
	}
	t := f.tasks[0]
	f.tasks = f.tasks[1:]
	return t, true
}

func (f *frontier) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending <= 0 {
		f.closed = true
		f.cond.Broadcast()
	}
}

func (f *frontier) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}
