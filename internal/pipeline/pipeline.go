// Package pipeline runs a full rebuild for one site: crawl, select the pages that matter,
// turn them into an analysis with the generator, and hand the result to the remote
// orchestrator. Every prompt and response is written to the object store under the site's
// slug.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/clock/system"
	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/id/uuid"
	"github.com/JakeFAU/site-rebuilder/internal/keymutex"
	"github.com/JakeFAU/site-rebuilder/internal/llm"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
	"github.com/JakeFAU/site-rebuilder/internal/metrics"
	"github.com/JakeFAU/site-rebuilder/internal/orchestrator"
	"github.com/JakeFAU/site-rebuilder/internal/prompt"
	"github.com/JakeFAU/site-rebuilder/internal/selector"
	"github.com/JakeFAU/site-rebuilder/internal/storage"
	"github.com/JakeFAU/site-rebuilder/internal/storage/postgres"
	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

// Crawler produces the page map of a site.
type Crawler interface {
	Crawl(ctx context.Context, rootURL string, maxDepth int) (*crawler.PageMap, error)
}

// Remote brings a generated site online.
type Remote interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// RunRecorder keeps the history of runs.
type RunRecorder interface {
	StartRun(ctx context.Context, id, slug, url string, startedAt time.Time) error
	RecordRun(ctx context.Context, rec postgres.RunRecord) error
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// Config selects the optional stages.
type Config struct {
	// MaxDepth is passed to the crawler; negative uses the crawler's own default.
	MaxDepth int
	// MaxPages bounds the selected pages, homepage included.
	MaxPages int
	// Refine feeds secondary pages one at a time into the previous output instead of sending
	// all selected pages in one prompt.
	Refine bool
	// DeveloperPrompt adds a final stage that turns the analysis into developer instructions,
	// which then become the chat message.
	DeveloperPrompt bool
	// SkipRemote stops after generation.
	SkipRemote bool
}

// Files lists the object keys written by a run.
type Files struct {
	Iterations      []string `json:"iterations,omitempty"`
	AnalysisPrompt  string   `json:"analysisPrompt,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
	DeveloperPrompt string   `json:"developerPrompt,omitempty"`
}

// Result describes a run, also a failed one.
type Result struct {
	RunID         string               `json:"runId"`
	Slug          string               `json:"slug"`
	URL           string               `json:"url"`
	CrawledPages  int                  `json:"crawledPages"`
	SelectedPages []string             `json:"selectedPages,omitempty"`
	Files         Files                `json:"files"`
	Remote        *orchestrator.Result `json:"remote,omitempty"`
	Duration      time.Duration        `json:"duration"`
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRemote enables the remote stage.
func WithRemote(r Remote) Option {
	return func(p *Pipeline) { p.remote = r }
}

// WithRunRecorder enables run history.
func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.runs = r }
}

// WithRanker replaces the keyword ranker used for page selection.
func WithRanker(r selector.Ranker) Option {
	return func(p *Pipeline) { p.ranker = r }
}

// WithLocks shares a key mutex with other components.
func WithLocks(m *keymutex.Mutex) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.locks = m
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(logger) }
}

// Pipeline wires the stages together.
type Pipeline struct {
	crawler   Crawler
	prompts   *prompt.Builder
	generator llm.Generator
	store     storage.ObjectStore
	remote    Remote
	runs      RunRecorder
	ranker    selector.Ranker
	locks     *keymutex.Mutex
	clock     Clock
	ids       IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New builds a Pipeline.
func New(c Crawler, prompts *prompt.Builder, generator llm.Generator, store storage.ObjectStore, cfg Config, opts ...Option) *Pipeline {
	if prompts == nil {
		prompts = prompt.NewBuilder(0)
	}
	p := &Pipeline{
		crawler:   c,
		prompts:   prompts,
		generator: generator,
		store:     store,
		locks:     keymutex.New(),
		clock:     system.New(),
		ids:       uuid.New(),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LockKey is the key a site's run is serialized under.
func LockKey(slug string) string {
	return "site:" + slug
}

// Run rebuilds the site at rawURL.
func (p *Pipeline) Run(ctx context.Context, rawURL string) (Result, error) {
	root, err := urlnorm.Normalize(strings.TrimSpace(rawURL))
	if err != nil {
		return Result{}, err
	}
	slug, err := urlnorm.Slugify(root)
	if err != nil {
		return Result{}, err
	}
	if p.generator == nil {
		return Result{}, faults.InvalidInput("no generator configured")
	}
	runID, err := p.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}

	res := Result{RunID: runID, Slug: slug, URL: root}
	log := p.logger.With(zap.String("run_id", runID), zap.String("slug", slug))
	started := p.clock.Now()
	if p.runs != nil {
		if err := p.runs.StartRun(ctx, runID, slug, root, started); err != nil {
			log.Warn("record run start", zap.Error(err))
		}
	}

	log.Info("rebuild started", zap.String("url", root))
	err = p.locks.WithLock(ctx, LockKey(slug), func(ctx context.Context) error {
		return p.run(ctx, root, &res, log)
	})
	res.Duration = p.clock.Now().Sub(started)

	status := postgres.RunSucceeded
	if err != nil {
		status = postgres.RunFailed
		log.Error("rebuild failed", zap.Duration("duration", res.Duration), zap.Error(err))
	} else {
		log.Info("rebuild finished", zap.Duration("duration", res.Duration))
	}
	metrics.ObservePipelineRun(string(status), res.Duration)
	p.record(ctx, res, status, started, err, log)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, root string, res *Result, log *zap.Logger) error {
	pages, err := p.crawler.Crawl(ctx, root, p.cfg.MaxDepth)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	res.CrawledPages = pages.Len()
	log.Info("crawl finished", zap.Int("pages", pages.Len()))

	selected, err := selector.SelectTopPages(pages, root, p.cfg.MaxPages, p.ranker)
	if err != nil {
		return err
	}
	res.SelectedPages = selected

	analysis, err := p.analyze(ctx, root, pages, selected, res)
	if err != nil {
		return err
	}

	message := analysis
	if p.cfg.DeveloperPrompt {
		dev, err := p.prompts.Developer(root, analysis)
		if err != nil {
			return err
		}
		if res.Files.DeveloperPrompt, err = p.put(ctx, res.Slug, res.Slug+"_developer_prompt.txt", dev); err != nil {
			return err
		}
		message = dev
	}

	if p.cfg.SkipRemote || p.remote == nil {
		log.Info("remote stage skipped")
		return nil
	}
	remote, err := p.remote.Run(ctx, orchestrator.Request{
		Slug:        res.Slug,
		ProjectName: res.Slug,
		Message:     message,
		SourceURL:   root,
	})
	res.Remote = &remote
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

// analyze runs the generation iterations and returns the final output.
func (p *Pipeline) analyze(ctx context.Context, root string, pages *crawler.PageMap, selected []string, res *Result) (string, error) {
	var (
		promptText string
		output     string
		err        error
	)

	if p.cfg.Refine {
		promptText, err = p.prompts.Initial(pages, root)
	} else {
		promptText, err = p.prompts.Analysis(selectedPages(pages, selected))
	}
	if err != nil {
		return "", err
	}
	if output, err = p.iterate(ctx, res, 1, "initial", promptText); err != nil {
		return "", err
	}

	if p.cfg.Refine {
		for i, pageURL := range selected[1:] {
			rec, _ := pages.Get(pageURL)
			if promptText, err = p.prompts.Refinement(output, rec.URL, rec.HTML); err != nil {
				return "", err
			}
			if output, err = p.iterate(ctx, res, i+2, "refine", promptText); err != nil {
				return "", err
			}
		}
	}

	if res.Files.AnalysisPrompt, err = p.put(ctx, res.Slug, res.Slug+"_full_analysis_prompt.txt", promptText); err != nil {
		return "", err
	}
	if res.Files.Analysis, err = p.put(ctx, res.Slug, res.Slug+"_site_analysis.txt", output); err != nil {
		return "", err
	}
	return output, nil
}

func (p *Pipeline) iterate(ctx context.Context, res *Result, n int, kind, promptText string) (string, error) {
	promptKey, err := p.put(ctx, res.Slug, fmt.Sprintf("iterations/%02d_%s_prompt.txt", n, kind), promptText)
	if err != nil {
		return "", err
	}
	output, err := p.generator.Generate(ctx, promptText)
	if err != nil {
		return "", fmt.Errorf("generate iteration %d: %w", n, err)
	}
	responseKey, err := p.put(ctx, res.Slug, fmt.Sprintf("iterations/%02d_response.txt", n), output)
	if err != nil {
		return "", err
	}
	res.Files.Iterations = append(res.Files.Iterations, promptKey, responseKey)
	return output, nil
}

func (p *Pipeline) put(ctx context.Context, slug, name, body string) (string, error) {
	key := path.Join(slug, name)
	if _, err := storage.PutString(ctx, p.store, key, "text/plain; charset=utf-8", body); err != nil {
		return "", err
	}
	return key, nil
}

func selectedPages(pages *crawler.PageMap, selected []string) []prompt.Page {
	out := make([]prompt.Page, 0, len(selected))
	for _, u := range selected {
		if rec, ok := pages.Get(u); ok {
			out = append(out, prompt.Page{URL: rec.URL, HTML: rec.HTML})
		}
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, res Result, status postgres.RunStatus, started time.Time, runErr error, log *zap.Logger) {
	if p.runs == nil {
		return
	}
	rec := postgres.RunRecord{
		ID:         res.RunID,
		Slug:       res.Slug,
		URL:        res.URL,
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(res.Duration),
	}
	if r := res.Remote; r != nil {
		rec.ProjectID, rec.ChatID, rec.DeploymentID, rec.WebURL = r.ProjectID, r.ChatID, r.DeploymentID, r.PublicURL()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	// The run's own context may be the reason it failed.
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		ctx = context.WithoutCancel(ctx)
	}
	if err := p.runs.RecordRun(ctx, rec); err != nil {
		log.Warn("record run", zap.Error(err))
	}
}
