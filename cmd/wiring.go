package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/config"
	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
	"github.com/JakeFAU/site-rebuilder/internal/keymutex"
	"github.com/JakeFAU/site-rebuilder/internal/llm"
	"github.com/JakeFAU/site-rebuilder/internal/notify"
	"github.com/JakeFAU/site-rebuilder/internal/orchestrator"
	"github.com/JakeFAU/site-rebuilder/internal/pipeline"
	"github.com/JakeFAU/site-rebuilder/internal/prompt"
	chromedprenderer "github.com/JakeFAU/site-rebuilder/internal/renderer/chromedp"
	collyrenderer "github.com/JakeFAU/site-rebuilder/internal/renderer/colly"
	"github.com/JakeFAU/site-rebuilder/internal/renderer/hybrid"
	"github.com/JakeFAU/site-rebuilder/internal/selector"
	"github.com/JakeFAU/site-rebuilder/internal/storage"
	"github.com/JakeFAU/site-rebuilder/internal/storage/gcs"
	"github.com/JakeFAU/site-rebuilder/internal/storage/local"
	"github.com/JakeFAU/site-rebuilder/internal/storage/memory"
	"github.com/JakeFAU/site-rebuilder/internal/storage/postgres"
	"github.com/JakeFAU/site-rebuilder/internal/v0"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// closers releases resources in reverse order of acquisition.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.ObjectStore, func(), error) {
	var (
		store   storage.ObjectStore
		closeFn = func() {}
	)
	switch cfg.Storage.Backend {
	case "memory":
		store = memory.NewBlobStore()
	case "gcs":
		bs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs store: %w", err)
		}
		store = bs
		closeFn = func() {
			if err := bs.Close(); err != nil {
				logger.Warn("close gcs store", zap.Error(err))
			}
		}
	case "local", "":
		bs, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		store = bs
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Prefix != "" {
		store = storage.WithPrefix(store, cfg.Storage.Prefix)
	}
	return store, closeFn, nil
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (crawler.Renderer, func(), error) {
	static := func() *collyrenderer.Renderer {
		return collyrenderer.New(collyrenderer.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.NavTimeout(),
			DomainQPS:     cfg.Crawler.DomainQPS,
			MaxBodySize:   cfg.Crawler.MaxPageBytes,
		}, logger.Named("colly"))
	}
	headless := func() (*chromedprenderer.Renderer, error) {
		r, err := chromedprenderer.New(chromedprenderer.Config{
			MaxParallel:       cfg.Crawler.Concurrency,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			DomainQPS:         cfg.Crawler.DomainQPS,
			Screenshots:       cfg.Crawler.Screenshots,
		}, logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		return r, nil
	}

	switch cfg.Crawler.Renderer {
	case "colly":
		return static(), func() {}, nil
	case "chromedp", "":
		r, err := headless()
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "auto":
		browser, err := headless()
		if err != nil {
			return nil, nil, err
		}
		r, err := hybrid.New(static(), browser, nil, logger.Named("hybrid"))
		if err != nil {
			browser.Close()
			return nil, nil, err
		}
		return r, browser.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown renderer %q", cfg.Crawler.Renderer)
	}
}

func buildCrawler(cfg config.Config, store storage.ObjectStore, logger *zap.Logger) (*crawler.Crawler, func(), error) {
	renderer, closeFn, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	c := crawler.New(renderer, crawler.NewSink(store, logger.Named("sink")), crawler.Config{
		MaxDepth:     cfg.Crawler.MaxDepth,
		MaxPages:     cfg.Crawler.MaxPages,
		Concurrency:  cfg.Crawler.Concurrency,
		MaxPageBytes: cfg.Crawler.MaxPageBytes,
	}, logger.Named("crawler"))
	return c, closeFn, nil
}

func newHTTPClient(cfg config.Config, baseURL, apiKey string, logger *zap.Logger) *httpclient.Client {
	return httpclient.New(httpclient.Config{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Timeout:     cfg.HTTPTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
	}, httpclient.WithLogger(logger))
}

// buildNotifier returns nil when no notification channel is configured.
func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (orchestrator.Notifier, func(), error) {
	var (
		targets notify.Multi
		cls     closers
	)
	if cfg.Webhook.URL != "" {
		hook, err := notify.NewWebhook(newHTTPClient(cfg, "", "", logger.Named("webhook")), cfg.Webhook.URL)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, hook)
	}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		ps, err := notify.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, nil, err
		}
		cls.add(func() {
			if err := ps.Close(); err != nil {
				logger.Warn("close pubsub notifier", zap.Error(err))
			}
		})
		targets = append(targets, ps)
	}
	if len(targets) == 0 {
		return nil, cls.close, nil
	}
	return targets, cls.close, nil
}

func buildRemote(ctx context.Context, cfg config.Config, store storage.ObjectStore, locks *keymutex.Mutex, logger *zap.Logger) (*orchestrator.Orchestrator, func(), error) {
	if cfg.Remote.APIKey == "" {
		return nil, nil, errors.New("remote.api_key is required unless remote.skip is set")
	}
	client := v0.New(newHTTPClient(cfg, cfg.Remote.BaseURL, cfg.Remote.APIKey, logger.Named("http")), cfg.Remote.BaseURL, logger.Named("v0"))
	opts := []orchestrator.Option{
		orchestrator.WithLocks(locks),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	}
	notifier, closeFn, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if notifier != nil {
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}
	o := orchestrator.New(client, orchestrator.NewStateStore(store), orchestrator.Config{
		ChatTimeout:        cfg.ChatTimeout(),
		ChatPollInterval:   cfg.ChatPollInterval(),
		DeployTimeout:      cfg.DeployTimeout(),
		DeployPollInterval: cfg.DeployPollInterval(),
		AliasEnabled:       cfg.Remote.AliasEnabled,
		AliasDomain:        cfg.Remote.AliasDomain,
	}, opts...)
	return o, closeFn, nil
}

// app is the fully wired rebuild stack.
type app struct {
	pipeline *pipeline.Pipeline
	runs     *postgres.RunStore
	closers  closers
}

func (a *app) Close() {
	a.closers.close()
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, skipRemote bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers.add(closeStore)

	c, closeRenderer, err := buildCrawler(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	a.closers.add(closeRenderer)

	generator, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLMTimeout(),
	}, newHTTPClient(cfg, "", cfg.LLM.APIKey, logger.Named("llm_http")), logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	locks := keymutex.New()
	opts := []pipeline.Option{
		pipeline.WithLocks(locks),
		pipeline.WithRanker(selector.NewKeywordRanker(cfg.Selector.Keywords...)),
		pipeline.WithLogger(logger.Named("pipeline")),
	}

	skipRemote = skipRemote || cfg.Remote.Skip
	if !skipRemote {
		remote, closeRemote, err := buildRemote(ctx, cfg, store, locks, logger)
		if err != nil {
			return nil, err
		}
		a.closers.add(closeRemote)
		opts = append(opts, pipeline.WithRemote(remote))
	}

	if cfg.DB.DSN != "" {
		runs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.runs = runs
		a.closers.add(runs.Close)
		opts = append(opts, pipeline.WithRunRecorder(runs))
	}

	a.pipeline = pipeline.New(c, prompt.NewBuilder(cfg.Prompt.MaxChars), generator, store, pipeline.Config{
		MaxDepth:        cfg.Crawler.MaxDepth,
		MaxPages:        cfg.Selector.MaxPages,
		Refine:          cfg.Prompt.Refine,
		DeveloperPrompt: cfg.Prompt.DeveloperPrompt,
		SkipRemote:      skipRemote,
	}, opts...)
	ok = true
	return a, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
