// Package orchestrator takes a site slug from nothing to a live deployment on the generation
// platform: project, chat, completed version, deployment, then an optional alias and
// announcement.
//
// Every identifier is persisted as soon as it exists and loaded before the step that would
// create it, so a rerun after a partial failure resumes where the last run stopped. The whole
// sequence for one slug runs under a per-key lock.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/clock/system"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/hash/sha256"
	"github.com/JakeFAU/site-rebuilder/internal/id/uuid"
	"github.com/JakeFAU/site-rebuilder/internal/keymutex"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
	"github.com/JakeFAU/site-rebuilder/internal/metrics"
	"github.com/JakeFAU/site-rebuilder/internal/notify"
	v0 "github.com/JakeFAU/site-rebuilder/internal/v0"
)

// Platform is the remote API the orchestrator drives.
type Platform interface {
	CreateProject(ctx context.Context, name, idempotencyKey string) (v0.Project, error)
	CreateChat(ctx context.Context, projectID, message, idempotencyKey string) (v0.Chat, error)
	GetChat(ctx context.Context, chatID string) (v0.Chat, error)
	CreateDeployment(ctx context.Context, req v0.DeploymentRequest, idempotencyKey string) (v0.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID string) (v0.Deployment, error)
	GetDeploymentErrors(ctx context.Context, deploymentID string) ([]json.RawMessage, error)
	AssignAlias(ctx context.Context, deploymentID, alias string) (v0.Alias, error)
}

// Clock abstracts time for polling.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Hasher derives idempotency keys.
type Hasher interface {
	Key(parts ...string) string
}

// SuffixSource produces random suffixes for alias retries.
type SuffixSource interface {
	Suffix(n int) (string, error)
}

// Notifier announces a finished deployment.
type Notifier interface {
	Notify(ctx context.Context, a notify.Announcement) error
}

// Outcome reports how a best-effort step ended.
type Outcome string

// Outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Steps, as used in logs, metrics and Result.Reused.
const (
	StepProject    = "project"
	StepChat       = "chat"
	StepVersion    = "version"
	StepDeployment = "deployment"
	StepAlias      = "alias"
	StepNotify     = "notify"
)

const (
	aliasConflictRetries = 3
	aliasSuffixLen       = 6
)

// Config holds polling deadlines and the alias policy.
type Config struct {
	ChatTimeout        time.Duration
	ChatPollInterval   time.Duration
	DeployTimeout      time.Duration
	DeployPollInterval time.Duration
	AliasEnabled       bool
	AliasDomain        string
}

// DefaultConfig polls chats for 120s every 1.5s and deployments for 180s every 2s.
func DefaultConfig() Config {
	return Config{
		ChatTimeout:        120 * time.Second,
		ChatPollInterval:   1500 * time.Millisecond,
		DeployTimeout:      180 * time.Second,
		DeployPollInterval: 2 * time.Second,
		AliasDomain:        "vercel.app",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = d.ChatTimeout
	}
	if c.ChatPollInterval <= 0 {
		c.ChatPollInterval = d.ChatPollInterval
	}
	if c.DeployTimeout <= 0 {
		c.DeployTimeout = d.DeployTimeout
	}
	if c.DeployPollInterval <= 0 {
		c.DeployPollInterval = d.DeployPollInterval
	}
	if c.AliasDomain == "" {
		c.AliasDomain = d.AliasDomain
	}
	return c
}

// Request describes one site to bring online.
type Request struct {
	Slug string
	// ProjectName defaults to Slug.
	ProjectName string
	// Message is the generation-ready prompt for the first chat.
	Message string
	// SourceURL is the original site, announced as the old URL.
	SourceURL string
}

// Result carries every identifier reached, also on failure.
type Result struct {
	ProjectID    string  `json:"projectId,omitempty"`
	ChatID       string  `json:"chatId,omitempty"`
	VersionID    string  `json:"versionId,omitempty"`
	DeploymentID string  `json:"deploymentId,omitempty"`
	WebURL       string  `json:"webUrl,omitempty"`
	InspectorURL string  `json:"inspectorUrl,omitempty"`
	AliasURL     string  `json:"aliasUrl,omitempty"`
	Alias        Outcome `json:"alias"`
	Notification Outcome `json:"notification"`
	// Reused lists the steps whose identifiers were loaded from state instead of created.
	Reused []string `json:"reused,omitempty"`
}

// PublicURL is the alias when one was assigned, else the deployment URL.
func (r Result) PublicURL() string {
	if r.AliasURL != "" {
		return r.AliasURL
	}
	return r.WebURL
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLocks shares a key mutex with other components.
func WithLocks(m *keymutex.Mutex) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.locks = m
		}
	}
}

// WithNotifier enables announcements.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithSuffixSource replaces the random alias suffix source.
func WithSuffixSource(s SuffixSource) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.suffixes = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger)
	}
}

// Orchestrator runs the remote resource sequence.
type Orchestrator struct {
	platform Platform
	state    *StateStore
	cfg      Config
	locks    *keymutex.Mutex
	clock    Clock
	hasher   Hasher
	suffixes SuffixSource
	notifier Notifier
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(platform Platform, state *StateStore, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		platform: platform,
		state:    state,
		cfg:      cfg.withDefaults(),
		locks:    keymutex.New(),
		clock:    system.New(),
		hasher:   sha256.New(),
		suffixes: uuid.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LockKey is the key the sequence for slug runs under.
func LockKey(slug string) string {
	return "remote:" + slug
}

// Run executes the sequence for req.Slug. On error the Result still holds every identifier
// reached before the failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	req.Slug = strings.TrimSpace(req.Slug)
	if req.Slug == "" {
		return Result{}, faults.InvalidInput("slug is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return Result{}, faults.InvalidInput("message is required")
	}
	if req.ProjectName == "" {
		req.ProjectName = req.Slug
	}

	res := Result{Alias: OutcomeSkipped, Notification: OutcomeSkipped}
	err := o.locks.WithLock(ctx, LockKey(req.Slug), func(ctx context.Context) error {
		return o.run(ctx, req, &res)
	})
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req Request, res *Result) error {
	log := o.logger.With(zap.String("slug", req.Slug))

	if err := o.ensureProject(ctx, req, res, log); err != nil {
		return err
	}
	created, err := o.ensureChat(ctx, req, res, log)
	if err != nil {
		return err
	}
	deployed, err := o.persistedDeployment(ctx, req, res, log)
	if err != nil {
		return err
	}
	if !deployed {
		if err := o.awaitVersion(ctx, res, created, log); err != nil {
			return err
		}
		if err := o.ensureDeployment(ctx, req, res, log); err != nil {
			return err
		}
	}
	res.Alias = o.assignAlias(ctx, req, res, log)
	res.Notification = o.announce(ctx, req, res, log)
	return nil
}

func (o *Orchestrator) ensureProject(ctx context.Context, req Request, res *Result, log *zap.Logger) error {
	id, ok, err := o.state.Load(ctx, req.Slug, ProjectIDFile)
	if err != nil {
		return err
	}
	if ok {
		res.ProjectID = id
		o.reused(res, StepProject, id, log)
		return nil
	}
	p, err := o.platform.CreateProject(ctx, req.ProjectName, o.hasher.Key("project", req.ProjectName))
	if err != nil {
		metrics.ObserveStep(StepProject, "failed")
		return fmt.Errorf("create project: %w", err)
	}
	if err := o.state.Save(ctx, req.Slug, ProjectIDFile, p.ID); err != nil {
		return err
	}
	res.ProjectID = p.ID
	metrics.ObserveStep(StepProject, "created")
	log.Info("project created", zap.String("step", StepProject), zap.String("project_id", p.ID))
	return nil
}

// ensureChat returns the freshly created chat, or nil when the id came from state.
func (o *Orchestrator) ensureChat(ctx context.Context, req Request, res *Result, log *zap.Logger) (*v0.Chat, error) {
	id, ok, err := o.state.Load(ctx, req.Slug, ChatIDFile)
	if err != nil {
		return nil, err
	}
	if ok {
		res.ChatID = id
		o.reused(res, StepChat, id, log)
		return nil, nil
	}
	chat, err := o.platform.CreateChat(ctx, res.ProjectID, req.Message, o.hasher.Key("chat", res.ProjectID, req.Message))
	if err != nil {
		metrics.ObserveStep(StepChat, "failed")
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if err := o.state.Save(ctx, req.Slug, ChatIDFile, chat.ID); err != nil {
		return nil, err
	}
	res.ChatID = chat.ID
	metrics.ObserveStep(StepChat, "created")
	log.Info("chat created", zap.String("step", StepChat), zap.String("chat_id", chat.ID))
	return &chat, nil
}

func (o *Orchestrator) awaitVersion(ctx context.Context, res *Result, created *v0.Chat, log *zap.Logger) error {
	if created != nil {
		if id, done := completedVersion(*created); done {
			res.VersionID = id
			metrics.ObserveStep(StepVersion, "succeeded")
			return nil
		}
	}

	start := o.clock.Now()
	last := "unknown"
	for o.clock.Now().Sub(start) < o.cfg.ChatTimeout {
		chat, err := o.platform.GetChat(ctx, res.ChatID)
		if err != nil {
			metrics.ObserveStep(StepVersion, "failed")
			return fmt.Errorf("poll chat %s: %w", res.ChatID, err)
		}
		if id, done := completedVersion(chat); done {
			res.VersionID = id
			metrics.ObserveStep(StepVersion, "succeeded")
			log.Info("version ready", zap.String("step", StepVersion), zap.String("version_id", id))
			return nil
		}
		if strings.EqualFold(chat.VersionStatus(), v0.VersionFailed) {
			metrics.ObserveStep(StepVersion, "failed")
			detail := ""
			if len(chat.LatestVersion.Errors) > 0 {
				detail = ": " + v0.Describe(chat.LatestVersion.Errors)
			}
			return fmt.Errorf("%w: chat %s version %s failed%s", faults.ErrPermanentRemote, res.ChatID, chat.LatestVersion.ID, detail)
		}
		last = chat.VersionStatus()
		log.Debug("waiting for version", zap.String("step", StepVersion), zap.String("status", last))
		if err := o.clock.Sleep(ctx, o.cfg.ChatPollInterval); err != nil {
			return fmt.Errorf("poll chat %s: %w", res.ChatID, err)
		}
	}
	metrics.ObserveStep(StepVersion, "failed")
	return &faults.TimeoutError{Op: "chat " + res.ChatID + " version", LastStatus: last, After: o.cfg.ChatTimeout}
}

func completedVersion(chat v0.Chat) (string, bool) {
	lv := chat.LatestVersion
	if lv == nil || lv.ID == "" || !strings.EqualFold(lv.Status, v0.VersionCompleted) {
		return "", false
	}
	return lv.ID, true
}

// persistedDeployment reports whether a finished deployment record exists for the slug; if so
// the version and deployment steps are skipped.
func (o *Orchestrator) persistedDeployment(ctx context.Context, req Request, res *Result, log *zap.Logger) (bool, error) {
	raw, ok, err := o.state.LoadRaw(ctx, req.Slug, DeploymentFile)
	if err != nil || !ok {
		return false, err
	}
	var d v0.Deployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return false, fmt.Errorf("decode persisted deployment: %w", err)
	}
	if d.ID == "" {
		return false, nil
	}
	res.DeploymentID, res.WebURL, res.InspectorURL = d.ID, d.WebURL, d.InspectorURL
	o.reused(res, StepDeployment, d.ID, log)
	return true, nil
}

// deploymentAttempt counts terminal deployment failures for the slug. The count salts the
// deployment idempotency key.
func (o *Orchestrator) deploymentAttempt(ctx context.Context, slug string) (int, error) {
	v, ok, err := o.state.Load(ctx, slug, DeploymentAttemptFile)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("decode %s state %q: invalid attempt", DeploymentAttemptFile, v)
	}
	return n, nil
}

func (o *Orchestrator) deploymentKey(res *Result, attempt int) string {
	parts := []string{"deployment", res.ProjectID, res.ChatID, res.VersionID}
	if attempt > 0 {
		parts = append(parts, strconv.Itoa(attempt))
	}
	return o.hasher.Key(parts...)
}

func (o *Orchestrator) ensureDeployment(ctx context.Context, req Request, res *Result, log *zap.Logger) error {
	attempt, err := o.deploymentAttempt(ctx, req.Slug)
	if err != nil {
		return err
	}

	var d v0.Deployment
	id, ok, err := o.state.Load(ctx, req.Slug, DeploymentIDFile)
	if err != nil {
		return err
	}
	if ok {
		d.ID = id
		o.reused(res, StepDeployment, id, log)
	} else {
		d, err = o.platform.CreateDeployment(ctx, v0.DeploymentRequest{
			ProjectID: res.ProjectID,
			ChatID:    res.ChatID,
			VersionID: res.VersionID,
		}, o.deploymentKey(res, attempt))
		if err != nil {
			metrics.ObserveStep(StepDeployment, "failed")
			return fmt.Errorf("create deployment: %w", err)
		}
		if err := o.state.Save(ctx, req.Slug, DeploymentIDFile, d.ID); err != nil {
			return err
		}
		log.Info("deployment created", zap.String("step", StepDeployment), zap.String("deployment_id", d.ID))
	}
	res.DeploymentID = d.ID

	final, err := o.awaitDeployment(ctx, d, log)
	if err != nil {
		metrics.ObserveStep(StepDeployment, "failed")
		var failed *faults.DeploymentFailedError
		if errors.As(err, &failed) {
			if cerr := o.state.Clear(ctx, req.Slug, DeploymentIDFile); cerr != nil {
				log.Warn("clear failed deployment id", zap.Error(cerr))
			}
			if serr := o.state.Save(ctx, req.Slug, DeploymentAttemptFile, strconv.Itoa(attempt+1)); serr != nil {
				log.Warn("persist deployment attempt", zap.Error(serr))
			}
		}
		return err
	}
	record, err := final.Record()
	if err != nil {
		return fmt.Errorf("encode deployment: %w", err)
	}
	if err := o.state.Save(ctx, req.Slug, DeploymentFile, string(record)); err != nil {
		return err
	}
	res.WebURL, res.InspectorURL = final.WebURL, final.InspectorURL
	metrics.ObserveStep(StepDeployment, "created")
	log.Info("deployment ready", zap.String("step", StepDeployment), zap.String("web_url", final.WebURL))
	return nil
}

func (o *Orchestrator) awaitDeployment(ctx context.Context, d v0.Deployment, log *zap.Logger) (v0.Deployment, error) {
	switch {
	case deploymentReady(d.Status):
		return d, nil
	case deploymentFailed(d.Status):
		return d, o.deploymentError(ctx, d, log)
	}

	start := o.clock.Now()
	last := d.Status
	if last == "" {
		last = "unknown"
	}
	for o.clock.Now().Sub(start) < o.cfg.DeployTimeout {
		cur, err := o.platform.GetDeployment(ctx, d.ID)
		if err != nil {
			return d, fmt.Errorf("poll deployment %s: %w", d.ID, err)
		}
		if cur.WebURL == "" {
			cur.WebURL = d.WebURL
		}
		if cur.InspectorURL == "" {
			cur.InspectorURL = d.InspectorURL
		}
		d = cur
		switch {
		case deploymentReady(d.Status):
			return d, nil
		case deploymentFailed(d.Status):
			return d, o.deploymentError(ctx, d, log)
		}
		last = d.Status
		if last == "" {
			last = "missing"
		}
		log.Debug("waiting for deployment", zap.String("step", StepDeployment), zap.String("status", last))
		if err := o.clock.Sleep(ctx, o.cfg.DeployPollInterval); err != nil {
			return d, fmt.Errorf("poll deployment %s: %w", d.ID, err)
		}
	}
	return d, &faults.TimeoutError{Op: "deployment " + d.ID, LastStatus: last, After: o.cfg.DeployTimeout}
}

// deploymentError fetches the platform's error detail for a failed deployment. The detail
// is optional; the failure is reported either way.
func (o *Orchestrator) deploymentError(ctx context.Context, d v0.Deployment, log *zap.Logger) error {
	failed := &faults.DeploymentFailedError{DeploymentID: d.ID, Status: d.Status}
	entries, err := o.platform.GetDeploymentErrors(ctx, d.ID)
	if err != nil {
		log.Warn("fetch deployment errors", zap.String("deployment_id", d.ID), zap.Error(err))
		return failed
	}
	if len(entries) > 0 {
		failed.Detail = v0.Describe(entries[0])
	}
	return failed
}

func deploymentReady(status string) bool {
	switch strings.ToLower(status) {
	case "ready", "completed", "succeeded":
		return true
	}
	return false
}

func deploymentFailed(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "error":
		return true
	}
	return false
}

func (o *Orchestrator) assignAlias(ctx context.Context, req Request, res *Result, log *zap.Logger) Outcome {
	if !o.cfg.AliasEnabled {
		metrics.ObserveStep(StepAlias, string(OutcomeSkipped))
		return OutcomeSkipped
	}
	if url, ok, err := o.state.Load(ctx, req.Slug, AliasFile); err == nil && ok {
		res.AliasURL = url
		o.reused(res, StepAlias, url, log)
		return OutcomeSucceeded
	}

	label := AliasLabel(req.Slug)
	name := label + "." + o.cfg.AliasDomain
	for attempt := 0; ; attempt++ {
		alias, err := o.platform.AssignAlias(ctx, res.DeploymentID, name)
		if err == nil {
			res.AliasURL = alias.URL
			if serr := o.state.Save(ctx, req.Slug, AliasFile, alias.URL); serr != nil {
				log.Warn("persist alias", zap.Error(serr))
			}
			metrics.ObserveStep(StepAlias, string(OutcomeSucceeded))
			log.Info("alias assigned", zap.String("step", StepAlias), zap.String("alias", alias.URL))
			return OutcomeSucceeded
		}
		if faults.StatusOf(err) != http.StatusConflict || attempt >= aliasConflictRetries {
			metrics.ObserveStep(StepAlias, string(OutcomeFailed))
			log.Warn("alias assignment failed", zap.String("step", StepAlias), zap.String("alias", name), zap.Int("attempt", attempt+1), zap.Error(err))
			return OutcomeFailed
		}
		suffix, serr := o.suffixes.Suffix(aliasSuffixLen)
		if serr != nil {
			metrics.ObserveStep(StepAlias, string(OutcomeFailed))
			log.Warn("alias suffix", zap.Error(serr))
			return OutcomeFailed
		}
		name = label + "-" + suffix + "." + o.cfg.AliasDomain
	}
}

// AliasLabel turns a slug into a DNS label: underscores become hyphens, which are then
// trimmed from both ends.
func AliasLabel(slug string) string {
	return strings.Trim(strings.ReplaceAll(strings.ToLower(slug), "_", "-"), "-")
}

func (o *Orchestrator) announce(ctx context.Context, req Request, res *Result, log *zap.Logger) Outcome {
	if o.notifier == nil {
		metrics.ObserveStep(StepNotify, string(OutcomeSkipped))
		return OutcomeSkipped
	}
	err := o.notifier.Notify(ctx, notify.Announcement{
		Slug:         req.Slug,
		OldURL:       req.SourceURL,
		NewURL:       res.PublicURL(),
		DeploymentID: res.DeploymentID,
	})
	if err != nil {
		metrics.ObserveStep(StepNotify, string(OutcomeFailed))
		log.Warn("announcement failed", zap.String("step", StepNotify), zap.Error(err))
		return OutcomeFailed
	}
	metrics.ObserveStep(StepNotify, string(OutcomeSucceeded))
	return OutcomeSucceeded
}

func (o *Orchestrator) reused(res *Result, step, id string, log *zap.Logger) {
	res.Reused = append(res.Reused, step)
	metrics.ObserveStep(step, "reused")
	log.Info("reusing persisted state", zap.String("step", step), zap.String("id", id))
}
