// Package postgres keeps a history of rebuild runs in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStatus is the lifecycle state of a run row.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// RunRecord is the final state of one pipeline run.
type RunRecord struct {
	ID           string
	Slug         string
	URL          string
	ProjectID    string
	ChatID       string
	DeploymentID string
	WebURL       string
	Status       RunStatus
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RunStore writes run rows into Postgres.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "rebuild_runs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database connection.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// StartRun inserts a running row for id.
func (s *RunStore) StartRun(ctx context.Context, id, slug, url string, startedAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, slug, url, status, started_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, slug, url, RunRunning, startedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordRun upserts the final state of a run.
func (s *RunStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	slug,
	url,
	project_id,
	chat_id,
	deployment_id,
	web_url,
	status,
	error_message,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	project_id = EXCLUDED.project_id,
	chat_id = EXCLUDED.chat_id,
	deployment_id = EXCLUDED.deployment_id,
	web_url = EXCLUDED.web_url,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		rec.ID,
		rec.Slug,
		rec.URL,
		rec.ProjectID,
		rec.ChatID,
		rec.DeploymentID,
		rec.WebURL,
		rec.Status,
		errMsg,
		rec.StartedAt,
		rec.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
