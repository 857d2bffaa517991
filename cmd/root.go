// Package cmd defines and implements the CLI commands for the site-rebuilder executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/config"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
	"github.com/JakeFAU/site-rebuilder/internal/metrics"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env is what every subcommand starts from.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadEnv is a variable so tests can inject a configuration without touching disk.
var loadEnv = func(path string) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-rebuilder",
		Short: "Crawl a website and rebuild it through a hosted generation platform.",
		Long: `site-rebuilder crawls a small business website, condenses its most important
pages into an analysis with a language model, and drives the generation platform
from project creation through deployment so the rebuilt site gets a public URL.`,
		SilenceUsage: true,

		// Runs before every subcommand so they share one configuration and logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cfgFile)
			if err != nil {
				return err
			}
			metrics.Init()
			zap.ReplaceGlobals(e.logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, e))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file; defaults and REBUILDER_* variables apply without one")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
