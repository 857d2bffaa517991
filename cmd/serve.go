package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes rebuilds over HTTP.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				e.cfg.Server.Port = port
			}
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			a, err := buildApp(ctx, e.cfg, e.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []api.Option
			if a.runs != nil {
				opts = append(opts, api.WithReadinessCheck("postgres", a.runs.Ping))
			}
			apiServer := api.NewServer(a.pipeline, e.cfg, e.logger.Named("api"), opts...)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				e.logger.Info("http server started", zap.Int("port", e.cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}
			e.logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				e.logger.Error("server shutdown error", zap.Error(err))
			}
			e.logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}
