package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRebuildCmd creates the 'rebuild' subcommand, which runs the whole pipeline once.
func newRebuildCmd() *cobra.Command {
	var skipRemote bool
	cmd := &cobra.Command{
		Use:   "rebuild <url>",
		Short: "Crawl, analyze and redeploy a site",
		Long: `Crawls the site, selects its most important pages, generates the site analysis and
hands it to the generation platform, which builds and deploys the new site. The run
result, including the public URL, is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), e.cfg, e.logger, skipRemote)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.pipeline.Run(cmd.Context(), args[0])
			if res.RunID != "" {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					e.logger.Warn("print result", zap.Error(err))
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&skipRemote, "skip-remote", false, "stop after generating the analysis")
	return cmd
}
