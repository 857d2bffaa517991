package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

type crawlSummary struct {
	Slug  string   `json:"slug"`
	Root  string   `json:"root"`
	Pages []string `json:"pages"`
}

// newCrawlCmd creates the 'crawl' subcommand, which snapshots a site without generating
// anything.
func newCrawlCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and store page snapshots",
		Long: `Renders the site's homepage and every same-site page reachable within the
configured depth, storing HTML, visible text and screenshots under the site's slug.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			root, err := urlnorm.Normalize(args[0])
			if err != nil {
				return err
			}
			slug, err := urlnorm.Slugify(root)
			if err != nil {
				return err
			}

			store, closeStore, err := buildStore(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer closeStore()
			c, closeRenderer, err := buildCrawler(e.cfg, store, e.logger)
			if err != nil {
				return err
			}
			defer closeRenderer()

			if !cmd.Flags().Changed("depth") {
				depth = e.cfg.Crawler.MaxDepth
			}
			pages, err := c.Crawl(ctx, root, depth)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", root, err)
			}
			e.logger.Info("crawl finished", zap.String("slug", slug), zap.Int("pages", pages.Len()))
			return writeJSON(cmd.OutOrStdout(), crawlSummary{Slug: slug, Root: root, Pages: pages.URLs()})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "link depth to follow (default crawler.max_depth)")
	return cmd
}
