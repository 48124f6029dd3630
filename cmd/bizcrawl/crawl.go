package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/bizcrawl/internal/config"
	"github.com/nao1215/bizcrawl/internal/log"
	"github.com/nao1215/bizcrawl/internal/pipeline"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [search-url...]",
		Short: "Discover businesses from directory search pages",
		Long: `Crawl follows directory search result pages, visits every business
detail page and stores one record per business.

After discovery, the website of every stored business is visited together
with common contact pages (/contact, /about, ...) to collect emails, phone
numbers and social links. Use --no-enrich to skip this phase.

Businesses stored by earlier runs are not fetched again.

Press Ctrl+C once to finish the pages in flight and write a partial report;
press it again to abort immediately.

Examples:
  # Search by term and location
  bizcrawl crawl --search "coffee" --location "Austin, TX"

  # Start from existing search URLs
  bizcrawl crawl "https://www.yelp.com/search?find_desc=plumber&find_loc=Denver"

  # Limit the run and skip website enrichment
  bizcrawl crawl -s bakery -l Boston --max-results 20 --no-enrich

  # Route requests through a proxy (credentials belong in BIZCRAWL_PROXY_URL)
  bizcrawl crawl -s florist -l Miami --proxy socks5h://127.0.0.1:1080

  # Use an embedded Tor daemon
  bizcrawl crawl -s florist -l Miami --proxy tor

  # Output JSON report
  bizcrawl crawl --json -s dentist -l Chicago`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Search flags
	cmd.Flags().StringP("search", "s", "",
		"Search term, used with --location when no search URL is given")
	cmd.Flags().StringP("location", "l", "",
		"Search location")

	// Crawl behavior flags
	cmd.Flags().IntP("max-results", "n", config.DefaultMaxResults,
		"Maximum number of businesses per run (1-1000)")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Stop following next pages once this many search pages were processed (counted over all search URLs)")
	addFetchFlags(cmd)

	// Enrichment flags
	cmd.Flags().Bool("no-enrich", false,
		"Skip visiting business websites for contact details")
	addEnrichmentFlags(cmd)

	addStorageFlags(cmd)
	addConfigFlags(cmd)
	addReportFlags(cmd)

	return cmd
}

// addFetchFlags registers the flags shared by commands that fetch pages.
func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", config.DefaultMaxConcurrency,
		"Number of pages fetched in parallel (1-10)")
	cmd.Flags().Int("max-retries", config.DefaultMaxRetries,
		"Retries of pages that failed with a transient error")
	cmd.Flags().Float64("rate", config.DefaultRequestsPerSecond,
		"Maximum requests per second (0 disables the limit)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultRequestTimeout,
		"Timeout for each request")

	// Network flags
	cmd.Flags().String("proxy", "",
		"Proxy URL (socks5://, socks5h://, http://, https://) or \"tor\" for an embedded Tor daemon")
	cmd.Flags().Duration("tor-timeout", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Debug flags
	cmd.Flags().Bool("debug-capture", false,
		"Save pages that did not load for inspection")
	cmd.Flags().String("capture-dir", "",
		"Directory of captured pages (default: XDG cache directory)")
}

// addEnrichmentFlags registers the flags of the enrichment phase.
func addEnrichmentFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("contact-path", config.DefaultContactPaths,
		"Paths tried below every business website")
	cmd.Flags().Bool("probe", true,
		"Check contact paths with a HEAD request before fetching them")
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args, true)
	if err != nil {
		return err
	}

	logger := log.New(cmd.ErrOrStderr(), log.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	ctx, sigCh, stop := commandContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	a.signals = sigCh

	return runCrawl(ctx, a)
}

// runCrawl runs discovery and, unless disabled, enrichment.
func runCrawl(ctx context.Context, a *app) error {
	steps := []pipeline.Step{a.discoveryStep()}
	if a.cfg.FetchContacts {
		steps = append(steps, a.enrichmentStep())
	}

	a.logger.Info("starting crawl",
		"seeds", a.cfg.Seeds(),
		"maxResults", a.cfg.MaxResults,
		"concurrency", a.cfg.MaxConcurrency,
		"enrich", a.cfg.FetchContacts,
		"storage", a.cfg.StorageDriver,
	)
	return a.execute(ctx, a.cfg.Seeds(), steps...)
}

// commandContext returns the command context and a channel receiving
// SIGINT and SIGTERM. The returned function stops the signal delivery.
func commandContext(cmd *cobra.Command) (context.Context, <-chan os.Signal, func()) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return ctx, sigCh, func() { signal.Stop(sigCh) }
}
