package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nao1215/bizcrawl/internal/classify"
	"github.com/nao1215/bizcrawl/internal/config"
	"github.com/nao1215/bizcrawl/internal/crawler"
	"github.com/nao1215/bizcrawl/internal/database"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/merge"
	"github.com/nao1215/bizcrawl/internal/model"
	"github.com/nao1215/bizcrawl/internal/pipeline"
	"github.com/nao1215/bizcrawl/internal/proxy"
	"github.com/nao1215/bizcrawl/internal/report"
)

// errMemoryStorage is returned by commands that read records of earlier runs.
var errMemoryStorage = errors.New("memory storage keeps no records between runs: use --storage sqlite or redis")

// errNoRunReports is returned by export --last-run for stores without run reports.
var errNoRunReports = errors.New("run reports are only stored with --storage sqlite")

// Store is a record store usable by both crawl phases.
type Store interface {
	crawler.Sink
	crawler.Lister
	Close() error
}

// runReportStore is implemented by stores that keep run reports.
type runReportStore interface {
	SaveRunReport(ctx context.Context, report *model.RunReport) error
	LatestRunReport(ctx context.Context) (*model.RunReport, error)
}

// openStore opens the store selected by cfg.StorageDriver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageRedis:
		sink := database.NewRedisSink(database.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err := sink.Ping(ctx); err != nil {
			_ = sink.Close() //nolint:errcheck // Best effort cleanup
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis store connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return sink, nil
	case config.StorageMemory:
		logger.Debug("using in-memory store")
		return database.NewMemorySink(), nil
	default:
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "path", db.Path())
		return db, nil
	}
}

// app holds the resources of one crawl command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   Store
	fetcher *fetcher.HTTPFetcher
	tor     *proxy.EmbeddedTor

	// out receives the report when no report file is configured.
	out io.Writer

	// signals requests a graceful stop on the first value and cancellation
	// on the second. Nil disables signal handling.
	signals <-chan os.Signal
}

// newApp opens the store and the network stack described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store, out: out}

	transport, err := a.transport(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.fetcher = fetcher.NewHTTPFetcher(transport,
		fetcher.WithNavigationTimeout(cfg.NavigationTimeout),
		fetcher.WithRequestTimeout(cfg.RequestTimeout),
		fetcher.WithRateLimit(cfg.RequestsPerSecond),
		fetcher.WithMaxBodySize(cfg.MaxBodySize),
		fetcher.WithLogger(logger),
	)
	return a, nil
}

// transport builds the HTTP transport, starting the embedded Tor daemon or
// checking the proxy first when one is configured.
func (a *app) transport(ctx context.Context) (*http.Transport, error) {
	cfg := a.cfg
	proxyURL := ""
	if cfg.ProxyEnabled {
		proxyURL = cfg.ProxyURL
		if strings.EqualFold(proxyURL, proxy.TorKeyword) {
			url, err := a.startTor(ctx)
			if err != nil {
				return nil, err
			}
			proxyURL = url
		} else if err := proxy.CheckConnection(ctx, proxyURL).Err(); err != nil {
			return nil, fmt.Errorf("proxy check failed for %s: %w", proxy.Redact(proxyURL), err)
		}
		a.logger.Info("routing requests through proxy",
			"proxy", proxy.Redact(proxyURL),
			"country", cfg.ProxyCountryCode,
		)
	}

	transport, err := proxy.NewTransport(proxy.Config{
		URL:         proxyURL,
		CountryCode: cfg.ProxyCountryCode,
		DialTimeout: cfg.NavigationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return transport, nil
}

// startTor starts the embedded Tor daemon and returns its proxy URL.
func (a *app) startTor(ctx context.Context) (string, error) {
	a.logger.Info("starting embedded Tor daemon, this may take 1-3 minutes",
		"timeout", a.cfg.TorStartupTimeout)

	tor := proxy.NewEmbeddedTor(proxy.WithStartupTimeout(a.cfg.TorStartupTimeout))
	if err := tor.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	a.tor = tor

	url, err := tor.ProxyURL()
	if err != nil {
		return "", err
	}
	a.logger.Info("embedded Tor daemon started", "proxy", url)
	return url, nil
}

// Close releases the store and stops the embedded Tor daemon.
func (a *app) Close() {
	if a.tor != nil {
		a.logger.Info("stopping embedded Tor daemon...")
		if err := a.tor.Stop(); err != nil {
			a.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

// classifier builds the response classifier with the configured content
// markers.
func (a *app) classifier() *classify.Classifier {
	var opts []classify.Option
	for _, name := range slices.Sorted(maps.Keys(a.cfg.ContentMarkers)) {
		kind, ok := model.ParseKind(name)
		if !ok {
			a.logger.Warn("ignoring content markers of unknown kind", "kind", name)
			continue
		}
		opts = append(opts, classify.WithContentMarkers(kind, a.cfg.ContentMarkers[name]...))
	}
	return classify.New(opts...)
}

// engineOptions returns the engine settings of the discovery phase. The
// enrichment phase overrides concurrency and retries.
func (a *app) engineOptions() []crawler.EngineOption {
	opts := []crawler.EngineOption{
		crawler.WithConcurrency(a.cfg.MaxConcurrency),
		crawler.WithClassifier(a.classifier()),
		crawler.WithRetryPolicy(a.cfg.RetryPolicy()),
		crawler.WithNavPolicy(a.cfg.NavPolicy()),
	}
	if a.cfg.DebugCapture {
		a.logger.Info("capturing pages that did not load", "dir", a.cfg.CaptureDir)
		opts = append(opts, crawler.WithCapturer(fetcher.NewFileCapturer(a.cfg.CaptureDir)))
	}
	return opts
}

// discoveryStep returns the step crawling search and detail pages.
func (a *app) discoveryStep() pipeline.Step {
	return pipeline.NewDiscoveryStep(a.fetcher, a.store, a.cfg.Seeds(),
		pipeline.WithMaxResults(a.cfg.MaxResults),
		pipeline.WithInterleave(1, a.cfg.MaxConcurrency),
		pipeline.WithDiscoveryEngine(a.engineOptions()...),
		pipeline.WithDiscoveryPhase(crawler.WithMaxPages(a.cfg.MaxPages)),
		pipeline.WithDiscoveryLogger(a.logger),
	)
}

// enrichmentStep returns the step crawling business websites for contacts.
func (a *app) enrichmentStep() pipeline.Step {
	phaseOpts := []crawler.EnrichmentOption{
		crawler.WithContactPaths(a.cfg.ContactPaths...),
	}
	if a.cfg.ProbeContactPaths {
		phaseOpts = append(phaseOpts,
			crawler.WithProber(fetcher.NewHTTPProber(a.fetcher.Client(), config.DefaultProbeTimeout)),
			crawler.WithProbeNavPolicy(a.cfg.NavPolicy()),
		)
	}
	engineOpts := append(a.engineOptions(),
		crawler.WithConcurrency(a.cfg.EnrichmentConcurrency()),
		crawler.WithRetryPolicy(a.cfg.EnrichmentRetryPolicy()),
	)
	merger := merge.New(a.store, merge.WithLogger(a.logger))
	return pipeline.NewEnrichmentStep(a.fetcher, a.store, merger,
		pipeline.WithEnrichmentEngine(engineOpts...),
		pipeline.WithEnrichmentPhase(phaseOpts...),
		pipeline.WithEnrichmentLogger(a.logger),
	)
}

// execute runs steps, then summarizes the store, saves the run report when
// the store keeps reports and writes it. An interrupted run still reports
// its partial results and is not an error.
func (a *app) execute(ctx context.Context, seeds []string, steps ...pipeline.Step) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pipeline.New(pipeline.WithLogger(a.logger))
	p.AddSteps(steps...)
	go a.watchSignals(ctx, p, cancel)

	runReport := model.NewRunReport(seeds)
	a.logger.Info("starting run", "runID", runReport.RunID, "steps", p.StepNames())

	runErr := p.Execute(ctx, runReport)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.logger.Error("run failed", "runID", runReport.RunID, "error", runErr)
	}

	// The report is completed even when ctx was cancelled.
	detached := context.WithoutCancel(ctx)
	if err := pipeline.Summarize(detached, a.store, runReport); err != nil {
		a.logger.Warn("failed to summarize stored records", "error", err)
	}
	if saver, ok := a.store.(runReportStore); ok {
		if err := saver.SaveRunReport(detached, runReport); err != nil {
			a.logger.Error("failed to save run report", "runID", runReport.RunID, "error", err)
		} else {
			a.logger.Info("run report saved to database", "runID", runReport.RunID)
		}
	}

	a.logger.Info("run finished",
		"runID", runReport.RunID,
		"saved", runReport.RecordsSaved,
		"enriched", runReport.RecordsEnriched,
		"failures", len(runReport.Failures),
		"duration", runReport.Duration(),
	)

	if err := writeReport(a.cfg, a.out, func(w report.Writer) error {
		_, err := w.WriteRun(runReport)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// watchSignals stops the pipeline on the first signal and cancels the run
// on the second.
func (a *app) watchSignals(ctx context.Context, stopper pipeline.Stopper, cancel context.CancelFunc) {
	if a.signals == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-a.signals:
		a.logger.Info("received shutdown signal, finishing in-flight pages (repeat to abort)")
		stopper.Stop()
	}
	select {
	case <-ctx.Done():
	case <-a.signals:
		a.logger.Warn("received second shutdown signal, cancelling")
		cancel()
	}
}

// reportFormat maps the report flags to a report format name.
func reportFormat(cfg *config.Config) string {
	switch {
	case cfg.JSONReport:
		return report.FormatJSON
	case cfg.MarkdownReport:
		return report.FormatMarkdown
	default:
		return report.FormatText
	}
}

// writeReport opens the report destination and calls write with the writer
// of the configured format.
func writeReport(cfg *config.Config, stdout io.Writer, write func(report.Writer) error) error {
	output := stdout
	if cfg.ReportFile != "" {
		// Create directories if they don't exist
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports list contact details, so only the owner may read them.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}
	return write(report.New(reportFormat(cfg), output, getVersion()))
}
