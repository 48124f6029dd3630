package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/bizcrawl/internal/crawler"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/model"
)

// engineSlot remembers the engine of a running step so Stop can reach it.
type engineSlot struct {
	mu      sync.Mutex
	engine  *crawler.Engine
	stopped bool
}

func (s *engineSlot) set(e *crawler.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
	if s.stopped && e != nil {
		e.Stop()
	}
}

// Stop stops the running engine. A step stopped before it starts returns
// right away.
func (s *engineSlot) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.engine != nil {
		s.engine.Stop()
	}
}

// DiscoveryStep runs the discovery phase: search pages are paginated and
// every business detail page up to the result cap is stored in the sink.
type DiscoveryStep struct {
	engineSlot

	fetcher    fetcher.PageFetcher
	sink       crawler.Sink
	seeds      []string
	maxResults int
	// searchTurn and detailTurn are the SEARCH:DETAIL dequeue ratio.
	searchTurn int
	detailTurn int
	engineOpts []crawler.EngineOption
	phaseOpts  []crawler.DiscoveryOption
	logger     *slog.Logger
}

// DiscoveryStepOption configures a DiscoveryStep.
type DiscoveryStepOption func(*DiscoveryStep)

// WithMaxResults caps the DETAIL items of the run. Values below 1 keep
// the frontier unbounded.
func WithMaxResults(n int) DiscoveryStepOption {
	return func(s *DiscoveryStep) {
		s.maxResults = n
	}
}

// WithInterleave sets how many SEARCH pages and then how many DETAIL pages
// the frontier hands out in turn. The default is one search page per
// crawler.DefaultConcurrency detail pages, which keeps every worker busy on
// details between two search pages.
func WithInterleave(search, detail int) DiscoveryStepOption {
	return func(s *DiscoveryStep) {
		s.searchTurn = search
		s.detailTurn = detail
	}
}

// WithDiscoveryEngine sets options of the engine running the phase.
func WithDiscoveryEngine(opts ...crawler.EngineOption) DiscoveryStepOption {
	return func(s *DiscoveryStep) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithDiscoveryPhase sets options of the discovery phase itself.
func WithDiscoveryPhase(opts ...crawler.DiscoveryOption) DiscoveryStepOption {
	return func(s *DiscoveryStep) {
		s.phaseOpts = append(s.phaseOpts, opts...)
	}
}

// WithDiscoveryLogger sets a custom logger for the discovery step.
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryStepOption {
	return func(s *DiscoveryStep) {
		s.logger = logger
	}
}

// NewDiscoveryStep creates a discovery step starting from the search URLs seeds.
func NewDiscoveryStep(f fetcher.PageFetcher, sink crawler.Sink, seeds []string, opts ...DiscoveryStepOption) *DiscoveryStep {
	s := &DiscoveryStep{
		fetcher:    f,
		sink:       sink,
		seeds:      append([]string(nil), seeds...),
		searchTurn: 1,
		detailTurn: crawler.DefaultConcurrency,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *DiscoveryStep) Name() string {
	return "discovery"
}

// Do executes the discovery phase. Detail pages of records already in the
// sink are skipped.
func (s *DiscoveryStep) Do(ctx context.Context, report *model.RunReport) error {
	phase := crawler.NewDiscovery(s.sink, append(s.phaseOpts,
		crawler.WithDiscoveryReport(report),
		crawler.WithDiscoveryLogger(s.logger),
	)...)

	frOpts := []frontier.Option{frontier.WithInterleave(s.searchTurn, s.detailTurn)}
	if s.maxResults > 0 {
		frOpts = append(frOpts, frontier.WithMaxDetail(s.maxResults))
	}
	fr := frontier.New(frOpts...)

	known, err := phase.Prime(ctx, fr)
	if err != nil {
		return crawler.Fatal("prime discovery", err)
	}
	if known > 0 {
		s.logger.Info("skipping stored businesses", "count", known)
	}

	engine := crawler.NewEngine(s.fetcher, append(s.engineOpts,
		crawler.WithReport(report),
		crawler.WithLogger(s.logger),
	)...)
	s.set(engine)
	defer s.set(nil)

	return engine.Run(ctx, fr, phase, phase.Seeds(s.seeds))
}

// EnrichmentStep runs the enrichment phase over every stored record with a
// website.
type EnrichmentStep struct {
	engineSlot

	fetcher    fetcher.PageFetcher
	sink       crawler.Sink
	merger     crawler.Merger
	engineOpts []crawler.EngineOption
	phaseOpts  []crawler.EnrichmentOption
	logger     *slog.Logger
}

// EnrichmentStepOption configures an EnrichmentStep.
type EnrichmentStepOption func(*EnrichmentStep)

// WithEnrichmentEngine sets options of the engine running the phase.
func WithEnrichmentEngine(opts ...crawler.EngineOption) EnrichmentStepOption {
	return func(s *EnrichmentStep) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithEnrichmentPhase sets options of the enrichment phase itself.
func WithEnrichmentPhase(opts ...crawler.EnrichmentOption) EnrichmentStepOption {
	return func(s *EnrichmentStep) {
		s.phaseOpts = append(s.phaseOpts, opts...)
	}
}

// WithEnrichmentLogger sets a custom logger for the enrichment step.
func WithEnrichmentLogger(logger *slog.Logger) EnrichmentStepOption {
	return func(s *EnrichmentStep) {
		s.logger = logger
	}
}

// NewEnrichmentStep creates an enrichment step merging through merger.
func NewEnrichmentStep(f fetcher.PageFetcher, sink crawler.Sink, merger crawler.Merger, opts ...EnrichmentStepOption) *EnrichmentStep {
	s := &EnrichmentStep{
		fetcher: f,
		sink:    sink,
		merger:  merger,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *EnrichmentStep) Name() string {
	return "enrichment"
}

// Do executes the enrichment phase.
func (s *EnrichmentStep) Do(ctx context.Context, report *model.RunReport) error {
	phase := crawler.NewEnrichment(s.sink, s.merger, append(s.phaseOpts,
		crawler.WithEnrichmentReport(report),
		crawler.WithEnrichmentLogger(s.logger),
	)...)

	seeds, err := phase.Seeds(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("enriching businesses", "count", len(seeds))

	engine := crawler.NewEngine(s.fetcher, append(s.engineOpts,
		crawler.WithReport(report),
		crawler.WithLogger(s.logger),
	)...)
	s.set(engine)
	defer s.set(nil)

	return engine.Run(ctx, frontier.New(), phase, seeds)
}

// Summarize computes the final statistics of report from the records in
// lister and stamps the finish time. It is called after Execute whether or
// not the run completed.
func Summarize(ctx context.Context, lister crawler.Lister, report *model.RunReport) error {
	records, err := lister.List(ctx)
	if err != nil {
		report.Finish(nil)
		return fmt.Errorf("list records: %w", err)
	}
	report.Finish(records)
	return nil
}
