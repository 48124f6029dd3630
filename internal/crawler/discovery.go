package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/bizcrawl/internal/extract"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/model"
)

// DefaultMaxPages bounds how many search pages one run follows.
const DefaultMaxPages = 20

// ListingParser extracts candidates and the next-page link from a search page.
type ListingParser interface {
	ExtractListing(pageURL string, content []byte) ([]extract.Candidate, string, error)
}

// DetailParser extracts a partial business record from a detail page.
type DetailParser interface {
	ExtractDetail(pageURL string, content []byte) (*model.BusinessRecord, bool)
}

// Discovery is the phase that walks search pages and stores one record per
// business detail page.
type Discovery struct {
	sink     Sink
	listing  ListingParser
	detail   DetailParser
	maxPages int
	report   *model.RunReport
	logger   *slog.Logger
	now      func() time.Time

	// pages counts search pages handled; it drives the page limit.
	pages atomic.Int64
}

// DiscoveryOption configures a Discovery phase.
type DiscoveryOption func(*Discovery)

// WithListingParser overrides the search page extractor.
func WithListingParser(p ListingParser) DiscoveryOption {
	return func(d *Discovery) {
		d.listing = p
	}
}

// WithDetailParser overrides the detail page extractor.
func WithDetailParser(p DetailParser) DiscoveryOption {
	return func(d *Discovery) {
		d.detail = p
	}
}

// WithMaxPages sets the search page limit. Values below 1 mean DefaultMaxPages.
func WithMaxPages(n int) DiscoveryOption {
	return func(d *Discovery) {
		if n < 1 {
			n = DefaultMaxPages
		}
		d.maxPages = n
	}
}

// WithDiscoveryReport sets the report saved records are counted in.
func WithDiscoveryReport(r *model.RunReport) DiscoveryOption {
	return func(d *Discovery) {
		d.report = r
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// WithClock sets the clock used for ScrapedAt.
func WithClock(now func() time.Time) DiscoveryOption {
	return func(d *Discovery) {
		d.now = now
	}
}

// NewDiscovery creates the discovery phase storing records into sink.
func NewDiscovery(sink Sink, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		sink:     sink,
		listing:  extract.NewListingExtractor(),
		detail:   extract.NewDetailExtractor(),
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.report == nil {
		d.report = model.NewRunReport(nil)
	}
	return d
}

// Name implements Phase.
func (d *Discovery) Name() string {
	return "discovery"
}

// Seeds turns search URLs into SEARCH work items.
func (d *Discovery) Seeds(urls []string) []model.WorkItem {
	items := make([]model.WorkItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, model.NewWorkItem(u, model.KindSearch, nil))
	}
	return items
}

// Prime marks the detail pages of records already in the sink as seen, so a
// re-run only fetches businesses it has not stored yet. Sinks that cannot
// list their source URLs are left alone.
func (d *Discovery) Prime(ctx context.Context, fr *frontier.Frontier) (int, error) {
	lister, ok := d.sink.(SourceURLLister)
	if !ok {
		return 0, nil
	}
	urls, err := lister.KnownSourceURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list known source urls: %w", err)
	}
	fr.MarkSeen(urls...)
	return len(urls), nil
}

// Handle implements Phase.
func (d *Discovery) Handle(ctx context.Context, q Queue, item model.WorkItem, res *fetcher.Result) error {
	switch item.Kind {
	case model.KindSearch:
		return d.handleSearch(q, item, res)
	case model.KindDetail:
		return d.handleDetail(ctx, item, res)
	default:
		return fmt.Errorf("discovery cannot handle %s items", item.Kind)
	}
}

func (d *Discovery) handleSearch(q Queue, item model.WorkItem, res *fetcher.Result) error {
	// The next page is only followed when the cap was still open before this
	// page added its candidates.
	capBefore := q.CapReached()
	page := d.pages.Add(1)

	candidates, next, err := d.listing.ExtractListing(pageURL(item, res), res.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionMiss, err) //nolint:errorlint // the miss is the decision point
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no listings on search page", ErrExtractionMiss)
	}

	added := 0
	for _, c := range candidates {
		if q.CapReached() {
			break
		}
		var meta map[string]string
		if c.Name != "" {
			meta = map[string]string{model.ContextName: c.Name}
		}
		if q.Enqueue(model.NewWorkItem(c.URL, model.KindDetail, meta)) {
			added++
		}
	}

	following := next != "" && !capBefore && page < int64(d.maxPages)
	if following {
		q.Enqueue(model.NewWorkItem(next, model.KindSearch, nil))
	}

	d.logger.Debug("search page processed",
		"url", item.URL,
		"page", page,
		"candidates", len(candidates),
		"enqueued", added,
		"next", following,
	)
	return nil
}

func (d *Discovery) handleDetail(ctx context.Context, item model.WorkItem, res *fetcher.Result) error {
	rec, ok := d.detail.ExtractDetail(pageURL(item, res), res.Content)
	if !ok {
		return fmt.Errorf("%w: no business name on detail page", ErrExtractionMiss)
	}
	rec.Finalize(item.URL, d.now())

	if err := d.sink.UpsertNew(ctx, rec); err != nil {
		if errors.Is(err, model.ErrRecordExists) {
			return Fatal("upsert "+rec.ID, err)
		}
		return Fatal("sink unavailable", err)
	}
	d.report.AddSaved()
	d.logger.Info("business saved",
		"id", rec.ID,
		"name", rec.DisplayName(),
		"website", rec.WebsiteURL(),
	)
	return nil
}

// pageURL returns the URL links on the fetched page resolve against.
func pageURL(item model.WorkItem, res *fetcher.Result) string {
	if res != nil && res.FinalURL != "" {
		return res.FinalURL
	}
	return item.URL
}
