package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/bizcrawl/internal/database"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/merge"
	"github.com/nao1215/bizcrawl/internal/model"
	"github.com/nao1215/bizcrawl/internal/retry"
)

const searchURL = "https://dir.example/search?find_desc=cafe&find_loc=NYC"

// page is one scripted answer of the fake fetcher.
type page struct {
	status int
	body   string
	err    error
}

func okPage(body string) page { return page{status: 200, body: body} }

func status(code int) page { return page{status: code, body: fmt.Sprintf("<html><body>status %d</body></html>", code)} }

// fakeFetcher answers from a script keyed by URL. The n-th fetch of a URL
// gets the n-th page; the last page repeats. Unknown URLs get 404.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]page
	calls   map[string]int
	onFetch func(url string, n int)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]page),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) add(u string, pages ...page) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[u] = append(f.pages[u], pages...)
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, u string, _ fetcher.NavPolicy) (*fetcher.Result, error) {
	f.mu.Lock()
	n := f.calls[u]
	f.calls[u] = n + 1
	script := f.pages[u]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(u, n)
	}

	p := status(404)
	if len(script) > 0 {
		p = script[min(n, len(script)-1)]
	}
	if p.err != nil {
		return nil, p.err
	}
	return &fetcher.Result{StatusCode: p.status, FinalURL: u, Content: []byte(p.body)}, nil
}

func (f *fakeFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// searchPage renders a listing page with one card per business slug.
func searchPage(next string, slugs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Search results</title></head><body><ul>")
	for _, slug := range slugs {
		fmt.Fprintf(&b, `<li><div data-testid="serp-ia-card"><h3><a href="/biz/%s">%s</a></h3></div></li>`, slug, strings.ToUpper(slug))
	}
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<a aria-label="Next" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// detailPage renders a business page. An empty website leaves the link out.
func detailPage(name, website string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><h1>%s</h1>", name, name)
	b.WriteString(`<a href="tel:+12125550100">(212) 555-0100</a>`)
	if website != "" {
		fmt.Fprintf(&b, `<a href="/biz_redir?url=%s&amp;cachebuster=1">Business website</a>`, url.QueryEscape(website))
	}
	b.WriteString("<address><p>10 Main St</p><p>New York, NY 10001</p></address></body></html>")
	return b.String()
}

func bizURL(slug string) string {
	return "https://dir.example/biz/" + slug
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:        3,
		MaxBlockedRetries: 2,
		BaseDelay:         time.Millisecond,
		BlockedBaseDelay:  10 * time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(f fetcher.PageFetcher, report *model.RunReport, opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithConcurrency(3),
		WithRetryPolicy(fastPolicy()),
		WithReport(report),
		WithLogger(discardLogger()),
	}
	return NewEngine(f, append(base, opts...)...)
}

// runDiscovery runs the discovery phase from searchURL.
func runDiscovery(t *testing.T, f fetcher.PageFetcher, sink Sink, maxDetail, maxPages int) (*model.RunReport, error) {
	t.Helper()

	report := model.NewRunReport([]string{searchURL})
	engine := newTestEngine(f, report)
	phase := NewDiscovery(sink,
		WithMaxPages(maxPages),
		WithDiscoveryReport(report),
		WithDiscoveryLogger(discardLogger()),
	)
	fr := frontier.New(frontier.WithMaxDetail(maxDetail))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := engine.Run(ctx, fr, phase, phase.Seeds([]string{searchURL}))
	return report, err
}

// storeWithWebsite stores one finalized record and returns it.
func storeWithWebsite(t *testing.T, sink *database.MemorySink, slug, website string) *model.BusinessRecord {
	t.Helper()
	rec := &model.BusinessRecord{Name: model.StringPtr(strings.ToUpper(slug))}
	if website != "" {
		rec.Website = model.StringPtr(website)
	}
	rec.Finalize(bizURL(slug), time.Now())
	if err := sink.UpsertNew(context.Background(), rec); err != nil {
		t.Fatalf("failed to store record: %v", err)
	}
	return rec
}

// runEnrichment runs the enrichment phase over sink.
func runEnrichment(t *testing.T, f fetcher.PageFetcher, sink *database.MemorySink, opts ...EnrichmentOption) (*model.RunReport, error) {
	t.Helper()

	report := model.NewRunReport(nil)
	engine := newTestEngine(f, report)
	base := []EnrichmentOption{
		WithEnrichmentReport(report),
		WithEnrichmentLogger(discardLogger()),
	}
	phase := NewEnrichment(sink, merge.New(sink, merge.WithLogger(discardLogger())), append(base, opts...)...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seeds, err := phase.Seeds(ctx)
	if err != nil {
		t.Fatalf("failed to build seeds: %v", err)
	}
	return report, engine.Run(ctx, frontier.New(), phase, seeds)
}

// failingSink fails every UpsertNew.
type failingSink struct {
	*database.MemorySink
	err error
}

func (s *failingSink) UpsertNew(context.Context, *model.BusinessRecord) error {
	return s.err
}

// listFailingSink fails ListWithWebsite.
type listFailingSink struct {
	*database.MemorySink
}

func (s *listFailingSink) ListWithWebsite(context.Context) ([]*model.BusinessRecord, error) {
	return nil, errSinkDown
}

var errSinkDown = errors.New("connection refused")

func newMemorySink() *database.MemorySink {
	return database.NewMemorySink()
}
