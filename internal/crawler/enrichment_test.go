package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nao1215/bizcrawl/internal/database"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/merge"
	"github.com/nao1215/bizcrawl/internal/model"
)

const (
	homePage    = `<html><body><h1>Alpha Cafe</h1><p>Write to hello@alpha.example</p></body></html>`
	contactPage = `<html><body>
		<p>Call (212) 555-0142 or mail <a href="mailto:events@alpha.example">events@alpha.example</a></p>
		<a href="https://instagram.com/alphacafe">Instagram</a>
		<img src="/img/logo@2x.png">
	</body></html>`
)

// fakeProber answers probes from a map; missing URLs exist.
type fakeProber struct {
	mu      sync.Mutex
	answers map[string]probeAnswer
	probed  []string
}

type probeAnswer struct {
	exists bool
	err    error
}

func (p *fakeProber) Probe(_ context.Context, u string, _ fetcher.NavPolicy) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, u)
	a, ok := p.answers[u]
	if !ok {
		return true, nil
	}
	return a.exists, a.err
}

// TestEnrichment tests the website crawl and merge.
func TestEnrichment(t *testing.T) {
	t.Parallel()

	t.Run("contacts from homepage and contact page are merged", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		rec := storeWithWebsite(t, sink, "alpha", "https://alpha.example")
		storeWithWebsite(t, sink, "bravo", "")

		f := newFakeFetcher().
			add("https://alpha.example", okPage(homePage)).
			add("https://alpha.example/contact", okPage(contactPage))

		report, err := runEnrichment(t, f, sink)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		got, err := sink.LoadForMerge(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("LoadForMerge failed: %v", err)
		}
		wantEmails := model.NewStringSet("hello@alpha.example", "events@alpha.example")
		if !got.Emails.Equal(wantEmails) {
			t.Errorf("got emails %v, expected %v", got.Emails.Sorted(), wantEmails.Sorted())
		}
		if !got.PhonesFromWebsite.Has("+12125550142") {
			t.Errorf("got phones %v", got.PhonesFromWebsite.Sorted())
		}
		if !got.SocialLinks.Has("https://instagram.com/alphacafe") {
			t.Errorf("got social links %v", got.SocialLinks.Sorted())
		}
		if got.DisplayName() != "ALPHA" {
			t.Errorf("base fields changed: name %q", got.DisplayName())
		}

		if report.RecordsEnriched != 1 {
			t.Errorf("got %d records enriched, expected 1", report.RecordsEnriched)
		}
		if report.Merges != 2 {
			t.Errorf("got %d merges, expected 2", report.Merges)
		}
		// /about, /contact-us and /about-us answer 404.
		if got := report.Stats(model.KindEnrichPath); got.Enqueued != 4 || got.TerminalFailures != 3 {
			t.Errorf("got path stats %+v", got)
		}
		if home := report.Stats(model.KindEnrichHome); home.Enqueued != 1 {
			t.Errorf("got %d homepages, expected 1 (record without website skipped)", home.Enqueued)
		}
	})

	t.Run("blocked homepage still yields contact page contacts", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		rec := storeWithWebsite(t, sink, "alpha", "alpha.example")

		f := newFakeFetcher().
			add("https://alpha.example", status(403)).
			add("https://alpha.example/contact", okPage(contactPage))

		report, err := runEnrichment(t, f, sink)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		got, err := sink.LoadForMerge(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("LoadForMerge failed: %v", err)
		}
		if !got.Emails.Has("events@alpha.example") {
			t.Errorf("contact page email missing: %v", got.Emails.Sorted())
		}
		if got.Emails.Has("hello@alpha.example") {
			t.Error("homepage email merged although the homepage was blocked")
		}
		if home := report.Stats(model.KindEnrichHome); home.Blocked == 0 || home.TerminalFailures != 1 {
			t.Errorf("got home stats %+v", home)
		}
		// Homepage retries must not spawn the contact paths again.
		if n := f.count("https://alpha.example/contact"); n != 1 {
			t.Errorf("contact page fetched %d times, expected 1", n)
		}
	})

	t.Run("probing skips missing paths", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		storeWithWebsite(t, sink, "alpha", "https://alpha.example")

		f := newFakeFetcher().
			add("https://alpha.example", okPage(homePage)).
			add("https://alpha.example/contact", okPage(contactPage)).
			add("https://alpha.example/contact-us", okPage(contactPage))
		prober := &fakeProber{answers: map[string]probeAnswer{
			"https://alpha.example/about":      {exists: false},
			"https://alpha.example/about-us":   {err: errors.New("dial tcp: connection refused")},
			"https://alpha.example/contact-us": {err: fetcher.ErrProbeUnavailable},
		}}

		report, err := runEnrichment(t, f, sink, WithProber(prober))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if len(prober.probed) != 4 {
			t.Errorf("got %d probes, expected 4", len(prober.probed))
		}
		for u, expected := range map[string]int{
			"https://alpha.example/contact":    1,
			"https://alpha.example/contact-us": 1,
			"https://alpha.example/about":      0,
			"https://alpha.example/about-us":   0,
		} {
			if got := f.count(u); got != expected {
				t.Errorf("%s fetched %d times, expected %d", u, got, expected)
			}
		}
		if got := report.Stats(model.KindEnrichPath).Enqueued; got != 2 {
			t.Errorf("got %d paths enqueued, expected 2", got)
		}
	})

	t.Run("custom paths are normalized", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		storeWithWebsite(t, sink, "alpha", "https://alpha.example/home?ref=dir")

		f := newFakeFetcher().add("https://alpha.example/home?ref=dir", okPage(homePage))
		report, err := runEnrichment(t, f, sink, WithContactPaths("/", "", "kontakt", "/impressum"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if f.count("https://alpha.example/kontakt") != 1 || f.count("https://alpha.example/impressum") != 1 {
			t.Error("custom paths were not derived from the site origin")
		}
		if got := report.Stats(model.KindEnrichPath).Enqueued; got != 2 {
			t.Errorf("got %d paths enqueued, expected 2", got)
		}
	})

	t.Run("page without contacts is a miss", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		storeWithWebsite(t, sink, "alpha", "https://alpha.example")
		writes := sink.Writes()

		f := newFakeFetcher().add("https://alpha.example", okPage("<html><body>Welcome</body></html>"))
		report, err := runEnrichment(t, f, sink, WithContactPaths())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if sink.Writes() != writes {
			t.Error("empty fragment caused a write")
		}
		if got := report.Stats(model.KindEnrichHome).ExtractionMisses; got != 1 {
			t.Errorf("got %d misses, expected 1", got)
		}
	})

	t.Run("records sharing a website all receive its contacts", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		alpha := storeWithWebsite(t, sink, "alpha-downtown", "https://alpha.example")
		uptown := storeWithWebsite(t, sink, "alpha-uptown", "https://alpha.example/")
		f := newFakeFetcher().
			add("https://alpha.example", okPage(homePage)).
			add("https://alpha.example/", okPage(homePage))

		report, err := runEnrichment(t, f, sink, WithContactPaths())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		for _, rec := range []*model.BusinessRecord{alpha, uptown} {
			got, err := sink.LoadForMerge(context.Background(), rec.ID)
			if err != nil {
				t.Fatalf("LoadForMerge failed: %v", err)
			}
			if !got.Emails.Has("hello@alpha.example") {
				t.Errorf("record %s got emails %v", rec.ID, got.Emails.Sorted())
			}
		}
		if f.total() != 1 {
			t.Errorf("got %d fetches, expected the shared homepage once", f.total())
		}
		if report.RecordsEnriched != 2 {
			t.Errorf("got %d records enriched, expected 2", report.RecordsEnriched)
		}
	})

	t.Run("unknown record is contained", func(t *testing.T) {
		t.Parallel()

		sink := database.NewMemorySink()
		f := newFakeFetcher().add("https://ghost.example", okPage(homePage))
		report := model.NewRunReport(nil)
		phase := NewEnrichment(sink, merge.New(sink),
			WithContactPaths(),
			WithEnrichmentReport(report),
			WithEnrichmentLogger(discardLogger()),
		)
		seeds := []model.WorkItem{
			model.NewWorkItem("https://ghost.example", model.KindEnrichHome, map[string]string{
				model.ContextBusinessID: "biz_ghost",
			}),
			model.NewWorkItem("https://nobody.example", model.KindEnrichHome, nil),
		}
		f.add("https://nobody.example", okPage(homePage))

		if err := newTestEngine(f, report).Run(context.Background(), frontier.New(), phase, seeds); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if report.TerminalFailureCount() != 2 {
			t.Errorf("got %d failures, expected 2", report.TerminalFailureCount())
		}
		if report.Cancelled {
			t.Error("missing record cancelled the phase")
		}
	})

	t.Run("listing failure is fatal", func(t *testing.T) {
		t.Parallel()

		sink := &listFailingSink{MemorySink: database.NewMemorySink()}
		phase := NewEnrichment(sink, merge.New(sink))
		_, err := phase.Seeds(context.Background())
		if !IsFatal(err) || !errors.Is(err, errSinkDown) {
			t.Errorf("got %v, expected fatal list error", err)
		}
	})
}

// TestMergeOrderIndependence merges the same pages in either order.
func TestMergeOrderIndependence(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://alpha.example":         `<p>a@alpha.example b@alpha.example</p>`,
		"https://alpha.example/contact": `<p>b@alpha.example c@alpha.example</p>`,
	}

	run := func(concurrency int) model.StringSet {
		sink := database.NewMemorySink()
		rec := storeWithWebsite(t, sink, "alpha", "https://alpha.example")
		f := newFakeFetcher()
		for u, body := range pages {
			f.add(u, okPage(body))
		}
		report := model.NewRunReport(nil)
		phase := NewEnrichment(sink, merge.New(sink),
			WithContactPaths("/contact"),
			WithEnrichmentReport(report),
			WithEnrichmentLogger(discardLogger()),
		)
		seeds, err := phase.Seeds(context.Background())
		if err != nil {
			t.Fatalf("Seeds failed: %v", err)
		}
		engine := newTestEngine(f, report, WithConcurrency(concurrency))
		if err := engine.Run(context.Background(), frontier.New(), phase, seeds); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		got, err := sink.LoadForMerge(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("LoadForMerge failed: %v", err)
		}
		return got.Emails
	}

	expected := model.NewStringSet("a@alpha.example", "b@alpha.example", "c@alpha.example")
	for _, c := range []int{1, 2, 8} {
		if got := run(c); !got.Equal(expected) {
			t.Errorf("concurrency %d: got %v, expected %v", c, got.Sorted(), expected.Sorted())
		}
	}
}
