package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/bizcrawl/internal/database"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/model"
)

// TestDiscovery tests the search and detail handlers end to end.
func TestDiscovery(t *testing.T) {
	t.Parallel()

	t.Run("follows pagination and stores every business once", func(t *testing.T) {
		t.Parallel()

		page2 := searchURL + "&start=10"
		f := newFakeFetcher().
			add(searchURL, okPage(searchPage(page2, "alpha", "bravo", "charlie"))).
			add(page2, okPage(searchPage("", "charlie", "delta"))).
			add(bizURL("alpha"), okPage(detailPage("Alpha Cafe", "https://alpha.example"))).
			add(bizURL("bravo"), okPage(detailPage("Bravo Bakery", ""))).
			add(bizURL("charlie"), okPage(detailPage("Charlie Deli", "charlie.example"))).
			add(bizURL("delta"), okPage(detailPage("Delta Diner", "")))
		sink := database.NewMemorySink()

		report, err := runDiscovery(t, f, sink, 50, 20)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if sink.Len() != 4 {
			t.Fatalf("got %d records, expected 4", sink.Len())
		}
		if report.RecordsSaved != 4 {
			t.Errorf("got %d records saved, expected 4", report.RecordsSaved)
		}
		if f.count(bizURL("charlie")) != 1 {
			t.Errorf("duplicate listing fetched %d times", f.count(bizURL("charlie")))
		}

		rec, err := sink.LoadForMerge(context.Background(), model.NewBusinessID(bizURL("charlie")))
		if err != nil {
			t.Fatalf("LoadForMerge failed: %v", err)
		}
		if rec.WebsiteURL() != "https://charlie.example" {
			t.Errorf("got website %q, expected %q", rec.WebsiteURL(), "https://charlie.example")
		}
		if rec.City == nil || *rec.City != "New York" {
			t.Errorf("got city %v, expected New York", rec.City)
		}
		if rec.Emails == nil || rec.Emails.Len() != 0 {
			t.Error("new record should start with empty contact sets")
		}

		detail := report.Stats(model.KindDetail)
		if detail.Enqueued != 4 || detail.Fetched != 4 {
			t.Errorf("got detail stats %+v", detail)
		}
		if report.TerminalFailureCount() != 0 {
			t.Errorf("unexpected failures: %+v", report.Failures)
		}
		if len(report.Phases) != 1 || report.Phases[0] != "discovery" {
			t.Errorf("got phases %v", report.Phases)
		}
	})

	t.Run("cap reached on a page still enqueues its next page", func(t *testing.T) {
		t.Parallel()

		page2 := searchURL + "&start=10"
		page3 := searchURL + "&start=20"
		f := newFakeFetcher().
			add(searchURL, okPage(searchPage(page2, "alpha", "bravo", "charlie"))).
			add(page2, okPage(searchPage(page3, "delta", "echo"))).
			add(page3, okPage(searchPage("", "foxtrot"))).
			add(bizURL("alpha"), okPage(detailPage("Alpha", ""))).
			add(bizURL("bravo"), okPage(detailPage("Bravo", ""))).
			add(bizURL("charlie"), okPage(detailPage("Charlie", "")))
		sink := database.NewMemorySink()

		report, err := runDiscovery(t, f, sink, 2, 20)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		detail := report.Stats(model.KindDetail)
		if detail.Enqueued != 2 {
			t.Errorf("got %d detail items enqueued, expected 2", detail.Enqueued)
		}
		if f.count(bizURL("charlie")) != 0 {
			t.Error("third candidate was fetched past the cap")
		}
		if f.count(page2) != 1 {
			t.Errorf("next page fetched %d times, expected 1", f.count(page2))
		}
		if f.count(page3) != 0 {
			t.Error("page after a capped page was followed")
		}
		if search := report.Stats(model.KindSearch); search.Enqueued != 2 {
			t.Errorf("got %d search items enqueued, expected 2", search.Enqueued)
		}
		if sink.Len() != 2 {
			t.Errorf("got %d records, expected 2", sink.Len())
		}
	})

	t.Run("page limit stops pagination", func(t *testing.T) {
		t.Parallel()

		page2 := searchURL + "&start=10"
		page3 := searchURL + "&start=20"
		f := newFakeFetcher().
			add(searchURL, okPage(searchPage(page2, "alpha"))).
			add(page2, okPage(searchPage(page3, "bravo"))).
			add(page3, okPage(searchPage("", "charlie")))

		report, err := runDiscovery(t, f, database.NewMemorySink(), 50, 2)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if f.count(page3) != 0 {
			t.Error("page beyond the limit was fetched")
		}
		if search := report.Stats(model.KindSearch); search.Fetched != 2 {
			t.Errorf("got %d search pages fetched, expected 2", search.Fetched)
		}
	})

	t.Run("page limit is shared by all search urls", func(t *testing.T) {
		t.Parallel()

		const bakery = "https://dir.example/search?find_desc=bakery&find_loc=NYC"
		f := newFakeFetcher()
		for _, seed := range []string{searchURL, bakery} {
			f.add(seed, okPage(searchPage(seed+"&start=10", "alpha"))).
				add(seed+"&start=10", okPage(searchPage(seed+"&start=20", "bravo"))).
				add(seed+"&start=20", okPage(searchPage("", "charlie")))
		}

		report := model.NewRunReport(nil)
		phase := NewDiscovery(database.NewMemorySink(),
			WithMaxPages(3),
			WithDiscoveryReport(report),
			WithDiscoveryLogger(discardLogger()),
		)
		engine := newTestEngine(f, report, WithConcurrency(1))
		if err := engine.Run(context.Background(), frontier.New(), phase, phase.Seeds([]string{searchURL, bakery})); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// Both seeds and their second pages use up the run-wide limit.
		if f.count(searchURL+"&start=20") != 0 || f.count(bakery+"&start=20") != 0 {
			t.Error("third pages followed beyond the run-wide limit")
		}
		if search := report.Stats(model.KindSearch); search.Fetched != 4 {
			t.Errorf("got %d search pages fetched, expected 4", search.Fetched)
		}
	})

	t.Run("detail page without name writes nothing", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher().
			add(searchURL, okPage(searchPage("", "alpha"))).
			add(bizURL("alpha"), okPage("<html><body><p>This business has moved.</p></body></html>"))
		sink := database.NewMemorySink()

		report, err := runDiscovery(t, f, sink, 50, 20)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if sink.Writes() != 0 {
			t.Errorf("got %d sink writes, expected 0", sink.Writes())
		}
		detail := report.Stats(model.KindDetail)
		if detail.Retried != 0 || detail.Fetched != 1 {
			t.Errorf("got detail stats %+v, expected one fetch without retry", detail)
		}
		if detail.ExtractionMisses != 1 {
			t.Errorf("got %d extraction misses, expected 1", detail.ExtractionMisses)
		}
		if report.TerminalFailureCount() != 0 {
			t.Error("extraction miss must not count as a terminal failure")
		}
	})

	t.Run("search page without listings is a miss", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher().add(searchURL, okPage("<html><body><p>No results for cafe</p></body></html>"))
		report, err := runDiscovery(t, f, database.NewMemorySink(), 50, 20)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if search := report.Stats(model.KindSearch); search.ExtractionMisses != 1 {
			t.Errorf("got search stats %+v", search)
		}
	})

	t.Run("sink failure stops the phase", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher().
			add(searchURL, okPage(searchPage("", "alpha", "bravo"))).
			add(bizURL("alpha"), okPage(detailPage("Alpha", ""))).
			add(bizURL("bravo"), okPage(detailPage("Bravo", "")))
		sink := &failingSink{MemorySink: database.NewMemorySink(), err: errSinkDown}

		report, err := runDiscovery(t, f, sink, 50, 20)
		if !IsFatal(err) {
			t.Fatalf("got %v, expected a fatal error", err)
		}
		if !errors.Is(err, errSinkDown) {
			t.Errorf("fatal error does not wrap the sink error: %v", err)
		}
		if !report.Cancelled || report.FatalError == "" {
			t.Errorf("report not marked: cancelled=%v fatal=%q", report.Cancelled, report.FatalError)
		}
		if len(report.Phases) != 0 {
			t.Errorf("aborted phase recorded as completed: %v", report.Phases)
		}
	})

	t.Run("id collision is fatal", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher().
			add(searchURL, okPage(searchPage("", "alpha"))).
			add(bizURL("alpha"), okPage(detailPage("Alpha", "")))
		sink := &failingSink{MemorySink: database.NewMemorySink(), err: model.ErrRecordExists}

		_, err := runDiscovery(t, f, sink, 50, 20)
		var fe *FatalError
		if !errors.As(err, &fe) {
			t.Fatalf("got %v, expected *FatalError", err)
		}
		if !errors.Is(err, model.ErrRecordExists) {
			t.Errorf("got %v, expected to wrap ErrRecordExists", err)
		}
	})
}

// TestDiscoveryPrime tests that stored businesses are not fetched again.
func TestDiscoveryPrime(t *testing.T) {
	t.Parallel()

	sink := database.NewMemorySink()
	storeWithWebsite(t, sink, "alpha", "")

	f := newFakeFetcher().
		add(searchURL, okPage(searchPage("", "alpha", "bravo"))).
		add(bizURL("bravo"), okPage(detailPage("Bravo", "")))

	report := model.NewRunReport(nil)
	phase := NewDiscovery(sink, WithDiscoveryReport(report), WithDiscoveryLogger(discardLogger()))
	fr := frontier.New()
	n, err := phase.Prime(context.Background(), fr)
	if err != nil {
		t.Fatalf("Prime failed: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d known urls, expected 1", n)
	}

	if err := newTestEngine(f, report).Run(context.Background(), fr, phase, phase.Seeds([]string{searchURL})); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.count(bizURL("alpha")) != 0 {
		t.Error("stored business was fetched again")
	}
	if sink.Len() != 2 {
		t.Errorf("got %d records, expected 2", sink.Len())
	}
}
