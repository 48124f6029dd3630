package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/bizcrawl/internal/database"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/model"
	"github.com/nao1215/bizcrawl/internal/retry"
)

// stubPhase hands OK pages to handle and counts them.
type stubPhase struct {
	handle  func(ctx context.Context, q Queue, item model.WorkItem, res *fetcher.Result) error
	handled atomic.Int64
}

func (p *stubPhase) Name() string { return "stub" }

func (p *stubPhase) Handle(ctx context.Context, q Queue, item model.WorkItem, res *fetcher.Result) error {
	p.handled.Add(1)
	if p.handle == nil {
		return nil
	}
	return p.handle(ctx, q, item, res)
}

// observingPhase records every classification it observes.
type observingPhase struct {
	stubPhase
	mu       sync.Mutex
	observed []model.Status
}

func (p *observingPhase) Observe(_ context.Context, _ Queue, _ model.WorkItem, c model.Classification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = append(p.observed, c.Status)
}

// recordingCapturer keeps every capture.
type recordingCapturer struct {
	mu       sync.Mutex
	captures []fetcher.Capture
}

func (c *recordingCapturer) Capture(_ context.Context, capture fetcher.Capture) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures = append(c.captures, capture)
	return nil
}

// slowFetcher delays every scripted answer and gives up when ctx is done,
// the way a real navigation does.
type slowFetcher struct {
	*fakeFetcher
	delay time.Duration
}

func (f *slowFetcher) Fetch(ctx context.Context, u string, nav fetcher.NavPolicy) (*fetcher.Result, error) {
	res, err := f.fakeFetcher.Fetch(ctx, u, nav)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}
	return res, err
}

func runStub(t *testing.T, f fetcher.PageFetcher, phase Phase, urls ...string) (*model.RunReport, error) {
	t.Helper()
	report := model.NewRunReport(nil)
	seeds := make([]model.WorkItem, 0, len(urls))
	for _, u := range urls {
		seeds = append(seeds, model.NewWorkItem(u, model.KindSearch, nil))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return report, newTestEngine(f, report).Run(ctx, frontier.New(), phase, seeds)
}

// TestEngineOutcomes tests how each classification is handled.
func TestEngineOutcomes(t *testing.T) {
	t.Parallel()

	const target = "https://dir.example/search?find_desc=x"
	policy := fastPolicy()

	testCases := []struct {
		name        string
		pages       []page
		fetches     int
		handled     int64
		failures    int
		retried     int
		blocked     int
		empty       int
		finalStatus model.Status
	}{
		{
			name:    "ok page is handled once",
			pages:   []page{okPage("<html><body>results</body></html>")},
			fetches: 1,
			handled: 1,
		},
		{
			name:    "transient errors retry until the page loads",
			pages:   []page{status(500), status(502), okPage("<html><body>results</body></html>")},
			fetches: 3,
			handled: 1,
			retried: 2,
		},
		{
			name:        "persistent transient error is tried max retries plus one times",
			pages:       []page{status(500)},
			fetches:     policy.MaxRetries + 1,
			failures:    1,
			retried:     policy.MaxRetries,
			finalStatus: model.StatusTransientError,
		},
		{
			name:        "network error counts as transient",
			pages:       []page{{err: errors.New("connection reset by peer")}},
			fetches:     policy.MaxRetries + 1,
			failures:    1,
			retried:     policy.MaxRetries,
			finalStatus: model.StatusTransientError,
		},
		{
			name:        "blocked page uses the smaller budget",
			pages:       []page{status(403)},
			fetches:     policy.MaxBlockedRetries + 1,
			failures:    1,
			retried:     policy.MaxBlockedRetries,
			blocked:     policy.MaxBlockedRetries + 1,
			finalStatus: model.StatusBlocked,
		},
		{
			name:    "captcha then ok",
			pages:   []page{okPage("<html><body>Please solve the CAPTCHA</body></html>"), okPage("<html><body>results</body></html>")},
			fetches: 2,
			handled: 1,
			retried: 1,
			blocked: 1,
		},
		{
			name:        "client error is not retried",
			pages:       []page{status(404)},
			fetches:     1,
			failures:    1,
			finalStatus: model.StatusFatalError,
		},
		{
			name:    "empty page is dropped",
			pages:   []page{okPage("   ")},
			fetches: 1,
			empty:   1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFakeFetcher().add(target, tc.pages...)
			phase := &stubPhase{}
			report, err := runStub(t, f, phase, target)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if got := f.count(target); got != tc.fetches {
				t.Errorf("got %d fetches, expected %d", got, tc.fetches)
			}
			if got := phase.handled.Load(); got != tc.handled {
				t.Errorf("got %d handled, expected %d", got, tc.handled)
			}
			stats := report.Stats(model.KindSearch)
			if stats.Fetched != tc.fetches {
				t.Errorf("got %d fetched, expected %d", stats.Fetched, tc.fetches)
			}
			if stats.Retried != tc.retried {
				t.Errorf("got %d retried, expected %d", stats.Retried, tc.retried)
			}
			if stats.Blocked != tc.blocked {
				t.Errorf("got %d blocked, expected %d", stats.Blocked, tc.blocked)
			}
			if stats.Empty != tc.empty {
				t.Errorf("got %d empty, expected %d", stats.Empty, tc.empty)
			}
			if stats.TerminalFailures != tc.failures || len(report.Failures) != tc.failures {
				t.Fatalf("got %d terminal failures (%d entries), expected %d",
					stats.TerminalFailures, len(report.Failures), tc.failures)
			}
			if tc.failures > 0 {
				failure := report.Failures[0]
				if failure.Status != tc.finalStatus {
					t.Errorf("got final status %s, expected %s", failure.Status, tc.finalStatus)
				}
				if failure.Attempts != tc.fetches {
					t.Errorf("got %d attempts recorded, expected %d", failure.Attempts, tc.fetches)
				}
				if failure.URL != target || failure.Kind != "search" {
					t.Errorf("got failure %+v", failure)
				}
			}
		})
	}
}

// TestEngineHandlerErrors tests containment of handler errors.
func TestEngineHandlerErrors(t *testing.T) {
	t.Parallel()

	t.Run("plain error is contained to the item", func(t *testing.T) {
		t.Parallel()

		const bad = "https://dir.example/bad"
		const good = "https://dir.example/good"
		f := newFakeFetcher().
			add(bad, okPage("<html><body>bad</body></html>")).
			add(good, okPage("<html><body>good</body></html>"))
		phase := &stubPhase{handle: func(_ context.Context, _ Queue, item model.WorkItem, _ *fetcher.Result) error {
			if item.URL == bad {
				return errors.New("unexpected layout")
			}
			return nil
		}}

		report, err := runStub(t, f, phase, bad, good)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if phase.handled.Load() != 2 {
			t.Errorf("got %d handled, expected 2", phase.handled.Load())
		}
		if report.TerminalFailureCount() != 1 {
			t.Errorf("got %d failures, expected 1", report.TerminalFailureCount())
		}
		if f.count(bad) != 1 {
			t.Error("handler error must not trigger a retry")
		}
		if report.Cancelled {
			t.Error("contained error cancelled the run")
		}
	})

	t.Run("fatal error stops queued work", func(t *testing.T) {
		t.Parallel()

		const first = "https://dir.example/first"
		f := newFakeFetcher().add(first, okPage("<html><body>first</body></html>"))
		var urls []string
		for i := range 20 {
			u := first + "?n=" + string(rune('a'+i))
			f.add(u, okPage("<html><body>more</body></html>"))
			urls = append(urls, u)
		}

		phase := &stubPhase{handle: func(_ context.Context, q Queue, item model.WorkItem, _ *fetcher.Result) error {
			if item.URL == first {
				for _, u := range urls {
					q.Enqueue(model.NewWorkItem(u, model.KindSearch, nil))
				}
				return Fatal("sink unavailable", errSinkDown)
			}
			return nil
		}}

		// One worker, so nothing else is dequeued before the handler returns.
		report := model.NewRunReport(nil)
		engine := newTestEngine(f, report, WithConcurrency(1))
		seeds := []model.WorkItem{model.NewWorkItem(first, model.KindSearch, nil)}
		err := engine.Run(context.Background(), frontier.New(), phase, seeds)
		if !errors.Is(err, errSinkDown) || !IsFatal(err) {
			t.Fatalf("got %v, expected fatal sink error", err)
		}
		if f.total() != 1 {
			t.Errorf("got %d fetches, expected only the first", f.total())
		}
		if got := report.Stats(model.KindSearch).Abandoned; got != len(urls) {
			t.Errorf("got %d abandoned, expected %d", got, len(urls))
		}
		if !strings.Contains(report.FatalError, "sink unavailable") {
			t.Errorf("got fatal error %q", report.FatalError)
		}
	})
}

// TestEngineStop tests the stop signal.
func TestEngineStop(t *testing.T) {
	t.Parallel()

	t.Run("stop before run fetches nothing", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher()
		report := model.NewRunReport(nil)
		engine := newTestEngine(f, report)
		engine.Stop()

		seeds := []model.WorkItem{
			model.NewWorkItem("https://dir.example/a", model.KindSearch, nil),
			model.NewWorkItem("https://dir.example/b", model.KindSearch, nil),
		}
		if err := engine.Run(context.Background(), frontier.New(), &stubPhase{}, seeds); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if f.total() != 0 {
			t.Errorf("got %d fetches, expected 0", f.total())
		}
		if !report.Cancelled {
			t.Error("report not marked cancelled")
		}
		if got := report.Stats(model.KindSearch).Abandoned; got != 2 {
			t.Errorf("got %d abandoned, expected 2", got)
		}
	})

	t.Run("stop during run drains without fetching", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher().
			add(searchURL, okPage(searchPage("", "alpha", "bravo", "charlie")))
		report := model.NewRunReport(nil)
		engine := newTestEngine(f, report)
		f.onFetch = func(u string, _ int) {
			if u == searchURL {
				engine.Stop()
			}
		}

		phase := NewDiscovery(newMemorySink(), WithDiscoveryReport(report), WithDiscoveryLogger(discardLogger()))
		if err := engine.Run(context.Background(), frontier.New(), phase, phase.Seeds([]string{searchURL})); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if got := report.Stats(model.KindDetail).Fetched; got != 0 {
			t.Errorf("got %d detail fetches after stop, expected 0", got)
		}
		if !report.Cancelled {
			t.Error("report not marked cancelled")
		}
		if len(report.Phases) != 0 {
			t.Errorf("stopped phase recorded as completed: %v", report.Phases)
		}
	})

	t.Run("context cancellation returns its error", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFakeFetcher().add(searchURL, okPage(searchPage("", "alpha")))
		f.onFetch = func(string, int) { cancel() }

		report := model.NewRunReport(nil)
		phase := NewDiscovery(newMemorySink(), WithDiscoveryReport(report), WithDiscoveryLogger(discardLogger()))
		err := newTestEngine(f, report).Run(ctx, frontier.New(), phase, phase.Seeds([]string{searchURL}))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, expected context.Canceled", err)
		}
		if !report.Cancelled {
			t.Error("report not marked cancelled")
		}
	})

	t.Run("pending retry becomes a terminal failure", func(t *testing.T) {
		t.Parallel()

		const target = "https://dir.example/flaky"
		f := newFakeFetcher().add(target, status(500))
		report := model.NewRunReport(nil)
		slow := retry.Policy{MaxRetries: 3, MaxBlockedRetries: 2, BaseDelay: time.Minute, MaxDelay: time.Minute}
		engine := newTestEngine(f, report, WithRetryPolicy(slow))

		go func() {
			for report.Stats(model.KindSearch).Retried == 0 {
				time.Sleep(time.Millisecond)
			}
			engine.Stop()
		}()

		seeds := []model.WorkItem{model.NewWorkItem(target, model.KindSearch, nil)}
		done := make(chan error, 1)
		go func() { done <- engine.Run(context.Background(), frontier.New(), &stubPhase{}, seeds) }()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after stop")
		}

		if f.count(target) != 1 {
			t.Errorf("got %d fetches, expected 1", f.count(target))
		}
		if len(report.Failures) != 1 {
			t.Fatalf("got %d failures, expected 1", len(report.Failures))
		}
		if report.Failures[0].Attempts != 2 {
			t.Errorf("got %d attempts, expected the dropped retry to be attempt 2", report.Failures[0].Attempts)
		}
	})
}

// TestEngineStopFinishesInFlightWork tests that a stop signal lets the
// fetch and the sink write already running complete.
func TestEngineStopFinishesInFlightWork(t *testing.T) {
	t.Parallel()

	type storingSink interface {
		Sink
		Lister
	}
	tests := []struct {
		name string
		sink func(t *testing.T) storingSink
	}{
		{
			name: "memory sink",
			sink: func(*testing.T) storingSink { return newMemorySink() },
		},
		{
			name: "sqlite sink",
			sink: func(t *testing.T) storingSink {
				t.Helper()
				db, err := database.Open(t.TempDir(), database.DefaultOptions())
				if err != nil {
					t.Fatalf("failed to open database: %v", err)
				}
				t.Cleanup(func() { _ = db.Close() })
				return db
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target := bizURL("alpha")
			f := &slowFetcher{
				fakeFetcher: newFakeFetcher().add(target, okPage(detailPage("Alpha Cafe", ""))),
				delay:       50 * time.Millisecond,
			}
			report := model.NewRunReport(nil)
			engine := newTestEngine(f, report, WithConcurrency(1))
			f.onFetch = func(string, int) { engine.Stop() }

			sink := tt.sink(t)
			phase := NewDiscovery(sink, WithDiscoveryReport(report), WithDiscoveryLogger(discardLogger()))
			seeds := []model.WorkItem{
				model.NewWorkItem(target, model.KindDetail, nil),
				model.NewWorkItem(bizURL("bravo"), model.KindDetail, nil),
			}
			if err := engine.Run(context.Background(), frontier.New(), phase, seeds); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if len(report.Failures) != 0 {
				t.Errorf("got failures %+v, expected none", report.Failures)
			}
			if report.FatalError != "" {
				t.Errorf("got fatal error %q", report.FatalError)
			}
			if !report.Cancelled {
				t.Error("report not marked cancelled")
			}
			if report.RecordsSaved != 1 {
				t.Errorf("got %d saved, expected the in-flight record", report.RecordsSaved)
			}
			records, err := sink.List(context.Background())
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(records) != 1 {
				t.Errorf("got %d stored records, expected 1", len(records))
			}
			if f.count(bizURL("bravo")) != 0 {
				t.Error("queued item fetched after stop")
			}
			if got := report.Stats(model.KindDetail).Abandoned; got != 1 {
				t.Errorf("got %d abandoned, expected 1", got)
			}
		})
	}
}

// TestEngineCaptureExtractionMiss tests that OK pages without data are captured.
func TestEngineCaptureExtractionMiss(t *testing.T) {
	t.Parallel()

	target := bizURL("nameless")
	f := newFakeFetcher().add(target, okPage("<html><body><p>nothing here</p></body></html>"))
	capturer := &recordingCapturer{}
	report := model.NewRunReport(nil)
	engine := newTestEngine(f, report, WithCapturer(capturer))
	phase := NewDiscovery(newMemorySink(), WithDiscoveryReport(report), WithDiscoveryLogger(discardLogger()))

	seeds := []model.WorkItem{model.NewWorkItem(target, model.KindDetail, nil)}
	if err := engine.Run(context.Background(), frontier.New(), phase, seeds); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := report.Stats(model.KindDetail).ExtractionMisses; got != 1 {
		t.Errorf("got %d extraction misses, expected 1", got)
	}
	capturer.mu.Lock()
	defer capturer.mu.Unlock()
	if len(capturer.captures) != 1 {
		t.Fatalf("got %d captures, expected 1", len(capturer.captures))
	}
	c := capturer.captures[0]
	if c.Status != "OK" || c.URL != target || !strings.Contains(c.Reason, "extraction miss") {
		t.Errorf("got capture %+v", c)
	}
}

// TestEngineObserverAndCapture tests the per-fetch hooks.
func TestEngineObserverAndCapture(t *testing.T) {
	t.Parallel()

	const target = "https://dir.example/search"
	f := newFakeFetcher().add(target, status(503), okPage("<html><body>results</body></html>"))
	capturer := &recordingCapturer{}
	report := model.NewRunReport(nil)
	engine := newTestEngine(f, report, WithCapturer(capturer))
	phase := &observingPhase{}

	seeds := []model.WorkItem{model.NewWorkItem(target, model.KindSearch, nil)}
	if err := engine.Run(context.Background(), frontier.New(), phase, seeds); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	phase.mu.Lock()
	observed := append([]model.Status(nil), phase.observed...)
	phase.mu.Unlock()
	if len(observed) != 2 || observed[0] != model.StatusBlocked || observed[1] != model.StatusOK {
		t.Errorf("got observed %v, expected [BLOCKED OK]", observed)
	}

	capturer.mu.Lock()
	defer capturer.mu.Unlock()
	if len(capturer.captures) != 1 {
		t.Fatalf("got %d captures, expected 1", len(capturer.captures))
	}
	c := capturer.captures[0]
	if c.Status != "BLOCKED" || c.StatusCode != 503 || c.Attempt != 0 || len(c.Content) == 0 {
		t.Errorf("got capture %+v", c)
	}
}

// TestEngineConcurrency tests that no more than the configured number of
// fetches run at once.
func TestEngineConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int64
	f := newFakeFetcher()
	f.onFetch = func(string, int) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	}

	var urls []string
	for i := range 30 {
		u := "https://dir.example/p/" + string(rune('a'+i))
		f.add(u, okPage("<html><body>page</body></html>"))
		urls = append(urls, u)
	}

	report := model.NewRunReport(nil)
	seeds := make([]model.WorkItem, 0, len(urls))
	for _, u := range urls {
		seeds = append(seeds, model.NewWorkItem(u, model.KindSearch, nil))
	}
	engine := newTestEngine(f, report, WithConcurrency(4))
	if err := engine.Run(context.Background(), frontier.New(), &stubPhase{}, seeds); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p := peak.Load(); p > 4 {
		t.Errorf("got %d concurrent fetches, expected at most 4", p)
	}
	if f.total() != len(urls) {
		t.Errorf("got %d fetches, expected %d", f.total(), len(urls))
	}
}

func TestWithConcurrencyClamp(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in, expected int
	}{
		{0, 1},
		{-3, 1},
		{5, 5},
		{50, MaxConcurrency},
	}
	for _, tc := range testCases {
		e := NewEngine(newFakeFetcher(), WithConcurrency(tc.in))
		if e.concurrency != tc.expected {
			t.Errorf("WithConcurrency(%d): got %d, expected %d", tc.in, e.concurrency, tc.expected)
		}
	}
}
