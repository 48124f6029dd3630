package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bizcrawl/internal/classify"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/frontier"
	"github.com/nao1215/bizcrawl/internal/model"
	"github.com/nao1215/bizcrawl/internal/retry"
)

// Concurrency limits of the worker pool.
const (
	DefaultConcurrency = 3
	MaxConcurrency     = 10
)

// Phase handles the pages of one crawl phase.
type Phase interface {
	// Name identifies the phase in logs and reports.
	Name() string

	// Handle processes an item whose page classified OK. Returning
	// ErrExtractionMiss drops the item quietly, returning a FatalError stops
	// the phase, and any other error is counted as a terminal failure of
	// the item alone.
	Handle(ctx context.Context, q Queue, item model.WorkItem, res *fetcher.Result) error
}

// Observer is implemented by phases that need to see every classified
// fetch, whatever its outcome.
type Observer interface {
	Observe(ctx context.Context, q Queue, item model.WorkItem, c model.Classification)
}

// Classifier classifies fetch outcomes.
type Classifier interface {
	Classify(kind model.Kind, res *fetcher.Result, err error) model.Classification
}

// Engine runs a bounded worker pool over a frontier.
type Engine struct {
	fetcher     fetcher.PageFetcher
	classifier  Classifier
	policy      retry.Policy
	nav         fetcher.NavPolicy
	concurrency int
	capturer    fetcher.Capturer
	report      *model.RunReport
	logger      *slog.Logger

	mu sync.Mutex
	// running is the frontier of the current Run, nil between runs.
	running *frontier.Frontier
	// stopped is set by Stop and cleared when Run returns.
	stopped bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency sets the worker count, clamped to [1, MaxConcurrency].
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.concurrency = min(max(n, 1), MaxConcurrency)
	}
}

// WithClassifier sets the classifier.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p retry.Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithNavPolicy sets the policy passed to every fetch.
func WithNavPolicy(p fetcher.NavPolicy) EngineOption {
	return func(e *Engine) {
		e.nav = p
	}
}

// WithCapturer enables diagnostic captures of pages that did not classify OK
// and of OK pages the phase found no data on.
func WithCapturer(c fetcher.Capturer) EngineOption {
	return func(e *Engine) {
		e.capturer = c
	}
}

// WithReport sets the report counters are written to.
func WithReport(r *model.RunReport) EngineOption {
	return func(e *Engine) {
		e.report = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine fetching with f.
func NewEngine(f fetcher.PageFetcher, opts ...EngineOption) *Engine {
	e := &Engine{
		fetcher:     f,
		classifier:  classify.New(),
		policy:      retry.DefaultPolicy(),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.report == nil {
		e.report = model.NewRunReport(nil)
	}
	return e
}

// Report returns the report the engine writes to.
func (e *Engine) Report() *model.RunReport {
	return e.report
}

// Stop signals the running phase to stop: no new fetches start, in-flight
// fetches and their handlers finish or time out on their own, and the
// frontier drains without enqueues. Run then returns nil. Stop before Run
// makes the next Run stop at once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.running != nil {
		e.running.Close()
	}
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Run enqueues seeds into fr and processes items until the frontier is
// exhausted, the engine is stopped, ctx is done or the phase returns a
// FatalError. It returns the FatalError, ctx's error, or nil.
//
// Only ctx and a FatalError cancel the context fetches and handlers run
// under. Stop never does.
func (e *Engine) Run(ctx context.Context, fr *frontier.Frontier, phase Phase, seeds []model.WorkItem) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	q := &countingQueue{fr: fr, report: e.report}
	enqueued := 0
	for _, seed := range seeds {
		if q.Enqueue(seed) {
			enqueued++
		}
	}

	e.mu.Lock()
	e.running = fr
	if e.stopped {
		fr.Close()
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = nil
		e.stopped = false
		e.mu.Unlock()
	}()

	// Cancellation closes the frontier so workers drain it.
	stopWatch := context.AfterFunc(runCtx, fr.Close)
	defer stopWatch()

	e.logger.Info("phase started",
		"phase", phase.Name(),
		"seeds", enqueued,
		"concurrency", e.concurrency,
	)
	started := time.Now()

	var fatalOnce sync.Once
	var fatalErr error
	fail := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel(err)
		})
	}

	var g errgroup.Group
	for range e.concurrency {
		g.Go(func() error {
			e.work(runCtx, fr, q, phase, fail)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	fr.Close()
	for _, item := range fr.Cancelled() {
		e.report.AddFailure(item, model.NewClassification(model.StatusTransientError, "stopped before retry"))
	}

	stats := fr.Stats()
	e.logger.Info("phase finished",
		"phase", phase.Name(),
		"duration", time.Since(started).Round(time.Millisecond),
		"seen", stats.Seen,
		"detail_enqueued", stats.DetailEnqueued,
		"terminal_failures", e.report.TerminalFailureCount(),
	)

	switch {
	case fatalErr != nil:
		e.report.MarkCancelled(fatalErr)
		return fatalErr
	case ctx.Err() != nil:
		e.report.MarkCancelled(nil)
		return ctx.Err()
	case e.isStopped():
		e.report.MarkCancelled(nil)
		return nil
	default:
		e.report.AddPhase(phase.Name())
		return nil
	}
}

// work is one worker of the pool.
func (e *Engine) work(ctx context.Context, fr *frontier.Frontier, q Queue, phase Phase, fail func(error)) {
	// Dequeue ignores cancellation: a stopping run closes the frontier, and
	// what is still queued must be drained and accounted for.
	drainCtx := context.WithoutCancel(ctx)
	for {
		item, ok := fr.Dequeue(drainCtx)
		if !ok {
			return
		}
		e.process(ctx, fr, q, phase, item, fail)
		fr.Done(item)
	}
}

// process fetches, classifies and dispatches one item.
func (e *Engine) process(ctx context.Context, fr *frontier.Frontier, q Queue, phase Phase, item model.WorkItem, fail func(error)) {
	logger := e.logger.With("url", item.URL, "kind", item.Kind.String(), "attempt", item.Attempt)

	if ctx.Err() != nil || e.isStopped() {
		e.report.Update(item.Kind, func(s *model.KindStats) { s.Abandoned++ })
		logger.Debug("discarded queued item while stopping")
		return
	}

	res, err := e.fetcher.Fetch(ctx, item.URL, e.nav)
	e.report.Update(item.Kind, func(s *model.KindStats) { s.Fetched++ })
	c := e.classifier.Classify(item.Kind, res, err)

	if obs, ok := phase.(Observer); ok {
		obs.Observe(ctx, q, item, c)
	}

	switch c.Status {
	case model.StatusOK:
		e.handle(ctx, phase, q, item, res, fail, logger)
		return

	case model.StatusEmpty:
		e.report.Update(item.Kind, func(s *model.KindStats) { s.Empty++ })
		logger.Debug("page has no expected content", "reason", c.Reason)
		e.capture(ctx, item, res, c)
		return

	case model.StatusFatalError:
		logger.Warn("giving up on page", "status", c.Status.String(), "reason", c.Reason)
		e.report.AddFailure(item, c)
		e.capture(ctx, item, res, c)
		return
	}

	// TRANSIENT_ERROR or BLOCKED.
	if c.Status == model.StatusBlocked {
		e.report.Update(item.Kind, func(s *model.KindStats) { s.Blocked++ })
	}
	e.capture(ctx, item, res, c)

	if e.policy.ShouldRetry(c.Status, item.Attempt) && ctx.Err() == nil {
		delay := e.policy.Delay(c.Status, item.Attempt)
		if fr.Retry(item.NextAttempt(), delay) {
			e.report.Update(item.Kind, func(s *model.KindStats) { s.Retried++ })
			logger.Debug("scheduled retry",
				"status", c.Status.String(),
				"reason", c.Reason,
				"delay", delay.Round(time.Millisecond),
			)
			return
		}
		c.Reason += " (retry not scheduled: stopping)"
	}

	logger.Warn("retries exhausted", "status", c.Status.String(), "reason", c.Reason)
	e.report.AddFailure(item, c)
}

// handle runs the phase handler on an OK page.
func (e *Engine) handle(ctx context.Context, phase Phase, q Queue, item model.WorkItem, res *fetcher.Result, fail func(error), logger *slog.Logger) {
	err := phase.Handle(ctx, q, item, res)
	switch {
	case err == nil:
	case errors.Is(err, ErrExtractionMiss):
		e.report.Update(item.Kind, func(s *model.KindStats) { s.ExtractionMisses++ })
		logger.Debug("no usable data on page", "error", err)
		e.capture(ctx, item, res, model.NewClassification(model.StatusOK, err.Error()))
	case IsFatal(err):
		logger.Error("fatal error, stopping phase", "phase", phase.Name(), "error", err)
		fail(err)
	default:
		logger.Warn("failed to process page", "error", err)
		e.report.AddFailure(item, model.NewClassification(model.StatusFatalError, err.Error()))
	}
}

// capture hands a failed page to the capturer, if one is configured.
func (e *Engine) capture(ctx context.Context, item model.WorkItem, res *fetcher.Result, c model.Classification) {
	if e.capturer == nil {
		return
	}
	capture := fetcher.Capture{
		URL:     item.URL,
		Kind:    item.Kind.String(),
		Attempt: item.Attempt,
		Status:  c.Status.String(),
		Reason:  c.Reason,
		At:      time.Now().UTC(),
	}
	if res != nil {
		capture.StatusCode = res.StatusCode
		capture.FinalURL = res.FinalURL
		capture.Content = res.Content
	}
	if err := e.capturer.Capture(context.WithoutCancel(ctx), capture); err != nil {
		e.logger.Warn("failed to write debug capture", "url", item.URL, "error", err)
	}
}

// countingQueue counts accepted enqueues per kind.
type countingQueue struct {
	fr     *frontier.Frontier
	report *model.RunReport
}

func (q *countingQueue) Enqueue(item model.WorkItem) bool {
	if !q.fr.Enqueue(item) {
		return false
	}
	q.report.Update(item.Kind, func(s *model.KindStats) { s.Enqueued++ })
	return true
}

func (q *countingQueue) CapReached() bool {
	return q.fr.CapReached()
}
