package frontier

import (
	"context"
	"sync"
	"time"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Frontier is a deduplicated FIFO-per-kind work queue.
// It is safe for concurrent use.
type Frontier struct {
	mu sync.Mutex

	// queues holds pending items per kind.
	queues map[model.Kind][]model.WorkItem

	// seen is keyed by model.NormalizeURL.
	seen map[string]struct{}

	// weights controls how many items of a kind are handed out before
	// moving to the next non-empty kind.
	weights map[model.Kind]int
	cursor  int
	served  int

	maxDetail      int
	detailEnqueued int

	inFlight int
	pending  map[*time.Timer]model.WorkItem

	// cancelled collects delayed retries that never made it back into a queue
	// because the frontier was closed first.
	cancelled []model.WorkItem

	closed bool

	// wake is closed and replaced whenever the state changes so that
	// blocked Dequeue calls re-check.
	wake chan struct{}
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithMaxDetail caps the number of DETAIL items ever enqueued.
// Zero or a negative value means no cap.
func WithMaxDetail(n int) Option {
	return func(f *Frontier) {
		f.maxDetail = n
	}
}

// WithInterleave sets how many SEARCH items and then how many DETAIL items
// are handed out in turn while both kinds are queued.
func WithInterleave(search, detail int) Option {
	return func(f *Frontier) {
		f.weights[model.KindSearch] = max(search, 1)
		f.weights[model.KindDetail] = max(detail, 1)
	}
}

// New creates an empty Frontier.
func New(opts ...Option) *Frontier {
	f := &Frontier{
		queues:  make(map[model.Kind][]model.WorkItem, len(model.Kinds)),
		seen:    make(map[string]struct{}),
		weights: make(map[model.Kind]int, len(model.Kinds)),
		pending: make(map[*time.Timer]model.WorkItem),
		wake:    make(chan struct{}),
	}
	for _, k := range model.Kinds {
		f.weights[k] = 1
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enqueue adds item if its normalized URL has not been seen yet.
// It returns false when the URL is a duplicate, the frontier is closed, or
// the item is DETAIL and the DETAIL cap has been reached.
func (f *Frontier) Enqueue(item model.WorkItem) bool {
	key := model.NormalizeURL(item.URL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if _, ok := f.seen[key]; ok {
		return false
	}
	if item.Kind == model.KindDetail {
		if f.capReachedLocked() {
			return false
		}
		f.detailEnqueued++
	}

	f.seen[key] = struct{}{}
	f.queues[item.Kind] = append(f.queues[item.Kind], item)
	f.broadcastLocked()
	return true
}

// MarkSeen records urls as already visited without queueing them.
// Later Enqueue calls for these URLs return false.
func (f *Frontier) MarkSeen(urls ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range urls {
		f.seen[model.NormalizeURL(u)] = struct{}{}
	}
}

// Seen reports whether the normalized form of rawURL has been recorded.
func (f *Frontier) Seen(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[model.NormalizeURL(rawURL)]
	return ok
}

// Retry puts an already-dequeued item back after delay, bypassing dedup.
// The caller passes the item with its attempt already incremented.
// It returns false when the frontier is closed; the item then stays with
// the caller.
func (f *Frontier) Retry(item model.WorkItem, delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if delay <= 0 {
		f.queues[item.Kind] = append(f.queues[item.Kind], item)
		f.broadcastLocked()
		return true
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		// Close already moved the item to cancelled.
		if _, ok := f.pending[timer]; !ok {
			return
		}
		delete(f.pending, timer)
		f.queues[item.Kind] = append(f.queues[item.Kind], item)
		f.broadcastLocked()
	})
	f.pending[timer] = item
	return true
}

// Dequeue blocks until an item is available and returns it.
// It returns false once the frontier is exhausted (nothing queued, in
// flight or pending retry), once it is closed and drained, or when ctx is done.
// Every item returned must be released with Done.
func (f *Frontier) Dequeue(ctx context.Context) (model.WorkItem, bool) {
	for {
		f.mu.Lock()
		if item, ok := f.popLocked(); ok {
			f.inFlight++
			f.mu.Unlock()
			return item, true
		}
		if f.closed || (f.inFlight == 0 && len(f.pending) == 0) {
			f.mu.Unlock()
			return model.WorkItem{}, false
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.WorkItem{}, false
		case <-wake:
		}
	}
}

// Done releases an item returned by Dequeue.
func (f *Frontier) Done(model.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.broadcastLocked()
}

// Close stops accepting Enqueue and Retry calls and cancels delayed retries,
// including those whose timer fired but has not requeued the item yet.
// Every cancelled retry is returned by the next Cancelled call.
// Items still queued are handed out by Dequeue until the queues are empty.
// Close is idempotent.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *Frontier) closeLocked() {
	if f.closed {
		return
	}
	f.closed = true
	for timer, item := range f.pending {
		timer.Stop()
		delete(f.pending, timer)
		f.cancelled = append(f.cancelled, item)
	}
	f.broadcastLocked()
}

// Cancelled returns and clears the delayed retries dropped by Close.
func (f *Frontier) Cancelled() []model.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.cancelled
	f.cancelled = nil
	return out
}

// Closed reports whether Close has been called.
func (f *Frontier) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CapReached reports whether the DETAIL cap has been reached.
func (f *Frontier) CapReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capReachedLocked()
}

// Stats is a snapshot of the frontier state.
type Stats struct {
	Queued         map[model.Kind]int
	InFlight       int
	Pending        int
	Seen           int
	DetailEnqueued int
	Closed         bool
}

// Stats returns a snapshot of the frontier state.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	queued := make(map[model.Kind]int, len(f.queues))
	for k, q := range f.queues {
		queued[k] = len(q)
	}
	return Stats{
		Queued:         queued,
		InFlight:       f.inFlight,
		Pending:        len(f.pending),
		Seen:           len(f.seen),
		DetailEnqueued: f.detailEnqueued,
		Closed:         f.closed,
	}
}

func (f *Frontier) capReachedLocked() bool {
	return f.maxDetail > 0 && f.detailEnqueued >= f.maxDetail
}

// popLocked takes the next item by weighted round robin over model.Kinds.
// One extra turn lets the cursor wrap back to the kind it started on.
func (f *Frontier) popLocked() (model.WorkItem, bool) {
	for range len(model.Kinds) + 1 {
		kind := model.Kinds[f.cursor]
		if q := f.queues[kind]; len(q) > 0 && f.served < f.weights[kind] {
			item := q[0]
			q[0] = model.WorkItem{}
			f.queues[kind] = q[1:]
			f.served++
			return item, true
		}
		f.cursor = (f.cursor + 1) % len(model.Kinds)
		f.served = 0
	}
	return model.WorkItem{}, false
}

func (f *Frontier) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}
