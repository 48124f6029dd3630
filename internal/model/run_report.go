package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// KindStats holds the counters of one Kind for a run.
type KindStats struct {
	Enqueued         int `json:"enqueued"`
	Fetched          int `json:"fetched"`
	Retried          int `json:"retried"`
	Blocked          int `json:"blocked"`
	Empty            int `json:"empty"`
	ExtractionMisses int `json:"extractionMisses"`
	TerminalFailures int `json:"terminalFailures"`
	Abandoned        int `json:"abandoned"`
}

// TerminalFailure records a WorkItem that was given up on.
type TerminalFailure struct {
	URL      string    `json:"url"`
	Kind     string    `json:"kind"`
	Status   Status    `json:"status"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// Summary holds the final statistics printed at the end of a run.
type Summary struct {
	TotalBusinesses int `json:"totalBusinesses"`
	WithWebsites    int `json:"withWebsites"`
	WithEmails      int `json:"withEmails"`
	WithSocialLinks int `json:"withSocialLinks"`
}

// RunReport is the user-visible result of a run: a best-effort result set
// plus a count of terminal failures per WorkItem kind.
// All mutating methods are safe for concurrent use by workers.
type RunReport struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Seeds are the search URLs the run started from.
	Seeds []string `json:"seeds"`

	// Phases lists the phases that completed, in order.
	Phases []string `json:"phases"`

	Kinds map[string]*KindStats `json:"kinds"`

	RecordsSaved    int `json:"recordsSaved"`
	RecordsEnriched int `json:"recordsEnriched"`
	Merges          int `json:"merges"`

	Failures []TerminalFailure `json:"failures,omitempty"`

	Summary Summary `json:"summary"`

	// Cancelled is true when the run was stopped by a signal or a fatal error.
	Cancelled bool `json:"cancelled"`

	// FatalError holds the message of the error that halted the run, if any.
	FatalError string `json:"fatalError,omitempty"`

	mu       sync.Mutex
	enriched map[string]struct{}
}

// NewRunReport creates an empty report with a fresh run id.
func NewRunReport(seeds []string) *RunReport {
	r := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Seeds:     append([]string(nil), seeds...),
		Kinds:     make(map[string]*KindStats, len(Kinds)),
		enriched:  make(map[string]struct{}),
	}
	for _, k := range Kinds {
		r.Kinds[k.String()] = &KindStats{}
	}
	return r
}

// Update applies fn to the counters of kind under the report lock.
func (r *RunReport) Update(kind Kind, fn func(*KindStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.Kinds[kind.String()]
	if !ok {
		stats = &KindStats{}
		r.Kinds[kind.String()] = stats
	}
	fn(stats)
}

// Stats returns a copy of the counters of kind.
func (r *RunReport) Stats(kind Kind) KindStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stats, ok := r.Kinds[kind.String()]; ok {
		return *stats
	}
	return KindStats{}
}

// AddFailure records a terminal failure and bumps the kind counter.
func (r *RunReport) AddFailure(item WorkItem, c Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, TerminalFailure{
		URL:      item.URL,
		Kind:     item.Kind.String(),
		Status:   c.Status,
		Reason:   c.Reason,
		Attempts: item.Attempt + 1,
		At:       time.Now().UTC(),
	})
	if stats, ok := r.Kinds[item.Kind.String()]; ok {
		stats.TerminalFailures++
	}
}

// AddSaved counts one inserted record.
func (r *RunReport) AddSaved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecordsSaved++
}

// AddMerge counts one merge into the record with the given id.
// RecordsEnriched counts distinct ids.
func (r *RunReport) AddMerge(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Merges++
	if r.enriched == nil {
		r.enriched = make(map[string]struct{})
	}
	if _, ok := r.enriched[id]; !ok {
		r.enriched[id] = struct{}{}
		r.RecordsEnriched++
	}
}

// AddPhase records a completed phase.
func (r *RunReport) AddPhase(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phases = append(r.Phases, name)
}

// TerminalFailureCount returns the total number of terminal failures.
func (r *RunReport) TerminalFailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, stats := range r.Kinds {
		total += stats.TerminalFailures
	}
	return total
}

// Finish stamps FinishedAt and computes the summary from the stored records.
func (r *RunReport) Finish(records []*BusinessRecord) {
	summary := Summary{TotalBusinesses: len(records)}
	for _, rec := range records {
		if rec.HasWebsite() {
			summary.WithWebsites++
		}
		if rec.Emails.Len() > 0 {
			summary.WithEmails++
		}
		if rec.SocialLinks.Len() > 0 {
			summary.WithSocialLinks++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Summary = summary
	r.FinishedAt = time.Now().UTC()
}

// Duration returns the wall-clock time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MarkCancelled flags the run as halted early. A non-nil err is recorded as
// the fatal error unless one is already set.
func (r *RunReport) MarkCancelled(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancelled = true
	if err != nil && r.FatalError == "" {
		r.FatalError = err.Error()
	}
}
