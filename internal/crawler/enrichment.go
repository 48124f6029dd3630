package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nao1215/bizcrawl/internal/extract"
	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/model"
)

// DefaultContactPaths are the contact-page candidates tried on every website.
var DefaultContactPaths = []string{"/contact", "/about", "/contact-us", "/about-us"}

// ContactParser extracts contacts from a website page.
type ContactParser interface {
	ExtractContacts(content []byte) model.ContactFragment
}

// Merger folds contact fragments into stored records.
type Merger interface {
	Apply(ctx context.Context, id string, fragment model.ContactFragment) (*model.BusinessRecord, bool, error)
}

// Enrichment is the phase that crawls business websites for contacts.
type Enrichment struct {
	sink    Sink
	merger  Merger
	paths   []string
	prober  fetcher.Prober
	probe   bool
	nav     fetcher.NavPolicy
	contact ContactParser
	report  *model.RunReport
	logger  *slog.Logger
}

// EnrichmentOption configures an Enrichment phase.
type EnrichmentOption func(*Enrichment)

// WithContactPaths sets the paths tried below each website origin.
func WithContactPaths(paths ...string) EnrichmentOption {
	return func(e *Enrichment) {
		e.paths = append([]string(nil), paths...)
	}
}

// WithProber enables existence checks of contact paths before they are
// enqueued. A nil prober disables them.
func WithProber(p fetcher.Prober) EnrichmentOption {
	return func(e *Enrichment) {
		e.prober = p
		e.probe = p != nil
	}
}

// WithProbeNavPolicy sets the policy sent with probe requests.
func WithProbeNavPolicy(p fetcher.NavPolicy) EnrichmentOption {
	return func(e *Enrichment) {
		e.nav = p
	}
}

// WithContactParser overrides the contact extractor.
func WithContactParser(p ContactParser) EnrichmentOption {
	return func(e *Enrichment) {
		e.contact = p
	}
}

// WithEnrichmentReport sets the report merges are counted in.
func WithEnrichmentReport(r *model.RunReport) EnrichmentOption {
	return func(e *Enrichment) {
		e.report = r
	}
}

// WithEnrichmentLogger sets the logger.
func WithEnrichmentLogger(logger *slog.Logger) EnrichmentOption {
	return func(e *Enrichment) {
		e.logger = logger
	}
}

// NewEnrichment creates the enrichment phase reading seeds from sink and
// merging contacts through merger.
func NewEnrichment(sink Sink, merger Merger, opts ...EnrichmentOption) *Enrichment {
	e := &Enrichment{
		sink:    sink,
		merger:  merger,
		paths:   DefaultContactPaths,
		contact: extract.NewContactExtractor(extract.DefaultPhoneRegion),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.report == nil {
		e.report = model.NewRunReport(nil)
	}
	return e
}

// Name implements Phase.
func (e *Enrichment) Name() string {
	return "enrichment"
}

// Seeds returns one ENRICH_HOME item per distinct stored website. Records
// sharing a website are carried by the same item and all receive its contacts.
func (e *Enrichment) Seeds(ctx context.Context) ([]model.WorkItem, error) {
	records, err := e.sink.ListWithWebsite(ctx)
	if err != nil {
		return nil, Fatal("list records with website", err)
	}
	items := make([]model.WorkItem, 0, len(records))
	byWebsite := make(map[string]int, len(records))
	for _, rec := range records {
		website := withScheme(rec.WebsiteURL())
		if website == "" {
			continue
		}
		key := model.NormalizeURL(website)
		if i, ok := byWebsite[key]; ok {
			ids := items[i].Context[model.ContextBusinessID]
			items[i].Context[model.ContextBusinessID] = ids + model.BusinessIDSeparator + rec.ID
			e.logger.Debug("website shared by several businesses", "website", website, "ids", items[i].Context[model.ContextBusinessID])
			continue
		}
		byWebsite[key] = len(items)
		items = append(items, model.NewWorkItem(website, model.KindEnrichHome, map[string]string{
			model.ContextBusinessID: rec.ID,
			model.ContextWebsite:    website,
			model.ContextName:       rec.DisplayName(),
		}))
	}
	return items, nil
}

// Observe implements Observer. The first processing of a homepage spawns the
// contact-path candidates, whether or not the homepage itself was fetched.
func (e *Enrichment) Observe(ctx context.Context, q Queue, item model.WorkItem, _ model.Classification) {
	if item.Kind != model.KindEnrichHome || item.Attempt != 0 {
		return
	}
	origin, err := model.Origin(item.URL)
	if err != nil {
		e.logger.Warn("cannot derive contact pages", "url", item.URL, "error", err)
		return
	}
	for _, path := range e.paths {
		path = strings.TrimSpace(path)
		if path == "" || path == "/" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		candidate := origin + path
		if !e.exists(ctx, candidate) {
			continue
		}
		q.Enqueue(model.NewWorkItem(candidate, model.KindEnrichPath, item.Context))
	}
}

// exists probes candidate when probing is enabled.
func (e *Enrichment) exists(ctx context.Context, candidate string) bool {
	if !e.probe || e.prober == nil {
		return true
	}
	ok, err := e.prober.Probe(ctx, candidate, e.nav)
	switch {
	case errors.Is(err, fetcher.ErrProbeUnavailable):
		return true
	case err != nil:
		e.logger.Debug("contact page probe failed", "url", candidate, "error", err)
		return false
	case !ok:
		e.logger.Debug("contact page does not exist", "url", candidate)
		return false
	default:
		return true
	}
}

// Handle implements Phase.
func (e *Enrichment) Handle(ctx context.Context, _ Queue, item model.WorkItem, res *fetcher.Result) error {
	if !item.Kind.IsEnrichment() {
		return fmt.Errorf("enrichment cannot handle %s items", item.Kind)
	}
	ids := item.BusinessIDs()
	if len(ids) == 0 {
		return ErrMissingBusinessID
	}

	fragment := e.contact.ExtractContacts(res.Content)
	if fragment.IsEmpty() {
		return fmt.Errorf("%w: no contacts on page", ErrExtractionMiss)
	}

	var missing []error
	for _, id := range ids {
		_, changed, err := e.merger.Apply(ctx, id, fragment)
		if err != nil {
			if errors.Is(err, model.ErrRecordNotFound) {
				missing = append(missing, fmt.Errorf("merge contacts from %s: %w", item.URL, err))
				continue
			}
			return Fatal("merge "+id, err)
		}
		if changed {
			e.report.AddMerge(id)
		}
		e.logger.Debug("contacts merged",
			"id", id,
			"url", item.URL,
			"emails", fragment.Emails.Len(),
			"phones", fragment.Phones.Len(),
			"social", fragment.SocialLinks.Len(),
			"changed", changed,
		)
	}
	return errors.Join(missing...)
}

// withScheme adds https:// to a website stored without a scheme.
func withScheme(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(website), "http") {
		return "https://" + website
	}
	return website
}
