package model

import "strings"

// Kind tags a WorkItem with the traversal step it belongs to.
type Kind int

const (
	// KindSearch is a paginated search-results page.
	KindSearch Kind = iota

	// KindDetail is a per-business detail page discovered from a search page.
	KindDetail

	// KindEnrichHome is the homepage of a business website.
	KindEnrichHome

	// KindEnrichPath is a contact-page candidate derived from a homepage.
	// It never spawns further candidates.
	KindEnrichPath
)

// Kinds lists every Kind in traversal order.
var Kinds = []Kind{KindSearch, KindDetail, KindEnrichHome, KindEnrichPath}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindDetail:
		return "detail"
	case KindEnrichHome:
		return "enrich_home"
	case KindEnrichPath:
		return "enrich_path"
	default:
		return "unknown"
	}
}

// ParseKind returns the Kind whose String is name, ignoring case.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.EqualFold(k.String(), strings.TrimSpace(name)) {
			return k, true
		}
	}
	return 0, false
}

// IsEnrichment reports whether the kind belongs to the enrichment phase.
func (k Kind) IsEnrichment() bool {
	return k == KindEnrichHome || k == KindEnrichPath
}

// Context keys carried by WorkItems.
const (
	// ContextBusinessID holds the ids of the records an enrichment item
	// belongs to, separated by BusinessIDSeparator. Records sharing a website
	// share one item.
	ContextBusinessID = "business_id"

	// ContextWebsite holds the website the enrichment item was derived from.
	ContextWebsite = "website"

	// ContextName holds the business name seen on the listing page.
	ContextName = "name"
)

// BusinessIDSeparator joins the ids stored under ContextBusinessID.
const BusinessIDSeparator = ","

// WorkItem is the unit of frontier work.
// The frontier owns an item until a worker dequeues it; the worker then owns
// it until it completes, is requeued for retry, or is discarded.
type WorkItem struct {
	// URL is the absolute URL to fetch.
	URL string `json:"url"`

	// Kind selects the handler that processes the fetched page.
	Kind Kind `json:"kind"`

	// Context carries parent identity (business id, website, listing name).
	// The frontier never inspects it.
	Context map[string]string `json:"context,omitempty"`

	// Attempt counts retries; the first fetch is attempt 0.
	Attempt int `json:"attempt"`
}

// NewWorkItem creates a WorkItem at attempt 0.
func NewWorkItem(url string, kind Kind, context map[string]string) WorkItem {
	return WorkItem{URL: url, Kind: kind, Context: context}
}

// Value returns the context value stored under key, or "" if absent.
func (w WorkItem) Value(key string) string {
	if w.Context == nil {
		return ""
	}
	return w.Context[key]
}

// BusinessIDs returns the record ids stored under ContextBusinessID.
func (w WorkItem) BusinessIDs() []string {
	var ids []string
	for id := range strings.SplitSeq(w.Value(ContextBusinessID), BusinessIDSeparator) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// NextAttempt returns a copy of the item with Attempt incremented.
// The context map is shared; handlers treat it as read-only.
func (w WorkItem) NextAttempt() WorkItem {
	w.Attempt++
	return w
}
