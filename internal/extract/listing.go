package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Default listing selectors.
const (
	DefaultCardSelector     = `[data-testid*="serp-ia-card"], .container__09f24__FeTO6`
	DefaultCardNameSelector = `h3 a[href^="/biz/"], a[href^="/biz/"] h3`
	DefaultNextPageSelector = `a[aria-label="Next"], .pagination-link-next`
)

// Candidate is one business found on a search page.
type Candidate struct {
	URL  string
	Name string
}

// ListingExtractor extracts candidates and the next-page link from search pages.
type ListingExtractor struct {
	cardSelector string
	nameSelector string
	nextSelector string
}

// ListingOption configures a ListingExtractor.
type ListingOption func(*ListingExtractor)

// WithCardSelector overrides the business card selector.
func WithCardSelector(sel string) ListingOption {
	return func(e *ListingExtractor) {
		e.cardSelector = sel
	}
}

// WithCardNameSelector overrides the selector of the name link inside a card.
func WithCardNameSelector(sel string) ListingOption {
	return func(e *ListingExtractor) {
		e.nameSelector = sel
	}
}

// WithNextPageSelector overrides the next-page link selector.
func WithNextPageSelector(sel string) ListingOption {
	return func(e *ListingExtractor) {
		e.nextSelector = sel
	}
}

// NewListingExtractor creates a ListingExtractor with the default selectors.
func NewListingExtractor(opts ...ListingOption) *ListingExtractor {
	e := &ListingExtractor{
		cardSelector: DefaultCardSelector,
		nameSelector: DefaultCardNameSelector,
		nextSelector: DefaultNextPageSelector,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractListing returns the candidates of a search page in document order
// and the absolute next-page URL, or "" when there is none.
// Links resolve against pageURL; candidates repeated on the page appear once.
func (e *ListingExtractor) ExtractListing(pageURL string, content []byte) ([]Candidate, string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}

	// Pages without recognizable cards still list businesses; search the
	// whole document in that case.
	scopes := doc.Find(e.cardSelector)
	if scopes.Length() == 0 {
		scopes = doc.Selection
	}

	var candidates []Candidate
	seen := make(map[string]struct{})
	scopes.Each(func(_ int, scope *goquery.Selection) {
		scope.Find(e.nameSelector).Each(func(_ int, nameEl *goquery.Selection) {
			href, ok := linkOf(nameEl)
			if !ok {
				return
			}
			abs := resolve(base, href)
			if abs == "" {
				return
			}
			key := model.NormalizeURL(abs)
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			candidates = append(candidates, Candidate{URL: abs, Name: collapseSpace(nameEl.Text())})
		})
	})

	next := ""
	if href, ok := doc.Find(e.nextSelector).First().Attr("href"); ok {
		next = resolve(base, href)
	}
	return candidates, next, nil
}

// linkOf returns the href of sel when it is an anchor, of its closest anchor
// ancestor, or of its first anchor descendant.
func linkOf(sel *goquery.Selection) (string, bool) {
	if goquery.NodeName(sel) == "a" {
		return sel.Attr("href")
	}
	if href, ok := sel.Closest("a").Attr("href"); ok {
		return href, true
	}
	return sel.Find("a").First().Attr("href")
}

// resolve returns href as an absolute http(s) URL relative to base.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// collapseSpace trims s and folds internal whitespace runs into one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
