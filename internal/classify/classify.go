// Package classify assigns a single taxonomy to every fetch outcome.
//
// The Classifier is pure and synchronous: it looks at the fetch error, the
// HTTP status and the page content, and returns a model.Classification
// without side effects.
package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/model"
)

// blockSignals are matched case-insensitively against page content.
var blockSignals = []string{
	"captcha",
	"unusual traffic",
	"verify you are human",
}

// blockTitlePattern matches titles of interstitial block pages.
var blockTitlePattern = regexp.MustCompile(`(?i)(access denied|attention required|are you a robot|just a moment|blocked|security check)`)

// titleScanLimit bounds how far into a page the title is searched for.
const titleScanLimit = 64 * 1024

// Classifier turns fetch outcomes into classifications.
// The zero value classifies without content markers.
type Classifier struct {
	// markers maps a kind to substrings of which at least one must be present
	// in an OK page. Kinds without markers only require a non-empty body.
	markers map[model.Kind][][]byte
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithContentMarkers sets the expected content markers of kind.
// Markers are matched case-insensitively.
func WithContentMarkers(kind model.Kind, markers ...string) Option {
	return func(c *Classifier) {
		lowered := make([][]byte, 0, len(markers))
		for _, m := range markers {
			if m = strings.TrimSpace(m); m != "" {
				lowered = append(lowered, []byte(strings.ToLower(m)))
			}
		}
		if len(lowered) == 0 {
			delete(c.markers, kind)
			return
		}
		c.markers[kind] = lowered
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{markers: make(map[model.Kind][][]byte)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the classification of one fetch of a kind item.
func (c *Classifier) Classify(kind model.Kind, result *fetcher.Result, err error) model.Classification {
	if err != nil {
		return classifyError(err)
	}
	if result == nil {
		return model.NewClassification(model.StatusTransientError, "no response")
	}

	switch code := result.StatusCode; {
	case code == 403 || code == 503 || code == 429:
		return model.NewClassification(model.StatusBlocked, fmt.Sprintf("http status %d", code))
	case code >= 500:
		return model.NewClassification(model.StatusTransientError, fmt.Sprintf("http status %d", code))
	case code >= 400:
		return model.NewClassification(model.StatusFatalError, fmt.Sprintf("client error: http status %d", code))
	}

	lowered := bytes.ToLower(result.Content)
	for _, signal := range blockSignals {
		if bytes.Contains(lowered, []byte(signal)) {
			return model.NewClassification(model.StatusBlocked, "block signal: "+signal)
		}
	}
	if title := pageTitle(result.Content); title != "" && blockTitlePattern.MatchString(title) {
		return model.NewClassification(model.StatusBlocked, "block title: "+title)
	}

	if len(bytes.TrimSpace(result.Content)) == 0 {
		return model.NewClassification(model.StatusEmpty, "empty body")
	}
	if markers, ok := c.markers[kind]; ok && !containsAny(lowered, markers) {
		return model.NewClassification(model.StatusEmpty, "expected content markers absent")
	}

	return model.NewClassification(model.StatusOK, "")
}

// classifyError separates permanent fetch failures from transient ones.
// Only failures confirmed permanent are fatal; everything else, including
// timeouts and cancellation, is transient.
func classifyError(err error) model.Classification {
	if errors.Is(err, fetcher.ErrInvalidURL) || errors.Is(err, fetcher.ErrUnsupportedScheme) {
		return model.NewClassification(model.StatusFatalError, err.Error())
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return model.NewClassification(model.StatusFatalError, "dns: no such host "+dnsErr.Name)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return model.NewClassification(model.StatusFatalError, err.Error())
	}

	switch {
	case errors.Is(err, context.Canceled):
		return model.NewClassification(model.StatusTransientError, "cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewClassification(model.StatusTransientError, "timeout")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewClassification(model.StatusTransientError, "timeout")
	}
	return model.NewClassification(model.StatusTransientError, err.Error())
}

// pageTitle returns the text of the first <title> element.
func pageTitle(content []byte) string {
	if len(content) > titleScanLimit {
		content = content[:titleScanLimit]
	}
	z := html.NewTokenizer(bytes.NewReader(content))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}

func containsAny(content []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(content, m) {
			return true
		}
	}
	return false
}
