package fetcher

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PageFetcher fetches one URL under a navigation policy.
// A non-nil error means no response was obtained at all; HTTP error statuses
// are reported through Result.StatusCode.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, policy NavPolicy) (*Result, error)
}

// Result describes one fetched page.
type Result struct {
	// StatusCode is the HTTP status of the final response.
	StatusCode int

	// FinalURL is the URL after redirects.
	FinalURL string

	// Content is the raw body, truncated at the fetcher's body limit.
	Content []byte

	// Header holds the response headers.
	Header http.Header

	// Truncated is true when Content hit the body limit.
	Truncated bool
}

// NavPolicy is the bag of anti-detection parameters applied to requests.
//
// The zero value sends requests with the fetcher defaults and no injected delay.
type NavPolicy struct {
	// UserAgents are rotated per request. Empty means the fetcher default.
	UserAgents []string `yaml:"userAgents,omitempty"`

	// Viewport is a "WIDTHxHEIGHT" hint sent as client-hint headers.
	Viewport string `yaml:"viewport,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Cookie is appended to the Cookie header of every request.
	Cookie string `yaml:"cookie,omitempty"`

	// MinDelay and MaxDelay bound the random pause before each navigation.
	MinDelay time.Duration `yaml:"minDelay,omitempty"`
	MaxDelay time.Duration `yaml:"maxDelay,omitempty"`

	// ProxyEnabled records whether requests leave through a proxy.
	ProxyEnabled bool `yaml:"-"`

	// ProxyCountryCode selects the exit country on rotating proxies.
	ProxyCountryCode string `yaml:"proxyCountryCode,omitempty"`
}

// UserAgent returns the user agent for the n-th request, or "" when the
// policy does not set any.
func (p NavPolicy) UserAgent(n uint64) string {
	if len(p.UserAgents) == 0 {
		return ""
	}
	return p.UserAgents[n%uint64(len(p.UserAgents))]
}

// ViewportSize parses Viewport. ok is false when it is empty or malformed.
func (p NavPolicy) ViewportSize() (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(p.Viewport)), "x")
	if !found {
		return 0, 0, false
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// apply sets the policy headers on req. n selects the rotated user agent.
func (p NavPolicy) apply(req *http.Request, n uint64, defaultUA string) {
	ua := p.UserAgent(n)
	if ua == "" {
		ua = defaultUA
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if w, h, ok := p.ViewportSize(); ok {
		req.Header.Set("Sec-CH-Viewport-Width", strconv.Itoa(w))
		req.Header.Set("Sec-CH-Viewport-Height", strconv.Itoa(h))
	}
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}
	if p.Cookie != "" {
		if existing := req.Header.Get("Cookie"); existing != "" {
			req.Header.Set("Cookie", existing+"; "+p.Cookie)
		} else {
			req.Header.Set("Cookie", p.Cookie)
		}
	}
}
