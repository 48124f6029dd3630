package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Default HTTPFetcher settings.
const (
	// DefaultNavigationTimeout bounds the wait for response headers.
	DefaultNavigationTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds the whole request including the body.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultUserAgent is sent when the policy has no user agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// maxRedirects stops redirect loops.
	maxRedirects = 10
)

// HTTPFetcher implements PageFetcher over net/http.
type HTTPFetcher struct {
	client            *http.Client
	limiter           *rate.Limiter
	requestTimeout    time.Duration
	navigationTimeout time.Duration
	maxBodySize       int64
	userAgent         string
	logger            *slog.Logger

	// requests numbers requests for user agent rotation.
	requests atomic.Uint64
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithRequestTimeout sets the overall per-request timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.requestTimeout = d
	}
}

// WithNavigationTimeout sets the time allowed until response headers arrive.
func WithNavigationTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.navigationTimeout = d
	}
}

// WithRateLimit limits requests per second across all workers.
// Zero or negative disables the limiter.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(f *HTTPFetcher) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithMaxBodySize sets the response body limit.
func WithMaxBodySize(n int64) HTTPOption {
	return func(f *HTTPFetcher) {
		f.maxBodySize = n
	}
}

// WithUserAgent sets the fallback User-Agent.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates a fetcher on top of transport.
// transport is cloned so the navigation timeout does not leak to other users;
// nil means a default transport.
func NewHTTPFetcher(transport *http.Transport, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		requestTimeout:    DefaultRequestTimeout,
		navigationTimeout: DefaultNavigationTimeout,
		maxBodySize:       DefaultMaxBodySize,
		userAgent:         DefaultUserAgent,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport) //nolint:errcheck,forcetypeassert // stdlib default is always *http.Transport
	}
	tr := transport.Clone()
	tr.ResponseHeaderTimeout = f.navigationTimeout

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options
	f.client = &http.Client{
		Transport: tr,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return f
}

// Client returns the underlying HTTP client.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// Fetch implements PageFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, policy NavPolicy) (*Result, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}

	if err := f.wait(ctx, policy); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err) //nolint:errorlint // url errors are flattened on purpose
	}
	policy.apply(req, f.requests.Add(1)-1, f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	result := &Result{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		Header:     resp.Header,
		Content:    body,
	}
	if int64(len(body)) > f.maxBodySize {
		result.Content = body[:f.maxBodySize]
		result.Truncated = true
	}

	f.logger.Debug("fetched page",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(result.Content),
	)
	return result, nil
}

// wait applies the rate limit and the navigation delay of the policy.
func (f *HTTPFetcher) wait(ctx context.Context, policy NavPolicy) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	delay := navigationDelay(policy.MinDelay, policy.MaxDelay)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// navigationDelay picks a uniform delay in [lo, hi].
func navigationDelay(lo, hi time.Duration) time.Duration {
	if hi < lo {
		hi = lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1) //nolint:gosec // jitter does not need crypto randomness
}

// checkURL rejects URLs that no retry can fix.
func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err) //nolint:errorlint // url errors are flattened on purpose
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}
	return nil
}
