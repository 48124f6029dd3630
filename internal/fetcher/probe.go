package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds one existence check.
const DefaultProbeTimeout = 5 * time.Second

// Prober checks cheaply whether a page exists before it is fetched.
type Prober interface {
	// Probe returns true when the page exists. ErrProbeUnavailable means the
	// check could not be made at all.
	Probe(ctx context.Context, url string, policy NavPolicy) (bool, error)
}

// HTTPProber sends HEAD requests and reports existence on status 200.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber creates a prober using client. nil means http.DefaultClient.
func NewHTTPProber(client *http.Client, timeout time.Duration) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{client: client, timeout: timeout}
}

// Probe implements Prober.
// A server that rejects HEAD with 405 or 501 keeps no useful answer, so the
// prober reports ErrProbeUnavailable and the caller fetches the page anyway.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string, policy NavPolicy) (bool, error) {
	if err := checkURL(rawURL); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidURL, err) //nolint:errorlint // url errors are flattened on purpose
	}
	policy.apply(req, 0, DefaultUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return false, ErrProbeUnavailable
	default:
		return false, nil
	}
}
