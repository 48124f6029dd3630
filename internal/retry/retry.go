// Package retry decides whether a failed fetch is retried and how long to wait.
//
// Backoff is a property of retry scheduling: the engine hands the delay to
// the frontier, which requeues the item later. It is independent of any
// navigation delay the fetcher injects.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Default policy values.
const (
	DefaultMaxRetries        = 3
	DefaultMaxBlockedRetries = 2
	DefaultBaseDelay         = 1 * time.Second
	DefaultBlockedBaseDelay  = 10 * time.Second
	DefaultMaxDelay          = 30 * time.Second

	// blockedCapFactor scales MaxDelay for BLOCKED backoff.
	blockedCapFactor = 10
)

// Policy is the retry policy of a crawl phase.
type Policy struct {
	// MaxRetries bounds retries of TRANSIENT_ERROR outcomes. An item is
	// attempted at most MaxRetries+1 times.
	MaxRetries int

	// MaxBlockedRetries bounds retries of BLOCKED outcomes.
	// The effective budget is min(MaxBlockedRetries, MaxRetries).
	MaxBlockedRetries int

	// BaseDelay is the first TRANSIENT_ERROR backoff.
	BaseDelay time.Duration

	// BlockedBaseDelay is the first BLOCKED backoff.
	BlockedBaseDelay time.Duration

	// MaxDelay caps TRANSIENT_ERROR backoff. BLOCKED backoff is capped at
	// ten times this value.
	MaxDelay time.Duration

	// rand returns a value in [0,1). nil means math/rand/v2.
	rand func() float64
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        DefaultMaxRetries,
		MaxBlockedRetries: DefaultMaxBlockedRetries,
		BaseDelay:         DefaultBaseDelay,
		BlockedBaseDelay:  DefaultBlockedBaseDelay,
		MaxDelay:          DefaultMaxDelay,
	}
}

// WithRand returns a copy of p that draws jitter from fn.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// ShouldRetry reports whether an item that classified as status on attempt
// (zero-based) gets another attempt.
func (p Policy) ShouldRetry(status model.Status, attempt int) bool {
	switch status {
	case model.StatusTransientError:
		return attempt < p.MaxRetries
	case model.StatusBlocked:
		return attempt < min(p.MaxBlockedRetries, p.MaxRetries)
	default:
		return false
	}
}

// Delay returns the backoff before retrying an item that classified as
// status on attempt. It uses equal jitter: with exp = min(base*2^attempt, cap)
// the delay lies in [exp/2, exp]. BLOCKED uses a base and cap ten times larger
// than TRANSIENT_ERROR, so its smallest delay exceeds the largest
// TRANSIENT_ERROR delay of the same attempt.
func (p Policy) Delay(status model.Status, attempt int) time.Duration {
	base, ceiling := p.bounds(status)
	exp := backoff(base, ceiling, attempt)
	half := exp / 2
	return half + time.Duration(p.random()*float64(exp-half))
}

// MaxDelayFor returns the largest delay Delay can return for status and attempt.
func (p Policy) MaxDelayFor(status model.Status, attempt int) time.Duration {
	base, ceiling := p.bounds(status)
	return backoff(base, ceiling, attempt)
}

// MinDelayFor returns the smallest delay Delay can return for status and attempt.
func (p Policy) MinDelayFor(status model.Status, attempt int) time.Duration {
	return p.MaxDelayFor(status, attempt) / 2
}

func (p Policy) bounds(status model.Status) (base, ceiling time.Duration) {
	base, ceiling = p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if ceiling < base {
		ceiling = base
	}
	if status != model.StatusBlocked {
		return base, ceiling
	}

	blockedBase := p.BlockedBaseDelay
	if blockedBase < base*blockedCapFactor {
		blockedBase = base * blockedCapFactor
	}
	return blockedBase, max(ceiling*blockedCapFactor, blockedBase)
}

func (p Policy) random() float64 {
	if p.rand != nil {
		return p.rand()
	}
	return rand.Float64() //nolint:gosec // jitter does not need crypto randomness
}

// backoff computes min(base*2^attempt, ceiling) without overflowing.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}
