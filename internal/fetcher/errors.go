package fetcher

import "errors"

// Fetch errors that can never succeed on retry.
var (
	// ErrInvalidURL is returned when the target URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnsupportedScheme is returned for URLs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// ErrProbeUnavailable is returned by a Prober that cannot check existence at
// all, for example when HEAD is refused by an intermediary. Callers treat it
// as "unknown" and fetch anyway.
var ErrProbeUnavailable = errors.New("probe unavailable")
